package session

import (
	"strings"

	"github.com/hupe1980/agenttrace/core"
)

// Sink methods: the router's write surface. The session enforces the message
// invariants here (at most one streaming message per channel, streaming
// content mutated in place, frozen on finalize) so no caller can corrupt the
// transcript.

// BeginStreaming appends a streaming message for agentName to channel. An
// already-streaming message in the channel is finalized first; overlapping
// streams within one channel indicate an orchestrator anomaly.
func (s *Session) BeginStreaming(channel core.Channel, agentName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.streamingIndexLocked(channel); i >= 0 {
		s.opts.Logger.Warn("finalizing overlapping streaming message",
			"channel", string(channel), "agent", s.messages[i].AgentName, "next_agent", agentName)
		s.messages[i].IsStreaming = false
	}

	s.messages = append(s.messages, core.ChatMessage{
		ID:          core.NewID(),
		Role:        core.RoleAgent,
		AgentName:   agentName,
		Channel:     channel,
		Timestamp:   s.opts.Now(),
		IsStreaming: true,
	})
	s.updatedAt = s.opts.Now()
}

// AppendToken appends a text fragment to channel's streaming message when it
// belongs to agentName. Fragments without a matching target are dropped;
// they belong to a message that was already finalized or never began.
func (s *Session) AppendToken(channel core.Channel, agentName, text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.streamingIndexLocked(channel)
	if i < 0 || !strings.EqualFold(s.messages[i].AgentName, agentName) {
		s.opts.Logger.Debug("dropping unroutable token fragment",
			"channel", string(channel), "agent", agentName)
		return
	}
	s.messages[i].Content += text
	s.updatedAt = s.opts.Now()
}

// FinalizeStreaming freezes channel's streaming message when it belongs to
// agentName. A non-empty finalText replaces the accumulated fragments: the
// stop event's response is authoritative over streamed output.
func (s *Session) FinalizeStreaming(channel core.Channel, agentName, finalText string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.streamingIndexLocked(channel)
	if i < 0 || !strings.EqualFold(s.messages[i].AgentName, agentName) {
		return
	}
	if finalText != "" {
		s.messages[i].Content = finalText
	}
	s.messages[i].IsStreaming = false
	s.updatedAt = s.opts.Now()
}

// AppendMarker appends a completed (non-streaming) agent message, used for
// handoff and fan-out annotations.
func (s *Session) AppendMarker(channel core.Channel, agentName, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, core.ChatMessage{
		ID:        core.NewID(),
		Role:      core.RoleAgent,
		AgentName: agentName,
		Content:   text,
		Channel:   channel,
		Timestamp: s.opts.Now(),
	})
	s.updatedAt = s.opts.Now()
}

// UpsertToolCall attaches tc to agentName's most recent message, or updates
// the entry with the same id (a result landing on its call). Tool activity
// arriving before the agent has any message gets a fresh internal message to
// hang off, so remote telemetry is never dropped.
func (s *Session) UpsertToolCall(agentName string, tc core.MessageToolCall) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.lastMessageByAgentLocked(agentName)
	if i < 0 {
		s.messages = append(s.messages, core.ChatMessage{
			ID:        core.NewID(),
			Role:      core.RoleAgent,
			AgentName: agentName,
			Channel:   core.ChannelInternal,
			Timestamp: s.opts.Now(),
		})
		i = len(s.messages) - 1
	}

	msg := &s.messages[i]
	for j := range msg.ToolCalls {
		if msg.ToolCalls[j].ID == tc.ID {
			existing := &msg.ToolCalls[j]
			existing.Status = tc.Status
			if tc.DurationMS != 0 {
				existing.DurationMS = tc.DurationMS
			}
			if tc.Error != "" {
				existing.Error = tc.Error
			}
			s.updatedAt = s.opts.Now()
			return
		}
	}
	msg.ToolCalls = append(msg.ToolCalls, tc)
	s.updatedAt = s.opts.Now()
}

func (s *Session) streamingIndexLocked(channel core.Channel) int {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Channel == channel && s.messages[i].IsStreaming {
			return i
		}
	}
	return -1
}

func (s *Session) lastMessageByAgentLocked(agentName string) int {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if strings.EqualFold(s.messages[i].AgentName, agentName) {
			return i
		}
	}
	return -1
}

func (s *Session) finalizeAllStreamingLocked() {
	for i := range s.messages {
		s.messages[i].IsStreaming = false
	}
}
