package core

import "time"

// Channel separates the user-facing conversation from agent-to-agent
// collaboration. A message's channel is fixed at creation and never changes.
type Channel string

const (
	// ChannelDirect carries the exchange between the user and the entry agent.
	ChannelDirect Channel = "direct"
	// ChannelInternal carries handoffs and downstream agent activity.
	ChannelInternal Channel = "internal"
)

// Role identifies who authored a chat message.
type Role string

const (
	// RoleUser marks messages typed by the user.
	RoleUser Role = "user"
	// RoleAgent marks messages produced by an agent.
	RoleAgent Role = "agent"
)

// MessageToolCall is the per-message view of a tool invocation surfaced while
// the owning agent was active.
type MessageToolCall struct {
	ID         string `json:"id"`
	ToolName   string `json:"tool_name"`
	System     string `json:"system,omitempty"`
	Operation  string `json:"operation,omitempty"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ChatMessage is one entry in a session transcript. Exclusively owned by the
// session: appended by the router, mutated in place only while IsStreaming is
// true, frozen on finalize.
type ChatMessage struct {
	ID          string            `json:"id"`
	Role        Role              `json:"role"`
	AgentName   string            `json:"agent_name,omitempty"`
	Content     string            `json:"content"`
	Channel     Channel           `json:"channel"`
	Timestamp   time.Time         `json:"timestamp"`
	IsStreaming bool              `json:"is_streaming,omitempty"`
	ToolCalls   []MessageToolCall `json:"tool_calls,omitempty"`
}

// Clone returns a deep copy safe for independent mutation.
func (m ChatMessage) Clone() ChatMessage {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = make([]MessageToolCall, len(m.ToolCalls))
		copy(out.ToolCalls, m.ToolCalls)
	}
	return out
}
