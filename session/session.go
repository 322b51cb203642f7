package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agenttrace/core"
	"github.com/hupe1980/agenttrace/logging"
)

// ErrNotAwaitingInput is returned by BeginTurn when the session is not in a
// state that accepts a user message.
var ErrNotAwaitingInput = errors.New("session is not awaiting input")

// Options configures a Session.
type Options struct {
	// Logger receives transition and anomaly diagnostics.
	Logger logging.Logger
	// Now supplies timestamps. Test seam.
	Now func() time.Time
	// OnTransition observes every status change.
	OnTransition func(from, to Status, reason string)
}

// Session is the authoritative state for one visualization session. All
// methods are safe for concurrent use; event application is serialized by
// the caller (the engine applies merged events in order).
type Session struct {
	opts Options

	mu           sync.RWMutex
	workflowID   string
	traceID      string
	status       Status
	statusDetail string
	turn         int
	entryNodeID  string
	entryAgent   string
	entryStopped bool
	sawTerminal  bool
	activeAgent  string
	messages     []core.ChatMessage
	startedAt    time.Time
	updatedAt    time.Time
}

// Snapshot is a deep, immutable copy of the session at one instant.
type Snapshot struct {
	WorkflowID   string
	TraceID      string
	Status       Status
	StatusDetail string
	Turn         int
	EntryAgent   string
	ActiveAgent  string
	Messages     []core.ChatMessage
	StartedAt    time.Time
	UpdatedAt    time.Time
}

// New constructs a fresh session with a new workflow identity, in running
// state before its first turn.
func New(optFns ...func(o *Options)) *Session {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Now:    time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Session{opts: opts}
	s.resetLocked()
	return s
}

// WorkflowID returns the current workflow identifier.
func (s *Session) WorkflowID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workflowID
}

// TraceID returns the current trace identifier.
func (s *Session) TraceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.traceID
}

// Status returns the current lifecycle status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Turn returns the number of turns started so far.
func (s *Session) Turn() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.turn
}

// Snapshot returns a deep copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := make([]core.ChatMessage, len(s.messages))
	for i, m := range s.messages {
		msgs[i] = m.Clone()
	}
	return Snapshot{
		WorkflowID:   s.workflowID,
		TraceID:      s.traceID,
		Status:       s.status,
		StatusDetail: s.statusDetail,
		Turn:         s.turn,
		EntryAgent:   s.entryAgent,
		ActiveAgent:  s.activeAgent,
		Messages:     msgs,
		StartedAt:    s.startedAt,
		UpdatedAt:    s.updatedAt,
	}
}

// BeginTurn starts a user turn: it appends the user's message to the direct
// channel, bumps the turn counter and returns the turn number together with
// the cross-turn context payload for the orchestrator. The context carries
// the full direct-channel transcript including the new message; internal
// agent collaboration never leaks into it. The first turn is allowed from
// the fresh running state, later turns only from partial.
func (s *Session) BeginTurn(text string) (int, core.ConversationContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := s.turn == 0 && s.status == StatusRunning
	if !fresh && !s.status.AcceptsInput() {
		return 0, core.ConversationContext{}, fmt.Errorf("%w: status %s", ErrNotAwaitingInput, s.status)
	}

	if s.status != StatusRunning {
		s.transitionLocked(StatusRunning, "user turn started")
	}
	s.turn++
	s.entryStopped = false
	s.sawTerminal = false
	s.activeAgent = ""
	s.statusDetail = ""

	now := s.opts.Now()
	s.messages = append(s.messages, core.ChatMessage{
		ID:        core.NewID(),
		Role:      core.RoleUser,
		Content:   text,
		Channel:   core.ChannelDirect,
		Timestamp: now,
	})
	s.updatedAt = now

	return s.turn, s.contextLocked(), nil
}

// Reset discards everything and mints a fresh workflow identity. Allowed
// from any state.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.workflowID
	s.resetLocked()
	s.opts.Logger.Info("session reset", "old_workflow_id", old, "workflow_id", s.workflowID)
}

func (s *Session) resetLocked() {
	now := s.opts.Now()
	s.workflowID = core.NewWorkflowID()
	s.traceID = core.NewTraceID()
	s.status = StatusRunning
	s.statusDetail = ""
	s.turn = 0
	s.entryNodeID = ""
	s.entryAgent = ""
	s.entryStopped = false
	s.sawTerminal = false
	s.activeAgent = ""
	s.messages = nil
	s.startedAt = now
	s.updatedAt = now
}

// Apply folds one merged event into the lifecycle state. It is total over
// the event union: variants without lifecycle meaning fall through to a
// timestamp touch. Message content is not Apply's concern; the router owns
// that through the sink methods.
func (s *Session) Apply(ev core.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case core.NodeStart:
		s.activeAgent = e.NodeName
		if e.IsEntry() {
			if s.entryNodeID == "" {
				s.entryNodeID = e.NodeID
				s.entryAgent = e.NodeName
			}
			if e.NodeID == s.entryNodeID {
				s.entryStopped = false
			}
		}
	case core.NodeStop:
		if e.NodeID == s.entryNodeID {
			s.entryStopped = true
		}
		if s.activeAgent == e.NodeName {
			s.activeAgent = ""
		}
	case core.ParallelNodeStart:
		if len(e.NodeNames) > 0 {
			s.activeAgent = e.NodeNames[0]
		}
	case core.WorkflowComplete:
		s.sawTerminal = true
		s.activeAgent = ""
		s.finalizeAllStreamingLocked()
		s.transitionLocked(StatusComplete, fmt.Sprintf("completed by %s", e.FinalAgent))
	case core.WorkflowError:
		s.sawTerminal = true
		s.activeAgent = ""
		s.finalizeAllStreamingLocked()
		detail := e.Error
		if e.Interrupted() {
			detail = "interrupted"
			if e.Error != "" {
				detail = "interrupted: " + e.Error
			}
		}
		s.transitionLocked(StatusError, detail)
	case core.StreamEnd:
		s.quiesceLocked(e)
	}

	s.updatedAt = s.opts.Now()
}

// quiesceLocked handles the end of a turn's local stream. With no terminal
// event seen, the session becomes partial: the entry agent stopping is the
// normal way a turn pauses for user input, anything else is an orchestrator
// anomaly that still leaves the session re-promptable.
func (s *Session) quiesceLocked(e core.StreamEnd) {
	if s.status != StatusRunning {
		return
	}
	if s.sawTerminal {
		return
	}
	s.finalizeAllStreamingLocked()
	if s.entryStopped {
		s.transitionLocked(StatusPartial, "entry agent stopped without terminal event")
		return
	}
	s.opts.Logger.Warn("stream ended without entry stop or terminal event",
		"workflow_id", s.workflowID, "turn", s.turn, "exit_code", e.ExitCode)
	s.transitionLocked(StatusPartial, "stream ended without terminal event")
}

func (s *Session) transitionLocked(to Status, reason string) {
	from := s.status
	if from == to {
		return
	}
	if !legalTransition(from, to) {
		s.opts.Logger.Warn("ignoring illegal status transition",
			"from", string(from), "to", string(to), "reason", reason)
		return
	}
	s.status = to
	s.statusDetail = reason
	s.opts.Logger.Info("session status changed",
		"workflow_id", s.workflowID, "from", string(from), "to", string(to), "reason", reason)
	if s.opts.OnTransition != nil {
		s.opts.OnTransition(from, to, reason)
	}
}

// contextLocked builds the cross-turn payload from direct-channel messages.
func (s *Session) contextLocked() core.ConversationContext {
	cctx := core.ConversationContext{EntryAgent: s.entryAgent}
	for _, m := range s.messages {
		if m.Channel != core.ChannelDirect {
			continue
		}
		role := core.TurnRoleEntryAgent
		if m.Role == core.RoleUser {
			role = core.TurnRoleHuman
		}
		if m.Content == "" {
			continue
		}
		cctx.Turns = append(cctx.Turns, core.Turn{Role: role, Content: m.Content})
	}
	return cctx
}
