package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType is the explicit discriminator tag carried by every event. Wire
// values match the orchestrator's stdout contract for local events; remote
// variants use stable names assigned during store-record conversion.
type EventType string

const (
	// EventGraphStructure is the one-shot topology dump emitted before the
	// first node starts. Internal-only: consumed for the graph snapshot,
	// never surfaced in the merged log.
	EventGraphStructure EventType = "graph_structure"
	// EventNodeStart marks an agent beginning work, optionally handed off
	// from a previous agent.
	EventNodeStart EventType = "node_start"
	// EventNodeStop marks an agent finishing, successfully or not.
	EventNodeStop EventType = "node_stop"
	// EventParallelNodeStart marks a fan-out to several agents at once.
	EventParallelNodeStart EventType = "parallel_node_start"
	// EventParallelNodeStop marks one branch of a fan-out completing.
	EventParallelNodeStop EventType = "parallel_node_stop"
	// EventConvergenceReady signals that all fan-out branches finished and a
	// convergence agent may proceed.
	EventConvergenceReady EventType = "convergence_ready"
	// EventRouterDecision records a routing-model decision about the next agent.
	EventRouterDecision EventType = "router_decision"
	// EventTokenDelta is a streaming text fragment for the active agent.
	// Internal-only: routed to the live message, never into the merged log.
	EventTokenDelta EventType = "token_delta"
	// EventWorkflowComplete is the terminal success event.
	EventWorkflowComplete EventType = "workflow_complete"
	// EventWorkflowError is the terminal failure (or interruption) event.
	EventWorkflowError EventType = "workflow_error"

	// EventStreamEnd marks the end of one turn's stdout stream. Synthesized
	// by the subprocess runner after the orchestrator exits, never parsed
	// from the wire. Internal-only: it lets consumers observe turn
	// quiescence in event order instead of via out-of-band signaling.
	EventStreamEnd EventType = "stream_end"

	// EventToolCall is a remote-sourced tool invocation start.
	EventToolCall EventType = "tool_call"
	// EventToolResult is a remote-sourced tool invocation outcome.
	EventToolResult EventType = "tool_result"
	// EventAgentSpanStart is a remote-sourced agent span opening marker.
	EventAgentSpanStart EventType = "agent_span_start"
	// EventAgentSpanEnd is a remote-sourced agent span closing marker.
	EventAgentSpanEnd EventType = "agent_span_end"
)

// Source identifies which of the two event sources produced an event.
type Source string

const (
	// SourceLocal marks events parsed from the orchestrator subprocess stdout.
	SourceLocal Source = "local"
	// SourceRemote marks events fetched from the polled tool-event store.
	SourceRemote Source = "remote"
)

// Meta carries the fields shared by every event variant. Local events decode
// it from the stdout wire format (epoch-millisecond timestamps); remote events
// inherit it from their store record (microsecond ISO-8601 sort keys).
type Meta struct {
	WorkflowID string    `json:"workflow_id"`
	Timestamp  time.Time `json:"timestamp"`
	TurnNumber int       `json:"turn_number,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	TraceID    string    `json:"trace_id,omitempty"`
	Source     Source    `json:"source,omitempty"`
}

// Common returns the shared fields. Defined on Meta so every embedding variant
// satisfies the Event interface without boilerplate.
func (m Meta) Common() Meta { return m }

// Event is the closed union of everything the engine ingests. Concrete
// variants implement the unexported isEvent marker so the set cannot grow
// outside this package; consumers dispatch with an exhaustive type switch on
// Type(), never by probing fields.
type Event interface {
	// Type returns the discriminator tag.
	Type() EventType
	// Common returns the shared wire fields.
	Common() Meta
	// Subject returns the node or agent identity this event is about, used in
	// the deduplication tuple alongside workflow id, type and timestamp.
	Subject() string

	isEvent()
}

// GraphStructure is the one-shot topology snapshot for a workflow run.
type GraphStructure struct {
	Meta
	Graph Graph
}

func (GraphStructure) Type() EventType { return EventGraphStructure }
func (GraphStructure) Subject() string { return "" }
func (GraphStructure) isEvent()        {}

// NodeStart marks an agent beginning work. FromAgent is nil when the agent is
// the user-facing entry point, otherwise it names the handing-off agent.
type NodeStart struct {
	Meta
	NodeID        string
	NodeName      string
	FromAgent     *string
	HandoffPrompt string
}

func (NodeStart) Type() EventType   { return EventNodeStart }
func (e NodeStart) Subject() string { return e.NodeID }
func (NodeStart) isEvent()          {}

// IsEntry reports whether the starting agent is the user-facing entry point.
func (e NodeStart) IsEntry() bool { return e.FromAgent == nil }

// NodeStop marks an agent finishing. Status is "completed" or "error";
// Response carries the agent's display text on success, Error the failure
// detail otherwise.
type NodeStop struct {
	Meta
	NodeID   string
	NodeName string
	Status   string
	Response string
	Error    string
}

func (NodeStop) Type() EventType   { return EventNodeStop }
func (e NodeStop) Subject() string { return e.NodeID }
func (NodeStop) isEvent()          {}

// Failed reports whether the agent stopped with an error status.
func (e NodeStop) Failed() bool { return e.Status == StatusError }

// ParallelNodeStart marks a fan-out to several agents running concurrently.
type ParallelNodeStart struct {
	Meta
	NodeIDs   []string
	NodeNames []string
	FromAgent *string
}

func (ParallelNodeStart) Type() EventType   { return EventParallelNodeStart }
func (e ParallelNodeStart) Subject() string { return strings.Join(e.NodeIDs, ",") }
func (ParallelNodeStart) isEvent()          {}

// ParallelNodeStop marks one branch of a fan-out completing. CompletedCount
// and TotalCount track overall fan-out progress at emission time.
type ParallelNodeStop struct {
	Meta
	NodeID         string
	NodeName       string
	Status         string
	Response       string
	Error          string
	CompletedCount int
	TotalCount     int
}

func (ParallelNodeStop) Type() EventType   { return EventParallelNodeStop }
func (e ParallelNodeStop) Subject() string { return e.NodeID }
func (ParallelNodeStop) isEvent()          {}

// ConvergenceReady signals that every fan-out branch finished and the named
// convergence agent can consume the combined results.
type ConvergenceReady struct {
	Meta
	ConvergenceNode string
	CompletedAgents []string
}

func (ConvergenceReady) Type() EventType   { return EventConvergenceReady }
func (e ConvergenceReady) Subject() string { return e.ConvergenceNode }
func (ConvergenceReady) isEvent()          {}

// RouterDecision records the routing model's pick for the next agent after
// FromAgent completed. NextAgent is "COMPLETE" when the router ends the run.
type RouterDecision struct {
	Meta
	RouterModel     string
	FromAgent       string
	NextAgent       string
	DurationMS      int64
	AgentSuggestion *string
}

func (RouterDecision) Type() EventType   { return EventRouterDecision }
func (e RouterDecision) Subject() string { return e.NextAgent }
func (RouterDecision) isEvent()          {}

// TokenDelta is a streaming text fragment attributed to the active agent.
type TokenDelta struct {
	Meta
	NodeID string
	Text   string
}

func (TokenDelta) Type() EventType   { return EventTokenDelta }
func (e TokenDelta) Subject() string { return e.NodeID }
func (TokenDelta) isEvent()          {}

// WorkflowComplete is the terminal success event for a turn.
type WorkflowComplete struct {
	Meta
	FinalAgent string
	Status     string
}

func (WorkflowComplete) Type() EventType   { return EventWorkflowComplete }
func (e WorkflowComplete) Subject() string { return e.FinalAgent }
func (WorkflowComplete) isEvent()          {}

// WorkflowError is the terminal failure event. Status distinguishes "failed"
// from "interrupted".
type WorkflowError struct {
	Meta
	Error  string
	Status string
}

func (WorkflowError) Type() EventType { return EventWorkflowError }
func (WorkflowError) Subject() string { return "" }
func (WorkflowError) isEvent()        {}

// Interrupted reports whether the workflow was cancelled rather than failing.
func (e WorkflowError) Interrupted() bool { return e.Status == "interrupted" }

// StreamEnd closes one turn's local stream. ExitCode is the orchestrator's
// exit status; SawTerminal reports whether a terminal event preceded it.
type StreamEnd struct {
	Meta
	ExitCode    int
	SawTerminal bool
}

func (StreamEnd) Type() EventType { return EventStreamEnd }
func (StreamEnd) Subject() string { return "" }
func (StreamEnd) isEvent()        {}

// Node stop / tool result status values shared across variants.
const (
	StatusCompleted = "completed"
	StatusError     = "error"
	StatusStarted   = "started"
)

// Compile-time guards keeping the union closed and complete.
var (
	_ Event = GraphStructure{}
	_ Event = NodeStart{}
	_ Event = NodeStop{}
	_ Event = ParallelNodeStart{}
	_ Event = ParallelNodeStop{}
	_ Event = ConvergenceReady{}
	_ Event = RouterDecision{}
	_ Event = TokenDelta{}
	_ Event = WorkflowComplete{}
	_ Event = WorkflowError{}
	_ Event = StreamEnd{}
	_ Event = ToolCall{}
	_ Event = ToolResult{}
	_ Event = AgentSpanStart{}
	_ Event = AgentSpanEnd{}
)

// LocalTypes lists every event type produced by the stdout stream.
func LocalTypes() []EventType {
	return []EventType{
		EventGraphStructure, EventNodeStart, EventNodeStop,
		EventParallelNodeStart, EventParallelNodeStop, EventConvergenceReady,
		EventRouterDecision, EventTokenDelta, EventWorkflowComplete, EventWorkflowError,
	}
}

// RemoteTypes lists every event type produced by store-record conversion.
func RemoteTypes() []EventType {
	return []EventType{EventToolCall, EventToolResult, EventAgentSpanStart, EventAgentSpanEnd}
}

// InternalOnly reports whether an event type is excluded from the merged log.
// Such events are still consumed directly: the graph snapshot feeds initial
// rendering, token deltas feed live message streaming, stream-end markers
// feed turn-quiescence detection.
func InternalOnly(t EventType) bool {
	return t == EventGraphStructure || t == EventTokenDelta || t == EventStreamEnd
}

// Terminal reports whether an event type ends the current turn.
func Terminal(t EventType) bool {
	return t == EventWorkflowComplete || t == EventWorkflowError
}

// NewID generates a new unique identifier for messages and log entries.
//
// This function creates a UUID-based unique identifier that can be used for
// correlation throughout the engine.
//
// Returns a string representation of a new UUID.
func NewID() string { return uuid.NewString() }
