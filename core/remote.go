package core

import "strings"

// ToolCall is a remote-sourced tool invocation start. EventID pairs it with
// the matching ToolResult; Params carries the recorded (possibly repaired)
// parameter JSON, RawParams the store's original truncated form. OwnerNode
// is filled in by the merger when the agent name resolves to a graph node,
// so consumers can nest the call under the node that made it.
type ToolCall struct {
	Meta
	EventID   string
	AgentName string
	ToolName  string
	System    string
	Operation string
	Params    string
	RawParams string
	OwnerNode string
}

func (ToolCall) Type() EventType   { return EventToolCall }
func (e ToolCall) Subject() string { return subjectOrAgent(e.EventID, e.AgentName) }
func (ToolCall) isEvent()          {}

// ToolResult is a remote-sourced tool invocation outcome. Status is
// "completed" or "error"; DurationMS spans the call, ErrorMessage carries the
// (truncated) failure detail.
type ToolResult struct {
	Meta
	EventID      string
	AgentName    string
	ToolName     string
	System       string
	Operation    string
	Status       string
	DurationMS   int64
	ErrorMessage string
	OwnerNode    string
}

func (ToolResult) Type() EventType   { return EventToolResult }
func (e ToolResult) Subject() string { return subjectOrAgent(e.EventID, e.AgentName) }
func (ToolResult) isEvent()          {}

// Failed reports whether the tool invocation errored.
func (e ToolResult) Failed() bool { return e.Status == StatusError }

// AgentSpanStart is a remote-sourced marker opening an agent's activity span.
// Stores that only record tool events never produce it; local node events
// remain the authoritative span boundaries either way.
type AgentSpanStart struct {
	Meta
	AgentName string
	OwnerNode string
}

func (AgentSpanStart) Type() EventType   { return EventAgentSpanStart }
func (e AgentSpanStart) Subject() string { return e.AgentName }
func (AgentSpanStart) isEvent()          {}

// AgentSpanEnd is a remote-sourced marker closing an agent's activity span.
type AgentSpanEnd struct {
	Meta
	AgentName string
	Status    string
	OwnerNode string
}

func (AgentSpanEnd) Type() EventType   { return EventAgentSpanEnd }
func (e AgentSpanEnd) Subject() string { return e.AgentName }
func (AgentSpanEnd) isEvent()          {}

func subjectOrAgent(eventID, agent string) string {
	if eventID != "" {
		return eventID
	}
	return agent
}

// SplitToolName decomposes a gateway tool name of the form system__operation.
// Names without the separator yield an empty system and the full name as the
// operation.
func SplitToolName(toolName string) (system, operation string) {
	if i := strings.Index(toolName, "__"); i > 0 {
		return toolName[:i], toolName[i+2:]
	}
	return "", toolName
}
