package testutil

import (
	"time"

	"github.com/hupe1980/agenttrace/core"
)

// EventBuilder provides a fluent helper for constructing events that share
// one workflow identity. Example:
//
//	b := testutil.Events("wf-1")
//	start := b.NodeStart("triage", "Triage")
//	stop := b.NodeStop("triage", "Triage", "All sorted.")
//
// Every built event gets the next timestamp in a fixed-step sequence, so the
// (workflow, type, timestamp, subject) dedup tuples of a test scenario never
// collide by accident.
type EventBuilder struct {
	workflowID string
	traceID    string
	turn       int
	at         time.Time
	step       time.Duration
	source     core.Source
}

// Events creates a builder for the given workflow id with a fixed base
// timestamp, turn 1 and local source.
func Events(workflowID string) *EventBuilder {
	return &EventBuilder{
		workflowID: workflowID,
		turn:       1,
		at:         time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		step:       100 * time.Millisecond,
		source:     core.SourceLocal,
	}
}

// At moves the timestamp sequence to t (chainable).
func (b *EventBuilder) At(t time.Time) *EventBuilder { b.at = t; return b }

// Step sets the gap between consecutive built events (chainable).
func (b *EventBuilder) Step(d time.Duration) *EventBuilder { b.step = d; return b }

// Turn sets the turn number stamped on subsequent events (chainable).
func (b *EventBuilder) Turn(n int) *EventBuilder { b.turn = n; return b }

// Trace sets the trace id stamped on subsequent events (chainable).
func (b *EventBuilder) Trace(id string) *EventBuilder { b.traceID = id; return b }

// meta issues the next event meta and advances the timestamp sequence.
func (b *EventBuilder) meta() core.Meta {
	m := core.Meta{
		WorkflowID: b.workflowID,
		Timestamp:  b.at,
		TurnNumber: b.turn,
		TraceID:    b.traceID,
		Source:     b.source,
	}
	b.at = b.at.Add(b.step)
	return m
}

func (b *EventBuilder) remoteMeta() core.Meta {
	m := b.meta()
	m.Source = core.SourceRemote
	return m
}

// Graph builds the topology announcement.
func (b *EventBuilder) Graph(g core.Graph) core.GraphStructure {
	return core.GraphStructure{Meta: b.meta(), Graph: g}
}

// NodeStart builds an entry-point agent start (no source agent).
func (b *EventBuilder) NodeStart(nodeID, name string) core.NodeStart {
	return core.NodeStart{Meta: b.meta(), NodeID: nodeID, NodeName: name}
}

// Handoff builds an agent start reached via handoff from another agent.
func (b *EventBuilder) Handoff(nodeID, name, from string) core.NodeStart {
	return core.NodeStart{Meta: b.meta(), NodeID: nodeID, NodeName: name, FromAgent: &from}
}

// NodeStop builds a successful agent stop carrying its response.
func (b *EventBuilder) NodeStop(nodeID, name, response string) core.NodeStop {
	return core.NodeStop{Meta: b.meta(), NodeID: nodeID, NodeName: name, Status: core.StatusCompleted, Response: response}
}

// NodeFail builds a failed agent stop.
func (b *EventBuilder) NodeFail(nodeID, name, errMsg string) core.NodeStop {
	return core.NodeStop{Meta: b.meta(), NodeID: nodeID, NodeName: name, Status: core.StatusError, Error: errMsg}
}

// Token builds a streaming text fragment for the given node.
func (b *EventBuilder) Token(nodeID, text string) core.TokenDelta {
	return core.TokenDelta{Meta: b.meta(), NodeID: nodeID, Text: text}
}

// Decision builds a router decision. Pass "COMPLETE" as next to end the run.
func (b *EventBuilder) Decision(from, next string, durMS int64) core.RouterDecision {
	return core.RouterDecision{Meta: b.meta(), FromAgent: from, NextAgent: next, DurationMS: durMS}
}

// Complete builds the successful terminal event.
func (b *EventBuilder) Complete(finalAgent string) core.WorkflowComplete {
	return core.WorkflowComplete{Meta: b.meta(), FinalAgent: finalAgent, Status: "success"}
}

// Fail builds the failure terminal event.
func (b *EventBuilder) Fail(errMsg string) core.WorkflowError {
	return core.WorkflowError{Meta: b.meta(), Error: errMsg, Status: "failed"}
}

// Interrupted builds the user-interruption terminal event.
func (b *EventBuilder) Interrupted() core.WorkflowError {
	return core.WorkflowError{Meta: b.meta(), Status: "interrupted"}
}

// StreamEnd builds the turn quiescence marker.
func (b *EventBuilder) StreamEnd(exitCode int, sawTerminal bool) core.StreamEnd {
	return core.StreamEnd{Meta: b.meta(), ExitCode: exitCode, SawTerminal: sawTerminal}
}

// ToolCall builds a remote tool invocation start for agent. The tool name is
// split into system and operation the way record decoding does it.
func (b *EventBuilder) ToolCall(agent, tool, params string) core.ToolCall {
	system, operation := core.SplitToolName(tool)
	return core.ToolCall{
		Meta:      b.remoteMeta(),
		EventID:   core.NewID(),
		AgentName: agent,
		ToolName:  tool,
		System:    system,
		Operation: operation,
		Params:    params,
		RawParams: params,
	}
}

// ToolResult builds a successful remote tool outcome for agent.
func (b *EventBuilder) ToolResult(agent, tool string, durMS int64) core.ToolResult {
	system, operation := core.SplitToolName(tool)
	return core.ToolResult{
		Meta:       b.remoteMeta(),
		EventID:    core.NewID(),
		AgentName:  agent,
		ToolName:   tool,
		System:     system,
		Operation:  operation,
		Status:     core.StatusCompleted,
		DurationMS: durMS,
	}
}

// SpanStart builds a remote agent span opening marker.
func (b *EventBuilder) SpanStart(agent string) core.AgentSpanStart {
	return core.AgentSpanStart{Meta: b.remoteMeta(), AgentName: agent}
}

// SpanEnd builds a remote agent span closing marker.
func (b *EventBuilder) SpanEnd(agent, status string) core.AgentSpanEnd {
	return core.AgentSpanEnd{Meta: b.remoteMeta(), AgentName: agent, Status: status}
}
