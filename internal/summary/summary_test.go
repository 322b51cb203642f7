package summary

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/agenttrace/core"
)

func meta() core.Meta {
	return core.Meta{
		WorkflowID: "wf-1",
		Timestamp:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		TurnNumber: 1,
	}
}

func TestEntrySummaries(t *testing.T) {
	from := "Triage"

	tests := []struct {
		name    string
		ev      core.Event
		summary string
		agent   string
	}{
		{
			name:    "entry node start",
			ev:      core.NodeStart{Meta: meta(), NodeID: "n1", NodeName: "Triage"},
			summary: "Triage started",
			agent:   "Triage",
		},
		{
			name:    "handoff node start",
			ev:      core.NodeStart{Meta: meta(), NodeID: "n2", NodeName: "Billing", FromAgent: &from, HandoffPrompt: "invoice question"},
			summary: "Billing started (handoff from Triage)",
			agent:   "Billing",
		},
		{
			name:    "node stop completed",
			ev:      core.NodeStop{Meta: meta(), NodeName: "Billing", Status: core.StatusCompleted, Response: "done"},
			summary: "Billing completed",
			agent:   "Billing",
		},
		{
			name:    "node stop failed",
			ev:      core.NodeStop{Meta: meta(), NodeName: "Billing", Status: core.StatusError, Error: "timeout"},
			summary: "Billing failed: timeout",
			agent:   "Billing",
		},
		{
			name:    "parallel start",
			ev:      core.ParallelNodeStart{Meta: meta(), NodeNames: []string{"Flights", "Hotels"}, FromAgent: &from},
			summary: "Fan-out to Flights, Hotels from Triage",
		},
		{
			name:    "parallel stop",
			ev:      core.ParallelNodeStop{Meta: meta(), NodeName: "Flights", Status: core.StatusCompleted, CompletedCount: 1, TotalCount: 2},
			summary: "Flights branch completed (1/2 done)",
			agent:   "Flights",
		},
		{
			name:    "convergence",
			ev:      core.ConvergenceReady{Meta: meta(), ConvergenceNode: "Planner", CompletedAgents: []string{"Flights", "Hotels"}},
			summary: "Planner converging results from Flights, Hotels",
			agent:   "Planner",
		},
		{
			name:    "router decision",
			ev:      core.RouterDecision{Meta: meta(), RouterModel: "haiku", FromAgent: "Triage", NextAgent: "Billing", DurationMS: 42},
			summary: "Router chose Billing after Triage (42ms)",
			agent:   "Billing",
		},
		{
			name:    "router complete",
			ev:      core.RouterDecision{Meta: meta(), FromAgent: "Billing", NextAgent: "COMPLETE", DurationMS: 17},
			summary: "Router ended the run after Billing (17ms)",
			agent:   "COMPLETE",
		},
		{
			name:    "workflow complete",
			ev:      core.WorkflowComplete{Meta: meta(), FinalAgent: "Billing", Status: "success"},
			summary: "Workflow complete (final agent Billing)",
			agent:   "Billing",
		},
		{
			name:    "workflow failed",
			ev:      core.WorkflowError{Meta: meta(), Error: "boom", Status: "failed"},
			summary: "Workflow failed: boom",
		},
		{
			name:    "workflow interrupted",
			ev:      core.WorkflowError{Meta: meta(), Status: "interrupted"},
			summary: "Workflow interrupted",
		},
		{
			name:    "tool call",
			ev:      core.ToolCall{Meta: meta(), AgentName: "Billing", ToolName: "crm__lookup_order", System: "crm", Operation: "lookup_order"},
			summary: "Billing called crm lookup_order",
			agent:   "Billing",
		},
		{
			name:    "tool result ok",
			ev:      core.ToolResult{Meta: meta(), AgentName: "Billing", ToolName: "crm__lookup_order", System: "crm", Operation: "lookup_order", Status: core.StatusCompleted, DurationMS: 321},
			summary: "crm lookup_order completed in 321ms",
			agent:   "Billing",
		},
		{
			name:    "tool result failed",
			ev:      core.ToolResult{Meta: meta(), AgentName: "Billing", Operation: "lookup_order", Status: core.StatusError, ErrorMessage: "denied"},
			summary: "lookup_order failed: denied",
			agent:   "Billing",
		},
		{
			name:    "span start",
			ev:      core.AgentSpanStart{Meta: meta(), AgentName: "Billing"},
			summary: "Billing span opened",
			agent:   "Billing",
		},
		{
			name:    "span end",
			ev:      core.AgentSpanEnd{Meta: meta(), AgentName: "Billing", Status: core.StatusCompleted},
			summary: "Billing span closed (completed)",
			agent:   "Billing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := Entry(tt.ev)
			assert.Equal(t, tt.summary, entry.Summary)
			assert.Equal(t, tt.agent, entry.AgentName)
			assert.Equal(t, tt.ev.Type(), entry.EventType)
			assert.Equal(t, meta().Timestamp, entry.Timestamp)
			assert.NotEmpty(t, entry.ID)
		})
	}
}

func TestEntryPayloads(t *testing.T) {
	from := "Triage"

	entry := Entry(core.NodeStart{Meta: meta(), NodeName: "Billing", FromAgent: &from, HandoffPrompt: "invoice question"})
	assert.Equal(t, map[string]any{"handoff_prompt": "invoice question"}, entry.Payload)

	entry = Entry(core.NodeStop{Meta: meta(), NodeName: "Billing", Status: core.StatusCompleted, Response: "all set"})
	assert.Equal(t, map[string]any{"response": "all set"}, entry.Payload)

	entry = Entry(core.NodeStop{Meta: meta(), NodeName: "Billing", Status: core.StatusCompleted})
	assert.Nil(t, entry.Payload)
}

func TestEntryIDsUnique(t *testing.T) {
	a := Entry(core.WorkflowComplete{Meta: meta(), FinalAgent: "Billing"})
	b := Entry(core.WorkflowComplete{Meta: meta(), FinalAgent: "Billing"})
	assert.NotEqual(t, a.ID, b.ID)
}
