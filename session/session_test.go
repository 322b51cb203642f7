package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenttrace/core"
)

func strPtr(s string) *string { return &s }

func entryStart(nodeID, name string) core.NodeStart {
	return core.NodeStart{NodeID: nodeID, NodeName: name}
}

func handoffStart(nodeID, name, from string) core.NodeStart {
	return core.NodeStart{NodeID: nodeID, NodeName: name, FromAgent: strPtr(from)}
}

func TestNewSession(t *testing.T) {
	s := New()

	assert.Equal(t, StatusRunning, s.Status())
	assert.Equal(t, 0, s.Turn())
	assert.NotEmpty(t, s.WorkflowID())
	assert.NotEmpty(t, s.TraceID())

	other := New()
	assert.NotEqual(t, s.WorkflowID(), other.WorkflowID())
}

func TestBeginTurnFirst(t *testing.T) {
	s := New()

	turn, cctx, err := s.BeginTurn("route my ticket")
	require.NoError(t, err)

	assert.Equal(t, 1, turn)
	require.Len(t, cctx.Turns, 1)
	assert.Equal(t, core.TurnRoleHuman, cctx.Turns[0].Role)
	assert.Equal(t, "route my ticket", cctx.Turns[0].Content)

	snap := s.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, core.RoleUser, snap.Messages[0].Role)
	assert.Equal(t, core.ChannelDirect, snap.Messages[0].Channel)
}

func TestBeginTurnRejectedWhileRunning(t *testing.T) {
	s := New()
	_, _, err := s.BeginTurn("first")
	require.NoError(t, err)

	_, _, err = s.BeginTurn("second")
	require.ErrorIs(t, err, ErrNotAwaitingInput)
	assert.Equal(t, 1, s.Turn())
}

func TestBeginTurnFromPartial(t *testing.T) {
	s := New()
	_, _, err := s.BeginTurn("hello")
	require.NoError(t, err)

	s.Apply(entryStart("n1", "Triage"))
	s.BeginStreaming(core.ChannelDirect, "Triage")
	s.AppendToken(core.ChannelDirect, "Triage", "How can I help?")
	s.Apply(core.NodeStop{NodeID: "n1", NodeName: "Triage", Status: core.StatusCompleted})
	s.FinalizeStreaming(core.ChannelDirect, "Triage", "")
	s.Apply(core.StreamEnd{ExitCode: 0})

	require.Equal(t, StatusPartial, s.Status())

	turn, cctx, err := s.BeginTurn("my order is late")
	require.NoError(t, err)
	assert.Equal(t, 2, turn)
	assert.Equal(t, StatusRunning, s.Status())

	assert.Equal(t, "Triage", cctx.EntryAgent)
	require.Len(t, cctx.Turns, 3)
	assert.Equal(t, core.TurnRoleHuman, cctx.Turns[0].Role)
	assert.Equal(t, "hello", cctx.Turns[0].Content)
	assert.Equal(t, core.TurnRoleEntryAgent, cctx.Turns[1].Role)
	assert.Equal(t, "How can I help?", cctx.Turns[1].Content)
	assert.Equal(t, core.TurnRoleHuman, cctx.Turns[2].Role)
	assert.Equal(t, "my order is late", cctx.Turns[2].Content)
}

func TestBeginTurnRejectedAfterTerminal(t *testing.T) {
	s := New()
	_, _, err := s.BeginTurn("hello")
	require.NoError(t, err)
	s.Apply(core.WorkflowComplete{FinalAgent: "Triage", Status: "success"})

	_, _, err = s.BeginTurn("more")
	assert.ErrorIs(t, err, ErrNotAwaitingInput)
}

func TestConversationContextExcludesInternal(t *testing.T) {
	s := New()
	_, _, err := s.BeginTurn("hello")
	require.NoError(t, err)

	s.Apply(entryStart("n1", "Triage"))
	s.AppendMarker(core.ChannelInternal, "Triage", "Delegated to Billing")
	s.BeginStreaming(core.ChannelInternal, "Billing")
	s.AppendToken(core.ChannelInternal, "Billing", "checking invoices")
	s.FinalizeStreaming(core.ChannelInternal, "Billing", "")
	s.BeginStreaming(core.ChannelDirect, "Triage")
	s.AppendToken(core.ChannelDirect, "Triage", "All sorted.")
	s.Apply(core.NodeStop{NodeID: "n1", NodeName: "Triage", Status: core.StatusCompleted})
	s.FinalizeStreaming(core.ChannelDirect, "Triage", "")
	s.Apply(core.StreamEnd{})

	_, cctx, err := s.BeginTurn("thanks")
	require.NoError(t, err)

	require.Len(t, cctx.Turns, 3)
	for _, turn := range cctx.Turns {
		assert.NotContains(t, turn.Content, "invoices")
		assert.NotContains(t, turn.Content, "Delegated")
	}
}

func TestApplyCapturesEntryAgent(t *testing.T) {
	s := New()
	_, _, err := s.BeginTurn("hi")
	require.NoError(t, err)

	s.Apply(entryStart("n1", "Triage"))
	s.Apply(handoffStart("n2", "Billing", "Triage"))

	snap := s.Snapshot()
	assert.Equal(t, "Triage", snap.EntryAgent)
	assert.Equal(t, "Billing", snap.ActiveAgent)
}

func TestStreamEndAfterEntryStopYieldsPartial(t *testing.T) {
	s := New()
	_, _, err := s.BeginTurn("hi")
	require.NoError(t, err)

	s.Apply(entryStart("n1", "Triage"))
	s.Apply(core.NodeStop{NodeID: "n1", NodeName: "Triage", Status: core.StatusCompleted})
	s.Apply(core.StreamEnd{ExitCode: 0})

	snap := s.Snapshot()
	assert.Equal(t, StatusPartial, snap.Status)
	assert.Equal(t, "entry agent stopped without terminal event", snap.StatusDetail)
}

func TestStreamEndWithoutEntryStopYieldsPartial(t *testing.T) {
	s := New()
	_, _, err := s.BeginTurn("hi")
	require.NoError(t, err)

	s.Apply(entryStart("n1", "Triage"))
	s.Apply(core.StreamEnd{ExitCode: 1})

	snap := s.Snapshot()
	assert.Equal(t, StatusPartial, snap.Status)
	assert.Equal(t, "stream ended without terminal event", snap.StatusDetail)
}

func TestStreamEndAfterTerminalIsNoOp(t *testing.T) {
	s := New()
	_, _, err := s.BeginTurn("hi")
	require.NoError(t, err)

	s.Apply(core.WorkflowComplete{FinalAgent: "Triage", Status: "success"})
	s.Apply(core.StreamEnd{ExitCode: 0, SawTerminal: true})

	assert.Equal(t, StatusComplete, s.Status())
}

func TestWorkflowCompleteFinalizesStreaming(t *testing.T) {
	s := New()
	_, _, err := s.BeginTurn("hi")
	require.NoError(t, err)

	s.Apply(entryStart("n1", "Triage"))
	s.BeginStreaming(core.ChannelDirect, "Triage")
	s.AppendToken(core.ChannelDirect, "Triage", "done")
	s.Apply(core.WorkflowComplete{FinalAgent: "Triage", Status: "success"})

	snap := s.Snapshot()
	assert.Equal(t, StatusComplete, snap.Status)
	assert.Equal(t, "completed by Triage", snap.StatusDetail)
	for _, m := range snap.Messages {
		assert.False(t, m.IsStreaming)
	}
}

func TestWorkflowErrorInterrupted(t *testing.T) {
	s := New()
	_, _, err := s.BeginTurn("hi")
	require.NoError(t, err)

	s.Apply(core.WorkflowError{Error: "signal: terminated", Status: "interrupted"})

	snap := s.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, "interrupted: signal: terminated", snap.StatusDetail)
}

func TestTerminalStatusSticks(t *testing.T) {
	s := New()
	_, _, err := s.BeginTurn("hi")
	require.NoError(t, err)

	s.Apply(core.WorkflowError{Error: "boom", Status: "failed"})
	s.Apply(core.WorkflowComplete{FinalAgent: "Triage", Status: "success"})

	assert.Equal(t, StatusError, s.Status())
}

func TestResetMintsNewIdentity(t *testing.T) {
	s := New()
	oldWF, oldTrace := s.WorkflowID(), s.TraceID()
	_, _, err := s.BeginTurn("hi")
	require.NoError(t, err)
	s.Apply(core.WorkflowComplete{FinalAgent: "Triage", Status: "success"})

	s.Reset()

	assert.NotEqual(t, oldWF, s.WorkflowID())
	assert.NotEqual(t, oldTrace, s.TraceID())
	assert.Equal(t, StatusRunning, s.Status())
	assert.Equal(t, 0, s.Turn())
	assert.Empty(t, s.Snapshot().Messages)
}

func TestStreamingLifecycle(t *testing.T) {
	s := New()
	_, _, err := s.BeginTurn("hi")
	require.NoError(t, err)

	s.BeginStreaming(core.ChannelDirect, "Triage")
	s.AppendToken(core.ChannelDirect, "Triage", "Hel")
	s.AppendToken(core.ChannelDirect, "Triage", "lo")
	s.FinalizeStreaming(core.ChannelDirect, "Triage", "")

	snap := s.Snapshot()
	require.Len(t, snap.Messages, 2)
	msg := snap.Messages[1]
	assert.Equal(t, "Hello", msg.Content)
	assert.Equal(t, "Triage", msg.AgentName)
	assert.False(t, msg.IsStreaming)
}

func TestFinalizeStreamingOverridesContent(t *testing.T) {
	s := New()
	_, _, err := s.BeginTurn("hi")
	require.NoError(t, err)

	s.BeginStreaming(core.ChannelDirect, "Triage")
	s.AppendToken(core.ChannelDirect, "Triage", "partial tok")
	s.FinalizeStreaming(core.ChannelDirect, "Triage", "The complete answer.")

	snap := s.Snapshot()
	assert.Equal(t, "The complete answer.", snap.Messages[1].Content)
}

func TestBeginStreamingFinalizesOverlap(t *testing.T) {
	s := New()
	_, _, err := s.BeginTurn("hi")
	require.NoError(t, err)

	s.BeginStreaming(core.ChannelInternal, "Billing")
	s.AppendToken(core.ChannelInternal, "Billing", "first")
	s.BeginStreaming(core.ChannelInternal, "Refunds")
	s.AppendToken(core.ChannelInternal, "Refunds", "second")

	snap := s.Snapshot()
	require.Len(t, snap.Messages, 3)
	assert.False(t, snap.Messages[1].IsStreaming)
	assert.Equal(t, "first", snap.Messages[1].Content)
	assert.True(t, snap.Messages[2].IsStreaming)
	assert.Equal(t, "second", snap.Messages[2].Content)
}

func TestAppendTokenDropsMismatch(t *testing.T) {
	s := New()
	_, _, err := s.BeginTurn("hi")
	require.NoError(t, err)

	s.AppendToken(core.ChannelDirect, "Triage", "orphan")

	s.BeginStreaming(core.ChannelDirect, "Triage")
	s.AppendToken(core.ChannelDirect, "Billing", "stray")
	s.AppendToken(core.ChannelInternal, "Triage", "wrong channel")

	snap := s.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Empty(t, snap.Messages[1].Content)
}

func TestAppendTokenCaseInsensitiveAgentMatch(t *testing.T) {
	s := New()
	_, _, err := s.BeginTurn("hi")
	require.NoError(t, err)

	s.BeginStreaming(core.ChannelDirect, "Triage")
	s.AppendToken(core.ChannelDirect, "triage", "hello")

	assert.Equal(t, "hello", s.Snapshot().Messages[1].Content)
}

func TestUpsertToolCall(t *testing.T) {
	s := New()
	_, _, err := s.BeginTurn("hi")
	require.NoError(t, err)

	s.BeginStreaming(core.ChannelInternal, "Billing")
	s.UpsertToolCall("Billing", core.MessageToolCall{
		ID: "tc-1", ToolName: "crm.lookup", Status: core.StatusStarted,
	})
	s.UpsertToolCall("Billing", core.MessageToolCall{
		ID: "tc-1", Status: core.StatusCompleted, DurationMS: 321,
	})
	s.UpsertToolCall("Billing", core.MessageToolCall{
		ID: "tc-2", ToolName: "crm.update", Status: core.StatusError, Error: "denied",
	})

	snap := s.Snapshot()
	calls := snap.Messages[1].ToolCalls
	require.Len(t, calls, 2)
	assert.Equal(t, "crm.lookup", calls[0].ToolName)
	assert.Equal(t, core.StatusCompleted, calls[0].Status)
	assert.Equal(t, int64(321), calls[0].DurationMS)
	assert.Equal(t, "denied", calls[1].Error)
}

func TestUpsertToolCallWithoutMessageCreatesOne(t *testing.T) {
	s := New()
	_, _, err := s.BeginTurn("hi")
	require.NoError(t, err)

	s.UpsertToolCall("Shipping", core.MessageToolCall{
		ID: "tc-9", ToolName: "carrier.track", Status: core.StatusStarted,
	})

	snap := s.Snapshot()
	require.Len(t, snap.Messages, 2)
	msg := snap.Messages[1]
	assert.Equal(t, "Shipping", msg.AgentName)
	assert.Equal(t, core.ChannelInternal, msg.Channel)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "carrier.track", msg.ToolCalls[0].ToolName)
}

func TestSnapshotIsolation(t *testing.T) {
	s := New()
	_, _, err := s.BeginTurn("hi")
	require.NoError(t, err)
	s.UpsertToolCall("Billing", core.MessageToolCall{ID: "tc-1", ToolName: "crm.lookup", Status: core.StatusStarted})

	snap := s.Snapshot()
	snap.Messages[0].Content = "mutated"
	snap.Messages[1].ToolCalls[0].Status = "mutated"

	fresh := s.Snapshot()
	assert.Equal(t, "hi", fresh.Messages[0].Content)
	assert.Equal(t, core.StatusStarted, fresh.Messages[1].ToolCalls[0].Status)
}

func TestOnTransitionHook(t *testing.T) {
	var got []string
	s := New(func(o *Options) {
		o.OnTransition = func(from, to Status, reason string) {
			got = append(got, string(from)+">"+string(to))
		}
	})
	_, _, err := s.BeginTurn("hi")
	require.NoError(t, err)

	s.Apply(entryStart("n1", "Triage"))
	s.Apply(core.NodeStop{NodeID: "n1", NodeName: "Triage", Status: core.StatusCompleted})
	s.Apply(core.StreamEnd{})
	_, _, err = s.BeginTurn("again")
	require.NoError(t, err)

	assert.Equal(t, []string{"running>partial", "partial>running"}, got)
}

func TestEntryRestartClearsEntryStopped(t *testing.T) {
	s := New()
	_, _, err := s.BeginTurn("hi")
	require.NoError(t, err)

	s.Apply(entryStart("n1", "Triage"))
	s.Apply(core.NodeStop{NodeID: "n1", NodeName: "Triage", Status: core.StatusCompleted})
	// Orchestrators that loop the entry agent restart it within one turn.
	s.Apply(entryStart("n1", "Triage"))
	s.Apply(core.NodeStop{NodeID: "n1", NodeName: "Triage", Status: core.StatusCompleted})
	s.Apply(core.StreamEnd{})

	assert.Equal(t, StatusPartial, s.Status())
}

func TestNowSeam(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(func(o *Options) {
		o.Now = func() time.Time { return fixed }
	})
	_, _, err := s.BeginTurn("hi")
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Equal(t, fixed, snap.Messages[0].Timestamp)
	assert.Equal(t, fixed, snap.UpdatedAt)
}
