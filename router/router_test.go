package router

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenttrace/core"
	"github.com/hupe1980/agenttrace/session"
)

var _ MessageSink = (*session.Session)(nil)

type sinkCall struct {
	op      string
	channel core.Channel
	agent   string
	text    string
	tc      core.MessageToolCall
}

type recordingSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (s *recordingSink) BeginStreaming(ch core.Channel, agent string) {
	s.record(sinkCall{op: "begin", channel: ch, agent: agent})
}

func (s *recordingSink) AppendToken(ch core.Channel, agent, text string) {
	s.record(sinkCall{op: "token", channel: ch, agent: agent, text: text})
}

func (s *recordingSink) FinalizeStreaming(ch core.Channel, agent, finalText string) {
	s.record(sinkCall{op: "finalize", channel: ch, agent: agent, text: finalText})
}

func (s *recordingSink) AppendMarker(ch core.Channel, agent, text string) {
	s.record(sinkCall{op: "marker", channel: ch, agent: agent, text: text})
}

func (s *recordingSink) UpsertToolCall(agent string, tc core.MessageToolCall) {
	s.record(sinkCall{op: "tool", agent: agent, tc: tc})
}

func (s *recordingSink) record(c sinkCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

func (s *recordingSink) all() []sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sinkCall, len(s.calls))
	copy(out, s.calls)
	return out
}

func strPtr(s string) *string { return &s }

func TestChannel(t *testing.T) {
	assert.Equal(t, core.ChannelDirect, Channel(nil))
	assert.Equal(t, core.ChannelInternal, Channel(strPtr("Triage")))
}

func TestRouteEntryStart(t *testing.T) {
	sink := &recordingSink{}
	r := New(sink)

	r.Route(core.NodeStart{NodeID: "n1", NodeName: "Triage"})

	calls := sink.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "begin", calls[0].op)
	assert.Equal(t, core.ChannelDirect, calls[0].channel)
	assert.Equal(t, "Triage", calls[0].agent)
}

func TestRouteHandoffStart(t *testing.T) {
	sink := &recordingSink{}
	r := New(sink)

	r.Route(core.NodeStart{
		NodeID: "n2", NodeName: "Billing",
		FromAgent: strPtr("Triage"), HandoffPrompt: "customer has an invoice question",
	})

	calls := sink.all()
	require.Len(t, calls, 2)
	assert.Equal(t, "marker", calls[0].op)
	assert.Equal(t, core.ChannelInternal, calls[0].channel)
	assert.Equal(t, "Triage", calls[0].agent)
	assert.Equal(t, "Handoff to Billing: customer has an invoice question", calls[0].text)
	assert.Equal(t, "begin", calls[1].op)
	assert.Equal(t, core.ChannelInternal, calls[1].channel)
	assert.Equal(t, "Billing", calls[1].agent)
}

func TestRouteNodeStopFinalizes(t *testing.T) {
	sink := &recordingSink{}
	r := New(sink)

	r.Route(core.NodeStart{NodeID: "n1", NodeName: "Triage"})
	r.Route(core.NodeStop{NodeID: "n1", NodeName: "Triage", Status: core.StatusCompleted, Response: "All done."})

	calls := sink.all()
	require.Len(t, calls, 2)
	assert.Equal(t, "finalize", calls[1].op)
	assert.Equal(t, core.ChannelDirect, calls[1].channel)
	assert.Equal(t, "All done.", calls[1].text)
}

func TestRouteNodeStopErrorText(t *testing.T) {
	sink := &recordingSink{}
	r := New(sink)

	r.Route(core.NodeStart{NodeID: "n2", NodeName: "Billing", FromAgent: strPtr("Triage")})
	r.Route(core.NodeStop{NodeID: "n2", NodeName: "Billing", Status: core.StatusError, Error: "upstream timeout"})

	calls := sink.all()
	last := calls[len(calls)-1]
	assert.Equal(t, "finalize", last.op)
	assert.Equal(t, "Error: upstream timeout", last.text)
}

func TestRouteNodeStopUnknownNodeDefaultsInternal(t *testing.T) {
	sink := &recordingSink{}
	r := New(sink)

	r.Route(core.NodeStop{NodeID: "ghost", NodeName: "Phantom", Status: core.StatusCompleted, Response: "x"})

	calls := sink.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "finalize", calls[0].op)
	assert.Equal(t, core.ChannelInternal, calls[0].channel)
}

func TestRouteToken(t *testing.T) {
	sink := &recordingSink{}
	r := New(sink)

	r.Route(core.NodeStart{NodeID: "n1", NodeName: "Triage"})
	r.RouteToken(core.TokenDelta{NodeID: "n1", Text: "Hel"})
	r.RouteToken(core.TokenDelta{NodeID: "unknown", Text: "dropped"})

	calls := sink.all()
	require.Len(t, calls, 2)
	assert.Equal(t, "token", calls[1].op)
	assert.Equal(t, core.ChannelDirect, calls[1].channel)
	assert.Equal(t, "Triage", calls[1].agent)
	assert.Equal(t, "Hel", calls[1].text)
}

func TestRouteParallelFanOut(t *testing.T) {
	sink := &recordingSink{}
	r := New(sink)

	r.Route(core.ParallelNodeStart{
		NodeIDs:   []string{"p1", "p2"},
		NodeNames: []string{"Billing", "Shipping"},
		FromAgent: strPtr("Triage"),
	})
	r.RouteToken(core.TokenDelta{NodeID: "p2", Text: "tracking"})
	r.Route(core.ParallelNodeStop{
		NodeID: "p1", NodeName: "Billing", Status: core.StatusCompleted,
		Response: "invoice ok", CompletedCount: 1, TotalCount: 2,
	})
	r.Route(core.ConvergenceReady{
		ConvergenceNode: "Summarizer", CompletedAgents: []string{"Billing", "Shipping"},
	})

	calls := sink.all()
	require.Len(t, calls, 4)
	assert.Equal(t, "marker", calls[0].op)
	assert.Equal(t, "Fanning out to Billing, Shipping", calls[0].text)
	assert.Equal(t, "Triage", calls[0].agent)

	assert.Equal(t, "token", calls[1].op)
	assert.Equal(t, core.ChannelInternal, calls[1].channel)
	assert.Equal(t, "Shipping", calls[1].agent)

	assert.Equal(t, "marker", calls[2].op)
	assert.Equal(t, "Billing", calls[2].agent)
	assert.Equal(t, "invoice ok", calls[2].text)

	assert.Equal(t, "marker", calls[3].op)
	assert.Equal(t, "Summarizer", calls[3].agent)
	assert.Equal(t, "Converging results from Billing, Shipping", calls[3].text)
}

func TestRouteToolCallAndResult(t *testing.T) {
	sink := &recordingSink{}
	r := New(sink)

	r.Route(core.ToolCall{
		EventID: "ev-1", AgentName: "Billing",
		ToolName: "crm__lookup", System: "crm", Operation: "lookup",
	})
	r.Route(core.ToolResult{
		EventID: "ev-1", AgentName: "Billing",
		ToolName: "crm__lookup", Status: core.StatusCompleted, DurationMS: 88,
	})

	calls := sink.all()
	require.Len(t, calls, 2)
	assert.Equal(t, "tool", calls[0].op)
	assert.Equal(t, "ev-1", calls[0].tc.ID)
	assert.Equal(t, core.StatusStarted, calls[0].tc.Status)
	assert.Equal(t, "crm", calls[0].tc.System)
	assert.Equal(t, core.StatusCompleted, calls[1].tc.Status)
	assert.Equal(t, int64(88), calls[1].tc.DurationMS)
}

func TestRouteToolCallMintsMissingID(t *testing.T) {
	sink := &recordingSink{}
	r := New(sink)

	r.Route(core.ToolCall{AgentName: "Billing", ToolName: "crm__lookup"})

	calls := sink.all()
	require.Len(t, calls, 1)
	assert.NotEmpty(t, calls[0].tc.ID)
}

func TestRouteSilentEvents(t *testing.T) {
	sink := &recordingSink{}
	r := New(sink)

	r.Route(core.RouterDecision{FromAgent: "Triage", NextAgent: "Billing"})
	r.Route(core.AgentSpanStart{AgentName: "Billing"})
	r.Route(core.AgentSpanEnd{AgentName: "Billing", Status: core.StatusCompleted})
	r.Route(core.WorkflowComplete{FinalAgent: "Triage"})

	assert.Empty(t, sink.all())
}

func TestResetClearsRegistrations(t *testing.T) {
	sink := &recordingSink{}
	r := New(sink)

	r.Route(core.NodeStart{NodeID: "n1", NodeName: "Triage"})
	r.Reset()
	r.RouteToken(core.TokenDelta{NodeID: "n1", Text: "late"})

	calls := sink.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "begin", calls[0].op)
}

// End-to-end with the real session: a handoff keeps the user-facing
// conversation clean while collaboration lands on the internal channel.
func TestRouterWithSessionHandoff(t *testing.T) {
	sess := session.New()
	r := New(sess)

	_, _, err := sess.BeginTurn("why was I charged twice?")
	require.NoError(t, err)

	entry := core.NodeStart{NodeID: "n1", NodeName: "Triage"}
	sess.Apply(entry)
	r.Route(entry)
	r.RouteToken(core.TokenDelta{NodeID: "n1", Text: "Let me check"})

	handoff := core.NodeStart{NodeID: "n2", NodeName: "Billing", FromAgent: strPtr("Triage")}
	sess.Apply(handoff)
	r.Route(handoff)
	r.RouteToken(core.TokenDelta{NodeID: "n2", Text: "Duplicate invoice found"})

	billingStop := core.NodeStop{NodeID: "n2", NodeName: "Billing", Status: core.StatusCompleted, Response: "Duplicate invoice found, refund issued"}
	sess.Apply(billingStop)
	r.Route(billingStop)

	triageStop := core.NodeStop{NodeID: "n1", NodeName: "Triage", Status: core.StatusCompleted, Response: "You were double-charged; a refund is on its way."}
	sess.Apply(triageStop)
	r.Route(triageStop)

	sess.Apply(core.StreamEnd{})

	snap := sess.Snapshot()
	assert.Equal(t, session.StatusPartial, snap.Status)

	var direct, internal []core.ChatMessage
	for _, m := range snap.Messages {
		switch m.Channel {
		case core.ChannelDirect:
			direct = append(direct, m)
		case core.ChannelInternal:
			internal = append(internal, m)
		}
	}

	require.Len(t, direct, 2)
	assert.Equal(t, core.RoleUser, direct[0].Role)
	assert.Equal(t, "You were double-charged; a refund is on its way.", direct[1].Content)
	assert.False(t, direct[1].IsStreaming)

	require.Len(t, internal, 2)
	assert.Equal(t, "Handoff to Billing", internal[0].Content)
	assert.Equal(t, "Triage", internal[0].AgentName)
	assert.Equal(t, "Duplicate invoice found, refund issued", internal[1].Content)
	assert.Equal(t, "Billing", internal[1].AgentName)
}
