package merger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenttrace/core"
)

func metaAt(offset time.Duration) core.Meta {
	return core.Meta{
		WorkflowID: "wf-1",
		Timestamp:  time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC).Add(offset),
		Source:     core.SourceLocal,
	}
}

func remoteMetaAt(offset time.Duration) core.Meta {
	m := metaAt(offset)
	m.Source = core.SourceRemote
	return m
}

func feed(events ...core.Event) <-chan core.Event {
	ch := make(chan core.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func drain(t *testing.T, ch <-chan core.Event) []core.Event {
	t.Helper()
	var out []core.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out draining merged stream")
		}
	}
}

func TestMergePreservesPerSourceOrder(t *testing.T) {
	local := feed(
		core.NodeStart{Meta: metaAt(0), NodeID: "triage", NodeName: "Triage"},
		core.NodeStop{Meta: metaAt(time.Second), NodeID: "triage", NodeName: "Triage", Status: core.StatusCompleted},
		core.WorkflowComplete{Meta: metaAt(2 * time.Second), FinalAgent: "Triage"},
	)
	remote := feed(
		core.ToolCall{Meta: remoteMetaAt(100 * time.Millisecond), EventID: "e1", AgentName: "Triage", ToolName: "crm__lookup"},
		core.ToolResult{Meta: remoteMetaAt(200 * time.Millisecond), EventID: "e1", AgentName: "Triage", ToolName: "crm__lookup", Status: core.StatusCompleted},
	)

	m := New()
	m.Merge(context.Background(), local, remote)
	merged := drain(t, m.Events())

	require.Len(t, merged, 5)

	var localSeq []core.EventType
	var remoteSeq []string
	for _, ev := range merged {
		if ev.Common().Source == core.SourceLocal {
			localSeq = append(localSeq, ev.Type())
		} else {
			remoteSeq = append(remoteSeq, string(ev.Type()))
		}
	}
	assert.Equal(t, []core.EventType{core.EventNodeStart, core.EventNodeStop, core.EventWorkflowComplete}, localSeq)
	assert.Equal(t, []string{"tool_call", "tool_result"}, remoteSeq)
}

func TestMergeDeduplicatesAcrossSources(t *testing.T) {
	// The same stop observed on both paths: identical workflow, type,
	// timestamp and subject.
	stopLocal := core.NodeStop{Meta: metaAt(time.Second), NodeID: "billing", NodeName: "Billing", Status: core.StatusCompleted}
	stopRemote := stopLocal
	stopRemote.Source = core.SourceRemote

	var mu sync.Mutex
	var suppressed []core.Event

	m := New(func(o *Options) {
		o.OnDuplicate = func(ev core.Event) {
			mu.Lock()
			suppressed = append(suppressed, ev)
			mu.Unlock()
		}
	})
	m.Merge(context.Background(), feed(stopLocal), feed(stopRemote))
	merged := drain(t, m.Events())

	require.Len(t, merged, 1)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, suppressed, 1)
	assert.Equal(t, core.EventNodeStop, suppressed[0].Type())
}

func TestMergeKeepsDistinctEventsApart(t *testing.T) {
	// Same node and type but different timestamps: both survive.
	a := core.NodeStart{Meta: metaAt(0), NodeID: "triage", NodeName: "Triage"}
	b := core.NodeStart{Meta: metaAt(time.Millisecond), NodeID: "triage", NodeName: "Triage"}

	m := New()
	m.Merge(context.Background(), feed(a, b), feed())
	merged := drain(t, m.Events())

	assert.Len(t, merged, 2)
}

func TestMergeCapturesGraphOnce(t *testing.T) {
	graph := core.Graph{
		Nodes:      []core.GraphNode{{ID: "triage", Name: "Triage"}, {ID: "billing", Name: "Billing"}},
		Edges:      []core.GraphEdge{{From: "triage", To: "billing", Condition: "handoff"}},
		EntryPoint: "triage",
	}

	m := New()
	assert.Nil(t, m.Graph(), "no snapshot before the structure event")

	m.Merge(context.Background(), feed(
		core.GraphStructure{Meta: metaAt(0), Graph: graph},
		core.NodeStart{Meta: metaAt(time.Second), NodeID: "triage", NodeName: "Triage"},
	), feed())
	merged := drain(t, m.Events())

	// The structure event is consumed, not forwarded.
	require.Len(t, merged, 1)
	assert.Equal(t, core.EventNodeStart, merged[0].Type())

	got := m.Graph()
	require.NotNil(t, got)
	assert.Equal(t, "triage", got.Entry())
	assert.Len(t, got.Nodes, 2)
}

func TestMergeDivertsTokenDeltas(t *testing.T) {
	m := New()
	m.Merge(context.Background(), feed(
		core.NodeStart{Meta: metaAt(0), NodeID: "triage", NodeName: "Triage"},
		core.TokenDelta{Meta: metaAt(time.Millisecond), NodeID: "triage", Text: "Hel"},
		core.TokenDelta{Meta: metaAt(time.Millisecond), NodeID: "triage", Text: "Hel"},
		core.TokenDelta{Meta: metaAt(2 * time.Millisecond), NodeID: "triage", Text: "lo"},
	), feed())

	var tokens []string
	for td := range m.Tokens() {
		tokens = append(tokens, td.Text)
	}
	merged := drain(t, m.Events())

	require.Len(t, merged, 1, "token deltas never enter the merged log")
	// Identical fragments within one timestamp tick are real output, not
	// duplicates.
	assert.Equal(t, []string{"Hel", "Hel", "lo"}, tokens)
}

func recvEvent(t *testing.T, ch <-chan core.Event) core.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "merged stream closed early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for merged event")
		panic("unreachable")
	}
}

func TestMergeTagsRemoteEventsWithOwnerNode(t *testing.T) {
	local := make(chan core.Event)
	remote := make(chan core.Event)

	m := New()
	m.Merge(context.Background(), local, remote)

	// Interleave by hand: reading the merged stream between sends pins the
	// processing order.
	local <- core.NodeStart{Meta: metaAt(0), NodeID: "billing", NodeName: "Billing"}
	assert.Equal(t, core.EventNodeStart, recvEvent(t, m.Events()).Type())

	remote <- core.ToolCall{Meta: remoteMetaAt(100 * time.Millisecond), EventID: "e1", AgentName: "Billing", ToolName: "crm__lookup"}
	call, ok := recvEvent(t, m.Events()).(core.ToolCall)
	require.True(t, ok)
	assert.Equal(t, "billing", call.OwnerNode)

	local <- core.NodeStop{Meta: metaAt(time.Second), NodeID: "billing", NodeName: "Billing", Status: core.StatusCompleted}
	assert.Equal(t, core.EventNodeStop, recvEvent(t, m.Events()).Type())

	// Results routinely land after the agent stopped; attribution must
	// survive the span's end. Lookup is case-insensitive.
	remote <- core.ToolResult{Meta: remoteMetaAt(90 * time.Second), EventID: "e1", AgentName: "billing", ToolName: "crm__lookup", Status: core.StatusCompleted}
	res, ok := recvEvent(t, m.Events()).(core.ToolResult)
	require.True(t, ok)
	assert.Equal(t, "billing", res.OwnerNode)

	remote <- core.ToolCall{Meta: remoteMetaAt(91 * time.Second), EventID: "e2", AgentName: "Unknown", ToolName: "x__y"}
	unattributed, ok := recvEvent(t, m.Events()).(core.ToolCall)
	require.True(t, ok)
	assert.Equal(t, "", unattributed.OwnerNode, "unknown agents stay unattributed")

	close(local)
	close(remote)
	assert.Empty(t, drain(t, m.Events()))
}

func TestMergeForwardsStreamEndInOrder(t *testing.T) {
	m := New()
	m.Merge(context.Background(), feed(
		core.NodeStart{Meta: metaAt(0), NodeID: "triage", NodeName: "Triage"},
		core.StreamEnd{Meta: metaAt(time.Second), ExitCode: 0, SawTerminal: false},
	), feed())
	merged := drain(t, m.Events())

	require.Len(t, merged, 2)
	assert.Equal(t, core.EventStreamEnd, merged[1].Type())
}

func TestMergeStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	local := make(chan core.Event)
	remote := make(chan core.Event)

	m := New()
	m.Merge(ctx, local, remote)
	cancel()

	// Channels close without either input closing.
	drained := drain(t, m.Events())
	assert.Empty(t, drained)
}
