package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenttrace/core"
)

func TestEventsAdvanceTimestamps(t *testing.T) {
	b := Events("wf-1")

	start := b.NodeStart("triage", "Triage")
	stop := b.NodeStop("triage", "Triage", "done")

	assert.Equal(t, "wf-1", start.WorkflowID)
	assert.Equal(t, core.SourceLocal, start.Source)
	assert.True(t, stop.Timestamp.After(start.Timestamp), "timestamps must advance per event")
	assert.Equal(t, 100*time.Millisecond, stop.Timestamp.Sub(start.Timestamp))
}

func TestEventsHandoffCarriesSource(t *testing.T) {
	b := Events("wf-1")

	h := b.Handoff("billing", "Billing", "Triage")
	require.NotNil(t, h.FromAgent)
	assert.Equal(t, "Triage", *h.FromAgent)
	assert.False(t, h.IsEntry())
}

func TestEventsRemoteVariants(t *testing.T) {
	b := Events("wf-1")

	call := b.ToolCall("Billing", "crm__lookup_order", `{"order_id":"ORD-5"}`)
	assert.Equal(t, core.SourceRemote, call.Source)
	assert.Equal(t, "crm", call.System)
	assert.Equal(t, "lookup_order", call.Operation)
	assert.NotEmpty(t, call.EventID)

	res := b.ToolResult("Billing", "crm__lookup_order", 420)
	assert.Equal(t, core.StatusCompleted, res.Status)
	assert.Equal(t, int64(420), res.DurationMS)
}

func TestRecordBuilder(t *testing.T) {
	at := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

	rec := RecordFor("wf-1", "Billing").Tool("crm__lookup_order").
		Params(`{"order_id":"ORD-5"}`).At(at).Build()
	require.NoError(t, rec.Validate())
	assert.Equal(t, core.StatusStarted, rec.Status)

	ev, err := rec.Event()
	require.NoError(t, err)
	call, ok := ev.(core.ToolCall)
	require.True(t, ok)
	assert.Equal(t, "Billing", call.AgentName)
	assert.Equal(t, at, call.Timestamp)

	done := RecordFor("wf-1", "Billing").Tool("crm__lookup_order").
		EventID(rec.EventID).At(at.Add(time.Second)).Completed(420).Build()
	require.NoError(t, done.Validate())

	ev, err = done.Event()
	require.NoError(t, err)
	res, ok := ev.(core.ToolResult)
	require.True(t, ok)
	assert.Equal(t, rec.EventID, res.EventID)
	assert.Equal(t, int64(420), res.DurationMS)
}

func TestRecordBuilderSpanRecords(t *testing.T) {
	rec := RecordFor("wf-1", "Billing").Build()

	ev, err := rec.Event()
	require.NoError(t, err)
	span, ok := ev.(core.AgentSpanStart)
	require.True(t, ok)
	assert.Equal(t, "Billing", span.AgentName)
}
