package testutil

import (
	"time"

	"github.com/hupe1980/agenttrace/core"
	"github.com/hupe1980/agenttrace/store"
)

// RecordBuilder assembles remote tool-event records fluently. Example:
//
//	rec := testutil.RecordFor("wf-1", "Billing").Tool("crm__lookup_order").
//		Params(`{"order_id":"ORD-5"}`).Build()
//
// The zero shape is a started tool call at a fixed base time; Completed and
// Failed flip it into the matching outcome record with the same event id, the
// way real writers pair their rows.
type RecordBuilder struct {
	rec store.Record
}

// RecordFor starts a record for the given workflow and agent.
func RecordFor(workflowID, agent string) *RecordBuilder {
	return &RecordBuilder{
		rec: store.NewRecord(workflowID, agent, "", core.StatusStarted,
			time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)),
	}
}

// Tool sets the gateway tool name (chainable). Leave it empty for an agent
// span record.
func (b *RecordBuilder) Tool(name string) *RecordBuilder {
	b.rec.ToolName = name
	return b
}

// At moves the record to the given time (chainable).
func (b *RecordBuilder) At(t time.Time) *RecordBuilder {
	b.rec.SortKey = store.SortKeyFor(t)
	b.rec.ExpiresAt = t.Add(store.DefaultTTL)
	return b
}

// Params sets the recorded parameter JSON with the store's write-side
// truncation (chainable).
func (b *RecordBuilder) Params(json string) *RecordBuilder {
	b.rec = b.rec.WithParameters(json)
	return b
}

// Completed turns the record into a completed outcome (chainable).
func (b *RecordBuilder) Completed(durMS int64) *RecordBuilder {
	b.rec.Status = core.StatusCompleted
	b.rec.DurationMS = durMS
	return b
}

// Failed turns the record into an error outcome (chainable).
func (b *RecordBuilder) Failed(msg string) *RecordBuilder {
	b.rec.Status = core.StatusError
	b.rec = b.rec.WithError(msg)
	return b
}

// EventID overrides the generated event id, pairing this record with another
// (chainable).
func (b *RecordBuilder) EventID(id string) *RecordBuilder {
	b.rec.EventID = id
	return b
}

// Build returns the assembled record.
func (b *RecordBuilder) Build() store.Record {
	return b.rec
}
