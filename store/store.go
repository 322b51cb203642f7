package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/hupe1980/agenttrace/core"
)

const (
	// DefaultQueryLimit caps records returned per poll cycle.
	DefaultQueryLimit = 100
	// DefaultTTL is how long a record stays queryable. Remote sandboxes are
	// short-lived, so their telemetry expires instead of accumulating.
	DefaultTTL = 2 * time.Hour

	// MaxParameterBytes truncates recorded tool parameters at write time.
	MaxParameterBytes = 200
	// MaxErrorMessageBytes truncates recorded error messages at write time.
	MaxErrorMessageBytes = 500

	sortKeyLayout = "2006-01-02T15:04:05.000000-07:00"
)

// SortKey is a microsecond-precision ISO-8601 timestamp with offset, for
// example 2024-01-15T10:30:00.123456+00:00. Keys order lexicographically
// exactly as they order chronologically, which is what makes the after-cursor
// query work on a plain string column.
type SortKey string

// SortKeyFor formats t as a sort key. Timestamps are normalized to UTC so
// keys written by different hosts stay mutually ordered.
func SortKeyFor(t time.Time) SortKey {
	return SortKey(t.UTC().Format(sortKeyLayout))
}

// Time parses the sort key back into a timestamp.
func (k SortKey) Time() (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, string(k))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse sort key %q: %w", string(k), err)
	}
	return t.UTC(), nil
}

// IsZero reports whether the key is the empty cursor, which sorts before
// every real key.
func (k SortKey) IsZero() bool { return k == "" }

// Record is one remote tool-event row. Writers emit a started record when a
// tool call begins and a completed or error record when it returns; records
// with an empty ToolName mark agent span boundaries instead.
type Record struct {
	WorkflowID   string
	SortKey      SortKey
	EventID      string
	AgentName    string
	ToolName     string
	Status       string
	Parameters   string
	DurationMS   int64
	ErrorMessage string
	ExpiresAt    time.Time
}

// NewRecord builds a record for a tool-call edge, applying the write-side
// truncation and TTL conventions.
func NewRecord(workflowID, agentName, toolName, status string, at time.Time) Record {
	return Record{
		WorkflowID: workflowID,
		SortKey:    SortKeyFor(at),
		EventID:    core.NewID(),
		AgentName:  agentName,
		ToolName:   toolName,
		Status:     status,
		ExpiresAt:  at.Add(DefaultTTL),
	}
}

// WithParameters sets the recorded parameter JSON, truncated to the store
// limit.
func (r Record) WithParameters(params string) Record {
	r.Parameters = truncate(params, MaxParameterBytes)
	return r
}

// WithError sets the recorded failure detail, truncated to the store limit.
func (r Record) WithError(msg string) Record {
	r.ErrorMessage = truncate(msg, MaxErrorMessageBytes)
	return r
}

// Validate checks the invariants every backend enforces on append.
func (r Record) Validate() error {
	switch {
	case r.WorkflowID == "":
		return fmt.Errorf("record missing workflow id")
	case r.SortKey.IsZero():
		return fmt.Errorf("record missing sort key")
	case r.EventID == "":
		return fmt.Errorf("record missing event id")
	case r.AgentName == "":
		return fmt.Errorf("record missing agent name")
	}
	switch r.Status {
	case core.StatusStarted, core.StatusCompleted, core.StatusError:
		return nil
	default:
		return fmt.Errorf("record %s: unknown status %q", r.EventID, r.Status)
	}
}

// Expired reports whether the record's TTL has passed at now. Records without
// an expiry never expire.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !r.ExpiresAt.After(now)
}

// Event converts the record into its typed event. Started records become
// ToolCall, completed and error records become ToolResult; records without a
// tool name mark agent span boundaries. Truncated parameter JSON is repaired
// on a best-effort basis, with the raw form preserved alongside.
func (r Record) Event() (core.Event, error) {
	ts, err := r.SortKey.Time()
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", r.EventID, err)
	}

	meta := core.Meta{
		WorkflowID: r.WorkflowID,
		Timestamp:  ts,
		Source:     core.SourceRemote,
	}

	if r.ToolName == "" {
		switch r.Status {
		case core.StatusStarted:
			return core.AgentSpanStart{Meta: meta, AgentName: r.AgentName}, nil
		case core.StatusCompleted, core.StatusError:
			return core.AgentSpanEnd{Meta: meta, AgentName: r.AgentName, Status: r.Status}, nil
		default:
			return nil, fmt.Errorf("record %s: unknown status %q", r.EventID, r.Status)
		}
	}

	system, operation := core.SplitToolName(r.ToolName)

	switch r.Status {
	case core.StatusStarted:
		return core.ToolCall{
			Meta:      meta,
			EventID:   r.EventID,
			AgentName: r.AgentName,
			ToolName:  r.ToolName,
			System:    system,
			Operation: operation,
			Params:    repairParams(r.Parameters),
			RawParams: r.Parameters,
		}, nil
	case core.StatusCompleted, core.StatusError:
		return core.ToolResult{
			Meta:         meta,
			EventID:      r.EventID,
			AgentName:    r.AgentName,
			ToolName:     r.ToolName,
			System:       system,
			Operation:    operation,
			Status:       r.Status,
			DurationMS:   r.DurationMS,
			ErrorMessage: r.ErrorMessage,
		}, nil
	default:
		return nil, fmt.Errorf("record %s: unknown status %q", r.EventID, r.Status)
	}
}

// Store is the remote tool-event store contract.
type Store interface {
	// Append writes one record. Appending a record with an existing
	// (workflow id, sort key) pair is idempotent.
	Append(ctx context.Context, rec Record) error
	// QueryAfter returns up to limit unexpired records for the workflow with
	// sort keys strictly greater than after, in ascending sort-key order.
	// A zero after returns from the beginning.
	QueryAfter(ctx context.Context, workflowID string, after SortKey, limit int) ([]Record, error)
}

// repairParams recovers valid JSON from the truncated parameter field.
// Write-side truncation routinely chops objects mid-string; the repaired
// form is best-effort and falls back to the raw text when unrecoverable.
func repairParams(params string) string {
	if params == "" {
		return ""
	}
	if json.Valid([]byte(params)) {
		return params
	}
	repaired, err := jsonrepair.JSONRepair(params)
	if err != nil {
		return params
	}
	return repaired
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
