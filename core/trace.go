package core

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// NewWorkflowID generates a fresh workflow identifier. One id spans every
// turn of a conversation session until an explicit reset.
func NewWorkflowID() string { return NewID() }

// NewTraceID generates a 32-hex-character trace identifier compatible with
// the OpenTelemetry trace id format the orchestrator propagates.
func NewTraceID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a
		// uuid-derived id rather than panic.
		return strings.ReplaceAll(NewID(), "-", "")
	}
	return hex.EncodeToString(b[:])
}

// ValidTraceID reports whether s parses as a non-zero OpenTelemetry trace id.
func ValidTraceID(s string) bool {
	id, err := trace.TraceIDFromHex(s)
	return err == nil && id.IsValid()
}
