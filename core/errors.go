package core

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for wire decoding.
var (
	// ErrMissingEventType marks a line without the event_type discriminator.
	ErrMissingEventType = errors.New("missing event_type")
	// ErrUnknownEventType marks a line whose discriminator is not in the union.
	ErrUnknownEventType = errors.New("unknown event_type")
	// ErrNotWireEvent marks an attempt to encode a remote-only variant.
	ErrNotWireEvent = errors.New("event has no stdout wire form")
)

// ParseError reports a malformed stdout line. The stream continues past it;
// consumers surface it on the error channel and keep reading.
type ParseError struct {
	Line string
	Err  error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	line := e.Line
	if len(line) > 120 {
		line = line[:120] + "..."
	}
	return fmt.Sprintf("parse event line %q: %v", line, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ParseError) Unwrap() error { return e.Err }

// PollError reports a remote store query that kept failing through the retry
// budget. It is recoverable: the poller emits it once and resumes its normal
// interval.
type PollError struct {
	WorkflowID string
	Attempts   int
	Err        error
}

// Error implements the error interface.
func (e *PollError) Error() string {
	return fmt.Sprintf("poll workflow %s: %d attempts failed: %v", e.WorkflowID, e.Attempts, e.Err)
}

// Unwrap returns the underlying cause.
func (e *PollError) Unwrap() error { return e.Err }

// ThrottleError reports a rate-limited completion call. Retried with backoff;
// after exhaustion it is surfaced wrapped in the retry context.
type ThrottleError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *ThrottleError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limited (retry after %s): %v", e.Provider, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("%s rate limited: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ThrottleError) Unwrap() error { return e.Err }

// RemoteErrorKind classifies terminal completion-API failures.
type RemoteErrorKind string

const (
	// RemoteAccessDenied covers authentication and authorization failures.
	RemoteAccessDenied RemoteErrorKind = "access_denied"
	// RemoteInvalidRequest covers malformed or rejected requests.
	RemoteInvalidRequest RemoteErrorKind = "invalid_request"
	// RemoteModelUnavailable covers unknown models and provider overload.
	RemoteModelUnavailable RemoteErrorKind = "model_unavailable"
	// RemoteNetwork covers transport-level failures without an HTTP status.
	RemoteNetwork RemoteErrorKind = "network"
)

// TerminalRemoteError reports a completion-API failure that must never be
// retried. Guidance carries the actionable message shown to the user.
type TerminalRemoteError struct {
	Kind     RemoteErrorKind
	Provider string
	Guidance string
	Err      error
}

// Error implements the error interface.
func (e *TerminalRemoteError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TerminalRemoteError) Unwrap() error { return e.Err }

// IsThrottle reports whether err is (or wraps) a rate-limit classification.
func IsThrottle(err error) bool {
	var t *ThrottleError
	return errors.As(err, &t)
}

// IsTerminalRemote reports whether err is (or wraps) a never-retried
// completion failure, returning its kind when so.
func IsTerminalRemote(err error) (RemoteErrorKind, bool) {
	var t *TerminalRemoteError
	if errors.As(err, &t) {
		return t.Kind, true
	}
	return "", false
}
