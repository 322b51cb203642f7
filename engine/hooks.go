package engine

import (
	"github.com/hupe1980/agenttrace/core"
	"github.com/hupe1980/agenttrace/session"
)

// Hooks are optional observers of the engine pipeline. They let callers hook
// into the event flow without modifying engine logic: user interfaces redraw
// on OnEntry, status bars follow OnStatus, alerting follows OnError.
//
// Hooks run synchronously on the dispatch goroutine, so implementations must
// be fast and must not call back into the engine. Nil fields are skipped.
type Hooks struct {
	// OnEvent observes every accepted merged event, internal-only types
	// included.
	OnEvent func(ev core.Event)

	// OnEntry observes every entry appended to the bounded event log.
	OnEntry func(entry core.LogEntry)

	// OnStatus observes session lifecycle transitions.
	OnStatus func(from, to session.Status, reason string)

	// OnError observes every error surfaced on the error channel, before
	// any drop-on-full policy applies.
	OnError func(err error)
}

func (h Hooks) event(ev core.Event) {
	if h.OnEvent != nil {
		h.OnEvent(ev)
	}
}

func (h Hooks) entry(e core.LogEntry) {
	if h.OnEntry != nil {
		h.OnEntry(e)
	}
}

func (h Hooks) status(from, to session.Status, reason string) {
	if h.OnStatus != nil {
		h.OnStatus(from, to, reason)
	}
}

func (h Hooks) error(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}
