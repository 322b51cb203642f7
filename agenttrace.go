// Package agenttrace provides a high-level façade over the engine and its
// supporting services (session state, event log, remote store & logging)
// enabling rapid construction of live workflow viewers. Most applications
// interact with this package by:
//  1. Creating an AgentTrace via New() (optionally overriding the deployment config or store)
//  2. Starting a conversation (Start) and submitting follow-up turns (Submit)
//  3. Consuming the merged feed (Events) or rendering Session()/Log() snapshots
//
// The façade delegates pipeline orchestration to engine.Engine while keeping
// setup and usage ergonomics concise. All defaults are safe for local
// development and testing; production deployments typically supply a durable
// store implementation and tune the deployment config.
package agenttrace

import (
	"context"

	"github.com/hupe1980/agenttrace/config"
	"github.com/hupe1980/agenttrace/core"
	"github.com/hupe1980/agenttrace/engine"
	"github.com/hupe1980/agenttrace/eventlog"
	"github.com/hupe1980/agenttrace/logging"
	"github.com/hupe1980/agenttrace/observability"
	"github.com/hupe1980/agenttrace/session"
	"github.com/hupe1980/agenttrace/store"
)

// Version is the library version, set at release time.
const Version = "0.1.0"

// Options configures the AgentTrace instance.
type Options struct {
	// Config is the deployment configuration (orchestrator command, poll
	// cadence, backoff, logging). Defaults to config.Default().
	Config config.Config

	// Store is the remote tool-event store polled alongside each run
	// (defaults to an in-memory implementation if not provided).
	Store store.Store

	// Logger receives structured diagnostics (defaults to a logger built
	// from the config's log section).
	Logger logging.Logger

	// Metrics records pipeline counters. Nil disables collection.
	Metrics *observability.Collector

	// Tracing opens one span per turn when set.
	Tracing *observability.Tracing

	// Hooks observe events, log entries, status changes and errors.
	Hooks engine.Hooks
}

// AgentTrace is the high-level façade aggregating the underlying engine and
// services.
type AgentTrace struct {
	opts   Options
	engine *engine.Engine

	statusCh chan session.Status
}

// New creates a new AgentTrace instance with optional overrides. Any unset
// service is initialized from the deployment config or with an in-memory
// implementation.
func New(optFns ...func(o *Options)) *AgentTrace {
	opts := Options{
		Config: *config.Default(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = opts.Config.Logger()
	}

	t := &AgentTrace{
		opts:     opts,
		statusCh: make(chan session.Status, 16),
	}

	// Chain the status observer so the sync helpers can follow lifecycle
	// transitions without consuming the event feed.
	userStatus := opts.Hooks.OnStatus
	hooks := opts.Hooks
	hooks.OnStatus = func(from, to session.Status, reason string) {
		select {
		case t.statusCh <- to:
		default:
		}
		if userStatus != nil {
			userStatus(from, to, reason)
		}
	}

	t.engine = engine.New(opts.Config.EngineOptions(), func(o *engine.Options) {
		if opts.Store != nil {
			o.Store = opts.Store
		}
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
		o.Tracing = opts.Tracing
		o.Hooks = hooks
	})

	return t
}

// Start begins the first turn of a fresh conversation.
func (t *AgentTrace) Start(ctx context.Context, prompt string) error {
	return t.engine.Start(ctx, prompt)
}

// Submit begins a follow-up turn; the session must be awaiting input.
func (t *AgentTrace) Submit(ctx context.Context, text string) error {
	return t.engine.Submit(ctx, text)
}

// StartSync is a synchronous helper that starts the conversation and blocks
// until the session settles (partial, complete or error), returning the final
// session snapshot.
func (t *AgentTrace) StartSync(ctx context.Context, prompt string) (session.Snapshot, error) {
	t.drainStatus()
	if err := t.engine.Start(ctx, prompt); err != nil {
		return t.engine.Session(), err
	}
	return t.awaitQuiescent(ctx)
}

// SubmitSync is a synchronous helper that submits a follow-up turn and blocks
// until the session settles again.
func (t *AgentTrace) SubmitSync(ctx context.Context, text string) (session.Snapshot, error) {
	t.drainStatus()
	if err := t.engine.Submit(ctx, text); err != nil {
		return t.engine.Session(), err
	}
	return t.awaitQuiescent(ctx)
}

// Reset abandons the current conversation and prepares a fresh workflow
// identity.
func (t *AgentTrace) Reset() { t.engine.Reset() }

// Close disposes the underlying engine. Repeated calls no-op.
func (t *AgentTrace) Close() error { return t.engine.Close() }

// Session returns a deep copy of the current session state.
func (t *AgentTrace) Session() session.Snapshot { return t.engine.Session() }

// Log returns a copy of the bounded event log.
func (t *AgentTrace) Log() []core.LogEntry { return t.engine.Log() }

// LogFiltered returns matching log entries without mutating the log.
func (t *AgentTrace) LogFiltered(f eventlog.Filter) []core.LogEntry {
	return t.engine.LogFiltered(f)
}

// AgentOptions returns the distinct agent names present in the log, sorted.
func (t *AgentTrace) AgentOptions() []string { return t.engine.AgentOptions() }

// Graph returns a copy of the workflow topology, or nil before the
// orchestrator announced one.
func (t *AgentTrace) Graph() *core.Graph { return t.engine.Graph() }

// Events returns the merged event feed.
func (t *AgentTrace) Events() <-chan core.Event { return t.engine.Events() }

// Errors returns the pipeline error channel.
func (t *AgentTrace) Errors() <-chan error { return t.engine.Errors() }

// drainStatus discards transitions left over from earlier turns so a sync
// helper only observes its own.
func (t *AgentTrace) drainStatus() {
	for {
		select {
		case <-t.statusCh:
		default:
			return
		}
	}
}

// awaitQuiescent blocks until the session leaves running or the context ends.
func (t *AgentTrace) awaitQuiescent(ctx context.Context) (session.Snapshot, error) {
	for {
		select {
		case <-ctx.Done():
			return t.engine.Session(), ctx.Err()
		case st := <-t.statusCh:
			if st != session.StatusRunning {
				return t.engine.Session(), nil
			}
		}
	}
}
