package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agenttrace/backoff"
	"github.com/hupe1980/agenttrace/core"
	"github.com/hupe1980/agenttrace/eventlog"
	"github.com/hupe1980/agenttrace/internal/summary"
	"github.com/hupe1980/agenttrace/logging"
	"github.com/hupe1980/agenttrace/merger"
	"github.com/hupe1980/agenttrace/observability"
	"github.com/hupe1980/agenttrace/poller"
	"github.com/hupe1980/agenttrace/router"
	"github.com/hupe1980/agenttrace/runner"
	"github.com/hupe1980/agenttrace/session"
	"github.com/hupe1980/agenttrace/store"
)

// DefaultBuffer is the channel capacity used throughout the pipeline.
const DefaultBuffer = 100

var (
	// ErrClosed is returned by operations on a disposed engine.
	ErrClosed = errors.New("engine: closed")
	// ErrAlreadyStarted is returned by Start when a conversation is live.
	// Use Submit for follow-up turns or Reset for a fresh conversation.
	ErrAlreadyStarted = errors.New("engine: session already started")
	// ErrNotStarted is returned by Submit before the first Start.
	ErrNotStarted = errors.New("engine: session not started")
)

// Options configures an Engine instance using the functional options pattern.
type Options struct {
	// Command is the orchestrator argv launched once per turn. Required for
	// Start; an engine without it still serves projections.
	Command []string

	// Workdir is the orchestrator working directory. Empty inherits the
	// engine's own.
	Workdir string

	// Env appends to the orchestrator's inherited environment.
	Env []string

	// GracePeriod between SIGTERM and SIGKILL when stopping a turn.
	// Zero keeps the runner default.
	GracePeriod time.Duration

	// Store is the remote tool-event store polled alongside each run.
	// Defaults to an empty in-memory store.
	Store store.Store

	// PollInterval is the wait between remote poll cycles. Zero keeps the
	// poller default.
	PollInterval time.Duration

	// PollLimit caps records fetched per poll cycle. Zero keeps the store
	// default.
	PollLimit int

	// Policy is the retry schedule for transient remote failures.
	Policy backoff.Policy

	// LogCapacity bounds the event log. Zero keeps the log default.
	LogCapacity int

	// Buffer is the channel capacity used across the pipeline.
	Buffer int

	// Logger receives structured diagnostics from every component.
	Logger logging.Logger

	// Metrics records pipeline counters. Nil disables collection.
	Metrics *observability.Collector

	// Tracing opens one span per turn when set.
	Tracing *observability.Tracing

	// Hooks observe events, log entries, status changes and errors.
	Hooks Hooks
}

// Engine is the session controller: it owns the workflow session, the bounded
// event log and the per-conversation pipeline of subprocess runner, remote
// poller, merger and router. All public methods are safe for concurrent use;
// merged events are applied by a single dispatch goroutine so downstream
// consumers observe one consistent order.
type Engine struct {
	opts Options

	sess   *session.Session
	log    *eventlog.Log
	router *router.Router
	runner *runner.Runner

	mu     sync.Mutex
	run    *sessionRun
	closed bool

	feedOn atomic.Bool
	feed   chan core.Event
	errs   chan error
}

// sessionRun is the conversation-scoped pipeline: one poller and merger per
// workflow identity, shared by every turn. The local channel stays open
// across turns; each turn's subprocess stream is forwarded into it.
type sessionRun struct {
	ctx    context.Context
	cancel context.CancelFunc

	poller  *poller.Poller
	merger  *merger.Merger
	localCh chan core.Event

	g        *errgroup.Group
	turns    sync.WaitGroup
	stopOnce sync.Once
}

// stop tears the pipeline down: cancel kills the active subprocess and the
// poll loop, the turn forwarders drain, then the local source closes so the
// merger can finish. Idempotent.
func (r *sessionRun) stop() {
	r.stopOnce.Do(func() {
		r.cancel()
		r.turns.Wait()
		close(r.localCh)
		r.poller.Stop()
		_ = r.g.Wait()
	})
}

// New creates an Engine. The zero configuration is fully usable for
// projections and tests; launching turns requires Command.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Store:  store.NewInMemoryStore(),
		Policy: backoff.DefaultPolicy(),
		Buffer: DefaultBuffer,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.Store == nil {
		opts.Store = store.NewInMemoryStore()
	}

	e := &Engine{
		opts: opts,
		feed: make(chan core.Event, opts.Buffer),
		errs: make(chan error, 32),
	}

	e.log = eventlog.New(func(o *eventlog.Options) {
		if opts.LogCapacity > 0 {
			o.Capacity = opts.LogCapacity
		}
		o.Logger = opts.Logger
		o.OnEvict = func(n int) {
			opts.Metrics.LogEvictions(context.Background(), n)
		}
	})

	e.sess = session.New(func(o *session.Options) {
		o.Logger = opts.Logger
		o.OnTransition = opts.Hooks.status
	})

	e.router = router.New(e.sess, func(o *router.Options) {
		o.Logger = opts.Logger
	})

	e.runner = runner.New(opts.Command, func(o *runner.Options) {
		o.Workdir = opts.Workdir
		o.Env = opts.Env
		if opts.GracePeriod > 0 {
			o.GracePeriod = opts.GracePeriod
		}
		o.Buffer = opts.Buffer
		o.Logger = opts.Logger
	})

	return e
}

// Start begins the first turn of a fresh conversation: it spawns the
// orchestrator, starts polling the remote store for the session's workflow
// identity and runs the merge pipeline until Reset or Close.
func (e *Engine) Start(ctx context.Context, prompt string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if len(e.opts.Command) == 0 {
		return errors.New("engine: no orchestrator command configured")
	}
	if e.run != nil {
		return ErrAlreadyStarted
	}

	e.startRunLocked()
	return e.launchTurnLocked(ctx, prompt)
}

// Submit begins a follow-up turn. The session must be awaiting input
// (status partial); the orchestrator is re-invoked with the accumulated
// direct-channel conversation context.
func (e *Engine) Submit(ctx context.Context, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.run == nil {
		return ErrNotStarted
	}

	return e.launchTurnLocked(ctx, text)
}

// Reset abandons the current conversation: the active turn is killed, the
// poll loop stops, the session gets a fresh workflow identity and the event
// log clears. Safe to call at any time, from any state.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	if e.run != nil {
		e.run.stop()
		e.run = nil
	}

	e.sess.Reset()
	e.router.Reset()
	e.log.Clear()
	e.opts.Logger.Info("engine reset", "workflow_id", e.sess.WorkflowID())
}

// Close disposes the engine and closes the consumer channels. Repeated calls
// no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	if e.run != nil {
		e.run.stop()
		e.run = nil
	}

	close(e.feed)
	close(e.errs)
	return nil
}

// Session returns a deep copy of the current session state.
func (e *Engine) Session() session.Snapshot {
	return e.sess.Snapshot()
}

// Log returns a copy of the bounded event log.
func (e *Engine) Log() []core.LogEntry {
	return e.log.Entries()
}

// LogFiltered returns matching log entries without mutating the log.
func (e *Engine) LogFiltered(f eventlog.Filter) []core.LogEntry {
	return e.log.Filtered(f)
}

// AgentOptions returns the distinct agent names present in the log, sorted.
func (e *Engine) AgentOptions() []string {
	return e.log.AgentOptions()
}

// Graph returns a copy of the workflow topology, or nil before the
// orchestrator announced one.
func (e *Engine) Graph() *core.Graph {
	e.mu.Lock()
	run := e.run
	e.mu.Unlock()

	if run == nil {
		return nil
	}
	return run.merger.Graph()
}

// Events returns the merged event feed. The feed starts delivering once the
// first consumer asks for it; a slow consumer loses events past the buffer
// rather than stalling the pipeline.
func (e *Engine) Events() <-chan core.Event {
	e.feedOn.Store(true)
	return e.feed
}

// Errors returns the pipeline error channel. Recoverable conditions (poll
// exhaustion, malformed lines) and terminal ones both arrive here after
// being logged and classified.
func (e *Engine) Errors() <-chan error {
	return e.errs
}

// startRunLocked builds the conversation pipeline for the session's current
// workflow identity. Caller holds e.mu.
func (e *Engine) startRunLocked() {
	runCtx, cancel := context.WithCancel(context.Background())

	run := &sessionRun{
		ctx:     runCtx,
		cancel:  cancel,
		localCh: make(chan core.Event, e.opts.Buffer),
	}

	run.poller = poller.New(e.opts.Store, func(o *poller.Options) {
		o.Interval = e.opts.PollInterval
		o.Limit = e.opts.PollLimit
		o.Policy = e.opts.Policy
		o.Buffer = e.opts.Buffer
		o.Logger = e.opts.Logger
		o.Metrics = e.opts.Metrics
	})
	remote, remoteErrs := run.poller.Start(runCtx, e.sess.WorkflowID())

	run.merger = merger.New(func(o *merger.Options) {
		o.Buffer = e.opts.Buffer
		o.Logger = e.opts.Logger
		o.Metrics = e.opts.Metrics
	})
	run.merger.Merge(runCtx, run.localCh, remote)

	g := new(errgroup.Group)
	run.g = g
	g.Go(func() error {
		for ev := range run.merger.Events() {
			e.dispatch(ev)
		}
		return nil
	})
	g.Go(func() error {
		for td := range run.merger.Tokens() {
			e.router.RouteToken(td)
		}
		return nil
	})
	g.Go(func() error {
		for err := range remoteErrs {
			e.reportError(err)
		}
		return nil
	})

	e.run = run
	e.opts.Logger.Info("pipeline started",
		"workflow_id", e.sess.WorkflowID(), "trace_id", e.sess.TraceID())
}

// launchTurnLocked starts one orchestrator turn against the live pipeline.
// Caller holds e.mu and guarantees e.run is non-nil.
func (e *Engine) launchTurnLocked(ctx context.Context, text string) error {
	turn, cctx, err := e.sess.BeginTurn(text)
	if err != nil {
		return err
	}
	e.opts.Metrics.TurnStarted(ctx)

	req := runner.TurnRequest{
		Prompt:     text,
		WorkflowID: e.sess.WorkflowID(),
		TraceID:    e.sess.TraceID(),
		TurnNumber: turn,
	}
	if turn > 1 {
		req.Context = &cctx
	}

	runID, events, errs, err := e.runner.Run(e.run.ctx, req)
	if err != nil {
		e.failTurnLocked(err)
		return fmt.Errorf("start orchestrator turn %d: %w", turn, err)
	}

	e.opts.Logger.Info("turn started",
		"workflow_id", req.WorkflowID, "turn", turn, "run_id", runID)

	run := e.run
	run.turns.Add(1)
	go e.forwardTurn(run, turn, events, errs)
	return nil
}

// failTurnLocked records a turn that could not even spawn. The synthesized
// terminal event travels the normal dispatch path so the session, log, hooks
// and feed all observe it; the conversation ends until Reset.
func (e *Engine) failTurnLocked(cause error) {
	e.dispatch(core.WorkflowError{
		Meta: core.Meta{
			WorkflowID: e.sess.WorkflowID(),
			Timestamp:  time.Now().UTC(),
			TurnNumber: e.sess.Turn(),
			TraceID:    e.sess.TraceID(),
			Source:     core.SourceLocal,
		},
		Error:  cause.Error(),
		Status: "failed",
	})
}

// forwardTurn pumps one subprocess stream into the shared local channel. The
// runner requires both channels drained until close, so after cancellation
// the loop keeps draining without forwarding.
func (e *Engine) forwardTurn(run *sessionRun, turn int, events <-chan core.Event, errs <-chan error) {
	defer run.turns.Done()

	if e.opts.Tracing != nil {
		_, span := e.opts.Tracing.StartTurnSpan(run.ctx, e.sess.WorkflowID(), e.sess.TraceID(), turn)
		defer span.End()
	}

	errsDone := make(chan struct{})
	go func() {
		defer close(errsDone)
		for err := range errs {
			e.reportError(err)
		}
	}()

	canceled := false
	for ev := range events {
		if canceled {
			continue
		}
		select {
		case run.localCh <- ev:
		case <-run.ctx.Done():
			canceled = true
		}
	}
	<-errsDone
}

// dispatch folds one merged event into session state, transcript, log, hooks
// and the consumer feed, in that order.
func (e *Engine) dispatch(ev core.Event) {
	e.sess.Apply(ev)
	e.router.Route(ev)

	if !core.InternalOnly(ev.Type()) {
		entry := summary.Entry(ev)
		e.log.Append(entry)
		e.opts.Hooks.entry(entry)
	}
	e.opts.Hooks.event(ev)

	if e.feedOn.Load() {
		select {
		case e.feed <- ev:
		default:
			e.opts.Logger.Debug("event feed full, dropping", "type", string(ev.Type()))
		}
	}
}

// reportError classifies, logs and surfaces one pipeline error. The error
// channel never blocks the pipeline: with no consumer it fills and further
// errors are dropped after logging.
func (e *Engine) reportError(err error) {
	if err == nil {
		return
	}

	var pollErr *core.PollError
	var parseErr *core.ParseError
	switch {
	case errors.As(err, &pollErr):
		e.opts.Logger.Warn("remote polling degraded, retrying on next interval", "error", err)
	case errors.As(err, &parseErr):
		e.opts.Logger.Warn("skipped malformed orchestrator output", "error", err)
	default:
		if kind, ok := core.IsTerminalRemote(err); ok {
			e.opts.Logger.Error("terminal remote failure", "kind", string(kind), "error", err)
		} else {
			e.opts.Logger.Error("pipeline error", "error", err)
		}
	}

	e.opts.Hooks.error(err)

	select {
	case e.errs <- err:
	default:
		e.opts.Logger.Debug("error channel full, dropping", "error", err)
	}
}
