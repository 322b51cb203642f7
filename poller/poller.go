// Package poller periodically reads a workflow's remote tool events out of
// the store and replays them as typed events.
//
// Remote sandboxes cannot stream to the viewer, so their telemetry arrives by
// polling: every cycle queries records after the last seen sort key, converts
// them and advances the cursor. Transient store failures retry with backoff
// inside the cycle; an exhausted cycle surfaces one recoverable error and the
// poller resumes at its normal interval, keeping the cursor so nothing is
// skipped.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/agenttrace/backoff"
	"github.com/hupe1980/agenttrace/core"
	"github.com/hupe1980/agenttrace/logging"
	"github.com/hupe1980/agenttrace/observability"
	"github.com/hupe1980/agenttrace/store"
)

// DefaultInterval is the wait between poll cycles.
const DefaultInterval = 5 * time.Second

// Options configures a Poller.
type Options struct {
	// Interval is the wait between successful poll cycles.
	Interval time.Duration
	// Limit caps records fetched per cycle.
	Limit int
	// Policy is the in-cycle retry schedule for store failures.
	Policy backoff.Policy
	// Buffer is the event channel capacity.
	Buffer int
	// Logger receives per-cycle diagnostics.
	Logger logging.Logger
	// Metrics records cycle latency and failure counts.
	Metrics *observability.Collector
	// Sleep suspends between cycles and retries. Test seam; defaults to a
	// context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Poller drives the poll loop for one workflow.
type Poller struct {
	st   store.Store
	opts Options

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New returns a Poller reading from st. Call Start to begin polling.
func New(st store.Store, optFns ...func(o *Options)) *Poller {
	opts := Options{
		Interval: DefaultInterval,
		Limit:    store.DefaultQueryLimit,
		Policy:   backoff.DefaultPolicy(),
		Buffer:   100,
		Logger:   logging.NoOpLogger{},
		Sleep:    backoff.SleepContext,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Limit <= 0 {
		opts.Limit = store.DefaultQueryLimit
	}
	if opts.Buffer < 0 {
		opts.Buffer = 0
	}

	return &Poller{st: st, opts: opts}
}

// Start launches the poll loop for workflowID. The first cycle runs
// immediately; both channels are closed when the loop ends. Start is
// one-shot: subsequent calls return closed channels.
func (p *Poller) Start(ctx context.Context, workflowID string) (<-chan core.Event, <-chan error) {
	events := make(chan core.Event, p.opts.Buffer)
	errs := make(chan error, p.opts.Buffer)

	started := false
	p.startOnce.Do(func() {
		started = true
		ctx, p.cancel = context.WithCancel(ctx)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer close(events)
			defer close(errs)
			p.run(ctx, workflowID, events, errs)
		}()
	})
	if !started {
		p.opts.Logger.Warn("poller already started", "workflow_id", workflowID)
		close(events)
		close(errs)
	}
	return events, errs
}

// Stop halts the loop and waits for it to drain. Idempotent.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
	})
}

func (p *Poller) run(ctx context.Context, workflowID string, events chan<- core.Event, errs chan<- error) {
	cursor := store.SortKey("")

	for {
		p.pollOnce(ctx, workflowID, &cursor, events, errs)
		if ctx.Err() != nil {
			return
		}
		if err := p.opts.Sleep(ctx, p.opts.Interval); err != nil {
			return
		}
	}
}

// pollOnce runs one cycle: query with in-cycle retries, convert, emit,
// advance the cursor. The cursor only moves past records that were emitted
// (or were undecodable), so a failed cycle re-reads nothing it already
// delivered and skips nothing it has not.
func (p *Poller) pollOnce(ctx context.Context, workflowID string, cursor *store.SortKey, events chan<- core.Event, errs chan<- error) {
	startedAt := time.Now()

	var recs []store.Record
	err := backoff.Retry(ctx, p.opts.Policy, func(ctx context.Context) error {
		var qerr error
		recs, qerr = p.st.QueryAfter(ctx, workflowID, *cursor, p.opts.Limit)
		return qerr
	}, func(o *backoff.Options) {
		o.Logger = p.opts.Logger
		o.Sleep = p.opts.Sleep
	})

	p.opts.Metrics.PollCycle(ctx, len(recs), time.Since(startedAt), err)

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		var exhausted *backoff.ExhaustedError
		attempts := 1
		cause := err
		if errors.As(err, &exhausted) {
			attempts = exhausted.Attempts
			cause = exhausted.Err
		}
		p.opts.Logger.Error("poll cycle failed", "workflow_id", workflowID, "attempts", attempts, "error", cause.Error())
		send[error](ctx, errs, &core.PollError{WorkflowID: workflowID, Attempts: attempts, Err: cause})
		return
	}

	for _, rec := range recs {
		*cursor = rec.SortKey

		ev, cerr := rec.Event()
		if cerr != nil {
			p.opts.Logger.Warn("dropping undecodable record", "workflow_id", workflowID, "sort_key", string(rec.SortKey), "error", cerr.Error())
			if !send(ctx, errs, cerr) {
				return
			}
			continue
		}
		if !send(ctx, events, ev) {
			return
		}
	}

	if len(recs) > 0 {
		p.opts.Logger.Debug("poll cycle complete", "workflow_id", workflowID, "fetched", len(recs), "cursor", string(*cursor))
	}
}

func send[T any](ctx context.Context, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}
