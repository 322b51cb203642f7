package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agenttrace/backoff"
	"github.com/hupe1980/agenttrace/core"
	"github.com/hupe1980/agenttrace/logging"
	"github.com/hupe1980/agenttrace/model"
	"github.com/hupe1980/agenttrace/observability"
	"github.com/hupe1980/agenttrace/stream"
)

// ErrBusy is returned by Send while a previous exchange is still in flight.
var ErrBusy = errors.New("chat: send already in flight")

// Exchange is one completed (user, assistant) pair in the chat history.
type Exchange struct {
	User      string
	Assistant string
}

// Options configures a Chat.
type Options struct {
	// System is the system prompt sent with every request.
	System string
	// MaxTokens caps the completion length. Zero defers to the adapter.
	MaxTokens int64
	// Temperature for sampling. Zero defers to the adapter.
	Temperature float64
	// Policy governs throttle retries.
	Policy backoff.Policy
	// Logger receives retry and failure diagnostics.
	Logger logging.Logger
	// Metrics counts completion retries. Nil disables collection.
	Metrics *observability.Collector
	// OnToken observes every streamed fragment.
	OnToken func(text string)
	// OnComplete observes the full text of each successful exchange.
	OnComplete func(text string)
	// OnError observes terminal failures.
	OnError func(err error)
	// Sleep overrides the retry wait. Test seam.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Chat streams completions from one model over an in-process history.
// Send is serialized: a second call while an exchange is in flight returns
// ErrBusy instead of queueing.
type Chat struct {
	m    model.Model
	opts Options

	mu      sync.Mutex
	busy    bool
	history []Exchange
}

// New creates a Chat for the given model.
func New(m model.Model, optFns ...func(o *Options)) *Chat {
	opts := Options{
		Policy: backoff.DefaultPolicy(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Chat{m: m, opts: opts}
}

// Send submits text and returns the streaming Response for the assistant's
// reply. The request carries the full exchange history plus text; history
// grows only when the exchange succeeds.
func (c *Chat) Send(ctx context.Context, text string) (*Response, error) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.busy = true
	req := c.buildRequestLocked(text)
	c.mu.Unlock()

	resp := &Response{
		s:    stream.New[string](),
		done: make(chan struct{}),
	}
	go c.run(ctx, text, req, resp)
	return resp, nil
}

// History returns a copy of the completed exchanges.
func (c *Chat) History() []Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Exchange, len(c.history))
	copy(out, c.history)
	return out
}

// Reset clears the local history. It does not touch any in-flight exchange.
func (c *Chat) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
}

func (c *Chat) buildRequestLocked(text string) model.Request {
	msgs := make([]model.Message, 0, len(c.history)*2+1)
	for _, ex := range c.history {
		msgs = append(msgs, model.Message{Role: model.RoleUser, Content: ex.User})
		msgs = append(msgs, model.Message{Role: model.RoleAssistant, Content: ex.Assistant})
	}
	msgs = append(msgs, model.Message{Role: model.RoleUser, Content: text})
	return model.Request{
		System:      c.opts.System,
		Messages:    msgs,
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
	}
}

func (c *Chat) run(ctx context.Context, userText string, req model.Request, resp *Response) {
	var sb strings.Builder
	var stopReason string
	emitted := false

	op := func(ctx context.Context) error {
		chunks, errs := c.m.Stream(ctx, req)
		for chunk := range chunks {
			if chunk.Final {
				stopReason = chunk.StopReason
				continue
			}
			if chunk.Text == "" {
				continue
			}
			emitted = true
			sb.WriteString(chunk.Text)
			resp.s.Push(chunk.Text)
			if c.opts.OnToken != nil {
				c.opts.OnToken(chunk.Text)
			}
		}
		err := <-errs
		if err == nil {
			return nil
		}
		// A throttle is only safely retryable while the reply is still
		// empty; retrying after output would duplicate fragments.
		if core.IsThrottle(err) && !emitted {
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(ctx, c.opts.Policy, op, func(o *backoff.Options) {
		o.Logger = c.opts.Logger
		if c.opts.Sleep != nil {
			o.Sleep = c.opts.Sleep
		}
		o.OnRetry = func(attempt int, delay time.Duration, cause error) {
			c.opts.Logger.Info("completion throttled, retrying",
				"attempt", attempt, "delay", delay.String(), "error", cause.Error())
			c.opts.Metrics.CompletionRetry(ctx, c.m.Info().Provider)
		}
	})
	if err != nil {
		resp.s.Fail(err)
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
		resp.finish(sb.String(), stopReason, err)
		if c.opts.OnError != nil {
			c.opts.OnError(err)
		}
		return
	}

	full := sb.String()
	c.mu.Lock()
	c.history = append(c.history, Exchange{User: userText, Assistant: full})
	c.busy = false
	c.mu.Unlock()

	resp.s.Close()
	resp.finish(full, stopReason, nil)
	if c.opts.OnComplete != nil {
		c.opts.OnComplete(full)
	}
}

// Response is one in-flight or finished exchange. Fragments are consumed
// through Next or Drive; Wait blocks for the outcome.
type Response struct {
	s    *stream.Stream[string]
	done chan struct{}

	mu         sync.Mutex
	text       string
	stopReason string
	err        error
}

// Next returns the next fragment, blocking until one is available or the
// exchange ends (stream.ErrDone, the terminal error, or ctx).
func (r *Response) Next(ctx context.Context) (string, error) {
	return r.s.Next(ctx)
}

// Drive invokes fn for every fragment until the exchange ends. A nil return
// means the reply completed; otherwise the terminal, fn or context error.
func (r *Response) Drive(ctx context.Context, fn func(text string) error) error {
	return r.s.Drive(ctx, fn)
}

// Wait blocks until the exchange completes or fails.
func (r *Response) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return r.Err()
	}
}

// Text returns the aggregated assistant reply. Complete once Wait returns.
func (r *Response) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.text
}

// StopReason reports the provider's stop reason for a successful exchange.
func (r *Response) StopReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopReason
}

// Err returns the terminal error, or nil. Settled once Wait returns.
func (r *Response) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Response) finish(text, stopReason string, err error) {
	r.mu.Lock()
	r.text = text
	r.stopReason = stopReason
	r.err = err
	r.mu.Unlock()
	close(r.done)
}
