package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenttrace/backoff"
	"github.com/hupe1980/agenttrace/core"
	"github.com/hupe1980/agenttrace/model"
	"github.com/hupe1980/agenttrace/stream"
)

func drain(t *testing.T, resp *Response) []string {
	t.Helper()
	var got []string
	err := resp.Drive(context.Background(), func(text string) error {
		got = append(got, text)
		return nil
	})
	_ = err
	return got
}

func TestSendStreamsAndAggregates(t *testing.T) {
	m := model.NewMock("test")
	m.EnqueueText("Hel", "lo")
	c := New(m)

	resp, err := c.Send(context.Background(), "hi")
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo"}, drain(t, resp))
	require.NoError(t, resp.Wait(context.Background()))
	assert.Equal(t, "Hello", resp.Text())
	assert.Equal(t, "end_turn", resp.StopReason())

	history := c.History()
	require.Len(t, history, 1)
	assert.Equal(t, Exchange{User: "hi", Assistant: "Hello"}, history[0])
}

func TestSendReplaysHistory(t *testing.T) {
	m := model.NewMock("test")
	m.EnqueueText("first reply")
	m.EnqueueText("second reply")
	c := New(m, func(o *Options) { o.System = "be helpful" })

	resp, err := c.Send(context.Background(), "one")
	require.NoError(t, err)
	require.NoError(t, resp.Wait(context.Background()))

	resp, err = c.Send(context.Background(), "two")
	require.NoError(t, err)
	require.NoError(t, resp.Wait(context.Background()))

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "be helpful", reqs[1].System)
	require.Len(t, reqs[1].Messages, 3)
	assert.Equal(t, model.Message{Role: model.RoleUser, Content: "one"}, reqs[1].Messages[0])
	assert.Equal(t, model.Message{Role: model.RoleAssistant, Content: "first reply"}, reqs[1].Messages[1])
	assert.Equal(t, model.Message{Role: model.RoleUser, Content: "two"}, reqs[1].Messages[2])
}

func TestSendRetriesThrottle(t *testing.T) {
	m := model.NewMock("test")
	m.EnqueueError(&core.ThrottleError{Provider: "mock", Err: errors.New("429")})
	m.EnqueueError(&core.ThrottleError{Provider: "mock", Err: errors.New("429")})
	m.EnqueueText("finally")

	var mu sync.Mutex
	var slept []time.Duration
	c := New(m, func(o *Options) {
		o.Sleep = func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			slept = append(slept, d)
			mu.Unlock()
			return nil
		}
	})

	resp, err := c.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.NoError(t, resp.Wait(context.Background()))

	assert.Equal(t, "finally", resp.Text())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)
	assert.Len(t, m.Requests(), 3)
	assert.Len(t, c.History(), 1)
}

func TestSendThrottleExhaustion(t *testing.T) {
	m := model.NewMock("test")
	for i := 0; i < 4; i++ {
		m.EnqueueError(&core.ThrottleError{Provider: "mock", Err: errors.New("429")})
	}
	c := New(m, func(o *Options) {
		o.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	})

	resp, err := c.Send(context.Background(), "hi")
	require.NoError(t, err)
	err = resp.Wait(context.Background())
	require.Error(t, err)

	var exhausted *backoff.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 4, exhausted.Attempts)
	assert.True(t, core.IsThrottle(err))
	assert.Empty(t, c.History())
}

func TestSendTerminalErrorNoRetry(t *testing.T) {
	m := model.NewMock("test")
	m.EnqueueError(&core.TerminalRemoteError{
		Kind: core.RemoteAccessDenied, Provider: "mock", Err: errors.New("401"),
	})

	var observed error
	c := New(m, func(o *Options) {
		o.OnError = func(err error) { observed = err }
	})

	resp, err := c.Send(context.Background(), "hi")
	require.NoError(t, err)
	err = resp.Wait(context.Background())
	require.Error(t, err)

	kind, ok := core.IsTerminalRemote(err)
	require.True(t, ok)
	assert.Equal(t, core.RemoteAccessDenied, kind)
	assert.Len(t, m.Requests(), 1)
	assert.Equal(t, err, observed)
}

func TestSendThrottleAfterOutputIsTerminal(t *testing.T) {
	m := model.NewMock("test")
	m.Enqueue(model.Outcome{
		Chunks: []string{"Hi "},
		Err:    &core.ThrottleError{Provider: "mock", Err: errors.New("429")},
	})
	c := New(m, func(o *Options) {
		o.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	})

	resp, err := c.Send(context.Background(), "hi")
	require.NoError(t, err)

	got := drain(t, resp)
	assert.Equal(t, []string{"Hi "}, got)

	err = resp.Wait(context.Background())
	assert.True(t, core.IsThrottle(err))
	var exhausted *backoff.ExhaustedError
	assert.False(t, errors.As(err, &exhausted))
	assert.Len(t, m.Requests(), 1)
}

type gateModel struct {
	release chan struct{}
}

func (g *gateModel) Stream(ctx context.Context, req model.Request) (<-chan model.Chunk, <-chan error) {
	out := make(chan model.Chunk, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case <-g.release:
			out <- model.Chunk{Final: true, StopReason: "end_turn"}
		}
	}()
	return out, errCh
}

func (g *gateModel) Info() model.Info { return model.Info{Name: "gate", Provider: "mock"} }

func TestSendSerialized(t *testing.T) {
	g := &gateModel{release: make(chan struct{})}
	c := New(g)

	resp, err := c.Send(context.Background(), "hi")
	require.NoError(t, err)

	_, err = c.Send(context.Background(), "again")
	assert.ErrorIs(t, err, ErrBusy)

	close(g.release)
	require.NoError(t, resp.Wait(context.Background()))
}

func TestResetClearsHistoryOnly(t *testing.T) {
	m := model.NewMock("test")
	m.EnqueueText("a")
	m.EnqueueText("b")
	c := New(m)

	resp, err := c.Send(context.Background(), "one")
	require.NoError(t, err)
	require.NoError(t, resp.Wait(context.Background()))

	c.Reset()
	assert.Empty(t, c.History())

	resp, err = c.Send(context.Background(), "two")
	require.NoError(t, err)
	require.NoError(t, resp.Wait(context.Background()))

	reqs := m.Requests()
	require.Len(t, reqs[1].Messages, 1)
	assert.Equal(t, "two", reqs[1].Messages[0].Content)
}

func TestCallbacks(t *testing.T) {
	m := model.NewMock("test")
	m.EnqueueText("Hel", "lo")

	var tokens []string
	var complete string
	c := New(m, func(o *Options) {
		o.OnToken = func(text string) { tokens = append(tokens, text) }
		o.OnComplete = func(text string) { complete = text }
	})

	resp, err := c.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.NoError(t, resp.Wait(context.Background()))

	assert.Equal(t, []string{"Hel", "lo"}, tokens)
	assert.Equal(t, "Hello", complete)
}

func TestResponsePull(t *testing.T) {
	m := model.NewMock("test")
	m.EnqueueText("one", "two")
	c := New(m)

	resp, err := c.Send(context.Background(), "hi")
	require.NoError(t, err)

	first, err := resp.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "one", first)

	second, err := resp.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "two", second)

	_, err = resp.Next(context.Background())
	assert.ErrorIs(t, err, stream.ErrDone)
}
