package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayGrowsExponentially(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, 1*time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 8*time.Second, p.Delay(3))
}

func TestDelayCappedAtMax(t *testing.T) {
	p := DefaultPolicy()

	for attempt := 0; attempt < 20; attempt++ {
		d := p.Delay(attempt)
		assert.LessOrEqual(t, d, p.Max, "attempt %d", attempt)
		assert.Greater(t, d, time.Duration(0), "attempt %d", attempt)
	}

	// Beyond the crossover point every delay sits exactly at the cap.
	assert.Equal(t, 30*time.Second, p.Delay(5))
	assert.Equal(t, 30*time.Second, p.Delay(19))
}

func TestDelayMonotonicUntilCap(t *testing.T) {
	p := Policy{Initial: 250 * time.Millisecond, Max: 10 * time.Second, Multiplier: 1.7, MaxAttempts: 5}

	prev := time.Duration(0)
	for attempt := 0; attempt < 12; attempt++ {
		d := p.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		prev = d
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	var slept []time.Duration
	calls := 0

	err := Retry(context.Background(), DefaultPolicy(), func(ctx context.Context) error {
		calls++
		if calls <= 3 {
			return errors.New("transient")
		}
		return nil
	}, func(o *Options) {
		o.Sleep = func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}
	})

	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}, slept)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	cause := errors.New("store unavailable")
	calls := 0

	err := Retry(context.Background(), DefaultPolicy(), func(ctx context.Context) error {
		calls++
		return cause
	}, func(o *Options) {
		o.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	})

	require.Error(t, err)
	// MaxAttempts retries after the initial try.
	assert.Equal(t, 4, calls)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 4, exhausted.Attempts)
	assert.ErrorIs(t, err, cause)
}

func TestRetryPermanentStopsImmediately(t *testing.T) {
	cause := errors.New("bad request")
	calls := 0

	err := Retry(context.Background(), DefaultPolicy(), func(ctx context.Context) error {
		calls++
		return Permanent(cause)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, cause)

	var exhausted *ExhaustedError
	assert.False(t, errors.As(err, &exhausted), "permanent errors must not be wrapped as exhaustion")
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := Retry(ctx, DefaultPolicy(), func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryOnRetryHook(t *testing.T) {
	var attempts []int
	var delays []time.Duration

	_ = Retry(context.Background(), Policy{Initial: time.Millisecond, Max: time.Second, Multiplier: 2, MaxAttempts: 2}, func(ctx context.Context) error {
		return errors.New("transient")
	}, func(o *Options) {
		o.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
		o.OnRetry = func(attempt int, delay time.Duration, err error) {
			attempts = append(attempts, attempt)
			delays = append(delays, delay)
		}
	})

	assert.Equal(t, []int{0, 1}, attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestSleepContextReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := SleepContext(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
