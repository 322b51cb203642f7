// Package backoff centralizes retry policy for every component that talks to
// a networked dependency. The delay schedule is a pure function so retry
// behavior never diverges between the poller and the completion client; the
// Retry wrapper adds context-aware sleeping, permanent-error short-circuiting
// and an attempt cap.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hupe1980/agenttrace/logging"
)

// Policy describes an exponential delay schedule. The zero value is not
// usable; start from DefaultPolicy and override fields as needed.
type Policy struct {
	// Initial is the delay before the first retry.
	Initial time.Duration
	// Max caps the computed delay.
	Max time.Duration
	// Multiplier scales the delay per attempt (2 doubles it each time).
	Multiplier float64
	// MaxAttempts is the number of retries after the first failure. Total
	// tries are MaxAttempts+1.
	MaxAttempts int
}

// DefaultPolicy returns the schedule shared by the poller and the completion
// client: 1s, 2s, 4s, then exhaustion.
func DefaultPolicy() Policy {
	return Policy{Initial: time.Second, Max: 30 * time.Second, Multiplier: 2, MaxAttempts: 3}
}

// Delay computes the wait before retry number attempt (0-based). Pure and
// deterministic: min(Initial * Multiplier^attempt, Max). Negative attempts
// are treated as 0.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	d := time.Duration(float64(p.Initial) * math.Pow(mult, float64(attempt)))
	if d > p.Max || d < 0 {
		d = p.Max
	}
	return d
}

// ExhaustedError wraps the final failure after the attempt cap. Callers decide
// whether it is user-visible (completion client) or recoverable (poller).
type ExhaustedError struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap returns the final underlying failure.
func (e *ExhaustedError) Unwrap() error { return e.Err }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable: Retry returns the original error
// immediately instead of consuming attempts on it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Options configures a Retry run beyond the policy itself.
type Options struct {
	// Logger records retry waits at debug level. Defaults to NoOpLogger.
	Logger logging.Logger
	// Sleep suspends between attempts. Replaceable in tests to observe the
	// delay sequence without waiting. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry observes each scheduled retry (attempt is 0-based).
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Retry runs op until it succeeds, fails permanently, the context ends, or
// the policy's attempt cap is reached. Each Retry call starts a fresh attempt
// counter, so a success resets the schedule by construction.
func Retry(ctx context.Context, p Policy, op func(ctx context.Context) error, optFns ...func(o *Options)) error {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Sleep:  SleepContext,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		lastErr = err
		if attempt >= p.MaxAttempts {
			return &ExhaustedError{Attempts: attempt + 1, Err: lastErr}
		}

		delay := p.Delay(attempt)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, delay, err)
		}
		opts.Logger.Debug("retrying after failure", "attempt", attempt, "delay", delay.String(), "error", err.Error())
		if err := opts.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// SleepContext waits for d or until the context ends, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
