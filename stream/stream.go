// Package stream provides a finite, non-restartable sequence of values
// produced by one goroutine and consumed lazily by another.
//
// Unlike a bare channel, a Stream distinguishes its two endings (clean close
// versus failure), never blocks the producer, and lets the consumer drain
// values that were pushed before the terminal state. It backs the completion
// client's response streaming, where text fragments arrive while the consumer
// renders at its own pace.
package stream

import (
	"context"
	"errors"
	"sync"
)

// ErrDone signals a cleanly exhausted stream.
var ErrDone = errors.New("stream exhausted")

// Stream is a single-producer, single-consumer value sequence. The producer
// calls Push then exactly one of Close or Fail; the consumer calls Next (or
// Drive) until a terminal error.
type Stream[T any] struct {
	mu    sync.Mutex
	buf   []T
	err   error
	done  bool
	ready chan struct{}
}

// New constructs an open, empty stream.
func New[T any]() *Stream[T] {
	return &Stream[T]{ready: make(chan struct{})}
}

// Push appends one value. Pushes after Close or Fail are dropped.
func (s *Stream[T]) Push(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.buf = append(s.buf, v)
	s.wakeLocked()
}

// Close ends the stream cleanly. Values pushed earlier remain consumable.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.wakeLocked()
}

// Fail ends the stream with err. Values pushed earlier remain consumable;
// once they are drained, Next returns err.
func (s *Stream[T]) Fail(err error) {
	if err == nil {
		s.Close()
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.err = err
	s.wakeLocked()
}

// Next returns the next value, blocking until one is available, the stream
// ends, or the context does. After the last value it returns ErrDone for a
// closed stream or the Fail error.
func (s *Stream[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			v := s.buf[0]
			s.buf = s.buf[1:]
			s.mu.Unlock()
			return v, nil
		}
		if s.done {
			err := s.err
			s.mu.Unlock()
			if err != nil {
				return zero, err
			}
			return zero, ErrDone
		}
		ready := s.ready
		s.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Drive consumes the stream to its end, invoking fn per value. It returns
// nil on clean exhaustion, the Fail error, fn's first error, or the context
// error.
func (s *Stream[T]) Drive(ctx context.Context, fn func(v T) error) error {
	for {
		v, err := s.Next(ctx)
		if errors.Is(err, ErrDone) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
}

// wakeLocked releases every waiter by closing the broadcast channel and
// arming a fresh one. Callers hold the mutex.
func (s *Stream[T]) wakeLocked() {
	close(s.ready)
	s.ready = make(chan struct{})
}
