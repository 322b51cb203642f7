// Package parser turns an orchestrator's stdout into a typed event stream.
//
// The orchestrator contract is one JSON event per line. Anything else on the
// stream (human-readable prints, partially written lines, junk from a crashed
// interpreter) must not take the viewer down, so decode failures are reported
// on a side channel and scanning continues with the next line.
package parser

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/hupe1980/agenttrace/core"
	"github.com/hupe1980/agenttrace/logging"
)

const (
	// DefaultBuffer is the capacity of the event and error channels.
	DefaultBuffer = 100
	// DefaultMaxLineBytes bounds a single stdout line. Graph structures for
	// large workflows are the biggest well-formed lines in practice.
	DefaultMaxLineBytes = 1024 * 1024
)

// Options configures a Parser.
type Options struct {
	// Buffer is the event channel capacity.
	Buffer int
	// MaxLineBytes is the scanner's line limit. Lines beyond it surface as a
	// scan error and end the stream.
	MaxLineBytes int
	// Logger receives per-line decode failures at debug level.
	Logger logging.Logger
}

// Parser reads newline-delimited JSON events from a reader, typically the
// stdout pipe of an orchestrator subprocess.
type Parser struct {
	r      io.Reader
	opts   Options
	events chan core.Event
	errs   chan error
}

// New returns a Parser reading from r. Call Run (or Go) to start scanning.
func New(r io.Reader, optFns ...func(o *Options)) *Parser {
	opts := Options{
		Buffer:       DefaultBuffer,
		MaxLineBytes: DefaultMaxLineBytes,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Buffer < 0 {
		opts.Buffer = 0
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultMaxLineBytes
	}

	return &Parser{
		r:      r,
		opts:   opts,
		events: make(chan core.Event, opts.Buffer),
		errs:   make(chan error, opts.Buffer),
	}
}

// Events returns the channel of decoded events. It is closed when Run
// returns.
func (p *Parser) Events() <-chan core.Event {
	return p.events
}

// Errors returns the channel of per-line decode failures. Every value is a
// *core.ParseError except a final scan error. The channel is closed when Run
// returns.
func (p *Parser) Errors() <-chan error {
	return p.errs
}

// Run scans the reader until EOF, a scan error, or context cancellation.
// Blank lines are skipped. A line that fails to decode is reported on Errors
// and scanning continues; the stream itself only ends on reader exhaustion.
// Run closes both channels before returning and must be called once.
func (p *Parser) Run(ctx context.Context) error {
	defer close(p.events)
	defer close(p.errs)

	scanner := bufio.NewScanner(p.r)
	initial := 64 * 1024
	if p.opts.MaxLineBytes < initial {
		// Scanner takes the larger of cap(buf) and max as its line limit.
		initial = p.opts.MaxLineBytes
	}
	scanner.Buffer(make([]byte, initial), p.opts.MaxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		ev, err := core.ParseLine(line)
		if err != nil {
			p.opts.Logger.Debug("dropping undecodable line", "error", err.Error())
			if !send(ctx, p.errs, err) {
				return ctx.Err()
			}
			continue
		}

		if !send(ctx, p.events, ev) {
			return ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		serr := fmt.Errorf("scan event stream: %w", err)
		send(ctx, p.errs, serr)
		return serr
	}
	return nil
}

// Go starts Run in its own goroutine and reports its outcome on the returned
// channel.
func (p *Parser) Go(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx)
	}()
	return done
}

func send[T any](ctx context.Context, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}
