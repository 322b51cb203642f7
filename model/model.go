package model

import (
	"context"
	"fmt"
	"sync"
)

// Role identifies the author of a completion message.
type Role string

const (
	// RoleUser marks input authored by the user.
	RoleUser Role = "user"
	// RoleAssistant marks prior model output replayed as history.
	RoleAssistant Role = "assistant"
)

// Message is one conversational turn in a completion request.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request captures the normalized completion input shared by all providers.
// Zero MaxTokens or Temperature defers to the adapter's defaults.
type Request struct {
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int64     `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Chunk is a streamed completion fragment. The terminal chunk carries Final
// and the provider's stop reason with empty Text.
type Chunk struct {
	Text       string `json:"text,omitempty"`
	Final      bool   `json:"final,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Model is the minimal streaming-completion interface the chat layer drives.
// Exactly one of a final chunk or an error ends a Stream call; both channels
// close afterwards.
type Model interface {
	Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Outcome scripts one Stream call of a Mock: the fragments to emit, then
// either a final chunk with StopReason or Err.
type Outcome struct {
	Chunks     []string
	StopReason string
	Err        error
}

// Mock is a lightweight in-memory Model useful for tests & examples.
// Scripted outcomes are consumed in order; once the script runs dry it
// echoes the last user message. Every request is recorded for assertions.
type Mock struct {
	info Info

	mu       sync.Mutex
	script   []Outcome
	requests []Request
}

// NewMock constructs a Mock reporting the given model name.
func NewMock(name string) *Mock {
	return &Mock{info: Info{Name: name, Provider: "mock"}}
}

// Enqueue registers a scripted outcome for a future Stream call.
func (m *Mock) Enqueue(o Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, o)
}

// EnqueueText scripts a successful call streamed as the given fragments.
func (m *Mock) EnqueueText(fragments ...string) {
	m.Enqueue(Outcome{Chunks: fragments, StopReason: "end_turn"})
}

// EnqueueError scripts a call that fails with err.
func (m *Mock) EnqueueError(err error) {
	m.Enqueue(Outcome{Err: err})
}

// Requests returns a copy of every request seen so far.
func (m *Mock) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Stream implements Model; emits the scripted fragments then the terminal
// chunk or error.
func (m *Mock) Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	out := make(chan Chunk, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	var o Outcome
	if len(m.script) > 0 {
		o = m.script[0]
		m.script = m.script[1:]
	} else {
		o = Outcome{
			Chunks:     []string{fmt.Sprintf("Mock response to: %s", lastUserText(req))},
			StopReason: "end_turn",
		}
	}
	m.mu.Unlock()

	go func() {
		defer close(out)
		defer close(errCh)
		for _, text := range o.Chunks {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- Chunk{Text: text}:
			}
		}
		if o.Err != nil {
			errCh <- o.Err
			return
		}
		stop := o.StopReason
		if stop == "" {
			stop = "end_turn"
		}
		out <- Chunk{Final: true, StopReason: stop}
	}()

	return out, errCh
}

// Info implements Model.
func (m *Mock) Info() Info { return m.info }

var _ Model = (*Mock)(nil)

func lastUserText(req Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}
