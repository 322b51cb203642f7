// Package openai provides an implementation of model.Model using the OpenAI
// Chat Completions API (streaming). It adapts the normalized Request/Chunk
// structures into the SDK's message format and classifies API failures into
// the shared error taxonomy.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/hupe1980/agenttrace/core"
	"github.com/hupe1980/agenttrace/model"
	"github.com/openai/openai-go"
)

const provider = "openai"

// Options configure the OpenAI model adapter.
// Fields mirror a subset of Chat Completion parameters intentionally kept
// minimal; extend via functional options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

// New creates a new OpenAI model using the official client.
func New(optFns ...func(o *Options)) *Model {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a new OpenAI model from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Stream implements model.Model over the streaming Chat Completions API.
func (m *Model) Stream(ctx context.Context, req model.Request) (<-chan model.Chunk, <-chan error) {
	out := make(chan model.Chunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := openai.ChatCompletionNewParams{
			Model:               m.opts.Model,
			Messages:            buildMessages(req),
			Temperature:         openai.Float(m.temperature(req)),
			MaxCompletionTokens: openai.Int(m.maxTokens(req)),
		}

		stream := m.client.Chat.Completions.NewStreaming(ctx, params)
		stopReason := ""
		for stream.Next() {
			ck := stream.Current()
			if len(ck.Choices) == 0 {
				continue
			}
			choice := ck.Choices[0]
			if choice.Delta.Content != "" {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case out <- model.Chunk{Text: choice.Delta.Content}:
				}
			}
			if choice.FinishReason != "" {
				stopReason = choice.FinishReason
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- classify(err)
			return
		}

		out <- model.Chunk{Final: true, StopReason: stopReason}
	}()

	return out, errCh
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.opts.Model, Provider: provider}
}

var _ model.Model = (*Model)(nil)

func (m *Model) maxTokens(req model.Request) int64 {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return m.opts.MaxCompletionTokens
}

func (m *Model) temperature(req model.Request) float64 {
	if req.Temperature > 0 {
		return req.Temperature
	}
	return m.opts.Temperature
}

// buildMessages converts the normalized request into OpenAI chat messages.
// The system prompt becomes a leading system message.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		if msg.Content == "" {
			continue
		}
		switch msg.Role {
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

// classify maps an SDK error onto the shared taxonomy. Context cancellation
// passes through untouched.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apierr *openai.Error
	if !errors.As(err, &apierr) {
		return &core.TerminalRemoteError{
			Kind:     core.RemoteNetwork,
			Provider: provider,
			Guidance: "could not reach the OpenAI API; check network connectivity",
			Err:      err,
		}
	}

	switch apierr.StatusCode {
	case http.StatusTooManyRequests:
		return &core.ThrottleError{
			Provider:   provider,
			RetryAfter: retryAfter(apierr.Response),
			Err:        err,
		}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &core.TerminalRemoteError{
			Kind:     core.RemoteAccessDenied,
			Provider: provider,
			Guidance: "verify the OPENAI_API_KEY credential and its permissions",
			Err:      err,
		}
	case http.StatusNotFound:
		return &core.TerminalRemoteError{
			Kind:     core.RemoteModelUnavailable,
			Provider: provider,
			Guidance: "the configured model id is unknown to the API",
			Err:      err,
		}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &core.TerminalRemoteError{
			Kind:     core.RemoteInvalidRequest,
			Provider: provider,
			Guidance: "the request was rejected; check prompt size and parameters",
			Err:      err,
		}
	}
	if apierr.StatusCode >= 500 {
		return &core.TerminalRemoteError{
			Kind:     core.RemoteModelUnavailable,
			Provider: provider,
			Guidance: "the OpenAI API is degraded; try again later",
			Err:      err,
		}
	}
	return &core.TerminalRemoteError{
		Kind:     core.RemoteInvalidRequest,
		Provider: provider,
		Guidance: "unexpected API response",
		Err:      err,
	}
}

func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
