// Package anthropic provides a model wrapper for the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/hupe1980/agenttrace/core"
	"github.com/hupe1980/agenttrace/model"
)

const provider = "anthropic"

// Anthropic signals overload with a non-standard status code.
const statusOverloaded = 529

// Options configures the Anthropic model adapter (temperature, model id,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// New creates a new Anthropic model using the official client.
func New(optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewFromClient creates a new Anthropic model from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Stream implements model.Model. It adapts the Messages streaming API into
// text chunks and classifies API failures into the shared error taxonomy.
func (m *Model) Stream(ctx context.Context, req model.Request) (<-chan model.Chunk, <-chan error) {
	out := make(chan model.Chunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := anthropic.MessageNewParams{
			Model:       m.opts.Model,
			Messages:    buildMessages(req.Messages),
			MaxTokens:   m.maxTokens(req),
			Temperature: anthropic.Float(m.temperature(req)),
		}
		if req.System != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.System}}
		}

		stream := m.client.Messages.NewStreaming(ctx, params)
		stopReason := ""
		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text == "" {
						continue
					}
					select {
					case <-ctx.Done():
						errCh <- ctx.Err()
						return
					case out <- model.Chunk{Text: delta.Text}:
					}
				}
			case anthropic.MessageDeltaEvent:
				if ev.Delta.StopReason != "" {
					stopReason = string(ev.Delta.StopReason)
				}
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

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{Name: string(m.opts.Model), Provider: provider}
}

var _ model.Model = (*Model)(nil)

func (m *Model) maxTokens(req model.Request) int64 {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return m.opts.MaxTokens
}

func (m *Model) temperature(req model.Request) float64 {
	if req.Temperature > 0 {
		return req.Temperature
	}
	return m.opts.Temperature
}

// buildMessages converts normalized messages to the Anthropic message format.
func buildMessages(messages []model.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		block := anthropic.NewTextBlock(msg.Content)
		switch msg.Role {
		case model.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(block))
		default:
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

// classify maps an SDK error onto the shared taxonomy. Context cancellation
// passes through untouched so callers can distinguish it from API failures.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apierr *anthropic.Error
	if !errors.As(err, &apierr) {
		return &core.TerminalRemoteError{
			Kind:     core.RemoteNetwork,
			Provider: provider,
			Guidance: "could not reach the Anthropic API; check network connectivity",
			Err:      err,
		}
	}

	switch apierr.StatusCode {
	case http.StatusTooManyRequests, statusOverloaded:
		return &core.ThrottleError{
			Provider:   provider,
			RetryAfter: retryAfter(apierr.Response),
			Err:        err,
		}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &core.TerminalRemoteError{
			Kind:     core.RemoteAccessDenied,
			Provider: provider,
			Guidance: "verify the ANTHROPIC_API_KEY credential and its permissions",
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
			Guidance: "the Anthropic API is degraded; try again later",
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
