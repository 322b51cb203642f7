package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/agenttrace/backoff"
	"github.com/hupe1980/agenttrace/engine"
	"github.com/hupe1980/agenttrace/logging"
	"github.com/hupe1980/agenttrace/model"
	anthropicmodel "github.com/hupe1980/agenttrace/model/anthropic"
	openaimodel "github.com/hupe1980/agenttrace/model/openai"
	"github.com/hupe1980/agenttrace/observability"
	"github.com/hupe1980/agenttrace/store"
	"github.com/hupe1980/agenttrace/store/postgres"
)

// BackoffPolicy returns the retry schedule described by the backoff section.
func (c *Config) BackoffPolicy() backoff.Policy {
	return backoff.Policy{
		Initial:     c.Backoff.Initial.Std(),
		Max:         c.Backoff.Max.Std(),
		Multiplier:  c.Backoff.Multiplier,
		MaxAttempts: c.Backoff.MaxAttempts,
	}
}

// Logger builds a slog-backed structured logger honoring the log section.
// Diagnostics go to stderr so anything piped through stdout stays clean.
func (c *Config) Logger() logging.Logger {
	level := slog.LevelInfo
	switch logging.ParseLevel(c.Log.Level) {
	case logging.LogLevelDebug:
		level = slog.LevelDebug
	case logging.LogLevelWarn:
		level = slog.LevelWarn
	case logging.LogLevelError:
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if c.Log.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return logging.NewSlogAdapter(slog.New(handler))
}

// OpenStore builds the tool-event store backend. The returned release func
// closes whatever the driver opened; call it after the engine shuts down.
func (c *Config) OpenStore(ctx context.Context) (store.Store, func(), error) {
	switch c.Store.Driver {
	case DriverMemory, "":
		return store.NewInMemoryStore(), func() {}, nil

	case DriverPostgres:
		s, err := postgres.Connect(ctx, c.Store.DSN, func(o *postgres.Options) {
			if c.Store.Table != "" {
				o.Table = c.Store.Table
			}
			o.Logger = c.Logger()
		})
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, s.Close, nil

	default:
		return nil, nil, fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
}

// ChatModel builds the completion backend for the chat layer. Credentials
// come from the environment (ANTHROPIC_API_KEY, OPENAI_API_KEY); the file
// never carries secrets.
func (c *Config) ChatModel() (model.Model, error) {
	switch c.Model.Provider {
	case ProviderAnthropic, "":
		return anthropicmodel.New(func(o *anthropicmodel.Options) {
			if c.Model.Name != "" {
				o.Model = anthropic.Model(c.Model.Name)
			}
			if c.Model.MaxTokens > 0 {
				o.MaxTokens = c.Model.MaxTokens
			}
		}), nil

	case ProviderOpenAI:
		return openaimodel.New(func(o *openaimodel.Options) {
			if c.Model.Name != "" {
				o.Model = c.Model.Name
			}
			if c.Model.MaxTokens > 0 {
				o.MaxCompletionTokens = c.Model.MaxTokens
			}
		}), nil

	case ProviderMock:
		name := c.Model.Name
		if name == "" {
			name = "mock"
		}
		return model.NewMock(name), nil

	default:
		return nil, fmt.Errorf("config: unknown model provider %q", c.Model.Provider)
	}
}

// Collector builds the metrics collector when the metrics section enables
// it, nil otherwise. Serve Handler() on the configured listen address to
// expose the Prometheus endpoint.
func (c *Config) Collector() (*observability.Collector, error) {
	if !c.Metrics.Enabled {
		return nil, nil
	}
	return observability.NewCollector()
}

// EngineOptions bridges the file into engine functional options: command,
// poll cadence, retry policy and logging. Pair it with OpenStore and
// Collector, which carry a context and a lifecycle of their own:
//
//	st, release, err := cfg.OpenStore(ctx)
//	// handle err, defer release()
//	eng := engine.New(cfg.EngineOptions(), func(o *engine.Options) {
//		o.Store = st
//	})
func (c *Config) EngineOptions() func(o *engine.Options) {
	return func(o *engine.Options) {
		o.Command = c.Orchestrator.Command
		o.Workdir = c.Orchestrator.Workdir
		o.Env = c.Orchestrator.Env
		o.GracePeriod = c.Orchestrator.GracePeriod.Std()
		o.PollInterval = c.Poll.Interval.Std()
		o.PollLimit = c.Poll.Limit
		o.Policy = c.BackoffPolicy()
		o.Logger = c.Logger()
	}
}
