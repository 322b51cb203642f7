// Package config loads the YAML deployment file describing a full engine
// setup: orchestrator command, poll cadence, retry tuning, store backend,
// completion model and diagnostics. The file complements the functional
// options every constructor takes; the bridge methods turn a validated
// Config into ready components. Provider API keys are read from the
// environment by the SDKs, never from the file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agenttrace/backoff"
	"github.com/hupe1980/agenttrace/poller"
	"github.com/hupe1980/agenttrace/runner"
	"github.com/hupe1980/agenttrace/store"
)

// Store driver names accepted by the store section.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Model provider names accepted by the model section.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderMock      = "mock"
)

// Config is the root of the deployment file.
type Config struct {
	Orchestrator Orchestrator `yaml:"orchestrator"`
	Poll         Poll         `yaml:"poll"`
	Backoff      Backoff      `yaml:"backoff"`
	Store        StoreConfig  `yaml:"store"`
	Model        ModelConfig  `yaml:"model"`
	Log          Log          `yaml:"log"`
	Metrics      Metrics      `yaml:"metrics"`
}

// Orchestrator describes how to launch the workflow subprocess.
type Orchestrator struct {
	// Command is the orchestrator argv, invoked once per turn.
	Command []string `yaml:"command"`
	// Workdir is the subprocess working directory. Empty inherits.
	Workdir string `yaml:"workdir"`
	// Env appends KEY=VALUE pairs to the inherited environment.
	Env []string `yaml:"env"`
	// GracePeriod between SIGTERM and SIGKILL on cancellation.
	GracePeriod Duration `yaml:"grace_period"`
}

// Poll tunes the remote tool-event poll loop.
type Poll struct {
	Interval Duration `yaml:"interval"`
	Limit    int      `yaml:"limit"`
}

// Backoff tunes the retry schedule shared by the poller and the completion
// client.
type Backoff struct {
	Initial     Duration `yaml:"initial"`
	Max         Duration `yaml:"max"`
	Multiplier  float64  `yaml:"multiplier"`
	MaxAttempts int      `yaml:"max_attempts"`
}

// StoreConfig selects the remote tool-event store backend.
type StoreConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `yaml:"driver"`
	// DSN is the Postgres connection string. Required for that driver.
	DSN string `yaml:"dsn"`
	// Table overrides the Postgres tool-event table name.
	Table string `yaml:"table"`
}

// ModelConfig selects the completion backend for the chat layer.
type ModelConfig struct {
	// Provider is "anthropic", "openai" or "mock".
	Provider string `yaml:"provider"`
	// Name overrides the provider's default model id.
	Name string `yaml:"name"`
	// MaxTokens caps completion length. Zero keeps the adapter default.
	MaxTokens int64 `yaml:"max_tokens"`
}

// Log tunes the structured diagnostics stream.
type Log struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is json or text.
	Format string `yaml:"format"`
}

// Metrics controls the Prometheus exposition endpoint.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Default returns a configuration mirroring the component defaults: memory
// store, anthropic provider, five second polling and the shared retry
// schedule. The result validates.
func Default() *Config {
	p := backoff.DefaultPolicy()
	return &Config{
		Orchestrator: Orchestrator{
			GracePeriod: Duration(runner.DefaultGracePeriod),
		},
		Poll: Poll{
			Interval: Duration(poller.DefaultInterval),
			Limit:    store.DefaultQueryLimit,
		},
		Backoff: Backoff{
			Initial:     Duration(p.Initial),
			Max:         Duration(p.Max),
			Multiplier:  p.Multiplier,
			MaxAttempts: p.MaxAttempts,
		},
		Store:   StoreConfig{Driver: DriverMemory},
		Model:   ModelConfig{Provider: ProviderAnthropic},
		Log:     Log{Level: "info", Format: "json"},
		Metrics: Metrics{Listen: ":9090"},
	}
}

// Load reads and validates the file at path. Fields absent from the file
// keep their defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates YAML from r on top of the defaults. Unknown
// fields are rejected; an empty document yields the default configuration.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency. It does not require an
// orchestrator command: projection-only and chat-only deployments are legal.
func (c *Config) Validate() error {
	if c.Poll.Interval <= 0 {
		return errors.New("config: poll interval must be positive")
	}
	if c.Poll.Limit < 0 {
		return errors.New("config: poll limit must not be negative")
	}

	if c.Backoff.Initial <= 0 {
		return errors.New("config: backoff initial must be positive")
	}
	if c.Backoff.Max < c.Backoff.Initial {
		return errors.New("config: backoff max must be at least the initial delay")
	}
	if c.Backoff.Multiplier < 1 {
		return errors.New("config: backoff multiplier must be at least 1")
	}
	if c.Backoff.MaxAttempts < 0 {
		return errors.New("config: backoff max_attempts must not be negative")
	}

	if c.Orchestrator.GracePeriod < 0 {
		return errors.New("config: orchestrator grace_period must not be negative")
	}

	switch c.Store.Driver {
	case DriverMemory, "":
	case DriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("config: store driver postgres requires a dsn")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}

	switch c.Model.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderMock, "":
	default:
		return fmt.Errorf("config: unknown model provider %q", c.Model.Provider)
	}
	if c.Model.MaxTokens < 0 {
		return errors.New("config: model max_tokens must not be negative")
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return errors.New("config: metrics enabled without a listen address")
	}

	return nil
}

// Duration wraps time.Duration so the file can say "5s" or "1m30s".
type Duration time.Duration

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler via time.ParseDuration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string such as \"5s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration back into its string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
