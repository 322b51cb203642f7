// Package observability wires the engine's metrics and tracing. Metrics are
// OpenTelemetry instruments exported through a process-local Prometheus
// registry; tracing reuses the orchestrator's trace id when it is a valid
// W3C id so viewer spans join the workflow's distributed trace.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "agenttrace"

// Collector holds the engine's metric instruments. The zero value (or a nil
// pointer) is a disabled collector whose methods are all no-ops, so call
// sites never guard.
type Collector struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry

	eventsMerged       metric.Int64Counter
	eventsDeduplicated metric.Int64Counter
	pollCycles         metric.Int64Counter
	pollFailures       metric.Int64Counter
	pollRecords        metric.Int64Counter
	pollLatency        metric.Float64Histogram
	logEvictions       metric.Int64Counter
	turnsStarted       metric.Int64Counter
	completionRetries  metric.Int64Counter
}

// Options configures a Collector.
type Options struct {
	// Registry receives the exported metrics. Defaults to a fresh private
	// registry, exposed via Handler.
	Registry *prometheus.Registry
}

// Disabled returns a collector that records nothing.
func Disabled() *Collector { return &Collector{} }

// NewCollector builds a collector backed by an OpenTelemetry meter provider
// with a Prometheus reader.
func NewCollector(optFns ...func(o *Options)) (*Collector, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	exporter, err := otelprom.New(otelprom.WithRegisterer(opts.Registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(meterName)

	c := &Collector{
		provider: provider,
		registry: opts.Registry,
	}

	if c.eventsMerged, err = meter.Int64Counter(
		"agenttrace.events.merged.total",
		metric.WithDescription("Events admitted into the merged stream"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, fmt.Errorf("create events_merged counter: %w", err)
	}

	if c.eventsDeduplicated, err = meter.Int64Counter(
		"agenttrace.events.deduplicated.total",
		metric.WithDescription("Events dropped by the deduplication window"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, fmt.Errorf("create events_deduplicated counter: %w", err)
	}

	if c.pollCycles, err = meter.Int64Counter(
		"agenttrace.poll.cycles.total",
		metric.WithDescription("Remote store poll cycles"),
		metric.WithUnit("{cycle}"),
	); err != nil {
		return nil, fmt.Errorf("create poll_cycles counter: %w", err)
	}

	if c.pollFailures, err = meter.Int64Counter(
		"agenttrace.poll.failures.total",
		metric.WithDescription("Poll cycles that exhausted their retry budget"),
		metric.WithUnit("{cycle}"),
	); err != nil {
		return nil, fmt.Errorf("create poll_failures counter: %w", err)
	}

	if c.pollRecords, err = meter.Int64Counter(
		"agenttrace.poll.records.total",
		metric.WithDescription("Remote records fetched by the poller"),
		metric.WithUnit("{record}"),
	); err != nil {
		return nil, fmt.Errorf("create poll_records counter: %w", err)
	}

	if c.pollLatency, err = meter.Float64Histogram(
		"agenttrace.poll.latency",
		metric.WithDescription("Remote store query latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("create poll_latency histogram: %w", err)
	}

	if c.logEvictions, err = meter.Int64Counter(
		"agenttrace.log.evictions.total",
		metric.WithDescription("Entries evicted from the bounded event log"),
		metric.WithUnit("{entry}"),
	); err != nil {
		return nil, fmt.Errorf("create log_evictions counter: %w", err)
	}

	if c.turnsStarted, err = meter.Int64Counter(
		"agenttrace.turns.total",
		metric.WithDescription("Workflow turns started"),
		metric.WithUnit("{turn}"),
	); err != nil {
		return nil, fmt.Errorf("create turns counter: %w", err)
	}

	if c.completionRetries, err = meter.Int64Counter(
		"agenttrace.completion.retries.total",
		metric.WithDescription("Throttled completion calls that were retried"),
		metric.WithUnit("{retry}"),
	); err != nil {
		return nil, fmt.Errorf("create completion_retries counter: %w", err)
	}

	return c, nil
}

// Handler serves the collector's metrics in Prometheus exposition format.
// Disabled collectors return a handler that reports an empty registry.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.registry == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (c *Collector) Shutdown(ctx context.Context) error {
	if c == nil || c.provider == nil {
		return nil
	}
	return c.provider.Shutdown(ctx)
}

// EventMerged counts one event admitted into the merged stream.
func (c *Collector) EventMerged(ctx context.Context, source string) {
	if c == nil || c.eventsMerged == nil {
		return
	}
	c.eventsMerged.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// EventDeduplicated counts one event dropped by the dedup window.
func (c *Collector) EventDeduplicated(ctx context.Context, source string) {
	if c == nil || c.eventsDeduplicated == nil {
		return
	}
	c.eventsDeduplicated.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// PollCycle records one poll cycle's outcome.
func (c *Collector) PollCycle(ctx context.Context, fetched int, latency time.Duration, err error) {
	if c == nil || c.pollCycles == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		c.pollFailures.Add(ctx, 1)
	}
	c.pollCycles.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	c.pollLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(attribute.String("status", status)))
	if fetched > 0 {
		c.pollRecords.Add(ctx, int64(fetched))
	}
}

// LogEvictions counts entries evicted from the bounded event log.
func (c *Collector) LogEvictions(ctx context.Context, n int) {
	if c == nil || c.logEvictions == nil || n <= 0 {
		return
	}
	c.logEvictions.Add(ctx, int64(n))
}

// TurnStarted counts one workflow turn.
func (c *Collector) TurnStarted(ctx context.Context) {
	if c == nil || c.turnsStarted == nil {
		return
	}
	c.turnsStarted.Add(ctx, 1)
}

// CompletionRetry counts one retried throttled completion call.
func (c *Collector) CompletionRetry(ctx context.Context, provider string) {
	if c == nil || c.completionRetries == nil {
		return
	}
	c.completionRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}
