package observability

import (
	"context"
	"crypto/rand"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracing owns the viewer's tracer provider. A nil *Tracing is a disabled
// tracer whose spans are no-ops.
type Tracing struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// TracingOptions configures a Tracing.
type TracingOptions struct {
	// ServiceName labels exported spans. Defaults to "agenttrace".
	ServiceName string
	// Exporter receives finished spans. Without one, spans are still
	// created (and parent ids propagated) but never exported.
	Exporter sdktrace.SpanExporter
}

// NewTracing builds a tracer provider for viewer-side spans.
func NewTracing(optFns ...func(o *TracingOptions)) *Tracing {
	opts := TracingOptions{ServiceName: "agenttrace"}
	for _, fn := range optFns {
		fn(&opts)
	}

	res := resource.NewSchemaless(attribute.String("service.name", opts.ServiceName))
	providerOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if opts.Exporter != nil {
		providerOpts = append(providerOpts, sdktrace.WithBatcher(opts.Exporter))
	}
	provider := sdktrace.NewTracerProvider(providerOpts...)

	return &Tracing{
		provider: provider,
		tracer:   provider.Tracer(meterName),
	}
}

// StartTurnSpan opens a span covering one workflow turn. When traceID is a
// valid W3C trace id, the span joins that trace as a remote child so viewer
// telemetry lines up with the orchestrator's own spans.
func (t *Tracing) StartTurnSpan(ctx context.Context, workflowID, traceID string, turn int) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	if tid, err := trace.TraceIDFromHex(traceID); err == nil && tid.IsValid() {
		var sid trace.SpanID
		_, _ = rand.Read(sid[:])
		sc := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    tid,
			SpanID:     sid,
			TraceFlags: trace.FlagsSampled,
			Remote:     true,
		})
		ctx = trace.ContextWithRemoteSpanContext(ctx, sc)
	}

	return t.tracer.Start(ctx, "workflow.turn",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("workflow.id", workflowID),
			attribute.Int("workflow.turn", turn),
		))
}

// Shutdown flushes and stops the tracer provider.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
