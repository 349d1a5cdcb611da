package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the tokforge tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("tokforge")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartBuildSpan starts a span for an index build-or-load.
	StartBuildSpan(ctx context.Context, fingerprint, policy string) (context.Context, trace.Span)

	// StartAssembleSpan starts a span for a sample assembly.
	StartAssembleSpan(ctx context.Context, ordinal int64) (context.Context, trace.Span)

	// StartInjectSpan starts a span for an injection.
	StartInjectSpan(ctx context.Context, ordinal int64, kind string, dryRun bool) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the
// provider before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartBuildSpan starts a span for an index build-or-load.
func (m *otelSpanManager) StartBuildSpan(ctx context.Context, fingerprint, policy string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "tokforge.index.build_or_load",
		trace.WithAttributes(
			attribute.String("index.fingerprint", fingerprint),
			attribute.String("index.policy", policy),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartAssembleSpan starts a span for a sample assembly.
func (m *otelSpanManager) StartAssembleSpan(ctx context.Context, ordinal int64) (context.Context, trace.Span) {
	return tracer.Start(ctx, "tokforge.sample.assemble",
		trace.WithAttributes(
			attribute.Int64("sample.ordinal", ordinal),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartInjectSpan starts a span for an injection.
func (m *otelSpanManager) StartInjectSpan(ctx context.Context, ordinal int64, kind string, dryRun bool) (context.Context, trace.Span) {
	return tracer.Start(ctx, "tokforge.inject",
		trace.WithAttributes(
			attribute.Int64("sample.ordinal", ordinal),
			attribute.String("inject.kind", kind),
			attribute.Bool("inject.dry_run", dryRun),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
