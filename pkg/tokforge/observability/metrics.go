package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records tokforge engine metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordIndexBuild records one BuildOrLoad resolution: whether it was
	// served from cache and how long it took.
	RecordIndexBuild(ctx context.Context, policy string, cacheHit bool, duration time.Duration)

	// RecordAssembly records a sample assembly with its segment count.
	RecordAssembly(ctx context.Context, duration time.Duration, segments int)

	// RecordInjection records an injection with its outcome.
	RecordInjection(ctx context.Context, kind string, dryRun bool, duration time.Duration, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	indexBuilds      metric.Int64Counter
	buildLatency     metric.Float64Histogram
	assemblies       metric.Int64Counter
	assemblyLatency  metric.Float64Histogram
	sampleSegments   metric.Int64Histogram
	injections       metric.Int64Counter
	injectionLatency metric.Float64Histogram
	injectionErrors  metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("tokforge")

	indexBuilds, err := meter.Int64Counter("tokforge.index.builds",
		metric.WithDescription("Number of index build-or-load resolutions"),
	)
	if err != nil {
		return nil, err
	}

	buildLatency, err := meter.Float64Histogram("tokforge.index.build_latency_ms",
		metric.WithDescription("Index build-or-load latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	assemblies, err := meter.Int64Counter("tokforge.sample.assemblies",
		metric.WithDescription("Number of sample assemblies"),
	)
	if err != nil {
		return nil, err
	}

	assemblyLatency, err := meter.Float64Histogram("tokforge.sample.assembly_latency_ms",
		metric.WithDescription("Sample assembly latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	sampleSegments, err := meter.Int64Histogram("tokforge.sample.segments",
		metric.WithDescription("Document segments per assembled sample"),
	)
	if err != nil {
		return nil, err
	}

	injections, err := meter.Int64Counter("tokforge.inject.operations",
		metric.WithDescription("Number of injection operations"),
	)
	if err != nil {
		return nil, err
	}

	injectionLatency, err := meter.Float64Histogram("tokforge.inject.latency_ms",
		metric.WithDescription("Injection latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	injectionErrors, err := meter.Int64Counter("tokforge.inject.errors",
		metric.WithDescription("Number of failed injection operations"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		indexBuilds:      indexBuilds,
		buildLatency:     buildLatency,
		assemblies:       assemblies,
		assemblyLatency:  assemblyLatency,
		sampleSegments:   sampleSegments,
		injections:       injections,
		injectionLatency: injectionLatency,
		injectionErrors:  injectionErrors,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordIndexBuild records one BuildOrLoad resolution.
func (m *otelMetrics) RecordIndexBuild(ctx context.Context, policy string, cacheHit bool, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("policy", policy),
		attribute.Bool("cache_hit", cacheHit),
	}
	m.indexBuilds.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.buildLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordAssembly records a sample assembly.
func (m *otelMetrics) RecordAssembly(ctx context.Context, duration time.Duration, segments int) {
	m.assemblies.Add(ctx, 1)
	m.assemblyLatency.Record(ctx, float64(duration.Microseconds())/1000)
	m.sampleSegments.Record(ctx, int64(segments))
}

// RecordInjection records an injection.
func (m *otelMetrics) RecordInjection(ctx context.Context, kind string, dryRun bool, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("kind", kind),
		attribute.Bool("dry_run", dryRun),
	}
	m.injections.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.injectionLatency.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(attrs...))
	if err != nil {
		m.injectionErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
