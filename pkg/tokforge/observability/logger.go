// Package observability provides production-grade observability features
// for the tokforge engine: structured logging, metrics, and tracing.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
)

// EnrichLogger adds engine context to a logger.
// Returns a new logger with dataset and split fields.
func EnrichLogger(logger *slog.Logger, prefix, split string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("dataset", prefix),
		slog.String("split", split),
	)
}

// LogBuildStart logs the start of an index build.
func LogBuildStart(logger *slog.Logger, fingerprint, policy string) {
	if logger == nil {
		return
	}
	logger.Info("index build starting",
		slog.String("fingerprint", fingerprint),
		slog.String("policy", policy),
	)
}

// LogBuildComplete logs a resolved BuildOrLoad.
func LogBuildComplete(logger *slog.Logger, fingerprint string, cacheHit bool, numSamples int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("index ready",
		slog.String("fingerprint", fingerprint),
		slog.Bool("cache_hit", cacheHit),
		slog.Int("num_samples", numSamples),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogBuildError logs an index build failure.
func LogBuildError(logger *slog.Logger, fingerprint string, err error) {
	if logger == nil {
		return
	}
	logger.Error("index build failed",
		slog.String("fingerprint", fingerprint),
		slog.String("error", err.Error()),
	)
}

// LogInjection logs a completed injection.
func LogInjection(logger *slog.Logger, recordID string, ordinal int64, kind string, dryRun bool, docsTouched int) {
	if logger == nil {
		return
	}
	logger.Info("injection applied",
		slog.String("record_id", recordID),
		slog.Int64("ordinal", ordinal),
		slog.String("kind", kind),
		slog.Bool("dry_run", dryRun),
		slog.Int("docs_touched", docsTouched),
	)
}

// LogInjectionError logs an injection failure.
func LogInjectionError(logger *slog.Logger, ordinal int64, kind string, err error) {
	if logger == nil {
		return
	}
	logger.Error("injection failed",
		slog.Int64("ordinal", ordinal),
		slog.String("kind", kind),
		slog.String("error", err.Error()),
	)
}

// LogRevert logs a reverted injection.
func LogRevert(logger *slog.Logger, recordID string, docsTouched int) {
	if logger == nil {
		return
	}
	logger.Info("injection reverted",
		slog.String("record_id", recordID),
		slog.Int("docs_touched", docsTouched),
	)
}
