package infrastructure

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	runIDKey   contextKey = "run_id"
)

// WithTraceID stores the request trace ID. The request ID middleware sets it
// and the log handler copies it onto every record logged with the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// GetTraceID returns the trace ID stored in ctx, or ""
func GetTraceID(ctx context.Context) string {
	traceID, _ := ctx.Value(traceIDKey).(string)
	return traceID
}

// WithRunID tags ctx with the run a queued job belongs to
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// GetRunID returns the run ID stored in ctx, or ""
func GetRunID(ctx context.Context) string {
	runID, _ := ctx.Value(runIDKey).(string)
	return runID
}

// LoggerWithContext returns the global logger with the trace and run IDs
// from ctx attached, for code that logs without passing ctx along.
func LoggerWithContext(ctx context.Context) *slog.Logger {
	logger := GetLogger()
	if traceID := GetTraceID(ctx); traceID != "" {
		logger = logger.With(slog.String("trace_id", traceID))
	}
	if runID := GetRunID(ctx); runID != "" {
		logger = logger.With(slog.String("run_id", runID))
	}
	return logger
}

// WithComponent tags logger with the subsystem name
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = GetLogger()
	}
	return logger.With(slog.String("component", component))
}
