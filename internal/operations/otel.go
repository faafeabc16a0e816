package operations

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"emprofiler/internal/infrastructure"
)

const (
	TracerName = "emprofiler.pipeline"
)

// PipelineTracer provides OpenTelemetry instrumentation for pipeline runs.
// A tracer without metrics only produces spans.
type PipelineTracer struct {
	tracer  trace.Tracer
	metrics *infrastructure.PipelineMetrics
}

// NewPipelineTracer creates a tracer recording into metrics, which may be nil
func NewPipelineTracer(metrics *infrastructure.PipelineMetrics) *PipelineTracer {
	return &PipelineTracer{
		tracer:  otel.Tracer(TracerName),
		metrics: metrics,
	}
}

// TraceRun opens the span covering a whole run
func (pt *PipelineTracer) TraceRun(ctx context.Context, runID, target string, stages int) (context.Context, trace.Span) {
	ctx, span := pt.tracer.Start(ctx, "pipeline.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.target", target),
			attribute.Int("run.stages", stages),
		),
	)

	if pt.metrics != nil {
		pt.metrics.ActiveRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("target", target)))
	}
	return ctx, span
}

// TraceStage opens the span covering a single stage
func (pt *PipelineTracer) TraceStage(ctx context.Context, runID, stageID, operation string) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, "pipeline.stage."+operation,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("stage.id", stageID),
			attribute.String("stage.operation", operation),
		),
	)
}

// RecordStageCompletion closes out a stage span and records stage metrics
func (pt *PipelineTracer) RecordStageCompletion(ctx context.Context, span trace.Span, entry StageReport) {
	span.SetAttributes(
		attribute.String("stage.status", string(entry.Status)),
		attribute.Float64("stage.duration_seconds", entry.Elapsed.Seconds()),
		attribute.Int("stage.attempts", entry.Attempts),
	)

	if entry.Status == StageFailed && entry.Error != nil {
		span.SetStatus(codes.Error, entry.Error.Message)
		span.SetAttributes(attribute.String("stage.error_kind", string(entry.Error.Kind)))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	if pt.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", entry.Operation),
		attribute.String("status", string(entry.Status)),
	)
	pt.metrics.StageExecutions.Add(ctx, 1, attrs)
	if entry.Status != StageSkipped {
		pt.metrics.StageDuration.Record(ctx, entry.Elapsed.Seconds(), attrs)
	}
	if entry.Error != nil {
		pt.metrics.StageFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", entry.Operation),
			attribute.String("kind", string(entry.Error.Kind)),
		))
	}
}

// RecordRunCompletion closes out the run span and records run metrics
func (pt *PipelineTracer) RecordRunCompletion(ctx context.Context, span trace.Span, report *RunReport, duration time.Duration) {
	counts := report.Counts()
	span.SetAttributes(
		attribute.String("run.status", string(report.Status)),
		attribute.Float64("run.duration_seconds", duration.Seconds()),
		attribute.Int("run.stages_succeeded", counts[StageSucceeded]),
		attribute.Int("run.stages_failed", counts[StageFailed]),
		attribute.Int("run.stages_skipped", counts[StageSkipped]),
	)

	infrastructure.AddSpanEvent(ctx, "run.completed", map[string]interface{}{
		"run_id":   report.ID,
		"status":   string(report.Status),
		"duration": duration.Seconds(),
	})

	if report.Status == RunSucceeded {
		span.SetStatus(codes.Ok, "run succeeded")
	} else {
		span.SetStatus(codes.Error, "run "+string(report.Status))
	}

	if pt.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("target", report.Target),
		attribute.String("status", string(report.Status)),
	)
	pt.metrics.RunsTotal.Add(ctx, 1, attrs)
	pt.metrics.RunDuration.Record(ctx, duration.Seconds(), attrs)
	pt.metrics.ActiveRuns.Add(ctx, -1, metric.WithAttributes(attribute.String("target", report.Target)))
}
