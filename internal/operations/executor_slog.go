package operations

import (
	"context"
	"log/slog"
	"time"
)

// logRunStart logs the start of a run
func (e *Executor) logRunStart(ctx context.Context, report *RunReport, stages int) {
	e.logger.InfoContext(ctx, "run_start",
		slog.String("run_id", report.ID),
		slog.String("target", report.Target),
		slog.String("pipeline", report.Pipeline),
		slog.String("policy", string(report.Policy)),
		slog.Int("stage_count", stages))
}

// logRunComplete logs the sealed outcome of a run
func (e *Executor) logRunComplete(ctx context.Context, report *RunReport) {
	counts := report.Counts()
	level := slog.LevelInfo
	if report.Status != RunSucceeded {
		level = slog.LevelWarn
	}
	e.logger.Log(ctx, level, "run_complete",
		slog.String("run_id", report.ID),
		slog.String("status", string(report.Status)),
		slog.Int("succeeded", counts[StageSucceeded]),
		slog.Int("failed", counts[StageFailed]),
		slog.Int("skipped", counts[StageSkipped]),
		slog.Duration("duration", report.Elapsed()))
}

// logStageStart logs the start of a stage
func (e *Executor) logStageStart(ctx context.Context, runID, stageID, operation string, timeout time.Duration) {
	e.logger.InfoContext(ctx, "stage_start",
		slog.String("run_id", runID),
		slog.String("stage", stageID),
		slog.String("operation", operation),
		slog.Duration("timeout", timeout))
}

// logStageComplete logs a successful stage
func (e *Executor) logStageComplete(ctx context.Context, runID string, entry StageReport) {
	e.logger.InfoContext(ctx, "stage_complete",
		slog.String("run_id", runID),
		slog.String("stage", entry.Name),
		slog.Int("attempts", entry.Attempts),
		slog.Duration("duration", entry.Elapsed))
}

// logStageError logs a failed stage
func (e *Executor) logStageError(ctx context.Context, runID string, entry StageReport) {
	kind, msg := "", "unknown error"
	if entry.Error != nil {
		kind, msg = string(entry.Error.Kind), entry.Error.Message
	}
	e.logger.ErrorContext(ctx, "stage_error",
		slog.String("run_id", runID),
		slog.String("stage", entry.Name),
		slog.String("kind", kind),
		slog.String("error", msg),
		slog.Duration("duration", entry.Elapsed))
}

// logStageSkipped logs a skipped stage
func (e *Executor) logStageSkipped(ctx context.Context, runID string, entry StageReport) {
	e.logger.InfoContext(ctx, "stage_skipped",
		slog.String("run_id", runID),
		slog.String("stage", entry.Name),
		slog.String("reason", entry.Reason))
}

// logStageRetry logs a retry of a transient collaborator failure
func (e *Executor) logStageRetry(ctx context.Context, stageID string, attempt, maxAttempts int, delay time.Duration, err error) {
	e.logger.WarnContext(ctx, "stage_retry",
		slog.String("stage", stageID),
		slog.Int("attempt", attempt),
		slog.Int("max_attempts", maxAttempts),
		slog.Duration("delay", delay),
		slog.String("error", err.Error()))
}
