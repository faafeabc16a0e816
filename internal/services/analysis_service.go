package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"emprofiler/internal/dispatch"
	"emprofiler/internal/exporter"
	"emprofiler/internal/infrastructure"
	"emprofiler/internal/operations"
	"emprofiler/internal/storage/objectstore"
	"emprofiler/internal/storage/runstore"
)

// ArchiveFormats are the formats written to the archive for every finished run
var ArchiveFormats = []exporter.Format{exporter.FormatJSON, exporter.FormatXLSX}

// AnalysisService turns analysis requests into stored runs
type AnalysisService struct {
	dispatcher    *dispatch.Dispatcher
	runs          runstore.Store
	archive       objectstore.Store
	archivePrefix string
	queue         *RunQueue
	logger        *slog.Logger
	now           func() time.Time
}

// AnalysisOption configures an AnalysisService
type AnalysisOption func(*AnalysisService)

// WithArchive exports every finished report to store under prefix
func WithArchive(store objectstore.Store, prefix string) AnalysisOption {
	return func(s *AnalysisService) {
		s.archive = store
		s.archivePrefix = prefix
	}
}

// WithQueue sets the worker count and buffer size of the submission queue
func WithQueue(workers, size int) AnalysisOption {
	return func(s *AnalysisService) {
		s.queue = NewRunQueue(workers, size, s.execute, s.logger)
	}
}

// WithServiceLogger sets the service logger
func WithServiceLogger(logger *slog.Logger) AnalysisOption {
	return func(s *AnalysisService) { s.logger = logger }
}

// NewAnalysisService creates the run service. Options are applied in order,
// so WithServiceLogger should precede WithQueue.
func NewAnalysisService(dispatcher *dispatch.Dispatcher, runs runstore.Store, opts ...AnalysisOption) *AnalysisService {
	s := &AnalysisService{
		dispatcher: dispatcher,
		runs:       runs,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = infrastructure.WithComponent(s.logger, "analysis_service")
	if s.queue == nil {
		s.queue = NewRunQueue(0, 0, s.execute, s.logger)
	}
	return s
}

// Queue returns the submission queue
func (s *AnalysisService) Queue() *RunQueue {
	return s.queue
}

// Start starts the submission workers
func (s *AnalysisService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop stops the submission workers
func (s *AnalysisService) Stop(timeout time.Duration) error {
	return s.queue.Stop(timeout)
}

// Dispatch runs target synchronously and returns the finished run.
// Unknown targets and invalid parameters are returned as errors and nothing
// is stored.
func (s *AnalysisService) Dispatch(ctx context.Context, target string, params operations.Params) (*runstore.Run, error) {
	if err := s.dispatcher.Validate(target, params); err != nil {
		return nil, err
	}

	started := s.now()
	run := &runstore.Run{
		ID:        uuid.NewString(),
		Target:    target,
		Params:    params.Clone(),
		Status:    runstore.StatusRunning,
		CreatedAt: started,
		StartedAt: &started,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to store run: %w", err)
	}

	report, err := s.dispatcher.Run(ctx, dispatch.Request{ID: run.ID, Target: target, Params: params})
	// The request may be cancelled; bookkeeping still has to land
	storeCtx := context.WithoutCancel(ctx)
	if err != nil {
		s.fail(storeCtx, run, err)
		return run.Clone(), err
	}
	s.finish(storeCtx, run, report)
	return run.Clone(), nil
}

// Submit validates the request, stores a queued run and hands it to the
// worker pool. A request that fails validation is stored as rejected and its
// error returned alongside the run.
func (s *AnalysisService) Submit(ctx context.Context, target string, params operations.Params) (*runstore.Run, error) {
	run := &runstore.Run{
		ID:        uuid.NewString(),
		Target:    target,
		Params:    params.Clone(),
		Status:    runstore.StatusQueued,
		CreatedAt: s.now(),
	}

	if verr := s.dispatcher.Validate(target, params); verr != nil {
		s.reject(run, verr)
		if err := s.runs.Create(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to store run: %w", err)
		}
		return run.Clone(), verr
	}

	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to store run: %w", err)
	}

	job := &RunJob{
		RunID:   run.ID,
		Target:  target,
		Params:  run.Params.Clone(),
		TraceID: infrastructure.GetTraceID(ctx),
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.fail(ctx, run, err)
		return run.Clone(), err
	}

	s.logger.InfoContext(ctx, "run_submitted",
		slog.String("run_id", run.ID),
		slog.String("target", target))
	return run.Clone(), nil
}

// execute is the queue handler for submitted runs
func (s *AnalysisService) execute(ctx context.Context, job *RunJob) {
	storeCtx := context.WithoutCancel(ctx)
	logger := infrastructure.LoggerWithContext(infrastructure.WithRunID(ctx, job.RunID))

	run, err := s.runs.Get(storeCtx, job.RunID)
	if err != nil {
		logger.Error("submitted run not found", slog.String("error", err.Error()))
		return
	}

	started := s.now()
	run.Status = runstore.StatusRunning
	run.StartedAt = &started
	if err := s.runs.Update(storeCtx, run); err != nil {
		logger.Error("failed to mark run as running", slog.String("error", err.Error()))
	}

	report, err := s.dispatcher.Run(ctx, dispatch.Request{ID: job.RunID, Target: job.Target, Params: job.Params})
	if err != nil {
		s.fail(storeCtx, run, err)
		return
	}
	s.finish(storeCtx, run, report)
}

func (s *AnalysisService) finish(ctx context.Context, run *runstore.Run, report *operations.RunReport) {
	finished := s.now()
	run.Report = report
	run.Status = runstore.StatusFromReport(report)
	run.FinishedAt = &finished
	if failure := report.Failure(); failure != nil {
		run.Error = failure.Message
		run.ErrorKind = failure.Kind
	}

	if s.archive != nil {
		keys, err := s.archiveReport(ctx, report)
		if err != nil {
			s.logger.WarnContext(ctx, "run_archive_failed",
				slog.String("run_id", run.ID),
				slog.String("error", err.Error()))
		}
		run.ArchiveKeys = keys
	}

	if err := s.runs.Update(ctx, run); err != nil {
		s.logger.ErrorContext(ctx, "failed to store finished run",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()))
		return
	}
	s.logger.InfoContext(ctx, "run_finished",
		slog.String("run_id", run.ID),
		slog.String("target", run.Target),
		slog.String("status", string(run.Status)))
}

func (s *AnalysisService) fail(ctx context.Context, run *runstore.Run, err error) {
	finished := s.now()
	run.Status = runstore.StatusFailed
	run.Error = err.Error()
	run.ErrorKind = operations.KindOf(err)
	run.FinishedAt = &finished
	if uerr := s.runs.Update(ctx, run); uerr != nil {
		s.logger.ErrorContext(ctx, "failed to store failed run",
			slog.String("run_id", run.ID),
			slog.String("error", uerr.Error()))
	}
}

func (s *AnalysisService) reject(run *runstore.Run, err error) {
	finished := s.now()
	run.Status = runstore.StatusRejected
	run.Error = err.Error()
	run.ErrorKind = operations.KindOf(err)
	run.FinishedAt = &finished
}

// ArchiveKey returns the object key of a run's archived report
func (s *AnalysisService) ArchiveKey(runID string, format exporter.Format) string {
	return path.Join(s.archivePrefix, runID, "report."+format.Extension())
}

// archiveReport writes every archive format concurrently and returns the
// keys that were stored, in ArchiveFormats order
func (s *AnalysisService) archiveReport(ctx context.Context, report *operations.RunReport) ([]string, error) {
	stored := make([]string, len(ArchiveFormats))

	g, gctx := errgroup.WithContext(ctx)
	for i, format := range ArchiveFormats {
		g.Go(func() error {
			var buf bytes.Buffer
			if err := exporter.Write(&buf, report, format); err != nil {
				return err
			}
			key := s.ArchiveKey(report.ID, format)
			if err := s.archive.Put(gctx, key, &buf, int64(buf.Len()), format.ContentType()); err != nil {
				return fmt.Errorf("archive %s: %w", key, err)
			}
			stored[i] = key
			return nil
		})
	}
	err := g.Wait()

	keys := make([]string, 0, len(stored))
	for _, key := range stored {
		if key != "" {
			keys = append(keys, key)
		}
	}
	return keys, err
}

// GetRun returns a stored run
func (s *AnalysisService) GetRun(ctx context.Context, id string) (*runstore.Run, error) {
	return s.runs.Get(ctx, id)
}

// ListRuns returns stored runs, newest first
func (s *AnalysisService) ListRuns(ctx context.Context, filter runstore.Filter) ([]*runstore.Run, error) {
	return s.runs.List(ctx, filter)
}

// CancelRun cancels a queued or running submission
func (s *AnalysisService) CancelRun(ctx context.Context, id string) error {
	run, err := s.runs.Get(ctx, id)
	if err != nil {
		return err
	}
	if run.Status.Terminal() || !s.queue.Cancel(id) {
		return fmt.Errorf("run %s: %w", id, ErrRunNotActive)
	}
	s.logger.InfoContext(ctx, "run_cancel_requested", slog.String("run_id", id))
	return nil
}

// CleanupRuns removes finished runs older than maxAge
func (s *AnalysisService) CleanupRuns(ctx context.Context, maxAge time.Duration) (int, error) {
	removed, err := s.runs.Cleanup(ctx, maxAge)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.InfoContext(ctx, "runs_cleaned_up", slog.Int("removed", removed))
	}
	return removed, nil
}

// Targets lists every dispatchable target
func (s *AnalysisService) Targets() []dispatch.TargetInfo {
	return s.dispatcher.Targets()
}

// Target describes one target
func (s *AnalysisService) Target(name string) (dispatch.TargetInfo, error) {
	return s.dispatcher.Target(name)
}

// Aliases returns the legacy alias table
func (s *AnalysisService) Aliases() map[string]string {
	return s.dispatcher.Aliases()
}

// Export renders a finished run's report. Archived copies are served from
// the archive when available.
func (s *AnalysisService) Export(ctx context.Context, runID string, format exporter.Format) ([]byte, error) {
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Report == nil {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFinished)
	}

	if data, ok := s.archived(ctx, run, format); ok {
		return data, nil
	}

	var buf bytes.Buffer
	if err := exporter.Write(&buf, run.Report, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *AnalysisService) archived(ctx context.Context, run *runstore.Run, format exporter.Format) ([]byte, bool) {
	if s.archive == nil {
		return nil, false
	}
	key := s.ArchiveKey(run.ID, format)
	found := false
	for _, k := range run.ArchiveKeys {
		if k == key {
			found = true
			break
		}
	}
	if !found {
		return nil, false
	}

	body, _, err := s.archive.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, objectstore.ErrNotFound) {
			s.logger.WarnContext(ctx, "archive_read_failed",
				slog.String("key", key),
				slog.String("error", err.Error()))
		}
		return nil, false
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, false
	}
	return data, true
}
