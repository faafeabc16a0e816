package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"emprofiler/internal/infrastructure"
	"emprofiler/internal/operations"
)

// RunJob is a submitted run waiting for a worker
type RunJob struct {
	RunID   string
	Target  string
	Params  operations.Params
	TraceID string
}

// RunHandler executes one job. The context is cancelled when the job is
// cancelled or the queue shuts down.
type RunHandler func(ctx context.Context, job *RunJob)

// QueueStats is a point-in-time view of the queue
type QueueStats struct {
	Workers    int  `json:"workers"`
	QueueSize  int  `json:"queue_size"`
	QueueCap   int  `json:"queue_cap"`
	ActiveRuns int  `json:"active_runs"`
	Running    bool `json:"running"`
}

// RunQueue manages asynchronous run execution with a fixed worker pool
type RunQueue struct {
	mu        sync.RWMutex
	jobs      chan *RunJob
	workers   int
	wg        sync.WaitGroup
	handler   RunHandler
	logger    *slog.Logger
	metrics   *infrastructure.PipelineMetrics
	shutdown  chan struct{}
	stopOnce  sync.Once
	started   bool
	queued    map[string]bool
	active    map[string]context.CancelFunc
	cancelled map[string]bool
}

// NewRunQueue creates a queue with the given number of workers and buffered slots
func NewRunQueue(workers, size int, handler RunHandler, logger *slog.Logger) *RunQueue {
	if workers <= 0 {
		workers = 4
	}
	if size <= 0 {
		size = workers * 2
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RunQueue{
		jobs:      make(chan *RunJob, size),
		workers:   workers,
		handler:   handler,
		logger:    infrastructure.WithComponent(logger, "runqueue"),
		shutdown:  make(chan struct{}),
		queued:    make(map[string]bool),
		active:    make(map[string]context.CancelFunc),
		cancelled: make(map[string]bool),
	}
}

// SetMetrics reports queue depth through metrics
func (q *RunQueue) SetMetrics(metrics *infrastructure.PipelineMetrics) {
	q.metrics = metrics
}

// Start launches the workers. Workers exit when ctx is done or Stop is called.
func (q *RunQueue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	q.logger.Info("starting run queue", slog.Int("workers", q.workers))
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

// Stop signals the workers and waits for in-flight runs up to timeout.
// Runs still executing when the timeout expires are cancelled.
func (q *RunQueue) Stop(timeout time.Duration) error {
	q.logger.Info("stopping run queue")
	q.stopOnce.Do(func() { close(q.shutdown) })

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("run queue stopped gracefully")
		return nil
	case <-time.After(timeout):
		q.logger.Warn("run queue stop timeout exceeded, cancelling active runs")
		q.cancelActive()
		return fmt.Errorf("timeout waiting for workers to finish")
	}
}

// Enqueue adds a job without blocking. It returns ErrQueueFull when every
// slot is taken and ErrQueueStopped after Stop.
func (q *RunQueue) Enqueue(job *RunJob) error {
	select {
	case <-q.shutdown:
		return ErrQueueStopped
	default:
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case q.jobs <- job:
		q.queued[job.RunID] = true
		q.recordDepth(1)
		q.logger.Info("run enqueued",
			slog.String("run_id", job.RunID),
			slog.String("target", job.Target))
		return nil
	default:
		q.logger.Warn("run queue is full", slog.String("run_id", job.RunID))
		return ErrQueueFull
	}
}

// Cancel cancels a queued or running job. It reports false when the queue
// does not know the run.
func (q *RunQueue) Cancel(runID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if cancel, ok := q.active[runID]; ok {
		cancel()
		return true
	}
	if q.queued[runID] {
		q.cancelled[runID] = true
		return true
	}
	return false
}

// Stats returns queue statistics
func (q *RunQueue) Stats() QueueStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	running := q.started
	select {
	case <-q.shutdown:
		running = false
	default:
	}

	return QueueStats{
		Workers:    q.workers,
		QueueSize:  len(q.jobs),
		QueueCap:   cap(q.jobs),
		ActiveRuns: len(q.active),
		Running:    running,
	}
}

func (q *RunQueue) worker(ctx context.Context, workerID int) {
	defer q.wg.Done()

	logger := q.logger.With(slog.Int("worker_id", workerID))
	logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopped by context")
			return
		case <-q.shutdown:
			logger.Debug("worker stopped by shutdown")
			return
		case job := <-q.jobs:
			q.recordDepth(-1)
			q.process(ctx, job, logger)
		}
	}
}

func (q *RunQueue) process(ctx context.Context, job *RunJob, logger *slog.Logger) {
	if job.TraceID != "" {
		ctx = infrastructure.WithTraceID(ctx, job.TraceID)
	}
	ctx = infrastructure.WithRunID(ctx, job.RunID)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger = logger.With(slog.String("run_id", job.RunID), slog.String("target", job.Target))

	q.mu.Lock()
	delete(q.queued, job.RunID)
	if q.cancelled[job.RunID] {
		delete(q.cancelled, job.RunID)
		cancel()
	}
	q.active[job.RunID] = cancel
	q.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("run processing panicked", slog.Any("panic", r))
		}
		q.mu.Lock()
		delete(q.active, job.RunID)
		q.mu.Unlock()
	}()

	logger.Info("processing run started")
	q.handler(ctx, job)
	logger.Info("processing run finished")
}

func (q *RunQueue) cancelActive() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, cancel := range q.active {
		cancel()
	}
}

func (q *RunQueue) recordDepth(delta int64) {
	if q.metrics != nil {
		q.metrics.QueueDepth.Add(context.Background(), delta)
	}
}
