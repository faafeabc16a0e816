package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// RunRequest asks the executor to run a definition
type RunRequest struct {
	ID     string
	Target string
	Params Params
}

// Executor runs pipeline definitions. It holds no per-run state and may be
// shared by any number of concurrent requests.
type Executor struct {
	config      *Config
	tracer      *PipelineTracer
	broadcaster *StatusBroadcaster
	logger      *slog.Logger
	now         func() time.Time
}

// ExecutorOption configures an executor
type ExecutorOption func(*Executor)

// WithTracer sets the tracer used for spans and metrics
func WithTracer(tracer *PipelineTracer) ExecutorOption {
	return func(e *Executor) { e.tracer = tracer }
}

// WithBroadcaster publishes live run snapshots
func WithBroadcaster(broadcaster *StatusBroadcaster) ExecutorOption {
	return func(e *Executor) { e.broadcaster = broadcaster }
}

// WithLogger sets the executor logger
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// NewExecutor creates a new executor with dependency injection
func NewExecutor(config *Config, opts ...ExecutorOption) *Executor {
	if config == nil {
		config = NewConfig()
	}
	e := &Executor{
		config: config,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = NewPipelineTracer(nil)
	}
	return e
}

// Config returns the executor configuration
func (e *Executor) Config() *Config {
	return e.config
}

// Execute runs def in declared order and returns the sealed report.
// The returned error is non-nil only when the request itself is invalid, in
// which case no stage has run and no report is produced. Stage failures,
// timeouts and cancellation are recorded in the report.
func (e *Executor) Execute(ctx context.Context, def *Definition, req RunRequest) (*RunReport, error) {
	if def == nil {
		return nil, errors.New("nil pipeline definition")
	}
	if err := def.ValidateRequest(req.Params); err != nil {
		return nil, err
	}
	scoped, err := def.splitParams(req.Params)
	if err != nil {
		return nil, err
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Target == "" {
		req.Target = def.Name()
	}

	report := newRunReport(req.ID, req.Target, def, e.now())
	ctx, span := e.tracer.TraceRun(ctx, report.ID, report.Target, def.Len())
	defer span.End()

	e.logRunStart(ctx, report, def.Len())
	e.broadcaster.CreateRun(report.ID, report.Target, def.StageIDs(), e.operationNames(def))
	e.broadcaster.StartRun(report.ID)

	run := &pipelineRun{
		executor: e,
		def:      def,
		report:   report,
		scoped:   scoped,
		blocked:  make(map[int]bool),
	}
	run.execute(ctx)

	report.seal(e.now())
	e.tracer.RecordRunCompletion(ctx, span, report, report.Elapsed())
	e.broadcaster.FinishRun(report)
	e.logRunComplete(ctx, report)

	return report, nil
}

func (e *Executor) operationNames(def *Definition) []string {
	names := make([]string, def.Len())
	for i, op := range def.ops {
		names[i] = op.Name()
	}
	return names
}

// pipelineRun carries the state of one execution
type pipelineRun struct {
	executor *Executor
	def      *Definition
	report   *RunReport
	scoped   []Params

	// blocked holds stages that failed or were skipped; their dependents are skipped
	blocked     map[int]bool
	abortReason string
	failed      bool
	cancelled   bool
}

func (r *pipelineRun) execute(ctx context.Context) {
	for i := range r.def.stages {
		stage := r.def.stages[i]
		entry := StageReport{
			Name:      stage.ID,
			Operation: stage.Operation,
		}

		switch {
		case r.abortReason != "":
			r.skip(ctx, i, entry, r.abortReason)
			continue
		case ctx.Err() != nil:
			r.cancel(ctx, &CancellationError{Cause: ctx.Err()})
			r.skip(ctx, i, entry, r.abortReason)
			continue
		}

		if dep, ok := r.blockingDependency(i); ok {
			r.skip(ctx, i, entry, fmt.Sprintf("dependency %s did not succeed", dep))
			continue
		}

		r.runStage(ctx, i, entry)
	}

	switch {
	case r.cancelled:
		r.report.Status = RunCancelled
	case r.failed:
		r.report.Status = RunFailed
	default:
		r.report.Status = RunSucceeded
	}
}

func (r *pipelineRun) runStage(ctx context.Context, i int, entry StageReport) {
	e := r.executor
	stage := r.def.stages[i]
	op := r.def.ops[i]
	timeout := e.config.StageTimeout(stage, op)

	stageCtx, span := e.tracer.TraceStage(ctx, r.report.ID, stage.ID, op.Name())
	defer span.End()

	entry.StartedAt = e.now()
	e.logStageStart(stageCtx, r.report.ID, stage.ID, op.Name(), timeout)
	e.broadcaster.StartStage(r.report.ID, stage.ID)

	inputs, err := r.resolveInputs(i)
	if err != nil {
		entry.Elapsed = e.now().Sub(entry.StartedAt)
		var bindErr *BindingResolutionError
		if errors.As(err, &bindErr) {
			r.report.Error = NewStageError(err)
			r.fail(stageCtx, span, i, entry, err)
			r.abortReason = "pipeline aborted: " + err.Error()
			return
		}
		entry.Inputs = inputs
		r.fail(stageCtx, span, i, entry, err)
		r.applyPolicy(stage.ID)
		return
	}
	entry.Inputs = inputs

	result, attempts, err := e.invoke(stageCtx, stage.ID, op, inputs, timeout)
	entry.Attempts = attempts
	entry.Elapsed = e.now().Sub(entry.StartedAt)

	if err != nil {
		r.fail(stageCtx, span, i, entry, err)
		if KindOf(err) == KindCancelled {
			r.cancel(ctx, err)
			return
		}
		r.applyPolicy(stage.ID)
		return
	}

	entry.Status = StageSucceeded
	entry.Result = result
	r.record(entry)
	e.tracer.RecordStageCompletion(stageCtx, span, entry)
	e.logStageComplete(stageCtx, r.report.ID, entry)
}

// resolveInputs merges defaults, static params, request params and bound values
func (r *pipelineRun) resolveInputs(i int) (Params, error) {
	stage := r.def.stages[i]
	schema := r.def.ops[i].Schema()

	inputs := schema.Defaults()
	for k, v := range stage.Params {
		inputs[k] = cloneValue(v)
	}
	for k, v := range r.scoped[i] {
		inputs[k] = cloneValue(v)
	}

	for _, b := range stage.Bindings {
		src := r.def.index[b.Stage]
		source := r.report.Stages[src]
		if source.Status != StageSucceeded {
			return inputs, &BindingResolutionError{Stage: stage.ID, Param: b.Param, Source: b.Stage, Field: b.Field, Reason: "source stage did not succeed"}
		}
		value, ok := source.Result[b.Field]
		if !ok {
			return inputs, &BindingResolutionError{Stage: stage.ID, Param: b.Param, Source: b.Stage, Field: b.Field}
		}
		inputs[b.Param] = cloneValue(value)
	}

	if err := schema.Validate(inputs); err != nil {
		return inputs, withStage(err, stage.ID)
	}
	return inputs, nil
}

// invoke calls the operation, retrying only failures marked Retryable
func (e *Executor) invoke(ctx context.Context, stageID string, op Operation, inputs Params, timeout time.Duration) (Result, int, error) {
	retry := e.config.RetryConfig
	maxAttempts := retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		result, err := e.invokeOnce(ctx, stageID, op, inputs.Clone(), timeout)
		if err == nil {
			return result, attempt, nil
		}
		if attempt >= maxAttempts || !IsRetryable(err) {
			return nil, attempt, err
		}

		delay := retry.delay(attempt)
		e.logStageRetry(ctx, stageID, attempt, maxAttempts, delay, err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, attempt, &CancellationError{Stage: stageID, Cause: ctx.Err()}
		}
	}
}

type invocation struct {
	result Result
	err    error
}

// invokeOnce runs a single attempt under the stage deadline. The executor
// stops waiting when the deadline passes even if the collaborator ignores ctx.
func (e *Executor) invokeOnce(ctx context.Context, stageID string, op Operation, inputs Params, timeout time.Duration) (Result, error) {
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan invocation, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				e.logger.ErrorContext(ctx, "collaborator_panic",
					slog.String("stage", stageID),
					slog.Any("panic", p),
					slog.String("stack", string(debug.Stack())))
				done <- invocation{err: fmt.Errorf("collaborator panic: %v", p)}
			}
		}()
		result, err := op.Invoke(stageCtx, inputs)
		done <- invocation{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil {
			return out.result.Clone(), nil
		}
		if ctx.Err() != nil {
			return nil, &CancellationError{Stage: stageID, Cause: ctx.Err()}
		}
		if errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Stage: stageID, Timeout: timeout}
		}
		return nil, &CollaboratorError{Stage: stageID, Operation: op.Name(), Cause: out.err}
	case <-stageCtx.Done():
		if ctx.Err() != nil {
			return nil, &CancellationError{Stage: stageID, Cause: ctx.Err()}
		}
		return nil, &TimeoutError{Stage: stageID, Timeout: timeout}
	}
}

func (r *pipelineRun) blockingDependency(i int) (string, bool) {
	for _, dep := range r.def.deps[i] {
		if r.blocked[dep] {
			return r.def.stages[dep].ID, true
		}
	}
	return "", false
}

func (r *pipelineRun) applyPolicy(stageID string) {
	if r.def.policy == FailFast {
		r.abortReason = fmt.Sprintf("stage %s failed", stageID)
	}
}

func (r *pipelineRun) cancel(ctx context.Context, err error) {
	r.cancelled = true
	r.abortReason = "run cancelled"
	if r.report.Error == nil {
		r.report.Error = NewStageError(err)
	}
	r.executor.logger.WarnContext(ctx, "run_cancelled",
		slog.String("run_id", r.report.ID),
		slog.String("error", err.Error()))
}

func (r *pipelineRun) fail(ctx context.Context, span trace.Span, i int, entry StageReport, err error) {
	entry.Status = StageFailed
	entry.Error = NewStageError(err)
	r.failed = true
	r.blocked[i] = true
	r.record(entry)
	r.executor.tracer.RecordStageCompletion(ctx, span, entry)
	r.executor.logStageError(ctx, r.report.ID, entry)
}

func (r *pipelineRun) skip(ctx context.Context, i int, entry StageReport, reason string) {
	entry.Status = StageSkipped
	entry.Reason = reason
	r.blocked[i] = true
	r.record(entry)
	r.executor.logStageSkipped(ctx, r.report.ID, entry)
}

func (r *pipelineRun) record(entry StageReport) {
	r.report.Stages = append(r.report.Stages, entry)
	r.executor.broadcaster.FinishStage(r.report.ID, entry)
}
