package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"emprofiler/internal/infrastructure"
	"emprofiler/internal/operations"
)

// TargetKind tells whether a target is a pipeline or a single operation
type TargetKind string

const (
	KindPipeline  TargetKind = "pipeline"
	KindOperation TargetKind = "operation"
)

// Request is one dispatch request. ID is optional; the executor generates one
// when it is empty.
type Request struct {
	ID     string
	Target string
	Params operations.Params
}

// Dispatcher is the single entry point for running analyses. It resolves a
// target to a pipeline definition, falling back to a registered operation
// wrapped as a one-stage pipeline, validates parameters, and hands the
// definition to the executor.
type Dispatcher struct {
	registry *operations.Registry
	executor *operations.Executor
	logger   *slog.Logger
	metrics  *infrastructure.PipelineMetrics

	mu        sync.RWMutex
	pipelines map[string]*operations.Definition
	aliases   map[string]string

	// one-stage definitions are built on first use and cached
	singles sync.Map
}

// Option configures a dispatcher
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithMetrics records rejected requests
func WithMetrics(metrics *infrastructure.PipelineMetrics) Option {
	return func(d *Dispatcher) { d.metrics = metrics }
}

// New creates a dispatcher over registry and executor
func New(registry *operations.Registry, executor *operations.Executor, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:  registry,
		executor:  executor,
		logger:    slog.Default(),
		pipelines: make(map[string]*operations.Definition),
		aliases:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = infrastructure.WithComponent(d.logger, "dispatcher")
	return d
}

// AddPipeline makes def dispatchable under its name
func (d *Dispatcher) AddPipeline(def *operations.Definition) error {
	if def == nil {
		return fmt.Errorf("nil pipeline definition")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.pipelines[def.Name()]; exists {
		return &operations.DuplicateNameError{Name: def.Name()}
	}
	d.pipelines[def.Name()] = def
	return nil
}

// AddAlias maps a legacy analysis name onto a target. The target does not
// need to exist yet; it is resolved at dispatch time.
func (d *Dispatcher) AddAlias(alias, target string) error {
	if alias == "" || target == "" {
		return fmt.Errorf("alias and target must be non-empty")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.aliases[alias]; ok && existing != target {
		return &operations.DuplicateNameError{Name: alias}
	}
	d.aliases[alias] = target
	return nil
}

// Resolve returns the definition that would run for target
func (d *Dispatcher) Resolve(target string) (*operations.Definition, error) {
	requested := target

	d.mu.RLock()
	def, ok := d.pipelines[target]
	if !ok {
		if aliased, isAlias := d.aliases[target]; isAlias {
			target = aliased
			def, ok = d.pipelines[target]
		}
	}
	d.mu.RUnlock()
	if ok {
		return def, nil
	}

	if cached, ok := d.singles.Load(target); ok {
		return cached.(*operations.Definition), nil
	}

	op, err := d.registry.Resolve(target)
	if err != nil {
		return nil, &operations.UnknownTargetError{Target: requested}
	}
	single, err := operations.SingleStage(op)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap operation %s: %w", target, err)
	}
	actual, _ := d.singles.LoadOrStore(target, single)
	return actual.(*operations.Definition), nil
}

// Validate checks a request without running anything
func (d *Dispatcher) Validate(target string, params operations.Params) error {
	def, err := d.Resolve(target)
	if err != nil {
		return err
	}
	return def.ValidateRequest(params)
}

// Dispatch runs target with params and returns the sealed report
func (d *Dispatcher) Dispatch(ctx context.Context, target string, params operations.Params) (*operations.RunReport, error) {
	return d.Run(ctx, Request{Target: target, Params: params})
}

// Run is Dispatch with a caller-chosen run ID.
// UnknownTargetError and InvalidParameterError are returned before any stage
// runs; every other outcome, stage failures included, is in the report.
func (d *Dispatcher) Run(ctx context.Context, req Request) (*operations.RunReport, error) {
	def, err := d.Resolve(req.Target)
	if err != nil {
		d.reject(ctx, req.Target, err)
		return nil, err
	}

	if err := def.ValidateRequest(req.Params); err != nil {
		d.reject(ctx, req.Target, err)
		return nil, err
	}

	d.logger.InfoContext(ctx, "dispatch_start",
		slog.String("target", req.Target),
		slog.String("pipeline", def.Name()),
		slog.Int("stages", def.Len()))

	report, err := d.executor.Execute(ctx, def, operations.RunRequest{
		ID:     req.ID,
		Target: req.Target,
		Params: req.Params,
	})
	if err != nil {
		d.reject(ctx, req.Target, err)
		return nil, err
	}
	return report, nil
}

func (d *Dispatcher) reject(ctx context.Context, target string, err error) {
	kind := operations.KindOf(err)
	d.logger.WarnContext(ctx, "dispatch_rejected",
		slog.String("target", target),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()))

	if d.metrics != nil {
		d.metrics.DispatchRejections.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", string(kind)),
		))
	}
}

// Targets lists every dispatchable target, pipelines first, each group sorted by name
func (d *Dispatcher) Targets() []TargetInfo {
	d.mu.RLock()
	names := make([]string, 0, len(d.pipelines))
	for name := range d.pipelines {
		names = append(names, name)
	}
	d.mu.RUnlock()
	sort.Strings(names)

	out := make([]TargetInfo, 0, len(names)+d.registry.Count())
	for _, name := range names {
		d.mu.RLock()
		def := d.pipelines[name]
		d.mu.RUnlock()
		out = append(out, d.describePipeline(def))
	}
	for _, op := range d.registry.List() {
		out = append(out, describeOperation(op))
	}
	return out
}

// Target describes one target
func (d *Dispatcher) Target(name string) (TargetInfo, error) {
	d.mu.RLock()
	def, ok := d.pipelines[name]
	d.mu.RUnlock()
	if ok {
		return d.describePipeline(def), nil
	}

	op, err := d.registry.Resolve(name)
	if err != nil {
		return TargetInfo{}, &operations.UnknownTargetError{Target: name}
	}
	return describeOperation(op), nil
}

// Aliases returns a copy of the alias table
func (d *Dispatcher) Aliases() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]string, len(d.aliases))
	for k, v := range d.aliases {
		out[k] = v
	}
	return out
}
