package catalog

import (
	"fmt"
	"log/slog"
	"sort"

	"emprofiler/internal/config"
	"emprofiler/internal/dispatch"
	"emprofiler/internal/infrastructure"
	"emprofiler/internal/operations"
)

// Options configures Build
type Options struct {
	// CatalogFile is an optional YAML catalog loaded after the built-ins
	CatalogFile string
	// Executor runs dispatched definitions. A default executor is used when nil.
	Executor *operations.Executor
	Logger   *slog.Logger
	Metrics  *infrastructure.PipelineMetrics
}

// Catalog is the frozen operation registry and the dispatcher serving it
type Catalog struct {
	Registry   *operations.Registry
	Dispatcher *dispatch.Dispatcher
}

// NewExecutorConfig translates executor settings into an executor config
func NewExecutorConfig(cfg config.ExecutorConfig) *operations.Config {
	builder := operations.NewConfigBuilder()
	if cfg.DefaultStageTimeout > 0 {
		builder.WithDefaultStageTimeout(cfg.DefaultStageTimeout)
	}
	for op, timeout := range cfg.OperationTimeouts {
		builder.WithOperationTimeout(op, timeout)
	}

	retry := operations.NewRetryConfig()
	if cfg.RetryAttempts > 0 {
		retry.MaxAttempts = cfg.RetryAttempts
	}
	if cfg.RetryInitialDelay > 0 {
		retry.InitialDelay = cfg.RetryInitialDelay
	}
	if cfg.RetryMaxDelay > 0 {
		retry.MaxDelay = cfg.RetryMaxDelay
	}
	return builder.WithRetryConfig(retry).Build()
}

// Builtins returns the specs of every built-in operation
func Builtins() []operations.OperationSpec {
	var specs []operations.OperationSpec
	specs = append(specs, chipseqOperations()...)
	specs = append(specs, singlecellOperations()...)
	specs = append(specs, multiomicsOperations()...)
	specs = append(specs, microbiomeOperations()...)
	specs = append(specs, visualizationOperations()...)
	return specs
}

// Build registers built-in and catalog-file operations, freezes the
// registry and returns a dispatcher with every pipeline and alias. Any error
// is a startup error.
func Build(opts Options) (*Catalog, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var file *File
	if opts.CatalogFile != "" {
		loaded, err := LoadFile(opts.CatalogFile)
		if err != nil {
			return nil, err
		}
		file = loaded
	}

	registry := operations.NewRegistry()
	for _, spec := range Builtins() {
		if err := register(registry, spec); err != nil {
			return nil, err
		}
	}
	if file != nil {
		for _, entry := range file.Operations {
			if err := register(registry, entry.Spec()); err != nil {
				return nil, fmt.Errorf("catalog %s: %w", opts.CatalogFile, err)
			}
		}
	}
	registry.Freeze()

	executor := opts.Executor
	if executor == nil {
		executor = operations.NewExecutor(nil, operations.WithLogger(logger))
	}
	dispatcherOpts := []dispatch.Option{dispatch.WithLogger(logger)}
	if opts.Metrics != nil {
		dispatcherOpts = append(dispatcherOpts, dispatch.WithMetrics(opts.Metrics))
	}
	dispatcher := dispatch.New(registry, executor, dispatcherOpts...)

	pipelines := builtinPipelines()
	aliases := builtinAliases()
	if file != nil {
		pipelines = append(pipelines, file.Pipelines...)
		for alias, target := range file.Aliases {
			if existing, ok := aliases[alias]; ok && existing != target {
				return nil, fmt.Errorf("catalog %s: %w", opts.CatalogFile, &operations.DuplicateNameError{Name: alias})
			}
			aliases[alias] = target
		}
	}

	for _, entry := range pipelines {
		def, err := entry.Definition(registry)
		if err != nil {
			return nil, err
		}
		if err := dispatcher.AddPipeline(def); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(aliases))
	for alias := range aliases {
		names = append(names, alias)
	}
	sort.Strings(names)
	for _, alias := range names {
		if _, err := dispatcher.Resolve(aliases[alias]); err != nil {
			return nil, fmt.Errorf("alias %s: %w", alias, err)
		}
		if err := dispatcher.AddAlias(alias, aliases[alias]); err != nil {
			return nil, err
		}
	}

	logger.Info("catalog_built",
		slog.Int("operations", registry.Count()),
		slog.Int("pipelines", len(pipelines)),
		slog.Int("aliases", len(aliases)),
		slog.String("catalog_file", opts.CatalogFile))

	return &Catalog{Registry: registry, Dispatcher: dispatcher}, nil
}

func register(registry *operations.Registry, spec operations.OperationSpec) error {
	op, err := operations.NewOperation(spec)
	if err != nil {
		return fmt.Errorf("operation %s: %w", spec.Name, err)
	}
	return registry.Register(op)
}
