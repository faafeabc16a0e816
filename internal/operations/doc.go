// Package operations provides the analysis orchestration core: named
// operations backed by external collaborators, a registry that is frozen at
// startup, validated pipeline definitions, and an executor that runs them.
//
// Core Components:
//
// Operation: A named, parameterised unit of work with a declared parameter
// schema and declared result fields. The actual computation is delegated to a
// Collaborator, which must honour context cancellation.
//
// Registry: Maps names to operations. Registration happens once at startup;
// Freeze ends it, after which lookups take no lock.
//
// Definition: An ordered list of stages. Each stage names an operation, static
// parameters, and bindings that feed a parameter from a field of an earlier
// stage's result. Bindings can only point backwards, so definitions are
// acyclic; this is checked when the definition is built, never at run time.
//
// Executor: Runs a definition in declared order. Every stage runs under a
// finite timeout. In fail-fast mode the first failure skips the rest of the
// pipeline; in best-effort mode only stages depending on a failed stage are
// skipped. A binding that cannot be resolved aborts the run in either mode.
//
// RunReport: The sealed outcome of one execution, with resolved inputs,
// result, status and elapsed time per stage.
//
// Usage:
//
//	registry := operations.NewRegistry()
//	registry.Register(op)
//	registry.Freeze()
//
//	def, err := operations.NewPipelineBuilder("microbiome").
//		AddStage("microbiome-load", nil).
//		AddStage("alpha-diversity", operations.Params{"metric": "shannon"}, "dataset=microbiome-load.dataset").
//		Build(registry)
//
//	executor := operations.NewExecutor(operations.NewConfig())
//	report, err := executor.Execute(ctx, def, operations.RunRequest{})
package operations
