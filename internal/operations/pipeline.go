package operations

import (
	"fmt"
	"strings"
	"time"
)

// FailurePolicy decides what happens to the remaining stages after a failure
type FailurePolicy string

const (
	// FailFast skips every stage after the first failure
	FailFast FailurePolicy = "fail_fast"
	// BestEffort keeps running stages that do not depend on a failed stage
	BestEffort FailurePolicy = "best_effort"
)

// Binding feeds a stage parameter from a field of an earlier stage's result
type Binding struct {
	Param string `json:"param" yaml:"param"`
	Stage string `json:"stage" yaml:"stage"`
	Field string `json:"field" yaml:"field"`
}

// ParseBinding builds a binding from a "stage.field" reference
func ParseBinding(param, ref string) (Binding, error) {
	stage, field, ok := strings.Cut(ref, ".")
	if !ok || stage == "" || field == "" || param == "" {
		return Binding{}, fmt.Errorf("invalid binding %s=%q: want stage.field", param, ref)
	}
	return Binding{Param: param, Stage: stage, Field: field}, nil
}

// String returns the binding in param=stage.field form
func (b Binding) String() string {
	return fmt.Sprintf("%s=%s.%s", b.Param, b.Stage, b.Field)
}

// Stage is one step of a pipeline definition.
// ID defaults to the operation name and must be unique within the pipeline.
type Stage struct {
	ID        string        `json:"id"`
	Operation string        `json:"operation"`
	Params    Params        `json:"params,omitempty"`
	Bindings  []Binding     `json:"bindings,omitempty"`
	After     []string      `json:"after,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty"`
}

// Definition is a validated, immutable pipeline. Definitions are safe to share
// between concurrent runs.
type Definition struct {
	name        string
	description string
	policy      FailurePolicy
	stages      []Stage
	ops         []Operation
	index       map[string]int
	deps        [][]int
}

// DefinitionOption configures a definition
type DefinitionOption func(*Definition)

// WithDescription sets the pipeline description
func WithDescription(description string) DefinitionOption {
	return func(d *Definition) { d.description = description }
}

// WithFailurePolicy sets the failure policy. The default is FailFast.
func WithFailurePolicy(policy FailurePolicy) DefinitionOption {
	return func(d *Definition) { d.policy = policy }
}

// NewDefinition validates stages against resolver and returns the pipeline.
// Bindings and After references must name strictly earlier stages, so a valid
// definition is acyclic by construction.
func NewDefinition(name string, stages []Stage, resolver Resolver, opts ...DefinitionOption) (*Definition, error) {
	d := &Definition{
		name:   name,
		policy: FailFast,
		index:  make(map[string]int, len(stages)),
	}
	for _, opt := range opts {
		opt(d)
	}

	if name == "" {
		return nil, &DefinitionError{Reason: "pipeline name cannot be empty"}
	}
	if d.policy != FailFast && d.policy != BestEffort {
		return nil, &DefinitionError{Pipeline: name, Reason: fmt.Sprintf("unknown failure policy %q", d.policy)}
	}
	if resolver == nil {
		return nil, &DefinitionError{Pipeline: name, Reason: "no operation resolver"}
	}

	for i, stage := range stages {
		stage = copyStage(stage)
		if stage.ID == "" {
			stage.ID = stage.Operation
		}

		op, deps, err := d.checkStage(i, stage, resolver)
		if err != nil {
			return nil, err
		}

		d.index[stage.ID] = i
		d.stages = append(d.stages, stage)
		d.ops = append(d.ops, op)
		d.deps = append(d.deps, deps)
	}

	return d, nil
}

func (d *Definition) checkStage(pos int, stage Stage, resolver Resolver) (Operation, []int, error) {
	fail := func(reason string, cause error) error {
		return &DefinitionError{Pipeline: d.name, Stage: stage.ID, Reason: reason, Cause: cause}
	}

	if stage.ID == "" {
		return nil, nil, fail(fmt.Sprintf("stage %d has no operation", pos), nil)
	}
	if strings.Contains(stage.ID, ".") {
		return nil, nil, fail("stage id cannot contain '.'", nil)
	}
	if _, dup := d.index[stage.ID]; dup {
		return nil, nil, fail("duplicate stage id", nil)
	}
	if stage.Timeout < 0 {
		return nil, nil, fail("timeout cannot be negative", nil)
	}

	op, err := resolver.Resolve(stage.Operation)
	if err != nil {
		return nil, nil, fail("cannot resolve operation", err)
	}
	schema := op.Schema()

	for _, key := range sortedKeys(stage.Params) {
		def, ok := schema.Lookup(key)
		if !ok {
			return nil, nil, fail("static parameter not accepted", &InvalidParameterError{Stage: stage.ID, Field: key, Reason: "parameter is not accepted"})
		}
		if err := def.Check(stage.Params[key]); err != nil {
			return nil, nil, fail("invalid static parameter", err)
		}
	}

	var deps []int
	addDep := func(idx int) {
		for _, existing := range deps {
			if existing == idx {
				return
			}
		}
		deps = append(deps, idx)
	}

	bound := make(map[string]bool, len(stage.Bindings))
	for _, b := range stage.Bindings {
		if _, ok := schema.Lookup(b.Param); !ok {
			return nil, nil, fail(fmt.Sprintf("binding %s targets undeclared parameter", b), nil)
		}
		if bound[b.Param] {
			return nil, nil, fail(fmt.Sprintf("parameter %s is bound twice", b.Param), nil)
		}
		bound[b.Param] = true

		src, ok := d.index[b.Stage]
		if !ok {
			return nil, nil, fail(fmt.Sprintf("binding %s references a stage that is not earlier in the pipeline", b), nil)
		}
		if !declaresOutput(d.ops[src], b.Field) {
			return nil, nil, fail(fmt.Sprintf("binding %s references field not produced by %s", b, d.ops[src].Name()), nil)
		}
		addDep(src)
	}

	for _, after := range stage.After {
		src, ok := d.index[after]
		if !ok {
			return nil, nil, fail(fmt.Sprintf("after %s does not name an earlier stage", after), nil)
		}
		addDep(src)
	}

	return op, deps, nil
}

func copyStage(s Stage) Stage {
	s.Params = s.Params.Clone()
	s.Bindings = append([]Binding(nil), s.Bindings...)
	s.After = append([]string(nil), s.After...)
	return s
}

// Name returns the pipeline name
func (d *Definition) Name() string { return d.name }

// Description returns the pipeline description
func (d *Definition) Description() string { return d.description }

// Policy returns the failure policy
func (d *Definition) Policy() FailurePolicy { return d.policy }

// Len returns the number of stages
func (d *Definition) Len() int { return len(d.stages) }

// Stages returns copies of the stages in declared order
func (d *Definition) Stages() []Stage {
	out := make([]Stage, len(d.stages))
	for i, s := range d.stages {
		out[i] = copyStage(s)
	}
	return out
}

// StageIDs returns stage IDs in declared order
func (d *Definition) StageIDs() []string {
	ids := make([]string, len(d.stages))
	for i, s := range d.stages {
		ids[i] = s.ID
	}
	return ids
}

// Dependencies returns the IDs of stages the given stage directly depends on
func (d *Definition) Dependencies(stageID string) []string {
	idx, ok := d.index[stageID]
	if !ok {
		return nil
	}
	out := make([]string, len(d.deps[idx]))
	for i, dep := range d.deps[idx] {
		out[i] = d.stages[dep].ID
	}
	return out
}

// Dependents returns the IDs of stages that depend on stageID directly or transitively
func (d *Definition) Dependents(stageID string) []string {
	start, ok := d.index[stageID]
	if !ok {
		return nil
	}
	affected := map[int]bool{start: true}
	var out []string
	for i := start + 1; i < len(d.stages); i++ {
		for _, dep := range d.deps[i] {
			if affected[dep] {
				affected[i] = true
				out = append(out, d.stages[i].ID)
				break
			}
		}
	}
	return out
}

// ValidateRequest checks request parameters before anything runs.
// Flat keys go to every stage declaring them; a key naming a stage with an
// object value is scoped to that stage. Stage scoping wins: when a stage ID
// is also an object parameter of another stage, an object under that key is
// always read as scoped params, so the parameter must be passed scoped to
// its own stage instead. Every required parameter must be satisfiable from
// defaults, static params, bindings, or the request.
func (d *Definition) ValidateRequest(params Params) error {
	scoped, err := d.splitParams(params)
	if err != nil {
		return err
	}

	for i, stage := range d.stages {
		schema := d.ops[i].Schema()
		for _, key := range sortedKeys(scoped[i]) {
			def, _ := schema.Lookup(key)
			if err := def.Check(scoped[i][key]); err != nil {
				return withStage(err, d.stageLabel(i))
			}
		}

		for _, def := range schema {
			if !def.Required || def.Default != nil {
				continue
			}
			if _, ok := stage.Params[def.Name]; ok {
				continue
			}
			if _, ok := scoped[i][def.Name]; ok {
				continue
			}
			if stage.isBound(def.Name) {
				continue
			}
			return &InvalidParameterError{Stage: d.stageLabel(i), Field: def.Name, Reason: "required parameter is missing"}
		}
	}
	return nil
}

// splitParams distributes request params onto stages
func (d *Definition) splitParams(params Params) ([]Params, error) {
	out := make([]Params, len(d.stages))
	for i := range out {
		out[i] = Params{}
	}

	for _, key := range sortedKeys(params) {
		value := params[key]
		if idx, ok := d.index[key]; ok {
			if nested, ok := asObject(value); ok {
				schema := d.ops[idx].Schema()
				for _, inner := range sortedKeys(nested) {
					if _, declared := schema.Lookup(inner); !declared {
						return nil, &InvalidParameterError{Stage: key, Field: inner, Reason: "parameter is not accepted"}
					}
					out[idx][inner] = cloneValue(nested[inner])
				}
				continue
			}
		}

		accepted := false
		for i, op := range d.ops {
			if _, declared := op.Schema().Lookup(key); declared {
				out[i][key] = cloneValue(value)
				accepted = true
			}
		}
		if !accepted {
			return nil, &InvalidParameterError{Field: key, Reason: "parameter is not accepted"}
		}
	}

	// scoped values override flat ones
	for _, key := range sortedKeys(params) {
		if idx, ok := d.index[key]; ok {
			if nested, ok := asObject(params[key]); ok {
				for inner, v := range nested {
					out[idx][inner] = cloneValue(v)
				}
			}
		}
	}
	return out, nil
}

// stageLabel omits the stage name for single-stage definitions, where the
// stage is the dispatched operation itself.
func (d *Definition) stageLabel(i int) string {
	if len(d.stages) == 1 {
		return ""
	}
	return d.stages[i].ID
}

func (s Stage) isBound(param string) bool {
	for _, b := range s.Bindings {
		if b.Param == param {
			return true
		}
	}
	return false
}

func asObject(value interface{}) (map[string]interface{}, bool) {
	switch v := value.(type) {
	case map[string]interface{}:
		return v, true
	case Params:
		return v, true
	}
	return nil, false
}

func withStage(err error, stage string) error {
	if ipe, ok := err.(*InvalidParameterError); ok && ipe.Stage == "" {
		return &InvalidParameterError{Stage: stage, Field: ipe.Field, Reason: ipe.Reason}
	}
	return err
}

// PipelineBuilder provides a fluent interface for building definitions
type PipelineBuilder struct {
	name   string
	opts   []DefinitionOption
	stages []Stage
	err    error
}

// NewPipelineBuilder creates a builder for the named pipeline
func NewPipelineBuilder(name string) *PipelineBuilder {
	return &PipelineBuilder{name: name}
}

// WithDescription sets the pipeline description
func (b *PipelineBuilder) WithDescription(description string) *PipelineBuilder {
	b.opts = append(b.opts, WithDescription(description))
	return b
}

// BestEffort switches the pipeline to best-effort mode
func (b *PipelineBuilder) BestEffort() *PipelineBuilder {
	b.opts = append(b.opts, WithFailurePolicy(BestEffort))
	return b
}

// AddStage appends a stage whose ID is the operation name.
// Bindings are given as "param=stage.field".
func (b *PipelineBuilder) AddStage(operation string, params Params, bindings ...string) *PipelineBuilder {
	return b.AddNamedStage(operation, operation, params, bindings...)
}

// AddNamedStage appends a stage with an explicit ID
func (b *PipelineBuilder) AddNamedStage(id, operation string, params Params, bindings ...string) *PipelineBuilder {
	stage := Stage{ID: id, Operation: operation, Params: params}
	for _, spec := range bindings {
		param, ref, _ := strings.Cut(spec, "=")
		binding, err := ParseBinding(param, ref)
		if err != nil && b.err == nil {
			b.err = &DefinitionError{Pipeline: b.name, Stage: id, Reason: "malformed binding", Cause: err}
		}
		stage.Bindings = append(stage.Bindings, binding)
	}
	b.stages = append(b.stages, stage)
	return b
}

// After adds explicit ordering dependencies to the last stage
func (b *PipelineBuilder) After(stageIDs ...string) *PipelineBuilder {
	if len(b.stages) > 0 {
		last := &b.stages[len(b.stages)-1]
		last.After = append(last.After, stageIDs...)
	}
	return b
}

// Build validates and returns the definition
func (b *PipelineBuilder) Build(resolver Resolver) (*Definition, error) {
	if b.err != nil {
		return nil, b.err
	}
	return NewDefinition(b.name, b.stages, resolver, b.opts...)
}

// SingleStage wraps one operation as a one-stage definition named after it
func SingleStage(op Operation) (*Definition, error) {
	return NewDefinition(op.Name(), []Stage{{ID: op.Name(), Operation: op.Name()}}, singleResolver{op})
}

type singleResolver struct {
	op Operation
}

func (r singleResolver) Resolve(name string) (Operation, error) {
	if name == r.op.Name() {
		return r.op, nil
	}
	return nil, &UnknownOperationError{Name: name}
}
