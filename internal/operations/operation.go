package operations

import (
	"context"
	"fmt"
	"time"
)

// Params is the parameter set handed to an operation
type Params map[string]interface{}

// Clone returns a deep copy of p. Nested maps and slices are copied so a
// collaborator cannot mutate state owned by the run report.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

// Result is the payload an operation produces
type Result map[string]interface{}

// Clone returns a deep copy of r
func (r Result) Clone() Result {
	if r == nil {
		return nil
	}
	out := make(Result, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case Params:
		return val.Clone()
	case Result:
		return val.Clone()
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	case []float64:
		return append([]float64(nil), val...)
	case []int:
		return append([]int(nil), val...)
	default:
		return v
	}
}

// Collaborator performs the actual computation behind an operation. It must
// honour ctx and return promptly once ctx is done.
type Collaborator interface {
	Invoke(ctx context.Context, params Params) (Result, error)
}

// CollaboratorFunc adapts a function to the Collaborator interface
type CollaboratorFunc func(ctx context.Context, params Params) (Result, error)

// Invoke calls f
func (f CollaboratorFunc) Invoke(ctx context.Context, params Params) (Result, error) {
	return f(ctx, params)
}

// Operation is a named, parameterised unit of work
type Operation interface {
	// Name returns the unique registry name
	Name() string

	// Description returns a human readable summary
	Description() string

	// Schema returns the declared parameters
	Schema() ParameterSchema

	// Outputs returns the declared result fields. Empty means undeclared.
	Outputs() []string

	// Timeout returns the operation's preferred stage timeout, zero for the executor default
	Timeout() time.Duration

	// Invoke runs the collaborator
	Invoke(ctx context.Context, params Params) (Result, error)
}

// OperationSpec describes an operation to build with NewOperation
type OperationSpec struct {
	Name         string
	Description  string
	Parameters   ParameterSchema
	Outputs      []string
	Timeout      time.Duration
	Collaborator Collaborator
}

// BaseOperation is the standard Operation implementation
type BaseOperation struct {
	name         string
	description  string
	schema       ParameterSchema
	outputs      []string
	timeout      time.Duration
	collaborator Collaborator
}

// NewOperation validates spec and returns an immutable operation
func NewOperation(spec OperationSpec) (*BaseOperation, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("operation name cannot be empty")
	}
	if spec.Collaborator == nil {
		return nil, fmt.Errorf("operation %s: collaborator is required", spec.Name)
	}
	if spec.Timeout < 0 {
		return nil, fmt.Errorf("operation %s: timeout cannot be negative", spec.Name)
	}
	if err := spec.Parameters.check(); err != nil {
		return nil, fmt.Errorf("operation %s: %w", spec.Name, err)
	}

	seen := make(map[string]bool, len(spec.Outputs))
	for _, out := range spec.Outputs {
		if out == "" || seen[out] {
			return nil, fmt.Errorf("operation %s: invalid or duplicate output %q", spec.Name, out)
		}
		seen[out] = true
	}

	return &BaseOperation{
		name:         spec.Name,
		description:  spec.Description,
		schema:       spec.Parameters.clone(),
		outputs:      append([]string(nil), spec.Outputs...),
		timeout:      spec.Timeout,
		collaborator: spec.Collaborator,
	}, nil
}

// MustOperation is like NewOperation but panics on error.
// Use it only for built-in tables.
func MustOperation(spec OperationSpec) *BaseOperation {
	op, err := NewOperation(spec)
	if err != nil {
		panic(err)
	}
	return op
}

// Name returns the operation name
func (o *BaseOperation) Name() string { return o.name }

// Description returns the operation description
func (o *BaseOperation) Description() string { return o.description }

// Schema returns a copy of the parameter schema
func (o *BaseOperation) Schema() ParameterSchema { return o.schema.clone() }

// Outputs returns a copy of the declared outputs
func (o *BaseOperation) Outputs() []string { return append([]string(nil), o.outputs...) }

// Timeout returns the preferred stage timeout
func (o *BaseOperation) Timeout() time.Duration { return o.timeout }

// Invoke delegates to the collaborator
func (o *BaseOperation) Invoke(ctx context.Context, params Params) (Result, error) {
	return o.collaborator.Invoke(ctx, params)
}

// declaresOutput reports whether field is a declared output. Operations
// without declared outputs accept any field.
func declaresOutput(op Operation, field string) bool {
	outputs := op.Outputs()
	if len(outputs) == 0 {
		return true
	}
	for _, out := range outputs {
		if out == field {
			return true
		}
	}
	return false
}
