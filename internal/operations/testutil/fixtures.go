package testutil

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"emprofiler/internal/operations"
)

// ErrCollaborator is the failure returned by CreateFailingOperation
var ErrCollaborator = errors.New("collaborator failed")

// OptionalParam declares an optional parameter of any type
func OptionalParam(name string) operations.ParameterDefinition {
	return operations.ParameterDefinition{Name: name, Type: operations.TypeAny}
}

// RequiredParam declares a required parameter of the given type
func RequiredParam(name string, typ operations.ParameterType) operations.ParameterDefinition {
	return operations.ParameterDefinition{Name: name, Type: typ, Required: true}
}

// CreateOperation builds an operation around collaborator
func CreateOperation(t testing.TB, name string, schema operations.ParameterSchema, outputs []string, collaborator operations.Collaborator) operations.Operation {
	t.Helper()
	op, err := operations.NewOperation(operations.OperationSpec{
		Name:         name,
		Description:  "test operation " + name,
		Parameters:   schema,
		Outputs:      outputs,
		Collaborator: collaborator,
	})
	require.NoError(t, err)
	return op
}

// CreateSuccessfulOperation returns an operation that always yields result
func CreateSuccessfulOperation(t testing.TB, name string, result operations.Result, schema ...operations.ParameterDefinition) (operations.Operation, *MockCollaborator) {
	t.Helper()
	mock := &MockCollaborator{ResultValue: result}
	return CreateOperation(t, name, schema, nil, mock), mock
}

// CreateFailingOperation returns an operation whose collaborator always fails
func CreateFailingOperation(t testing.TB, name string, schema ...operations.ParameterDefinition) (operations.Operation, *MockCollaborator) {
	t.Helper()
	mock := &MockCollaborator{Err: ErrCollaborator}
	return CreateOperation(t, name, schema, nil, mock), mock
}

// CreateSleepingOperation returns an operation that sleeps for d without observing its context
func CreateSleepingOperation(t testing.TB, name string, d time.Duration, schema ...operations.ParameterDefinition) (operations.Operation, *MockCollaborator) {
	t.Helper()
	mock := &MockCollaborator{Delay: d, IgnoreContext: true, ResultValue: operations.Result{"slept": d.String()}}
	return CreateOperation(t, name, schema, nil, mock), mock
}

// NewFrozenRegistry registers ops and freezes the registry
func NewFrozenRegistry(t testing.TB, ops ...operations.Operation) *operations.Registry {
	t.Helper()
	registry := operations.NewRegistry()
	for _, op := range ops {
		require.NoError(t, registry.Register(op))
	}
	registry.Freeze()
	return registry
}

// StageStatuses maps stage names to their reported status
func StageStatuses(report *operations.RunReport) map[string]operations.StageStatus {
	out := make(map[string]operations.StageStatus, len(report.Stages))
	for _, s := range report.Stages {
		out[s.Name] = s.Status
	}
	return out
}

// SampleReport runs a best-effort pipeline in which "alpha" succeeds, "beta"
// fails and "gamma", bound to beta, is skipped. The report is sealed.
func SampleReport(t testing.TB, runID string) *operations.RunReport {
	t.Helper()

	alpha, _ := CreateSuccessfulOperation(t, "alpha", operations.Result{
		"mean":   3.5,
		"groups": []interface{}{"control", "treated"},
	}, OptionalParam("metric"))
	beta, _ := CreateFailingOperation(t, "beta")
	gamma, _ := CreateSuccessfulOperation(t, "gamma", operations.Result{"ok": true}, OptionalParam("table"))
	registry := NewFrozenRegistry(t, alpha, beta, gamma)

	def, err := operations.NewPipelineBuilder("sample").
		BestEffort().
		AddStage("alpha", operations.Params{"metric": "shannon"}).
		AddStage("beta", nil).
		AddStage("gamma", nil, "table=beta.table").
		Build(registry)
	require.NoError(t, err)

	executor := operations.NewExecutor(nil, operations.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	report, err := executor.Execute(context.Background(), def, operations.RunRequest{ID: runID, Target: "sample"})
	require.NoError(t, err)
	require.True(t, report.Sealed())
	return report
}
