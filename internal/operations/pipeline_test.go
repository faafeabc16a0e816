package operations_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emprofiler/internal/operations"
	"emprofiler/internal/operations/testutil"
)

func pipelineRegistry(t *testing.T) *operations.Registry {
	t.Helper()
	peaks := testutil.CreateOperation(t, "peak-calling",
		operations.ParameterSchema{testutil.RequiredParam("input", operations.TypeString)},
		[]string{"peaks_file", "peak_count"},
		&testutil.MockCollaborator{ResultValue: operations.Result{"peaks_file": "peaks.narrowPeak", "peak_count": 15000}})
	annotate := testutil.CreateOperation(t, "annotation",
		operations.ParameterSchema{
			testutil.RequiredParam("peaks", operations.TypeString),
			{Name: "genome", Type: operations.TypeString, Default: "mm10"},
		},
		[]string{"annotation_file"},
		&testutil.MockCollaborator{ResultValue: operations.Result{"annotation_file": "peaks.anno.tsv"}})
	motif := testutil.CreateOperation(t, "motif",
		operations.ParameterSchema{testutil.RequiredParam("peaks", operations.TypeString)},
		nil,
		&testutil.MockCollaborator{ResultValue: operations.Result{"motifs": 42}})
	return testutil.NewFrozenRegistry(t, peaks, annotate, motif)
}

func TestNewDefinitionDeclaredOrder(t *testing.T) {
	registry := pipelineRegistry(t)

	def, err := operations.NewPipelineBuilder("chipseq").
		WithDescription("peaks then annotation").
		AddStage("peak-calling", operations.Params{"input": "sample.bam"}).
		AddStage("annotation", nil, "peaks=peak-calling.peaks_file").
		AddNamedStage("motifs", "motif", nil, "peaks=peak-calling.peaks_file").
		Build(registry)
	require.NoError(t, err)

	assert.Equal(t, "chipseq", def.Name())
	assert.Equal(t, "peaks then annotation", def.Description())
	assert.Equal(t, operations.FailFast, def.Policy())
	assert.Equal(t, []string{"peak-calling", "annotation", "motifs"}, def.StageIDs())
	assert.Equal(t, []string{"peak-calling"}, def.Dependencies("motifs"))
	assert.ElementsMatch(t, []string{"annotation", "motifs"}, def.Dependents("peak-calling"))
}

func TestNewDefinitionRejectsForwardBinding(t *testing.T) {
	registry := pipelineRegistry(t)

	_, err := operations.NewDefinition("bad", []operations.Stage{
		{Operation: "annotation", Bindings: []operations.Binding{{Param: "peaks", Stage: "peak-calling", Field: "peaks_file"}}},
		{Operation: "peak-calling", Params: operations.Params{"input": "x.bam"}},
	}, registry)

	var defErr *operations.DefinitionError
	require.True(t, errors.As(err, &defErr))
	assert.Equal(t, "annotation", defErr.Stage)
	assert.Equal(t, operations.KindDefinition, operations.KindOf(err))
}

func TestNewDefinitionRejectsSelfBinding(t *testing.T) {
	registry := pipelineRegistry(t)

	_, err := operations.NewDefinition("cycle", []operations.Stage{
		{ID: "m", Operation: "motif", Bindings: []operations.Binding{{Param: "peaks", Stage: "m", Field: "motifs"}}},
	}, registry)

	var defErr *operations.DefinitionError
	assert.True(t, errors.As(err, &defErr))
}

func TestNewDefinitionUnknownOperation(t *testing.T) {
	registry := pipelineRegistry(t)

	_, err := operations.NewPipelineBuilder("typo").
		AddStage("peak-caling", nil).
		Build(registry)

	var unknown *operations.UnknownOperationError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "peak-caling", unknown.Name)
}

func TestNewDefinitionValidation(t *testing.T) {
	registry := pipelineRegistry(t)

	tests := []struct {
		name   string
		stages []operations.Stage
	}{
		{
			name: "duplicate stage id",
			stages: []operations.Stage{
				{Operation: "motif", Params: operations.Params{"peaks": "a"}},
				{Operation: "motif", Params: operations.Params{"peaks": "b"}},
			},
		},
		{
			name: "undeclared output field",
			stages: []operations.Stage{
				{Operation: "peak-calling"},
				{Operation: "annotation", Bindings: []operations.Binding{{Param: "peaks", Stage: "peak-calling", Field: "bigwig"}}},
			},
		},
		{
			name: "binding to undeclared parameter",
			stages: []operations.Stage{
				{Operation: "peak-calling"},
				{Operation: "annotation", Bindings: []operations.Binding{{Param: "regions", Stage: "peak-calling", Field: "peaks_file"}}},
			},
		},
		{
			name: "static parameter not accepted",
			stages: []operations.Stage{
				{Operation: "peak-calling", Params: operations.Params{"qvalue": 0.05}},
			},
		},
		{
			name: "static parameter wrong type",
			stages: []operations.Stage{
				{Operation: "peak-calling", Params: operations.Params{"input": 12}},
			},
		},
		{
			name: "after names a later stage",
			stages: []operations.Stage{
				{Operation: "peak-calling", After: []string{"motif"}},
				{Operation: "motif"},
			},
		},
		{
			name: "stage id with dot",
			stages: []operations.Stage{
				{ID: "peak.calling", Operation: "peak-calling"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := operations.NewDefinition("p", tt.stages, registry)
			var defErr *operations.DefinitionError
			assert.True(t, errors.As(err, &defErr), "got %v", err)
		})
	}
}

func TestPipelineBuilderMalformedBinding(t *testing.T) {
	registry := pipelineRegistry(t)

	_, err := operations.NewPipelineBuilder("p").
		AddStage("peak-calling", nil).
		AddStage("annotation", nil, "peaks=peak-calling").
		Build(registry)

	var defErr *operations.DefinitionError
	assert.True(t, errors.As(err, &defErr))
}

func TestParseBinding(t *testing.T) {
	b, err := operations.ParseBinding("peaks", "call.peaks_file")
	require.NoError(t, err)
	assert.Equal(t, operations.Binding{Param: "peaks", Stage: "call", Field: "peaks_file"}, b)
	assert.Equal(t, "peaks=call.peaks_file", b.String())

	for _, ref := range []string{"", "call", ".field", "call."} {
		_, err := operations.ParseBinding("peaks", ref)
		assert.Error(t, err, ref)
	}
}

func TestDefinitionValidateRequest(t *testing.T) {
	registry := pipelineRegistry(t)
	def, err := operations.NewPipelineBuilder("chipseq").
		AddStage("peak-calling", nil).
		AddStage("annotation", nil, "peaks=peak-calling.peaks_file").
		Build(registry)
	require.NoError(t, err)

	t.Run("flat parameter satisfies requirement", func(t *testing.T) {
		assert.NoError(t, def.ValidateRequest(operations.Params{"input": "a.bam"}))
	})

	t.Run("scoped parameter satisfies requirement", func(t *testing.T) {
		params := operations.Params{
			"peak-calling": map[string]interface{}{"input": "a.bam"},
			"annotation":   map[string]interface{}{"genome": "hg38"},
		}
		assert.NoError(t, def.ValidateRequest(params))
	})

	t.Run("missing required parameter", func(t *testing.T) {
		err := def.ValidateRequest(operations.Params{})
		var ipe *operations.InvalidParameterError
		require.True(t, errors.As(err, &ipe))
		assert.Equal(t, "input", ipe.Field)
		assert.Equal(t, "peak-calling", ipe.Stage)
	})

	t.Run("unknown parameter", func(t *testing.T) {
		err := def.ValidateRequest(operations.Params{"input": "a.bam", "qvalue": 0.01})
		var ipe *operations.InvalidParameterError
		require.True(t, errors.As(err, &ipe))
		assert.Equal(t, "qvalue", ipe.Field)
	})

	t.Run("wrong type", func(t *testing.T) {
		err := def.ValidateRequest(operations.Params{"input": true})
		var ipe *operations.InvalidParameterError
		require.True(t, errors.As(err, &ipe))
		assert.Equal(t, "input", ipe.Field)
	})
}

func TestDefinitionValidateRequestStageScopingWins(t *testing.T) {
	cluster := testutil.CreateOperation(t, "cell-clustering",
		operations.ParameterSchema{{Name: "resolution", Type: operations.TypeNumber, Default: 0.8}},
		[]string{"clusters"},
		&testutil.MockCollaborator{ResultValue: operations.Result{"clusters": 8}})
	markers := testutil.CreateOperation(t, "marker-genes",
		operations.ParameterSchema{{Name: "clusters", Type: operations.TypeObject, Required: true}},
		nil,
		&testutil.MockCollaborator{ResultValue: operations.Result{"markers": 120}})
	registry := testutil.NewFrozenRegistry(t, cluster, markers)

	def, err := operations.NewPipelineBuilder("singlecell").
		AddNamedStage("clusters", "cell-clustering", nil).
		AddStage("marker-genes", nil).
		Build(registry)
	require.NoError(t, err)

	t.Run("object under a stage ID is scoped to that stage", func(t *testing.T) {
		err := def.ValidateRequest(operations.Params{"clusters": map[string]interface{}{"t-cells": 3}})
		var ipe *operations.InvalidParameterError
		require.True(t, errors.As(err, &ipe))
		assert.Equal(t, "clusters", ipe.Stage)
		assert.Equal(t, "t-cells", ipe.Field)
	})

	t.Run("parameter scoped to its own stage", func(t *testing.T) {
		params := operations.Params{
			"marker-genes": map[string]interface{}{"clusters": map[string]interface{}{"t-cells": 3}},
		}
		assert.NoError(t, def.ValidateRequest(params))
	})
}
