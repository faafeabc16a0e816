package dispatch_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emprofiler/internal/dispatch"
	"emprofiler/internal/operations"
	"emprofiler/internal/operations/testutil"
)

type fixture struct {
	dispatcher *dispatch.Dispatcher
	registry   *operations.Registry
	alpha      *testutil.MockCollaborator
	peaks      *testutil.MockCollaborator
	annotate   *testutil.MockCollaborator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		alpha:    &testutil.MockCollaborator{ResultValue: operations.Result{"mean": 3.5}},
		peaks:    &testutil.MockCollaborator{ResultValue: operations.Result{"peaks_file": "peaks/peaks.narrowPeak", "peak_count": 15000}},
		annotate: &testutil.MockCollaborator{ResultValue: operations.Result{"total_peaks": 15000}},
	}

	alpha := testutil.CreateOperation(t, "alpha-diversity",
		operations.ParameterSchema{{
			Name:     "metric",
			Type:     operations.TypeString,
			Required: true,
			Options:  []string{"shannon", "simpson", "observed", "chao1"},
		}},
		[]string{"mean"}, f.alpha)
	peaks := testutil.CreateOperation(t, "macs2",
		operations.ParameterSchema{testutil.RequiredParam("bam_file", operations.TypeString)},
		[]string{"peaks_file", "peak_count"}, f.peaks)
	annotate := testutil.CreateOperation(t, "peak-annotation",
		operations.ParameterSchema{
			testutil.RequiredParam("peaks_file", operations.TypeString),
			{Name: "genome", Type: operations.TypeString, Default: "mm10"},
		},
		[]string{"total_peaks"}, f.annotate)

	f.registry = testutil.NewFrozenRegistry(t, alpha, peaks, annotate)

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	executor := operations.NewExecutor(operations.NewConfig(), operations.WithLogger(quiet))
	f.dispatcher = dispatch.New(f.registry, executor, dispatch.WithLogger(quiet))

	def, err := operations.NewPipelineBuilder("chipseq-peaks").
		WithDescription("peak calling then annotation").
		AddNamedStage("peaks", "macs2", nil).
		AddNamedStage("annotation", "peak-annotation", nil, "peaks_file=peaks.peaks_file").
		Build(f.registry)
	require.NoError(t, err)
	require.NoError(t, f.dispatcher.AddPipeline(def))

	return f
}

func TestDispatchSingleOperation(t *testing.T) {
	f := newFixture(t)

	report, err := f.dispatcher.Dispatch(context.Background(), "alpha-diversity", operations.Params{"metric": "shannon"})
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.True(t, report.Sealed())
	assert.Equal(t, operations.RunSucceeded, report.Status)
	assert.Equal(t, "alpha-diversity", report.Target)
	require.Len(t, report.Stages, 1)
	assert.Equal(t, "alpha-diversity", report.Stages[0].Name)
	assert.Equal(t, 3.5, report.Stages[0].Result["mean"])
	assert.Equal(t, 1, f.alpha.CallCount())
}

func TestDispatchMissingRequiredParameter(t *testing.T) {
	f := newFixture(t)

	report, err := f.dispatcher.Dispatch(context.Background(), "alpha-diversity", operations.Params{})
	assert.Nil(t, report)

	var invalid *operations.InvalidParameterError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "metric", invalid.Field)
	assert.Empty(t, invalid.Stage)
	assert.Zero(t, f.alpha.CallCount())
}

func TestDispatchRejectsBadValues(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		target string
		params operations.Params
		field  string
	}{
		{"option outside list", "alpha-diversity", operations.Params{"metric": "berger"}, "metric"},
		{"wrong type", "alpha-diversity", operations.Params{"metric": 3}, "metric"},
		{"unknown flat key", "alpha-diversity", operations.Params{"metric": "shannon", "depth": 10}, "depth"},
		{"pipeline missing input", "chipseq-peaks", operations.Params{}, "bam_file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := f.dispatcher.Dispatch(context.Background(), tt.target, tt.params)
			assert.Nil(t, report)

			var invalid *operations.InvalidParameterError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.field, invalid.Field)
		})
	}

	assert.Zero(t, f.alpha.CallCount())
	assert.Zero(t, f.peaks.CallCount())
}

func TestDispatchUnknownTarget(t *testing.T) {
	f := newFixture(t)

	report, err := f.dispatcher.Dispatch(context.Background(), "wgcna", operations.Params{"power": 6})
	assert.Nil(t, report, "no report when nothing ran")

	var unknown *operations.UnknownTargetError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "wgcna", unknown.Target)
	assert.Equal(t, operations.KindUnknownTarget, operations.KindOf(err))

	assert.Zero(t, f.alpha.CallCount())
	assert.Zero(t, f.peaks.CallCount())
	assert.Zero(t, f.annotate.CallCount())
}

func TestDispatchPipeline(t *testing.T) {
	f := newFixture(t)

	report, err := f.dispatcher.Run(context.Background(), dispatch.Request{
		ID:     "run-1",
		Target: "chipseq-peaks",
		Params: operations.Params{
			"bam_file":   "sample.bam",
			"annotation": map[string]interface{}{"genome": "hg38"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "run-1", report.ID)
	assert.Equal(t, "chipseq-peaks", report.Pipeline)
	assert.Equal(t, operations.RunSucceeded, report.Status)
	assert.Equal(t, map[string]operations.StageStatus{
		"peaks":      operations.StageSucceeded,
		"annotation": operations.StageSucceeded,
	}, testutil.StageStatuses(report))

	assert.Equal(t, operations.Params{
		"peaks_file": "peaks/peaks.narrowPeak",
		"genome":     "hg38",
	}, f.annotate.LastParams())
}

func TestDispatchPipelineStageFailure(t *testing.T) {
	f := newFixture(t)
	f.peaks.Err = errors.New("macs2 exited with status 1")

	report, err := f.dispatcher.Dispatch(context.Background(), "chipseq-peaks", operations.Params{"bam_file": "sample.bam"})
	require.NoError(t, err, "stage failures belong in the report")

	assert.Equal(t, operations.RunFailed, report.Status)
	assert.Equal(t, map[string]operations.StageStatus{
		"peaks":      operations.StageFailed,
		"annotation": operations.StageSkipped,
	}, testutil.StageStatuses(report))
	assert.Zero(t, f.annotate.CallCount())
}

func TestPipelineTakesPrecedence(t *testing.T) {
	f := newFixture(t)

	// a pipeline named like a registered operation shadows it
	def, err := operations.NewPipelineBuilder("macs2").
		AddNamedStage("peaks", "macs2", operations.Params{"bam_file": "fixed.bam"}).
		AddNamedStage("annotation", "peak-annotation", nil, "peaks_file=peaks.peaks_file").
		Build(f.registry)
	require.NoError(t, err)

	d := dispatch.New(f.registry, operations.NewExecutor(nil))
	require.NoError(t, d.AddPipeline(def))

	resolved, err := d.Resolve("macs2")
	require.NoError(t, err)
	assert.Same(t, def, resolved)
	assert.Equal(t, 2, resolved.Len())
}

func TestResolveCachesSingleStageDefinitions(t *testing.T) {
	f := newFixture(t)

	first, err := f.dispatcher.Resolve("alpha-diversity")
	require.NoError(t, err)
	second, err := f.dispatcher.Resolve("alpha-diversity")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, []string{"alpha-diversity"}, first.StageIDs())
}

func TestAliases(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.dispatcher.AddAlias("microbiome.alpha", "alpha-diversity"))
	require.NoError(t, f.dispatcher.AddAlias("chipseq.complete", "chipseq-peaks"))
	require.NoError(t, f.dispatcher.AddAlias("microbiome.alpha", "alpha-diversity"), "re-adding the same mapping is allowed")

	var dup *operations.DuplicateNameError
	require.ErrorAs(t, f.dispatcher.AddAlias("microbiome.alpha", "macs2"), &dup)
	assert.Error(t, f.dispatcher.AddAlias("", "macs2"))

	report, err := f.dispatcher.Dispatch(context.Background(), "microbiome.alpha", operations.Params{"metric": "chao1"})
	require.NoError(t, err)
	assert.Equal(t, "microbiome.alpha", report.Target)
	assert.Equal(t, "alpha-diversity", report.Pipeline)

	def, err := f.dispatcher.Resolve("chipseq.complete")
	require.NoError(t, err)
	assert.Equal(t, "chipseq-peaks", def.Name())

	require.NoError(t, f.dispatcher.AddAlias("chipseq.trajectory", "no-such-target"))
	_, err = f.dispatcher.Resolve("chipseq.trajectory")
	var unknown *operations.UnknownTargetError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "chipseq.trajectory", unknown.Target)

	assert.Len(t, f.dispatcher.Aliases(), 3)
}

func TestValidate(t *testing.T) {
	f := newFixture(t)

	assert.NoError(t, f.dispatcher.Validate("alpha-diversity", operations.Params{"metric": "simpson"}))
	assert.NoError(t, f.dispatcher.Validate("chipseq-peaks", operations.Params{"bam_file": "a.bam"}))
	assert.Error(t, f.dispatcher.Validate("chipseq-peaks", nil))
	assert.Error(t, f.dispatcher.Validate("nope", nil))

	assert.Zero(t, f.alpha.CallCount())
	assert.Zero(t, f.peaks.CallCount())
}

func TestAddPipelineDuplicate(t *testing.T) {
	f := newFixture(t)

	def, err := operations.NewPipelineBuilder("chipseq-peaks").
		AddStage("macs2", nil).
		Build(f.registry)
	require.NoError(t, err)

	var dup *operations.DuplicateNameError
	require.ErrorAs(t, f.dispatcher.AddPipeline(def), &dup)
	assert.Error(t, f.dispatcher.AddPipeline(nil))
}

func TestTargets(t *testing.T) {
	f := newFixture(t)

	targets := f.dispatcher.Targets()
	require.Len(t, targets, 4)

	names := make([]string, len(targets))
	for i, target := range targets {
		names[i] = target.Name
	}
	assert.Equal(t, []string{"chipseq-peaks", "alpha-diversity", "macs2", "peak-annotation"}, names)

	pipeline := targets[0]
	assert.Equal(t, dispatch.KindPipeline, pipeline.Kind)
	assert.Equal(t, "peak calling then annotation", pipeline.Description)
	assert.Equal(t, operations.FailFast, pipeline.Policy)
	assert.Equal(t, []string{"total_peaks"}, pipeline.Outputs)
	require.Len(t, pipeline.Stages, 2)
	assert.Equal(t, []string{"peaks"}, pipeline.Stages[1].DependsOn)
	assert.Equal(t, []string{"peaks_file=peaks.peaks_file"}, pipeline.Stages[1].Bindings)
	assert.Len(t, pipeline.Stages[1].Parameters, 2)

	alpha, err := f.dispatcher.Target("alpha-diversity")
	require.NoError(t, err)
	assert.Equal(t, dispatch.KindOperation, alpha.Kind)
	assert.Equal(t, []string{"mean"}, alpha.Outputs)
	require.Len(t, alpha.Parameters, 1)
	assert.Equal(t, "metric", alpha.Parameters[0].Name)

	_, err = f.dispatcher.Target("missing")
	var unknown *operations.UnknownTargetError
	assert.ErrorAs(t, err, &unknown)
}

func TestConcurrentDispatch(t *testing.T) {
	f := newFixture(t)

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			report, err := f.dispatcher.Dispatch(context.Background(), "alpha-diversity", operations.Params{"metric": "observed"})
			if err == nil && report.Status != operations.RunSucceeded {
				err = errors.New("unexpected status " + string(report.Status))
			}
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		assert.NoError(t, <-errs)
	}
	assert.Equal(t, n, f.alpha.CallCount())
}
