package operations_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emprofiler/internal/operations"
	"emprofiler/internal/operations/testutil"
)

func alphaDiversity(t *testing.T) (operations.Operation, *testutil.MockCollaborator) {
	t.Helper()
	mock := &testutil.MockCollaborator{
		ResultValue: operations.Result{"mean": 3.5, "sd": 0.8, "min": 1.2, "max": 5.2},
	}
	op := testutil.CreateOperation(t, "alpha-diversity",
		operations.ParameterSchema{{
			Name:     "metric",
			Type:     operations.TypeString,
			Required: true,
			Options:  []string{"shannon", "simpson", "observed", "chao1"},
		}},
		[]string{"mean", "sd", "min", "max"},
		mock)
	return op, mock
}

func TestExecutorSingleOperation(t *testing.T) {
	op, mock := alphaDiversity(t)
	def, err := operations.SingleStage(op)
	require.NoError(t, err)

	executor := operations.NewExecutor(operations.NewConfig())
	report, err := executor.Execute(context.Background(), def, operations.RunRequest{
		Params: operations.Params{"metric": "shannon"},
	})
	require.NoError(t, err)

	assert.True(t, report.Sealed())
	assert.NotEmpty(t, report.ID)
	assert.Equal(t, "alpha-diversity", report.Target)
	assert.Equal(t, operations.RunSucceeded, report.Status)
	require.Len(t, report.Stages, 1)

	stage := report.Stages[0]
	assert.Equal(t, "alpha-diversity", stage.Name)
	assert.Equal(t, operations.StageSucceeded, stage.Status)
	assert.Equal(t, 3.5, stage.Result["mean"])
	assert.Equal(t, 1, stage.Attempts)
	assert.Nil(t, stage.Error)

	assert.Equal(t, 1, mock.CallCount())
	assert.Equal(t, operations.Params{"metric": "shannon"}, mock.LastParams())
}

func TestExecutorRejectsInvalidRequest(t *testing.T) {
	op, mock := alphaDiversity(t)
	def, err := operations.SingleStage(op)
	require.NoError(t, err)

	executor := operations.NewExecutor(nil)

	tests := []struct {
		name   string
		params operations.Params
		field  string
	}{
		{name: "missing", params: operations.Params{}, field: "metric"},
		{name: "wrong type", params: operations.Params{"metric": 7}, field: "metric"},
		{name: "not an option", params: operations.Params{"metric": "faith_pd"}, field: "metric"},
		{name: "undeclared", params: operations.Params{"metric": "shannon", "depth": 1000}, field: "depth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := executor.Execute(context.Background(), def, operations.RunRequest{Params: tt.params})
			assert.Nil(t, report)

			var ipe *operations.InvalidParameterError
			require.True(t, errors.As(err, &ipe), "got %v", err)
			assert.Equal(t, tt.field, ipe.Field)
			assert.Empty(t, ipe.Stage)
		})
	}

	assert.Equal(t, 0, mock.CallCount())
}

func TestExecutorPassesBoundValues(t *testing.T) {
	load, _ := testutil.CreateSuccessfulOperation(t, "load", operations.Result{
		"dataset": "otu_table.biom",
		"samples": []interface{}{"s1", "s2"},
	})
	mutating := &testutil.MockCollaborator{
		InvokeFunc: func(_ context.Context, params operations.Params) (operations.Result, error) {
			samples := params["samples"].([]interface{})
			samples[0] = "mutated"
			return operations.Result{"n": len(samples)}, nil
		},
	}
	consume := testutil.CreateOperation(t, "consume",
		operations.ParameterSchema{
			testutil.RequiredParam("dataset", operations.TypeString),
			testutil.OptionalParam("samples"),
			{Name: "rarefy", Type: operations.TypeBoolean, Default: false},
		},
		nil, mutating)
	registry := testutil.NewFrozenRegistry(t, load, consume)

	def, err := operations.NewPipelineBuilder("bound").
		AddStage("load", nil).
		AddStage("consume", nil, "dataset=load.dataset", "samples=load.samples").
		Build(registry)
	require.NoError(t, err)

	report, err := operations.NewExecutor(nil).Execute(context.Background(), def, operations.RunRequest{
		Params: operations.Params{"consume": map[string]interface{}{"rarefy": true}},
	})
	require.NoError(t, err)
	require.Equal(t, operations.RunSucceeded, report.Status)

	consumed, ok := report.Stage("consume")
	require.True(t, ok)
	want := operations.Params{
		"dataset": "otu_table.biom",
		"samples": []interface{}{"s1", "s2"},
		"rarefy":  true,
	}
	if diff := cmp.Diff(want, consumed.Inputs); diff != "" {
		t.Errorf("consume inputs mismatch (-want +got):\n%s", diff)
	}

	loaded, _ := report.Stage("load")
	assert.Equal(t, []interface{}{"s1", "s2"}, loaded.Result["samples"], "downstream mutation leaked into upstream result")
}

func TestExecutorBindingsOverrideRequestParams(t *testing.T) {
	load, _ := testutil.CreateSuccessfulOperation(t, "load", operations.Result{"dataset": "from-load"})
	consume, mock := testutil.CreateSuccessfulOperation(t, "consume", operations.Result{},
		testutil.RequiredParam("dataset", operations.TypeString))
	registry := testutil.NewFrozenRegistry(t, load, consume)

	def, err := operations.NewPipelineBuilder("override").
		AddStage("load", nil).
		AddStage("consume", nil, "dataset=load.dataset").
		Build(registry)
	require.NoError(t, err)

	_, err = operations.NewExecutor(nil).Execute(context.Background(), def, operations.RunRequest{
		Params: operations.Params{"dataset": "from-request"},
	})
	require.NoError(t, err)
	assert.Equal(t, "from-load", mock.LastParams()["dataset"])
}

func TestExecutorFailFast(t *testing.T) {
	a, aMock := testutil.CreateSuccessfulOperation(t, "a", operations.Result{"out": 1})
	b, _ := testutil.CreateFailingOperation(t, "b")
	c, cMock := testutil.CreateSuccessfulOperation(t, "c", nil)
	registry := testutil.NewFrozenRegistry(t, a, b, c)

	def, err := operations.NewPipelineBuilder("abc").
		AddStage("a", nil).
		AddStage("b", nil).
		AddStage("c", nil).
		Build(registry)
	require.NoError(t, err)

	report, err := operations.NewExecutor(nil).Execute(context.Background(), def, operations.RunRequest{})
	require.NoError(t, err)

	assert.Equal(t, operations.RunFailed, report.Status)
	assert.Equal(t, map[string]operations.StageStatus{
		"a": operations.StageSucceeded,
		"b": operations.StageFailed,
		"c": operations.StageSkipped,
	}, testutil.StageStatuses(report))

	failed, _ := report.Stage("b")
	require.NotNil(t, failed.Error)
	assert.Equal(t, operations.KindCollaborator, failed.Error.Kind)
	assert.Contains(t, failed.Error.Message, testutil.ErrCollaborator.Error())

	skipped, _ := report.Stage("c")
	assert.Contains(t, skipped.Reason, "b")

	assert.Equal(t, 1, aMock.CallCount())
	assert.Equal(t, 0, cMock.CallCount())
}

func TestExecutorFailurePolicy(t *testing.T) {
	build := func(t *testing.T, bestEffort bool) (*operations.Definition, *testutil.MockCollaborator) {
		b := testutil.CreateOperation(t, "b", nil, []string{"table"},
			&testutil.MockCollaborator{Err: testutil.ErrCollaborator})
		a, aMock := testutil.CreateSuccessfulOperation(t, "a", operations.Result{"ok": true})
		c, _ := testutil.CreateSuccessfulOperation(t, "c", nil, testutil.RequiredParam("table", operations.TypeString))
		registry := testutil.NewFrozenRegistry(t, a, b, c)

		builder := operations.NewPipelineBuilder("policy")
		if bestEffort {
			builder = builder.BestEffort()
		}
		def, err := builder.
			AddStage("b", nil).
			AddStage("a", nil).
			AddStage("c", nil, "table=b.table").
			Build(registry)
		require.NoError(t, err)
		return def, aMock
	}

	t.Run("fail fast skips independent stages", func(t *testing.T) {
		def, aMock := build(t, false)
		report, err := operations.NewExecutor(nil).Execute(context.Background(), def, operations.RunRequest{})
		require.NoError(t, err)

		assert.Equal(t, operations.RunFailed, report.Status)
		assert.Equal(t, map[string]operations.StageStatus{
			"b": operations.StageFailed,
			"a": operations.StageSkipped,
			"c": operations.StageSkipped,
		}, testutil.StageStatuses(report))
		assert.Equal(t, 0, aMock.CallCount())
	})

	t.Run("best effort only skips dependents", func(t *testing.T) {
		def, aMock := build(t, true)
		report, err := operations.NewExecutor(nil).Execute(context.Background(), def, operations.RunRequest{})
		require.NoError(t, err)

		assert.Equal(t, operations.RunFailed, report.Status)
		assert.Equal(t, operations.BestEffort, report.Policy)
		assert.Equal(t, map[string]operations.StageStatus{
			"b": operations.StageFailed,
			"a": operations.StageSucceeded,
			"c": operations.StageSkipped,
		}, testutil.StageStatuses(report))
		assert.Equal(t, 1, aMock.CallCount())
	})
}

func TestExecutorBestEffortTransitiveSkip(t *testing.T) {
	a, _ := testutil.CreateFailingOperation(t, "a")
	b, _ := testutil.CreateSuccessfulOperation(t, "b", nil)
	c, _ := testutil.CreateSuccessfulOperation(t, "c", nil)
	d, _ := testutil.CreateSuccessfulOperation(t, "d", nil)
	registry := testutil.NewFrozenRegistry(t, a, b, c, d)

	def, err := operations.NewPipelineBuilder("chain").
		BestEffort().
		AddStage("a", nil).
		AddStage("b", nil).After("a").
		AddStage("c", nil).After("b").
		AddStage("d", nil).
		Build(registry)
	require.NoError(t, err)

	report, err := operations.NewExecutor(nil).Execute(context.Background(), def, operations.RunRequest{})
	require.NoError(t, err)

	assert.Equal(t, map[string]operations.StageStatus{
		"a": operations.StageFailed,
		"b": operations.StageSkipped,
		"c": operations.StageSkipped,
		"d": operations.StageSucceeded,
	}, testutil.StageStatuses(report))
}

func TestExecutorStageTimeout(t *testing.T) {
	slow, _ := testutil.CreateSleepingOperation(t, "slow", 10*time.Millisecond)
	after, afterMock := testutil.CreateSuccessfulOperation(t, "after", nil)
	registry := testutil.NewFrozenRegistry(t, slow, after)

	def, err := operations.NewPipelineBuilder("timeout").
		BestEffort().
		AddStage("slow", nil).
		AddStage("after", nil).After("slow").
		Build(registry)
	require.NoError(t, err)

	config := operations.NewConfigBuilder().
		WithOperationTimeout("slow", time.Millisecond).
		Build()

	report, err := operations.NewExecutor(config).Execute(context.Background(), def, operations.RunRequest{})
	require.NoError(t, err)

	assert.Equal(t, operations.RunFailed, report.Status)

	timedOut, _ := report.Stage("slow")
	assert.Equal(t, operations.StageFailed, timedOut.Status)
	require.NotNil(t, timedOut.Error)
	assert.Equal(t, operations.KindTimeout, timedOut.Error.Kind)

	skipped, _ := report.Stage("after")
	assert.Equal(t, operations.StageSkipped, skipped.Status)
	assert.Equal(t, 0, afterMock.CallCount())
}

func TestExecutorStageTimeoutFromStage(t *testing.T) {
	slow, _ := testutil.CreateSleepingOperation(t, "slow", 20*time.Millisecond)
	registry := testutil.NewFrozenRegistry(t, slow)

	def, err := operations.NewDefinition("p", []operations.Stage{
		{Operation: "slow", Timeout: time.Millisecond},
	}, registry)
	require.NoError(t, err)

	report, err := operations.NewExecutor(nil).Execute(context.Background(), def, operations.RunRequest{})
	require.NoError(t, err)

	stage, _ := report.Stage("slow")
	require.NotNil(t, stage.Error)
	assert.Equal(t, operations.KindTimeout, stage.Error.Kind)
}

func TestExecutorBindingResolutionAborts(t *testing.T) {
	a, _ := testutil.CreateSuccessfulOperation(t, "a", operations.Result{"present": 1})
	b, bMock := testutil.CreateSuccessfulOperation(t, "b", nil, testutil.OptionalParam("input"))
	c, cMock := testutil.CreateSuccessfulOperation(t, "c", nil)
	registry := testutil.NewFrozenRegistry(t, a, b, c)

	def, err := operations.NewPipelineBuilder("abort").
		BestEffort().
		AddStage("a", nil).
		AddStage("b", nil, "input=a.missing").
		AddStage("c", nil).
		Build(registry)
	require.NoError(t, err)

	report, err := operations.NewExecutor(nil).Execute(context.Background(), def, operations.RunRequest{})
	require.NoError(t, err)

	assert.Equal(t, operations.RunFailed, report.Status)
	require.NotNil(t, report.Error)
	assert.Equal(t, operations.KindBindingResolution, report.Error.Kind)
	assert.Equal(t, map[string]operations.StageStatus{
		"a": operations.StageSucceeded,
		"b": operations.StageFailed,
		"c": operations.StageSkipped,
	}, testutil.StageStatuses(report))

	failed, _ := report.Stage("b")
	assert.Equal(t, operations.KindBindingResolution, failed.Error.Kind)
	assert.Equal(t, 0, bMock.CallCount())
	assert.Equal(t, 0, cMock.CallCount())
}

func TestExecutorEmptyPipeline(t *testing.T) {
	def, err := operations.NewDefinition("empty", nil, operations.NewRegistry())
	require.NoError(t, err)

	report, err := operations.NewExecutor(nil).Execute(context.Background(), def, operations.RunRequest{})
	require.NoError(t, err)

	assert.Equal(t, operations.RunSucceeded, report.Status)
	assert.Empty(t, report.Stages)
	assert.True(t, report.Sealed())
}

func TestExecutorCancelledBeforeStart(t *testing.T) {
	a, aMock := testutil.CreateSuccessfulOperation(t, "a", nil)
	b, _ := testutil.CreateSuccessfulOperation(t, "b", nil)
	registry := testutil.NewFrozenRegistry(t, a, b)

	def, err := operations.NewPipelineBuilder("cancel").AddStage("a", nil).AddStage("b", nil).Build(registry)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := operations.NewExecutor(nil).Execute(ctx, def, operations.RunRequest{})
	require.NoError(t, err)

	assert.Equal(t, operations.RunCancelled, report.Status)
	assert.Equal(t, map[string]operations.StageStatus{
		"a": operations.StageSkipped,
		"b": operations.StageSkipped,
	}, testutil.StageStatuses(report))
	assert.Equal(t, 0, aMock.CallCount())
}

func TestExecutorCancelledInFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blocking := testutil.CreateOperation(t, "blocking", nil, nil, &testutil.MockCollaborator{
		InvokeFunc: func(ctx context.Context, _ operations.Params) (operations.Result, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	next, nextMock := testutil.CreateSuccessfulOperation(t, "next", nil)
	registry := testutil.NewFrozenRegistry(t, blocking, next)

	def, err := operations.NewPipelineBuilder("cancel").
		BestEffort().
		AddStage("blocking", nil).
		AddStage("next", nil).
		Build(registry)
	require.NoError(t, err)

	report, err := operations.NewExecutor(nil).Execute(ctx, def, operations.RunRequest{})
	require.NoError(t, err)

	assert.Equal(t, operations.RunCancelled, report.Status)
	require.NotNil(t, report.Error)
	assert.Equal(t, operations.KindCancelled, report.Error.Kind)

	stage, _ := report.Stage("blocking")
	assert.Equal(t, operations.StageFailed, stage.Status)
	assert.Equal(t, operations.KindCancelled, stage.Error.Kind)

	skipped, _ := report.Stage("next")
	assert.Equal(t, operations.StageSkipped, skipped.Status)
	assert.Equal(t, 0, nextMock.CallCount())
}

func TestExecutorRecoversCollaboratorPanic(t *testing.T) {
	op := testutil.CreateOperation(t, "panics", nil, nil, &testutil.MockCollaborator{PanicValue: "index out of range"})
	def, err := operations.SingleStage(op)
	require.NoError(t, err)

	report, err := operations.NewExecutor(nil).Execute(context.Background(), def, operations.RunRequest{})
	require.NoError(t, err)

	assert.Equal(t, operations.RunFailed, report.Status)
	stage, _ := report.Stage("panics")
	require.NotNil(t, stage.Error)
	assert.Equal(t, operations.KindCollaborator, stage.Error.Kind)
	assert.Contains(t, stage.Error.Message, "index out of range")
}

func TestExecutorRetry(t *testing.T) {
	retry := operations.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
	config := operations.NewConfigBuilder().WithRetryConfig(retry).Build()

	t.Run("retryable failures are retried", func(t *testing.T) {
		calls := 0
		mock := &testutil.MockCollaborator{
			InvokeFunc: func(context.Context, operations.Params) (operations.Result, error) {
				calls++
				if calls < 3 {
					return nil, operations.Retryable(errors.New("connection reset"))
				}
				return operations.Result{"ok": true}, nil
			},
		}
		def, err := operations.SingleStage(testutil.CreateOperation(t, "flaky", nil, nil, mock))
		require.NoError(t, err)

		report, err := operations.NewExecutor(config).Execute(context.Background(), def, operations.RunRequest{})
		require.NoError(t, err)

		assert.Equal(t, operations.RunSucceeded, report.Status)
		assert.Equal(t, 3, report.Stages[0].Attempts)
		assert.Equal(t, 3, mock.CallCount())
	})

	t.Run("other failures are not", func(t *testing.T) {
		op, mock := testutil.CreateFailingOperation(t, "broken")
		def, err := operations.SingleStage(op)
		require.NoError(t, err)

		report, err := operations.NewExecutor(config).Execute(context.Background(), def, operations.RunRequest{})
		require.NoError(t, err)

		assert.Equal(t, operations.RunFailed, report.Status)
		assert.Equal(t, 1, report.Stages[0].Attempts)
		assert.Equal(t, 1, mock.CallCount())
	})

	t.Run("exhausted attempts fail the stage", func(t *testing.T) {
		mock := &testutil.MockCollaborator{Err: operations.Retryable(errors.New("unavailable"))}
		def, err := operations.SingleStage(testutil.CreateOperation(t, "down", nil, nil, mock))
		require.NoError(t, err)

		report, err := operations.NewExecutor(config).Execute(context.Background(), def, operations.RunRequest{})
		require.NoError(t, err)

		assert.Equal(t, operations.RunFailed, report.Status)
		assert.Equal(t, 3, mock.CallCount())
	})
}

func TestExecutorConcurrentRuns(t *testing.T) {
	op, mock := alphaDiversity(t)
	def, err := operations.SingleStage(op)
	require.NoError(t, err)
	executor := operations.NewExecutor(nil)

	const runs = 20
	reports := make(chan *operations.RunReport, runs)
	for i := 0; i < runs; i++ {
		go func() {
			report, err := executor.Execute(context.Background(), def, operations.RunRequest{
				Params: operations.Params{"metric": "chao1"},
			})
			if err != nil {
				reports <- nil
				return
			}
			reports <- report
		}()
	}

	ids := make(map[string]bool, runs)
	for i := 0; i < runs; i++ {
		report := <-reports
		require.NotNil(t, report)
		assert.Equal(t, operations.RunSucceeded, report.Status)
		ids[report.ID] = true
	}
	assert.Len(t, ids, runs)
	assert.Equal(t, runs, mock.CallCount())
}

func TestExecutorBroadcastsSnapshots(t *testing.T) {
	hub := &recordingHub{}
	broadcaster := operations.NewStatusBroadcaster(hub, nil)
	defer broadcaster.Stop()

	op, _ := alphaDiversity(t)
	def, err := operations.SingleStage(op)
	require.NoError(t, err)

	executor := operations.NewExecutor(nil, operations.WithBroadcaster(broadcaster))
	report, err := executor.Execute(context.Background(), def, operations.RunRequest{
		ID:     "run-1",
		Params: operations.Params{"metric": "simpson"},
	})
	require.NoError(t, err)
	assert.Equal(t, "run-1", report.ID)

	snapshot, ok := broadcaster.GetSnapshot("run-1")
	require.True(t, ok)
	assert.Equal(t, "succeeded", snapshot.Status)
	assert.Equal(t, 100, snapshot.Progress)
	assert.NotNil(t, snapshot.CompletedAt)
	assert.NotEmpty(t, hub.events())
}
