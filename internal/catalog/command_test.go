package catalog_test

import (
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emprofiler/internal/catalog"
	"emprofiler/internal/operations"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func shell(script string, env map[string]string) *catalog.CommandCollaborator {
	return catalog.NewCommandCollaborator([]string{"sh", "-c", script}, "", env)
}

func TestCommandCollaborator_EchoesParams(t *testing.T) {
	requireShell(t)

	result, err := shell("cat", nil).Invoke(context.Background(), operations.Params{
		"metric": "shannon",
		"depth":  3,
		"groups": []interface{}{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "shannon", result["metric"])
	assert.Equal(t, json.Number("3"), result["depth"])
	assert.Equal(t, []interface{}{"a", "b"}, result["groups"])
}

func TestCommandCollaborator_Env(t *testing.T) {
	requireShell(t)

	c := shell(`printf '{"genome":"%s"}' "$EMP_GENOME"`, map[string]string{"EMP_GENOME": "hg38"})
	result, err := c.Invoke(context.Background(), operations.Params{})
	require.NoError(t, err)
	assert.Equal(t, operations.Result{"genome": "hg38"}, result)
}

func TestCommandCollaborator_Failures(t *testing.T) {
	requireShell(t)

	tests := []struct {
		name      string
		script    string
		contains  string
		retryable bool
	}{
		{"non-zero exit", "echo 'bam index missing' >&2; exit 3", "bam index missing", false},
		{"temporary failure", "echo 'scheduler busy' >&2; exit 75", "scheduler busy", true},
		{"invalid output", "echo not-json", "invalid output", false},
		{"null output", "echo null", "no result object", false},
		{"empty stderr", "exit 1", "no stderr output", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := shell(tt.script, nil).Invoke(context.Background(), operations.Params{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
			assert.Equal(t, tt.retryable, operations.IsRetryable(err))
		})
	}
}

func TestCommandCollaborator_StderrTailIsValidUTF8(t *testing.T) {
	requireShell(t)

	// 1500 two-byte runes plus one trailing byte puts the tail cut mid-rune
	script := `i=0; while [ $i -lt 1500 ]; do printf 'é'; i=$((i+1)); done >&2; printf '!' >&2; exit 1`
	_, err := shell(script, nil).Invoke(context.Background(), operations.Params{})
	require.Error(t, err)
	assert.True(t, utf8.ValidString(err.Error()))
	assert.True(t, strings.HasSuffix(err.Error(), "é!"))
}

func TestCommandCollaborator_Cancelled(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := shell("sleep 5", nil).Invoke(ctx, operations.Params{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestCommandCollaborator_RetriedByExecutor(t *testing.T) {
	requireShell(t)

	dir := t.TempDir()
	// first attempt fails with EX_TEMPFAIL, the second succeeds
	script := `if [ -f attempted ]; then echo '{"ok":true}'; else touch attempted; exit 75; fi`
	op, err := operations.NewOperation(operations.OperationSpec{
		Name:         "flaky",
		Collaborator: catalog.NewCommandCollaborator([]string{"sh", "-c", script}, dir, nil),
	})
	require.NoError(t, err)

	retry := operations.NewRetryConfig()
	retry.MaxAttempts = 2
	retry.InitialDelay = time.Millisecond
	executor := operations.NewExecutor(
		operations.NewConfigBuilder().WithRetryConfig(retry).Build(),
		operations.WithLogger(quietLogger()),
	)
	def, err := operations.SingleStage(op)
	require.NoError(t, err)

	report, err := executor.Execute(context.Background(), def, operations.RunRequest{Target: "flaky"})
	require.NoError(t, err)
	require.Equal(t, operations.RunSucceeded, report.Status)
	assert.Equal(t, 2, report.Stages[0].Attempts)
	assert.Equal(t, true, report.Stages[0].Result["ok"])
}
