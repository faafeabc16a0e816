//go:build linux

package catalog_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emprofiler/internal/catalog"
	"emprofiler/internal/operations"
)

// processAlive reports whether pid is running. Zombies awaiting a reaper count as gone.
func processAlive(pid int) bool {
	stat, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return false
	}
	fields := strings.Fields(string(stat[strings.LastIndexByte(string(stat), ')')+1:]))
	return len(fields) > 0 && fields[0] != "Z"
}

func TestCommandCollaborator_StageTimeoutKillsForkedChildren(t *testing.T) {
	requireShell(t)

	dir := t.TempDir()
	op, err := operations.NewOperation(operations.OperationSpec{
		Name: "wrapped-tool",
		Collaborator: catalog.NewCommandCollaborator(
			[]string{"sh", "-c", `sleep 30 & echo $! > child.pid; wait; echo '{}'`}, dir, nil),
	})
	require.NoError(t, err)

	executor := operations.NewExecutor(
		operations.NewConfigBuilder().WithDefaultStageTimeout(300*time.Millisecond).Build(),
		operations.WithLogger(quietLogger()),
	)
	def, err := operations.SingleStage(op)
	require.NoError(t, err)

	start := time.Now()
	report, err := executor.Execute(context.Background(), def, operations.RunRequest{Target: "wrapped-tool"})
	require.NoError(t, err)
	assert.Equal(t, operations.RunFailed, report.Status)
	assert.Less(t, time.Since(start), 5*time.Second)

	data, err := os.ReadFile(filepath.Join(dir, "child.pid"))
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return !processAlive(pid) }, 2*time.Second, 20*time.Millisecond,
		"sleep %d outlived the stage timeout", pid)
}
