package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"emprofiler/internal/operations"
)

// ExitTempFail is the exit status (EX_TEMPFAIL) a command uses to report a
// failure worth retrying.
const ExitTempFail = 75

const stderrTail = 2048

// killWaitDelay bounds how long Invoke waits for output pipes to close after
// the process group has been killed
const killWaitDelay = 2 * time.Second

// CommandCollaborator runs an external program per invocation. Parameters are
// written to stdin as a JSON object and the program must print a JSON object
// on stdout.
type CommandCollaborator struct {
	Path string
	Args []string
	Dir  string
	Env  map[string]string
}

// NewCommandCollaborator builds a collaborator from an argv slice
func NewCommandCollaborator(argv []string, dir string, env map[string]string) *CommandCollaborator {
	c := &CommandCollaborator{Dir: dir, Env: env}
	if len(argv) > 0 {
		c.Path = argv[0]
		c.Args = append([]string(nil), argv[1:]...)
	}
	return c
}

// Invoke implements operations.Collaborator
func (c *CommandCollaborator) Invoke(ctx context.Context, params operations.Params) (operations.Result, error) {
	input, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode parameters: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = killWaitDelay
	killProcessGroupOnCancel(cmd)
	cmd.Stdin = bytes.NewReader(input)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.environ()...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		runErr := fmt.Errorf("%s failed: %w: %s", c.Path, err, tail(stderr.String()))
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == ExitTempFail {
			return nil, operations.Retryable(runErr)
		}
		return nil, runErr
	}

	var result operations.Result
	decoder := json.NewDecoder(&stdout)
	decoder.UseNumber()
	if err := decoder.Decode(&result); err != nil {
		return nil, fmt.Errorf("%s produced invalid output: %w", c.Path, err)
	}
	if result == nil {
		return nil, fmt.Errorf("%s produced no result object", c.Path)
	}
	return result, nil
}

func (c *CommandCollaborator) environ() []string {
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+c.Env[k])
	}
	return env
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		cut := len(s) - stderrTail
		for cut < len(s) && !utf8.RuneStart(s[cut]) {
			cut++
		}
		s = "..." + s[cut:]
	}
	if s == "" {
		return "no stderr output"
	}
	return s
}
