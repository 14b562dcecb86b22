package hook

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"

	"github.com/vk/crossgrid/internal/ctxlog"
)

// ExecRunner is the production Executor: it runs hook commands through the
// shell with exec.CommandContext, so an expired context kills the process.
type ExecRunner struct {
	// Shell is the interpreter used to run command lines. Defaults to /bin/sh.
	Shell string
}

// NewExecRunner creates an ExecRunner with the default shell.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{Shell: "/bin/sh"}
}

// Run implements Executor.
func (e *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	logger := ctxlog.FromContext(ctx).With("hook", cmd.Name)

	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	shell := e.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	logger.Debug("Running hook command.", "line", cmd.Line)
	c := exec.CommandContext(ctx, shell, "-c", cmd.Line)
	c.Dir = cmd.Dir
	c.Env = mergedEnv(cmd.Env)

	out, err := c.CombinedOutput()
	if err != nil {
		// A context kill surfaces as an ExitError too; report it as
		// cancellation so the caller can distinguish aborts from failures.
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result := Result{ExitCode: exitErr.ExitCode(), Output: string(out)}
			logger.Debug("Hook command exited non-zero.", "exit_code", result.ExitCode)
			return result, nil
		}
		return Result{}, fmt.Errorf("failed to run %s hook: %w", cmd.Name, err)
	}

	return Result{ExitCode: 0, Output: string(out)}, nil
}

// mergedEnv layers the command's extra variables over the process
// environment, sorted for deterministic invocation.
func mergedEnv(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
