// Package hook models external pipeline commands (install, script,
// after-success, package installation) as an injected capability, so the
// engine never hardcodes shell invocation and tests can substitute fakes.
package hook

import "context"

// Command describes a single hook invocation.
type Command struct {
	// Name identifies the hook for logging, e.g. "install" or "script".
	Name string
	// Line is the command line, run through the shell.
	Line string
	// Dir is the working directory; empty means the process working directory.
	Dir string
	// Env holds extra environment variables layered over the process env.
	Env map[string]string
}

// Result carries the observable outcome of a finished hook command.
type Result struct {
	// ExitCode is the command's exit status. Zero means success.
	ExitCode int
	// Output is the combined stdout and stderr, surfaced verbatim.
	Output string
}

// OK reports whether the command exited successfully.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// Executor runs one external hook command to completion. A non-zero exit is
// reported via Result, not as an error; the error return is reserved for
// failures to run the command at all (including context cancellation).
type Executor interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}
