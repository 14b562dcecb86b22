// Package runner compiles a project for one target profile and, for hosted
// profiles only, executes its test suite. Freestanding profiles are
// build-only gates: there is no host able to run their binaries, so a clean
// compile alone succeeds.
package runner

import (
	"context"
	"fmt"

	"github.com/vk/crossgrid/internal/config"
	"github.com/vk/crossgrid/internal/ctxlog"
	"github.com/vk/crossgrid/internal/hook"
	"github.com/vk/crossgrid/internal/profile"
	"github.com/vk/crossgrid/internal/toolchain"
)

// OutcomeKind classifies the verdict of one build/test attempt.
type OutcomeKind int

const (
	// OutcomeSucceeded means the compile passed and, for hosted profiles,
	// so did the tests.
	OutcomeSucceeded OutcomeKind = iota
	// OutcomeCompileFailed means the compile step failed; tests never ran.
	OutcomeCompileFailed
	// OutcomeTestFailed means the compile passed but the test suite failed.
	OutcomeTestFailed
)

// String renders the kind for logs.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeCompileFailed:
		return "compile-failed"
	case OutcomeTestFailed:
		return "test-failed"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the verdict of one run, with verbatim diagnostics on failure.
type Outcome struct {
	Kind        OutcomeKind
	Diagnostics string
}

// Phase identifies the stage a run is currently executing. It is reported
// through the onPhase callback so the caller can track job state.
type Phase int

const (
	// PhaseCompile is the mandatory build step.
	PhaseCompile Phase = iota
	// PhaseTest is the test execution step, hosted profiles only.
	PhaseTest
)

// Runner drives the script hook through the compile and test phases.
type Runner struct {
	exec  hook.Executor
	hooks *config.Hooks
}

// New creates a Runner around the injected command capability.
func New(exec hook.Executor, hooks *config.Hooks) *Runner {
	return &Runner{exec: exec, hooks: hooks}
}

// Run compiles the project for the profile and, when the profile is hosted,
// runs the test suite after a successful compile. A compile failure
// short-circuits before any test invocation. The error return is reserved
// for infrastructure failures (cancellation, unrunnable hook); build and
// test failures are ordinary outcomes.
func (r *Runner) Run(ctx context.Context, prof *profile.Profile, tc *toolchain.Handle, onPhase func(Phase)) (Outcome, error) {
	logger := ctxlog.FromContext(ctx).With("triple", prof.Triple)
	if onPhase == nil {
		onPhase = func(Phase) {}
	}

	onPhase(PhaseCompile)
	logger.Debug("Compile phase starting.")
	res, err := r.runScript(ctx, prof, tc, "compile")
	if err != nil {
		return Outcome{}, err
	}
	if !res.OK() {
		logger.Debug("Compile phase failed.", "exit_code", res.ExitCode)
		return Outcome{Kind: OutcomeCompileFailed, Diagnostics: res.Output}, nil
	}

	if prof.Freestanding {
		logger.Debug("Freestanding profile, skipping test execution.")
		return Outcome{Kind: OutcomeSucceeded}, nil
	}

	onPhase(PhaseTest)
	logger.Debug("Test phase starting.")
	res, err = r.runScript(ctx, prof, tc, "test")
	if err != nil {
		return Outcome{}, err
	}
	if !res.OK() {
		logger.Debug("Test phase failed.", "exit_code", res.ExitCode)
		return Outcome{Kind: OutcomeTestFailed, Diagnostics: res.Output}, nil
	}

	return Outcome{Kind: OutcomeSucceeded}, nil
}

// runScript invokes the script hook for one phase with the profile's
// environment layered in.
func (r *Runner) runScript(ctx context.Context, prof *profile.Profile, tc *toolchain.Handle, phase string) (hook.Result, error) {
	env := map[string]string{
		"CROSSGRID_TARGET": prof.Triple,
		"CROSSGRID_PHASE":  phase,
	}
	if prof.Freestanding {
		env["CROSSGRID_FREESTANDING"] = "1"
	}
	if tc != nil && tc.Sysroot != "" {
		env["CROSSGRID_SYSROOT"] = tc.Sysroot
	}
	for k, v := range prof.Env {
		env[k] = v
	}

	return r.exec.Run(ctx, hook.Command{
		Name: "script",
		Line: r.hooks.Script,
		Env:  env,
	})
}
