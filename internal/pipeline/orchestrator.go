// Package pipeline expands the target registry into independent jobs, runs
// them on a bounded worker pool, and aggregates the per-job verdicts into a
// single pipeline result. One job failing never aborts its siblings: the
// matrix reports every target's verdict, not just the first failure.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vk/crossgrid/internal/cache"
	"github.com/vk/crossgrid/internal/config"
	"github.com/vk/crossgrid/internal/ctxlog"
	"github.com/vk/crossgrid/internal/hook"
	"github.com/vk/crossgrid/internal/profile"
	"github.com/vk/crossgrid/internal/runner"
	"github.com/vk/crossgrid/internal/toolchain"
)

// Provisioner is the toolchain setup seam; internal/toolchain provides the
// production implementation.
type Provisioner interface {
	Provision(ctx context.Context, prof *profile.Profile) (*toolchain.Handle, error)
}

// BuildRunner is the build/test seam; internal/runner provides the
// production implementation.
type BuildRunner interface {
	Run(ctx context.Context, prof *profile.Profile, tc *toolchain.Handle, onPhase func(runner.Phase)) (runner.Outcome, error)
}

// CacheManager is the cache seam the orchestrator drives: per-job commits
// for succeeded jobs and the unconditional end-of-run snapshot.
type CacheManager interface {
	Commit(ctx context.Context, key cache.Key, meta cache.CommitMeta) error
	Snapshot(ctx context.Context) error
}

// Orchestrator sequences provision, build/test and post-success steps for
// every job and owns the fan-out/fan-in across the worker pool.
type Orchestrator struct {
	registry    *profile.Registry
	provisioner Provisioner
	runner      BuildRunner
	cache       CacheManager
	exec        hook.Executor
	hooks       *config.Hooks
	workers     int
	jobTimeout  time.Duration
	runID       string

	mu   sync.RWMutex
	jobs []*Job
}

// New creates an Orchestrator for one run.
func New(registry *profile.Registry, prov Provisioner, run BuildRunner, cacheMgr CacheManager, exec hook.Executor, hooks *config.Hooks, pipe *config.Pipeline) *Orchestrator {
	workers := pipe.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Orchestrator{
		registry:    registry,
		provisioner: prov,
		runner:      run,
		cache:       cacheMgr,
		exec:        exec,
		hooks:       hooks,
		workers:     workers,
		jobTimeout:  pipe.JobTimeout,
		runID:       uuid.NewString(),
	}
}

// RunID identifies this pipeline run.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Jobs returns the run's jobs in configuration order. Safe to call while
// the run is in flight; statuses read through Job are live.
func (o *Orchestrator) Jobs() []*Job {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Job, len(o.jobs))
	copy(out, o.jobs)
	return out
}

// Run executes the whole matrix and returns the aggregate result. The cache
// snapshot happens strictly after every job has settled, and regardless of
// the verdict. The returned error is non-nil when the aggregate verdict is
// Failed or when a run-level step (after-success hook, snapshot) failed;
// the per-job detail always lives in the result.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	logger := ctxlog.FromContext(ctx)

	profiles := o.registry.Profiles()
	jobs := make([]*Job, len(profiles))
	for i, prof := range profiles {
		jobs[i] = newJob(prof)
	}
	o.mu.Lock()
	o.jobs = jobs
	o.mu.Unlock()
	logger.Info("Matrix expanded into jobs.", "run_id", o.runID, "jobs", len(jobs))

	ready := make(chan *Job, len(jobs))
	for _, j := range jobs {
		ready <- j
	}
	close(ready)

	workers := o.workers
	if workers > len(jobs) {
		workers = len(jobs)
	}
	var wg sync.WaitGroup
	wg.Add(workers)
	logger.Debug("Starting worker pool.", "workers", workers)
	for i := 0; i < workers; i++ {
		go func(workerID int) {
			defer wg.Done()
			for job := range ready {
				o.runJob(ctx, job, workerID)
			}
		}(i)
	}

	wg.Wait()
	logger.Info("All jobs settled.")

	result := newResult(o.runID, jobs)

	var runErr error
	if result.Succeeded() {
		if err := o.runAfterSuccess(ctx); err != nil {
			runErr = err
		}
	} else {
		var failed []string
		for _, j := range result.FailedJobs() {
			failed = append(failed, j.Profile.Triple)
		}
		runErr = fmt.Errorf("execution failed for %s", strings.Join(failed, ", "))
	}

	// The snapshot must not be skipped because the run was aborted, so it
	// gets a context detached from the (possibly cancelled) run context.
	if err := o.cache.Snapshot(context.WithoutCancel(ctx)); err != nil {
		logger.Error("Cache snapshot failed.", "error", err)
		runErr = errors.Join(runErr, err)
	}

	return result, runErr
}

// runJob drives one job from Pending to a terminal state. Every failure path
// is local to the job; the worker moves on to the next one.
func (o *Orchestrator) runJob(ctx context.Context, job *Job, workerID int) {
	logger := ctxlog.FromContext(ctx).With("workerID", workerID, "job_id", job.ID, "triple", job.Profile.Triple)
	ctx = ctxlog.WithLogger(ctx, logger)

	jobCtx := ctx
	cancel := context.CancelFunc(func() {})
	if o.jobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, o.jobTimeout)
	}
	defer cancel()

	if jobCtx.Err() != nil {
		job.start()
		job.fail(CauseCancelled, jobCtx.Err(), "")
		logger.Warn("Job cancelled before it started.")
		return
	}

	logger.Info("Job starting.")
	job.start()

	tc, err := o.provisioner.Provision(jobCtx, job.Profile)
	if err != nil {
		o.failJob(jobCtx, job, CauseProvision, err, provisionDiagnostics(err))
		return
	}

	if o.hooks != nil && o.hooks.Install != "" {
		res, err := o.exec.Run(jobCtx, hook.Command{
			Name: "install",
			Line: o.hooks.Install,
			Env:  jobEnv(job.Profile, tc),
		})
		if err != nil {
			o.failJob(jobCtx, job, CauseProvision, err, "")
			return
		}
		if !res.OK() {
			err := fmt.Errorf("install hook exited with code %d", res.ExitCode)
			o.failJob(jobCtx, job, CauseProvision, err, res.Output)
			return
		}
	}

	job.advance(Building)
	outcome, err := o.runner.Run(jobCtx, job.Profile, tc, func(p runner.Phase) {
		if p == runner.PhaseTest {
			job.advance(Testing)
		}
	})
	if err != nil {
		o.failJob(jobCtx, job, CauseCancelled, err, "")
		return
	}

	switch outcome.Kind {
	case runner.OutcomeCompileFailed:
		err := fmt.Errorf("compile failed for %s", job.Profile.Triple)
		job.fail(CauseCompile, err, outcome.Diagnostics)
		logger.Error("Job failed.", "cause", CauseCompile.String())
	case runner.OutcomeTestFailed:
		err := fmt.Errorf("tests failed for %s", job.Profile.Triple)
		job.fail(CauseTest, err, outcome.Diagnostics)
		logger.Error("Job failed.", "cause", CauseTest.String())
	case runner.OutcomeSucceeded:
		job.succeed()
		logger.Info("Job succeeded.", "duration", job.Duration())
		o.commitToolchain(ctx, job)
	}
}

// failJob records a job failure, reclassifying it as cancellation when the
// job's context expired.
func (o *Orchestrator) failJob(ctx context.Context, job *Job, cause Cause, err error, diagnostics string) {
	logger := ctxlog.FromContext(ctx)
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		cause = CauseCancelled
	}
	job.fail(cause, err, diagnostics)
	logger.Error("Job failed.", "cause", cause.String(), "error", err)
}

// commitToolchain records the job's toolchain artifacts as a valid cache
// entry. Only succeeded jobs reach this point, which is what keeps stale
// entries from failed jobs out of the cache.
func (o *Orchestrator) commitToolchain(ctx context.Context, job *Job) {
	if !job.Profile.CrossToolchain {
		return
	}
	logger := ctxlog.FromContext(ctx)
	key := cache.Key{Triple: job.Profile.Triple, Kind: cache.KindToolchain}
	meta := cache.CommitMeta{RunID: o.runID, JobID: job.ID}
	if err := o.cache.Commit(context.WithoutCancel(ctx), key, meta); err != nil {
		// A commit failure costs a warm cache next run, not this verdict.
		logger.Warn("Failed to commit toolchain cache entry.", "key", key.String(), "error", err)
	}
}

// runAfterSuccess invokes the post-success hook. It only runs when the
// aggregate result is Succeeded.
func (o *Orchestrator) runAfterSuccess(ctx context.Context) error {
	if o.hooks == nil || o.hooks.AfterSuccess == "" {
		return nil
	}
	logger := ctxlog.FromContext(ctx)
	logger.Info("Running after-success hook.")

	res, err := o.exec.Run(ctx, hook.Command{Name: "after-success", Line: o.hooks.AfterSuccess})
	if err != nil {
		return fmt.Errorf("after-success hook: %w", err)
	}
	if !res.OK() {
		return fmt.Errorf("after-success hook exited with code %d: %s", res.ExitCode, res.Output)
	}
	return nil
}

// jobEnv builds the environment for per-job hooks.
func jobEnv(prof *profile.Profile, tc *toolchain.Handle) map[string]string {
	env := map[string]string{"CROSSGRID_TARGET": prof.Triple}
	if prof.Freestanding {
		env["CROSSGRID_FREESTANDING"] = "1"
	}
	if tc != nil && tc.Sysroot != "" {
		env["CROSSGRID_SYSROOT"] = tc.Sysroot
	}
	for k, v := range prof.Env {
		env[k] = v
	}
	return env
}

// provisionDiagnostics surfaces the captured output of a failed provisioning
// step verbatim, when there is any.
func provisionDiagnostics(err error) string {
	var perr *toolchain.ProvisionError
	if errors.As(err, &perr) {
		return perr.Output
	}
	return ""
}
