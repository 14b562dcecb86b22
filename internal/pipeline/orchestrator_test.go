package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vk/crossgrid/internal/cache"
	"github.com/vk/crossgrid/internal/config"
	"github.com/vk/crossgrid/internal/hook"
	"github.com/vk/crossgrid/internal/profile"
	"github.com/vk/crossgrid/internal/runner"
	"github.com/vk/crossgrid/internal/toolchain"
)

// fakeProvisioner returns scripted errors per triple and counts calls.
type fakeProvisioner struct {
	mu    sync.Mutex
	errs  map[string]error
	calls map[string]int
	delay time.Duration
}

func newFakeProvisioner() *fakeProvisioner {
	return &fakeProvisioner{errs: make(map[string]error), calls: make(map[string]int)}
}

func (f *fakeProvisioner) Provision(ctx context.Context, prof *profile.Profile) (*toolchain.Handle, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[prof.Triple]++
	if err := f.errs[prof.Triple]; err != nil {
		return nil, err
	}
	return &toolchain.Handle{Triple: prof.Triple}, nil
}

// fakeRunner returns scripted outcomes per triple and counts test phases.
type fakeRunner struct {
	mu        sync.Mutex
	outcomes  map[string]runner.Outcome
	testCalls map[string]int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{outcomes: make(map[string]runner.Outcome), testCalls: make(map[string]int)}
}

func (f *fakeRunner) Run(ctx context.Context, prof *profile.Profile, tc *toolchain.Handle, onPhase func(runner.Phase)) (runner.Outcome, error) {
	if onPhase == nil {
		onPhase = func(runner.Phase) {}
	}
	onPhase(runner.PhaseCompile)

	f.mu.Lock()
	outcome, scripted := f.outcomes[prof.Triple]
	f.mu.Unlock()
	if scripted && outcome.Kind == runner.OutcomeCompileFailed {
		return outcome, nil
	}

	if prof.Hosted() {
		onPhase(runner.PhaseTest)
		f.mu.Lock()
		f.testCalls[prof.Triple]++
		f.mu.Unlock()
	}
	if scripted {
		return outcome, nil
	}
	return runner.Outcome{Kind: runner.OutcomeSucceeded}, nil
}

func (f *fakeRunner) tests(triple string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.testCalls[triple]
}

// fakeCache records commits and captures every job's status at the moment
// Snapshot fires.
type fakeCache struct {
	mu               sync.Mutex
	commits          []cache.Key
	snapshots        int
	statusesAtSnap   [][]Status
	jobsAtSnapSource func() []*Job
}

func (f *fakeCache) Commit(ctx context.Context, key cache.Key, meta cache.CommitMeta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, key)
	return nil
}

func (f *fakeCache) Snapshot(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots++
	if f.jobsAtSnapSource != nil {
		var statuses []Status
		for _, j := range f.jobsAtSnapSource() {
			statuses = append(statuses, j.Status())
		}
		f.statusesAtSnap = append(f.statusesAtSnap, statuses)
	}
	return nil
}

// countingExecutor records hook invocations by name.
type countingExecutor struct {
	mu    sync.Mutex
	calls map[string]int
}

func newCountingExecutor() *countingExecutor {
	return &countingExecutor{calls: make(map[string]int)}
}

func (e *countingExecutor) Run(ctx context.Context, cmd hook.Command) (hook.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[cmd.Name]++
	return hook.Result{ExitCode: 0}, nil
}

func (e *countingExecutor) count(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[name]
}

// matrixRegistry builds a two-target registry: a hosted x86_64 target and a
// freestanding ARM target.
func matrixRegistry(t *testing.T) *profile.Registry {
	t.Helper()
	registry, err := profile.NewRegistry([]*config.Target{
		{Triple: "x86_64-host"},
		{Triple: "arm-embedded", Freestanding: true, ExtraPackages: []string{"cross-binutils"}},
	})
	require.NoError(t, err)
	return registry
}

type orchFixture struct {
	orch   *Orchestrator
	prov   *fakeProvisioner
	runner *fakeRunner
	cache  *fakeCache
	exec   *countingExecutor
}

func setupOrchestrator(t *testing.T, registry *profile.Registry, pipe *config.Pipeline) *orchFixture {
	t.Helper()
	fix := &orchFixture{
		prov:   newFakeProvisioner(),
		runner: newFakeRunner(),
		cache:  &fakeCache{},
		exec:   newCountingExecutor(),
	}
	if pipe == nil {
		pipe = &config.Pipeline{Workers: 2}
	}
	hooks := &config.Hooks{Install: "./ci/install.sh", Script: "./ci/script.sh", AfterSuccess: "./ci/after_success.sh"}
	fix.orch = New(registry, fix.prov, fix.runner, fix.cache, fix.exec, hooks, pipe)
	fix.cache.jobsAtSnapSource = fix.orch.Jobs
	return fix
}

func jobByTriple(t *testing.T, result *Result, triple string) *Job {
	t.Helper()
	for _, j := range result.Jobs {
		if j.Profile.Triple == triple {
			return j
		}
	}
	t.Fatalf("no job for triple %s", triple)
	return nil
}

func TestRun_AllTargetsPass(t *testing.T) {
	fix := setupOrchestrator(t, matrixRegistry(t), nil)

	result, err := fix.orch.Run(context.Background())
	require.NoError(t, err)
	require.True(t, result.Succeeded())

	host := jobByTriple(t, result, "x86_64-host")
	embedded := jobByTriple(t, result, "arm-embedded")
	require.Equal(t, Succeeded, host.Status())
	require.Equal(t, Succeeded, embedded.Status())

	// The hosted job ran its tests; the embedded one never did.
	require.Equal(t, 1, fix.runner.tests("x86_64-host"))
	require.Zero(t, fix.runner.tests("arm-embedded"))

	// Snapshot fired exactly once, at the end.
	require.Equal(t, 1, fix.cache.snapshots)
	// After-success hook ran.
	require.Equal(t, 1, fix.exec.count("after-success"))
}

func TestRun_HostTestFailureIsIsolated(t *testing.T) {
	fix := setupOrchestrator(t, matrixRegistry(t), nil)
	fix.runner.outcomes["x86_64-host"] = runner.Outcome{
		Kind:        runner.OutcomeTestFailed,
		Diagnostics: "test result: FAILED. 3 passed; 1 failed",
	}

	result, err := fix.orch.Run(context.Background())
	require.Error(t, err)
	require.False(t, result.Succeeded())

	host := jobByTriple(t, result, "x86_64-host")
	require.Equal(t, Failed, host.Status())
	require.Equal(t, CauseTest, host.Cause())
	require.Contains(t, host.Diagnostics(), "1 failed")

	// The embedded sibling still succeeded.
	embedded := jobByTriple(t, result, "arm-embedded")
	require.Equal(t, Succeeded, embedded.Status())

	// After-success must not run; the snapshot still fires exactly once.
	require.Zero(t, fix.exec.count("after-success"))
	require.Equal(t, 1, fix.cache.snapshots)
}

func TestRun_ProvisionFailureIsIsolated(t *testing.T) {
	fix := setupOrchestrator(t, matrixRegistry(t), nil)
	fix.prov.errs["arm-embedded"] = &toolchain.ProvisionError{
		Triple: "arm-embedded",
		Stage:  "packages",
		Output: "E: Unable to locate package cross-binutils",
		Err:    errors.New("package installation exited with code 100"),
	}

	result, err := fix.orch.Run(context.Background())
	require.Error(t, err)
	require.False(t, result.Succeeded())

	embedded := jobByTriple(t, result, "arm-embedded")
	require.Equal(t, Failed, embedded.Status())
	require.Equal(t, CauseProvision, embedded.Cause())
	require.Contains(t, embedded.Diagnostics(), "Unable to locate package")

	host := jobByTriple(t, result, "x86_64-host")
	require.Equal(t, Succeeded, host.Status())
	require.Equal(t, 1, fix.runner.tests("x86_64-host"))
}

func TestRun_CompileFailureShortCircuitsTests(t *testing.T) {
	fix := setupOrchestrator(t, matrixRegistry(t), nil)
	fix.runner.outcomes["x86_64-host"] = runner.Outcome{
		Kind:        runner.OutcomeCompileFailed,
		Diagnostics: "error[E0432]: unresolved import",
	}

	result, err := fix.orch.Run(context.Background())
	require.Error(t, err)

	host := jobByTriple(t, result, "x86_64-host")
	require.Equal(t, CauseCompile, host.Cause())
	require.Zero(t, fix.runner.tests("x86_64-host"))
}

func TestRun_SnapshotHappensAfterEveryJobIsTerminal(t *testing.T) {
	fix := setupOrchestrator(t, matrixRegistry(t), nil)
	fix.runner.outcomes["x86_64-host"] = runner.Outcome{Kind: runner.OutcomeTestFailed}

	_, err := fix.orch.Run(context.Background())
	require.Error(t, err)

	require.Len(t, fix.cache.statusesAtSnap, 1)
	for _, status := range fix.cache.statusesAtSnap[0] {
		require.True(t, status.Terminal(), "snapshot must never observe a non-terminal job")
	}
}

func TestRun_CommitsToolchainOnlyForSucceededCrossJobs(t *testing.T) {
	fix := setupOrchestrator(t, matrixRegistry(t), nil)

	result, err := fix.orch.Run(context.Background())
	require.NoError(t, err)
	require.True(t, result.Succeeded())

	// Only the embedded target carries a cross toolchain.
	require.Len(t, fix.cache.commits, 1)
	require.Equal(t, cache.Key{Triple: "arm-embedded", Kind: cache.KindToolchain}, fix.cache.commits[0])
}

func TestRun_NoCommitForFailedCrossJob(t *testing.T) {
	fix := setupOrchestrator(t, matrixRegistry(t), nil)
	fix.runner.outcomes["arm-embedded"] = runner.Outcome{Kind: runner.OutcomeCompileFailed}

	_, err := fix.orch.Run(context.Background())
	require.Error(t, err)
	require.Empty(t, fix.cache.commits, "a failed job must not commit cache entries")
}

func TestRun_ExternalAbortCancelsInFlightJobs(t *testing.T) {
	fix := setupOrchestrator(t, matrixRegistry(t), nil)
	fix.prov.delay = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result, err := fix.orch.Run(ctx)
	require.Error(t, err)
	require.Less(t, time.Since(start), 3*time.Second, "cancellation must not wait out the full provisioning delay")

	for _, j := range result.Jobs {
		require.Equal(t, Failed, j.Status())
		require.Equal(t, CauseCancelled, j.Cause())
	}
	// The snapshot still fires after an abort.
	require.Equal(t, 1, fix.cache.snapshots)
}

func TestRun_PerJobTimeoutOnlyStarvesTheSlowJob(t *testing.T) {
	registry, err := profile.NewRegistry([]*config.Target{
		{Triple: "x86_64-host"},
		{Triple: "arm-embedded", Freestanding: true},
	})
	require.NoError(t, err)

	fix := setupOrchestrator(t, registry, &config.Pipeline{Workers: 2, JobTimeout: 80 * time.Millisecond})

	slow := newFakeProvisioner()
	slow.delay = 5 * time.Second
	// Route only the embedded target through the slow provisioner.
	fix.orch.provisioner = provisionerFunc(func(ctx context.Context, prof *profile.Profile) (*toolchain.Handle, error) {
		if prof.Triple == "arm-embedded" {
			return slow.Provision(ctx, prof)
		}
		return fix.prov.Provision(ctx, prof)
	})

	result, err := fix.orch.Run(context.Background())
	require.Error(t, err)

	require.Equal(t, Succeeded, jobByTriple(t, result, "x86_64-host").Status())
	embedded := jobByTriple(t, result, "arm-embedded")
	require.Equal(t, Failed, embedded.Status())
	require.Equal(t, CauseCancelled, embedded.Cause())
}

func TestRun_WorkerPoolIsBounded(t *testing.T) {
	registry, err := profile.NewRegistry([]*config.Target{
		{Triple: "a-target"},
		{Triple: "b-target"},
		{Triple: "c-target"},
		{Triple: "d-target"},
	})
	require.NoError(t, err)

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	fix := setupOrchestrator(t, registry, &config.Pipeline{Workers: 2})
	fix.orch.provisioner = provisionerFunc(func(ctx context.Context, prof *profile.Profile) (*toolchain.Handle, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(30 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return &toolchain.Handle{Triple: prof.Triple}, nil
	})

	result, err := fix.orch.Run(context.Background())
	require.NoError(t, err)
	require.True(t, result.Succeeded())

	mu.Lock()
	defer mu.Unlock()
	require.LessOrEqual(t, maxInFlight, 2, "no more jobs in flight than configured workers")
}

// provisionerFunc adapts a func to the Provisioner seam.
type provisionerFunc func(ctx context.Context, prof *profile.Profile) (*toolchain.Handle, error)

func (f provisionerFunc) Provision(ctx context.Context, prof *profile.Profile) (*toolchain.Handle, error) {
	return f(ctx, prof)
}
