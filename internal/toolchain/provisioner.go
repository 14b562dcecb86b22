// Package toolchain materializes the compiler and sysroot artifacts a target
// profile needs before building. Provisioning is idempotent: a warm cache
// entry for a triple short-circuits both package installation and sysroot
// generation.
package toolchain

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/vk/crossgrid/internal/cache"
	"github.com/vk/crossgrid/internal/ctxlog"
	"github.com/vk/crossgrid/internal/hook"
	"github.com/vk/crossgrid/internal/profile"
)

// Handle identifies a provisioned toolchain for one profile.
type Handle struct {
	// ID is unique per materialization; equivalent handles for the same
	// triple may carry different IDs.
	ID string
	// Triple is the target triple the toolchain compiles for.
	Triple string
	// Sysroot is the sysroot directory for cross profiles, empty for host
	// toolchains.
	Sysroot string
	// Warm reports whether the handle was satisfied from cache.
	Warm bool
}

// ProvisionError reports a failed toolchain setup for one profile. It is
// fatal for that profile's job only; sibling jobs proceed.
type ProvisionError struct {
	Triple string
	Stage  string // "packages" or "sysroot"
	Output string
	Err    error
}

// Error implements the error interface.
func (e *ProvisionError) Error() string {
	return fmt.Sprintf("failed to provision toolchain for %s (%s): %v", e.Triple, e.Stage, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// Config tunes how the provisioner performs its external work.
type Config struct {
	// InstallCommand is the package manager invocation; the profile's
	// extra packages are appended to it.
	InstallCommand string
	// SysrootCommand generates the sysroot for the triple named by the
	// CROSSGRID_TARGET variable into CROSSGRID_SYSROOT.
	SysrootCommand string
	// InstallAttempts bounds retries of package installation; transient
	// mirror failures are the norm on CI hosts. Defaults to 3.
	InstallAttempts uint
	// InstallRetryDelay is the pause between install attempts.
	InstallRetryDelay time.Duration
}

// Provisioner ensures toolchain artifacts exist for a profile before its job
// builds. One instance is shared by all jobs of a run.
type Provisioner struct {
	exec  hook.Executor
	cache *cache.Manager
	cfg   Config

	mu      sync.Mutex
	handles map[string]*Handle
}

// New creates a Provisioner.
func New(exec hook.Executor, cacheMgr *cache.Manager, cfg Config) *Provisioner {
	if cfg.InstallAttempts == 0 {
		cfg.InstallAttempts = 3
	}
	if cfg.InstallRetryDelay == 0 {
		cfg.InstallRetryDelay = 2 * time.Second
	}
	return &Provisioner{
		exec:    exec,
		cache:   cacheMgr,
		cfg:     cfg,
		handles: make(map[string]*Handle),
	}
}

// Provision materializes the toolchain for the given profile. Calling it
// twice for the same profile performs the work at most once per run, and a
// warm cache avoids the work entirely.
func (p *Provisioner) Provision(ctx context.Context, prof *profile.Profile) (*Handle, error) {
	logger := ctxlog.FromContext(ctx).With("triple", prof.Triple)

	if !prof.CrossToolchain {
		logger.Debug("Profile uses the host toolchain, nothing to provision.")
		return &Handle{ID: uuid.NewString(), Triple: prof.Triple}, nil
	}

	p.mu.Lock()
	if h, ok := p.handles[prof.Triple]; ok {
		p.mu.Unlock()
		logger.Debug("Toolchain already provisioned this run.")
		return h, nil
	}
	p.mu.Unlock()

	key := cache.Key{Triple: prof.Triple, Kind: cache.KindToolchain}
	if dir, ok := p.cache.Restore(ctx, key); ok {
		logger.Info("Toolchain restored from cache.", "sysroot", dir)
		return p.remember(prof.Triple, &Handle{
			ID:      uuid.NewString(),
			Triple:  prof.Triple,
			Sysroot: dir,
			Warm:    true,
		}), nil
	}

	if err := p.installPackages(ctx, prof); err != nil {
		return nil, err
	}

	sysroot := p.cache.EntryPath(key)
	if err := p.buildSysroot(ctx, prof, sysroot); err != nil {
		return nil, err
	}

	logger.Info("Toolchain provisioned.", "sysroot", sysroot)
	return p.remember(prof.Triple, &Handle{
		ID:      uuid.NewString(),
		Triple:  prof.Triple,
		Sysroot: sysroot,
	}), nil
}

// remember records a handle so repeat calls within the run are no-ops.
func (p *Provisioner) remember(triple string, h *Handle) *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handles[triple] = h
	return h
}

// installPackages installs the profile's extra system packages, retrying
// transient failures a bounded number of times.
func (p *Provisioner) installPackages(ctx context.Context, prof *profile.Profile) error {
	if len(prof.ExtraPackages) == 0 || p.cfg.InstallCommand == "" {
		return nil
	}
	logger := ctxlog.FromContext(ctx).With("triple", prof.Triple)

	line := p.cfg.InstallCommand + " " + strings.Join(prof.ExtraPackages, " ")
	var lastOutput string

	err := retry.Do(
		func() error {
			res, err := p.exec.Run(ctx, hook.Command{
				Name: "install-packages",
				Line: line,
				Env:  profileEnv(prof, ""),
			})
			if err != nil {
				return err
			}
			if !res.OK() {
				lastOutput = res.Output
				return fmt.Errorf("package installation exited with code %d", res.ExitCode)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(p.cfg.InstallAttempts),
		retry.Delay(p.cfg.InstallRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("Package installation failed, retrying.", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return &ProvisionError{Triple: prof.Triple, Stage: "packages", Output: lastOutput, Err: err}
	}
	return nil
}

// buildSysroot generates the sysroot for the profile's triple.
func (p *Provisioner) buildSysroot(ctx context.Context, prof *profile.Profile, sysroot string) error {
	if p.cfg.SysrootCommand == "" {
		return &ProvisionError{
			Triple: prof.Triple,
			Stage:  "sysroot",
			Err:    fmt.Errorf("profile requires a cross toolchain but no sysroot command is configured"),
		}
	}

	res, err := p.exec.Run(ctx, hook.Command{
		Name: "build-sysroot",
		Line: p.cfg.SysrootCommand,
		Env:  profileEnv(prof, sysroot),
	})
	if err != nil {
		return &ProvisionError{Triple: prof.Triple, Stage: "sysroot", Err: err}
	}
	if !res.OK() {
		return &ProvisionError{
			Triple: prof.Triple,
			Stage:  "sysroot",
			Output: res.Output,
			Err:    fmt.Errorf("sysroot generation exited with code %d", res.ExitCode),
		}
	}
	return nil
}

// profileEnv builds the environment exported to provisioning commands.
func profileEnv(prof *profile.Profile, sysroot string) map[string]string {
	env := map[string]string{"CROSSGRID_TARGET": prof.Triple}
	if sysroot != "" {
		env["CROSSGRID_SYSROOT"] = sysroot
	}
	for k, v := range prof.Env {
		env[k] = v
	}
	return env
}
