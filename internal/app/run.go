package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/vk/crossgrid/internal/cache"
	"github.com/vk/crossgrid/internal/ctxlog"
	"github.com/vk/crossgrid/internal/notify"
	"github.com/vk/crossgrid/internal/pipeline"
	"github.com/vk/crossgrid/internal/profile"
	"github.com/vk/crossgrid/internal/runner"
	"github.com/vk/crossgrid/internal/toolchain"
)

// defaultCacheDir is used when neither the CLI nor the matrix names one.
const defaultCacheDir = ".crossgrid"

// Run executes the pipeline end to end: branch gate, matrix expansion,
// worker pool run, reporting and notification. A nil return means the
// pipeline passed or the branch was filtered out.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if skip, allowed := a.branchFiltered(); skip {
		a.logger.Info("Branch not in the configured allow-list, skipping run.", "branch", a.cfg.Branch, "allowed", allowed)
		return nil
	}

	if a.matrix.Hooks == nil || a.matrix.Hooks.Script == "" {
		return errors.New("matrix configuration names no script hook; nothing to build")
	}

	registry, err := profile.NewRegistry(a.matrix.Targets)
	if err != nil {
		return err
	}

	cacheMgr, err := a.openCache(ctx)
	if err != nil {
		return err
	}

	prov := toolchain.New(a.exec, cacheMgr, a.toolchainConfig())
	buildRunner := runner.New(a.exec, a.matrix.Hooks)

	pipeCfg := *a.matrix.Pipeline
	if a.cfg.Workers > 0 {
		pipeCfg.Workers = a.cfg.Workers
	}

	orch := pipeline.New(registry, prov, buildRunner, cacheMgr, a.exec, a.matrix.Hooks, &pipeCfg)
	a.mu.Lock()
	a.orch = orch
	a.mu.Unlock()

	stopStatus := a.startStatusServer()
	defer stopStatus()

	a.logger.Info("🚀 Starting matrix run.", "run_id", orch.RunID(), "targets", registry.Len(), "workers", pipeCfg.Workers)
	result, runErr := orch.Run(ctx)
	a.reportResult(result)
	a.logger.Info("🏁 Matrix run finished.", "status", result.Status.String())

	if err := a.notify(ctx, result); err != nil {
		// Notification delivery is best-effort; the verdict stands.
		a.logger.Error("Failed to deliver notification.", "error", err)
	}

	return runErr
}

// branchFiltered applies the allow-list pre-condition. An empty list allows
// every branch.
func (a *App) branchFiltered() (bool, []string) {
	allowed := a.matrix.Pipeline.Branches
	if len(allowed) == 0 {
		return false, nil
	}
	return !slices.Contains(allowed, a.cfg.Branch), allowed
}

// openCache resolves the cache location and opens the manager. An injected
// store (tests) wins over the directory-backed default.
func (a *App) openCache(ctx context.Context) (*cache.Manager, error) {
	dir := a.cfg.CacheDir
	if dir == "" {
		dir = a.matrix.Pipeline.CacheDir
	}
	if dir == "" {
		dir = defaultCacheDir
	}

	store := a.store
	if store == nil {
		store = cache.NewDirStore(filepath.Join(dir, "store"))
	}
	return cache.Open(ctx, filepath.Join(dir, "live"), store)
}

// toolchainConfig maps the matrix toolchain block onto the provisioner.
func (a *App) toolchainConfig() toolchain.Config {
	cfg := toolchain.Config{}
	if a.matrix.Toolchain != nil {
		cfg.InstallCommand = a.matrix.Toolchain.InstallCommand
		cfg.SysrootCommand = a.matrix.Toolchain.SysrootCommand
	}
	return cfg
}

// reportResult logs the per-target verdicts, surfacing failure diagnostics
// verbatim rather than summarized.
func (a *App) reportResult(result *pipeline.Result) {
	for _, job := range result.Jobs {
		if job.Status() == pipeline.Succeeded {
			a.logger.Info("Target passed.", "triple", job.Profile.Triple, "duration", job.Duration())
			continue
		}
		a.logger.Error("Target failed.",
			"triple", job.Profile.Triple,
			"cause", job.Cause().String(),
			"error", job.Err(),
		)
		if diag := job.Diagnostics(); diag != "" {
			fmt.Fprintf(a.outW, "--- diagnostics for %s ---\n%s\n", job.Profile.Triple, diag)
		}
	}
}

// notify hands the final result to the notification boundary.
func (a *App) notify(ctx context.Context, result *pipeline.Result) error {
	notifier := a.notifier
	if notifier == nil {
		if a.matrix.Notify != nil && a.matrix.Notify.WebhookURL != "" {
			wh := notify.NewWebhook(a.matrix.Notify.WebhookURL, a.matrix.Notify.OnSuccess)
			defer wh.Close()
			notifier = wh
		} else {
			notifier = notify.Nop{}
		}
	}
	// The run context may already be cancelled; the notification should
	// still go out.
	return notifier.Notify(context.WithoutCancel(ctx), result)
}
