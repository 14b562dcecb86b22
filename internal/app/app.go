package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/vk/crossgrid/internal/cache"
	"github.com/vk/crossgrid/internal/config"
	"github.com/vk/crossgrid/internal/ctxlog"
	"github.com/vk/crossgrid/internal/hook"
	"github.com/vk/crossgrid/internal/notify"
	"github.com/vk/crossgrid/internal/pipeline"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	cfg      *Config
	matrix   *config.Matrix
	exec     hook.Executor
	notifier notify.Notifier
	store    cache.Store

	mu   sync.RWMutex
	orch *pipeline.Orchestrator
}

// Option customizes an App, mainly so tests can substitute the external
// collaborators with fakes.
type Option func(*App)

// WithExecutor replaces the hook command executor.
func WithExecutor(exec hook.Executor) Option {
	return func(a *App) { a.exec = exec }
}

// WithNotifier replaces the notification boundary.
func WithNotifier(n notify.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithStore replaces the cache storage backend.
func WithStore(s cache.Store) Option {
	return func(a *App) { a.store = s }
}

// New is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger. A failure to load
// the matrix configuration is a fatal startup error and panics; main
// recovers it into a clean exit.
func New(outW io.Writer, cfg *Config, loader config.Loader, opts ...Option) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	matrix, err := loader.Load(ctx, cfg.MatrixPath)
	if err != nil {
		panic(fmt.Errorf("failed to load matrix configuration: %w", err))
	}
	logger.Debug("Matrix configuration loaded.", "targets", len(matrix.Targets))

	a := &App{
		outW:   outW,
		logger: logger,
		cfg:    cfg,
		matrix: matrix,
		exec:   hook.NewExecRunner(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Matrix returns the loaded configuration model. This is primarily for testing.
func (a *App) Matrix() *config.Matrix {
	return a.matrix
}
