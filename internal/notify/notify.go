// Package notify is the completion notification boundary. The engine only
// exposes the final pipeline result; delivery is a thin, replaceable edge.
package notify

import (
	"context"

	"github.com/vk/crossgrid/internal/ctxlog"
	"github.com/vk/crossgrid/internal/pipeline"
)

// Notifier is informed of the final pipeline result.
type Notifier interface {
	Notify(ctx context.Context, result *pipeline.Result) error
}

// Nop is the notifier used when no notification is configured. It logs the
// verdict and nothing else.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(ctx context.Context, result *pipeline.Result) error {
	ctxlog.FromContext(ctx).Debug("No notifier configured, skipping notification.", "status", result.Status.String())
	return nil
}
