package notify

import (
	"context"
	"fmt"

	"resty.dev/v3"

	"github.com/vk/crossgrid/internal/ctxlog"
	"github.com/vk/crossgrid/internal/pipeline"
)

// payload is the JSON body posted to the webhook.
type payload struct {
	RunID  string       `json:"run_id"`
	Status string       `json:"status"`
	Jobs   []jobPayload `json:"jobs"`
}

// jobPayload is one job's verdict inside the webhook body.
type jobPayload struct {
	Triple string `json:"triple"`
	Status string `json:"status"`
	Cause  string `json:"cause,omitempty"`
}

// Webhook posts the pipeline result to a configured URL. Successful runs
// are suppressed unless onSuccess is set.
type Webhook struct {
	client    *resty.Client
	url       string
	onSuccess bool
}

// NewWebhook creates a webhook notifier.
func NewWebhook(url string, onSuccess bool) *Webhook {
	return &Webhook{client: resty.New(), url: url, onSuccess: onSuccess}
}

// Close releases the underlying HTTP client.
func (w *Webhook) Close() error {
	return w.client.Close()
}

// Notify implements Notifier.
func (w *Webhook) Notify(ctx context.Context, result *pipeline.Result) error {
	logger := ctxlog.FromContext(ctx)

	if result.Succeeded() && !w.onSuccess {
		logger.Debug("Suppressing success notification per policy.")
		return nil
	}

	body := payload{RunID: result.RunID, Status: result.Status.String()}
	for _, j := range result.Jobs {
		jp := jobPayload{Triple: j.Profile.Triple, Status: j.Status().String()}
		if c := j.Cause(); c != pipeline.CauseNone {
			jp.Cause = c.String()
		}
		body.Jobs = append(body.Jobs, jp)
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("notification endpoint returned %s", resp.Status())
	}

	logger.Info("Notification delivered.", "status", body.Status)
	return nil
}
