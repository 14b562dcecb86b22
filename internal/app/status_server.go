package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vk/crossgrid/internal/pipeline"
)

// jobStatus is the wire shape of one job on the status endpoint.
type jobStatus struct {
	ID     string `json:"id"`
	Triple string `json:"triple"`
	Status string `json:"status"`
	Cause  string `json:"cause,omitempty"`
}

// runStatus is the wire shape of the whole run.
type runStatus struct {
	RunID string      `json:"run_id"`
	Jobs  []jobStatus `json:"jobs"`
}

// healthHandler answers liveness probes.
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// statusHandler serves a live snapshot of the per-job states.
func (a *App) statusHandler(w http.ResponseWriter, r *http.Request) {
	a.mu.RLock()
	orch := a.orch
	a.mu.RUnlock()

	if orch == nil {
		http.Error(w, "no run in progress", http.StatusServiceUnavailable)
		return
	}

	out := runStatus{RunID: orch.RunID()}
	for _, job := range orch.Jobs() {
		js := jobStatus{
			ID:     job.ID,
			Triple: job.Profile.Triple,
			Status: job.Status().String(),
		}
		if c := job.Cause(); c != pipeline.CauseNone {
			js.Cause = c.String()
		}
		out.Jobs = append(out.Jobs, js)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		a.logger.Error("Failed to encode status response.", "error", err)
	}
}

// startStatusServer runs the status HTTP server when a port is configured.
// The returned func shuts it down gracefully.
func (a *App) startStatusServer() func() {
	if a.cfg.StatusPort <= 0 {
		return func() {}
	}

	r := chi.NewRouter()
	r.Get("/health", a.healthHandler)
	r.Get("/status", a.statusHandler)

	addr := fmt.Sprintf(":%d", a.cfg.StatusPort)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		a.logger.Info("🩺 Status server starting.", "address", fmt.Sprintf("http://localhost%s/status", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Status server failed unexpectedly.", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Error("Status server shutdown failed.", "error", err)
		}
	}
}
