package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"release-orchestrator/core/errs"
	"release-orchestrator/core/models"
	"release-orchestrator/core/orchestrator"
	"release-orchestrator/core/repository"
	"release-orchestrator/core/runner"
)

// Submitter queues and cancels release runs
type Submitter interface {
	Submit(ctx context.Context, req models.RunRequest) (*models.Run, error)
	Cancel(ctx context.Context, id string) (*models.Run, error)
}

// EventReader lists the events of a run
type EventReader interface {
	GetRunEvents(ctx context.Context, runID string, limit int) ([]models.JobEvent, error)
}

// ArtifactReader lists uploaded artifacts of a run
type ArtifactReader interface {
	GetRunArtifacts(ctx context.Context, runID string, platform *models.PlatformID) ([]repository.ArtifactRecord, error)
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ReleaseHandler handles release-related HTTP requests
type ReleaseHandler struct {
	submitter Submitter
	runs      runner.RunStore
	events    EventReader
	artifacts ArtifactReader
	logger    *slog.Logger
}

// NewReleaseHandler creates a new release handler. artifacts may be nil when
// uploads are not recorded.
func NewReleaseHandler(submitter Submitter, runs runner.RunStore, events EventReader, artifacts ArtifactReader, logger *slog.Logger) *ReleaseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReleaseHandler{
		submitter: submitter,
		runs:      runs,
		events:    events,
		artifacts: artifacts,
		logger:    logger.With("component", "api"),
	}
}

// HasArtifacts reports whether artifact records can be served
func (h *ReleaseHandler) HasArtifacts() bool {
	return h.artifacts != nil
}

// SubmitReleaseResponse represents the response after triggering a release
type SubmitReleaseResponse struct {
	ID        string           `json:"id"`
	Status    models.RunStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

// SubmitRelease handles POST /v1/releases
func (h *ReleaseHandler) SubmitRelease(w http.ResponseWriter, r *http.Request) {
	var req models.RunRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	run, err := h.submitter.Submit(r.Context(), req)
	if errors.Is(err, errs.ErrInvalidRequest) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to submit release", "error", err)
		http.Error(w, "Failed to create run", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Location", "/v1/runs/"+run.ID)
	writeJSON(w, http.StatusAccepted, SubmitReleaseResponse{
		ID:        run.ID,
		Status:    run.Status,
		CreatedAt: run.CreatedAt,
	})
}

// ListRuns handles GET /v1/runs
func (h *ReleaseHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	var status *models.RunStatus
	if s := r.URL.Query().Get("status"); s != "" {
		rs := models.RunStatus(s)
		status = &rs
	}

	runs, err := h.runs.ListRuns(r.Context(), status, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list runs", "error", err)
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun handles GET /v1/runs/{id}
func (h *ReleaseHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// CancelRunResponse reports the state of a run after a cancel request
type CancelRunResponse struct {
	ID     string           `json:"id"`
	Status models.RunStatus `json:"status"`
	Error  string           `json:"error,omitempty"`
}

// CancelRun handles POST /v1/runs/{id}/cancel. A queued run is failed at
// once (200); a running one is signalled and fails as its jobs stop (202).
func (h *ReleaseHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	run, err := h.submitter.Cancel(r.Context(), runID)
	switch {
	case errors.Is(err, errs.ErrRunNotFound):
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	case errors.Is(err, errs.ErrRunNotCancellable):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "failed to cancel run", "run_id", runID, "error", err)
		http.Error(w, "Failed to cancel run", http.StatusInternalServerError)
		return
	}

	status := http.StatusAccepted
	if run.Terminal() {
		status = http.StatusOK
	}
	writeJSON(w, status, CancelRunResponse{ID: run.ID, Status: run.Status, Error: run.Error})
}

// GetRunJobs handles GET /v1/runs/{id}/jobs
func (h *ReleaseHandler) GetRunJobs(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	results := run.Results
	if results == nil {
		results = []models.JobResult{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":   run.ID,
		"status":   run.Status,
		"jobs":     results,
		"summary":  orchestrator.Summarize(results),
		"failures": orchestrator.Failures(results),
	})
}

// GetRunEvents handles GET /v1/runs/{id}/events
func (h *ReleaseHandler) GetRunEvents(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	events, err := h.events.GetRunEvents(r.Context(), run.ID, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to get events", "run_id", run.ID, "error", err)
		http.Error(w, "Failed to get events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []models.JobEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id": run.ID,
		"events": events,
	})
}

// GetRunManifest handles GET /v1/runs/{id}/manifest
func (h *ReleaseHandler) GetRunManifest(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	if run.Manifest == nil {
		http.Error(w, "Run has no release manifest", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, run.Manifest)
}

// GetRunArtifacts handles GET /v1/runs/{id}/artifacts
func (h *ReleaseHandler) GetRunArtifacts(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	var platform *models.PlatformID
	if p := r.URL.Query().Get("platform"); p != "" {
		id := models.PlatformID(p)
		platform = &id
	}

	records, err := h.artifacts.GetRunArtifacts(r.Context(), run.ID, platform)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to get artifacts", "run_id", run.ID, "error", err)
		http.Error(w, "Failed to get artifacts", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []repository.ArtifactRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":    run.ID,
		"artifacts": records,
	})
}

func (h *ReleaseHandler) loadRun(w http.ResponseWriter, r *http.Request) (*models.Run, bool) {
	runID := mux.Vars(r)["id"]

	run, err := h.runs.GetRun(r.Context(), runID)
	if errors.Is(err, errs.ErrRunNotFound) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to get run", "run_id", runID, "error", err)
		http.Error(w, "Failed to get run", http.StatusInternalServerError)
		return nil, false
	}
	return run, true
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := defaultListLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return 0, false
		}
		limit = n
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
