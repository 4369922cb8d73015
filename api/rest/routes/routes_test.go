package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"release-orchestrator/api/rest/handlers"
	"release-orchestrator/core/errs"
	"release-orchestrator/core/models"
	"release-orchestrator/core/repository"
	"release-orchestrator/core/runner"
	"release-orchestrator/core/scheduler"
)

type storeSubmitter struct {
	store *runner.MemoryStore
	err   error
	got   models.RunRequest
}

func (s *storeSubmitter) Submit(ctx context.Context, req models.RunRequest) (*models.Run, error) {
	s.got = req
	if s.err != nil {
		return nil, s.err
	}
	run := &models.Run{Request: req}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *storeSubmitter) Cancel(ctx context.Context, id string) (*models.Run, error) {
	return nil, fmt.Errorf("%s: %w", id, errs.ErrRunNotCancellable)
}

// queueOnly records runs for a scheduler that is never started
type queueOnly struct {
	store *runner.MemoryStore
}

func (q queueOnly) Trigger(ctx context.Context, req models.RunRequest) (*models.Run, error) {
	run := &models.Run{Request: req}
	if err := q.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (q queueOnly) Execute(ctx context.Context, run *models.Run) (*models.Run, error) {
	return run, nil
}

type staticArtifacts []repository.ArtifactRecord

func (a staticArtifacts) GetRunArtifacts(ctx context.Context, runID string, platform *models.PlatformID) ([]repository.ArtifactRecord, error) {
	var out []repository.ArtifactRecord
	for _, rec := range a {
		if rec.RunID == runID && (platform == nil || rec.PlatformID == *platform) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func newTestRouter(t *testing.T, artifacts handlers.ArtifactReader) (*mux.Router, *runner.MemoryStore, *storeSubmitter) {
	t.Helper()
	store := runner.NewMemoryStore()
	sub := &storeSubmitter{store: store}
	r := mux.NewRouter()
	SetupRoutes(r, handlers.NewReleaseHandler(sub, store, store, artifacts, nil))
	return r, store, sub
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)
	w := do(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestSubmitRelease(t *testing.T) {
	r, store, sub := newTestRouter(t, nil)

	w := do(r, http.MethodPost, "/v1/releases", `{"release_type":"beta","android_package_name":"androidApp","publish_android":true}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp handlers.SubmitReleaseResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, models.RunStatusQueued, resp.Status)
	assert.Equal(t, "/v1/runs/"+resp.ID, w.Header().Get("Location"))

	assert.Equal(t, models.ReleaseBeta, sub.got.ReleaseType)
	assert.True(t, sub.got.PublishAndroid)

	_, err := store.GetRun(context.Background(), resp.ID)
	assert.NoError(t, err)
}

func TestSubmitReleaseRejectsBadInput(t *testing.T) {
	r, _, sub := newTestRouter(t, nil)

	w := do(r, http.MethodPost, "/v1/releases", `{"release_type":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/v1/releases", `{"unknown_field":true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	sub.err = fmt.Errorf("%w: publish_ios requires build_ios", errs.ErrInvalidRequest)
	w = do(r, http.MethodPost, "/v1/releases", `{"publish_ios":true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "publish_ios requires build_ios")

	sub.err = fmt.Errorf("connection refused")
	w = do(r, http.MethodPost, "/v1/releases", `{}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func finishedRun(t *testing.T, store *runner.MemoryStore) *models.Run {
	t.Helper()
	ctx := context.Background()
	run := &models.Run{Request: models.RunRequest{ReleaseType: models.ReleaseInternal}}
	require.NoError(t, store.CreateRun(ctx, run))
	require.NoError(t, store.StartRun(ctx, run.ID, time.Now()))

	run.Status = models.RunStatusReleased
	run.Results = []models.JobResult{
		{PlatformID: models.PlatformAndroid, Status: models.JobStatusSucceeded},
		{PlatformID: models.PlatformIOS, Status: models.JobStatusSkipped},
		{PlatformID: models.PlatformWeb, Status: models.JobStatusFailed, Error: &models.ErrorInfo{Stage: models.StageBuilding, Code: "STAGE_FAILED", Message: "exit status 1"}},
	}
	run.Manifest = &models.ReleaseManifest{RunID: run.ID, Version: "0.1.0-internal.8", Prerelease: true}
	require.NoError(t, store.FinishRun(ctx, run))
	return run
}

func TestGetRunEndpoints(t *testing.T) {
	r, store, _ := newTestRouter(t, nil)
	run := finishedRun(t, store)

	w := do(r, http.MethodGet, "/v1/runs/"+run.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, models.RunStatusReleased, got.Status)

	w = do(r, http.MethodGet, "/v1/runs/"+run.ID+"/jobs", "")
	require.Equal(t, http.StatusOK, w.Code)
	var jobs struct {
		Jobs    []models.JobResult `json:"jobs"`
		Summary struct {
			Succeeded []string `json:"succeeded"`
			Failed    []string `json:"failed"`
		} `json:"summary"`
		Failures []errs.PlatformFailure `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jobs))
	assert.Len(t, jobs.Jobs, 3)
	assert.Equal(t, []string{"android"}, jobs.Summary.Succeeded)
	assert.Equal(t, []string{"web"}, jobs.Summary.Failed)
	assert.Len(t, jobs.Failures, 2)

	w = do(r, http.MethodGet, "/v1/runs/"+run.ID+"/manifest", "")
	require.Equal(t, http.StatusOK, w.Code)
	var manifest models.ReleaseManifest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &manifest))
	assert.True(t, manifest.Prerelease)

	w = do(r, http.MethodGet, "/v1/runs/"+run.ID+"/events?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var events struct {
		Events []models.JobEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events.Events, 2)
	assert.Equal(t, "run_created", events.Events[0].Reason)
}

func TestGetRunNotFound(t *testing.T) {
	r, store, _ := newTestRouter(t, nil)

	for _, path := range []string{"/v1/runs/nope", "/v1/runs/nope/jobs", "/v1/runs/nope/events", "/v1/runs/nope/manifest"} {
		w := do(r, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}

	queued := &models.Run{}
	require.NoError(t, store.CreateRun(context.Background(), queued))
	w := do(r, http.MethodGet, "/v1/runs/"+queued.ID+"/manifest", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/v1/runs/"+queued.ID+"/artifacts", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListRuns(t *testing.T) {
	r, store, _ := newTestRouter(t, nil)
	finishedRun(t, store)
	require.NoError(t, store.CreateRun(context.Background(), &models.Run{}))

	w := do(r, http.MethodGet, "/v1/runs", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Runs  []models.Run `json:"runs"`
		Count int          `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)

	w = do(r, http.MethodGet, "/v1/runs?status=queued", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	w = do(r, http.MethodGet, "/v1/runs?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRunArtifacts(t *testing.T) {
	store := runner.NewMemoryStore()
	run := finishedRun(t, store)
	artifacts := staticArtifacts{
		{RunID: run.ID, PlatformID: models.PlatformAndroid, Kind: models.ArtifactAPK, URI: "s3://b/app.apk"},
		{RunID: run.ID, PlatformID: models.PlatformWeb, Kind: models.ArtifactWebBundle, URI: "s3://b/webApp.zip"},
	}
	r := mux.NewRouter()
	SetupRoutes(r, handlers.NewReleaseHandler(&storeSubmitter{store: store}, store, store, artifacts, nil))

	w := do(r, http.MethodGet, "/v1/runs/"+run.ID+"/artifacts?platform=android", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Artifacts []repository.ArtifactRecord `json:"artifacts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Artifacts, 1)
	assert.Equal(t, "s3://b/app.apk", resp.Artifacts[0].URI)
}

func TestCancelQueuedRun(t *testing.T) {
	store := runner.NewMemoryStore()
	sched := scheduler.NewScheduler(queueOnly{store: store}, store, time.Hour, nil)
	r := mux.NewRouter()
	SetupRoutes(r, handlers.NewReleaseHandler(sched, store, store, nil, nil))

	w := do(r, http.MethodPost, "/v1/releases", `{"android_package_name":"androidApp"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var submitted handlers.SubmitReleaseResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submitted))
	require.Equal(t, 1, sched.Pending())

	w = do(r, http.MethodPost, "/v1/runs/"+submitted.ID+"/cancel", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var cancelled handlers.CancelRunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cancelled))
	assert.Equal(t, submitted.ID, cancelled.ID)
	assert.Equal(t, models.RunStatusFailed, cancelled.Status)
	assert.Equal(t, "user_cancelled", cancelled.Error)
	assert.Equal(t, 0, sched.Pending())

	w = do(r, http.MethodGet, "/v1/runs/"+submitted.ID+"/events", "")
	require.Equal(t, http.StatusOK, w.Code)
	var events struct {
		Events []models.JobEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.NotEmpty(t, events.Events)
	assert.Equal(t, "user_cancelled", events.Events[len(events.Events)-1].Reason)

	w = do(r, http.MethodPost, "/v1/runs/"+submitted.ID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodPost, "/v1/runs/nope/cancel", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/v1/runs/"+submitted.ID+"/cancel", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestCancelFinishedRunConflicts(t *testing.T) {
	store := runner.NewMemoryStore()
	r := mux.NewRouter()
	SetupRoutes(r, handlers.NewReleaseHandler(scheduler.NewScheduler(queueOnly{store: store}, store, time.Hour, nil), store, store, nil, nil))
	run := finishedRun(t, store)

	w := do(r, http.MethodPost, "/v1/runs/"+run.ID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already released")
}
