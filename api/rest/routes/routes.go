package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"release-orchestrator/api/rest/handlers"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, releaseHandler *handlers.ReleaseHandler) {
	// Health check endpoint
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	api := r.PathPrefix("/v1").Subrouter()

	// Release endpoints
	api.HandleFunc("/releases", releaseHandler.SubmitRelease).Methods("POST")
	api.HandleFunc("/runs", releaseHandler.ListRuns).Methods("GET")
	api.HandleFunc("/runs/{id}", releaseHandler.GetRun).Methods("GET")
	api.HandleFunc("/runs/{id}/cancel", releaseHandler.CancelRun).Methods("POST")
	api.HandleFunc("/runs/{id}/jobs", releaseHandler.GetRunJobs).Methods("GET")
	api.HandleFunc("/runs/{id}/events", releaseHandler.GetRunEvents).Methods("GET")
	api.HandleFunc("/runs/{id}/manifest", releaseHandler.GetRunManifest).Methods("GET")
	if releaseHandler.HasArtifacts() {
		api.HandleFunc("/runs/{id}/artifacts", releaseHandler.GetRunArtifacts).Methods("GET")
	}
}
