package models

import "time"

// JobState is a position in the platform job state machine
type JobState string

const (
	JobStatePending        JobState = "pending"
	JobStateResolving      JobState = "resolving"
	JobStateBuilding       JobState = "building"
	JobStateSigning        JobState = "signing"
	JobStatePackaging      JobState = "packaging"
	JobStatePublishing     JobState = "publishing"
	JobStateSucceeded      JobState = "succeeded"
	JobStateFailed         JobState = "failed"
	JobStateSkipped        JobState = "skipped"
	JobStateNotImplemented JobState = "not_implemented"
)

// StateOf maps a stage to the state the job is in while the stage runs
func StateOf(stage Stage) JobState {
	return JobState(stage)
}

// IsTerminal reports whether no further transitions can happen
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateSucceeded, JobStateFailed, JobStateSkipped, JobStateNotImplemented:
		return true
	}
	return false
}

// JobStatus is the terminal outcome of a platform job
type JobStatus string

const (
	JobStatusSucceeded      JobStatus = "succeeded"
	JobStatusFailed         JobStatus = "failed"
	JobStatusSkipped        JobStatus = "skipped"
	JobStatusNotImplemented JobStatus = "not_implemented"
)

// ArtifactRef points at a produced file
type ArtifactRef struct {
	PlatformID  PlatformID   `json:"platform_id"`
	Kind        ArtifactKind `json:"kind"`
	Path        string       `json:"path"`
	ArchiveName string       `json:"archive_name,omitempty"`
	URI         string       `json:"uri,omitempty"` // set once uploaded
}

// ErrorInfo is the serialisable form of a job failure
type ErrorInfo struct {
	Stage   Stage  `json:"stage,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StageRecord captures the timing of one executed stage
type StageRecord struct {
	Stage      Stage     `json:"stage"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

// JobResult is the outcome of running one PlatformJob
type JobResult struct {
	PlatformID PlatformID    `json:"platform_id"`
	Status     JobStatus     `json:"status"`
	Artifacts  []ArtifactRef `json:"artifacts,omitempty"`
	Error      *ErrorInfo    `json:"error,omitempty"`
	Stages     []StageRecord `json:"stages,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`

	// Err keeps the typed error for in-process callers
	Err error `json:"-"`
}

// Succeeded reports whether the job produced usable artifacts
func (r JobResult) Succeeded() bool {
	return r.Status == JobStatusSucceeded
}
