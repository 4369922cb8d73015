package models

import (
	"fmt"
	"strings"
	"time"
)

// RunRequest carries the trigger inputs of a release run
type RunRequest struct {
	ReleaseType        ReleaseType `json:"release_type"`
	TargetBranch       string      `json:"target_branch"`
	AndroidPackageName string      `json:"android_package_name"`
	IOSPackageName     string      `json:"ios_package_name"`
	DesktopPackageName string      `json:"desktop_package_name"`
	WebPackageName     string      `json:"web_package_name"`
	PublishAndroid     bool        `json:"publish_android"`
	BuildIOS           bool        `json:"build_ios"`
	PublishIOS         bool        `json:"publish_ios"`
}

// DefaultTargetBranch is used when the trigger does not name a branch
const DefaultTargetBranch = "dev"

// ApplyDefaults fills optional trigger inputs
func (r *RunRequest) ApplyDefaults() {
	if r.ReleaseType == "" {
		r.ReleaseType = ReleaseInternal
	}
	if strings.TrimSpace(r.TargetBranch) == "" {
		r.TargetBranch = DefaultTargetBranch
	}
}

// Validate rejects requests that cannot produce consistent jobs
func (r RunRequest) Validate() error {
	if _, err := ParseReleaseType(string(r.ReleaseType)); err != nil {
		return err
	}
	if r.PublishIOS && !r.BuildIOS {
		return fmt.Errorf("publish_ios requires build_ios")
	}
	return nil
}

// PackageName returns the requested package name for a platform
func (r RunRequest) PackageName(id PlatformID) string {
	switch id {
	case PlatformAndroid:
		return r.AndroidPackageName
	case PlatformIOS:
		return r.IOSPackageName
	case PlatformDesktop:
		return r.DesktopPackageName
	case PlatformWeb:
		return r.WebPackageName
	}
	return ""
}

// RunStatus represents the lifecycle of a release run
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusReleased RunStatus = "released"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one execution of the release pipeline
type Run struct {
	ID         string           `json:"id"`
	Request    RunRequest       `json:"request"`
	Status     RunStatus        `json:"status"`
	Results    []JobResult      `json:"results,omitempty"`
	Manifest   *ReleaseManifest `json:"manifest,omitempty"`
	Error      string           `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// RunCancelledReason is stored as the error of a run stopped on request
const RunCancelledReason = "user_cancelled"

// Terminal reports whether the run reached a final status
func (r Run) Terminal() bool {
	return r.Status == RunStatusReleased || r.Status == RunStatusFailed
}

// FinishReason is the event reason recorded when the run finishes
func (r Run) FinishReason() string {
	if r.Error == RunCancelledReason {
		return RunCancelledReason
	}
	return "run_finished"
}
