package models

import (
	"fmt"
	"strings"
	"time"
)

// ReleaseType is the distribution channel of a run
type ReleaseType string

const (
	ReleaseInternal ReleaseType = "internal"
	ReleaseBeta     ReleaseType = "beta"
)

// ParseReleaseType accepts the channel names case-insensitively
func ParseReleaseType(s string) (ReleaseType, error) {
	switch ReleaseType(strings.ToLower(strings.TrimSpace(s))) {
	case ReleaseInternal:
		return ReleaseInternal, nil
	case ReleaseBeta:
		return ReleaseBeta, nil
	}
	return "", fmt.Errorf("unknown release type %q (want internal or beta)", s)
}

// PlatformOutcome records what happened to a platform in the manifest
type PlatformOutcome struct {
	PlatformID PlatformID `json:"platform_id"`
	Status     JobStatus  `json:"status"`
	Error      *ErrorInfo `json:"error,omitempty"`
}

// ReleaseManifest describes a published release. Immutable once published.
type ReleaseManifest struct {
	RunID       string            `json:"run_id"`
	Version     string            `json:"version"`
	VersionCode int64             `json:"version_code"`
	Tag         string            `json:"tag"`
	Channel     ReleaseType       `json:"channel"`
	CommitRef   string            `json:"commit_ref"`
	Changelog   string            `json:"changelog"`
	Artifacts   []ArtifactRef     `json:"artifacts"`
	Prerelease  bool              `json:"prerelease"`
	Platforms   []PlatformOutcome `json:"platforms"`
	CreatedAt   time.Time         `json:"created_at"`
}
