package models

import (
	"fmt"
	"sort"
	"time"

	"release-orchestrator/core/errs"
)

// PlatformID identifies a build target
type PlatformID string

const (
	PlatformAndroid PlatformID = "android"
	PlatformIOS     PlatformID = "ios"
	PlatformDesktop PlatformID = "desktop"
	PlatformWeb     PlatformID = "web"
)

// SecretKey names one credential a platform needs (signing key, store token, ...)
type SecretKey string

// Stage is one step of a platform job
type Stage string

const (
	StageResolving  Stage = "resolving"
	StageBuilding   Stage = "building"
	StageSigning    Stage = "signing"
	StagePackaging  Stage = "packaging"
	StagePublishing Stage = "publishing"
)

// ExecutionStages lists the toolchain stages in the order they run.
// Resolving is handled by the credential resolver and is not listed.
var ExecutionStages = []Stage{StageBuilding, StageSigning, StagePackaging, StagePublishing}

// StageSpec describes how a toolchain stage is carried out
type StageSpec struct {
	Run            []string          // argv, placeholders already expanded
	Env            map[string]string // extra non-secret environment
	Timeout        time.Duration     // 0 means the job default
	NotImplemented bool              // no collaborator exists for this stage yet
}

// ArtifactKind classifies a produced file
type ArtifactKind string

const (
	ArtifactAPK       ArtifactKind = "apk"
	ArtifactAAB       ArtifactKind = "aab"
	ArtifactIPA       ArtifactKind = "ipa"
	ArtifactDMG       ArtifactKind = "dmg"
	ArtifactDEB       ArtifactKind = "deb"
	ArtifactEXE       ArtifactKind = "exe"
	ArtifactMSI       ArtifactKind = "msi"
	ArtifactWebBundle ArtifactKind = "web-bundle"
	ArtifactArchive   ArtifactKind = "archive"
)

// ArtifactSpec tells the packaging stage where to find a platform's outputs
type ArtifactSpec struct {
	Kind        ArtifactKind
	Path        string // glob, relative to the source directory
	Directory   bool   // output is a directory that gets compressed on assembly
	ArchiveName string // archive base name for directory outputs
}

// PlatformJob is the immutable description of one platform build for a run
type PlatformJob struct {
	PlatformID      PlatformID
	Enabled         bool
	PublishEnabled  bool
	PackageName     string
	ReleaseType     ReleaseType
	TargetBranch    string
	RequiredSecrets []SecretKey
	Stages          map[Stage]StageSpec
	Artifacts       []ArtifactSpec
	StageTimeout    time.Duration // default per-stage timeout
	SourceDir       string        // checkout the toolchain runs in
}

// DefaultStageTimeout applies when neither the stage nor the job sets one
const DefaultStageTimeout = 30 * time.Minute

// NewPlatformJob builds a job and normalises its secret set.
func NewPlatformJob(id PlatformID, enabled, publish bool, packageName string, secrets []SecretKey) PlatformJob {
	return PlatformJob{
		PlatformID:      id,
		Enabled:         enabled,
		PublishEnabled:  publish,
		PackageName:     packageName,
		RequiredSecrets: NormalizeSecrets(secrets),
		Stages:          map[Stage]StageSpec{},
	}
}

// Validate checks the descriptor invariants
func (j PlatformJob) Validate() error {
	if j.PlatformID == "" {
		return fmt.Errorf("%w: platform id is required", errs.ErrInvalidJob)
	}
	if j.PublishEnabled && !j.Enabled {
		return fmt.Errorf("%w: %s: publishing requires the platform to be enabled", errs.ErrInvalidJob, j.PlatformID)
	}
	if j.Enabled && j.PackageName == "" {
		return fmt.Errorf("%w: %s: package name is required", errs.ErrInvalidJob, j.PlatformID)
	}
	return nil
}

// TimeoutFor returns the effective timeout of a stage
func (j PlatformJob) TimeoutFor(stage Stage) time.Duration {
	if spec, ok := j.Stages[stage]; ok && spec.Timeout > 0 {
		return spec.Timeout
	}
	if j.StageTimeout > 0 {
		return j.StageTimeout
	}
	return DefaultStageTimeout
}

// Clone returns a deep copy so concurrent executors never share mutable state
func (j PlatformJob) Clone() PlatformJob {
	out := j
	out.RequiredSecrets = append([]SecretKey(nil), j.RequiredSecrets...)
	out.Artifacts = append([]ArtifactSpec(nil), j.Artifacts...)
	out.Stages = make(map[Stage]StageSpec, len(j.Stages))
	for stage, spec := range j.Stages {
		s := spec
		s.Run = append([]string(nil), spec.Run...)
		if spec.Env != nil {
			s.Env = make(map[string]string, len(spec.Env))
			for k, v := range spec.Env {
				s.Env[k] = v
			}
		}
		out.Stages[stage] = s
	}
	return out
}

// NormalizeSecrets removes duplicates and blanks and sorts the keys
func NormalizeSecrets(keys []SecretKey) []SecretKey {
	seen := make(map[SecretKey]struct{}, len(keys))
	out := make([]SecretKey, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}
