package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"release-orchestrator/core/errs"
	"release-orchestrator/core/models"
	"release-orchestrator/core/orchestrator"
)

// Publisher makes a manifest visible to the outside world
type Publisher interface {
	Publish(ctx context.Context, manifest *models.ReleaseManifest) error
}

// PublishError wraps a failure to publish an otherwise complete manifest
type PublishError struct {
	Err error
}

func (e *PublishError) Error() string { return fmt.Sprintf("failed to publish release: %v", e.Err) }

func (e *PublishError) Unwrap() error { return e.Err }

// Assembler builds and publishes the release manifest of a run
type Assembler struct {
	history    History
	publisher  Publisher
	stagingDir string
	logger     *slog.Logger
	now        func() time.Time
}

// AssemblerOption configures an Assembler
type AssemblerOption func(*Assembler)

// WithPublisher sets where manifests go
func WithPublisher(p Publisher) AssemblerOption {
	return func(a *Assembler) { a.publisher = p }
}

// WithStagingDir sets where directory artifacts are archived
func WithStagingDir(dir string) AssemblerOption {
	return func(a *Assembler) { a.stagingDir = dir }
}

// WithAssemblerLogger sets the logger
func WithAssemblerLogger(logger *slog.Logger) AssemblerOption {
	return func(a *Assembler) { a.logger = logger }
}

// WithAssemblerClock overrides time.Now
func WithAssemblerClock(now func() time.Time) AssemblerOption {
	return func(a *Assembler) { a.now = now }
}

// NewAssembler creates an assembler reading version history from history
func NewAssembler(history History, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		history:    history,
		stagingDir: os.TempDir(),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "assembler")
	return a
}

// Assemble runs once every job is terminal. With no succeeded job it returns
// a NoArtifactsError and no manifest. A publication failure returns the
// manifest together with a PublishError.
func (a *Assembler) Assemble(ctx context.Context, runID string, results []models.JobResult, policy VersionPolicy, source ChangelogSource) (*models.ReleaseManifest, error) {
	var succeeded []models.JobResult
	for _, r := range results {
		if r.Succeeded() {
			succeeded = append(succeeded, r)
		}
	}
	if len(succeeded) == 0 {
		return nil, &errs.NoArtifactsError{Failures: orchestrator.Failures(results)}
	}

	version, err := policy.Derive(ctx, a.history)
	if err != nil {
		return nil, fmt.Errorf("failed to derive version: %w", err)
	}

	changelog := ""
	if source != nil {
		notes, err := source.Changelog(ctx)
		if err != nil {
			notesErr := &errs.ReleaseNotesGenerationError{Err: err}
			a.logger.WarnContext(ctx, "release notes unavailable, using empty changelog", "error", notesErr)
		} else {
			changelog = Sanitize(notes)
		}
	}

	artifacts, err := a.collect(runID, succeeded)
	if err != nil {
		return nil, err
	}

	manifest := &models.ReleaseManifest{
		RunID:       runID,
		Version:     version.Name,
		VersionCode: version.Code,
		Tag:         version.Tag,
		Channel:     policy.Channel,
		CommitRef:   version.CommitRef,
		Changelog:   changelog,
		Artifacts:   artifacts,
		Prerelease:  true,
		Platforms:   outcomes(results),
		CreatedAt:   a.now().UTC(),
	}

	a.logger.InfoContext(ctx, "release assembled",
		"run_id", runID,
		"version", manifest.Version,
		"version_code", manifest.VersionCode,
		"artifacts", len(manifest.Artifacts),
	)

	if a.publisher != nil {
		if err := a.publisher.Publish(ctx, manifest); err != nil {
			return manifest, &PublishError{Err: err}
		}
	}
	return manifest, nil
}

// collect gathers artifacts of succeeded jobs, compressing directory outputs
func (a *Assembler) collect(runID string, succeeded []models.JobResult) ([]models.ArtifactRef, error) {
	var out []models.ArtifactRef
	for _, r := range succeeded {
		for _, ref := range r.Artifacts {
			info, err := os.Stat(ref.Path)
			switch {
			case errors.Is(err, os.ErrNotExist):
				// remote or already uploaded references pass through untouched
				out = append(out, ref)
				continue
			case err != nil:
				return nil, fmt.Errorf("artifact %s: %w", ref.Path, err)
			}
			if !info.IsDir() {
				out = append(out, ref)
				continue
			}

			name := ref.ArchiveName
			if name == "" {
				name = string(ref.PlatformID)
			}
			dst := filepath.Join(a.stagingDir, runID, name+".zip")
			if err := ZipDir(ref.Path, dst); err != nil {
				return nil, fmt.Errorf("failed to archive %s: %w", ref.Path, err)
			}
			out = append(out, models.ArtifactRef{
				PlatformID:  ref.PlatformID,
				Kind:        ref.Kind,
				Path:        dst,
				ArchiveName: name,
			})
		}
	}
	return out, nil
}

func outcomes(results []models.JobResult) []models.PlatformOutcome {
	out := make([]models.PlatformOutcome, 0, len(results))
	for _, r := range results {
		out = append(out, models.PlatformOutcome{PlatformID: r.PlatformID, Status: r.Status, Error: r.Error})
	}
	return out
}
