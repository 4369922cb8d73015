// Package runner drives one release run end to end: it builds the platform
// jobs from the pipeline, runs them, assembles the release and records the
// outcome.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"release-orchestrator/core/errs"
	"release-orchestrator/core/models"
	"release-orchestrator/core/orchestrator"
	"release-orchestrator/core/release"
	"release-orchestrator/core/spec"
)

// JobRunner runs platform jobs to completion
type JobRunner interface {
	Run(ctx context.Context, runID string, jobs []models.PlatformJob) []models.JobResult
}

// Assembler turns terminal results into a published manifest
type Assembler interface {
	Assemble(ctx context.Context, runID string, results []models.JobResult, policy release.VersionPolicy, source release.ChangelogSource) (*models.ReleaseManifest, error)
}

// Runner executes release runs
type Runner struct {
	pipeline   *spec.Pipeline
	jobs       JobRunner
	assembler  Assembler
	history    release.History
	store      RunStore
	sourceDir  string
	betaMarker string
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Runner
type Option func(*Runner)

// WithSourceDir sets the checkout the toolchain commands run in
func WithSourceDir(dir string) Option {
	return func(r *Runner) { r.sourceDir = dir }
}

// WithHistory enables changelog generation from git history
func WithHistory(h release.History) Option {
	return func(r *Runner) { r.history = h }
}

// WithBetaMarker overrides the substring identifying beta tags
func WithBetaMarker(marker string) Option {
	return func(r *Runner) { r.betaMarker = marker }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New creates a runner
func New(pipeline *spec.Pipeline, jobs JobRunner, assembler Assembler, store RunStore, opts ...Option) *Runner {
	r := &Runner{
		pipeline:  pipeline,
		jobs:      jobs,
		assembler: assembler,
		store:     store,
		sourceDir: ".",
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "runner")
	return r
}

// Store returns the run store
func (r *Runner) Store() RunStore {
	return r.store
}

// Trigger validates req and records a queued run
func (r *Runner) Trigger(ctx context.Context, req models.RunRequest) (*models.Run, error) {
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidRequest, err)
	}
	if _, err := spec.BuildJobs(r.pipeline, req, r.sourceDir); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidRequest, err)
	}

	run := &models.Run{Request: req, Status: models.RunStatusQueued, CreatedAt: r.now().UTC()}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// Execute runs a queued run to its terminal status. The returned error is
// only set when the run could not be recorded; a failed release is reported
// through the run's status.
func (r *Runner) Execute(ctx context.Context, run *models.Run) (*models.Run, error) {
	logger := r.logger.With("run_id", run.ID)

	started := r.now().UTC()
	if err := r.store.StartRun(context.WithoutCancel(ctx), run.ID, started); err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}
	run.Status = models.RunStatusRunning
	run.StartedAt = &started

	req := run.Request
	req.ApplyDefaults()

	jobs, err := spec.BuildJobs(r.pipeline, req, r.sourceDir)
	if err != nil {
		return r.finish(ctx, run, nil, nil, err)
	}

	logger.InfoContext(ctx, "run started",
		"release_type", req.ReleaseType,
		"target_branch", req.TargetBranch,
		"jobs", len(jobs),
	)
	results := r.jobs.Run(ctx, run.ID, jobs)

	policy := release.VersionPolicy{Channel: req.ReleaseType, Ref: req.TargetBranch, BetaMarker: r.betaMarker}
	var notes release.ChangelogSource
	if r.history != nil {
		notes = release.NewGitChangelog(r.history, req.TargetBranch)
	}

	manifest, err := r.assembler.Assemble(ctx, run.ID, results, policy, notes)
	return r.finish(ctx, run, results, manifest, err)
}

// finish decides the outcome and records it. Any assembly error fails the
// run; for a PublishError the manifest is still kept on the run.
func (r *Runner) finish(ctx context.Context, run *models.Run, results []models.JobResult, manifest *models.ReleaseManifest, assembleErr error) (*models.Run, error) {
	outcome := orchestrator.Decide(results, assembleErr)

	finished := r.now().UTC()
	run.Status = outcome.Status
	run.Results = results
	run.Manifest = manifest
	run.FinishedAt = &finished
	if assembleErr != nil {
		run.Error = assembleErr.Error()
	}
	// a cancel that lands after the release was published changes nothing
	if !outcome.Succeeded() && errors.Is(context.Cause(ctx), errs.ErrRunCancelled) {
		run.Error = models.RunCancelledReason
	}

	attrs := []any{
		"run_id", run.ID,
		"status", run.Status,
		"succeeded", outcome.Summary.Succeeded,
		"failed", outcome.Summary.Failed,
		"skipped", outcome.Summary.Skipped,
		"not_implemented", outcome.Summary.NotImplemented,
	}
	if manifest != nil {
		attrs = append(attrs, "version", manifest.Version)
	}
	if outcome.Succeeded() {
		r.logger.InfoContext(ctx, "run released", attrs...)
	} else {
		r.logger.ErrorContext(ctx, "run failed", append(attrs, "error", run.Error)...)
	}

	if err := r.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		return run, fmt.Errorf("failed to record run: %w", err)
	}
	return run, nil
}
