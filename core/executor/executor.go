// Package executor runs one platform job through its stages:
//
//	Pending → Resolving → Building → Signing → Packaging → Publishing → terminal
//
// Terminal states are Succeeded, Failed, Skipped and NotImplemented. Errors
// never escape Execute; they end up in the returned JobResult.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"release-orchestrator/core/credentials"
	"release-orchestrator/core/errs"
	"release-orchestrator/core/models"
)

// CredentialResolver produces the secrets of a job
type CredentialResolver interface {
	Resolve(ctx context.Context, job models.PlatformJob) (credentials.SecretBundle, error)
}

// EventSink receives every state transition
type EventSink interface {
	RecordEvent(ctx context.Context, event models.JobEvent) error
}

// JobExecutor executes platform jobs
type JobExecutor struct {
	resolver  CredentialResolver
	toolchain Toolchain
	sink      EventSink
	workRoot  string
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a JobExecutor
type Option func(*JobExecutor)

// WithEventSink reports transitions to sink
func WithEventSink(sink EventSink) Option {
	return func(e *JobExecutor) { e.sink = sink }
}

// WithWorkRoot sets the directory under which job workspaces are created
func WithWorkRoot(dir string) Option {
	return func(e *JobExecutor) { e.workRoot = dir }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *JobExecutor) { e.logger = logger }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(e *JobExecutor) { e.now = now }
}

// NewJobExecutor creates a new job executor
func NewJobExecutor(resolver CredentialResolver, toolchain Toolchain, opts ...Option) *JobExecutor {
	e := &JobExecutor{
		resolver:  resolver,
		toolchain: toolchain,
		workRoot:  os.TempDir(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "executor")
	return e
}

// Execute runs job to a terminal state
func (e *JobExecutor) Execute(ctx context.Context, runID string, job models.PlatformJob) models.JobResult {
	r := &jobRun{
		e:      e,
		runID:  runID,
		job:    job,
		state:  models.JobStatePending,
		logger: e.logger.With("run_id", runID, "platform", job.PlatformID),
		result: models.JobResult{PlatformID: job.PlatformID, StartedAt: e.now()},
	}
	return r.execute(ctx)
}

type jobRun struct {
	e      *JobExecutor
	runID  string
	job    models.PlatformJob
	state  models.JobState
	logger *slog.Logger
	result models.JobResult
}

type stageOutcome struct {
	bundle    credentials.SecretBundle
	artifacts []models.ArtifactRef
	err       error
}

func (r *jobRun) execute(ctx context.Context) models.JobResult {
	if err := r.job.Validate(); err != nil {
		return r.fail(ctx, "", err)
	}

	if !r.job.Enabled {
		r.transition(ctx, models.JobStateSkipped, "platform_disabled", nil)
		r.result.Status = models.JobStatusSkipped
		return r.finish()
	}

	r.transition(ctx, models.JobStateResolving, "", nil)
	bundle, err := r.resolve(ctx)
	if err != nil {
		return r.fail(ctx, models.StageResolving, err)
	}
	defer bundle.Clear()

	ws := &Workspace{
		RunID:   r.runID,
		Job:     r.job,
		Dir:     filepath.Join(r.e.workRoot, r.runID, string(r.job.PlatformID)),
		Secrets: bundle,
	}

	var artifacts []models.ArtifactRef
	for _, stage := range models.ExecutionStages {
		if stage == models.StagePublishing && !r.job.PublishEnabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, stage, err)
		}

		r.transition(ctx, models.StateOf(stage), "", nil)
		// stages can outlive their timeout; each clears its own copy of the secrets
		stageWS := *ws
		stageWS.Secrets = bundle.Clone()
		out := r.runStage(ctx, stage, func(stageCtx context.Context) stageOutcome {
			defer stageWS.Secrets.Clear()
			return r.invoke(stageCtx, stage, &stageWS, artifacts)
		})

		if errors.Is(out.err, errs.ErrNotImplemented) {
			r.result.Artifacts = artifacts
			r.result.Status = models.JobStatusNotImplemented
			r.result.Err = out.err
			r.result.Error = &models.ErrorInfo{Stage: stage, Code: string(errs.CodeNotImplemented), Message: out.err.Error()}
			r.transition(ctx, models.JobStateNotImplemented, string(errs.CodeNotImplemented), map[string]interface{}{"stage": stage})
			return r.finish()
		}
		if out.err != nil {
			return r.fail(ctx, stage, out.err)
		}
		if stage == models.StagePackaging {
			artifacts = out.artifacts
		}
	}

	r.result.Artifacts = artifacts
	r.result.Status = models.JobStatusSucceeded
	r.transition(ctx, models.JobStateSucceeded, "", map[string]interface{}{"artifacts": len(artifacts)})
	return r.finish()
}

func (r *jobRun) resolve(ctx context.Context) (credentials.SecretBundle, error) {
	out := r.runStage(ctx, models.StageResolving, func(stageCtx context.Context) stageOutcome {
		b, err := r.e.resolver.Resolve(stageCtx, r.job)
		return stageOutcome{bundle: b, err: err}
	})
	return out.bundle, out.err
}

func (r *jobRun) invoke(ctx context.Context, stage models.Stage, ws *Workspace, artifacts []models.ArtifactRef) stageOutcome {
	tc := r.e.toolchain
	switch stage {
	case models.StageBuilding:
		if err := os.MkdirAll(ws.Dir, 0o755); err != nil {
			return stageOutcome{err: fmt.Errorf("failed to create workspace: %w", err)}
		}
		return stageOutcome{err: tc.Build(ctx, ws)}
	case models.StageSigning:
		return stageOutcome{err: tc.Sign(ctx, ws)}
	case models.StagePackaging:
		refs, err := tc.Package(ctx, ws)
		return stageOutcome{artifacts: refs, err: err}
	case models.StagePublishing:
		return stageOutcome{err: tc.Publish(ctx, ws, artifacts)}
	}
	return stageOutcome{err: fmt.Errorf("unknown stage %s", stage)}
}

// runStage runs fn under the stage timeout. The stage is abandoned when the
// timeout fires even if fn ignores its context.
func (r *jobRun) runStage(ctx context.Context, stage models.Stage, fn func(context.Context) stageOutcome) stageOutcome {
	timeout := r.job.TimeoutFor(stage)
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	record := models.StageRecord{Stage: stage, StartedAt: r.e.now()}
	done := make(chan stageOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- stageOutcome{err: fmt.Errorf("panic in %s stage: %v", stage, p)}
			}
		}()
		done <- fn(stageCtx)
	}()

	var out stageOutcome
	select {
	case out = <-done:
	case <-stageCtx.Done():
		out = stageOutcome{err: stageCtx.Err()}
	}

	if out.err != nil && ctx.Err() == nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) && !errors.Is(out.err, context.DeadlineExceeded) {
		out.err = fmt.Errorf("%w after %s: %v", context.DeadlineExceeded, timeout, out.err)
	}

	record.FinishedAt = r.e.now()
	if out.err != nil {
		record.Error = out.err.Error()
	}
	r.result.Stages = append(r.result.Stages, record)
	return out
}

func (r *jobRun) fail(ctx context.Context, stage models.Stage, err error) models.JobResult {
	var sf *errs.StageFailure
	if stage != "" && !errors.As(err, &sf) {
		err = &errs.StageFailure{Platform: string(r.job.PlatformID), Stage: string(stage), Err: err}
	}
	code := errs.CodeOf(err)

	r.result.Status = models.JobStatusFailed
	r.result.Artifacts = nil
	r.result.Err = err
	r.result.Error = &models.ErrorInfo{Stage: stage, Code: string(code), Message: err.Error()}

	r.logger.ErrorContext(ctx, "platform job failed", "stage", stage, "code", code, "error", err)
	r.transition(ctx, models.JobStateFailed, string(code), map[string]interface{}{"stage": stage})
	return r.finish()
}

func (r *jobRun) finish() models.JobResult {
	r.result.FinishedAt = r.e.now()
	return r.result
}

func (r *jobRun) transition(ctx context.Context, to models.JobState, reason string, meta map[string]interface{}) {
	from := r.state
	r.state = to

	r.logger.InfoContext(ctx, "job state changed", "from", from, "to", to, "reason", reason)

	if r.e.sink == nil {
		return
	}
	event := models.JobEvent{
		RunID:      r.runID,
		PlatformID: r.job.PlatformID,
		At:         r.e.now(),
		FromState:  &from,
		ToState:    to,
		Reason:     reason,
		MetaJSON:   meta,
	}
	// terminal events are still recorded after the run is cancelled
	if err := r.e.sink.RecordEvent(context.WithoutCancel(ctx), event); err != nil {
		r.logger.WarnContext(ctx, "failed to record job event", "to", to, "error", err)
	}
}
