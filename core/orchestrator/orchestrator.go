// Package orchestrator fans platform jobs out to executors and joins them.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"release-orchestrator/core/errs"
	"release-orchestrator/core/models"
)

// Executor runs a single platform job to a terminal state
type Executor interface {
	Execute(ctx context.Context, runID string, job models.PlatformJob) models.JobResult
}

// Orchestrator dispatches one executor per job
type Orchestrator struct {
	executor    Executor
	maxParallel int64
	logger      *slog.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithMaxParallel bounds how many enabled jobs run at once. 0 means unbounded.
func WithMaxParallel(n int) Option {
	return func(o *Orchestrator) { o.maxParallel = int64(n) }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New creates a new orchestrator
func New(executor Executor, opts ...Option) *Orchestrator {
	o := &Orchestrator{executor: executor, logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "orchestrator")
	return o
}

// Run executes every job concurrently and returns one result per job, in
// input order. It returns only after every executor reached a terminal state.
func (o *Orchestrator) Run(ctx context.Context, runID string, jobs []models.PlatformJob) []models.JobResult {
	results := make([]models.JobResult, len(jobs))

	var sem *semaphore.Weighted
	if o.maxParallel > 0 {
		sem = semaphore.NewWeighted(o.maxParallel)
	}

	o.logger.InfoContext(ctx, "dispatching platform jobs", "run_id", runID, "jobs", len(jobs))

	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job models.PlatformJob) {
			defer wg.Done()
			results[i] = o.runOne(ctx, runID, job, sem)
		}(i, job.Clone())
	}
	wg.Wait()

	s := Summarize(results)
	o.logger.InfoContext(ctx, "platform jobs finished",
		"run_id", runID,
		"succeeded", s.Succeeded,
		"failed", s.Failed,
		"skipped", s.Skipped,
		"not_implemented", s.NotImplemented,
	)
	return results
}

func (o *Orchestrator) runOne(ctx context.Context, runID string, job models.PlatformJob, sem *semaphore.Weighted) (result models.JobResult) {
	started := time.Now()

	defer func() {
		if p := recover(); p != nil {
			o.logger.ErrorContext(ctx, "executor panicked",
				"run_id", runID,
				"platform", job.PlatformID,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			result = failedResult(job.PlatformID, started, "", errs.CodeInternal, fmt.Errorf("executor panicked: %v", p))
		}
	}()

	if sem != nil && job.Enabled {
		if err := sem.Acquire(ctx, 1); err != nil {
			return failedResult(job.PlatformID, started, models.StageResolving, errs.CodeCancelled,
				&errs.StageFailure{Platform: string(job.PlatformID), Stage: string(models.StageResolving), Err: err})
		}
		defer sem.Release(1)
	}

	return o.executor.Execute(ctx, runID, job)
}

func failedResult(id models.PlatformID, started time.Time, stage models.Stage, code errs.ErrorCode, err error) models.JobResult {
	return models.JobResult{
		PlatformID: id,
		Status:     models.JobStatusFailed,
		Error:      &models.ErrorInfo{Stage: stage, Code: string(code), Message: err.Error()},
		Err:        err,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
}
