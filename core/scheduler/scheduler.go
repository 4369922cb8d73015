// Package scheduler queues triggered release runs and executes them one at
// a time in the background.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"release-orchestrator/core/errs"
	"release-orchestrator/core/models"
	"release-orchestrator/core/runner"
)

// RunExecutor creates and executes runs
type RunExecutor interface {
	Trigger(ctx context.Context, req models.RunRequest) (*models.Run, error)
	Execute(ctx context.Context, run *models.Run) (*models.Run, error)
}

// DefaultInterval is how often the queue is polled when nothing wakes the worker
const DefaultInterval = 5 * time.Second

// Scheduler manages run scheduling and execution
type Scheduler struct {
	runs     RunExecutor
	store    runner.RunStore
	queue    *RunQueue
	interval time.Duration
	logger   *slog.Logger
	wake     chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// mu serializes cancellation against the worker picking up a run
	mu      sync.Mutex
	running map[string]context.CancelCauseFunc
	now     func() time.Time
}

// NewScheduler creates a new scheduler
func NewScheduler(runs RunExecutor, store runner.RunStore, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runs:     runs,
		store:    store,
		queue:    NewRunQueue(),
		interval: interval,
		logger:   logger.With("component", "scheduler"),
		wake:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
		running:  make(map[string]context.CancelCauseFunc),
		now:      time.Now,
	}
}

// Start runs the scheduler worker until ctx is done or Stop is called. A run
// already executing is finished first. Start must be called at most once.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Pick up runs queued before a restart
	s.loadQueuedRuns(ctx)
	s.processQueue(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-s.wake:
			s.processQueue(ctx)
		case <-ticker.C:
			s.processQueue(ctx)
		}
	}
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// Wait blocks until Start has returned or ctx is done
func (s *Scheduler) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops a run. A queued run is finished as failed right away; a
// running one has its context cancelled and fails once its jobs unwind.
func (s *Scheduler) Cancel(ctx context.Context, id string) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}

	if cancel, ok := s.running[run.ID]; ok {
		cancel(errs.ErrRunCancelled)
		s.logger.InfoContext(ctx, "run cancellation requested", "run_id", run.ID)
		return run, nil
	}

	switch run.Status {
	case models.RunStatusQueued:
	case models.RunStatusRunning:
		// started by another process; only that process can stop it
		return nil, fmt.Errorf("%s is running in another process: %w", run.ID, errs.ErrRunNotCancellable)
	default:
		return nil, fmt.Errorf("%s is already %s: %w", run.ID, run.Status, errs.ErrRunNotCancellable)
	}

	s.queue.Remove(run.ID)
	finished := s.now().UTC()
	run.Status = models.RunStatusFailed
	run.Error = models.RunCancelledReason
	run.FinishedAt = &finished
	if err := s.store.FinishRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to cancel run: %w", err)
	}
	s.logger.InfoContext(ctx, "queued run cancelled", "run_id", run.ID)
	return run, nil
}

// Submit records a new run for req and queues it
func (s *Scheduler) Submit(ctx context.Context, req models.RunRequest) (*models.Run, error) {
	run, err := s.runs.Trigger(ctx, req)
	if err != nil {
		return nil, err
	}
	s.Enqueue(run)
	s.logger.InfoContext(ctx, "run queued", "run_id", run.ID, "release_type", run.Request.ReleaseType)
	return run, nil
}

// Enqueue adds a run to the queue and wakes the worker
func (s *Scheduler) Enqueue(run *models.Run) {
	s.queue.Enqueue(run)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of runs waiting to execute
func (s *Scheduler) Pending() int {
	return s.queue.Size()
}

// loadQueuedRuns loads queued runs from the store
func (s *Scheduler) loadQueuedRuns(ctx context.Context) {
	status := models.RunStatusQueued
	runs, err := s.store.ListRuns(ctx, &status, 100)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load queued runs", "error", err)
		return
	}

	for i := range runs {
		s.queue.Enqueue(&runs[i])
	}
}

// processQueue executes runs from the queue until it is empty
func (s *Scheduler) processQueue(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-s.stopChan:
			return
		default:
		}

		run := s.queue.PopRun()
		if run == nil {
			return
		}
		s.execute(ctx, run)
	}
}

func (s *Scheduler) execute(ctx context.Context, run *models.Run) {
	s.mu.Lock()
	// Re-fetch run to get latest state
	fresh, err := s.store.GetRun(ctx, run.ID)
	if err != nil {
		s.mu.Unlock()
		s.logger.ErrorContext(ctx, "failed to fetch run", "run_id", run.ID, "error", err)
		return
	}

	// Skip if run is no longer queued
	if fresh.Status != models.RunStatusQueued {
		s.mu.Unlock()
		return
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	s.running[fresh.ID] = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, fresh.ID)
		s.mu.Unlock()
		cancel(nil)
	}()

	if _, err := s.runs.Execute(runCtx, fresh); err != nil {
		s.logger.ErrorContext(ctx, "failed to execute run", "run_id", fresh.ID, "error", err)
	}
}
