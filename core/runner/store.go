package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"release-orchestrator/core/errs"
	"release-orchestrator/core/models"
)

// RunStore persists runs across their lifecycle
type RunStore interface {
	CreateRun(ctx context.Context, run *models.Run) error
	StartRun(ctx context.Context, runID string, at time.Time) error
	FinishRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	ListRuns(ctx context.Context, status *models.RunStatus, limit int) ([]models.Run, error)
}

// EventStore records and lists job events
type EventStore interface {
	RecordEvent(ctx context.Context, event models.JobEvent) error
	GetRunEvents(ctx context.Context, runID string, limit int) ([]models.JobEvent, error)
}

// MemoryStore keeps runs and events in process. It backs the CLI and
// servers started without a database.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]*models.Run
	events map[string][]models.JobEvent
	nextID int64
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:   make(map[string]*models.Run),
		events: make(map[string][]models.JobEvent),
	}
}

func (s *MemoryStore) CreateRun(ctx context.Context, run *models.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = models.RunStatusQueued
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	cp := *run
	s.runs[run.ID] = &cp
	s.appendEvent(models.JobEvent{RunID: run.ID, At: run.CreatedAt, ToState: models.JobState(run.Status), Reason: "run_created"})
	return nil
}

func (s *MemoryStore) StartRun(ctx context.Context, runID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%s: %w", runID, errs.ErrRunNotFound)
	}
	from := models.JobState(run.Status)
	run.Status = models.RunStatusRunning
	run.StartedAt = &at
	s.appendEvent(models.JobEvent{RunID: runID, At: at, FromState: &from, ToState: models.JobState(run.Status), Reason: "run_started"})
	return nil
}

func (s *MemoryStore) FinishRun(ctx context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.runs[run.ID]
	if !ok {
		return fmt.Errorf("%s: %w", run.ID, errs.ErrRunNotFound)
	}
	from := models.JobState(stored.Status)
	cp := *run
	if cp.FinishedAt == nil {
		now := time.Now().UTC()
		cp.FinishedAt = &now
	}
	s.runs[run.ID] = &cp
	s.appendEvent(models.JobEvent{RunID: run.ID, At: *cp.FinishedAt, FromState: &from, ToState: models.JobState(cp.Status), Reason: cp.FinishReason()})
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, id string) (*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, errs.ErrRunNotFound)
	}
	cp := *run
	return &cp, nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, status *models.RunStatus, limit int) ([]models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := []models.Run{}
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, *run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *MemoryStore) RecordEvent(ctx context.Context, event models.JobEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendEvent(event)
	return nil
}

func (s *MemoryStore) GetRunEvents(ctx context.Context, runID string, limit int) ([]models.JobEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := append([]models.JobEvent(nil), s.events[runID]...)
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// appendEvent requires s.mu to be held
func (s *MemoryStore) appendEvent(event models.JobEvent) {
	s.nextID++
	event.ID = s.nextID
	s.events[event.RunID] = append(s.events[event.RunID], event)
}
