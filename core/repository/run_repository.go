package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"release-orchestrator/core/errs"
	"release-orchestrator/core/models"
)

// RunRepository handles database operations for release runs
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// CreateRun inserts a queued run. An empty ID is replaced by a new UUID.
func (r *RunRepository) CreateRun(ctx context.Context, run *models.Run) error {
	runID := uuid.New()
	if run.ID != "" {
		var err error
		runID, err = uuid.Parse(run.ID)
		if err != nil {
			return fmt.Errorf("invalid run id %q: %w", run.ID, err)
		}
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = models.RunStatusQueued
	}

	requestJSON, err := json.Marshal(run.Request)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO release_runs (
			id, status, release_type, target_branch, request_json, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $6)
	`
	_, err = tx.ExecContext(ctx, query,
		runID,
		string(run.Status),
		string(run.Request.ReleaseType),
		run.Request.TargetBranch,
		string(requestJSON),
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	run.ID = runID.String()
	err = createEventTx(ctx, tx, models.JobEvent{
		RunID:   run.ID,
		At:      run.CreatedAt,
		ToState: models.JobState(run.Status),
		Reason:  "run_created",
	})
	if err != nil {
		return err
	}

	return tx.Commit()
}

// StartRun marks a queued run as running
func (r *RunRepository) StartRun(ctx context.Context, runID string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `UPDATE release_runs SET status = $1, started_at = $2, updated_at = NOW() WHERE id = $3`
	res, err := tx.ExecContext(ctx, query, string(models.RunStatusRunning), at, runID)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	if err := expectRow(res, runID); err != nil {
		return err
	}

	from := models.JobState(models.RunStatusQueued)
	err = createEventTx(ctx, tx, models.JobEvent{
		RunID:     runID,
		At:        at,
		FromState: &from,
		ToState:   models.JobState(models.RunStatusRunning),
		Reason:    "run_started",
	})
	if err != nil {
		return err
	}

	return tx.Commit()
}

// FinishRun stores the terminal state of a run with its results and manifest
func (r *RunRepository) FinishRun(ctx context.Context, run *models.Run) error {
	resultsJSON, err := json.Marshal(run.Results)
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	var manifestJSON interface{}
	var version interface{}
	if run.Manifest != nil {
		b, err := json.Marshal(run.Manifest)
		if err != nil {
			return fmt.Errorf("failed to encode manifest: %w", err)
		}
		manifestJSON = string(b)
		version = run.Manifest.Version
	}

	succeeded := []string{}
	for _, res := range run.Results {
		if res.Succeeded() {
			succeeded = append(succeeded, string(res.PlatformID))
		}
	}

	finishedAt := time.Now().UTC()
	if run.FinishedAt != nil {
		finishedAt = *run.FinishedAt
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		UPDATE release_runs
		SET status = $1, results_json = $2, manifest_json = $3, succeeded_platforms = $4,
			version = $5, error = $6, finished_at = $7, updated_at = NOW()
		WHERE id = $8
	`
	res, err := tx.ExecContext(ctx, query,
		string(run.Status),
		string(resultsJSON),
		manifestJSON,
		pq.Array(succeeded),
		version,
		run.Error,
		finishedAt,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if err := expectRow(res, run.ID); err != nil {
		return err
	}

	from := models.JobState(models.RunStatusRunning)
	if run.StartedAt == nil {
		from = models.JobState(models.RunStatusQueued)
	}
	err = createEventTx(ctx, tx, models.JobEvent{
		RunID:     run.ID,
		At:        finishedAt,
		FromState: &from,
		ToState:   models.JobState(run.Status),
		Reason:    run.FinishReason(),
		MetaJSON:  map[string]interface{}{"succeeded": succeeded},
	})
	if err != nil {
		return err
	}

	return tx.Commit()
}

const runColumns = `id, status, request_json, results_json, manifest_json, error, created_at, started_at, finished_at`

// GetRun retrieves a run by ID
func (r *RunRepository) GetRun(ctx context.Context, id string) (*models.Run, error) {
	// ids are always UUIDs; anything else would surface as a driver error
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%s: %w", id, errs.ErrRunNotFound)
	}

	query := `SELECT ` + runColumns + ` FROM release_runs WHERE id = $1`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, errs.ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns retrieves the most recent runs, optionally filtered by status
func (r *RunRepository) ListRuns(ctx context.Context, status *models.RunStatus, limit int) ([]models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM release_runs`
	args := []interface{}{}
	argIndex := 1

	if status != nil {
		query += fmt.Sprintf(" WHERE status = $%d", argIndex)
		args = append(args, string(*status))
		argIndex++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argIndex)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []models.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*models.Run, error) {
	var run models.Run
	var status string
	var requestJSON, resultsJSON, manifestJSON []byte
	var runErr sql.NullString
	var startedAt, finishedAt sql.NullTime

	err := row.Scan(
		&run.ID,
		&status,
		&requestJSON,
		&resultsJSON,
		&manifestJSON,
		&runErr,
		&run.CreatedAt,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Status = models.RunStatus(status)
	if err := json.Unmarshal(requestJSON, &run.Request); err != nil {
		return nil, fmt.Errorf("failed to decode run request: %w", err)
	}
	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &run.Results); err != nil {
			return nil, fmt.Errorf("failed to decode run results: %w", err)
		}
	}
	if len(manifestJSON) > 0 {
		run.Manifest = &models.ReleaseManifest{}
		if err := json.Unmarshal(manifestJSON, run.Manifest); err != nil {
			return nil, fmt.Errorf("failed to decode manifest: %w", err)
		}
	}
	if runErr.Valid {
		run.Error = runErr.String
	}
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return &run, nil
}

func expectRow(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", runID, errs.ErrRunNotFound)
	}
	return nil
}
