package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"release-orchestrator/core/models"
)

// EventRepository handles database operations for job events
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// RecordEvent stores a job state transition
func (r *EventRepository) RecordEvent(ctx context.Context, event models.JobEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := createEventTx(ctx, tx, event); err != nil {
		return err
	}
	return tx.Commit()
}

func createEventTx(ctx context.Context, tx *sql.Tx, event models.JobEvent) error {
	query := `
		INSERT INTO job_events (run_id, platform_id, at, from_state, to_state, reason, meta_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	var fromState *string
	if event.FromState != nil {
		s := string(*event.FromState)
		fromState = &s
	}

	metaJSON, err := encodeMeta(event.MetaJSON)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, query,
		event.RunID,
		string(event.PlatformID),
		event.At,
		fromState,
		string(event.ToState),
		event.Reason,
		metaJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job event: %w", err)
	}
	return nil
}

// GetRunEvents retrieves events for a run in the order they happened
func (r *EventRepository) GetRunEvents(ctx context.Context, runID string, limit int) ([]models.JobEvent, error) {
	query := `
		SELECT id, run_id, platform_id, at, from_state, to_state, reason, meta_json
		FROM job_events
		WHERE run_id = $1
		ORDER BY at ASC, id ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.JobEvent
	for rows.Next() {
		var event models.JobEvent
		var platformID string
		var fromState sql.NullString
		var toState string
		var metaJSON []byte

		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&platformID,
			&event.At,
			&fromState,
			&toState,
			&event.Reason,
			&metaJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job event: %w", err)
		}

		event.PlatformID = models.PlatformID(platformID)
		event.ToState = models.JobState(toState)
		if fromState.Valid {
			state := models.JobState(fromState.String)
			event.FromState = &state
		}

		// Parse meta JSON
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &event.MetaJSON); err != nil {
				return nil, fmt.Errorf("failed to decode event meta: %w", err)
			}
		}

		events = append(events, event)
	}

	return events, rows.Err()
}
