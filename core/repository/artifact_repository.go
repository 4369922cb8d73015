package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"release-orchestrator/core/models"
)

// ArtifactRecord is an uploaded artifact as stored in the database
type ArtifactRecord struct {
	ID         int64                  `json:"id"`
	RunID      string                 `json:"run_id"`
	PlatformID models.PlatformID      `json:"platform_id"`
	Kind       models.ArtifactKind    `json:"kind"`
	URI        string                 `json:"uri"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// ArtifactRepository handles database operations for release artifacts
type ArtifactRepository struct {
	db *DB
}

// NewArtifactRepository creates a new artifact repository
func NewArtifactRepository(db *DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

// GetRunArtifacts retrieves artifacts for a run, optionally for one platform
func (r *ArtifactRepository) GetRunArtifacts(ctx context.Context, runID string, platform *models.PlatformID) ([]ArtifactRecord, error) {
	query := `
		SELECT id, run_id, platform_id, kind, uri, meta_json
		FROM release_artifacts
		WHERE run_id = $1
	`
	args := []interface{}{runID}
	argIndex := 2

	if platform != nil {
		query += fmt.Sprintf(" AND platform_id = $%d", argIndex)
		args = append(args, string(*platform))
	}

	query += " ORDER BY id ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []ArtifactRecord
	for rows.Next() {
		var artifact ArtifactRecord
		var platformID, kind string
		var metaJSON []byte

		err := rows.Scan(
			&artifact.ID,
			&artifact.RunID,
			&platformID,
			&kind,
			&artifact.URI,
			&metaJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifact.PlatformID = models.PlatformID(platformID)
		artifact.Kind = models.ArtifactKind(kind)

		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &artifact.Meta); err != nil {
				return nil, fmt.Errorf("failed to decode artifact meta: %w", err)
			}
		}

		artifacts = append(artifacts, artifact)
	}

	return artifacts, rows.Err()
}

// CreateArtifact records where an artifact was uploaded
func (r *ArtifactRepository) CreateArtifact(ctx context.Context, runID string, ref models.ArtifactRef, meta map[string]interface{}) error {
	metaJSON, err := encodeMeta(meta)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO release_artifacts (run_id, platform_id, kind, uri, meta_json, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`

	_, err = r.db.ExecContext(ctx, query, runID, string(ref.PlatformID), string(ref.Kind), ref.URI, metaJSON)
	return err
}
