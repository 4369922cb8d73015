// Package repository persists release runs, job events and artifact records
// in PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schema string

// DB wraps the connection pool shared by the repositories
type DB struct {
	*sql.DB
}

// NewDB opens and pings a PostgreSQL database
func NewDB(url string) (*DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &DB{DB: db}, nil
}

// Migrate creates the tables if they do not exist yet
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func encodeMeta(meta map[string]interface{}) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to encode meta: %w", err)
	}
	return string(b), nil
}
