package database

import (
	"context"
	"database/sql"
	"fmt"
)

// ensureSchema creates the configured schema namespace before migrations run.
// The connection pool's search_path already points at it via the DSN.
func ensureSchema(ctx context.Context, db *sql.DB, schema string) error {
	if schema == "" || schema == "public" {
		return nil
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %q", schema)); err != nil {
		return fmt.Errorf("failed to create schema %q: %w", schema, err)
	}
	return nil
}
