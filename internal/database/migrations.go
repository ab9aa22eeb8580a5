package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// migrations are applied in order. Each entry is a list of single
// statements so the same text runs on both sqlite3 and pgx.
var migrations = [][]string{
	// v1: lock table
	{
		`CREATE TABLE IF NOT EXISTS locks (
  id TEXT PRIMARY KEY,
  scope TEXT NOT NULL,
  resource_key TEXT NOT NULL UNIQUE,
  resource_type TEXT NOT NULL,
  resource_class TEXT NOT NULL,
  project_id TEXT NOT NULL,
  document_id TEXT,
  node_id TEXT,
  resource_id TEXT,
  user_id TEXT NOT NULL,
  locked_at_ms BIGINT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_locks_scope ON locks(scope)`,
		`CREATE INDEX IF NOT EXISTS idx_locks_class_time ON locks(resource_class, locked_at_ms)`,
	},
	// v2: node tree and user directory read models
	{
		`CREATE TABLE IF NOT EXISTS nodes (
  id TEXT PRIMARY KEY,
  document_id TEXT NOT NULL,
  parent_id TEXT,
  sort_order INTEGER NOT NULL DEFAULT 0,
  node_type TEXT NOT NULL,
  text TEXT NOT NULL DEFAULT '',
  attrs TEXT
)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_document ON nodes(document_id)`,
		`CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  display_name TEXT NOT NULL
)`,
	},
}

// Migrate brings the schema up to the latest version.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at_ms BIGINT NOT NULL
)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	cur, err := d.currentVersion(ctx)
	if err != nil {
		return err
	}
	for v := cur + 1; v <= len(migrations); v++ {
		if err := d.apply(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) currentVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := d.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}

func (d *DB) apply(ctx context.Context, version int) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range migrations[version-1] {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration v%d failed: %w", version, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		d.Rebind(`INSERT INTO schema_migrations(version, applied_at_ms) VALUES(?, ?)`),
		version, time.Now().UnixMilli(),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Version returns the applied schema version.
func (d *DB) Version(ctx context.Context) (int, error) {
	return d.currentVersion(ctx)
}
