package database

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
)

//go:embed migrations/001_initial.up.sql
var initialMigrationSQL string

//go:embed migrations/002_job_supersede.up.sql
var jobSupersedeSQL string

var requiredTables = []string{
	"identities",
	"jobs",
	"audit_entries",
}

func (db *DB) EnsureSchema(ctx context.Context) error {
	if db == nil || db.Pool == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	exists, err := db.hasAllRequiredTables(ctx)
	if err != nil {
		return fmt.Errorf("check existing tables: %w", err)
	}

	if !exists {
		slog.Info("database schema missing tables; applying initial migration")
		if _, err := db.Pool.Exec(ctx, initialMigrationSQL); err != nil {
			return fmt.Errorf("apply initial migration: %w", err)
		}

		exists, err = db.hasAllRequiredTables(ctx)
		if err != nil {
			return fmt.Errorf("re-check tables after migration: %w", err)
		}

		if !exists {
			return fmt.Errorf("schema initialization incomplete: required tables are still missing")
		}
	}

	// 002: regenerate bookkeeping on jobs.
	if err := db.applyJobSupersede(ctx); err != nil {
		return fmt.Errorf("apply job supersede migration: %w", err)
	}

	slog.Info("database schema ensured")
	return nil
}

// applyJobSupersede runs migration 002 idempotently.
func (db *DB) applyJobSupersede(ctx context.Context) error {
	var hasColumn bool
	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = 'public'
			  AND table_name = 'jobs'
			  AND column_name = 'superseded_by'
		)
	`).Scan(&hasColumn)
	if err != nil {
		return fmt.Errorf("check superseded_by column: %w", err)
	}

	if !hasColumn {
		slog.Info("applying job supersede migration (002)")
		if _, err := db.Pool.Exec(ctx, jobSupersedeSQL); err != nil {
			return fmt.Errorf("exec job supersede SQL: %w", err)
		}
	}

	return nil
}

func (db *DB) hasAllRequiredTables(ctx context.Context) (bool, error) {
	var count int
	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM information_schema.tables
		WHERE table_schema = 'public'
		  AND table_name = ANY($1)
	`, requiredTables).Scan(&count)
	if err != nil {
		return false, err
	}

	return count == len(requiredTables), nil
}
