package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrations applied at startup, in order. Each statement set runs once
// and is recorded in schema_migrations by its version name.
var migrations = []struct {
	version string
	ddl     string
}{
	{
		version: "0001_users",
		ddl: `
			CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				username TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				secret_api_key TEXT NOT NULL UNIQUE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`,
	},
	{
		version: "0002_spaces",
		ddl: `
			CREATE TABLE IF NOT EXISTS spaces (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				is_public BOOLEAN NOT NULL DEFAULT FALSE,
				featured BOOLEAN NOT NULL DEFAULT FALSE,
				objects JSONB NOT NULL DEFAULT '[]',
				grid JSONB NOT NULL DEFAULT '[]',
				grid_values JSONB NOT NULL DEFAULT '[]',
				settings JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS spaces_public_idx ON spaces (updated_at DESC) WHERE is_public;
		`,
	},
	{
		version: "0003_participants",
		ddl: `
			CREATE TABLE IF NOT EXISTS participants (
				space_id TEXT NOT NULL REFERENCES spaces(id) ON DELETE CASCADE,
				user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				status TEXT NOT NULL DEFAULT 'invited',
				invited_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (space_id, user_id)
			)
		`,
	},
	{
		version: "0004_favorites",
		ddl: `
			CREATE TABLE IF NOT EXISTS favorites (
				user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				space_id TEXT NOT NULL REFERENCES spaces(id) ON DELETE CASCADE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (user_id, space_id)
			)
		`,
	},
}

func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}

	for _, m := range migrations {
		if migrated, err := isMigrated(ctx, db, m.version); err != nil {
			return err
		} else if migrated {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration tx %s: %w", m.version, err)
		}

		if _, err := tx.ExecContext(ctx, m.ddl); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", m.version, err)
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.version, err)
		}
	}

	return nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
