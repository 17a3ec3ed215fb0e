package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// migration is one schema step, applied exactly once and tracked in the
// schema_version table.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "connections",
		SQL: `
		CREATE TABLE IF NOT EXISTS connections (
			id              TEXT PRIMARY KEY,
			remote_addr     TEXT NOT NULL DEFAULT '',
			connected_at    INTEGER NOT NULL,
			disconnected_at INTEGER,
			close_reason    TEXT NOT NULL DEFAULT '',
			displaced       INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_connections_connected ON connections(connected_at);
		`,
	},
	{
		Version:     2,
		Description: "index open connections",
		SQL:         `CREATE INDEX IF NOT EXISTS idx_connections_open ON connections(disconnected_at) WHERE disconnected_at IS NULL;`,
	},
}

// schemaVersion is the version a fully migrated journal reports.
var schemaVersion = migrations[len(migrations)-1].Version

func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_version (version, description, applied_at) VALUES (?, ?, strftime('%s','now'))",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}

		logger.Debug("journal migration applied", "version", m.Version, "description", m.Description)
	}
	return nil
}

func currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return v, nil
}
