// Package journal keeps a SQLite log of downstream connection lifecycles.
// Relayed payloads are never stored.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"discordrelay/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteJournal implements domain.ConnectionJournal using SQLite.
type SQLiteJournal struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteJournal opens (creating if needed) the journal at dbPath.
func NewSQLiteJournal(dbPath string, logger *slog.Logger) (*SQLiteJournal, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create journal directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open journal: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &SQLiteJournal{db: db, logger: logger}
	if err := migrate(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal migration failed: %w", err)
	}
	return j, nil
}

// RecordConnect inserts a new connection row.
func (j *SQLiteJournal) RecordConnect(ctx context.Context, rec domain.ConnectionRecord) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO connections (id, remote_addr, connected_at) VALUES (?, ?, ?)`,
		rec.ID, rec.RemoteAddr, rec.ConnectedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record connect %s: %w", rec.ID, err)
	}
	return nil
}

// RecordDisplaced marks a connection as superseded by a newer one.
func (j *SQLiteJournal) RecordDisplaced(ctx context.Context, id string) error {
	if _, err := j.db.ExecContext(ctx, `UPDATE connections SET displaced = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("record displaced %s: %w", id, err)
	}
	return nil
}

// RecordDisconnect stamps the end of a connection.
func (j *SQLiteJournal) RecordDisconnect(ctx context.Context, id string, at time.Time, reason string) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE connections SET disconnected_at = ?, close_reason = ? WHERE id = ?`,
		at.UnixMilli(), reason, id,
	)
	if err != nil {
		return fmt.Errorf("record disconnect %s: %w", id, err)
	}
	return nil
}

// Recent returns up to limit connections, newest first.
func (j *SQLiteJournal) Recent(ctx context.Context, limit int) ([]domain.ConnectionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, remote_addr, connected_at, disconnected_at, close_reason, displaced
		 FROM connections ORDER BY connected_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer rows.Close()

	var records []domain.ConnectionRecord
	for rows.Next() {
		var (
			rec       domain.ConnectionRecord
			connected int64
			disc      sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.RemoteAddr, &connected, &disc, &rec.CloseReason, &rec.Displaced); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		rec.ConnectedAt = time.UnixMilli(connected)
		if disc.Valid {
			t := time.UnixMilli(disc.Int64)
			rec.DisconnectedAt = &t
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkAbandoned closes out rows left open by a previous process that exited
// without recording disconnects.
func (j *SQLiteJournal) MarkAbandoned(ctx context.Context, at time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`UPDATE connections SET disconnected_at = ?, close_reason = 'process exit' WHERE disconnected_at IS NULL`,
		at.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("mark abandoned: %w", err)
	}
	return res.RowsAffected()
}

// Prune deletes connections that started before cutoff.
func (j *SQLiteJournal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM connections WHERE connected_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune connections: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		j.logger.Info("journal pruned", "deleted", n, "before", cutoff.Format(time.RFC3339))
	}
	return n, nil
}

// Close closes the database.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
