package db

import (
	"database/sql"
	"fmt"
	"time"
)

var diagnosticsMigrations = []Migration{
	{
		Version: 1,
		Name:    "decode_failures",
		SQL: `
			CREATE TABLE IF NOT EXISTS decode_failures (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				recorded_at DATETIME NOT NULL,
				stream TEXT NOT NULL,
				kind TEXT NOT NULL,
				field TEXT NOT NULL,
				byte_offset INTEGER NOT NULL DEFAULT 0,
				message TEXT NOT NULL DEFAULT '',
				frame_hex TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_decode_failures_field ON decode_failures(field);`,
	},
	{
		Version: 2,
		Name:    "decode_failure_counts",
		SQL: `
			CREATE TABLE IF NOT EXISTS decode_failure_counts (
				field TEXT PRIMARY KEY,
				total INTEGER NOT NULL DEFAULT 0,
				last_seen DATETIME
			);`,
	},
}

// DecodeFailure is one journaled decode failure.
type DecodeFailure struct {
	ID         int64     `json:"id"`
	RecordedAt time.Time `json:"recorded_at"`
	Stream     string    `json:"stream"`
	Kind       string    `json:"kind"`
	Field      string    `json:"field"`
	Offset     int       `json:"offset"`
	Message    string    `json:"message"`
	FrameHex   string    `json:"frame_hex"`
}

// FieldCount is the lifetime failure total for one field.
type FieldCount struct {
	Field    string    `json:"field"`
	Total    int64     `json:"total"`
	LastSeen time.Time `json:"last_seen"`
}

// DiagnosticsStore journals decode failures for offline protocol analysis.
// Counters survive pruning; the row journal is capped.
type DiagnosticsStore struct {
	db        *Database
	retention int
}

// NewDiagnosticsStore opens the journal at dbPath and applies migrations.
// retention caps the number of journal rows kept by Prune.
func NewDiagnosticsStore(dbPath string, retention int) (*DiagnosticsStore, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	if err := database.Migrate(diagnosticsMigrations); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate diagnostics database: %w", err)
	}

	return &DiagnosticsStore{db: database, retention: retention}, nil
}

// Close closes the underlying database.
func (s *DiagnosticsStore) Close() error {
	return s.db.Close()
}

// Record stores one failure and bumps its field counter.
func (s *DiagnosticsStore) Record(f DecodeFailure) error {
	if f.RecordedAt.IsZero() {
		f.RecordedAt = time.Now()
	}
	ts := f.RecordedAt.UTC()

	return s.db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO decode_failures
			(recorded_at, stream, kind, field, byte_offset, message, frame_hex)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ts, f.Stream, f.Kind, f.Field, f.Offset, f.Message, f.FrameHex)
		if err != nil {
			return fmt.Errorf("failed to insert decode failure: %w", err)
		}

		_, err = tx.Exec(`INSERT INTO decode_failure_counts (field, total, last_seen)
			VALUES (?, 1, ?)
			ON CONFLICT(field) DO UPDATE SET total = total + 1, last_seen = excluded.last_seen`,
			f.Field, ts)
		if err != nil {
			return fmt.Errorf("failed to update failure counter: %w", err)
		}
		return nil
	})
}

// Recent returns up to limit failures, newest first. An empty field
// matches every field.
func (s *DiagnosticsStore) Recent(field string, limit int) ([]DecodeFailure, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, recorded_at, stream, kind, field, byte_offset, message, frame_hex
		FROM decode_failures`
	args := []interface{}{}
	if field != "" {
		query += ` WHERE field = ?`
		args = append(args, field)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query decode failures: %w", err)
	}
	defer rows.Close()

	var out []DecodeFailure
	for rows.Next() {
		var f DecodeFailure
		if err := rows.Scan(&f.ID, &f.RecordedAt, &f.Stream, &f.Kind, &f.Field, &f.Offset, &f.Message, &f.FrameHex); err != nil {
			return nil, fmt.Errorf("failed to scan decode failure: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// CountsByField returns the lifetime counters, highest first.
func (s *DiagnosticsStore) CountsByField() ([]FieldCount, error) {
	rows, err := s.db.Query(`SELECT field, total, last_seen FROM decode_failure_counts
		ORDER BY total DESC, field ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query failure counts: %w", err)
	}
	defer rows.Close()

	var out []FieldCount
	for rows.Next() {
		var (
			c        FieldCount
			lastSeen sql.NullTime
		)
		if err := rows.Scan(&c.Field, &c.Total, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan failure count: %w", err)
		}
		c.LastSeen = lastSeen.Time
		out = append(out, c)
	}
	return out, rows.Err()
}

// Count returns the number of journal rows currently stored.
func (s *DiagnosticsStore) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM decode_failures`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count decode failures: %w", err)
	}
	return n, nil
}

// Prune deletes the oldest rows beyond the retention limit and returns how
// many were removed.
func (s *DiagnosticsStore) Prune() (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}

	res, err := s.db.Exec(`DELETE FROM decode_failures WHERE id NOT IN
		(SELECT id FROM decode_failures ORDER BY id DESC LIMIT ?)`, s.retention)
	if err != nil {
		return 0, fmt.Errorf("failed to prune decode failures: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.db.logger.Debug().Int64("removed", removed).Int("retention", s.retention).Msg("diagnostics pruned")
	}
	return removed, nil
}
