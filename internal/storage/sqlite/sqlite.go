// Package sqlite persists the safety-compliance audit trail.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"triagebot/internal/domain"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS audit_records (
		id           TEXT PRIMARY KEY,
		severity     TEXT NOT NULL,
		message_hash TEXT NOT NULL,
		message_len  INTEGER NOT NULL,
		channel      TEXT NOT NULL,
		status       TEXT NOT NULL DEFAULT 'pending_review',
		created_at   DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_records(created_at);
	CREATE INDEX IF NOT EXISTS idx_audit_severity ON audit_records(severity);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}
	return db, nil
}

// AuditStore is the sqlite-backed implementation of the safety workflow's
// audit trail.
type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) InsertAuditRecord(ctx context.Context, rec domain.AuditRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_records (id, severity, message_hash, message_len, channel, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Severity, rec.MessageHash, rec.MessageLen, string(rec.Channel), rec.Status, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting audit record %s: %w", rec.ID, err)
	}
	return nil
}

// RecentAuditRecords returns records created at or after since, newest first.
func (s *AuditStore) RecentAuditRecords(ctx context.Context, since time.Time) ([]domain.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, severity, message_hash, message_len, channel, status, created_at
		 FROM audit_records WHERE created_at >= ? ORDER BY created_at DESC`,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.AuditRecord
	for rows.Next() {
		var rec domain.AuditRecord
		var channel string
		if err := rows.Scan(&rec.ID, &rec.Severity, &rec.MessageHash, &rec.MessageLen, &channel, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Channel = domain.Channel(channel)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountAuditRecordsBySeverity aggregates the trail since the given time.
func (s *AuditStore) CountAuditRecordsBySeverity(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT severity, COUNT(*) FROM audit_records WHERE created_at >= ? GROUP BY severity`,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var severity string
		var n int
		if err := rows.Scan(&severity, &n); err != nil {
			return nil, err
		}
		counts[severity] = n
	}
	return counts, rows.Err()
}
