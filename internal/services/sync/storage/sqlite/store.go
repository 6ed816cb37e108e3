// Package sqlite provides SQLite-backed sync persistence: named records for
// the queue and mirrors, and the replay attempt ledger.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlitemigrate "github.com/llakterian/Adonai-Farm-sub002/internal/platform/storage/sqlitemigrate"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/sync/storage"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/sync/storage/sqlite/migrations"
)

// Store provides SQLite-backed sync persistence.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Open opens a sync SQLite store and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	sqlDB, err := sqlitemigrate.Open(ctx, path, migrations.FS)
	if err != nil {
		return nil, err
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// GetRecord loads one named record.
func (s *Store) GetRecord(ctx context.Context, name string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, false, fmt.Errorf("storage is not configured")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, fmt.Errorf("record name is required")
	}

	var data []byte
	err := s.sqlDB.QueryRowContext(ctx, `SELECT data FROM records WHERE name = ?`, name).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get record %s: %w", name, err)
	}
	return data, true, nil
}

// PutRecord replaces one named record.
func (s *Store) PutRecord(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("record name is required")
	}
	if data == nil {
		data = []byte{}
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO records (name, data, updated_at) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	data = excluded.data,
	updated_at = excluded.updated_at
`,
		name,
		data,
		s.now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put record %s: %w", name, err)
	}
	return nil
}

// RecordAttempt persists one replay outcome.
func (s *Store) RecordAttempt(ctx context.Context, attempt storage.AttemptRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	attempt.ActionID = strings.TrimSpace(attempt.ActionID)
	attempt.Action = strings.TrimSpace(attempt.Action)
	attempt.Outcome = strings.TrimSpace(attempt.Outcome)
	attempt.LastError = strings.TrimSpace(attempt.LastError)
	if attempt.ActionID == "" {
		return fmt.Errorf("action id is required")
	}
	if attempt.Action == "" {
		return fmt.Errorf("action is required")
	}
	if attempt.Outcome == "" {
		return fmt.Errorf("outcome is required")
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = s.now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO replay_attempts (
	action_id,
	action,
	outcome,
	retry_count,
	last_error,
	created_at
) VALUES (?, ?, ?, ?, ?, ?)
`,
		attempt.ActionID,
		attempt.Action,
		attempt.Outcome,
		attempt.RetryCount,
		attempt.LastError,
		attempt.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// ListAttempts lists newest-first attempt records.
func (s *Store) ListAttempts(ctx context.Context, limit int) ([]storage.AttemptRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT
	id,
	action_id,
	action,
	outcome,
	retry_count,
	last_error,
	created_at
FROM replay_attempts
ORDER BY created_at DESC, id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	records := make([]storage.AttemptRecord, 0, limit)
	for rows.Next() {
		var record storage.AttemptRecord
		var createdAt int64
		if err := rows.Scan(
			&record.ID,
			&record.ActionID,
			&record.Action,
			&record.Outcome,
			&record.RetryCount,
			&record.LastError,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		record.CreatedAt = time.UnixMilli(createdAt).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return records, nil
}

var (
	_ storage.RecordStore  = (*Store)(nil)
	_ storage.AttemptStore = (*Store)(nil)
)
