package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sqlitemigrate "github.com/llakterian/Adonai-Farm-sub002/internal/platform/storage/sqlitemigrate"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/gateway/cache"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/gateway/cache/sqlite/migrations"
)

// Store provides SQLite-backed persistence for cache partitions.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Open opens and migrates a cache SQLite store.
func Open(ctx context.Context, path string) (*Store, error) {
	sqlDB, err := sqlitemigrate.Open(ctx, path, migrations.FS)
	if err != nil {
		return nil, err
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close releases the underlying SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Get loads one entry by partition and key.
func (s *Store) Get(ctx context.Context, partition, key string) (cache.Entry, bool, error) {
	if s == nil || s.sqlDB == nil {
		return cache.Entry{}, false, fmt.Errorf("storage is not configured")
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT partition, cache_key, status_code, header_json, body, stored_at
		 FROM cache_entries
		 WHERE partition = ? AND cache_key = ?`,
		strings.TrimSpace(partition),
		strings.TrimSpace(key),
	)

	var entry cache.Entry
	var headerJSON []byte
	var storedAt int64
	if err := row.Scan(&entry.Partition, &entry.Key, &entry.StatusCode, &headerJSON, &entry.Body, &storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cache.Entry{}, false, nil
		}
		return cache.Entry{}, false, fmt.Errorf("get cache entry: %w", err)
	}
	entry.Header = http.Header{}
	if len(headerJSON) > 0 {
		if err := json.Unmarshal(headerJSON, &entry.Header); err != nil {
			return cache.Entry{}, false, fmt.Errorf("decode cache header: %w", err)
		}
	}
	entry.StoredAt = unixMillisToTime(storedAt)
	return entry, true, nil
}

// Put upserts one entry.
func (s *Store) Put(ctx context.Context, entry cache.Entry) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	entry.Partition = strings.TrimSpace(entry.Partition)
	entry.Key = strings.TrimSpace(entry.Key)
	if err := cache.ValidateEntry(entry); err != nil {
		return err
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = s.now().UTC()
	}
	if entry.Header == nil {
		entry.Header = http.Header{}
	}
	headerJSON, err := json.Marshal(entry.Header)
	if err != nil {
		return fmt.Errorf("encode cache header: %w", err)
	}
	body := entry.Body
	if body == nil {
		body = []byte{}
	}

	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO cache_entries (partition, cache_key, status_code, header_json, body, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(partition, cache_key) DO UPDATE SET
		    status_code = excluded.status_code,
		    header_json = excluded.header_json,
		    body = excluded.body,
		    stored_at = excluded.stored_at`,
		entry.Partition,
		entry.Key,
		entry.StatusCode,
		headerJSON,
		body,
		timeToUnixMillis(entry.StoredAt),
	)
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

// Delete removes one entry.
func (s *Store) Delete(ctx context.Context, partition, key string) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE partition = ? AND cache_key = ?`,
		strings.TrimSpace(partition),
		strings.TrimSpace(key),
	); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Keys lists the keys stored in partition in ascending order.
func (s *Store) Keys(ctx context.Context, partition string) ([]string, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	return s.queryStrings(ctx, "list cache keys",
		`SELECT cache_key FROM cache_entries WHERE partition = ? ORDER BY cache_key`,
		strings.TrimSpace(partition),
	)
}

// Partitions lists the partitions holding entries.
func (s *Store) Partitions(ctx context.Context) ([]string, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	return s.queryStrings(ctx, "list cache partitions",
		`SELECT DISTINCT partition FROM cache_entries ORDER BY partition`,
	)
}

// Clear removes every entry of partition.
func (s *Store) Clear(ctx context.Context, partition string) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE partition = ?`,
		strings.TrimSpace(partition),
	); err != nil {
		return fmt.Errorf("clear cache partition: %w", err)
	}
	return nil
}

func (s *Store) queryStrings(ctx context.Context, op, query string, args ...any) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	values := make([]string, 0)
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		values = append(values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return values, nil
}

func timeToUnixMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func unixMillisToTime(value int64) time.Time {
	if value <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

var _ cache.Store = (*Store)(nil)
