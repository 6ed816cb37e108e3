// Package redis stores cache partitions in Redis, for gateways that share
// one cache across several machines on the farm network.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/llakterian/Adonai-Farm-sub002/internal/services/gateway/cache"
)

// Config selects the Redis server and key namespace.
type Config struct {
	Addr      string
	DB        int
	Password  string
	Namespace string
}

// Store keeps each entry in a hash, with one key-set per partition and a
// set of known partitions.
type Store struct {
	rdb       goredis.UniversalClient
	namespace string
	now       func() time.Time
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Password: cfg.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(rdb, cfg.Namespace), nil
}

// New wraps an existing client.
func New(rdb goredis.UniversalClient, namespace string) *Store {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = "adonai:cache"
	}
	return &Store{rdb: rdb, namespace: namespace, now: time.Now}
}

// Close releases the client.
func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *Store) partitionsKey() string { return s.namespace + ":partitions" }

func (s *Store) keysKey(partition string) string { return s.namespace + ":keys:" + partition }

func (s *Store) entryKey(partition, key string) string {
	return s.namespace + ":entry:" + partition + ":" + key
}

// Get loads one entry.
func (s *Store) Get(ctx context.Context, partition, key string) (cache.Entry, bool, error) {
	fields, err := s.rdb.HGetAll(ctx, s.entryKey(partition, key)).Result()
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("get cache entry: %w", err)
	}
	if len(fields) == 0 {
		return cache.Entry{}, false, nil
	}

	status, err := strconv.Atoi(fields["status"])
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("decode cache status: %w", err)
	}
	storedAt, err := strconv.ParseInt(fields["stored_at"], 10, 64)
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("decode cache stored_at: %w", err)
	}
	header := http.Header{}
	if raw := fields["header"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &header); err != nil {
			return cache.Entry{}, false, fmt.Errorf("decode cache header: %w", err)
		}
	}
	entry := cache.Entry{
		Partition:  partition,
		Key:        key,
		StatusCode: status,
		Header:     header,
		Body:       []byte(fields["body"]),
	}
	if storedAt > 0 {
		entry.StoredAt = time.UnixMilli(storedAt).UTC()
	}
	return entry, true, nil
}

// Put stores one entry and indexes it under its partition.
func (s *Store) Put(ctx context.Context, entry cache.Entry) error {
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

	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, s.entryKey(entry.Partition, entry.Key), map[string]any{
			"status":    entry.StatusCode,
			"header":    string(headerJSON),
			"body":      entry.Body,
			"stored_at": entry.StoredAt.UTC().UnixMilli(),
		})
		pipe.SAdd(ctx, s.keysKey(entry.Partition), entry.Key)
		pipe.SAdd(ctx, s.partitionsKey(), entry.Partition)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

// Delete removes one entry.
func (s *Store) Delete(ctx context.Context, partition, key string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.entryKey(partition, key))
		pipe.SRem(ctx, s.keysKey(partition), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Keys lists the keys of partition in ascending order.
func (s *Store) Keys(ctx context.Context, partition string) ([]string, error) {
	keys, err := s.rdb.SMembers(ctx, s.keysKey(partition)).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("list cache keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Partitions lists known partitions in ascending order.
func (s *Store) Partitions(ctx context.Context) ([]string, error) {
	partitions, err := s.rdb.SMembers(ctx, s.partitionsKey()).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("list cache partitions: %w", err)
	}
	sort.Strings(partitions)
	return partitions, nil
}

// Clear removes every entry of partition and forgets the partition.
func (s *Store) Clear(ctx context.Context, partition string) error {
	keys, err := s.Keys(ctx, partition)
	if err != nil {
		return err
	}
	doomed := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		doomed = append(doomed, s.entryKey(partition, key))
	}
	doomed = append(doomed, s.keysKey(partition))

	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, doomed...)
		pipe.SRem(ctx, s.partitionsKey(), partition)
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear cache partition: %w", err)
	}
	return nil
}

var _ cache.Store = (*Store)(nil)
