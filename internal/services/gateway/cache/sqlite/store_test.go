package sqlite

import (
	"context"
	"database/sql"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/gateway/cache"
)

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), ""); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenRunsMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer func() { _ = sqlDB.Close() }()

	var name string
	if err := sqlDB.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='cache_entries'`).Scan(&name); err != nil {
		t.Fatalf("expected cache_entries table: %v", err)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	storedAt := time.Date(2026, 10, 1, 6, 30, 0, 0, time.UTC)

	entry := cache.Entry{
		Partition:  "adonai-static-v1",
		Key:        "GET http://farm.local/static/app.js",
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/javascript"}},
		Body:       []byte("console.log(1)"),
		StoredAt:   storedAt,
	}
	if err := store.Put(ctx, entry); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, found, err := store.Get(ctx, entry.Partition, entry.Key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found {
		t.Fatal("expected entry")
	}
	if diff := cmp.Diff(entry, got); diff != "" {
		t.Fatalf("entry mismatch (-want +got):\n%s", diff)
	}

	entry.Body = []byte("console.log(2)")
	if err := store.Put(ctx, entry); err != nil {
		t.Fatalf("put overwrite: %v", err)
	}
	got, _, _ = store.Get(ctx, entry.Partition, entry.Key)
	if string(got.Body) != "console.log(2)" {
		t.Fatalf("body = %q, want overwrite", got.Body)
	}
}

func TestGetMissingEntry(t *testing.T) {
	store := openTempStore(t)
	_, found, err := store.Get(context.Background(), "p", "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatal("expected miss")
	}
}

func TestPutValidatesEntry(t *testing.T) {
	store := openTempStore(t)
	if err := store.Put(context.Background(), cache.Entry{Key: "k", StatusCode: 200}); err == nil {
		t.Fatal("expected partition error")
	}
}

func TestPartitionsAreIndependent(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	put(t, store, "adonai-images-v1", "GET http://farm.local/images/b.jpg")
	put(t, store, "adonai-images-v1", "GET http://farm.local/images/a.jpg")
	put(t, store, "adonai-api-v1", "GET http://farm.local/api/animals")

	keys, err := store.Keys(ctx, "adonai-images-v1")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	want := []string{"GET http://farm.local/images/a.jpg", "GET http://farm.local/images/b.jpg"}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}

	if err := store.Clear(ctx, "adonai-images-v1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	partitions, err := store.Partitions(ctx)
	if err != nil {
		t.Fatalf("partitions: %v", err)
	}
	if diff := cmp.Diff([]string{"adonai-api-v1"}, partitions); diff != "" {
		t.Fatalf("partitions mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteEntry(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	put(t, store, "p", "k")
	if err := store.Delete(ctx, "p", "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := store.Get(ctx, "p", "k"); found {
		t.Fatal("expected entry removed")
	}
}

func TestActivateRemovesOldVersions(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	current := cache.Partitions{Prefix: "adonai", Version: "v2"}
	put(t, store, "adonai-static-v1", "GET http://farm.local/static/app.js")
	put(t, store, "adonai-images-v1", "GET http://farm.local/images/a.jpg")
	put(t, store, current.Name(cache.KindStatic), "GET http://farm.local/static/app.js")

	removed, err := cache.Activate(ctx, store, current)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if diff := cmp.Diff([]string{"adonai-images-v1", "adonai-static-v1"}, removed); diff != "" {
		t.Fatalf("removed mismatch (-want +got):\n%s", diff)
	}
	partitions, _ := store.Partitions(ctx)
	if diff := cmp.Diff([]string{"adonai-static-v2"}, partitions); diff != "" {
		t.Fatalf("partitions mismatch (-want +got):\n%s", diff)
	}
}

func put(t *testing.T, store *Store, partition, key string) {
	t.Helper()
	if err := store.Put(context.Background(), cache.Entry{
		Partition:  partition,
		Key:        key,
		StatusCode: http.StatusOK,
		Body:       []byte(key),
	}); err != nil {
		t.Fatalf("put %s/%s: %v", partition, key, err)
	}
}

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}
