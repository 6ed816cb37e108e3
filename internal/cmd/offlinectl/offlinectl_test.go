package offlinectl

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"gopkg.in/yaml.v3"

	platformgrpc "github.com/llakterian/Adonai-Farm-sub002/internal/platform/grpc"
	"github.com/llakterian/Adonai-Farm-sub002/internal/platform/logging"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/gateway/cache"
	cachesqlite "github.com/llakterian/Adonai-Farm-sub002/internal/services/gateway/cache/sqlite"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/sync/domain"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/sync/storage"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		SyncDBPath:   filepath.Join(dir, "sync.db"),
		CacheDBPath:  filepath.Join(dir, "cache.db"),
		CachePrefix:  "adonai",
		CacheVersion: "v2",
		MaxRetries:   3,
		Output:       FormatJSON,
		Log:          logging.Config{Level: "error"},
	}
}

func run(t *testing.T, cfg Config, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(cfg)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, cfg Config, args ...string) string {
	t.Helper()
	out, err := run(t, cfg, args...)
	if err != nil {
		t.Fatalf("offlinectl %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestQueueEnqueueListDrainAndMirror(t *testing.T) {
	cfg := testConfig(t)

	var queued domain.QueuedAction
	if err := json.Unmarshal([]byte(mustRun(t, cfg, "queue", "enqueue", "add_animal", `{"id":"a-1","name":"Daisy"}`)), &queued); err != nil {
		t.Fatalf("decode queued: %v", err)
	}
	if queued.Action != domain.ActionAddAnimal || queued.ID == "" {
		t.Fatalf("queued = %+v", queued)
	}

	var pending []domain.QueuedAction
	if err := json.Unmarshal([]byte(mustRun(t, cfg, "queue", "list")), &pending); err != nil {
		t.Fatalf("decode pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != queued.ID {
		t.Fatalf("pending = %+v", pending)
	}

	var result map[string]int
	if err := json.Unmarshal([]byte(mustRun(t, cfg, "queue", "drain")), &result); err != nil {
		t.Fatalf("decode drain: %v", err)
	}
	want := map[string]int{"applied": 1, "retried": 0, "dropped": 0, "remaining": 0}
	if diff := cmp.Diff(want, result); diff != "" {
		t.Fatalf("drain mismatch (-want +got):\n%s", diff)
	}

	var records []map[string]any
	if err := json.Unmarshal([]byte(mustRun(t, cfg, "mirror", "show", "animals")), &records); err != nil {
		t.Fatalf("decode mirror: %v", err)
	}
	if diff := cmp.Diff([]map[string]any{{"id": "a-1", "name": "Daisy"}}, records); diff != "" {
		t.Fatalf("mirror mismatch (-want +got):\n%s", diff)
	}

	var attempts []storage.AttemptRecord
	if err := json.Unmarshal([]byte(mustRun(t, cfg, "attempts", "--limit", "5")), &attempts); err != nil {
		t.Fatalf("decode attempts: %v", err)
	}
	if len(attempts) != 1 || attempts[0].ActionID != queued.ID || attempts[0].Outcome != storage.OutcomeApplied {
		t.Fatalf("attempts = %+v", attempts)
	}
}

func TestQueueListYAML(t *testing.T) {
	cfg := testConfig(t)
	mustRun(t, cfg, "queue", "enqueue", "add_worker", `{"id":7,"name":"Wanjiru"}`)

	out := mustRun(t, cfg, "-o", "yaml", "queue", "list")
	var pending []map[string]any
	if err := yaml.Unmarshal([]byte(out), &pending); err != nil {
		t.Fatalf("decode yaml %q: %v", out, err)
	}
	if len(pending) != 1 || pending[0]["action"] != "add_worker" {
		t.Fatalf("pending = %+v", pending)
	}
	payload, ok := pending[0]["payload"].(map[string]any)
	if !ok || payload["name"] != "Wanjiru" || payload["id"] != 7 {
		t.Fatalf("payload = %#v", pending[0]["payload"])
	}
}

func TestQueueEnqueueRejectsInvalidInput(t *testing.T) {
	cfg := testConfig(t)
	cases := [][]string{
		{"queue", "enqueue", "sell_farm", `{"id":"x"}`},
		{"queue", "enqueue", "add_animal", `{"name":"no id"}`},
		{"queue", "enqueue", "add_animal", `not json`},
		{"queue", "enqueue", "add_animal"},
		{"mirror", "show", "tractors"},
		{"-o", "xml", "queue", "list"},
	}
	for _, args := range cases {
		if _, err := run(t, cfg, args...); err == nil {
			t.Fatalf("offlinectl %s: expected error", strings.Join(args, " "))
		}
	}
}

func TestCachePartitionsAndClear(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	store, err := cachesqlite.Open(ctx, cfg.CacheDBPath)
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	for _, partition := range []string{"adonai-images-v2", "adonai-images-v1"} {
		if err := store.Put(ctx, cache.Entry{
			Partition:  partition,
			Key:        "GET http://farm.test/images/farm-1.jpg",
			StatusCode: http.StatusOK,
			Header:     http.Header{},
			Body:       []byte("jpg"),
			StoredAt:   time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC),
		}); err != nil {
			t.Fatalf("seed %s: %v", partition, err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close cache: %v", err)
	}

	var summaries []cache.PartitionSummary
	if err := json.Unmarshal([]byte(mustRun(t, cfg, "cache", "partitions")), &summaries); err != nil {
		t.Fatalf("decode partitions: %v", err)
	}
	want := []cache.PartitionSummary{
		{Name: "adonai-api-v2", Current: true},
		{Name: "adonai-dynamic-v2", Current: true},
		{Name: "adonai-images-v1", Keys: 1},
		{Name: "adonai-images-v2", Current: true, Keys: 1},
		{Name: "adonai-static-v2", Current: true},
	}
	if diff := cmp.Diff(want, summaries); diff != "" {
		t.Fatalf("partitions mismatch (-want +got):\n%s", diff)
	}

	mustRun(t, cfg, "cache", "clear", "adonai-images-v1")
	out := mustRun(t, cfg, "cache", "clear", "images")
	if !strings.Contains(out, "adonai-images-v2") {
		t.Fatalf("clear output = %q", out)
	}
	if err := json.Unmarshal([]byte(mustRun(t, cfg, "cache", "partitions")), &summaries); err != nil {
		t.Fatalf("decode partitions: %v", err)
	}
	for _, summary := range summaries {
		if summary.Keys != 0 || !summary.Current {
			t.Fatalf("partition after clear = %+v", summary)
		}
	}
}

func TestHealthReportsUpstreamStatus(t *testing.T) {
	grpcServer, healthServer := platformgrpc.NewHealthServer()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = grpcServer.Serve(listener) }()
	defer grpcServer.Stop()

	cfg := testConfig(t)
	cfg.HealthAddr = listener.Addr().String()

	healthServer.SetServingStatus("gateway.upstream", grpc_health_v1.HealthCheckResponse_SERVING)
	out := mustRun(t, cfg, "health", "--wait", "5s")
	if !strings.Contains(out, "SERVING") {
		t.Fatalf("health output = %q", out)
	}

	healthServer.SetServingStatus("gateway.upstream", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	out, err = run(t, cfg, "health")
	if err == nil {
		t.Fatal("expected NOT_SERVING error")
	}
	if !strings.Contains(out, "NOT_SERVING") {
		t.Fatalf("health output = %q", out)
	}
}

func TestWriteOutputRejectsUnknownFormat(t *testing.T) {
	var out bytes.Buffer
	if err := writeOutput(&out, "toml", map[string]int{"a": 1}); err == nil {
		t.Fatal("expected unknown format error")
	}
}
