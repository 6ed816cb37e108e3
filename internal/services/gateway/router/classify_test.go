package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/llakterian/Adonai-Farm-sub002/internal/services/gateway/cache"
)

func TestClassify(t *testing.T) {
	origin, _ := url.Parse("http://farm.test/app/")
	rt, err := New(Config{Origin: origin, Store: nopStore{}, Partitions: cache.Partitions{Version: "v2"}})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	tests := []struct {
		name      string
		method    string
		target    string
		accept    string
		dest      string
		strategy  Strategy
		partition string
		key       string
	}{
		{name: "navigation", method: http.MethodGet, target: "/animals", accept: "text/html", strategy: StrategyNetworkFirst, partition: "adonai-dynamic-v2", key: "GET http://farm.test/app/animals"},
		{name: "navigation to image path", method: http.MethodGet, target: "/images/", accept: "text/html,*/*", strategy: StrategyNetworkFirst, partition: "adonai-dynamic-v2"},
		{name: "farm image by extension", method: http.MethodGet, target: "/uploads/cow.JPG", strategy: StrategyImageFirst, partition: "adonai-images-v2"},
		{name: "farm image by fetch dest", method: http.MethodGet, target: "/photos/raw?id=3", dest: "image", strategy: StrategyImageFirst, partition: "adonai-images-v2", key: "GET http://farm.test/app/photos/raw?id=3"},
		{name: "image outside farm prefixes", method: http.MethodGet, target: "/static/logo.png", strategy: StrategyCacheFirst, partition: "adonai-static-v2"},
		{name: "static by extension", method: http.MethodGet, target: "/bundle.css", strategy: StrategyCacheFirst, partition: "adonai-static-v2"},
		{name: "api", method: http.MethodGet, target: "/api/workers?page=2", strategy: StrategyNetworkFirst, partition: "adonai-api-v2"},
		{name: "other", method: http.MethodGet, target: "/manifest.json", strategy: StrategyNetworkFirst, partition: "adonai-dynamic-v2"},
		{name: "cross origin", method: http.MethodGet, target: "https://cdn.example.com/lib.js", strategy: StrategyNetworkFirst, partition: "adonai-dynamic-v2", key: "GET https://cdn.example.com/lib.js"},
		{name: "post", method: http.MethodPost, target: "/api/animals", strategy: StrategyPassthrough},
		{name: "head", method: http.MethodHead, target: "/static/app.js", strategy: StrategyPassthrough},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.target, nil)
			if tc.accept != "" {
				req.Header.Set("Accept", tc.accept)
			}
			if tc.dest != "" {
				req.Header.Set("Sec-Fetch-Dest", tc.dest)
			}
			d := rt.classify(req)
			if d.strategy != tc.strategy {
				t.Fatalf("strategy = %q, want %q", d.strategy, tc.strategy)
			}
			if d.partition != tc.partition {
				t.Fatalf("partition = %q, want %q", d.partition, tc.partition)
			}
			if tc.key != "" && d.key != tc.key {
				t.Fatalf("key = %q, want %q", d.key, tc.key)
			}
		})
	}
}

func TestCacheable(t *testing.T) {
	for status, want := range map[int]bool{
		http.StatusOK:                  true,
		http.StatusNoContent:           true,
		http.StatusPartialContent:      false,
		http.StatusNotModified:         false,
		http.StatusNotFound:            false,
		http.StatusInternalServerError: false,
	} {
		if got := cacheable(status); got != want {
			t.Fatalf("cacheable(%d) = %v, want %v", status, got, want)
		}
	}
}

func TestIsHopByHop(t *testing.T) {
	if !isHopByHop("transfer-encoding") || !isHopByHop("TE") {
		t.Fatal("expected hop-by-hop headers to match case-insensitively")
	}
	if isHopByHop("Content-Type") {
		t.Fatal("content type is end-to-end")
	}
}

type nopStore struct{}

func (nopStore) Get(context.Context, string, string) (cache.Entry, bool, error) {
	return cache.Entry{}, false, nil
}

func (nopStore) Put(context.Context, cache.Entry) error { return nil }

func (nopStore) Delete(context.Context, string, string) error { return nil }

func (nopStore) Keys(context.Context, string) ([]string, error) { return nil, nil }

func (nopStore) Partitions(context.Context) ([]string, error) { return nil, nil }

func (nopStore) Clear(context.Context, string) error { return nil }

func (nopStore) Close() error { return nil }
