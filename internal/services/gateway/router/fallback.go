package router

import (
	"context"
	"net/http"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/llakterian/Adonai-Farm-sub002/internal/services/gateway/cache"
)

// PlaceholderSVG is served when no image can be found at all.
const PlaceholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="400" height="300" viewBox="0 0 400 300">` +
	`<rect width="400" height="300" fill="#f0f0f0"/>` +
	`<text x="200" y="150" font-family="Arial, sans-serif" font-size="16" fill="#999999" text-anchor="middle" dominant-baseline="middle">Image Not Available</text>` +
	`</svg>`

const offlineJSON = `{"error":"offline","offline":true}`

// offlineFallback produces the deterministic response for a request that
// could neither be fetched nor found in its partition.
func (rt *Router) offlineFallback(r *http.Request, d decision) *response {
	switch d.request {
	case requestHTML:
		header := http.Header{}
		header.Set("Content-Type", "text/html; charset=utf-8")
		header.Set("Cache-Control", "no-store")
		return &response{
			status: http.StatusServiceUnavailable,
			header: header,
			body:   rt.offlinePage(r),
			source: SourceOffline,
		}
	case requestImage:
		return placeholderImage()
	case requestAPI:
		return jsonResponse(http.StatusServiceUnavailable, SourceOffline, offlineJSON)
	default:
		return unavailable()
	}
}

// appShell returns the first stored app shell page.
func (rt *Router) appShell(ctx context.Context) (*response, bool) {
	partitions := []string{rt.partitions.Name(cache.KindDynamic), rt.partitions.Name(cache.KindStatic)}
	for _, p := range rt.shellPaths {
		key := cache.Key(http.MethodGet, rt.originURL(p))
		for _, partition := range partitions {
			if entry, ok := rt.lookup(ctx, partition, key); ok {
				return fromEntry(entry, SourceShell), true
			}
		}
	}
	return nil, false
}

// similarImage returns the first stored image, in key order, whose file
// name belongs to the same prefix family as the requested one.
func (rt *Router) similarImage(ctx context.Context, d decision) (*response, bool) {
	family := rt.imageFamily(d.target.Path)
	if family == "" {
		return nil, false
	}
	keys, err := rt.store.Keys(ctx, d.partition)
	if err != nil {
		rt.logger.Warn("list image keys failed", zap.String("partition", d.partition), zap.Error(err))
		return nil, false
	}
	for _, key := range keys {
		if key == d.key {
			continue
		}
		candidate, err := cache.KeyURL(key)
		if err != nil || rt.imageFamily(candidate.Path) != family {
			continue
		}
		if entry, ok := rt.lookup(ctx, d.partition, key); ok {
			return fromEntry(entry, SourceSimilar), true
		}
	}
	return nil, false
}

// heroImage returns the first configured hero image that is stored.
func (rt *Router) heroImage(ctx context.Context) (*response, bool) {
	partitions := []string{rt.partitions.Name(cache.KindImages), rt.partitions.Name(cache.KindStatic)}
	for _, p := range rt.heroImages {
		key := cache.Key(http.MethodGet, rt.originURL(p))
		for _, partition := range partitions {
			if entry, ok := rt.lookup(ctx, partition, key); ok {
				return fromEntry(entry, SourceHero), true
			}
		}
	}
	return nil, false
}

func (rt *Router) imageFamily(p string) string {
	name := strings.ToLower(path.Base(p))
	for _, family := range rt.families {
		if strings.HasPrefix(name, family) {
			return family
		}
	}
	return ""
}

func placeholderImage() *response {
	header := http.Header{}
	header.Set("Content-Type", "image/svg+xml")
	header.Set("Cache-Control", "no-store")
	return &response{
		status: http.StatusOK,
		header: header,
		body:   []byte(PlaceholderSVG),
		source: SourcePlaceholder,
	}
}

func unavailable() *response {
	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Cache-Control", "no-store")
	return &response{
		status: http.StatusServiceUnavailable,
		header: header,
		body:   []byte("Service Unavailable"),
		source: SourceOffline,
	}
}

func jsonResponse(status int, source Source, body string) *response {
	header := http.Header{}
	header.Set("Content-Type", "application/json; charset=utf-8")
	header.Set("Cache-Control", "no-store")
	return &response{
		status: status,
		header: header,
		body:   []byte(body),
		source: source,
	}
}

func defaultOfflinePage(*http.Request) []byte {
	return []byte(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>Offline</title></head>` +
		`<body><h1>You are offline</h1><p>Changes are saved and will sync when the connection returns.</p></body></html>`)
}
