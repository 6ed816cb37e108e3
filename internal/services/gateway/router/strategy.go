package router

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/llakterian/Adonai-Farm-sub002/internal/services/gateway/cache"
)

const imageCacheControl = "public, max-age=86400"

// cacheFirst serves a stored copy without touching the network when one
// exists, and fills the partition otherwise.
func (rt *Router) cacheFirst(ctx context.Context, r *http.Request, d decision) *response {
	if entry, ok := rt.lookup(ctx, d.partition, d.key); ok {
		return fromEntry(entry, SourceCache)
	}
	live, err := rt.fetch(ctx, r, d.target)
	if err != nil {
		rt.logFetchFailure(d, err)
		return rt.offlineFallback(r, d)
	}
	if storable(r, live) {
		rt.save(ctx, d.partition, d.key, live)
	}
	return live
}

// networkFirst always prefers live content and falls back to the stored
// copy, then the app shell for navigations, then the offline fallback.
func (rt *Router) networkFirst(ctx context.Context, r *http.Request, d decision) *response {
	live, err := rt.fetch(ctx, r, d.target)
	if err == nil {
		if storable(r, live) {
			rt.save(ctx, d.partition, d.key, live)
		}
		return live
	}
	rt.logFetchFailure(d, err)

	if entry, ok := rt.lookup(ctx, d.partition, d.key); ok {
		return fromEntry(entry, SourceCache)
	}
	if d.crossOrigin {
		return unavailable()
	}
	if d.request == requestHTML {
		if shell, ok := rt.appShell(ctx); ok {
			return shell
		}
	}
	return rt.offlineFallback(r, d)
}

// imageFirst serves fresh stored images without a fetch, refreshes stale
// ones, and degrades through similar, hero and placeholder images offline.
func (rt *Router) imageFirst(ctx context.Context, r *http.Request, d decision) *response {
	entry, found := rt.lookup(ctx, d.partition, d.key)
	if found && rt.now().Sub(entry.Date()) < rt.imageMaxAge {
		return fromEntry(entry, SourceCache)
	}

	live, err := rt.fetch(ctx, r, d.target)
	if err == nil {
		if cacheable(live.status) {
			if storable(r, live) {
				live.header.Set("Cache-Control", imageCacheControl)
				live.header.Set(cache.CachedDateHeader, rt.now().UTC().Format(http.TimeFormat))
				rt.save(ctx, d.partition, d.key, live)
			}
			return live
		}
		if found {
			live.close()
			return fromEntry(entry, SourceStale)
		}
		return live
	}
	rt.logFetchFailure(d, err)

	if found {
		return fromEntry(entry, SourceStale)
	}
	if similar, ok := rt.similarImage(ctx, d); ok {
		return similar
	}
	if hero, ok := rt.heroImage(ctx); ok {
		return hero
	}
	return placeholderImage()
}

// passthrough forwards non-GET requests to the origin without caching.
func (rt *Router) passthrough(ctx context.Context, r *http.Request, d decision) *response {
	live, err := rt.fetch(ctx, r, d.target)
	if err != nil {
		rt.logFetchFailure(d, err)
		return jsonResponse(http.StatusBadGateway, SourceOffline, `{"error":"origin unreachable","offline":true}`)
	}
	return live
}

func (rt *Router) logFetchFailure(d decision, err error) {
	rt.logger.Warn("upstream fetch failed",
		zap.String("strategy", string(d.strategy)),
		zap.String("partition", d.partition),
		zap.String("target", d.target.Redacted()),
		zap.Error(err),
	)
}

func fromEntry(entry cache.Entry, source Source) *response {
	header := entry.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	stripCookies(header)
	return &response{
		status: entry.StatusCode,
		header: header,
		body:   entry.Body,
		source: source,
	}
}
