// Package router selects and runs one caching strategy for every request
// the offline gateway intercepts.
//
// GET requests are classified (HTML navigation, farm image, static asset,
// API, other) and served cache-first, network-first or image-first against
// the matching cache partition. Every strategy ends in a response: network
// and storage failures degrade to cached copies or synthesized fallbacks.
// Other methods are forwarded to the origin untouched.
package router

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/llakterian/Adonai-Farm-sub002/internal/platform/logging"
	"github.com/llakterian/Adonai-Farm-sub002/internal/platform/timeouts"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/gateway/cache"
)

const tracerName = "github.com/llakterian/Adonai-Farm-sub002/internal/services/gateway/router"

// Diagnostic response headers.
const (
	StrategyHeader = "X-Offline-Strategy"
	SourceHeader   = "X-Offline-Source"
)

// Strategy names the caching strategy that served a request.
type Strategy string

const (
	StrategyCacheFirst   Strategy = "cache-first"
	StrategyNetworkFirst Strategy = "network-first"
	StrategyImageFirst   Strategy = "image-first"
	StrategyPassthrough  Strategy = "passthrough"
)

// Source names where a response body came from.
type Source string

const (
	SourceNetwork     Source = "network"
	SourceCache       Source = "cache"
	SourceStale       Source = "stale"
	SourceShell       Source = "shell"
	SourceSimilar     Source = "similar"
	SourceHero        Source = "hero"
	SourcePlaceholder Source = "placeholder"
	SourceOffline     Source = "offline"
)

// Defaults applied by New when a Config field is empty.
const (
	DefaultImageMaxAge   = 24 * time.Hour
	DefaultMaxCacheBytes = 16 << 20
)

var (
	defaultStaticPrefixes   = []string{"/static/", "/assets/"}
	defaultStaticExtensions = []string{".js", ".css", ".woff", ".woff2"}
	defaultImagePrefixes    = []string{"/images/", "/uploads/", "/photos/"}
	defaultAppShellPaths    = []string{"/", "/index.html"}
	defaultImageFamilies    = []string{"adonai", "farm-"}
	defaultHeroImages       = []string{"/images/hero-farm.jpg", "/images/adonai-hero.jpg", "/images/farm-landscape.jpg"}
)

// Config wires the router to its origin, storage and collaborators.
type Config struct {
	// Origin is the farm web app the gateway fronts.
	Origin     *url.URL
	Partitions cache.Partitions
	Store      cache.Store
	// Client performs upstream fetches. Its Timeout is ignored in favour of
	// FetchTimeout so hung requests always end in a fallback.
	Client       *http.Client
	FetchTimeout time.Duration
	// ImageMaxAge is the freshness window of the image partition.
	ImageMaxAge time.Duration
	// MaxCacheBytes bounds the body size stored per entry.
	MaxCacheBytes    int64
	StaticPrefixes   []string
	StaticExtensions []string
	ImagePrefixes    []string
	APIPrefix        string
	AppShellPaths    []string
	// ImageFamilies are filename prefixes that make cached images
	// interchangeable when the requested one is unavailable.
	ImageFamilies []string
	HeroImages    []string
	// OfflinePage renders the HTML served when navigation fails with
	// nothing cached.
	OfflinePage    func(*http.Request) []byte
	Logger         *zap.Logger
	TracerProvider trace.TracerProvider
	Now            func() time.Time
}

// Router is an http.Handler implementing the offline caching strategies.
type Router struct {
	origin        *url.URL
	partitions    cache.Partitions
	store         cache.Store
	client        *http.Client
	fetchTimeout  time.Duration
	imageMaxAge   time.Duration
	maxCacheBytes int64
	rules         rules
	shellPaths    []string
	families      []string
	heroImages    []string
	offlinePage   func(*http.Request) []byte
	logger        *zap.Logger
	tracer        trace.Tracer
	now           func() time.Time
}

// New validates cfg and builds a Router.
func New(cfg Config) (*Router, error) {
	if cfg.Origin == nil || cfg.Origin.Host == "" {
		return nil, errors.New("origin url is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("cache store is required")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	offlinePage := cfg.OfflinePage
	if offlinePage == nil {
		offlinePage = defaultOfflinePage
	}
	origin := *cfg.Origin
	origin.Path = strings.TrimRight(origin.Path, "/")
	origin.RawPath = ""
	origin.RawQuery = ""
	origin.Fragment = ""

	return &Router{
		origin:        &origin,
		partitions:    cfg.Partitions,
		store:         cfg.Store,
		client:        client,
		fetchTimeout:  durationOr(cfg.FetchTimeout, timeouts.Fetch),
		imageMaxAge:   durationOr(cfg.ImageMaxAge, DefaultImageMaxAge),
		maxCacheBytes: int64Or(cfg.MaxCacheBytes, DefaultMaxCacheBytes),
		rules: rules{
			staticPrefixes:   listOr(cfg.StaticPrefixes, defaultStaticPrefixes),
			staticExtensions: lowerAll(listOr(cfg.StaticExtensions, defaultStaticExtensions)),
			imagePrefixes:    listOr(cfg.ImagePrefixes, defaultImagePrefixes),
			apiPrefix:        stringOr(cfg.APIPrefix, "/api/"),
		},
		shellPaths:  listOr(cfg.AppShellPaths, defaultAppShellPaths),
		families:    lowerAll(listOr(cfg.ImageFamilies, defaultImageFamilies)),
		heroImages:  listOr(cfg.HeroImages, defaultHeroImages),
		offlinePage: offlinePage,
		logger:      logging.OrNop(cfg.Logger),
		tracer:      tp.Tracer(tracerName),
		now:         now,
	}, nil
}

// ServeHTTP routes r through exactly one strategy and writes its response.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rd := rt.classify(r)

	ctx, span := rt.tracer.Start(r.Context(), "offline."+string(rd.strategy),
		trace.WithAttributes(
			attribute.String("offline.strategy", string(rd.strategy)),
			attribute.String("offline.partition", rd.partition),
			attribute.Bool("offline.cross_origin", rd.crossOrigin),
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", r.URL.Path),
		),
	)
	defer span.End()

	var resp *response
	switch rd.strategy {
	case StrategyPassthrough:
		resp = rt.passthrough(ctx, r, rd)
	case StrategyCacheFirst:
		resp = rt.cacheFirst(ctx, r, rd)
	case StrategyImageFirst:
		resp = rt.imageFirst(ctx, r, rd)
	default:
		resp = rt.networkFirst(ctx, r, rd)
	}

	span.SetAttributes(
		attribute.String("offline.source", string(resp.source)),
		attribute.Int("http.response.status_code", resp.status),
	)
	rt.logger.Debug("served request",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("strategy", string(rd.strategy)),
		zap.String("source", string(resp.source)),
		zap.Int("status", resp.status),
	)
	writeResponse(w, r, rd.strategy, resp)
}

func writeResponse(w http.ResponseWriter, r *http.Request, strategy Strategy, resp *response) {
	defer resp.close()
	header := w.Header()
	for name, values := range resp.header {
		if isHopByHop(name) {
			continue
		}
		header[name] = append([]string(nil), values...)
	}
	if r.Method != http.MethodHead && resp.rest == nil {
		header.Set("Content-Length", strconv.Itoa(len(resp.body)))
	}
	header.Set(StrategyHeader, string(strategy))
	header.Set(SourceHeader, string(resp.source))
	w.WriteHeader(resp.status)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(resp.body); err != nil || resp.rest == nil {
		return
	}
	_, _ = io.Copy(w, resp.rest)
}

func (rt *Router) lookup(ctx context.Context, partition, key string) (cache.Entry, bool) {
	entry, found, err := rt.store.Get(ctx, partition, key)
	if err != nil {
		rt.logger.Warn("cache lookup failed",
			zap.String("partition", partition),
			zap.String("key", key),
			zap.Error(err),
		)
		return cache.Entry{}, false
	}
	return entry, found
}

func (rt *Router) save(ctx context.Context, partition, key string, resp *response) {
	if resp.rest != nil || int64(len(resp.body)) > rt.maxCacheBytes {
		rt.logger.Debug("response too large to cache", zap.String("key", key))
		return
	}
	header := resp.header.Clone()
	stripCookies(header)
	entry := cache.Entry{
		Partition:  partition,
		Key:        key,
		StatusCode: resp.status,
		Header:     header,
		Body:       append([]byte(nil), resp.body...),
		StoredAt:   rt.now().UTC(),
	}
	if err := rt.store.Put(context.WithoutCancel(ctx), entry); err != nil {
		rt.logger.Error("cache write failed",
			zap.String("partition", partition),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}

func int64Or(value, fallback int64) int64 {
	if value > 0 {
		return value
	}
	return fallback
}

func stringOr(value, fallback string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return fallback
}

func listOr(values, fallback []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), fallback...)
	}
	return out
}

func lowerAll(values []string) []string {
	out := make([]string, len(values))
	for i, value := range values {
		out[i] = strings.ToLower(value)
	}
	return out
}
