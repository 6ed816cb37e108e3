// Package app assembles the offline gateway: storage, the strategy router,
// the action queue, the connectivity monitor and the servers around them.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	platformgrpc "github.com/llakterian/Adonai-Farm-sub002/internal/platform/grpc"
	"github.com/llakterian/Adonai-Farm-sub002/internal/platform/logging"
	"github.com/llakterian/Adonai-Farm-sub002/internal/platform/timeouts"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/gateway/cache"
	cacheredis "github.com/llakterian/Adonai-Farm-sub002/internal/services/gateway/cache/redis"
	cachesqlite "github.com/llakterian/Adonai-Farm-sub002/internal/services/gateway/cache/sqlite"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/gateway/offlinepage"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/gateway/router"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/sync/connectivity"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/sync/mirror"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/sync/queue"
	syncsqlite "github.com/llakterian/Adonai-Farm-sub002/internal/services/sync/storage/sqlite"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/sync/upstream"
)

// UpstreamHealthService is the gRPC health service name that follows the
// connectivity monitor.
const UpstreamHealthService = "gateway.upstream"

// Cache backends.
const (
	CacheBackendSQLite = "sqlite"
	CacheBackendRedis  = "redis"
)

const (
	defaultHTTPAddr    = ":8080"
	defaultHealthAddr  = ":8081"
	defaultCacheDB     = "data/gateway-cache.db"
	defaultSyncDB      = "data/gateway-sync.db"
	defaultCachePrefix = "adonai"
	defaultCacheVer    = "v1"
)

// RuntimeConfig controls gateway startup and dependencies.
type RuntimeConfig struct {
	HTTPAddr   string
	HealthAddr string
	OriginURL  string

	CacheBackend string
	CacheDBPath  string
	Redis        cacheredis.Config
	CachePrefix  string
	CacheVersion string

	SyncDBPath string
	// ReplayUpstream sends drained actions to the origin API before they
	// are merged into the local mirror.
	ReplayUpstream bool
	MaxRetries     int
	// S3 is used for inline photo uploads during upstream replay. An empty
	// endpoint disables uploads.
	S3 upstream.S3Config

	FetchTimeout  time.Duration
	ImageMaxAge   time.Duration
	MaxCacheBytes int64
	APIPrefix     string
	HealthPath    string
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration

	Logger *zap.Logger
}

func (cfg RuntimeConfig) normalized() RuntimeConfig {
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		cfg.HTTPAddr = defaultHTTPAddr
	}
	if strings.TrimSpace(cfg.HealthAddr) == "" {
		cfg.HealthAddr = defaultHealthAddr
	}
	cfg.CacheBackend = strings.ToLower(strings.TrimSpace(cfg.CacheBackend))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = CacheBackendSQLite
	}
	if strings.TrimSpace(cfg.CacheDBPath) == "" {
		cfg.CacheDBPath = defaultCacheDB
	}
	if strings.TrimSpace(cfg.SyncDBPath) == "" {
		cfg.SyncDBPath = defaultSyncDB
	}
	if strings.TrimSpace(cfg.CachePrefix) == "" {
		cfg.CachePrefix = defaultCachePrefix
	}
	if strings.TrimSpace(cfg.CacheVersion) == "" {
		cfg.CacheVersion = defaultCacheVer
	}
	return cfg
}

// Runtime owns the gateway's stores, listeners and servers.
type Runtime struct {
	logger *zap.Logger

	cacheStore cache.Store
	syncStore  *syncsqlite.Store
	queue      *queue.Queue
	monitor    *connectivity.Monitor

	httpListener   net.Listener
	healthListener net.Listener
	httpServer     *http.Server
	grpcServer     *gogrpc.Server
	healthServer   *health.Server
}

// New opens storage, activates the current cache partitions and binds both
// listeners. Call Serve to start handling traffic and Close to release
// everything.
func New(ctx context.Context, cfg RuntimeConfig) (_ *Runtime, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.normalized()
	origin, err := parseOrigin(cfg.OriginURL)
	if err != nil {
		return nil, err
	}
	logger := logging.OrNop(cfg.Logger)
	rt := &Runtime{logger: logger}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	rt.cacheStore, err = openCacheStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	partitions := cache.Partitions{Prefix: cfg.CachePrefix, Version: cfg.CacheVersion}
	removed, err := cache.Activate(ctx, rt.cacheStore, partitions)
	if err != nil {
		return nil, fmt.Errorf("activate cache partitions: %w", err)
	}
	if len(removed) > 0 {
		logger.Info("removed stale cache partitions", zap.Strings("partitions", removed))
	}

	rt.syncStore, err = syncsqlite.Open(ctx, cfg.SyncDBPath)
	if err != nil {
		return nil, fmt.Errorf("open sync sqlite store: %w", err)
	}

	localMirror := mirror.New(rt.syncStore, logger.Named("mirror"))
	applier, err := buildApplier(cfg, origin, localMirror, logger)
	if err != nil {
		return nil, err
	}
	rt.queue, err = queue.New(ctx, queue.Config{
		Store:      rt.syncStore,
		Applier:    applier,
		Attempts:   rt.syncStore,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger.Named("queue"),
	})
	if err != nil {
		return nil, fmt.Errorf("load offline queue: %w", err)
	}

	rt.monitor, err = connectivity.New(connectivity.Config{
		Origin:     origin,
		HealthPath: cfg.HealthPath,
		Interval:   cfg.ProbeInterval,
		Timeout:    cfg.ProbeTimeout,
		Logger:     logger.Named("connectivity"),
	})
	if err != nil {
		return nil, fmt.Errorf("build connectivity monitor: %w", err)
	}

	page, err := offlinepage.New(func(context.Context) int { return rt.queue.Len() }, logger)
	if err != nil {
		return nil, fmt.Errorf("build offline page: %w", err)
	}
	proxy, err := router.New(router.Config{
		Origin:        origin,
		Partitions:    partitions,
		Store:         rt.cacheStore,
		FetchTimeout:  cfg.FetchTimeout,
		ImageMaxAge:   cfg.ImageMaxAge,
		MaxCacheBytes: cfg.MaxCacheBytes,
		APIPrefix:     cfg.APIPrefix,
		OfflinePage:   page.Render,
		Logger:        logger.Named("router"),
	})
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}

	rt.grpcServer, rt.healthServer = platformgrpc.NewHealthServer()
	rt.healthServer.SetServingStatus(UpstreamHealthService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	rt.monitor.OnChange(func(online bool) {
		rt.healthServer.SetServingStatus(UpstreamHealthService, servingStatus(online))
	})
	rt.monitor.OnOnline(func(ctx context.Context) {
		result, err := rt.queue.Drain(ctx)
		if err != nil {
			logger.Warn("drain on reconnect", zap.Error(err))
			return
		}
		logger.Info("drained offline queue on reconnect",
			zap.Int("applied", result.Applied),
			zap.Int("retried", result.Retried),
			zap.Int("dropped", result.Dropped),
			zap.Int("remaining", result.Remaining),
		)
	})

	rt.httpServer = &http.Server{
		Handler: NewHandler(Services{
			Proxy:        proxy,
			Queue:        rt.queue,
			Mirror:       localMirror,
			Cache:        rt.cacheStore,
			Partitions:   partitions,
			Connectivity: rt.monitor,
			Logger:       logger.Named("http"),
		}),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	rt.httpListener, err = net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on gateway address %s: %w", cfg.HTTPAddr, err)
	}
	rt.healthListener, err = net.Listen("tcp", cfg.HealthAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on health address %s: %w", cfg.HealthAddr, err)
	}
	return rt, nil
}

// Addr is the bound gateway HTTP address.
func (rt *Runtime) Addr() net.Addr { return rt.httpListener.Addr() }

// HealthAddr is the bound gRPC health address.
func (rt *Runtime) HealthAddr() net.Addr { return rt.healthListener.Addr() }

// Serve runs the HTTP server, the gRPC health server and the connectivity
// monitor until ctx is done or one of them fails, then shuts them down.
func (rt *Runtime) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := rt.httpServer.Serve(rt.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := rt.grpcServer.Serve(rt.healthListener); err != nil && !errors.Is(err, gogrpc.ErrServerStopped) {
			return fmt.Errorf("serve grpc health: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return rt.monitor.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.Shutdown)
		defer cancel()
		err := rt.httpServer.Shutdown(shutdownCtx)
		rt.healthServer.Shutdown()
		rt.grpcServer.GracefulStop()
		if err != nil {
			return fmt.Errorf("shutdown http: %w", err)
		}
		return nil
	})

	rt.logger.Info("gateway listening",
		zap.Stringer("http", rt.httpListener.Addr()),
		zap.Stringer("health", rt.healthListener.Addr()),
	)
	return g.Wait()
}

// Close releases listeners and stores. It is safe after a failed New.
func (rt *Runtime) Close() {
	if rt.httpListener != nil {
		_ = rt.httpListener.Close()
	}
	if rt.healthListener != nil {
		_ = rt.healthListener.Close()
	}
	if rt.syncStore != nil {
		if err := rt.syncStore.Close(); err != nil {
			rt.logger.Warn("close sync sqlite store", zap.Error(err))
		}
	}
	if rt.cacheStore != nil {
		if err := rt.cacheStore.Close(); err != nil {
			rt.logger.Warn("close cache store", zap.Error(err))
		}
	}
}

// Run starts the gateway and blocks until ctx is done.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	rt, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	return rt.Serve(ctx)
}

func parseOrigin(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("origin url is required")
	}
	origin, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse origin url: %w", err)
	}
	if origin.Scheme != "http" && origin.Scheme != "https" {
		return nil, fmt.Errorf("origin url must be http or https: %q", raw)
	}
	if origin.Host == "" {
		return nil, fmt.Errorf("origin url has no host: %q", raw)
	}
	return origin, nil
}

func openCacheStore(ctx context.Context, cfg RuntimeConfig) (cache.Store, error) {
	switch cfg.CacheBackend {
	case CacheBackendSQLite:
		store, err := cachesqlite.Open(ctx, cfg.CacheDBPath)
		if err != nil {
			return nil, fmt.Errorf("open cache sqlite store: %w", err)
		}
		return store, nil
	case CacheBackendRedis:
		store, err := cacheredis.Open(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("open cache redis store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

func buildApplier(cfg RuntimeConfig, origin *url.URL, localMirror *mirror.Mirror, logger *zap.Logger) (queue.Applier, error) {
	local := queue.MirrorApplier{Mirror: localMirror}
	if !cfg.ReplayUpstream {
		return local, nil
	}
	var blobs upstream.BlobStore
	if strings.TrimSpace(cfg.S3.Endpoint) != "" {
		s3, err := upstream.NewS3Store(cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("build photo blob store: %w", err)
		}
		blobs = s3
	}
	remote, err := upstream.New(upstream.Config{
		Origin:    origin,
		APIPrefix: cfg.APIPrefix,
		Timeout:   cfg.FetchTimeout,
		Blobs:     blobs,
		Logger:    logger.Named("upstream"),
	})
	if err != nil {
		return nil, fmt.Errorf("build upstream applier: %w", err)
	}
	return queue.Chain(remote, local), nil
}

func servingStatus(online bool) grpc_health_v1.HealthCheckResponse_ServingStatus {
	if online {
		return grpc_health_v1.HealthCheckResponse_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_NOT_SERVING
}
