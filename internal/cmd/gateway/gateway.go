// Package gateway parses gateway command flags and launches the gateway
// runtime.
package gateway

import (
	"context"
	"flag"
	"log"
	"time"

	entrypoint "github.com/llakterian/Adonai-Farm-sub002/internal/platform/cmd"
	"github.com/llakterian/Adonai-Farm-sub002/internal/platform/logging"
	gatewayapp "github.com/llakterian/Adonai-Farm-sub002/internal/services/gateway/app"
	cacheredis "github.com/llakterian/Adonai-Farm-sub002/internal/services/gateway/cache/redis"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/sync/upstream"
)

// Config holds gateway command configuration.
type Config struct {
	HTTPAddr   string `env:"ADONAI_GATEWAY_HTTP_ADDR" envDefault:":8080"`
	HealthAddr string `env:"ADONAI_GATEWAY_HEALTH_ADDR" envDefault:":8081"`
	OriginURL  string `env:"ADONAI_GATEWAY_ORIGIN_URL" envDefault:"http://localhost:3000"`

	CacheBackend   string `env:"ADONAI_GATEWAY_CACHE_BACKEND" envDefault:"sqlite"`
	CacheDBPath    string `env:"ADONAI_GATEWAY_CACHE_DB_PATH" envDefault:"data/gateway-cache.db"`
	CachePrefix    string `env:"ADONAI_GATEWAY_CACHE_PREFIX" envDefault:"adonai"`
	CacheVersion   string `env:"ADONAI_GATEWAY_CACHE_VERSION" envDefault:"v1"`
	RedisAddr      string `env:"ADONAI_GATEWAY_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB        int    `env:"ADONAI_GATEWAY_REDIS_DB" envDefault:"0"`
	RedisPassword  string `env:"ADONAI_GATEWAY_REDIS_PASSWORD"`
	RedisNamespace string `env:"ADONAI_GATEWAY_REDIS_NAMESPACE" envDefault:"adonai:cache"`

	SyncDBPath     string `env:"ADONAI_GATEWAY_SYNC_DB_PATH" envDefault:"data/gateway-sync.db"`
	ReplayUpstream bool   `env:"ADONAI_GATEWAY_REPLAY_UPSTREAM" envDefault:"false"`
	MaxRetries     int    `env:"ADONAI_GATEWAY_MAX_RETRIES" envDefault:"3"`

	S3Endpoint      string `env:"ADONAI_GATEWAY_S3_ENDPOINT"`
	S3Region        string `env:"ADONAI_GATEWAY_S3_REGION" envDefault:"us-east-1"`
	S3Bucket        string `env:"ADONAI_GATEWAY_S3_BUCKET" envDefault:"farm-photos"`
	S3AccessKey     string `env:"ADONAI_GATEWAY_S3_ACCESS_KEY"`
	S3SecretKey     string `env:"ADONAI_GATEWAY_S3_SECRET_KEY"`
	S3UseSSL        bool   `env:"ADONAI_GATEWAY_S3_USE_SSL" envDefault:"false"`
	S3PathStyle     bool   `env:"ADONAI_GATEWAY_S3_PATH_STYLE" envDefault:"true"`
	S3PublicBaseURL string `env:"ADONAI_GATEWAY_S3_PUBLIC_BASE_URL"`

	FetchTimeout  time.Duration `env:"ADONAI_GATEWAY_FETCH_TIMEOUT" envDefault:"10s"`
	ImageMaxAge   time.Duration `env:"ADONAI_GATEWAY_IMAGE_MAX_AGE" envDefault:"24h"`
	MaxCacheBytes int64         `env:"ADONAI_GATEWAY_MAX_CACHE_BYTES" envDefault:"16777216"`
	APIPrefix     string        `env:"ADONAI_GATEWAY_API_PREFIX" envDefault:"/api/"`
	HealthPath    string        `env:"ADONAI_GATEWAY_HEALTH_PATH" envDefault:"/api/health"`
	ProbeInterval time.Duration `env:"ADONAI_GATEWAY_PROBE_INTERVAL" envDefault:"5s"`
	ProbeTimeout  time.Duration `env:"ADONAI_GATEWAY_PROBE_TIMEOUT" envDefault:"3s"`

	Log logging.Config
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The gateway HTTP listen address")
	fs.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "The gRPC health listen address")
	fs.StringVar(&cfg.OriginURL, "origin", cfg.OriginURL, "The farm web app origin URL")
	fs.StringVar(&cfg.CacheBackend, "cache-backend", cfg.CacheBackend, "Cache partition store: sqlite or redis")
	fs.StringVar(&cfg.CacheDBPath, "cache-db-path", cfg.CacheDBPath, "The cache SQLite database path")
	fs.StringVar(&cfg.CacheVersion, "cache-version", cfg.CacheVersion, "Cache partition version; bumping it drops old partitions")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for the redis cache backend")
	fs.StringVar(&cfg.SyncDBPath, "sync-db-path", cfg.SyncDBPath, "The queue and mirror SQLite database path")
	fs.BoolVar(&cfg.ReplayUpstream, "replay-upstream", cfg.ReplayUpstream, "Replay drained actions against the origin API")
	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Replay attempts before an action is dropped")
	fs.DurationVar(&cfg.FetchTimeout, "fetch-timeout", cfg.FetchTimeout, "Upstream fetch timeout")
	fs.DurationVar(&cfg.ProbeInterval, "probe-interval", cfg.ProbeInterval, "Connectivity probe interval")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RuntimeConfig maps command configuration onto the gateway runtime.
func (cfg Config) RuntimeConfig() gatewayapp.RuntimeConfig {
	return gatewayapp.RuntimeConfig{
		HTTPAddr:     cfg.HTTPAddr,
		HealthAddr:   cfg.HealthAddr,
		OriginURL:    cfg.OriginURL,
		CacheBackend: cfg.CacheBackend,
		CacheDBPath:  cfg.CacheDBPath,
		Redis: cacheredis.Config{
			Addr:      cfg.RedisAddr,
			DB:        cfg.RedisDB,
			Password:  cfg.RedisPassword,
			Namespace: cfg.RedisNamespace,
		},
		CachePrefix:    cfg.CachePrefix,
		CacheVersion:   cfg.CacheVersion,
		SyncDBPath:     cfg.SyncDBPath,
		ReplayUpstream: cfg.ReplayUpstream,
		MaxRetries:     cfg.MaxRetries,
		S3: upstream.S3Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			Bucket:        cfg.S3Bucket,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			UseSSL:        cfg.S3UseSSL,
			PathStyle:     cfg.S3PathStyle,
			PublicBaseURL: cfg.S3PublicBaseURL,
		},
		FetchTimeout:  cfg.FetchTimeout,
		ImageMaxAge:   cfg.ImageMaxAge,
		MaxCacheBytes: cfg.MaxCacheBytes,
		APIPrefix:     cfg.APIPrefix,
		HealthPath:    cfg.HealthPath,
		ProbeInterval: cfg.ProbeInterval,
		ProbeTimeout:  cfg.ProbeTimeout,
	}
}

// Run starts the gateway runtime.
func Run(ctx context.Context, cfg Config) error {
	logger, err := logging.New(entrypoint.ServiceGateway, cfg.Log)
	if err != nil {
		return err
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			log.Printf("sync logger: %v", syncErr)
		}
	}()
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceGateway, func(ctx context.Context) error {
		runtimeCfg := cfg.RuntimeConfig()
		runtimeCfg.Logger = logger
		return gatewayapp.Run(ctx, runtimeCfg)
	})
}
