// Package offlinectl implements the offline gateway maintenance CLI. Its
// commands open the gateway's SQLite files directly, so they are meant for
// a stopped gateway or for read-only inspection of a running one.
package offlinectl

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	entrypoint "github.com/llakterian/Adonai-Farm-sub002/internal/platform/cmd"
	platformgrpc "github.com/llakterian/Adonai-Farm-sub002/internal/platform/grpc"
	"github.com/llakterian/Adonai-Farm-sub002/internal/platform/logging"
	gatewayapp "github.com/llakterian/Adonai-Farm-sub002/internal/services/gateway/app"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/gateway/cache"
	cachesqlite "github.com/llakterian/Adonai-Farm-sub002/internal/services/gateway/cache/sqlite"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/sync/domain"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/sync/mirror"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/sync/queue"
	syncsqlite "github.com/llakterian/Adonai-Farm-sub002/internal/services/sync/storage/sqlite"
)

// Config holds the defaults offlinectl reads from the environment. Flags
// override them.
type Config struct {
	SyncDBPath   string `env:"ADONAI_GATEWAY_SYNC_DB_PATH" envDefault:"data/gateway-sync.db"`
	CacheDBPath  string `env:"ADONAI_GATEWAY_CACHE_DB_PATH" envDefault:"data/gateway-cache.db"`
	CachePrefix  string `env:"ADONAI_GATEWAY_CACHE_PREFIX" envDefault:"adonai"`
	CacheVersion string `env:"ADONAI_GATEWAY_CACHE_VERSION" envDefault:"v1"`
	HealthAddr   string `env:"ADONAI_GATEWAY_HEALTH_TARGET" envDefault:"localhost:8081"`
	MaxRetries   int    `env:"ADONAI_GATEWAY_MAX_RETRIES" envDefault:"3"`
	Output       string `env:"ADONAI_OFFLINECTL_OUTPUT" envDefault:"json"`
	Log          logging.Config
}

type cli struct {
	cfg    Config
	logger *zap.Logger
}

// NewRootCommand builds the offlinectl command tree.
func NewRootCommand(cfg Config) *cobra.Command {
	c := &cli{cfg: cfg, logger: zap.NewNop()}

	root := &cobra.Command{
		Use:           entrypoint.ServiceOfflineCtl,
		Short:         "Inspect and repair the offline gateway's local state",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New(entrypoint.ServiceOfflineCtl, c.cfg.Log)
			if err != nil {
				return err
			}
			c.logger = logger
			return nil
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&c.cfg.SyncDBPath, "sync-db", c.cfg.SyncDBPath, "queue and mirror SQLite database")
	flags.StringVar(&c.cfg.CacheDBPath, "cache-db", c.cfg.CacheDBPath, "cache SQLite database")
	flags.StringVar(&c.cfg.CachePrefix, "cache-prefix", c.cfg.CachePrefix, "cache partition prefix")
	flags.StringVar(&c.cfg.CacheVersion, "cache-version", c.cfg.CacheVersion, "current cache partition version")
	flags.StringVarP(&c.cfg.Output, "output", "o", c.cfg.Output, "output format: json or yaml")
	flags.StringVar(&c.cfg.Log.Level, "log-level", c.cfg.Log.Level, "log level")

	root.AddCommand(c.queueCommand(), c.mirrorCommand(), c.cacheCommand(), c.attemptsCommand(), c.healthCommand())
	return root
}

func (c *cli) queueCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "queue", Short: "Inspect and replay the offline action queue"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending actions in enqueue order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withQueue(cmd.Context(), func(q *queue.Queue, _ *mirror.Mirror) error {
				return c.print(cmd, q.Pending())
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "drain",
		Short: "Replay pending actions into the local mirrors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withQueue(cmd.Context(), func(q *queue.Queue, _ *mirror.Mirror) error {
				result, err := q.Drain(cmd.Context())
				if err != nil {
					return err
				}
				return c.print(cmd, result)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "enqueue <action> <payload-json>",
		Short: "Queue an action as if the dashboard had recorded it offline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := domain.ParseAction(args[0])
			if err != nil {
				return err
			}
			var payload domain.Record
			if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
				return fmt.Errorf("parse payload: %w", err)
			}
			return c.withQueue(cmd.Context(), func(q *queue.Queue, _ *mirror.Mirror) error {
				queued, err := q.Enqueue(cmd.Context(), action, payload)
				if err != nil {
					return err
				}
				return c.print(cmd, queued)
			})
		},
	})
	return cmd
}

func (c *cli) mirrorCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "mirror", Short: "Inspect local mirrors"}
	cmd.AddCommand(&cobra.Command{
		Use:       "show <entity>",
		Short:     "Print the records mirrored for an entity",
		Args:      cobra.ExactArgs(1),
		ValidArgs: entityNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := domain.ParseEntity(args[0])
			if err != nil {
				return err
			}
			return c.withQueue(cmd.Context(), func(_ *queue.Queue, m *mirror.Mirror) error {
				records, err := m.Load(cmd.Context(), entity)
				if err != nil {
					return err
				}
				return c.print(cmd, records)
			})
		},
	})
	return cmd
}

func (c *cli) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "cache", Short: "Inspect and clear cache partitions"}
	cmd.AddCommand(&cobra.Command{
		Use:   "partitions",
		Short: "List partitions with their key counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withCache(cmd.Context(), func(store cache.Store) error {
				summaries, err := cache.Summarize(cmd.Context(), store, c.partitions())
				if err != nil {
					return err
				}
				return c.print(cmd, summaries)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear <kind|partition>",
		Short: "Remove every entry of one partition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := cache.ResolvePartition(c.partitions(), args[0])
			if name == "" {
				return fmt.Errorf("partition name is required")
			}
			return c.withCache(cmd.Context(), func(store cache.Store) error {
				if err := store.Clear(cmd.Context(), name); err != nil {
					return err
				}
				return c.print(cmd, map[string]string{"cleared": name})
			})
		},
	})
	return cmd
}

func (c *cli) attemptsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "List recent replay attempts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := syncsqlite.Open(cmd.Context(), c.cfg.SyncDBPath)
			if err != nil {
				return fmt.Errorf("open sync store: %w", err)
			}
			defer c.closeStore("sync", store.Close)
			attempts, err := store.ListAttempts(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return c.print(cmd, attempts)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum attempts to list")
	return cmd
}

func (c *cli) healthCommand() *cobra.Command {
	var (
		service string
		wait    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query a running gateway's gRPC health service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := platformgrpc.Dial(c.cfg.HealthAddr)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx := cmd.Context()
			if wait > 0 {
				waitCtx, cancel := context.WithTimeout(ctx, wait)
				defer cancel()
				if err := platformgrpc.WaitForHealth(waitCtx, conn, service, c.logger.Sugar().Infof); err != nil {
					return err
				}
			}
			callCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			status, err := platformgrpc.CheckHealth(callCtx, conn, service)
			if err != nil {
				return err
			}
			if err := c.print(cmd, map[string]string{"service": service, "status": status.String()}); err != nil {
				return err
			}
			if status != grpc_health_v1.HealthCheckResponse_SERVING {
				return fmt.Errorf("%s is %s", service, status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&c.cfg.HealthAddr, "addr", c.cfg.HealthAddr, "gateway gRPC health address")
	cmd.Flags().StringVar(&service, "service", gatewayapp.UpstreamHealthService, "health service name")
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait up to this long for SERVING")
	return cmd
}

func (c *cli) withQueue(ctx context.Context, fn func(*queue.Queue, *mirror.Mirror) error) error {
	store, err := syncsqlite.Open(ctx, c.cfg.SyncDBPath)
	if err != nil {
		return fmt.Errorf("open sync store: %w", err)
	}
	defer c.closeStore("sync", store.Close)

	m := mirror.New(store, c.logger)
	q, err := queue.New(ctx, queue.Config{
		Store:      store,
		Applier:    queue.MirrorApplier{Mirror: m},
		Attempts:   store,
		MaxRetries: c.cfg.MaxRetries,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	return fn(q, m)
}

func (c *cli) withCache(ctx context.Context, fn func(cache.Store) error) error {
	store, err := cachesqlite.Open(ctx, c.cfg.CacheDBPath)
	if err != nil {
		return fmt.Errorf("open cache store: %w", err)
	}
	defer c.closeStore("cache", store.Close)
	return fn(store)
}

func (c *cli) closeStore(name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		c.logger.Warn("close store", zap.String("store", name), zap.Error(err))
	}
}

func (c *cli) partitions() cache.Partitions {
	return cache.Partitions{Prefix: c.cfg.CachePrefix, Version: c.cfg.CacheVersion}
}

func (c *cli) print(cmd *cobra.Command, value any) error {
	return writeOutput(cmd.OutOrStdout(), c.cfg.Output, value)
}

func entityNames() []string {
	entities := domain.Entities()
	names := make([]string, 0, len(entities))
	for _, entity := range entities {
		names = append(names, string(entity))
	}
	return names
}

// Execute parses configuration and runs the command tree with args.
func Execute(ctx context.Context, args []string) error {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return err
	}
	root := NewRootCommand(cfg)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
