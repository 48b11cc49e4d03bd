package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/gateway/router"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/searcher/backend"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/shard"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/internal/symbol"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/symbol-search/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting symbol search service",
		"port", cfg.Server.Port,
		"shards_dir", cfg.Shards.Dir,
		"shards_url", cfg.Shards.BaseURL,
		"policy", cfg.Shards.MatchPolicy,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	src, err := shard.OpenSource(cfg.Shards, m)
	if err != nil {
		slog.Error("failed to open shard source", "error", err)
		os.Exit(1)
	}
	remote, _ := src.(*shard.HTTPSource)
	storeOpts, err := shard.StoreOptionsFrom(cfg.Shards, m)
	if err != nil {
		slog.Error("invalid shard options", "error", err)
		os.Exit(1)
	}

	var (
		redisClient *pkgredis.Client
		cachedSrc   *shard.CachedSource
		viewCache   *cache.ViewCache
	)
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, shard and view caching disabled", "error", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
			cachedSrc = shard.NewCachedSource(src, redisClient, shard.Namespace(cfg.Shards), cfg.Redis.CacheTTL, m)
			src = cachedSrc
			viewCache = cache.New(redisClient, cfg.Redis.CacheTTL)
			slog.Info("shard cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	// Analytics: events go to Kafka and come back through the aggregator's
	// consumer. Without Kafka the aggregator is fed directly.
	agg := analytics.NewAggregator()
	var tracker analytics.Tracker = agg
	if cfg.Analytics.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents)
		collector := analytics.NewCollector(producer, cfg.Analytics.BufferSize, 100, 2*time.Second)
		collector.Start(ctx)
		defer func() {
			collector.Close()
			producer.Close()
		}()
		tracker = collector

		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents, analytics.HandleEvent(agg))
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("analytics consumer error", "error", err)
			}
		}()
		slog.Info("analytics pipeline started", "topic", cfg.Kafka.Topics.SearchEvents)
	}

	var (
		pgClient  *postgres.Client
		snapshots analytics.SnapshotLister
	)
	if cfg.Postgres.Enabled {
		pgClient, err = postgres.New(cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, analytics snapshots disabled", "error", err)
			pgClient = nil
		} else {
			defer pgClient.Close()
			store := aggregator.NewStore(pgClient)
			if err := store.Migrate(ctx); err != nil {
				slog.Error("failed to migrate analytics schema", "error", err)
				os.Exit(1)
			}
			if err := store.Restore(ctx, agg); err != nil {
				slog.Warn("failed to restore analytics snapshot", "error", err)
			}
			saved := store.StartPeriodicSave(ctx, agg, cfg.Analytics.SnapshotInterval)
			defer func() { <-saved }()
			snapshots = store
		}
	}

	b := backend.New(backend.Options{
		NewStore: func() *shard.Store { return shard.NewStore(src, storeOpts) },
		Engine: query.Options{
			MaxResults:         cfg.Search.MaxResults,
			MinQueryLength:     cfg.Search.MinQueryLength,
			MaxConcurrentLoads: cfg.Search.MaxConcurrentLoads,
			KindOrder:          symbol.ParseKindOrder(cfg.Search.KindOrder),
			Metrics:            m,
		},
		Invalidate: func(ctx context.Context, change shard.Change) error {
			if cachedSrc == nil {
				return nil
			}
			if change.Full {
				return cachedSrc.Purge(ctx)
			}
			return cachedSrc.Invalidate(ctx, change.IDs...)
		},
		OnReload: func(g *backend.Generation, change shard.Change) {
			tracker.Track(analytics.SearchEvent{
				Type:      analytics.EventReload,
				Source:    "reload",
				Timestamp: g.Started.UTC(),
			})
		},
		Metrics: m,
	})
	defer b.Close()

	if _, err := b.Current().Store.Keyspace(ctx); err != nil {
		slog.Warn("shard manifest unavailable, routing by leading shard", "error", err)
	}

	if cfg.Shards.Watch && cfg.Shards.Dir != "" {
		watcher, err := shard.NewWatcher(cfg.Shards.Dir, cfg.Shards.WatchDebounce, func(ctx context.Context, change shard.Change) {
			if _, err := b.Reload(ctx, change); err != nil {
				slog.Error("shard reload failed", "error", err)
			}
		})
		if err != nil {
			slog.Warn("shard watcher disabled", "error", err)
		} else {
			watcher.Start(ctx)
			defer watcher.Stop()
			slog.Info("watching shard directory", "dir", cfg.Shards.Dir)
		}
	}

	checker := health.NewChecker()
	checker.Register("shard_store", func(ctx context.Context) health.ComponentHealth {
		g := b.Current()
		if g == nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: "closed"}
		}
		st := g.Store.Stats()
		switch {
		case st.ManifestError != "":
			return health.ComponentHealth{Status: health.StatusDegraded, Message: st.ManifestError}
		case st.Failed > 0:
			return health.ComponentHealth{Status: health.StatusDegraded, Message: fmt.Sprintf("%d shards failed", st.Failed)}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d shards loaded", st.Loaded)}
	})
	if remote != nil {
		checker.Register("shard_source", func(ctx context.Context) health.ComponentHealth {
			if st := remote.Breaker().GetState(); st != resilience.StateClosed {
				return health.ComponentHealth{Status: health.StatusDegraded, Message: "circuit " + st.String()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
	}
	if redisClient != nil {
		checker.Register("redis", health.PingCheck(redisClient))
	} else {
		checker.Register("redis", health.PingCheck(nil))
	}
	if pgClient != nil {
		checker.Register("postgres", health.PingCheck(pgClient))
	} else {
		checker.Register("postgres", health.PingCheck(nil))
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.Window)
		defer limiter.Stop()
	}

	h := router.New(router.Deps{
		Search:       handler.New(b, viewCache, tracker, cfg.Search.DefaultLimit, cfg.Search.MaxResults),
		Analytics:    analytics.NewHandler(agg, snapshots),
		Health:       checker,
		Limiter:      limiter,
		Metrics:      m,
		AllowOrigins: cfg.Server.AllowOrigins,
		Timeout:      cfg.Server.WriteTimeout,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout + time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("symbol search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("symbol search service stopped")
}
