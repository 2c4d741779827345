// Package app initializes and holds long-lived application services, acting
// as the dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/nextrequest-crawler/internal/api"
	"github.com/JakeFAU/nextrequest-crawler/internal/cache"
	"github.com/JakeFAU/nextrequest-crawler/internal/clock/system"
	"github.com/JakeFAU/nextrequest-crawler/internal/config"
	"github.com/JakeFAU/nextrequest-crawler/internal/crawler"
	"github.com/JakeFAU/nextrequest-crawler/internal/dispatcher"
	"github.com/JakeFAU/nextrequest-crawler/internal/fetcher"
	"github.com/JakeFAU/nextrequest-crawler/internal/httpclient"
	"github.com/JakeFAU/nextrequest-crawler/internal/id/uuid"
	"github.com/JakeFAU/nextrequest-crawler/internal/lease"
	"github.com/JakeFAU/nextrequest-crawler/internal/metrics"
	"github.com/JakeFAU/nextrequest-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/nextrequest-crawler/internal/storage/memory"
	"github.com/JakeFAU/nextrequest-crawler/internal/storage/mongodb"
	"github.com/JakeFAU/nextrequest-crawler/internal/storage/postgres"
	"github.com/JakeFAU/nextrequest-crawler/internal/store"
	"github.com/JakeFAU/nextrequest-crawler/internal/worker"
	"github.com/JakeFAU/nextrequest-crawler/internal/writer"
)

// Clock is the time source used by the lease manager and the writer.
type Clock interface {
	crawler.Clock
	crawler.Sleeper
}

// App holds the shared services for one process.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	repo    store.Repository
	redis   *redis.Client
	cache   cache.Service
	seen    *cache.SeenCache
	clock   Clock
	client  *httpclient.Client
	leases  *lease.Manager
	worker  *worker.Worker
	metrics *http.Server
}

type options struct {
	repo       store.Repository
	httpClient *http.Client
	clock      Clock
	cache      cache.Service
}

// Option customizes New.
type Option func(*options)

// WithRepository uses repo instead of opening the configured store.
func WithRepository(repo store.Repository) Option {
	return func(o *options) { o.repo = repo }
}

// WithHTTPClient overrides the transport used for remote API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithClock overrides the system clock.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithCache uses svc as the seen-URL cache backend.
func WithCache(svc cache.Service) Option {
	return func(o *options) { o.cache = svc }
}

// New creates and initializes an App from cfg. It fails fast if any
// configured backend cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger, clock: o.clock}
	if a.clock == nil {
		a.clock = system.New()
	}

	metrics.Init()

	repo := o.repo
	if repo == nil {
		var err error
		repo, err = openStore(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}
	a.repo = repo

	a.cache = o.cache
	if a.cache == nil && cfg.Cache.Enabled {
		if len(cfg.Cache.MemcacheServers) > 0 {
			logger.Info("using memcache seen-url cache", zap.Strings("servers", cfg.Cache.MemcacheServers))
			a.cache = cache.NewMemcacheService(cfg.Cache.MemcacheServers...)
		} else {
			logger.Info("using in-process seen-url cache")
			a.cache = cache.NewMemoryService()
		}
	}
	if a.cache != nil {
		a.seen = cache.NewSeenCache(a.cache, cfg.CacheTTL(), logger)
	}

	claimer, err := a.buildClaimer(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.leases, err = lease.NewManager(lease.Config{
		Repo:    repo,
		Claimer: claimer,
		Clock:   a.clock,
		IDs:     uuid.New(),
		Window:  cfg.LeaseWindow(),
		Logger:  logger,
	})
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("build lease manager: %w", err)
	}

	clientOpts := []httpclient.Option{
		httpclient.WithSleeper(a.clock),
		httpclient.WithLogger(logger),
		httpclient.WithLimiter(ratelimit.New(ratelimit.Config{
			RPS:   cfg.HTTP.RequestsPerSecond,
			Burst: cfg.HTTP.Burst,
		})),
	}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, httpclient.WithHTTPClient(o.httpClient))
	}
	a.client = httpclient.New(httpclient.Config{
		Timeout:             cfg.RequestTimeout(),
		UserAgent:           cfg.HTTP.UserAgent,
		RateLimitBaseDelay:  cfg.RateLimitBase(),
		RateLimitJitter:     cfg.RateLimitJitter(),
		MaxRateLimitRetries: cfg.HTTP.MaxRateLimitRetries,
		MaxNetworkRetries:   cfg.HTTP.MaxNetworkRetries,
		ResendParamsOnRetry: cfg.HTTP.ResendParamsOnRetry,
	}, clientOpts...)

	order, err := crawler.ParseSortOrder(cfg.Crawler.SortOrder)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	endpoints := crawler.Endpoints{Scheme: cfg.Crawler.Scheme}
	walker := worker.NewWalker(
		a.client,
		fetcher.NewPool(cfg.Crawler.PoolSize),
		writer.New(repo, a.seen, a.clock, logger),
		worker.WalkerConfig{
			Endpoints: endpoints,
			PageSize:  cfg.Crawler.PageSize,
			SortOrder: order,
			MaxPages:  cfg.Crawler.MaxPages,
		},
		logger,
	)
	details := func(source string) fetcher.FetchFunc {
		return fetcher.NewDetailFetcher(source, endpoints, repo, a.client, a.seen, logger).Fetch
	}
	a.worker = worker.New(a.leases, walker, details, a.clock, cfg.SkipPause(), logger)

	logger.Info("application services initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("claimer", cfg.Lease.Claimer),
		zap.Bool("cache", a.seen != nil),
	)
	return a, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Repository, error) {
	switch cfg.Store.Driver {
	case "memory":
		logger.Info("using in-memory store; data is discarded on exit")
		return memory.NewStore(), nil
	case "postgres":
		logger.Info("connecting to PostgreSQL")
		pg, err := postgres.NewStore(ctx, postgres.Config{
			DSN:             cfg.Store.Postgres.DSN,
			SourcesTable:    cfg.Store.Postgres.SourcesTable,
			ItemsTable:      cfg.Store.Postgres.ItemsTable,
			MaxConns:        cfg.Store.Postgres.MaxConns,
			MinConns:        cfg.Store.Postgres.MinConns,
			MaxConnLifetime: time.Duration(cfg.Store.Postgres.MaxConnLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize postgres store: %w", err)
		}
		if cfg.Store.Postgres.EnsureSchema {
			if err := pg.EnsureSchema(ctx); err != nil {
				_ = pg.Close(ctx)
				return nil, fmt.Errorf("ensure postgres schema: %w", err)
			}
		}
		return pg, nil
	case "mongo":
		logger.Info("connecting to MongoDB", zap.String("database", cfg.Store.Mongo.Database))
		m, err := mongodb.NewStore(ctx, mongodb.Config{
			URI:               cfg.Store.Mongo.URI,
			Database:          cfg.Store.Mongo.Database,
			SourcesCollection: cfg.Store.Mongo.SourcesCollection,
			ItemsCollection:   cfg.Store.Mongo.ItemsCollection,
			ConnectTimeout:    time.Duration(cfg.Store.Mongo.ConnectTimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize mongo store: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Store.Driver)
	}
}

func (a *App) buildClaimer(ctx context.Context) (lease.Claimer, error) {
	if a.cfg.Lease.Claimer != "redis" {
		return nil, nil
	}
	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Lease.Redis.Addr,
		Password: a.cfg.Lease.Redis.Password,
		DB:       a.cfg.Lease.Redis.DB,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", a.cfg.Lease.Redis.Addr, err)
	}
	a.logger.Info("using redis lease claimer", zap.String("addr", a.cfg.Lease.Redis.Addr))
	return lease.NewRedisClaimer(a.redis, a.cfg.Lease.Redis.Prefix, a.cfg.LeaseWindow()), nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Repository returns the document store.
func (a *App) Repository() store.Repository { return a.repo }

// Leases returns the lease manager.
func (a *App) Leases() *lease.Manager { return a.leases }

// Worker returns the single-source crawler.
func (a *App) Worker() *worker.Worker { return a.worker }

// Dispatcher builds the orchestrator for mode. spawner is only used in
// process mode.
func (a *App) Dispatcher(mode dispatcher.Mode, spawner dispatcher.Spawner) (*dispatcher.Dispatcher, error) {
	d, err := dispatcher.New(a.repo, a.worker, a.leases, spawner, a.clock, dispatcher.Config{
		Mode:         mode,
		Stagger:      a.cfg.Stagger(),
		SkipPause:    a.cfg.SkipPause(),
		MaxProcesses: a.cfg.Crawler.MaxProcesses,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("build dispatcher: %w", err)
	}
	return d, nil
}

// Ready checks that the store and optional backends respond.
func (a *App) Ready(ctx context.Context) error {
	if _, err := a.repo.GetSource(ctx, "readiness.probe"); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("store: %w", err)
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if mc, ok := a.cache.(*cache.MemcacheService); ok {
		if err := mc.Ping(); err != nil {
			return fmt.Errorf("memcache: %w", err)
		}
	}
	return nil
}

// StartMetrics serves the operator API on the configured metrics address.
// It is a no-op when no address is configured.
func (a *App) StartMetrics() {
	if a.cfg.Metrics.Addr == "" || a.metrics != nil {
		return
	}
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           api.NewServer(a.repo, a.Ready, a.logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.metrics = srv
	go func() {
		a.logger.Info("starting metrics server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// Close gracefully shuts down every service in the container.
func (a *App) Close(ctx context.Context) {
	a.logger.Info("shutting down application services")
	if a.metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := a.metrics.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("error stopping metrics server", zap.Error(err))
		}
		cancel()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("error closing redis client", zap.Error(err))
		}
	}
	if a.repo != nil {
		if err := a.repo.Close(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("error closing store", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
