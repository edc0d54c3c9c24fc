package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/ledgersync/internal/adapters/driven/auth"
	"github.com/custodia-labs/ledgersync/internal/adapters/driven/metrics"
	"github.com/custodia-labs/ledgersync/internal/adapters/driven/postgres"
	"github.com/custodia-labs/ledgersync/internal/adapters/driven/providers"
	"github.com/custodia-labs/ledgersync/internal/adapters/driven/providers/quickbooks"
	"github.com/custodia-labs/ledgersync/internal/adapters/driven/providers/xero"
	pgqueue "github.com/custodia-labs/ledgersync/internal/adapters/driven/queue/postgres"
	redisqueue "github.com/custodia-labs/ledgersync/internal/adapters/driven/queue/redis"
	redisadapter "github.com/custodia-labs/ledgersync/internal/adapters/driven/redis"
	"github.com/custodia-labs/ledgersync/internal/config"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
	"github.com/custodia-labs/ledgersync/internal/core/services"
	"github.com/custodia-labs/ledgersync/internal/worker"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgersync: %v\n", err)
		os.Exit(1)
	}
	// A positional argument overrides RUN_MODE
	if len(os.Args) > 1 {
		cfg.RunMode = os.Args[1]
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "ledgersync: %v\n", err)
			os.Exit(1)
		}
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("ledgersync exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("ledgersync starting", "version", version, "mode", cfg.RunMode)

	// Setup context with cancellation for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	switch cfg.RunMode {
	case config.ModeSyncOnce:
		return runSyncOnce(ctx, app.scheduler, logger)
	default:
		return runWorkerMode(ctx, cfg, app, logger)
	}
}

// application is the wired object graph.
// The connect, finalize, catalog and sync request services are driven by
// the host application; the worker only needs the scheduler and the queue.
type application struct {
	tokens    *services.TokenManager
	connect   driving.ConnectService
	requests  driving.SyncRequestService
	finalizer driving.FinalizationService
	catalog   driving.CatalogService
	scheduler *services.Scheduler
	worker    *worker.Worker
	metrics   *metrics.Registry
}

func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// ===== PostgreSQL =====
	logger.Info("connecting to postgres")
	db, err := postgres.Connect(ctx, postgres.Config{
		URL:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		return nil, cleanup, fmt.Errorf("connect postgres: %w", err)
	}
	closers = append(closers, func() { db.Close() })

	if err := db.InitSchema(ctx); err != nil {
		return nil, cleanup, fmt.Errorf("init schema: %w", err)
	}

	encryptor, err := postgres.NewSecretEncryptorFromSecret(cfg.EncryptionKey)
	if err != nil {
		return nil, cleanup, fmt.Errorf("token encryption: %w", err)
	}

	// ===== Redis (optional) =====
	var (
		lock   driven.DistributedLock
		states driven.OAuthStateStore
		queue  driven.SyncQueue
	)
	if cfg.RedisURL != "" {
		logger.Info("connecting to redis")
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, cleanup, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		closers = append(closers, func() { client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, cleanup, fmt.Errorf("connect redis: %w", err)
		}
		lock = redisadapter.NewLock(client)
		states = redisadapter.NewOAuthStateStore(client, cfg.StateTTL)
		q, err := redisqueue.NewQueue(ctx, client, fmt.Sprintf("worker-%d", os.Getpid()))
		if err != nil {
			return nil, cleanup, fmt.Errorf("create sync queue: %w", err)
		}
		queue = q
		logger.Info("using redis for locks, oauth state and sync queue")
	} else {
		lock = postgres.NewAdvisoryLock(db)
		states = postgres.NewOAuthStateStore(db.DB, cfg.StateTTL)
		queue = pgqueue.NewQueue(db.DB)
		logger.Info("using postgres for locks, oauth state and sync queue")
	}

	// ===== Stores =====
	companies := postgres.NewCompanyStore(db.DB)
	tokenStore := postgres.NewTokenStore(db.DB, encryptor)
	products := postgres.NewProductStore(db.DB)
	customers := postgres.NewCustomerStore(db.DB)
	conversions := postgres.NewConversionStore(db.DB)

	// ===== Providers =====
	registry := providers.NewRegistry(providerAdapters(cfg)...)
	logger.Info("providers registered", "providers", registry.Providers())

	signer, err := auth.NewStateSigner(cfg.StateSecret)
	if err != nil {
		return nil, cleanup, err
	}

	reg := metrics.NewRegistry()

	// ===== Services =====
	tokens := services.NewTokenManager(services.TokenManagerConfig{
		Companies: companies,
		Tokens:    tokenStore,
		Adapters:  registry,
		Products:  products,
		Customers: customers,
		Metrics:   reg,
		Logger:    logger,
	})

	reconciler := services.NewReconciler(services.ReconcilerConfig{
		Companies: companies,
		Products:  products,
		Customers: customers,
		Clients:   tokens,
		Metrics:   reg,
		Logger:    logger,
		PageSize:  cfg.Scheduler.PageSize,
	})

	scheduler := services.NewScheduler(services.SchedulerConfig{
		Companies:    companies,
		Reconciler:   reconciler,
		Lock:         lock,
		Logger:       logger,
		PollInterval: cfg.Scheduler.PollInterval,
		Concurrency:  cfg.Scheduler.Concurrency,
		LockRequired: cfg.Scheduler.LockRequired,
	})

	app := &application{
		tokens: tokens,
		connect: services.NewConnectService(services.ConnectServiceConfig{
			Tokens:    tokens,
			Adapters:  registry,
			Companies: companies,
			States:    states,
			Signer:    signer,
			StateTTL:  cfg.StateTTL,
			Logger:    logger,
		}),
		finalizer: services.NewFinalizer(services.FinalizerConfig{
			Companies:   companies,
			Clients:     tokens,
			Conversions: conversions,
			Metrics:     reg,
			Logger:      logger,
		}),
		requests: services.NewSyncRequests(services.SyncRequestsConfig{
			Companies: companies,
			Queue:     queue,
			Logger:    logger,
		}),
		catalog:   services.NewCatalogService(products),
		scheduler: scheduler,
		metrics:   reg,
	}

	if !cfg.Scheduler.Enabled {
		logger.Info("periodic sync disabled via SCHEDULER_ENABLED=false")
	}
	app.worker = worker.NewWorker(worker.WorkerConfig{
		Scheduler:       scheduler,
		DisablePeriodic: !cfg.Scheduler.Enabled,
		Reconciler:      reconciler,
		Queue:           queue,
		States:          states,
		Lock:            lock,
		Logger:          logger,
		Concurrency:     cfg.Worker.Concurrency,
		DequeueTimeout:  cfg.Worker.DequeueTimeout,
		CleanupInterval: cfg.StateCleanupInterval,
		TaskRetention:   cfg.Worker.TaskRetention,
	})

	return app, cleanup, nil
}

// providerAdapters builds an adapter for every provider with credentials.
func providerAdapters(cfg *config.Config) []driven.ProviderAdapter {
	hc := providers.NewHTTPClient()
	var adapters []driven.ProviderAdapter

	if cfg.QuickBooks.Enabled() {
		adapters = append(adapters, quickbooks.New(quickbooks.Config{
			ClientID:     cfg.QuickBooks.ClientID,
			ClientSecret: cfg.QuickBooks.ClientSecret,
			RedirectURL:  cfg.QuickBooks.RedirectURL,
			Environment:  cfg.QuickBooks.Environment,
			MinorVersion: cfg.QuickBooks.MinorVersion,
			HTTPClient:   hc,
		}))
	}
	if cfg.Xero.Enabled() {
		adapters = append(adapters, xero.New(xero.Config{
			ClientID:     cfg.Xero.ClientID,
			ClientSecret: cfg.Xero.ClientSecret,
			RedirectURL:  cfg.Xero.RedirectURL,
			HTTPClient:   hc,
		}))
	}
	return adapters
}

// runSyncOnce forces one cycle over every enabled company and exits.
func runSyncOnce(ctx context.Context, scheduler *services.Scheduler, logger *slog.Logger) error {
	results, err := scheduler.RunAll(ctx)
	if err != nil {
		return err
	}

	failed := 0
	for id, r := range results {
		logger.Info("company synced",
			"company_id", id,
			"success", r.Success,
			"skipped", r.Skipped,
			"reauth_required", r.ReAuthRequired,
			"customers", r.Customers.Total,
			"products", r.Products.Total,
			"error", r.Error,
		)
		if !r.Success {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d companies failed", failed, len(results))
	}
	return nil
}

// runWorkerMode starts the worker and the metrics endpoint and blocks
// until a shutdown signal arrives.
func runWorkerMode(ctx context.Context, cfg *config.Config, app *application, logger *slog.Logger) error {
	var srv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", app.metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if h := app.worker.Health(r.Context()); !h.Running || !h.LockHealth || !h.QueueHealth {
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
		srv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	if err := app.worker.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	logger.Info("worker started")

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping")

	app.worker.Stop()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}
	return nil
}
