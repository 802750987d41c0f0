package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/assetperm/pkg/api"
	"github.com/platinummonkey/assetperm/pkg/audit"
	"github.com/platinummonkey/assetperm/pkg/cache"
	"github.com/platinummonkey/assetperm/pkg/config"
	"github.com/platinummonkey/assetperm/pkg/engine"
	"github.com/platinummonkey/assetperm/pkg/middleware"
	"github.com/platinummonkey/assetperm/pkg/observability"
	"github.com/platinummonkey/assetperm/pkg/store"
)

func main() {
	port := flag.String("port", "", "Port to listen on (overrides ASSETPERM_PORT)")
	seedFile := flag.String("seed", "", "YAML rule fixtures applied at startup (overrides ASSETPERM_SEED_FILE)")
	flag.Parse()

	boot := logrus.New()
	boot.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		boot.WithError(err).Fatal("Failed to load configuration")
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *seedFile != "" {
		cfg.SeedFile = *seedFile
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := context.Background()

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		boot.WithError(err).Fatal("Failed to initialize OpenTelemetry")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	var db *sql.DB
	var rules store.Store
	switch cfg.Storage.Type {
	case config.StoragePostgres:
		db, err = openPostgres(ctx, cfg.Storage, logger)
		if err != nil {
			boot.WithError(err).Fatal("Failed to initialize postgres storage")
		}
		rules = store.NewPostgresStore(db)
	default:
		rules = store.NewMemoryStore()
	}
	boot.WithField("type", cfg.Storage.Type).Info("Rule store initialized")

	var rdb *redis.Client
	if cfg.Cache.Enabled {
		opts := []cache.Option{cache.WithMetrics(metrics), cache.WithLogger(logger)}
		if cfg.Cache.RedisURL != "" {
			rdb, err = openRedis(cfg.Cache)
			if err != nil {
				boot.WithError(err).Fatal("Failed to configure redis")
			}
			opts = append(opts, cache.WithRedis(rdb))
		}
		rules = cache.New(rules, cache.Config{
			MaxEntries: cfg.Cache.MaxEntries,
			TTL:        cfg.Cache.TTL,
		}, opts...)
		boot.WithField("shared", rdb != nil).Info("Rule cache enabled")
	}

	sink, reader, err := openAuditSink(cfg, db)
	if err != nil {
		boot.WithError(err).Fatal("Failed to initialize audit sink")
	}
	recorder := audit.NewBufferedRecorder(sink,
		audit.WithBufferSize(cfg.Audit.BufferSize),
		audit.WithWriteTimeout(cfg.Audit.WriteTimeout),
		audit.WithDropHandler(func(*audit.Entry) { metrics.IncAuditDropped() }),
		audit.WithErrorHandler(func(e *audit.Entry, err error) {
			metrics.IncAuditWriteFailure()
			logger.WithOrganization(e.OrganizationID).WithError(err).
				WithField("operation_type", e.OperationType).Error("audit write failed")
		}),
	)

	engineOpts := []engine.Option{
		engine.WithRecorder(recorder),
		engine.WithLogger(logger),
		engine.WithMetrics(metrics),
	}
	eng := engine.New(rules, engineOpts...)
	manager := engine.NewManager(rules, engineOpts...)

	if cfg.SeedFile != "" {
		if err := applySeed(ctx, manager, cfg.SeedFile, boot); err != nil {
			boot.WithError(err).Fatal("Failed to apply seed file")
		}
	}

	scheduler := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	if cfg.Jobs.CycleScanSchedule != "" {
		_, err = scheduler.AddFunc(cfg.Jobs.CycleScanSchedule, func() {
			found, err := eng.ScanCycles(context.Background())
			if err != nil {
				logger.WithError(err).Error("Cycle scan failed")
				return
			}
			logger.WithField("organizations", len(found)).Debug("Cycle scan completed")
		})
		if err != nil {
			boot.WithError(err).Fatal("Failed to schedule cycle scan")
		}
		scheduler.Start()
	}

	health := observability.NewHealthChecker(cfg.Observability.OTelServiceVersion, db, rdb)
	apiCfg := api.Config{
		Store:        rules,
		Engine:       eng,
		Manager:      manager,
		Audit:        reader,
		Health:       health,
		Metrics:      metrics,
		Logger:       logger,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}
	if cfg.Observability.MetricsEnabled {
		apiCfg.Registry = registry
	}
	if cfg.RateLimit.Enabled {
		limits := middleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
			WindowDuration:    cfg.RateLimit.Window,
			BurstSize:         cfg.RateLimit.Burst,
		}
		if rdb != nil {
			apiCfg.RateLimiter = middleware.NewDistributedRateLimiter(rdb, limits, "")
		} else {
			local := middleware.NewRateLimiter(limits)
			local.StartCleanup(ctx)
			apiCfg.RateLimiter = local
		}
	}
	server := api.NewServer(apiCfg)

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	if db != nil {
		shutdown.Register("database", func(context.Context) error { return db.Close() })
	}
	if rdb != nil {
		shutdown.Register("redis", func(context.Context) error { return rdb.Close() })
	}
	shutdown.Register("audit", func(context.Context) error { return recorder.Close() })
	shutdown.Register("cron", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if providers != nil {
		shutdown.Register("otel", providers.Shutdown)
	}

	go func() {
		boot.WithField("addr", httpServer.Addr).Info("Starting asset permission server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			boot.WithError(err).Fatal("Failed to start server")
		}
	}()

	if err := shutdown.WaitForSignal(ctx); err != nil {
		boot.WithError(err).Error("Shutdown completed with errors")
		os.Exit(1)
	}
	boot.Info("Server stopped")
}
