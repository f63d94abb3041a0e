package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/bzrportal/bzrportal/pkg/accounts"
	"github.com/bzrportal/bzrportal/pkg/audit"
	"github.com/bzrportal/bzrportal/pkg/auth"
	"github.com/bzrportal/bzrportal/pkg/config"
	"github.com/bzrportal/bzrportal/pkg/observability"
	"github.com/bzrportal/bzrportal/pkg/quota"
	"github.com/bzrportal/bzrportal/pkg/sessions"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting bzr-portal auth service")

	ctx := context.Background()

	var otelProviders *observability.OTelProviders
	if cfg.Observability.OTelEnabled {
		otelProviders, err = observability.InitOTel(ctx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			logger.WithError(err).Fatal("failed to initialize OpenTelemetry")
		}
	}

	db, err := openPostgres(ctx, cfg.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to postgres")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	// quota fails closed, so an unreachable Redis means every request
	// would be denied; refuse to start instead
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = redisClient.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to redis")
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret:     cfg.Token.Secret,
		RefreshTTL: cfg.Token.RefreshTTL,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize token service")
	}

	sessionStore := sessions.NewPostgresStore(db)
	userStore := accounts.NewPostgresStore(db)
	auditLog := audit.NewPostgresLogger(db)
	limiter := quota.NewLimiter(quota.NewRedisStore(redisClient), cfg.Quota.Rules())

	service := accounts.NewService(userStore, sessionStore, tokens, auditLog, logger).WithMetrics(metrics)
	handler := accounts.NewHandler(service, logger, cfg.Server.CookieSecure)

	router := buildRouter(routerDeps{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		tokens:  tokens,
		limiter: limiter,
		handler: handler,
	})

	sweeper := startSweeps(cfg, logger, metrics, sessionStore, auditLog)
	go collectDBStats(ctx, db, metrics)

	healthServer := startHealthServer(cfg, logger, registry, db, redisClient)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		sweeper.Stop()
		return nil
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return redisClient.Close()
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return db.Close()
	})
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	go func() {
		logger.WithField("addr", server.Addr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("http server failed")
		}
	}()

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("shutdown finished with errors")
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func openPostgres(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

// auditRetention is how long security events are kept before pruning
const auditRetention = 90 * 24 * time.Hour

func startSweeps(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics, sessionStore *sessions.PostgresStore, auditLog *audit.PostgresLogger) *cron.Cron {
	c := cron.New()
	spec := fmt.Sprintf("@every %s", cfg.Quota.SweepInterval)

	c.AddFunc(spec, func() {
		defer observability.RecoverPanic(logger, "session sweep")
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		deleted, err := sessionStore.SweepExpired(ctx, time.Now())
		if err != nil {
			logger.WithError(err).Error("session sweep failed")
			return
		}
		if deleted > 0 {
			metrics.SessionsRevoked.WithLabelValues("sweep").Add(float64(deleted))
			logger.WithField("deleted", deleted).Info("swept expired sessions")
		}

		if active, err := sessionStore.CountActive(ctx, time.Now()); err == nil {
			metrics.ActiveSessionsGauge.Set(float64(active))
		}
	})

	c.AddFunc("@daily", func() {
		defer observability.RecoverPanic(logger, "audit prune")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		deleted, err := auditLog.Prune(ctx, time.Now().Add(-auditRetention))
		if err != nil {
			logger.WithError(err).Error("audit prune failed")
			return
		}
		if deleted > 0 {
			logger.WithField("deleted", deleted).Info("pruned audit log")
		}
	})

	c.Start()
	return c
}

func collectDBStats(ctx context.Context, db *sql.DB, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			stats := db.Stats()
			metrics.DBConnectionsActive.Set(float64(stats.InUse))
			metrics.DBConnectionsIdle.Set(float64(stats.Idle))
		case <-ctx.Done():
			return
		}
	}
}

func startHealthServer(cfg *config.Config, logger *observability.Logger, registry *prometheus.Registry, db *sql.DB, redisClient *redis.Client) *http.Server {
	mux := http.NewServeMux()
	checker := observability.NewHealthChecker(db, redisClient)
	observability.RegisterHealthRoutes(mux, checker)
	if cfg.Observability.MetricsEnabled {
		mux.Handle("/metrics", observability.Handler(registry))
	}

	server := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: mux,
	}
	go func() {
		logger.WithField("addr", server.Addr).Info("health server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()
	return server
}
