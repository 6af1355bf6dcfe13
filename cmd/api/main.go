package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JovieInc/Jovie-sub015/internal/api"
	"github.com/JovieInc/Jovie-sub015/internal/archive"
	"github.com/JovieInc/Jovie-sub015/internal/audit"
	"github.com/JovieInc/Jovie-sub015/internal/billing"
	"github.com/JovieInc/Jovie-sub015/internal/cache"
	"github.com/JovieInc/Jovie-sub015/internal/config"
	"github.com/JovieInc/Jovie-sub015/internal/logger"
	"github.com/JovieInc/Jovie-sub015/internal/metrics"
	"github.com/JovieInc/Jovie-sub015/internal/store"
	"github.com/JovieInc/Jovie-sub015/internal/tracing"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Init(cfg.LogLevel)
	log := logger.Default()

	log.Info("configuration loaded")

	ctx := context.Background()

	if cfg.TracingEnabled {
		shutdownTracing, err := tracing.Init(ctx, &tracing.Config{
			ServiceName:    "billing-api",
			ServiceVersion: "1.0.0",
			Environment:    cfg.Environment,
			OTLPEndpoint:   cfg.OTLPEndpoint,
			Enabled:        true,
			SampleRate:     cfg.TraceSampleRate,
		})
		if err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		defer func() { _ = shutdownTracing(ctx) }()
		log.Info("tracing enabled", "endpoint", cfg.OTLPEndpoint, "sample_rate", cfg.TraceSampleRate)
	}

	log.Info("connecting to database")
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	log.Info("database connected")

	log.Info("connecting to redis")
	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpt)
	defer func() { _ = redisClient.Close() }()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	st := store.New(pool)
	writer := store.NewWriter(pool)

	invalidators := cache.Multi{cache.NewRedisInvalidator(redisClient)}
	if cfg.RevalidateURL != "" {
		invalidators = append(invalidators, cache.NewRevalidateClient(cfg.RevalidateURL, cfg.RevalidateSecret).WithLogger(log))
		log.Info("entitlement revalidation configured", "url", cfg.RevalidateURL)
	}

	var webhookHandler http.Handler
	provider := billing.NewClient(
		cfg.StripeSecretKey,
		cfg.StripeWebhookSecret,
		billing.NewPriceTable(cfg.StripePriceIDPro, cfg.StripePriceIDTeam),
		cfg.ProviderTimeout,
	)
	if provider.IsConfigured() {
		handlers := billing.NewHandlers(billing.HandlerDeps{
			Provider: provider,
			Resolver: billing.NewResolver(st, log),
			Writer:   writer,
			Cache:    invalidators,
			Audits:   audit.NewLogger(st),
			Prices:   provider.Prices(),
			Logger:   log,
		})
		webhookRouter := billing.NewRouter(provider.WebhookSecret(), handlers.Map(), st, log)
		webhookHandler = http.HandlerFunc(webhookRouter.HandleWebhook)
		log.Info("stripe webhook endpoint configured")
	} else {
		log.Warn("stripe not configured; webhook endpoint disabled")
	}

	metrics.SetAppInfo("1.0.0", cfg.Environment, "billing-api")

	apiCfg := &api.Config{
		Records:     st,
		Webhook:     webhookHandler,
		Pool:        pool,
		RedisClient: redisClient,
		JWTSecret:   cfg.JWTSecret,
	}

	if cfg.MinIOEndpoint != "" {
		archiveStore, err := archive.NewStore(&archive.Config{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
			Region:    cfg.MinIORegion,
		})
		if err != nil {
			return fmt.Errorf("failed to create archive store: %w", err)
		}
		apiCfg.Archive = archiveStore
		log.Info("archive health check enabled", "bucket", cfg.MinIOBucket)
	}

	apiRouter := api.NewRouter(apiCfg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", apiRouter)

	handler := api.SecurityHeaders(metrics.HTTPMetricsMiddleware(api.Recovery(api.RequestID(api.RequestLogger(mux)))))
	if cfg.TracingEnabled {
		handler = tracing.HTTPMiddleware("billing-api")(handler)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)

	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		redisSetFunc := func(ctx context.Context, key string, value interface{}, exp time.Duration) error {
			return redisClient.Set(ctx, key, value, exp).Err()
		}
		for {
			select {
			case <-ticker.C:
				metrics.UpdateLatencyMetrics(context.Background(), redisSetFunc)
			case <-done:
				return
			}
		}
	}()

	go func() {
		log.Info("server starting", "port", cfg.Port, "url", fmt.Sprintf("http://localhost:%d", cfg.Port))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			_ = server.Close()
			return fmt.Errorf("forced shutdown: %w", err)
		}
	}

	log.Info("server stopped gracefully")
	return nil
}
