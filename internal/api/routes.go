// Package api mounts the HTTP surface of the billing service: the
// provider webhook intake, the entitlement read endpoint, and the
// health probes. The webhook route is public and authenticates itself
// by signature; everything under /v1/ requires a bearer JWT.
package api

import (
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/JovieInc/Jovie-sub015/internal/health"
)

type Config struct {
	Records     StatusQuerier
	Webhook     http.Handler
	Pool        *pgxpool.Pool
	RedisClient *redis.Client
	Archive     health.ArchiveHealthChecker
	JWTSecret   string
	RateLimit   int
	RateWindow  time.Duration
}

func NewRouter(cfg *Config) http.Handler {
	mux := http.NewServeMux()

	healthChecker := health.NewChecker(cfg.Pool, cfg.RedisClient)
	if cfg.Archive != nil {
		healthChecker = healthChecker.WithArchive(cfg.Archive)
	}
	mux.HandleFunc("GET /health", health.HealthHandler(healthChecker))
	mux.HandleFunc("GET /health/live", health.LivenessHandler())
	mux.HandleFunc("GET /health/ready", health.ReadinessHandler(healthChecker))

	if cfg.Webhook != nil {
		mux.Handle("POST /webhooks/billing", cfg.Webhook)
	}

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /v1/billing/status", statusHandler(cfg.Records))

	rate := cfg.RateLimit
	if rate <= 0 {
		rate = 100
	}
	window := cfg.RateWindow
	if window <= 0 {
		window = time.Minute
	}
	limiter := NewRedisRateLimiter(cfg.RedisClient, rate, window)

	// Auth runs before the limiter so requests are keyed by subject.
	handler := Auth(cfg.JWTSecret)(RateLimit(limiter)(apiMux))
	mux.Handle("/v1/", handler)

	return mux
}
