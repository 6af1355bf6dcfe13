package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port int

	Environment string
	LogLevel    string

	DatabaseURL string
	RedisURL    string

	// Stripe configuration
	StripeSecretKey     string
	StripeWebhookSecret string
	StripePriceIDPro    string
	StripePriceIDTeam   string

	// Frontend cache revalidation (optional)
	RevalidateURL    string
	RevalidateSecret string

	JWTSecret string

	WorkerConcurrency int
	JobTimeout        time.Duration
	MaxRetries        int

	// Reconciliation sweep tuning
	SweepBatchSize   int
	SweepConcurrency int
	ProviderTimeout  time.Duration
	EventRetention   time.Duration

	// Audit archive storage (optional; archive disabled when endpoint empty)
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool
	MinIORegion    string

	// Tracing
	TracingEnabled  bool
	OTLPEndpoint    string
	TraceSampleRate float64
}

func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.Port = getEnvInt("PORT", 8080)

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	// Stripe. The webhook endpoint and the reconciler cannot run without
	// these, but read-only surfaces (status API, billingctl audit) can.
	cfg.StripeSecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.StripeWebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	cfg.StripePriceIDPro = os.Getenv("STRIPE_PRICE_ID_PRO")
	cfg.StripePriceIDTeam = os.Getenv("STRIPE_PRICE_ID_TEAM")

	// Cache revalidation (optional)
	cfg.RevalidateURL = os.Getenv("REVALIDATE_URL")
	cfg.RevalidateSecret = os.Getenv("REVALIDATE_SECRET")

	cfg.JWTSecret = getEnvString("JWT_SECRET", "change-me-in-production")

	cfg.WorkerConcurrency = getEnvInt("WORKER_CONCURRENCY", 4)
	cfg.JobTimeout, err = getEnvDuration("JOB_TIMEOUT", "2m")
	if err != nil {
		return nil, fmt.Errorf("invalid JOB_TIMEOUT: %w", err)
	}
	cfg.MaxRetries = getEnvInt("MAX_RETRIES", 3)

	cfg.SweepBatchSize = getEnvInt("SWEEP_BATCH_SIZE", 100)
	cfg.SweepConcurrency = getEnvInt("SWEEP_CONCURRENCY", 8)
	cfg.ProviderTimeout, err = getEnvDuration("PROVIDER_TIMEOUT", "10s")
	if err != nil {
		return nil, fmt.Errorf("invalid PROVIDER_TIMEOUT: %w", err)
	}
	// Stripe redelivers failed webhooks for up to 3 days; keep processed
	// event rows at least that long so redeliveries still dedup.
	cfg.EventRetention, err = getEnvDuration("EVENT_RETENTION", "168h")
	if err != nil {
		return nil, fmt.Errorf("invalid EVENT_RETENTION: %w", err)
	}

	// Audit archive (optional)
	cfg.MinIOEndpoint = os.Getenv("MINIO_ENDPOINT")
	cfg.MinIOAccessKey = os.Getenv("MINIO_ACCESS_KEY")
	cfg.MinIOSecretKey = os.Getenv("MINIO_SECRET_KEY")
	cfg.MinIOBucket = getEnvString("MINIO_BUCKET", "billing-audit")
	cfg.MinIOUseSSL = getEnvBool("MINIO_USE_SSL", false)
	cfg.MinIORegion = getEnvString("MINIO_REGION", "us-east-1")

	cfg.Environment = getEnvString("ENVIRONMENT", "development")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	cfg.TracingEnabled = getEnvBool("TRACING_ENABLED", false)
	cfg.OTLPEndpoint = getEnvString("OTLP_ENDPOINT", "localhost:4317")
	cfg.TraceSampleRate = getEnvFloat("TRACE_SAMPLE_RATE", 0.1)

	return cfg, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key, defaultValue string) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	return time.ParseDuration(value)
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("invalid worker concurrency: %d", c.WorkerConcurrency)
	}

	if c.SweepBatchSize < 1 {
		return fmt.Errorf("invalid sweep batch size: %d", c.SweepBatchSize)
	}

	if c.SweepConcurrency < 1 {
		return fmt.Errorf("invalid sweep concurrency: %d", c.SweepConcurrency)
	}

	if c.StripeSecretKey != "" && c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
	}

	if c.RevalidateURL != "" && c.RevalidateSecret == "" {
		return fmt.Errorf("REVALIDATE_SECRET is required when REVALIDATE_URL is set")
	}

	return nil
}
