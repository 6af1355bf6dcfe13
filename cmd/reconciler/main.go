package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/JovieInc/Jovie-sub015/internal/archive"
	"github.com/JovieInc/Jovie-sub015/internal/config"
	"github.com/JovieInc/Jovie-sub015/internal/jobs"
	"github.com/JovieInc/Jovie-sub015/internal/logger"
	"github.com/JovieInc/Jovie-sub015/internal/store"
	"github.com/abdul-hamid-achik/job-queue/pkg/broker"
	"github.com/abdul-hamid-achik/job-queue/pkg/job"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type brokerAdapter struct {
	broker *broker.RedisStreamsBroker
}

func (a *brokerAdapter) Enqueue(jobType string, payload interface{}) (string, error) {
	j, err := job.New(jobType, payload)
	if err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}
	if err := a.broker.Enqueue(context.Background(), j); err != nil {
		return "", err
	}
	return j.ID, nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("reconciliation sweep failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(cfg.LogLevel)
	log := logger.Default()

	log.Info("starting reconciliation sweep")
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

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

	b := &brokerAdapter{broker: broker.NewRedisStreamsBroker(redisClient)}
	log.Info("broker initialized")

	st := store.New(pool)
	ctx = logger.WithLogger(ctx, log)

	enqueued, failed, err := scheduleSweep(ctx, st, b, int32(cfg.SweepBatchSize))
	if err != nil {
		return err
	}

	cutoff := time.Now().UTC().Add(-cfg.EventRetention)
	if _, err := jobs.EnqueuePruneWebhookEvents(ctx, b, cutoff); err != nil {
		log.Error("failed to enqueue prune job", "error", err)
		failed++
	} else {
		log.Info("prune job enqueued", "cutoff", cutoff)
	}

	if cfg.MinIOEndpoint != "" {
		if err := exportYesterday(ctx, cfg, st); err != nil {
			log.Error("audit archive export failed", "error", err)
		}
	}

	log.Info("reconciliation sweep scheduled",
		"duration_ms", time.Since(start).Milliseconds(),
		"jobs_enqueued", enqueued,
		"enqueue_errors", failed,
	)

	if failed > 0 {
		return fmt.Errorf("%d jobs failed to enqueue", failed)
	}
	return nil
}

// scheduleSweep pages through every user holding a subscription id and
// enqueues one reconcile job each. Enqueue failures are counted, not fatal;
// the next scheduled run retries the whole population anyway.
func scheduleSweep(ctx context.Context, st *store.Store, b jobs.Broker, batchSize int32) (enqueued, failed int, err error) {
	log := logger.FromContext(ctx)

	after := uuid.Nil
	for {
		page, err := st.ListUsersWithSubscription(ctx, after, batchSize)
		if err != nil {
			return enqueued, failed, fmt.Errorf("failed to list users: %w", err)
		}
		for _, rec := range page {
			if _, err := jobs.EnqueueReconcileUser(ctx, b, rec.UserID); err != nil {
				log.Error("failed to enqueue reconcile job", "user_id", rec.UserID, "error", err)
				failed++
				continue
			}
			enqueued++
		}
		if len(page) > 0 {
			after = page[len(page)-1].UserID
		}
		if len(page) < int(batchSize) {
			break
		}
	}

	log.Info("sweep jobs enqueued", "count", enqueued)
	return enqueued, failed, nil
}

// exportYesterday archives the previous UTC day's audit entries. Runs daily
// from the same schedule as the sweep, so each window is exported once.
func exportYesterday(ctx context.Context, cfg *config.Config, st *store.Store) error {
	log := logger.FromContext(ctx)

	archiveStore, err := archive.NewStore(&archive.Config{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		Bucket:    cfg.MinIOBucket,
		UseSSL:    cfg.MinIOUseSSL,
		Region:    cfg.MinIORegion,
		Compress:  true,
	})
	if err != nil {
		return fmt.Errorf("failed to create archive store: %w", err)
	}

	if err := archiveStore.EnsureBucket(ctx); err != nil {
		return err
	}

	to := time.Now().UTC().Truncate(24 * time.Hour)
	from := to.AddDate(0, 0, -1)

	result, err := archiveStore.Export(ctx, st, from, to)
	if err != nil {
		return err
	}
	if result.Key != "" {
		log.Info("audit window archived", "key", result.Key, "entries", result.Entries)
	}
	return nil
}
