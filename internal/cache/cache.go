// Package cache propagates entitlement changes to the caches that serve
// them: the Redis entitlement cache read by the API, and the frontend's
// rendered pages via a signed revalidation call. Invalidation is
// best-effort; billing state in Postgres stays the source of truth.
package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/JovieInc/Jovie-sub015/internal/metrics"
)

// Invalidator drops cached entitlement state for a single user.
type Invalidator interface {
	InvalidateUser(ctx context.Context, userID uuid.UUID) error
}

// EntitlementKey is the Redis key holding a user's cached entitlement.
func EntitlementKey(userID uuid.UUID) string {
	return "entitlement:" + userID.String()
}

// RedisInvalidator deletes the entitlement cache entry in Redis.
type RedisInvalidator struct {
	client *redis.Client
}

// NewRedisInvalidator returns nil when no Redis client is configured,
// which callers treat as invalidation disabled.
func NewRedisInvalidator(client *redis.Client) *RedisInvalidator {
	if client == nil {
		return nil
	}
	return &RedisInvalidator{client: client}
}

func (r *RedisInvalidator) InvalidateUser(ctx context.Context, userID uuid.UUID) error {
	if r == nil {
		return nil
	}
	if err := r.client.Del(ctx, EntitlementKey(userID)).Err(); err != nil {
		metrics.RecordCacheInvalidation("redis", "error")
		return fmt.Errorf("failed to delete entitlement key: %w", err)
	}
	metrics.RecordCacheInvalidation("redis", "ok")
	return nil
}

// Multi fans an invalidation out to every target and joins the failures.
// A nil entry is skipped so optional targets can be wired unconditionally.
type Multi []Invalidator

func (m Multi) InvalidateUser(ctx context.Context, userID uuid.UUID) error {
	var errs []error
	for _, target := range m {
		if target == nil {
			continue
		}
		if err := target.InvalidateUser(ctx, userID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
