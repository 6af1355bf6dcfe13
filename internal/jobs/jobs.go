// Package jobs defines the queue payloads and worker handlers for
// asynchronous billing work: per-user reconciliation and dedup-table
// pruning. Jobs ride the Redis Streams broker and are processed by the
// worker pool with at-least-once semantics, which is safe because every
// handler converges on the same idempotent state writer.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JovieInc/Jovie-sub015/internal/metrics"
	"github.com/JovieInc/Jovie-sub015/internal/tracing"
)

const (
	TypeReconcileUser      = "billing.reconcile_user"
	TypePruneWebhookEvents = "billing.prune_webhook_events"
)

type ReconcileUserPayload struct {
	UserID uuid.UUID            `json:"user_id"`
	Trace  tracing.TraceCarrier `json:"trace,omitempty"`
}

func NewReconcileUserPayload(ctx context.Context, userID uuid.UUID) ReconcileUserPayload {
	return ReconcileUserPayload{
		UserID: userID,
		Trace:  tracing.InjectTraceContext(ctx),
	}
}

type PruneWebhookEventsPayload struct {
	// Before is the cutoff computed at enqueue time; rows processed
	// before it are dropped.
	Before time.Time            `json:"before"`
	Trace  tracing.TraceCarrier `json:"trace,omitempty"`
}

func NewPruneWebhookEventsPayload(ctx context.Context, before time.Time) PruneWebhookEventsPayload {
	return PruneWebhookEventsPayload{
		Before: before,
		Trace:  tracing.InjectTraceContext(ctx),
	}
}

// Broker is the enqueue side of the job queue.
type Broker interface {
	Enqueue(jobType string, payload any) (string, error)
}

// EnqueueReconcileUser schedules one per-user reconciliation pass.
func EnqueueReconcileUser(ctx context.Context, broker Broker, userID uuid.UUID) (string, error) {
	ctx, span := tracing.StartJobEnqueueSpan(ctx, TypeReconcileUser)
	defer span.End()

	id, err := broker.Enqueue(TypeReconcileUser, NewReconcileUserPayload(ctx, userID))
	if err != nil {
		tracing.RecordError(ctx, err)
		return "", fmt.Errorf("failed to enqueue reconcile job: %w", err)
	}
	metrics.RecordJobEnqueued(TypeReconcileUser)
	return id, nil
}

// EnqueuePruneWebhookEvents schedules one dedup-table pruning pass.
func EnqueuePruneWebhookEvents(ctx context.Context, broker Broker, before time.Time) (string, error) {
	ctx, span := tracing.StartJobEnqueueSpan(ctx, TypePruneWebhookEvents)
	defer span.End()

	id, err := broker.Enqueue(TypePruneWebhookEvents, NewPruneWebhookEventsPayload(ctx, before))
	if err != nil {
		tracing.RecordError(ctx, err)
		return "", fmt.Errorf("failed to enqueue prune job: %w", err)
	}
	metrics.RecordJobEnqueued(TypePruneWebhookEvents)
	return id, nil
}
