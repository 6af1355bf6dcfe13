package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/job-queue/pkg/job"
	"github.com/abdul-hamid-achik/job-queue/pkg/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JovieInc/Jovie-sub015/internal/apperror"
	"github.com/JovieInc/Jovie-sub015/internal/logger"
	"github.com/JovieInc/Jovie-sub015/internal/reconcile"
	"github.com/JovieInc/Jovie-sub015/internal/store"
	"github.com/JovieInc/Jovie-sub015/internal/tracing"
)

// RecordGetter loads the billing record a reconcile job works on.
type RecordGetter interface {
	GetBillingRecord(ctx context.Context, userID uuid.UUID) (*store.BillingRecord, error)
}

// UserChecker reconciles one record. Satisfied by reconcile.Checker.
type UserChecker interface {
	CheckUser(ctx context.Context, rec *store.BillingRecord) (reconcile.CheckOutcome, error)
}

// EventPruner deletes expired dedup rows. Satisfied by store.Store.
type EventPruner interface {
	DeleteProcessedEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Dependencies struct {
	Records RecordGetter
	Checker UserChecker
	Events  EventPruner
}

// ReconcileUserHandler returns the worker handler for one-user
// reconciliation. Transient failures (provider outages, DB hiccups) are
// returned plain so the queue retries with backoff; conditions a retry
// cannot cure are wrapped permanent.
func ReconcileUserHandler(deps *Dependencies) func(context.Context, *job.Job) error {
	return func(ctx context.Context, j *job.Job) error {
		var payload ReconcileUserPayload
		if err := j.UnmarshalPayload(&payload); err != nil {
			logger.FromContext(ctx).Error("invalid payload", "job_id", j.ID, "error", err)
			return middleware.Permanent(fmt.Errorf("invalid payload: %w", err))
		}

		ctx = tracing.ExtractTraceContext(ctx, payload.Trace)
		ctx, span := tracing.StartJobSpan(ctx, TypeReconcileUser, j.ID)
		defer span.End()

		log := logger.FromContext(ctx).With(
			"job_id", j.ID,
			"job_type", TypeReconcileUser,
			"user_id", payload.UserID,
		)
		log.Info("job started")
		start := time.Now()

		if payload.UserID == uuid.Nil {
			return middleware.Permanent(fmt.Errorf("reconcile job carries no user id"))
		}

		rec, err := deps.Records.GetBillingRecord(ctx, payload.UserID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// The user was deleted after the job was enqueued.
				log.Warn("user no longer exists, dropping job")
				return middleware.Permanent(fmt.Errorf("user %s not found: %w", payload.UserID, err))
			}
			log.Error("failed to load billing record", "error", err)
			return fmt.Errorf("failed to load billing record: %w", err)
		}

		outcome, err := deps.Checker.CheckUser(ctx, rec)
		if err != nil {
			tracing.RecordError(ctx, err)
			log.Error("reconciliation failed", "outcome", outcome, "error", err)
			if !apperror.IsRetryable(err) {
				return middleware.Permanent(fmt.Errorf("failed to reconcile user: %w", err))
			}
			return fmt.Errorf("failed to reconcile user: %w", err)
		}

		log.Info("job completed",
			"outcome", outcome,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	}
}

// PruneWebhookEventsHandler returns the worker handler that trims dedup
// rows older than the provider's redelivery window.
func PruneWebhookEventsHandler(deps *Dependencies) func(context.Context, *job.Job) error {
	return func(ctx context.Context, j *job.Job) error {
		var payload PruneWebhookEventsPayload
		if err := j.UnmarshalPayload(&payload); err != nil {
			logger.FromContext(ctx).Error("invalid payload", "job_id", j.ID, "error", err)
			return middleware.Permanent(fmt.Errorf("invalid payload: %w", err))
		}

		ctx = tracing.ExtractTraceContext(ctx, payload.Trace)
		ctx, span := tracing.StartJobSpan(ctx, TypePruneWebhookEvents, j.ID)
		defer span.End()

		log := logger.FromContext(ctx).With("job_id", j.ID, "job_type", TypePruneWebhookEvents)
		log.Info("job started")
		start := time.Now()

		if payload.Before.IsZero() {
			return middleware.Permanent(fmt.Errorf("prune job carries no cutoff"))
		}

		deleted, err := deps.Events.DeleteProcessedEventsBefore(ctx, payload.Before)
		if err != nil {
			log.Error("failed to prune webhook events", "error", err)
			return fmt.Errorf("failed to prune webhook events: %w", err)
		}

		log.Info("job completed",
			"deleted", deleted,
			"cutoff", payload.Before,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	}
}
