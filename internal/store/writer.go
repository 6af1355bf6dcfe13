package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JovieInc/Jovie-sub015/internal/apperror"
	"github.com/JovieInc/Jovie-sub015/internal/audit"
)

// WriteRequest describes one billing state change. Nil field pointers leave
// the column untouched; a pointer to the empty string clears it.
type WriteRequest struct {
	UserID          uuid.UUID
	Source          audit.Source
	EventType       audit.EventType
	ProviderEventID string
	// EventTime is the provider's event creation time for webhook writes.
	// Reconciliation writes ignore it and stamp time.Now instead.
	EventTime time.Time
	Reason    string
	Metadata  map[string]any

	IsPro                *bool
	Plan                 *string
	StripeCustomerID     *string
	StripeSubscriptionID *string
}

type WriteResult struct {
	Applied           bool
	StaleEventIgnored bool
	Before            audit.Snapshot
	After             audit.Snapshot
}

// Writer is the only component that mutates billing columns. Every apply
// runs in one transaction: row lock, staleness gate, field update with a
// version bump, audit append, dedup record. Concurrent writes for the same
// user serialize on the row lock; writes for different users do not contend.
type Writer struct {
	pool *pgxpool.Pool
}

func NewWriter(pool *pgxpool.Pool) *Writer {
	return &Writer{pool: pool}
}

const updateBillingSQL = `
	UPDATE users
	SET is_pro = $2,
	    plan = $3,
	    stripe_customer_id = NULLIF($4, ''),
	    stripe_subscription_id = NULLIF($5, ''),
	    billing_version = billing_version + 1,
	    last_billing_event_at = $6,
	    updated_at = now()
	WHERE id = $1`

func (w *Writer) Apply(ctx context.Context, req WriteRequest) (WriteResult, error) {
	if req.UserID == uuid.Nil {
		return WriteResult{}, fmt.Errorf("billing write requires a user id")
	}
	if req.Source == audit.SourceWebhook && req.EventTime.IsZero() {
		return WriteResult{}, fmt.Errorf("webhook billing write requires an event time")
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return WriteResult{}, fmt.Errorf("failed to begin billing write: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := lockBillingRecord(ctx, tx, req.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WriteResult{}, apperror.Wrap(err, apperror.ErrUserNotFound)
		}
		return WriteResult{}, fmt.Errorf("failed to lock billing record: %w", err)
	}

	before := rec.Snapshot()

	// Staleness gate. Webhooks deliver at least once and out of order;
	// an event at or before the last applied one must not regress state.
	// The delivery is still recorded so redeliveries dedup upstream.
	if req.Source == audit.SourceWebhook &&
		!rec.LastBillingEventAt.IsZero() &&
		!req.EventTime.After(rec.LastBillingEventAt) {
		if req.ProviderEventID != "" {
			err := insertProcessedEventTx(ctx, tx, ProcessedEvent{
				EventID:     req.ProviderEventID,
				EventType:   string(req.EventType),
				UserID:      req.UserID,
				Outcome:     OutcomeStaleIgnored,
				ProcessedAt: time.Now().UTC(),
			})
			if err != nil {
				return WriteResult{}, err
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return WriteResult{}, fmt.Errorf("failed to commit stale event record: %w", err)
		}
		return WriteResult{StaleEventIgnored: true, Before: before, After: before}, nil
	}

	after := before
	if req.IsPro != nil {
		after.IsPro = *req.IsPro
	}
	if req.Plan != nil {
		after.Plan = *req.Plan
	}
	if req.StripeCustomerID != nil {
		after.StripeCustomerID = *req.StripeCustomerID
	}
	if req.StripeSubscriptionID != nil {
		after.StripeSubscriptionID = *req.StripeSubscriptionID
	}
	after.BillingVersion = before.BillingVersion + 1

	effectiveAt := req.EventTime
	if req.Source == audit.SourceReconciliation || effectiveAt.IsZero() {
		effectiveAt = time.Now().UTC()
	}

	_, err = tx.Exec(ctx, updateBillingSQL,
		req.UserID,
		after.IsPro,
		after.Plan,
		after.StripeCustomerID,
		after.StripeSubscriptionID,
		effectiveAt,
	)
	if err != nil {
		return WriteResult{}, fmt.Errorf("failed to update billing record: %w", err)
	}

	entry := audit.Entry{
		ID:              uuid.New(),
		UserID:          req.UserID,
		Source:          req.Source,
		EventType:       req.EventType,
		ProviderEventID: req.ProviderEventID,
		Before:          before,
		After:           after,
		Reason:          req.Reason,
		Metadata:        req.Metadata,
		CreatedAt:       time.Now().UTC(),
	}
	if err := insertAuditEntryTx(ctx, tx, entry); err != nil {
		return WriteResult{}, err
	}

	if req.ProviderEventID != "" {
		err := insertProcessedEventTx(ctx, tx, ProcessedEvent{
			EventID:     req.ProviderEventID,
			EventType:   string(req.EventType),
			UserID:      req.UserID,
			Outcome:     OutcomeApplied,
			ProcessedAt: time.Now().UTC(),
		})
		if err != nil {
			return WriteResult{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return WriteResult{}, fmt.Errorf("failed to commit billing write: %w", err)
	}

	return WriteResult{Applied: true, Before: before, After: after}, nil
}

func lockBillingRecord(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*BillingRecord, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+billingRecordColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID)
	return scanBillingRecord(row)
}

func insertProcessedEventTx(ctx context.Context, tx pgx.Tx, event ProcessedEvent) error {
	_, err := tx.Exec(ctx, insertProcessedEventSQL,
		event.EventID,
		event.EventType,
		uuidOrNil(event.UserID),
		event.Outcome,
		event.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record processed event: %w", err)
	}
	return nil
}
