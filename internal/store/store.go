package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JovieInc/Jovie-sub015/internal/audit"
)

// BillingRecord is the billing projection of a users row. Zero-value string
// fields mean the corresponding column is NULL.
type BillingRecord struct {
	UserID               uuid.UUID
	ExternalAuthID       string
	Email                string
	IsAdmin              bool
	IsPro                bool
	Plan                 string
	StripeCustomerID     string
	StripeSubscriptionID string
	BillingVersion       int64
	LastBillingEventAt   time.Time
	UpdatedAt            time.Time
}

// Snapshot projects the record into its audited form.
func (r *BillingRecord) Snapshot() audit.Snapshot {
	return audit.Snapshot{
		IsPro:                r.IsPro,
		Plan:                 r.Plan,
		StripeCustomerID:     r.StripeCustomerID,
		StripeSubscriptionID: r.StripeSubscriptionID,
		BillingVersion:       r.BillingVersion,
	}
}

// ProcessedEvent records the outcome of one webhook delivery for dedup.
type ProcessedEvent struct {
	EventID     string
	EventType   string
	UserID      uuid.UUID
	Outcome     string
	ProcessedAt time.Time
}

const (
	OutcomeApplied      = "applied"
	OutcomeStaleIgnored = "stale_ignored"
	OutcomeSkipped      = "skipped"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

const billingRecordColumns = `id, external_auth_id, email, is_admin, is_pro, plan,
	stripe_customer_id, stripe_subscription_id, billing_version,
	last_billing_event_at, updated_at`

func scanBillingRecord(row pgx.Row) (*BillingRecord, error) {
	var (
		rec            BillingRecord
		customerID     pgtype.Text
		subscriptionID pgtype.Text
		lastEventAt    pgtype.Timestamptz
	)
	err := row.Scan(
		&rec.UserID,
		&rec.ExternalAuthID,
		&rec.Email,
		&rec.IsAdmin,
		&rec.IsPro,
		&rec.Plan,
		&customerID,
		&subscriptionID,
		&rec.BillingVersion,
		&lastEventAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if customerID.Valid {
		rec.StripeCustomerID = customerID.String
	}
	if subscriptionID.Valid {
		rec.StripeSubscriptionID = subscriptionID.String
	}
	if lastEventAt.Valid {
		rec.LastBillingEventAt = lastEventAt.Time
	}
	return &rec, nil
}

func (s *Store) GetBillingRecord(ctx context.Context, userID uuid.UUID) (*BillingRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+billingRecordColumns+` FROM users WHERE id = $1`, userID)
	rec, err := scanBillingRecord(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get billing record: %w", err)
	}
	return rec, nil
}

func (s *Store) GetUserByExternalAuthID(ctx context.Context, externalAuthID string) (*BillingRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+billingRecordColumns+` FROM users WHERE external_auth_id = $1`, externalAuthID)
	rec, err := scanBillingRecord(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by external auth id: %w", err)
	}
	return rec, nil
}

func (s *Store) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*BillingRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+billingRecordColumns+` FROM users WHERE stripe_customer_id = $1`, customerID)
	rec, err := scanBillingRecord(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by stripe customer id: %w", err)
	}
	return rec, nil
}

func (s *Store) GetUserByStripeSubscriptionID(ctx context.Context, subscriptionID string) (*BillingRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+billingRecordColumns+` FROM users WHERE stripe_subscription_id = $1`, subscriptionID)
	rec, err := scanBillingRecord(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by stripe subscription id: %w", err)
	}
	return rec, nil
}

// ListUsersWithSubscription pages through users holding a subscription id in
// stable user-id order. Pass uuid.Nil to start from the beginning.
func (s *Store) ListUsersWithSubscription(ctx context.Context, afterUserID uuid.UUID, limit int32) ([]BillingRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+billingRecordColumns+`
		 FROM users
		 WHERE stripe_subscription_id IS NOT NULL AND id > $1
		 ORDER BY id
		 LIMIT $2`, afterUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list users with subscription: %w", err)
	}
	defer rows.Close()

	var records []BillingRecord
	for rows.Next() {
		rec, err := scanBillingRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan billing record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list users with subscription: %w", err)
	}
	return records, nil
}

func (s *Store) WasEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM billing_webhook_events WHERE event_id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return exists, nil
}

// MarkEventProcessed records a delivery outcome outside the writer
// transaction. Used for skipped events that never reach the writer; applied
// and stale outcomes are recorded by the writer itself.
func (s *Store) MarkEventProcessed(ctx context.Context, event ProcessedEvent) error {
	if event.ProcessedAt.IsZero() {
		event.ProcessedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, insertProcessedEventSQL,
		event.EventID,
		event.EventType,
		uuidOrNil(event.UserID),
		event.Outcome,
		event.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// DeleteProcessedEventsBefore prunes dedup rows older than the provider's
// redelivery window.
func (s *Store) DeleteProcessedEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM billing_webhook_events WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune processed events: %w", err)
	}
	return tag.RowsAffected(), nil
}

const insertProcessedEventSQL = `
	INSERT INTO billing_webhook_events (event_id, event_type, user_id, outcome, processed_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (event_id) DO NOTHING`

func uuidOrNil(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: id != uuid.Nil}
}
