package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Source identifies which path mutated (or observed) the billing state.
type Source string

const (
	SourceWebhook        Source = "webhook"
	SourceReconciliation Source = "reconciliation"
)

type EventType string

const (
	EventPaymentSucceeded    EventType = "invoice.payment_succeeded"
	EventPaymentFailed       EventType = "invoice.payment_failed"
	EventSubscriptionCreated EventType = "customer.subscription.created"
	EventSubscriptionUpdated EventType = "customer.subscription.updated"
	EventSubscriptionDeleted EventType = "customer.subscription.deleted"
	EventCheckoutCompleted   EventType = "checkout.session.completed"

	EventStatusMismatch      EventType = "reconciliation.status_mismatch"
	EventSubscriptionMissing EventType = "reconciliation.subscription_missing"
)

// Snapshot is the audited projection of a user's billing columns. Before and
// after snapshots are stored with every entry so an incident can be replayed
// without joining against a mutable table.
type Snapshot struct {
	IsPro                bool   `json:"is_pro"`
	Plan                 string `json:"plan"`
	StripeCustomerID     string `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string `json:"stripe_subscription_id,omitempty"`
	BillingVersion       int64  `json:"billing_version"`
}

func (s Snapshot) Equal(other Snapshot) bool {
	return s.IsPro == other.IsPro &&
		s.Plan == other.Plan &&
		s.StripeCustomerID == other.StripeCustomerID &&
		s.StripeSubscriptionID == other.StripeSubscriptionID
}

type Entry struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Source          Source
	EventType       EventType
	ProviderEventID string
	Before          Snapshot
	After           Snapshot
	Reason          string
	Metadata        map[string]any
	CreatedAt       time.Time
}

// MarshalMetadata renders entry metadata for storage. Marshal failures
// degrade to nil rather than blocking the write that carries the entry.
func MarshalMetadata(metadata map[string]any) []byte {
	if metadata == nil {
		return nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return nil
	}
	return b
}

type Querier interface {
	InsertAuditEntry(ctx context.Context, entry Entry) error
}

// Logger appends standalone audit entries outside the state writer's
// transaction, for events that are observed but never change entitlement
// (individual failed payments, for example). Writer-applied changes are
// audited inside the write transaction instead.
type Logger struct {
	queries Querier
}

func NewLogger(queries Querier) *Logger {
	return &Logger{queries: queries}
}

func (l *Logger) Log(ctx context.Context, entry Entry) error {
	if l.queries == nil {
		return nil
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return l.queries.InsertAuditEntry(ctx, entry)
}
