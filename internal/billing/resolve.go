package billing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v83"

	"github.com/JovieInc/Jovie-sub015/internal/store"
)

// Subscriptions carry the internal user id in their metadata, set when the
// checkout session is created.
const metadataUserIDKey = "user_id"

// UserStore is the lookup surface the resolver needs from the store.
type UserStore interface {
	GetUserByStripeCustomerID(ctx context.Context, customerID string) (*store.BillingRecord, error)
}

// Resolver maps provider subscription objects to internal users. Inline
// metadata wins and costs no I/O; the customer-id lookup is the fallback.
// Unresolved is an expected outcome (test customers, orphaned
// subscriptions), never an error.
type Resolver struct {
	users  UserStore
	logger *slog.Logger
}

func NewResolver(users UserStore, logger *slog.Logger) *Resolver {
	return &Resolver{users: users, logger: logger}
}

func (r *Resolver) Resolve(ctx context.Context, sub *stripe.Subscription) (uuid.UUID, bool) {
	if sub == nil {
		return uuid.Nil, false
	}

	if raw, ok := sub.Metadata[metadataUserIDKey]; ok && raw != "" {
		userID, err := uuid.Parse(raw)
		if err == nil {
			return userID, true
		}
		r.logger.Warn("subscription metadata carries a malformed user id",
			"subscription_id", sub.ID,
			"error", err,
		)
	}

	rec, ok := r.ResolveCustomer(ctx, CustomerID(sub.Customer))
	if !ok {
		return uuid.Nil, false
	}
	return rec.UserID, true
}

// ResolveCustomer looks up the internal user owning a provider customer id.
// Store errors degrade to "not resolved": resolution fails open so a flaky
// lookup downgrades to a skip, never to a failed delivery.
func (r *Resolver) ResolveCustomer(ctx context.Context, customerID string) (*store.BillingRecord, bool) {
	if customerID == "" {
		return nil, false
	}

	rec, err := r.users.GetUserByStripeCustomerID(ctx, customerID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			r.logger.Warn("customer lookup failed during resolution",
				"customer_id", customerID,
				"error", err,
			)
		}
		return nil, false
	}
	return rec, true
}

// CustomerID normalizes Stripe's customer reference. Depending on expand
// parameters the SDK materializes either a bare id or a full object; both
// collapse to the id here and nowhere else.
func CustomerID(customer *stripe.Customer) string {
	if customer == nil {
		return ""
	}
	return customer.ID
}

// SubscriptionID does the same for subscription references.
func SubscriptionID(sub *stripe.Subscription) string {
	if sub == nil {
		return ""
	}
	return sub.ID
}

// subscriptionIDFromInvoice pulls the subscription reference out of a raw
// invoice payload. Depending on the account's API version it lives at the
// top level or under parent.subscription_details, and either location may
// hold a bare id or an expanded object. Empty means the invoice is not tied
// to a subscription (one-time payments).
func subscriptionIDFromInvoice(raw json.RawMessage) string {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}

	if id := refID(payload["subscription"]); id != "" {
		return id
	}
	if parent, ok := payload["parent"].(map[string]any); ok {
		if details, ok := parent["subscription_details"].(map[string]any); ok {
			return refID(details["subscription"])
		}
	}
	return ""
}

// refID normalizes a raw provider reference that is either a bare id string
// or an expanded object carrying an "id" field.
func refID(v any) string {
	switch ref := v.(type) {
	case string:
		return ref
	case map[string]any:
		if id, ok := ref["id"].(string); ok {
			return id
		}
	}
	return ""
}
