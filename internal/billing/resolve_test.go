package billing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v83"

	"github.com/JovieInc/Jovie-sub015/internal/logger"
	"github.com/JovieInc/Jovie-sub015/internal/store"
)

type fakeUserStore struct {
	byCustomer map[string]*store.BillingRecord
	err        error
	lookups    int
}

func (f *fakeUserStore) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*store.BillingRecord, error) {
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.byCustomer[customerID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return rec, nil
}

func TestResolveMetadataWins(t *testing.T) {
	userID := uuid.New()
	users := &fakeUserStore{byCustomer: map[string]*store.BillingRecord{
		"cus_123": {UserID: uuid.New()},
	}}
	r := NewResolver(users, logger.NewTestLogger())

	sub := &stripe.Subscription{
		ID:       "sub_1",
		Customer: &stripe.Customer{ID: "cus_123"},
		Metadata: map[string]string{"user_id": userID.String()},
	}

	got, ok := r.Resolve(context.Background(), sub)
	if !ok {
		t.Fatal("Resolve() failed for a subscription with metadata")
	}
	if got != userID {
		t.Errorf("resolved user = %v, want the metadata user %v", got, userID)
	}
	if users.lookups != 0 {
		t.Errorf("store queried %d times, metadata resolution should cost no I/O", users.lookups)
	}
}

func TestResolveMalformedMetadataFallsBack(t *testing.T) {
	userID := uuid.New()
	users := &fakeUserStore{byCustomer: map[string]*store.BillingRecord{
		"cus_123": {UserID: userID},
	}}
	r := NewResolver(users, logger.NewTestLogger())

	sub := &stripe.Subscription{
		ID:       "sub_1",
		Customer: &stripe.Customer{ID: "cus_123"},
		Metadata: map[string]string{"user_id": "not-a-uuid"},
	}

	got, ok := r.Resolve(context.Background(), sub)
	if !ok {
		t.Fatal("Resolve() should fall back to the customer lookup")
	}
	if got != userID {
		t.Errorf("resolved user = %v, want %v", got, userID)
	}
	if users.lookups != 1 {
		t.Errorf("store queried %d times, want 1", users.lookups)
	}
}

func TestResolveByCustomerLookup(t *testing.T) {
	userID := uuid.New()
	users := &fakeUserStore{byCustomer: map[string]*store.BillingRecord{
		"cus_123": {UserID: userID},
	}}
	r := NewResolver(users, logger.NewTestLogger())

	sub := &stripe.Subscription{
		ID:       "sub_1",
		Customer: &stripe.Customer{ID: "cus_123"},
	}

	got, ok := r.Resolve(context.Background(), sub)
	if !ok || got != userID {
		t.Errorf("Resolve() = %v, %v; want %v, true", got, ok, userID)
	}
}

func TestResolveUnknownCustomer(t *testing.T) {
	r := NewResolver(&fakeUserStore{}, logger.NewTestLogger())

	sub := &stripe.Subscription{
		ID:       "sub_1",
		Customer: &stripe.Customer{ID: "cus_stranger"},
	}

	if _, ok := r.Resolve(context.Background(), sub); ok {
		t.Error("Resolve() succeeded for a customer with no local row")
	}
}

func TestResolveFailsOpenOnStoreError(t *testing.T) {
	users := &fakeUserStore{err: errors.New("connection refused")}
	r := NewResolver(users, logger.NewTestLogger())

	sub := &stripe.Subscription{
		ID:       "sub_1",
		Customer: &stripe.Customer{ID: "cus_123"},
	}

	if _, ok := r.Resolve(context.Background(), sub); ok {
		t.Error("Resolve() should report unresolved when the store fails")
	}
}

func TestResolveNilSubscription(t *testing.T) {
	r := NewResolver(&fakeUserStore{}, logger.NewTestLogger())
	if _, ok := r.Resolve(context.Background(), nil); ok {
		t.Error("Resolve(nil) should report unresolved")
	}
}

func TestResolveCustomerEmptyID(t *testing.T) {
	users := &fakeUserStore{}
	r := NewResolver(users, logger.NewTestLogger())

	if _, ok := r.ResolveCustomer(context.Background(), ""); ok {
		t.Error("ResolveCustomer(\"\") should report unresolved")
	}
	if users.lookups != 0 {
		t.Error("empty customer id should not hit the store")
	}
}

func TestReferenceIDs(t *testing.T) {
	if got := CustomerID(nil); got != "" {
		t.Errorf("CustomerID(nil) = %q, want empty", got)
	}
	if got := CustomerID(&stripe.Customer{ID: "cus_1"}); got != "cus_1" {
		t.Errorf("CustomerID = %q, want cus_1", got)
	}
	if got := SubscriptionID(nil); got != "" {
		t.Errorf("SubscriptionID(nil) = %q, want empty", got)
	}
	if got := SubscriptionID(&stripe.Subscription{ID: "sub_1"}); got != "sub_1" {
		t.Errorf("SubscriptionID = %q, want sub_1", got)
	}
}

func TestSubscriptionIDFromInvoice(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "top level bare id",
			raw:  `{"id":"in_1","subscription":"sub_123"}`,
			want: "sub_123",
		},
		{
			name: "top level expanded object",
			raw:  `{"id":"in_1","subscription":{"id":"sub_123","status":"active"}}`,
			want: "sub_123",
		},
		{
			name: "parent subscription details bare id",
			raw:  `{"id":"in_1","parent":{"subscription_details":{"subscription":"sub_456"}}}`,
			want: "sub_456",
		},
		{
			name: "parent subscription details expanded",
			raw:  `{"id":"in_1","parent":{"subscription_details":{"subscription":{"id":"sub_456"}}}}`,
			want: "sub_456",
		},
		{
			name: "one-time payment",
			raw:  `{"id":"in_1","amount_due":999}`,
			want: "",
		},
		{
			name: "malformed payload",
			raw:  `{"id":`,
			want: "",
		},
		{
			name: "expanded object without id",
			raw:  `{"id":"in_1","subscription":{"status":"active"}}`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := subscriptionIDFromInvoice(json.RawMessage(tt.raw)); got != tt.want {
				t.Errorf("subscriptionIDFromInvoice() = %q, want %q", got, tt.want)
			}
		})
	}
}
