package reconcile

import (
	"bytes"
	"context"
	"net/http"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83"

	"github.com/JovieInc/Jovie-sub015/internal/store"
)

type fakeLister struct {
	records []store.BillingRecord
	calls   int
}

func newFakeLister(records []store.BillingRecord) *fakeLister {
	sorted := make([]store.BillingRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].UserID[:], sorted[j].UserID[:]) < 0
	})
	return &fakeLister{records: sorted}
}

func (f *fakeLister) ListUsersWithSubscription(ctx context.Context, afterUserID uuid.UUID, limit int32) ([]store.BillingRecord, error) {
	f.calls++
	var page []store.BillingRecord
	for _, rec := range f.records {
		if bytes.Compare(rec.UserID[:], afterUserID[:]) <= 0 {
			continue
		}
		page = append(page, rec)
		if len(page) == int(limit) {
			break
		}
	}
	return page, nil
}

func TestSweeperCountsOutcomes(t *testing.T) {
	consistent := testRecord(true, "sub_ok")
	drifted := testRecord(true, "sub_drifted")
	failing := testRecord(true, "sub_limited")

	provider := &fakeProvider{
		subs: map[string]*stripe.Subscription{
			"sub_ok":      testSubscription("sub_ok", stripe.SubscriptionStatusActive, testPricePro),
			"sub_drifted": testSubscription("sub_drifted", stripe.SubscriptionStatusCanceled, testPricePro),
		},
		errs: map[string]error{
			"sub_limited": &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests, Msg: "rate limited"},
		},
	}
	writer := &fakeWriter{}
	checker := newTestChecker(provider, writer, nil)
	lister := newFakeLister([]store.BillingRecord{*consistent, *drifted, *failing})

	stats, err := NewSweeper(lister, checker, 100, 4).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if stats.Scanned != 3 {
		t.Errorf("Scanned = %d, want 3", stats.Scanned)
	}
	if stats.Consistent != 1 {
		t.Errorf("Consistent = %d, want 1", stats.Consistent)
	}
	if stats.Fixed != 1 {
		t.Errorf("Fixed = %d, want 1", stats.Fixed)
	}
	if stats.ProviderErrors != 1 {
		t.Errorf("ProviderErrors = %d, want 1", stats.ProviderErrors)
	}
	if !stats.Drifted() {
		t.Error("Drifted() = false, want true after a fix")
	}
	if len(writer.requests) != 1 {
		t.Errorf("writer called %d times, want 1", len(writer.requests))
	}
}

func TestSweeperProviderErrorDoesNotAbort(t *testing.T) {
	records := make([]store.BillingRecord, 0, 5)
	provider := &fakeProvider{subs: map[string]*stripe.Subscription{}, errs: map[string]error{}}
	for i := 0; i < 5; i++ {
		rec := testRecord(true, "sub_"+uuid.NewString())
		records = append(records, *rec)
		if i == 2 {
			provider.errs[rec.StripeSubscriptionID] = &stripe.Error{HTTPStatusCode: http.StatusInternalServerError}
			continue
		}
		provider.subs[rec.StripeSubscriptionID] = testSubscription(rec.StripeSubscriptionID, stripe.SubscriptionStatusActive, testPricePro)
	}

	checker := newTestChecker(provider, &fakeWriter{}, nil)
	stats, err := NewSweeper(newFakeLister(records), checker, 2, 2).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if stats.Scanned != 5 {
		t.Errorf("Scanned = %d, want 5 (sweep must survive one user's failure)", stats.Scanned)
	}
	if stats.ProviderErrors != 1 {
		t.Errorf("ProviderErrors = %d, want 1", stats.ProviderErrors)
	}
	if stats.Consistent != 4 {
		t.Errorf("Consistent = %d, want 4", stats.Consistent)
	}
}

func TestSweeperPagination(t *testing.T) {
	records := make([]store.BillingRecord, 0, 5)
	provider := &fakeProvider{subs: map[string]*stripe.Subscription{}}
	for i := 0; i < 5; i++ {
		rec := testRecord(true, "sub_"+uuid.NewString())
		provider.subs[rec.StripeSubscriptionID] = testSubscription(rec.StripeSubscriptionID, stripe.SubscriptionStatusActive, testPricePro)
		records = append(records, *rec)
	}

	lister := newFakeLister(records)
	checker := newTestChecker(provider, &fakeWriter{}, nil)

	stats, err := NewSweeper(lister, checker, 2, 1).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if stats.Scanned != 5 {
		t.Errorf("Scanned = %d, want 5", stats.Scanned)
	}
	// Pages of 2, 2, 1; the short final page ends the scan.
	if lister.calls != 3 {
		t.Errorf("lister called %d times, want 3", lister.calls)
	}
}

func TestSweeperResultHook(t *testing.T) {
	records := make([]store.BillingRecord, 0, 3)
	provider := &fakeProvider{subs: map[string]*stripe.Subscription{}}
	for i := 0; i < 3; i++ {
		rec := testRecord(true, "sub_"+uuid.NewString())
		provider.subs[rec.StripeSubscriptionID] = testSubscription(rec.StripeSubscriptionID, stripe.SubscriptionStatusActive, testPricePro)
		records = append(records, *rec)
	}

	var mu sync.Mutex
	seen := map[uuid.UUID]CheckOutcome{}
	checker := newTestChecker(provider, &fakeWriter{}, nil)
	sweeper := NewSweeper(newFakeLister(records), checker, 100, 4).
		WithResultHook(func(rec store.BillingRecord, outcome CheckOutcome) {
			mu.Lock()
			seen[rec.UserID] = outcome
			mu.Unlock()
		})

	if _, err := sweeper.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(seen) != 3 {
		t.Fatalf("hook saw %d users, want 3", len(seen))
	}
	for _, rec := range records {
		if seen[rec.UserID] != OutcomeConsistent {
			t.Errorf("hook outcome for %v = %v, want consistent", rec.UserID, seen[rec.UserID])
		}
	}
}

func TestSweeperEmptyListing(t *testing.T) {
	checker := newTestChecker(&fakeProvider{}, &fakeWriter{}, nil)
	stats, err := NewSweeper(newFakeLister(nil), checker, 100, 4).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.Scanned != 0 {
		t.Errorf("Scanned = %d, want 0", stats.Scanned)
	}
	if stats.Drifted() {
		t.Error("Drifted() = true for an empty sweep")
	}
}

func TestSweeperContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	checker := newTestChecker(&fakeProvider{}, &fakeWriter{}, nil)
	_, err := NewSweeper(newFakeLister(nil), checker, 100, 4).Run(ctx)
	if err == nil {
		t.Fatal("Run() with canceled context expected error")
	}
}
