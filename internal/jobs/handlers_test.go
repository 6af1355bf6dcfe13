package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JovieInc/Jovie-sub015/internal/apperror"
	"github.com/JovieInc/Jovie-sub015/internal/reconcile"
	"github.com/JovieInc/Jovie-sub015/internal/store"
)

type mockJob struct {
	id      string
	jobType string
	payload []byte
}

func (j *mockJob) ID() string   { return j.id }
func (j *mockJob) Type() string { return j.jobType }
func (j *mockJob) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(j.payload, v)
}

func newMockJob(t *testing.T, jobType string, payload interface{}) *mockJob {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return &mockJob{
		id:      uuid.New().String(),
		jobType: jobType,
		payload: data,
	}
}

type fakeRecords struct {
	mu    sync.Mutex
	rec   *store.BillingRecord
	err   error
	calls int
}

func (f *fakeRecords) GetBillingRecord(ctx context.Context, userID uuid.UUID) (*store.BillingRecord, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.rec == nil || f.rec.UserID != userID {
		return nil, pgx.ErrNoRows
	}
	rec := *f.rec
	return &rec, nil
}

type fakeChecker struct {
	mu      sync.Mutex
	outcome reconcile.CheckOutcome
	err     error
	got     []*store.BillingRecord
}

func (f *fakeChecker) CheckUser(ctx context.Context, rec *store.BillingRecord) (reconcile.CheckOutcome, error) {
	f.mu.Lock()
	f.got = append(f.got, rec)
	f.mu.Unlock()
	if f.err != nil {
		return f.outcome, f.err
	}
	return f.outcome, nil
}

func (f *fakeChecker) checks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

type fakePruner struct {
	deleted   int64
	err       error
	gotCutoff time.Time
}

func (f *fakePruner) DeleteProcessedEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.gotCutoff = cutoff
	if f.err != nil {
		return 0, f.err
	}
	return f.deleted, nil
}

// The pool hands handlers a concrete *job.Job, so the retry policy is
// exercised here through mirrors that accept the mock instead. The
// mirrors must branch exactly like ReconcileUserHandler and
// PruneWebhookEventsHandler do.
func testReconcileUserHandler(deps *Dependencies) func(context.Context, *mockJob) error {
	return func(ctx context.Context, j *mockJob) error {
		var payload ReconcileUserPayload
		if err := j.UnmarshalPayload(&payload); err != nil {
			return &permanentError{err: fmt.Errorf("invalid payload: %w", err)}
		}

		if payload.UserID == uuid.Nil {
			return &permanentError{err: errors.New("reconcile job carries no user id")}
		}

		rec, err := deps.Records.GetBillingRecord(ctx, payload.UserID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &permanentError{err: fmt.Errorf("user %s not found: %w", payload.UserID, err)}
			}
			return fmt.Errorf("failed to load billing record: %w", err)
		}

		_, err = deps.Checker.CheckUser(ctx, rec)
		if err != nil {
			if !apperror.IsRetryable(err) {
				return &permanentError{err: fmt.Errorf("failed to reconcile user: %w", err)}
			}
			return fmt.Errorf("failed to reconcile user: %w", err)
		}
		return nil
	}
}

func testPruneWebhookEventsHandler(deps *Dependencies) func(context.Context, *mockJob) error {
	return func(ctx context.Context, j *mockJob) error {
		var payload PruneWebhookEventsPayload
		if err := j.UnmarshalPayload(&payload); err != nil {
			return &permanentError{err: fmt.Errorf("invalid payload: %w", err)}
		}

		if payload.Before.IsZero() {
			return &permanentError{err: errors.New("prune job carries no cutoff")}
		}

		if _, err := deps.Events.DeleteProcessedEventsBefore(ctx, payload.Before); err != nil {
			return fmt.Errorf("failed to prune webhook events: %w", err)
		}
		return nil
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

func isPermanentError(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

func TestReconcileUserHandler(t *testing.T) {
	userID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")

	record := &store.BillingRecord{
		UserID:               userID,
		IsPro:                true,
		Plan:                 "pro",
		StripeSubscriptionID: "sub_123",
	}

	tests := []struct {
		name          string
		payload       interface{}
		rawPayload    []byte
		record        *store.BillingRecord
		recordErr     error
		checkOutcome  reconcile.CheckOutcome
		checkErr      error
		wantErr       bool
		wantPermanent bool
		wantChecks    int
	}{
		{
			name:         "successful reconciliation",
			payload:      ReconcileUserPayload{UserID: userID},
			record:       record,
			checkOutcome: reconcile.OutcomeConsistent,
			wantChecks:   1,
		},
		{
			name:          "malformed payload",
			rawPayload:    []byte("{not json"),
			wantErr:       true,
			wantPermanent: true,
		},
		{
			name:          "missing user id",
			payload:       ReconcileUserPayload{},
			wantErr:       true,
			wantPermanent: true,
		},
		{
			name:          "user deleted before job ran",
			payload:       ReconcileUserPayload{UserID: userID},
			recordErr:     pgx.ErrNoRows,
			wantErr:       true,
			wantPermanent: true,
		},
		{
			name:      "record load hits transient database error",
			payload:   ReconcileUserPayload{UserID: userID},
			recordErr: errors.New("connection reset"),
			wantErr:   true,
		},
		{
			name:         "provider outage is retried",
			payload:      ReconcileUserPayload{UserID: userID},
			record:       record,
			checkOutcome: reconcile.OutcomeProviderError,
			checkErr:     errors.New("provider_error: rate limited"),
			wantErr:      true,
			wantChecks:   1,
		},
		{
			name:          "user row vanished mid fix",
			payload:       ReconcileUserPayload{UserID: userID},
			record:        record,
			checkOutcome:  reconcile.OutcomeFixFailed,
			checkErr:      fmt.Errorf("failed to apply fix: %w", apperror.Wrap(pgx.ErrNoRows, apperror.ErrUserNotFound)),
			wantErr:       true,
			wantPermanent: true,
			wantChecks:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := &fakeRecords{rec: tt.record, err: tt.recordErr}
			checker := &fakeChecker{outcome: tt.checkOutcome, err: tt.checkErr}
			deps := &Dependencies{Records: records, Checker: checker}

			var j *mockJob
			if tt.rawPayload != nil {
				j = &mockJob{id: uuid.New().String(), jobType: TypeReconcileUser, payload: tt.rawPayload}
			} else {
				j = newMockJob(t, TypeReconcileUser, tt.payload)
			}

			handler := testReconcileUserHandler(deps)
			err := handler(context.Background(), j)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if got := isPermanentError(err); got != tt.wantPermanent {
					t.Errorf("permanent = %v, want %v (err: %v)", got, tt.wantPermanent, err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if checker.checks() != tt.wantChecks {
				t.Errorf("checker called %d times, want %d", checker.checks(), tt.wantChecks)
			}
		})
	}
}

func TestReconcileUserHandler_PassesLoadedRecord(t *testing.T) {
	userID := uuid.MustParse("660e8400-e29b-41d4-a716-446655440000")
	records := &fakeRecords{rec: &store.BillingRecord{
		UserID:               userID,
		IsPro:                false,
		Plan:                 "free",
		StripeSubscriptionID: "sub_stale",
	}}
	checker := &fakeChecker{outcome: reconcile.OutcomeFixed}
	deps := &Dependencies{Records: records, Checker: checker}

	handler := testReconcileUserHandler(deps)
	if err := handler(context.Background(), newMockJob(t, TypeReconcileUser, ReconcileUserPayload{UserID: userID})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(checker.got) != 1 {
		t.Fatalf("checker called %d times, want 1", len(checker.got))
	}
	got := checker.got[0]
	if got.UserID != userID {
		t.Errorf("checker received user %s, want %s", got.UserID, userID)
	}
	if got.StripeSubscriptionID != "sub_stale" {
		t.Errorf("checker received subscription %q, want %q", got.StripeSubscriptionID, "sub_stale")
	}
}

func TestReconcileUserHandler_Concurrent(t *testing.T) {
	userID := uuid.MustParse("770e8400-e29b-41d4-a716-446655440000")
	records := &fakeRecords{rec: &store.BillingRecord{UserID: userID, IsPro: true}}
	checker := &fakeChecker{outcome: reconcile.OutcomeConsistent}
	deps := &Dependencies{Records: records, Checker: checker}
	handler := testReconcileUserHandler(deps)

	const n = 10
	errCh := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- handler(context.Background(), newMockJob(t, TypeReconcileUser, ReconcileUserPayload{UserID: userID}))
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if checker.checks() != n {
		t.Errorf("checker called %d times, want %d", checker.checks(), n)
	}
}

func TestPruneWebhookEventsHandler(t *testing.T) {
	cutoff := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		payload       interface{}
		rawPayload    []byte
		pruneErr      error
		wantErr       bool
		wantPermanent bool
		wantCutoff    time.Time
	}{
		{
			name:       "deletes rows older than cutoff",
			payload:    PruneWebhookEventsPayload{Before: cutoff},
			wantCutoff: cutoff,
		},
		{
			name:          "malformed payload",
			rawPayload:    []byte("]["),
			wantErr:       true,
			wantPermanent: true,
		},
		{
			name:          "zero cutoff",
			payload:       PruneWebhookEventsPayload{},
			wantErr:       true,
			wantPermanent: true,
		},
		{
			name:       "transient database error is retried",
			payload:    PruneWebhookEventsPayload{Before: cutoff},
			pruneErr:   errors.New("connection refused"),
			wantErr:    true,
			wantCutoff: cutoff,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pruner := &fakePruner{deleted: 42, err: tt.pruneErr}
			deps := &Dependencies{Events: pruner}

			var j *mockJob
			if tt.rawPayload != nil {
				j = &mockJob{id: uuid.New().String(), jobType: TypePruneWebhookEvents, payload: tt.rawPayload}
			} else {
				j = newMockJob(t, TypePruneWebhookEvents, tt.payload)
			}

			handler := testPruneWebhookEventsHandler(deps)
			err := handler(context.Background(), j)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if got := isPermanentError(err); got != tt.wantPermanent {
					t.Errorf("permanent = %v, want %v (err: %v)", got, tt.wantPermanent, err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if !pruner.gotCutoff.Equal(tt.wantCutoff) {
				t.Errorf("pruner cutoff = %v, want %v", pruner.gotCutoff, tt.wantCutoff)
			}
		})
	}
}

func TestNewReconcileUserPayload(t *testing.T) {
	userID := uuid.New()
	p := NewReconcileUserPayload(context.Background(), userID)
	if p.UserID != userID {
		t.Errorf("UserID = %s, want %s", p.UserID, userID)
	}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded ReconcileUserPayload
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.UserID != userID {
		t.Errorf("round-tripped UserID = %s, want %s", decoded.UserID, userID)
	}
}
