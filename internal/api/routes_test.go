package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JovieInc/Jovie-sub015/internal/store"
)

type fakeStatusQuerier struct {
	records     map[uuid.UUID]*store.BillingRecord
	byAuthID    map[string]*store.BillingRecord
	err         error
	byIDCalls   int
	byAuthCalls int
}

func (f *fakeStatusQuerier) GetBillingRecord(ctx context.Context, userID uuid.UUID) (*store.BillingRecord, error) {
	f.byIDCalls++
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.records[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return rec, nil
}

func (f *fakeStatusQuerier) GetUserByExternalAuthID(ctx context.Context, externalAuthID string) (*store.BillingRecord, error) {
	f.byAuthCalls++
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.byAuthID[externalAuthID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return rec, nil
}

func newTestRouter(records StatusQuerier, webhook http.Handler) http.Handler {
	return NewRouter(&Config{
		Records:   records,
		Webhook:   webhook,
		JWTSecret: testJWTSecret,
	})
}

func TestStatusEndpoint(t *testing.T) {
	userID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	rec := &store.BillingRecord{
		UserID:               userID,
		ExternalAuthID:       "user_2NiWoZK2kHlqx",
		IsPro:                true,
		Plan:                 "pro",
		StripeCustomerID:     "cus_123",
		StripeSubscriptionID: "sub_456",
		UpdatedAt:            time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name        string
		subject     string
		noAuth      bool
		queryErr    error
		wantStatus  int
		wantIsPro   bool
		wantPlan    string
		wantByID    int
		wantByAuth  int
	}{
		{
			name:       "uuid subject resolves by user id",
			subject:    userID.String(),
			wantStatus: http.StatusOK,
			wantIsPro:  true,
			wantPlan:   "pro",
			wantByID:   1,
		},
		{
			name:       "opaque subject resolves by external auth id",
			subject:    "user_2NiWoZK2kHlqx",
			wantStatus: http.StatusOK,
			wantIsPro:  true,
			wantPlan:   "pro",
			wantByAuth: 1,
		},
		{
			name:       "unknown user",
			subject:    "user_unknown",
			wantStatus: http.StatusNotFound,
			wantByAuth: 1,
		},
		{
			name:       "missing token",
			noAuth:     true,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "store failure",
			subject:    userID.String(),
			queryErr:   context.DeadlineExceeded,
			wantStatus: http.StatusInternalServerError,
			wantByID:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			querier := &fakeStatusQuerier{
				records:  map[uuid.UUID]*store.BillingRecord{userID: rec},
				byAuthID: map[string]*store.BillingRecord{rec.ExternalAuthID: rec},
				err:      tt.queryErr,
			}
			router := newTestRouter(querier, nil)

			req := httptest.NewRequest("GET", "/v1/billing/status", nil)
			if !tt.noAuth {
				req.Header.Set("Authorization", "Bearer "+createToken(t, tt.subject, testJWTSecret, time.Hour))
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body = %s", w.Code, tt.wantStatus, w.Body.String())
			}

			if tt.wantStatus == http.StatusOK {
				var resp StatusResponse
				if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
					t.Fatalf("decode response: %v", err)
				}
				if resp.IsPro != tt.wantIsPro {
					t.Errorf("is_pro = %v, want %v", resp.IsPro, tt.wantIsPro)
				}
				if resp.Plan != tt.wantPlan {
					t.Errorf("plan = %q, want %q", resp.Plan, tt.wantPlan)
				}
				if resp.UserID != userID.String() {
					t.Errorf("user_id = %q, want %q", resp.UserID, userID)
				}
				if resp.StripeSubscriptionID != "sub_456" {
					t.Errorf("stripe_subscription_id = %q, want %q", resp.StripeSubscriptionID, "sub_456")
				}
			}

			if querier.byIDCalls != tt.wantByID {
				t.Errorf("GetBillingRecord calls = %d, want %d", querier.byIDCalls, tt.wantByID)
			}
			if querier.byAuthCalls != tt.wantByAuth {
				t.Errorf("GetUserByExternalAuthID calls = %d, want %d", querier.byAuthCalls, tt.wantByAuth)
			}
		})
	}
}

func TestWebhookRouteIsPublic(t *testing.T) {
	var called bool
	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	router := newTestRouter(&fakeStatusQuerier{}, webhook)

	req := httptest.NewRequest("POST", "/webhooks/billing", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if !called {
		t.Fatal("webhook handler was not invoked")
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestWebhookRouteRejectsGet(t *testing.T) {
	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router := newTestRouter(&fakeStatusQuerier{}, webhook)

	req := httptest.NewRequest("GET", "/webhooks/billing", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestLivenessEndpoint(t *testing.T) {
	router := newTestRouter(&fakeStatusQuerier{}, nil)

	req := httptest.NewRequest("GET", "/health/live", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}
