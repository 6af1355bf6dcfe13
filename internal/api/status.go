package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JovieInc/Jovie-sub015/internal/apperror"
	"github.com/JovieInc/Jovie-sub015/internal/store"
)

// StatusQuerier is the read surface of the entitlement endpoint.
// Satisfied by store.Store.
type StatusQuerier interface {
	GetBillingRecord(ctx context.Context, userID uuid.UUID) (*store.BillingRecord, error)
	GetUserByExternalAuthID(ctx context.Context, externalAuthID string) (*store.BillingRecord, error)
}

type StatusResponse struct {
	UserID               string    `json:"user_id"`
	IsPro                bool      `json:"is_pro"`
	Plan                 string    `json:"plan"`
	StripeCustomerID     string    `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string    `json:"stripe_subscription_id,omitempty"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func statusHandler(records StatusQuerier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, ok := GetSubject(r.Context())
		if !ok {
			apperror.WriteJSON(w, r, apperror.ErrUnauthorized)
			return
		}

		var rec *store.BillingRecord
		var err error
		if userID, parseErr := uuid.Parse(sub); parseErr == nil {
			rec, err = records.GetBillingRecord(r.Context(), userID)
		} else {
			rec, err = records.GetUserByExternalAuthID(r.Context(), sub)
		}
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				apperror.WriteJSON(w, r, apperror.ErrUserNotFound)
				return
			}
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrInternal))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(StatusResponse{
			UserID:               rec.UserID.String(),
			IsPro:                rec.IsPro,
			Plan:                 rec.Plan,
			StripeCustomerID:     rec.StripeCustomerID,
			StripeSubscriptionID: rec.StripeSubscriptionID,
			UpdatedAt:            rec.UpdatedAt,
		})
	}
}

func writeJSONError(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
