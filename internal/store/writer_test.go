package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JovieInc/Jovie-sub015/internal/audit"
)

func TestApplyRequiresUserID(t *testing.T) {
	w := NewWriter(nil)

	_, err := w.Apply(context.Background(), WriteRequest{
		Source:    audit.SourceReconciliation,
		EventType: audit.EventStatusMismatch,
	})
	if err == nil {
		t.Fatal("Apply() accepted a request without a user id")
	}
	if !strings.Contains(err.Error(), "user id") {
		t.Errorf("error = %v, want a user id complaint", err)
	}
}

func TestApplyWebhookRequiresEventTime(t *testing.T) {
	w := NewWriter(nil)

	_, err := w.Apply(context.Background(), WriteRequest{
		UserID:    uuid.New(),
		Source:    audit.SourceWebhook,
		EventType: audit.EventSubscriptionUpdated,
	})
	if err == nil {
		t.Fatal("Apply() accepted a webhook write without an event time")
	}
	if !strings.Contains(err.Error(), "event time") {
		t.Errorf("error = %v, want an event time complaint", err)
	}
}

func TestBillingRecordSnapshot(t *testing.T) {
	rec := BillingRecord{
		UserID:               uuid.New(),
		Email:                "user@example.com",
		IsPro:                true,
		Plan:                 "team",
		StripeCustomerID:     "cus_1",
		StripeSubscriptionID: "sub_1",
		BillingVersion:       7,
		LastBillingEventAt:   time.Now(),
	}

	snap := rec.Snapshot()
	if !snap.IsPro || snap.Plan != "team" {
		t.Errorf("snapshot = %+v, entitlement fields lost", snap)
	}
	if snap.StripeCustomerID != "cus_1" || snap.StripeSubscriptionID != "sub_1" {
		t.Errorf("snapshot = %+v, provider ids lost", snap)
	}
	if snap.BillingVersion != 7 {
		t.Errorf("snapshot version = %d, want 7", snap.BillingVersion)
	}
}

func TestUUIDOrNil(t *testing.T) {
	if got := uuidOrNil(uuid.Nil); got.Valid {
		t.Error("uuidOrNil(uuid.Nil) should produce a NULL value")
	}

	id := uuid.New()
	got := uuidOrNil(id)
	if !got.Valid {
		t.Fatal("uuidOrNil should be valid for a real id")
	}
	if got.Bytes != [16]byte(id) {
		t.Errorf("bytes = %v, want %v", got.Bytes, id)
	}
}
