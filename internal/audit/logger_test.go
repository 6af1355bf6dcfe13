package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeQuerier struct {
	entries []Entry
	err     error
}

func (f *fakeQuerier) InsertAuditEntry(ctx context.Context, entry Entry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func TestMarshalMetadata(t *testing.T) {
	if got := MarshalMetadata(nil); got != nil {
		t.Errorf("MarshalMetadata(nil) = %s, want nil", got)
	}

	b := MarshalMetadata(map[string]any{"stripe_status": "canceled", "attempt": 3})
	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("metadata did not round-trip: %v", err)
	}
	if decoded["stripe_status"] != "canceled" {
		t.Errorf("stripe_status = %v, want canceled", decoded["stripe_status"])
	}

	// Unmarshalable values degrade to nil instead of blocking the write.
	if got := MarshalMetadata(map[string]any{"ch": make(chan int)}); got != nil {
		t.Errorf("unmarshalable metadata = %s, want nil", got)
	}
}

func TestSnapshotEqual(t *testing.T) {
	base := Snapshot{IsPro: true, Plan: "pro", StripeCustomerID: "cus_1", StripeSubscriptionID: "sub_1", BillingVersion: 3}

	same := base
	same.BillingVersion = 9
	if !base.Equal(same) {
		t.Error("snapshots differing only in version should compare equal")
	}

	downgraded := base
	downgraded.IsPro = false
	if base.Equal(downgraded) {
		t.Error("snapshots with different entitlement should not compare equal")
	}

	replaced := base
	replaced.StripeSubscriptionID = "sub_2"
	if base.Equal(replaced) {
		t.Error("snapshots with different subscription ids should not compare equal")
	}
}

func TestLoggerFillsDefaults(t *testing.T) {
	q := &fakeQuerier{}
	l := NewLogger(q)

	err := l.Log(context.Background(), Entry{
		UserID:    uuid.New(),
		Source:    SourceWebhook,
		EventType: EventPaymentFailed,
	})
	if err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if len(q.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(q.entries))
	}

	entry := q.entries[0]
	if entry.ID == uuid.Nil {
		t.Error("entry id was not assigned")
	}
	if entry.CreatedAt.IsZero() {
		t.Error("created at was not stamped")
	}
}

func TestLoggerKeepsPresetFields(t *testing.T) {
	q := &fakeQuerier{}
	l := NewLogger(q)

	id := uuid.New()
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	if err := l.Log(context.Background(), Entry{ID: id, CreatedAt: at}); err != nil {
		t.Fatalf("Log() error = %v", err)
	}

	entry := q.entries[0]
	if entry.ID != id {
		t.Errorf("id = %v, want the preset %v", entry.ID, id)
	}
	if !entry.CreatedAt.Equal(at) {
		t.Errorf("created at = %v, want the preset %v", entry.CreatedAt, at)
	}
}

func TestLoggerNilQuerier(t *testing.T) {
	l := NewLogger(nil)
	if err := l.Log(context.Background(), Entry{}); err != nil {
		t.Errorf("Log() with no querier = %v, want nil", err)
	}
}

func TestLoggerPropagatesError(t *testing.T) {
	l := NewLogger(&fakeQuerier{err: errors.New("insert failed")})
	if err := l.Log(context.Background(), Entry{}); err == nil {
		t.Error("Log() should surface the querier error")
	}
}
