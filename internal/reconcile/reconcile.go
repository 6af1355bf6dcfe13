// Package reconcile compares stored entitlement state against live
// provider truth and converges drift through the billing state writer.
// It is the safety net bounding how long any webhook-processing defect
// can leave a user on the wrong plan.
package reconcile

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/JovieInc/Jovie-sub015/internal/audit"
	"github.com/JovieInc/Jovie-sub015/internal/billing"
	"github.com/JovieInc/Jovie-sub015/internal/logger"
	"github.com/JovieInc/Jovie-sub015/internal/metrics"
	"github.com/JovieInc/Jovie-sub015/internal/store"
	"github.com/JovieInc/Jovie-sub015/internal/tracing"
)

// Audit reasons carried on reconciliation writes.
const (
	ReasonStatusMismatch      = "status_mismatch"
	ReasonSubscriptionMissing = "subscription_missing"
)

// CheckOutcome is the terminal state of one user's reconciliation pass.
type CheckOutcome string

const (
	OutcomeConsistent     CheckOutcome = "consistent"
	OutcomeFixed          CheckOutcome = "fixed"
	OutcomeFixFailed      CheckOutcome = "fix_failed"
	OutcomeProviderError  CheckOutcome = "provider_error"
	OutcomeNoSubscription CheckOutcome = "no_subscription"
)

// SubscriptionReader is the single provider read reconciliation depends on.
type SubscriptionReader interface {
	RetrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
}

// StateWriter applies a billing state change. Satisfied by store.Writer.
type StateWriter interface {
	Apply(ctx context.Context, req store.WriteRequest) (store.WriteResult, error)
}

// CacheInvalidator drops cached entitlement state after a fix lands.
type CacheInvalidator interface {
	InvalidateUser(ctx context.Context, userID uuid.UUID) error
}

// Checker reads provider truth for one user's stored subscription and
// hands drifted records to the Fixer.
type Checker struct {
	provider SubscriptionReader
	fixer    *Fixer
}

func NewChecker(provider SubscriptionReader, fixer *Fixer) *Checker {
	return &Checker{provider: provider, fixer: fixer}
}

// CheckUser reconciles a single billing record against the provider.
// Failures are returned so callers can log them, but a failure for one
// user never carries any state that would abort a surrounding sweep.
func (c *Checker) CheckUser(ctx context.Context, rec *store.BillingRecord) (CheckOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.check_user",
		trace.WithAttributes(attribute.String("user.id", rec.UserID.String())),
	)
	defer span.End()

	log := logger.FromContext(ctx).With(
		"user_id", rec.UserID,
		"subscription_id", rec.StripeSubscriptionID,
	)

	if rec.StripeSubscriptionID == "" {
		metrics.RecordReconcileCheck(string(OutcomeNoSubscription))
		log.Debug("user holds no subscription, nothing to reconcile")
		return OutcomeNoSubscription, nil
	}

	sub, err := c.provider.RetrieveSubscription(ctx, rec.StripeSubscriptionID)
	if err != nil {
		classified := billing.Classify(err)
		if classified.Kind == billing.ErrorKindNotFound {
			if !rec.IsPro {
				// Subscription is gone and the user is already not
				// entitled. The dangling id is left for forensics.
				metrics.RecordReconcileCheck(string(OutcomeConsistent))
				log.Debug("stored subscription missing at provider, user already not pro")
				return OutcomeConsistent, nil
			}
			return c.applyFix(ctx, rec, nil)
		}

		metrics.RecordReconcileCheck(string(OutcomeProviderError))
		tracing.RecordError(ctx, classified)
		log.Warn("reconciliation provider read failed",
			"kind", classified.Kind,
			"error", classified,
		)
		return OutcomeProviderError, classified
	}

	if billing.IsProStatus(sub.Status) == rec.IsPro {
		metrics.RecordReconcileCheck(string(OutcomeConsistent))
		log.Debug("billing record consistent with provider", "stripe_status", sub.Status)
		return OutcomeConsistent, nil
	}

	return c.applyFix(ctx, rec, sub)
}

func (c *Checker) applyFix(ctx context.Context, rec *store.BillingRecord, sub *stripe.Subscription) (CheckOutcome, error) {
	if _, err := c.fixer.Fix(ctx, rec, sub); err != nil {
		metrics.RecordReconcileCheck(string(OutcomeFixFailed))
		return OutcomeFixFailed, err
	}
	metrics.RecordReconcileCheck(string(OutcomeFixed))
	return OutcomeFixed, nil
}

// Fixer builds the reconciliation write for a drifted record. The write
// is shaped like a webhook one but carries source=reconciliation, which
// makes it authoritative: the writer stamps it with "now" so it always
// passes the staleness gate.
type Fixer struct {
	writer StateWriter
	cache  CacheInvalidator
	prices billing.PriceTable
}

func NewFixer(writer StateWriter, prices billing.PriceTable) *Fixer {
	return &Fixer{writer: writer, prices: prices}
}

func (f *Fixer) WithCache(cache CacheInvalidator) *Fixer {
	f.cache = cache
	return f
}

// Fix converges one record onto provider truth. A nil subscription means
// the stored subscription no longer exists at the provider, which is
// treated as a downgrade.
func (f *Fixer) Fix(ctx context.Context, rec *store.BillingRecord, sub *stripe.Subscription) (store.WriteResult, error) {
	expected := false
	stripeStatus := "missing"
	eventType := audit.EventSubscriptionMissing
	reason := ReasonSubscriptionMissing
	if sub != nil {
		expected = billing.IsProStatus(sub.Status)
		stripeStatus = string(sub.Status)
		eventType = audit.EventStatusMismatch
		reason = ReasonStatusMismatch
	}

	log := logger.FromContext(ctx).With(
		"user_id", rec.UserID,
		"db_is_pro", rec.IsPro,
		"stripe_status", stripeStatus,
		"expected_is_pro", expected,
	)

	plan := billing.PlanFree
	if expected {
		mapped, known := f.prices.PlanForSubscription(sub, true)
		if !known {
			log.Warn("subscription price has no plan mapping",
				"price_id", billing.SubscriptionPriceID(sub),
			)
		}
		plan = mapped
	}

	direction := "downgrade"
	if expected {
		direction = "upgrade"
	}

	req := store.WriteRequest{
		UserID:    rec.UserID,
		Source:    audit.SourceReconciliation,
		EventType: eventType,
		Reason:    reason,
		Metadata: map[string]any{
			"db_is_pro":       rec.IsPro,
			"stripe_status":   stripeStatus,
			"expected_is_pro": expected,
		},
		IsPro: &expected,
		Plan:  &plan,
	}

	// Downgrades clear the subscription pointer, it no longer names an
	// active subscription. Upgrades pin it to the subscription that was
	// just confirmed live.
	if expected {
		subID := sub.ID
		req.StripeSubscriptionID = &subID
		if customerID := billing.CustomerID(sub.Customer); customerID != "" {
			req.StripeCustomerID = &customerID
		}
	} else {
		cleared := ""
		req.StripeSubscriptionID = &cleared
	}

	res, err := f.writer.Apply(ctx, req)
	if err != nil {
		metrics.RecordReconcileFix(direction, "failed")
		return res, fmt.Errorf("failed to apply reconciliation fix: %w", err)
	}

	metrics.RecordReconcileFix(direction, "applied")
	log.Info("reconciliation fixed drifted billing state",
		"reason", reason,
		"billing_version", res.After.BillingVersion,
	)

	if f.cache != nil {
		if err := f.cache.InvalidateUser(ctx, rec.UserID); err != nil {
			log.Warn("cache invalidation failed after fix", "error", err)
		}
	}

	return res, nil
}
