package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83"

	"github.com/JovieInc/Jovie-sub015/internal/audit"
	"github.com/JovieInc/Jovie-sub015/internal/logger"
	"github.com/JovieInc/Jovie-sub015/internal/metrics"
	"github.com/JovieInc/Jovie-sub015/internal/store"
)

// Result is the uniform outcome every event handler returns. Handlers never
// panic or let errors escape this boundary; Success=false is reserved for
// transient local failures where a provider redelivery should be requested.
type Result struct {
	Success bool
	Skipped bool
	Reason  string
	Err     error
}

// Skip and error reasons surfaced in logs, metrics and the dedup table.
const (
	ReasonInvoiceHasNoSubscription  = "invoice_has_no_subscription"
	ReasonCheckoutHasNoSubscription = "checkout_has_no_subscription"
	ReasonNoUserID                  = "no_user_id_in_subscription_metadata"
	ReasonStaleEvent                = "stale_event_ignored"
	ReasonMalformedPayload          = "malformed_event_payload"
	ReasonPaymentFailureRecorded    = "payment_failure_recorded"

	ReasonErrPaymentSucceeded  = "error_processing_payment_success"
	ReasonErrSubscriptionEvent = "error_processing_subscription_event"
	ReasonErrCheckout          = "error_processing_checkout"
)

func applied() Result {
	return Result{Success: true}
}

func skipped(reason string) Result {
	return Result{Success: true, Skipped: true, Reason: reason}
}

func skippedErr(reason string, err error) Result {
	return Result{Success: true, Skipped: true, Reason: reason, Err: err}
}

func failed(err error) Result {
	return Result{Success: false, Err: err}
}

// EventContext carries one signature-verified inbound event.
type EventContext struct {
	Event stripe.Event
	// EventTime is the provider-assigned creation time of the event, the
	// ordering key for the writer's staleness gate.
	EventTime time.Time
}

type Handler interface {
	Handle(ctx context.Context, ec *EventContext) Result
}

type HandlerFunc func(ctx context.Context, ec *EventContext) Result

func (f HandlerFunc) Handle(ctx context.Context, ec *EventContext) Result {
	return f(ctx, ec)
}

// StateWriter is the single mutation point for billing records.
type StateWriter interface {
	Apply(ctx context.Context, req store.WriteRequest) (store.WriteResult, error)
}

// ProviderGateway is the provider read surface handlers depend on.
type ProviderGateway interface {
	RetrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
}

// CacheInvalidator drops externally cached views of a user's entitlement.
// Strictly best-effort: implementations may fail, handlers only log.
type CacheInvalidator interface {
	InvalidateUser(ctx context.Context, userID uuid.UUID) error
}

// HandlerDeps bundles what every event handler composes.
type HandlerDeps struct {
	Provider ProviderGateway
	Resolver *Resolver
	Writer   StateWriter
	Cache    CacheInvalidator
	Audits   *audit.Logger
	Prices   PriceTable
	Logger   *slog.Logger
}

type Handlers struct {
	provider ProviderGateway
	resolver *Resolver
	writer   StateWriter
	cache    CacheInvalidator
	audits   *audit.Logger
	prices   PriceTable
	logger   *slog.Logger
}

func NewHandlers(deps HandlerDeps) *Handlers {
	return &Handlers{
		provider: deps.Provider,
		resolver: deps.Resolver,
		writer:   deps.Writer,
		cache:    deps.Cache,
		audits:   deps.Audits,
		prices:   deps.Prices,
		logger:   deps.Logger,
	}
}

// Map returns the dispatch table the router routes by. Event categories not
// listed here are acknowledged without processing.
func (h *Handlers) Map() map[stripe.EventType]Handler {
	return map[stripe.EventType]Handler{
		stripe.EventTypeInvoicePaymentSucceeded:     HandlerFunc(h.PaymentSucceeded),
		stripe.EventTypeInvoicePaymentFailed:        HandlerFunc(h.PaymentFailed),
		stripe.EventTypeCustomerSubscriptionCreated: HandlerFunc(h.SubscriptionCreated),
		stripe.EventTypeCustomerSubscriptionUpdated: HandlerFunc(h.SubscriptionUpdated),
		stripe.EventTypeCustomerSubscriptionDeleted: HandlerFunc(h.SubscriptionDeleted),
		stripe.EventTypeCheckoutSessionCompleted:    HandlerFunc(h.CheckoutCompleted),
	}
}

func (h *Handlers) PaymentSucceeded(ctx context.Context, ec *EventContext) Result {
	subID := subscriptionIDFromInvoice(ec.Event.Data.Raw)
	if subID == "" {
		// One-time payments carry no subscription and nothing to sync.
		return skipped(ReasonInvoiceHasNoSubscription)
	}
	return h.applySubscriptionState(ctx, ec, subID, audit.EventPaymentSucceeded, ReasonErrPaymentSucceeded)
}

func (h *Handlers) SubscriptionCreated(ctx context.Context, ec *EventContext) Result {
	return h.subscriptionEvent(ctx, ec, audit.EventSubscriptionCreated)
}

func (h *Handlers) SubscriptionUpdated(ctx context.Context, ec *EventContext) Result {
	return h.subscriptionEvent(ctx, ec, audit.EventSubscriptionUpdated)
}

func (h *Handlers) SubscriptionDeleted(ctx context.Context, ec *EventContext) Result {
	return h.subscriptionEvent(ctx, ec, audit.EventSubscriptionDeleted)
}

func (h *Handlers) subscriptionEvent(ctx context.Context, ec *EventContext, eventType audit.EventType) Result {
	var sub stripe.Subscription
	if err := json.Unmarshal(ec.Event.Data.Raw, &sub); err != nil {
		return skippedErr(ReasonMalformedPayload, fmt.Errorf("failed to unmarshal subscription: %w", err))
	}
	if sub.ID == "" {
		return skipped(ReasonMalformedPayload)
	}
	return h.applySubscriptionState(ctx, ec, sub.ID, eventType, ReasonErrSubscriptionEvent)
}

func (h *Handlers) CheckoutCompleted(ctx context.Context, ec *EventContext) Result {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(ec.Event.Data.Raw, &session); err != nil {
		return skippedErr(ReasonMalformedPayload, fmt.Errorf("failed to unmarshal checkout session: %w", err))
	}

	subID := SubscriptionID(session.Subscription)
	if subID == "" {
		return skipped(ReasonCheckoutHasNoSubscription)
	}
	return h.applySubscriptionState(ctx, ec, subID, audit.EventCheckoutCompleted, ReasonErrCheckout)
}

// PaymentFailed observes without mutating. Entitlement is driven by the
// subscription status change the provider emits after its own retry policy
// gives up, not by individual invoice failures.
func (h *Handlers) PaymentFailed(ctx context.Context, ec *EventContext) Result {
	var invoice stripe.Invoice
	if err := json.Unmarshal(ec.Event.Data.Raw, &invoice); err != nil {
		return skippedErr(ReasonMalformedPayload, fmt.Errorf("failed to unmarshal invoice: %w", err))
	}

	log := logger.FromContext(ctx)
	customerID := CustomerID(invoice.Customer)
	log.Warn("payment failed",
		"invoice_id", invoice.ID,
		"customer_id", customerID,
		"attempt_count", invoice.AttemptCount,
	)
	metrics.RecordPaymentFailure()

	rec, ok := h.resolver.ResolveCustomer(ctx, customerID)
	if ok && h.audits != nil {
		snapshot := rec.Snapshot()
		err := h.audits.Log(ctx, audit.Entry{
			UserID:          rec.UserID,
			Source:          audit.SourceWebhook,
			EventType:       audit.EventPaymentFailed,
			ProviderEventID: ec.Event.ID,
			Before:          snapshot,
			After:           snapshot,
			Reason:          ReasonPaymentFailureRecorded,
			Metadata: map[string]any{
				"invoice_id":    invoice.ID,
				"attempt_count": invoice.AttemptCount,
			},
		})
		if err != nil {
			log.Warn("failed to record payment failure audit entry", "error", err)
		}
	}

	return skipped(ReasonPaymentFailureRecorded)
}

// applySubscriptionState is the shared spine: read back provider truth,
// resolve the user, derive entitlement, write, invalidate caches.
func (h *Handlers) applySubscriptionState(ctx context.Context, ec *EventContext, subscriptionID string, eventType audit.EventType, errReason string) Result {
	log := logger.FromContext(ctx)

	sub, err := h.provider.RetrieveSubscription(ctx, subscriptionID)
	if err != nil {
		classified := Classify(err)
		if classified.Kind == ErrorKindNotFound {
			// Subscription gone between event emission and now.
			// Redelivery cannot help; reconciliation covers the user.
			log.Info("subscription no longer exists at provider",
				"subscription_id", subscriptionID,
				"event_type", ec.Event.Type,
			)
			return skippedErr(errReason, classified)
		}
		log.Error("subscription read-back failed",
			"subscription_id", subscriptionID,
			"event_type", ec.Event.Type,
			"kind", classified.Kind,
			"error", classified.Message,
		)
		metrics.RecordCriticalError("provider_readback")
		return skippedErr(errReason, classified)
	}

	userID, ok := h.resolver.Resolve(ctx, sub)
	if !ok {
		return skipped(ReasonNoUserID)
	}

	entitled := IsProStatus(sub.Status)
	plan, known := h.prices.PlanForSubscription(sub, entitled)
	if !known {
		log.Warn("subscription price has no plan mapping",
			"subscription_id", sub.ID,
			"price_id", SubscriptionPriceID(sub),
			"fallback_plan", plan,
		)
	}

	req := store.WriteRequest{
		UserID:               userID,
		Source:               audit.SourceWebhook,
		EventType:            eventType,
		ProviderEventID:      ec.Event.ID,
		EventTime:            ec.EventTime,
		Reason:               string(ec.Event.Type),
		IsPro:                &entitled,
		Plan:                 &plan,
		StripeSubscriptionID: &sub.ID,
	}
	if customerID := CustomerID(sub.Customer); customerID != "" {
		req.StripeCustomerID = &customerID
	}

	res, err := h.writer.Apply(ctx, req)
	if err != nil {
		metrics.RecordBillingWrite(string(audit.SourceWebhook), "failed")
		metrics.RecordCriticalError("billing_write")
		return failed(fmt.Errorf("billing write for user %s failed: %w", userID, err))
	}

	if res.StaleEventIgnored {
		log.Info("stale event ignored",
			"user_id", userID,
			"event_type", ec.Event.Type,
			"event_time", ec.EventTime,
		)
		metrics.RecordBillingWrite(string(audit.SourceWebhook), "stale_ignored")
		return skipped(ReasonStaleEvent)
	}

	metrics.RecordBillingWrite(string(audit.SourceWebhook), "applied")
	log.Info("billing state updated",
		"user_id", userID,
		"event_type", ec.Event.Type,
		"is_pro", res.After.IsPro,
		"plan", res.After.Plan,
		"billing_version", res.After.BillingVersion,
	)

	h.invalidateEntitlement(ctx, userID)
	return applied()
}

func (h *Handlers) invalidateEntitlement(ctx context.Context, userID uuid.UUID) {
	if h.cache == nil {
		return
	}
	if err := h.cache.InvalidateUser(ctx, userID); err != nil {
		logger.FromContext(ctx).Warn("cache invalidation failed",
			"user_id", userID,
			"error", err,
		)
	}
}
