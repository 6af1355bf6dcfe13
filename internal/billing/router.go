package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"
	"go.opentelemetry.io/otel/attribute"

	"github.com/JovieInc/Jovie-sub015/internal/logger"
	"github.com/JovieInc/Jovie-sub015/internal/metrics"
	"github.com/JovieInc/Jovie-sub015/internal/store"
	"github.com/JovieInc/Jovie-sub015/internal/tracing"
)

// Stripe signs bodies up to 64 KiB for the event types we subscribe to;
// anything larger is not a webhook we sent for.
const maxWebhookBodyBytes = int64(65536)

// EventLog is the dedup surface the router needs.
type EventLog interface {
	WasEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, event store.ProcessedEvent) error
}

// Router terminates the provider webhook feed. Responsibilities in order:
// verify the signature against the raw body, short-circuit redeliveries of
// already-processed event ids, dispatch to the per-type handler, and map
// the handler result onto the status codes that steer provider retries
// (200 processed or intentionally skipped, 400 invalid, 500 retry please).
type Router struct {
	secret   string
	handlers map[stripe.EventType]Handler
	events   EventLog
	logger   *slog.Logger
}

func NewRouter(secret string, handlers map[stripe.EventType]Handler, events EventLog, log *slog.Logger) *Router {
	return &Router{
		secret:   secret,
		handlers: handlers,
		events:   events,
		logger:   log,
	}
}

func (rt *Router) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			rt.logger.Warn("webhook body exceeds size limit")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		rt.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	signatureHeader := r.Header.Get("Stripe-Signature")
	if signatureHeader == "" {
		rt.logger.Warn("missing stripe signature header")
		metrics.RecordWebhookEvent("unknown", "rejected")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// The account's webhook endpoint may be pinned to a different API
	// version than the SDK; the signature check is what matters here.
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, rt.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		rt.logger.Error("webhook signature verification failed", "error", err)
		metrics.RecordWebhookEvent("unknown", "rejected")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ctx := logger.WithEventID(r.Context(), event.ID)
	tracing.AddSpanAttributes(ctx,
		attribute.String("webhook.event_id", event.ID),
		attribute.String("webhook.event_type", string(event.Type)),
	)
	log := logger.FromContext(ctx)

	processed, err := rt.events.WasEventProcessed(ctx, event.ID)
	if err != nil {
		// Without the dedup answer the event cannot be processed safely;
		// a 500 hands it back to the provider's retry schedule.
		log.Error("event dedup lookup failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if processed {
		log.Info("duplicate delivery acknowledged", "type", event.Type)
		metrics.RecordWebhookEvent(string(event.Type), "duplicate")
		w.WriteHeader(http.StatusOK)
		return
	}

	handler, ok := rt.handlers[event.Type]
	if !ok {
		log.Debug("unhandled event type", "type", event.Type)
		metrics.RecordWebhookEvent(string(event.Type), "unhandled")
		w.WriteHeader(http.StatusOK)
		return
	}

	ec := &EventContext{
		Event:     event,
		EventTime: time.Unix(event.Created, 0).UTC(),
	}
	result := rt.dispatch(ctx, handler, ec)

	if !result.Success {
		log.Error("event handling failed",
			"type", event.Type,
			"reason", result.Reason,
			"error", result.Err,
		)
		metrics.RecordWebhookEvent(string(event.Type), "failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if result.Skipped {
		if result.Err != nil {
			log.Error("event skipped with error",
				"type", event.Type,
				"reason", result.Reason,
				"error", result.Err,
			)
		} else {
			log.Info("event skipped", "type", event.Type, "reason", result.Reason)
		}
		metrics.RecordWebhookEvent(string(event.Type), "skipped")
		rt.recordSkip(ctx, event, result)
		w.WriteHeader(http.StatusOK)
		return
	}

	metrics.RecordWebhookEvent(string(event.Type), "applied")
	w.WriteHeader(http.StatusOK)
}

// dispatch guards the handler boundary. Handlers resolve every expected
// failure into a Result themselves; a panic is a programming error that
// must surface as a 500 so the provider redelivers.
func (rt *Router) dispatch(ctx context.Context, h Handler, ec *EventContext) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			classified := ClassifyValue(rec)
			logger.FromContext(ctx).Error("handler panicked",
				"type", ec.Event.Type,
				"error", classified.Message,
			)
			metrics.RecordCriticalError("handler_panic")
			result = failed(classified)
		}
	}()
	return h.Handle(ctx, ec)
}

// recordSkip persists a dedup row for deterministic skips so redeliveries
// short-circuit. Skips carrying an error (provider read-back failures) are
// not recorded: a manual redelivery should get a fresh attempt.
func (rt *Router) recordSkip(ctx context.Context, event stripe.Event, result Result) {
	if result.Err != nil {
		return
	}
	// The writer records applied and stale outcomes in its own transaction.
	if result.Reason == ReasonStaleEvent {
		return
	}
	err := rt.events.MarkEventProcessed(ctx, store.ProcessedEvent{
		EventID:   event.ID,
		EventType: string(event.Type),
		Outcome:   store.OutcomeSkipped,
	})
	if err != nil {
		logger.FromContext(ctx).Warn("failed to record skipped event", "error", err)
	}
}
