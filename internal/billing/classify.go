package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v83"
)

type ErrorKind string

const (
	// ErrorKindNotFound means the referenced provider object is gone.
	// Recoverable: callers treat the local record as stale, not the call
	// as failed.
	ErrorKindNotFound ErrorKind = "not_found"

	// ErrorKindProvider covers SDK-typed failures (rate limits, outages,
	// auth problems) and provider-call timeouts. Not recoverable inline;
	// webhook redelivery or the next reconciliation sweep resolves it.
	ErrorKindProvider ErrorKind = "provider_error"

	ErrorKindUnknown ErrorKind = "unknown"
)

type ClassifiedError struct {
	Kind        ErrorKind
	Recoverable bool
	Message     string
	Cause       error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// Classify folds a raw provider-client failure into the taxonomy handlers
// branch on. All pattern matching on provider error shapes is confined
// here; business logic switches on Kind only. Pure, nil in nil out.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		msg := stripeErr.Msg
		if msg == "" {
			msg = err.Error()
		}
		if stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound {
			return &ClassifiedError{
				Kind:        ErrorKindNotFound,
				Recoverable: true,
				Message:     msg,
				Cause:       err,
			}
		}
		return &ClassifiedError{
			Kind:        ErrorKindProvider,
			Recoverable: false,
			Message:     msg,
			Cause:       err,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &ClassifiedError{
			Kind:        ErrorKindProvider,
			Recoverable: false,
			Message:     "provider call timed out",
			Cause:       err,
		}
	}

	return &ClassifiedError{
		Kind:        ErrorKindUnknown,
		Recoverable: false,
		Message:     err.Error(),
		Cause:       err,
	}
}

// ClassifyValue classifies recovered panic values, which are not always
// errors. Non-error values are stringified.
func ClassifyValue(v any) *ClassifiedError {
	if v == nil {
		return nil
	}
	if err, ok := v.(error); ok {
		return Classify(err)
	}
	return &ClassifiedError{
		Kind:        ErrorKindUnknown,
		Recoverable: false,
		Message:     fmt.Sprint(v),
	}
}
