package apperror

import (
	"errors"
	"net/http"
)

type Error struct {
	Code       string
	Message    string
	StatusCode int
	Internal   error

	// Retryable tells job middleware and the webhook responder whether a
	// redelivery could succeed. Provider outages are retryable; a payload
	// that failed signature verification never is.
	Retryable bool
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Internal
}

var (
	ErrNotFound = &Error{
		Code:       "not_found",
		Message:    "The requested resource was not found",
		StatusCode: http.StatusNotFound,
	}

	ErrUnauthorized = &Error{
		Code:       "unauthorized",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrForbidden = &Error{
		Code:       "forbidden",
		Message:    "You don't have permission to access this resource",
		StatusCode: http.StatusForbidden,
	}

	ErrBadRequest = &Error{
		Code:       "bad_request",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInvalidToken = &Error{
		Code:       "invalid_token",
		Message:    "Invalid or expired token",
		StatusCode: http.StatusUnauthorized,
	}

	ErrInvalidSignature = &Error{
		Code:       "invalid_signature",
		Message:    "Webhook signature verification failed",
		StatusCode: http.StatusBadRequest,
	}

	ErrPayloadTooLarge = &Error{
		Code:       "payload_too_large",
		Message:    "The request body exceeds the maximum allowed size",
		StatusCode: http.StatusRequestEntityTooLarge,
	}

	ErrUserNotFound = &Error{
		Code:       "user_not_found",
		Message:    "No user matches this billing identity",
		StatusCode: http.StatusNotFound,
	}

	ErrSubscriptionNotFound = &Error{
		Code:       "subscription_not_found",
		Message:    "The subscription no longer exists at the billing provider",
		StatusCode: http.StatusNotFound,
	}

	ErrStaleEvent = &Error{
		Code:       "stale_event",
		Message:    "A newer billing event has already been applied",
		StatusCode: http.StatusConflict,
	}

	ErrBillingUnavailable = &Error{
		Code:       "billing_unavailable",
		Message:    "The billing provider is temporarily unavailable. Please try again later",
		StatusCode: http.StatusBadGateway,
	}

	ErrInternal = &Error{
		Code:       "internal_error",
		Message:    "An unexpected error occurred. Please try again later",
		StatusCode: http.StatusInternalServerError,
	}

	ErrServiceUnavailable = &Error{
		Code:       "service_unavailable",
		Message:    "Service temporarily unavailable. Please try again later",
		StatusCode: http.StatusServiceUnavailable,
	}
)

func New(code, message string, statusCode int) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Wrap(err error, appErr *Error) *Error {
	return &Error{
		Code:       appErr.Code,
		Message:    appErr.Message,
		StatusCode: appErr.StatusCode,
		Internal:   err,
	}
}

func WrapWithMessage(err error, code, message string, statusCode int) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Internal:   err,
	}
}

func Is(err error, target *Error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

func StatusCode(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

func SafeMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return ErrInternal.Message
}

func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal.Code
}

// WithRetryable returns a copy of appErr with the retryable flag set.
func WithRetryable(appErr *Error, retryable bool) *Error {
	return &Error{
		Code:       appErr.Code,
		Message:    appErr.Message,
		StatusCode: appErr.StatusCode,
		Internal:   appErr.Internal,
		Retryable:  retryable,
	}
}

// IsRetryable reports whether a redelivery or job retry could succeed.
// Unknown errors are assumed retryable so transient failures are not
// silently dropped.
func IsRetryable(err error) bool {
	if err == nil {
		return true
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return true
}
