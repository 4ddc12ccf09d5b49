package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failure. Kinds, not concrete types, drive retry,
// breaker counting, and the HTTP status returned to the caller.
type ErrorKind string

const (
	KindValidation  ErrorKind = "ValidationError"
	KindUnsupported ErrorKind = "Unsupported"
	KindRateLimited ErrorKind = "RateLimited"
	KindCircuitOpen ErrorKind = "CircuitOpen"
	KindTimeout     ErrorKind = "Timeout"
	KindUpstream    ErrorKind = "Upstream"
	KindAuth        ErrorKind = "AuthError"
	KindNoProviders ErrorKind = "NoProvidersAvailable"
	KindInternal    ErrorKind = "InternalError"
)

// Error is the structured error used across the gateway. Provider is empty
// for request-level failures (validation, no providers). Status carries the
// upstream HTTP status when known.
type Error struct {
	Kind     ErrorKind
	Provider string
	Status   int
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Provider != "" {
		if e.Status > 0 {
			return fmt.Sprintf("%s: %s (status=%d)", e.Provider, msg, e.Status)
		}
		return fmt.Sprintf("%s: %s", e.Provider, msg)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the kind to the status returned to the caller.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnsupported:
		return http.StatusUnprocessableEntity
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindCircuitOpen, KindNoProviders:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindUpstream:
		return http.StatusBadGateway
	case KindAuth:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// E builds an Error with a formatted message.
func E(kind ErrorKind, provider, format string, args ...any) *Error {
	return &Error{Kind: kind, Provider: provider, Message: fmt.Sprintf(format, args...)}
}

// WrapErr wraps an underlying error under a kind.
func WrapErr(kind ErrorKind, provider string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Err: err}
}

// FromHTTPStatus classifies an upstream HTTP error response.
func FromHTTPStatus(provider string, status int, message string) *Error {
	kind := KindUpstream
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	}
	return &Error{Kind: kind, Provider: provider, Status: status, Message: message}
}

// KindOf extracts the kind from any error. Context deadline errors map to
// Timeout; everything unclassified is Internal.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindInternal
}

// Retryable reports whether a failed call may be retried within the same
// request. Only transient failures qualify: local/upstream rate limiting,
// connection errors, and 5xx. A 4xx other than 429, auth failures, and a
// breaker rejection are never retried.
func Retryable(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	switch pe.Kind {
	case KindRateLimited:
		return true
	case KindUpstream:
		return pe.Status == 0 || pe.Status == http.StatusTooManyRequests || pe.Status >= 500
	default:
		return false
	}
}

// Counted reports whether a failure counts toward tripping the provider's
// circuit breaker. Caller mistakes (validation, unsupported operations) and
// synthetic breaker rejections do not count.
func Counted(err error) bool {
	switch KindOf(err) {
	case KindUpstream, KindTimeout, KindRateLimited, KindAuth:
		return true
	default:
		return false
	}
}
