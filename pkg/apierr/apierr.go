// Package apierr provides the structured error envelope returned to API
// clients and the mapping from gateway error kinds to HTTP statuses.
package apierr

import (
	"encoding/json"
	"errors"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/uir-gateway/internal/providers"
)

// ErrorType constants.
const (
	TypeProviderError     = "provider_error"
	TypeRateLimitError    = "rate_limit_error"
	TypeInvalidRequest    = "invalid_request_error"
	TypeAuthenticationErr = "authentication_error"
	TypeServerError       = "server_error"
)

// Code constants.
const (
	CodeRateLimitExceeded = "rate_limit_exceeded"
	CodeInvalidAPIKey     = "invalid_api_key"
	CodeInternalError     = "internal_error"
	CodeProviderError     = "provider_error"
	CodeRequestTimeout    = "request_timeout"
	CodeNoProviders       = "no_providers_available"
	CodeCircuitOpen       = "circuit_open"
	CodeNotImplemented    = "not_implemented"
	CodeInvalidRequest    = "invalid_request"
)

// APIError is the structured error returned to clients.
type (
	APIError struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Write writes the error as JSON to the fasthttp response with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
	ctx.SetBody(body)
}

// WriteError maps a gateway error to its envelope. Structured errors carry
// their own HTTP status; anything else is a 500 server error.
func WriteError(ctx *fasthttp.RequestCtx, err error) {
	var pe *providers.Error
	if !errors.As(err, &pe) {
		Write(ctx, fasthttp.StatusInternalServerError, err.Error(), TypeServerError, CodeInternalError)
		return
	}

	errType, code := classify(pe.Kind)
	if pe.Kind == providers.KindRateLimited {
		ctx.Response.Header.Set("Retry-After", "60")
	}
	Write(ctx, pe.HTTPStatus(), pe.Error(), errType, code)
}

func classify(kind providers.ErrorKind) (errType, code string) {
	switch kind {
	case providers.KindValidation:
		return TypeInvalidRequest, CodeInvalidRequest
	case providers.KindUnsupported:
		return TypeInvalidRequest, CodeNotImplemented
	case providers.KindRateLimited:
		return TypeRateLimitError, CodeRateLimitExceeded
	case providers.KindCircuitOpen:
		return TypeProviderError, CodeCircuitOpen
	case providers.KindTimeout:
		return TypeProviderError, CodeRequestTimeout
	case providers.KindUpstream:
		return TypeProviderError, CodeProviderError
	case providers.KindAuth:
		return TypeAuthenticationErr, CodeInvalidAPIKey
	case providers.KindNoProviders:
		return TypeProviderError, CodeNoProviders
	default:
		return TypeServerError, CodeInternalError
	}
}

// WriteRateLimit writes a 429 rate limit error.
func WriteRateLimit(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Retry-After", "60")
	Write(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded", TypeRateLimitError, CodeRateLimitExceeded)
}

// WriteUnauthorized writes a 401 authentication error.
func WriteUnauthorized(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusUnauthorized, "missing or invalid bearer token", TypeAuthenticationErr, CodeInvalidAPIKey)
}
