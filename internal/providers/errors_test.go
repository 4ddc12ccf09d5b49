package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "request level",
			err:  E(KindValidation, "", "limit must be in [1, %d], got %d", MaxLimit, 0),
			want: "limit must be in [1, 1000], got 0",
		},
		{
			name: "provider with status",
			err:  FromHTTPStatus("google", 502, "bad gateway"),
			want: "google: bad gateway (status=502)",
		},
		{
			name: "provider without status",
			err:  E(KindTimeout, "qdrant", "deadline exceeded"),
			want: "qdrant: deadline exceeded",
		},
		{
			name: "wrapped cause",
			err:  WrapErr(KindUpstream, "elastic", errors.New("connection refused")),
			want: "elastic: connection refused",
		},
	}
	for _, c := range cases {
		if got := c.err.Error(); got != c.want {
			t.Errorf("%s: Error() = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestFromHTTPStatus(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorKind
	}{
		{401, KindAuth},
		{403, KindAuth},
		{429, KindRateLimited},
		{400, KindUpstream},
		{500, KindUpstream},
		{503, KindUpstream},
	}
	for _, c := range cases {
		e := FromHTTPStatus("p", c.status, "msg")
		if e.Kind != c.want {
			t.Errorf("FromHTTPStatus(%d) kind = %s, want %s", c.status, e.Kind, c.want)
		}
		if e.Status != c.status {
			t.Errorf("FromHTTPStatus(%d) status = %d", c.status, e.Status)
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		kind ErrorKind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindUnsupported, http.StatusUnprocessableEntity},
		{KindRateLimited, http.StatusTooManyRequests},
		{KindCircuitOpen, http.StatusServiceUnavailable},
		{KindNoProviders, http.StatusServiceUnavailable},
		{KindTimeout, http.StatusGatewayTimeout},
		{KindUpstream, http.StatusBadGateway},
		{KindAuth, http.StatusUnauthorized},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, c := range cases {
		e := &Error{Kind: c.kind}
		if got := e.HTTPStatus(); got != c.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", c.kind, got, c.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(E(KindRateLimited, "p", "x")); got != KindRateLimited {
		t.Errorf("KindOf(*Error) = %s", got)
	}
	wrapped := fmt.Errorf("call failed: %w", E(KindAuth, "p", "denied"))
	if got := KindOf(wrapped); got != KindAuth {
		t.Errorf("KindOf(wrapped *Error) = %s", got)
	}
	if got := KindOf(context.DeadlineExceeded); got != KindTimeout {
		t.Errorf("KindOf(DeadlineExceeded) = %s", got)
	}
	if got := KindOf(errors.New("mystery")); got != KindInternal {
		t.Errorf("KindOf(plain error) = %s", got)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", E(KindRateLimited, "p", "slow down"), true},
		{"connection error", WrapErr(KindUpstream, "p", errors.New("refused")), true},
		{"upstream 500", FromHTTPStatus("p", 500, "boom"), true},
		{"upstream 503", FromHTTPStatus("p", 503, "overload"), true},
		{"upstream 429", FromHTTPStatus("p", 429, "throttled"), true},
		{"upstream 400", &Error{Kind: KindUpstream, Status: 400}, false},
		{"auth", FromHTTPStatus("p", 401, "denied"), false},
		{"circuit open", E(KindCircuitOpen, "p", "open"), false},
		{"validation", E(KindValidation, "", "bad"), false},
		{"timeout", E(KindTimeout, "p", "deadline"), false},
		{"plain error", errors.New("x"), false},
	}
	for _, c := range cases {
		if got := Retryable(c.err); got != c.want {
			t.Errorf("%s: Retryable = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestCounted(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"upstream", FromHTTPStatus("p", 500, "boom"), true},
		{"timeout", E(KindTimeout, "p", "deadline"), true},
		{"rate limited", E(KindRateLimited, "p", "throttled"), true},
		{"auth", E(KindAuth, "p", "denied"), true},
		{"validation", E(KindValidation, "", "bad"), false},
		{"unsupported", E(KindUnsupported, "p", "no text search"), false},
		{"circuit open", E(KindCircuitOpen, "p", "open"), false},
		{"no providers", E(KindNoProviders, "", "none"), false},
	}
	for _, c := range cases {
		if got := Counted(c.err); got != c.want {
			t.Errorf("%s: Counted = %v, want %v", c.name, got, c.want)
		}
	}
}
