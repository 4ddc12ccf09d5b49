package providers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nulpointcorp/uir-gateway/internal/breaker"
)

func testRuntime(t *testing.T, cfg *ProviderConfig) *Runtime {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "test-provider"
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRuntime(cfg, log, nil)
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestRuntimeRetriesTransientErrors(t *testing.T) {
	r := testRuntime(t, &ProviderConfig{Retry: fastRetry()})

	calls := 0
	err := r.Do(context.Background(), "search", time.Second, func(context.Context) error {
		calls++
		if calls < 3 {
			return FromHTTPStatus("test-provider", 503, "overloaded")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3 (two retries then success)", calls)
	}
}

func TestRuntimeDoesNotRetryPermanentErrors(t *testing.T) {
	r := testRuntime(t, &ProviderConfig{Retry: fastRetry()})

	calls := 0
	err := r.Do(context.Background(), "search", time.Second, func(context.Context) error {
		calls++
		return FromHTTPStatus("test-provider", 401, "bad key")
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1; auth errors must not be retried", calls)
	}
	if KindOf(err) != KindAuth {
		t.Fatalf("kind = %s, want AuthError", KindOf(err))
	}
}

func TestRuntimeExhaustsRetries(t *testing.T) {
	r := testRuntime(t, &ProviderConfig{Retry: fastRetry()})

	calls := 0
	err := r.Do(context.Background(), "search", time.Second, func(context.Context) error {
		calls++
		return FromHTTPStatus("test-provider", 500, "boom")
	})
	if calls != 3 {
		t.Fatalf("calls = %d, want MaxAttempts (3)", calls)
	}
	if KindOf(err) != KindUpstream {
		t.Fatalf("kind = %s, want Upstream", KindOf(err))
	}
}

func TestRuntimeBreakerTrips(t *testing.T) {
	r := testRuntime(t, &ProviderConfig{
		Retry:   RetryPolicy{MaxAttempts: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		Breaker: BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute},
	})
	ctx := context.Background()

	fail := func(context.Context) error {
		return FromHTTPStatus("test-provider", 500, "boom")
	}
	_ = r.Do(ctx, "search", time.Second, fail)
	_ = r.Do(ctx, "search", time.Second, fail)

	if r.Breaker().State() != breaker.Open {
		t.Fatalf("breaker state = %v, want Open", r.Breaker().State())
	}

	// Third call is rejected synthetically without reaching the adapter.
	calls := 0
	err := r.Do(ctx, "search", time.Second, func(context.Context) error {
		calls++
		return nil
	})
	if calls != 0 {
		t.Error("open breaker must not invoke the adapter")
	}
	if KindOf(err) != KindCircuitOpen {
		t.Fatalf("kind = %s, want CircuitOpen", KindOf(err))
	}
}

func TestRuntimeValidationDoesNotTripBreaker(t *testing.T) {
	r := testRuntime(t, &ProviderConfig{
		Retry:   RetryPolicy{MaxAttempts: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		Breaker: BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute},
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_ = r.Do(ctx, "search", time.Second, func(context.Context) error {
			return E(KindUnsupported, "test-provider", "text search not supported")
		})
	}
	if r.Breaker().State() != breaker.Closed {
		t.Fatalf("breaker state = %v, want Closed; unsupported must not count", r.Breaker().State())
	}
}

func TestRuntimeDeadline(t *testing.T) {
	r := testRuntime(t, &ProviderConfig{Retry: fastRetry()})

	start := time.Now()
	err := r.Do(context.Background(), "search", 30*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("Do took %v, deadline not enforced", elapsed)
	}
	if KindOf(err) != KindTimeout {
		t.Fatalf("kind = %s, want Timeout", KindOf(err))
	}
}

func TestRuntimeDeadlineStopsRetries(t *testing.T) {
	r := testRuntime(t, &ProviderConfig{
		Retry: RetryPolicy{MaxAttempts: 100, BaseBackoff: 20 * time.Millisecond, MaxBackoff: 20 * time.Millisecond},
	})

	calls := 0
	err := r.Do(context.Background(), "search", 30*time.Millisecond, func(context.Context) error {
		calls++
		return FromHTTPStatus("test-provider", 500, "boom")
	})
	if calls > 5 {
		t.Fatalf("calls = %d, retry loop must stop at the deadline", calls)
	}
	if KindOf(err) != KindTimeout {
		t.Fatalf("kind = %s, want Timeout", KindOf(err))
	}

	// The last real failure stays reachable as the cause.
	var pe *Error
	if !errors.As(err, &pe) || pe.Err == nil {
		t.Fatalf("timeout error should wrap the last failure, got %v", err)
	}
}

func TestRuntimeRateLimitRejection(t *testing.T) {
	r := testRuntime(t, &ProviderConfig{
		Retry:      RetryPolicy{MaxAttempts: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		RateLimits: map[string]float64{"search": 0.001},
		RateBurst:  map[string]float64{"search": 1},
	})
	ctx := context.Background()

	if err := r.Do(ctx, "search", time.Second, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("first call: %v", err)
	}

	// Bucket drained; the deadline elapses waiting for admission.
	err := r.Do(ctx, "search", 20*time.Millisecond, func(context.Context) error { return nil })
	if KindOf(err) != KindTimeout {
		t.Fatalf("kind = %s, want Timeout when the deadline elapses at the limiter", KindOf(err))
	}
}
