package providers

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/nulpointcorp/uir-gateway/internal/breaker"
	"github.com/nulpointcorp/uir-gateway/internal/metrics"
	"github.com/nulpointcorp/uir-gateway/internal/ratelimit"
)

// Runtime wraps every outbound adapter call in the gateway's failure
// isolation stack, in this order:
//
//  1. token bucket admission for the operation
//  2. circuit breaker
//  3. exponential-backoff retry (transient errors only)
//  4. per-request deadline
//
// One Runtime is shared by all concurrent requests hitting the same
// provider, so the bucket and breaker see the provider's full traffic.
type Runtime struct {
	provider string
	limiter  *ratelimit.Limiter
	breaker  *breaker.Breaker
	retry    RetryPolicy
	log      *slog.Logger
	met      *metrics.Registry
}

// NewRuntime builds the runtime for one provider from its config.
// log must not be nil; met may be nil (metrics disabled).
func NewRuntime(cfg *ProviderConfig, log *slog.Logger, met *metrics.Registry) *Runtime {
	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = RetryMaxAttempts
	}
	if retry.BaseBackoff <= 0 {
		retry.BaseBackoff = RetryBaseBackoff
	}
	if retry.MaxBackoff <= 0 {
		retry.MaxBackoff = RetryMaxBackoff
	}

	return &Runtime{
		provider: cfg.Name,
		limiter:  ratelimit.NewLimiter(cfg.RateLimits, cfg.RateBurst),
		breaker: breaker.New(breaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
			HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
			IsFailure:        Counted,
		}),
		retry: retry,
		log:   log,
		met:   met,
	}
}

// Do executes fn through the isolation stack. timeout bounds the whole call
// including rate-limit waits and retry backoff; zero means the caller's ctx
// deadline applies alone.
func (r *Runtime) Do(ctx context.Context, op string, timeout time.Duration, fn func(context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := r.do(ctx, op, fn)
	r.observe(op, start, err)
	return err
}

func (r *Runtime) do(ctx context.Context, op string, fn func(context.Context) error) error {
	if err := r.limiter.Acquire(ctx, op, 1); err != nil {
		if r.met != nil {
			r.met.RecordRateLimit("rejected")
		}
		if ctx.Err() != nil {
			return E(KindTimeout, r.provider, "deadline elapsed waiting for rate limit")
		}
		return WrapErr(KindRateLimited, r.provider, err)
	}
	if r.met != nil {
		r.met.RecordRateLimit("allowed")
	}

	err := r.breaker.Do(func() error {
		return r.withRetry(ctx, op, fn)
	})
	if errors.Is(err, breaker.ErrOpen) {
		return E(KindCircuitOpen, r.provider, "circuit breaker open")
	}
	return err
}

// withRetry runs fn with exponential backoff. Only transient failures are
// retried; a breaker rejection never reaches here, so CircuitOpen is not
// retried within a request.
func (r *Runtime) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return r.deadlineError(err)
		}
		if !Retryable(err) || attempt >= r.retry.MaxAttempts {
			return err
		}

		wait := r.backoff(attempt)
		r.log.Debug("provider_retry",
			slog.String("provider", r.provider),
			slog.String("operation", op),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return r.deadlineError(err)
		case <-timer.C:
		}
	}
}

// backoff computes min(cap, base·2^(attempt−1)) with half-range jitter.
func (r *Runtime) backoff(attempt int) time.Duration {
	d := r.retry.BaseBackoff << (attempt - 1)
	if d > r.retry.MaxBackoff || d <= 0 {
		d = r.retry.MaxBackoff
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// deadlineError keeps the last real failure as the cause of a timeout.
func (r *Runtime) deadlineError(last error) error {
	return &Error{Kind: KindTimeout, Provider: r.provider, Message: "deadline exceeded", Err: last}
}

func (r *Runtime) observe(op string, start time.Time, err error) {
	if r.met == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		r.met.RecordError(r.provider, string(KindOf(err)))
	}
	r.met.ObserveProviderCall(r.provider, op, outcome, time.Since(start), 0)
	r.met.SetCircuitBreaker(r.provider, int64(r.breaker.State()))
}

// Breaker exposes the provider's breaker for tests and diagnostics.
func (r *Runtime) Breaker() *breaker.Breaker { return r.breaker }
