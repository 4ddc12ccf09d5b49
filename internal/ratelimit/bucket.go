// Package ratelimit provides the gateway's admission-control primitives.
//
// Two in-process limiters gate outbound provider calls:
//   - TokenBucket  — capacity + refill rate, fractional tokens.
//   - SlidingWindow — max requests per rolling window.
//
// A Limiter aggregates named token buckets per operation. The Redis-backed
// RPMLimiter (rpm.go) guards the inbound HTTP surface across replicas.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrWaitAborted is returned by blocking acquires when the context ends
// before a token becomes available.
var ErrWaitAborted = errors.New("ratelimit: wait aborted")

// TokenBucket is a classic token bucket with fractional tokens. It is safe
// for concurrent use; the mutex covers refill and deduct only, blocking
// waits sleep outside the lock.
type TokenBucket struct {
	mu       sync.Mutex
	capacity float64
	rate     float64 // tokens per second
	tokens   float64
	last     time.Time
}

// NewTokenBucket creates a full bucket. capacity and rate must be > 0;
// non-positive values are coerced to 1.
func NewTokenBucket(capacity, rate float64) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if rate <= 0 {
		rate = 1
	}
	return &TokenBucket{
		capacity: capacity,
		rate:     rate,
		tokens:   capacity,
		last:     time.Now(),
	}
}

// refill adds tokens for elapsed time. Caller must hold the mutex.
func (b *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now
}

// TryAcquire takes n tokens if available and reports success.
func (b *TokenBucket) TryAcquire(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(time.Now())
	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

// Acquire blocks until n tokens are available or ctx ends.
func (b *TokenBucket) Acquire(ctx context.Context, n float64) error {
	for {
		b.mu.Lock()
		b.refill(time.Now())
		if b.tokens >= n {
			b.tokens -= n
			b.mu.Unlock()
			return nil
		}
		wait := time.Duration((n - b.tokens) / b.rate * float64(time.Second))
		b.mu.Unlock()

		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ErrWaitAborted
		case <-timer.C:
		}
	}
}

// Tokens returns the current token count after a refill.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(time.Now())
	return b.tokens
}

// SlidingWindow admits at most maxRequests within any rolling window.
type SlidingWindow struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	stamps []time.Time
}

// NewSlidingWindow creates a window limiter. maxRequests must be > 0.
func NewSlidingWindow(window time.Duration, maxRequests int) *SlidingWindow {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &SlidingWindow{window: window, max: maxRequests}
}

// evict drops timestamps outside the window. Caller must hold the mutex.
func (w *SlidingWindow) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = w.stamps[i:]
	}
}

// TryAcquire admits the call if the window has room.
func (w *SlidingWindow) TryAcquire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.evict(now)
	if len(w.stamps) >= w.max {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

// Acquire blocks until the oldest in-window request exits or ctx ends.
func (w *SlidingWindow) Acquire(ctx context.Context) error {
	for {
		w.mu.Lock()
		now := time.Now()
		w.evict(now)
		if len(w.stamps) < w.max {
			w.stamps = append(w.stamps, now)
			w.mu.Unlock()
			return nil
		}
		wait := w.stamps[0].Add(w.window).Sub(now)
		w.mu.Unlock()

		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ErrWaitAborted
		case <-timer.C:
		}
	}
}

// Limiter aggregates named token buckets per operation ("search",
// "vector_search", "index", "health"). Operations without their own bucket
// fall through to "default"; with no default either, calls pass.
type Limiter struct {
	buckets map[string]*TokenBucket
}

// NewLimiter builds buckets from operation → requests/sec. burst overrides
// bucket capacity per operation; absent entries use max(1, rate).
func NewLimiter(rates map[string]float64, burst map[string]float64) *Limiter {
	l := &Limiter{buckets: make(map[string]*TokenBucket, len(rates))}
	for op, rate := range rates {
		capacity := rate
		if b, ok := burst[op]; ok && b > 0 {
			capacity = b
		}
		if capacity < 1 {
			capacity = 1
		}
		l.buckets[op] = NewTokenBucket(capacity, rate)
	}
	return l
}

func (l *Limiter) bucket(op string) *TokenBucket {
	if b, ok := l.buckets[op]; ok {
		return b
	}
	return l.buckets["default"]
}

// TryAcquire takes n tokens from the operation's bucket. Operations with no
// bucket (and no default) are always admitted.
func (l *Limiter) TryAcquire(op string, n float64) bool {
	b := l.bucket(op)
	if b == nil {
		return true
	}
	return b.TryAcquire(n)
}

// Acquire blocks on the operation's bucket until admitted or ctx ends.
func (l *Limiter) Acquire(ctx context.Context, op string, n float64) error {
	b := l.bucket(op)
	if b == nil {
		return nil
	}
	return b.Acquire(ctx, n)
}
