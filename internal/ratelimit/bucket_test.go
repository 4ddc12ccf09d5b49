package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/nulpointcorp/uir-gateway/internal/ratelimit"
)

func TestTokenBucket_AdmitsUpToCapacity(t *testing.T) {
	// Very slow refill so the test only sees the initial capacity.
	b := ratelimit.NewTokenBucket(5, 0.001)

	for i := 0; i < 5; i++ {
		if !b.TryAcquire(1) {
			t.Fatalf("acquire %d should succeed within capacity", i)
		}
	}
	if b.TryAcquire(1) {
		t.Error("acquire beyond capacity should fail")
	}
}

func TestTokenBucket_Refills(t *testing.T) {
	b := ratelimit.NewTokenBucket(1, 100) // 100 tokens/sec

	if !b.TryAcquire(1) {
		t.Fatal("initial acquire should succeed")
	}
	if b.TryAcquire(1) {
		t.Fatal("bucket should be empty immediately after drain")
	}

	time.Sleep(30 * time.Millisecond) // ~3 tokens refilled, capped at 1

	if !b.TryAcquire(1) {
		t.Error("acquire after refill should succeed")
	}
}

// TestTokenBucket_SustainedRateBound hammers the bucket over a sustained
// window and checks total admissions stay within the initial burst plus the
// refill budget for the measured elapsed time.
func TestTokenBucket_SustainedRateBound(t *testing.T) {
	const (
		capacity = 5.0
		rate     = 50.0
	)
	b := ratelimit.NewTokenBucket(capacity, rate)

	start := time.Now()
	admitted := 0
	for time.Since(start) < 200*time.Millisecond {
		if b.TryAcquire(1) {
			admitted++
		}
		time.Sleep(time.Millisecond)
	}
	elapsed := time.Since(start).Seconds()

	bound := capacity + rate*elapsed + 1
	if float64(admitted) > bound {
		t.Fatalf("admitted %d over %.0fms, bound %.1f", admitted, elapsed*1000, bound)
	}
	if admitted < int(capacity) {
		t.Fatalf("admitted %d, want at least the initial burst of %.0f", admitted, capacity)
	}
}

func TestTokenBucket_CapacityCapsRefill(t *testing.T) {
	b := ratelimit.NewTokenBucket(2, 1000)

	time.Sleep(20 * time.Millisecond)

	if got := b.Tokens(); got > 2 {
		t.Errorf("Tokens = %v, must never exceed capacity 2", got)
	}
}

func TestTokenBucket_FractionalTokens(t *testing.T) {
	b := ratelimit.NewTokenBucket(1, 1)

	if !b.TryAcquire(0.4) {
		t.Fatal("fractional acquire should succeed")
	}
	if !b.TryAcquire(0.4) {
		t.Fatal("second fractional acquire should succeed")
	}
	if b.TryAcquire(0.4) {
		t.Error("third fractional acquire should fail, only 0.2 tokens left")
	}
}

func TestTokenBucket_AcquireBlocksUntilRefill(t *testing.T) {
	b := ratelimit.NewTokenBucket(1, 50) // 20ms per token

	if !b.TryAcquire(1) {
		t.Fatal("initial acquire should succeed")
	}

	start := time.Now()
	if err := b.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("Acquire returned after %v, expected it to block for the refill", elapsed)
	}
}

func TestTokenBucket_AcquireAbortsOnContext(t *testing.T) {
	b := ratelimit.NewTokenBucket(1, 0.001) // effectively never refills

	if !b.TryAcquire(1) {
		t.Fatal("initial acquire should succeed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := b.Acquire(ctx, 1); err != ratelimit.ErrWaitAborted {
		t.Fatalf("Acquire = %v, want ErrWaitAborted", err)
	}
}

func TestSlidingWindow_AdmitsUpToMax(t *testing.T) {
	w := ratelimit.NewSlidingWindow(time.Minute, 3)

	for i := 0; i < 3; i++ {
		if !w.TryAcquire() {
			t.Fatalf("acquire %d should succeed", i)
		}
	}
	if w.TryAcquire() {
		t.Error("acquire beyond window max should fail")
	}
}

func TestSlidingWindow_RecoversAfterWindow(t *testing.T) {
	w := ratelimit.NewSlidingWindow(30*time.Millisecond, 1)

	if !w.TryAcquire() {
		t.Fatal("initial acquire should succeed")
	}
	if w.TryAcquire() {
		t.Fatal("second acquire inside the window should fail")
	}

	time.Sleep(40 * time.Millisecond)

	if !w.TryAcquire() {
		t.Error("acquire after the window rolls should succeed")
	}
}

func TestSlidingWindow_AcquireAbortsOnContext(t *testing.T) {
	w := ratelimit.NewSlidingWindow(time.Minute, 1)

	if !w.TryAcquire() {
		t.Fatal("initial acquire should succeed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := w.Acquire(ctx); err != ratelimit.ErrWaitAborted {
		t.Fatalf("Acquire = %v, want ErrWaitAborted", err)
	}
}

func TestLimiter_PerOperationBuckets(t *testing.T) {
	l := ratelimit.NewLimiter(
		map[string]float64{"search": 0.001, "index": 0.001},
		map[string]float64{"search": 2, "index": 1},
	)

	if !l.TryAcquire("search", 1) || !l.TryAcquire("search", 1) {
		t.Fatal("search bucket has capacity 2")
	}
	if l.TryAcquire("search", 1) {
		t.Error("search bucket exhausted, acquire should fail")
	}
	// index has its own bucket, unaffected by search.
	if !l.TryAcquire("index", 1) {
		t.Error("index bucket should be untouched")
	}
}

func TestLimiter_DefaultFallthrough(t *testing.T) {
	l := ratelimit.NewLimiter(
		map[string]float64{"default": 0.001},
		map[string]float64{"default": 1},
	)

	if !l.TryAcquire("vector_search", 1) {
		t.Fatal("first acquire against default bucket should succeed")
	}
	if l.TryAcquire("health", 1) {
		t.Error("default bucket is shared and exhausted")
	}
}

func TestLimiter_NoBucketAlwaysAdmits(t *testing.T) {
	l := ratelimit.NewLimiter(nil, nil)

	for i := 0; i < 100; i++ {
		if !l.TryAcquire("search", 1) {
			t.Fatal("operations without a bucket must always be admitted")
		}
	}
	if err := l.Acquire(context.Background(), "search", 1); err != nil {
		t.Fatalf("Acquire without bucket: %v", err)
	}
}
