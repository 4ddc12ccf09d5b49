package cache

import (
	"context"
	"time"
)

// Store is one cache tier. Implementations degrade gracefully: a Get error
// is a miss, a Set error is swallowed, so a broken tier never fails a
// request.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// DeleteMatching removes every key containing substr and reports how
	// many were dropped. Used for pattern invalidation.
	DeleteMatching(ctx context.Context, substr string) (int, error)

	// Clear removes every key in the gateway's key space.
	Clear(ctx context.Context) error
}
