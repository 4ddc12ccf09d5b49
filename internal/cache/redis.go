// Package cache provides the two-tier response cache.
//
// Tiers:
//   - RedisCache — shared across replicas, TTL-native. Recommended remote tier.
//   - LocalCache — in-process map with per-entry expiry and bounded size.
//
// Both implement Store; the Manager composes them (remote first, local
// fallback) and owns cache-key construction.
//
// Graceful degradation: when Redis is unavailable, Get returns (nil, false)
// and Set returns nil so the gateway never fails due to a missing cache.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCacheTimeout = 500 * time.Millisecond

// KeyPrefix namespaces every gateway cache key in Redis.
const KeyPrefix = "uir:"

// RedisCache is the Redis-backed remote tier.
type RedisCache struct {
	client       *redis.Client
	queryTimeout time.Duration
}

// NewRedisCacheFromClient wraps an existing Redis client. The caller owns
// the client lifecycle (creation and Close).
func NewRedisCacheFromClient(redisCli *redis.Client) *RedisCache {
	return &RedisCache{client: redisCli, queryTimeout: defaultCacheTimeout}
}

// NewRedisCacheFromURL parses redisURL, creates a Redis client, verifies the
// connection with a PING, and returns a RedisCache.
// Returns an error if the URL is invalid or the initial ping fails.
func NewRedisCacheFromURL(ctx context.Context, redisURL string) (*RedisCache, error) {
	if ctx == nil {
		return nil, fmt.Errorf("cache: context must not be nil")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse url: %w", err)
	}

	cli := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := cli.Ping(pingCtx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("cache: ping: %w", err)
	}

	return &RedisCache{client: cli, queryTimeout: defaultCacheTimeout}, nil
}

// Get retrieves the value for key from Redis.
// Returns (data, true) on a hit and (nil, false) on a miss or any error.
// Redis errors are logged at WARN level but not propagated.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.WarnContext(ctx, "cache_get_error",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}

	return val, true
}

// Set stores value under key with the given TTL.
// Returns nil even on Redis error — graceful degradation keeps the gateway
// functioning when the cache layer is unavailable.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		slog.WarnContext(ctx, "cache_set_error",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}

	return nil // always nil — degrade gracefully
}

// Delete removes key from Redis.
// Returns the underlying error so callers can decide how to handle it.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache: DEL %s: %w", key, err)
	}

	return nil
}

// DeleteMatching scans the gateway key space and removes keys containing
// substr. The scan is bounded by a longer timeout than point operations
// because it may touch many slots.
func (c *RedisCache) DeleteMatching(ctx context.Context, substr string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*c.queryTimeout)
	defer cancel()

	deleted := 0
	iter := c.client.Scan(ctx, 0, KeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if !strings.Contains(key, substr) {
			continue
		}
		if err := c.client.Del(ctx, key).Err(); err != nil {
			return deleted, fmt.Errorf("cache: DEL %s: %w", key, err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("cache: scan: %w", err)
	}
	return deleted, nil
}

// Clear removes every key under the gateway prefix.
func (c *RedisCache) Clear(ctx context.Context) error {
	_, err := c.DeleteMatching(ctx, KeyPrefix)
	return err
}

// Ready reports whether Redis answers a PING; used by health probes.
func (c *RedisCache) Ready(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()
	return c.client.Ping(ctx).Err() == nil
}

// Close releases the Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
