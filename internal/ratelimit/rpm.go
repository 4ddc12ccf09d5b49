package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript admits or rejects one request against a rolling window
// kept in a Redis sorted set, atomically: trim entries older than the
// window, count what remains, and add the new request only if the count is
// under the limit.
// KEYS[1] = window key
// ARGV[1] = now (unix nanoseconds)
// ARGV[2] = window length (nanoseconds)
// ARGV[3] = max requests per window
// Returns 1 when admitted, 0 when over the limit.
var slidingWindowScript = redis.NewScript(`
		local key    = KEYS[1]
		local now    = tonumber(ARGV[1])
		local window = tonumber(ARGV[2])
		local limit  = tonumber(ARGV[3])

		redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

		local count = redis.call('ZCARD', key)
		if count >= limit then
			return 0
		end

		-- Member must be unique per request; the timestamp alone collides
		-- under load.
		local member = tostring(now) .. tostring(math.random(1, 1000000))
		redis.call('ZADD', key, now, member)
		redis.call('PEXPIRE', key, math.ceil(window / 1000000))
		return 1
`)

const rpmWindowKey = "uir:ratelimit:rpm"

// RPMLimiter caps total inbound searches per minute across every gateway
// replica. The token buckets in bucket.go protect individual providers
// inside one process; this guards the whole deployment's front door, which
// needs shared state, hence Redis.
//
// A Redis outage fails open: the gateway keeps serving and the per-provider
// limiters remain the backstop.
type RPMLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

// NewRPMLimiter creates a limiter admitting at most limit requests per
// minute. limit must be > 0; a non-positive limit rejects everything.
func NewRPMLimiter(rdb *redis.Client, limit int) *RPMLimiter {
	return &RPMLimiter{rdb: rdb, limit: limit, window: time.Minute}
}

// Allow reports whether the current request fits in the window.
func (r *RPMLimiter) Allow(ctx context.Context) (bool, error) {
	now := time.Now().UnixNano()
	result, err := slidingWindowScript.Run(ctx, r.rdb,
		[]string{rpmWindowKey},
		now, r.window.Nanoseconds(), r.limit,
	).Int()
	if err != nil {
		// Fail open on Redis errors.
		return true, nil
	}
	return result == 1, nil
}
