package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

// newTestRedisCache starts a miniredis server and returns a RedisCache backed
// by it. Cleanup is registered on t.
func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	c, err := NewRedisCacheFromURL(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisCacheFromURL: %v", err)
	}

	t.Cleanup(func() { _ = c.Close() })

	return c, mr
}

// TestRedisGetMiss verifies that Get returns (nil, false) when the key is absent.
func TestRedisGetMiss(t *testing.T) {
	c, _ := newTestRedisCache(t)

	data, ok := c.Get(context.Background(), "nonexistent-key")
	if ok {
		t.Fatal("expected cache miss, got hit")
	}
	if data != nil {
		t.Fatalf("expected nil data on miss, got %v", data)
	}
}

// TestRedisSetAndGetHit verifies that a value written with Set can be read back.
func TestRedisSetAndGetHit(t *testing.T) {
	c, _ := newTestRedisCache(t)

	key := KeyPrefix + "v1:google:abc:def"
	want := []byte(`{"status":"success"}`)

	if err := c.Set(context.Background(), key, want, time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok := c.Get(context.Background(), key)
	if !ok {
		t.Fatal("expected cache hit, got miss")
	}
	if string(got) != string(want) {
		t.Fatalf("Get returned %q, want %q", got, want)
	}
}

// TestRedisTTLIsSet verifies that the TTL is actually stored in Redis by
// advancing miniredis time past the TTL and confirming the key expires.
func TestRedisTTLIsSet(t *testing.T) {
	c, mr := newTestRedisCache(t)

	key := "ttl-key"
	ttl := 10 * time.Second

	if err := c.Set(context.Background(), key, []byte("payload"), ttl); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, ok := c.Get(context.Background(), key); !ok {
		t.Fatal("key should exist before TTL expires")
	}

	mr.FastForward(ttl + time.Second)

	if _, ok := c.Get(context.Background(), key); ok {
		t.Fatal("key should have expired after TTL")
	}
}

// TestRedisDelete verifies that Delete removes an existing key.
func TestRedisDelete(t *testing.T) {
	c, _ := newTestRedisCache(t)

	key := "delete-key"
	if err := c.Set(context.Background(), key, []byte("to-be-deleted"), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := c.Delete(context.Background(), key); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, ok := c.Get(context.Background(), key); ok {
		t.Fatal("key should be gone after Delete")
	}
}

// TestRedisDeleteMissingKey verifies that deleting a non-existent key does not
// return an error.
func TestRedisDeleteMissingKey(t *testing.T) {
	c, _ := newTestRedisCache(t)

	if err := c.Delete(context.Background(), "ghost-key"); err != nil {
		t.Fatalf("Delete of missing key returned error: %v", err)
	}
}

// TestRedisDeleteMatching verifies substring invalidation only touches keys in
// the gateway key space that contain the substring.
func TestRedisDeleteMatching(t *testing.T) {
	c, _ := newTestRedisCache(t)
	ctx := context.Background()

	keys := []string{
		KeyPrefix + "v1:google:aaaa:11111111",
		KeyPrefix + "v1:google,elasticsearch:bbbb:22222222",
		KeyPrefix + "v1:pinecone:cccc:33333333",
	}
	for _, k := range keys {
		if err := c.Set(ctx, k, []byte("x"), time.Hour); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}

	n, err := c.DeleteMatching(ctx, "google")
	if err != nil {
		t.Fatalf("DeleteMatching: %v", err)
	}
	if n != 2 {
		t.Fatalf("DeleteMatching dropped %d keys, want 2", n)
	}

	if _, ok := c.Get(ctx, keys[2]); !ok {
		t.Fatal("pinecone key should survive invalidation of google keys")
	}
}

// TestRedisGracefulDegradationGet verifies that Get returns (nil, false) when
// Redis is unreachable instead of returning an error to the caller.
func TestRedisGracefulDegradationGet(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := NewRedisCacheFromURL(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisCacheFromURL: %v", err)
	}
	defer func() { _ = c.Close() }()

	// Take the server down.
	mr.Close()

	data, ok := c.Get(context.Background(), "any-key")
	if ok {
		t.Fatal("expected miss when Redis is down, got hit")
	}
	if data != nil {
		t.Fatalf("expected nil data when Redis is down, got %v", data)
	}
}

// TestRedisGracefulDegradationSet verifies that Set returns nil (not an error)
// when Redis is unreachable so the search request is not aborted.
func TestRedisGracefulDegradationSet(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := NewRedisCacheFromURL(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisCacheFromURL: %v", err)
	}
	defer func() { _ = c.Close() }()

	mr.Close()

	if err := c.Set(context.Background(), "any-key", []byte("value"), time.Hour); err != nil {
		t.Fatalf("Set must return nil on Redis error for graceful degradation, got: %v", err)
	}
}

// TestNewRedisCacheInvalidURL verifies that an invalid Redis URL is rejected.
func TestNewRedisCacheInvalidURL(t *testing.T) {
	_, err := NewRedisCacheFromURL(context.Background(), "not-a-valid-url")
	if err == nil {
		t.Fatal("expected error for invalid URL, got nil")
	}
}

// TestRedisImplementsStore is a compile-time assertion that RedisCache
// satisfies the Store interface.
func TestRedisImplementsStore(t *testing.T) {
	var _ Store = (*RedisCache)(nil)
}
