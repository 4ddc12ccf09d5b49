package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultMaxEntries bounds the local tier when no limit is configured.
const DefaultMaxEntries = 10000

// localItem stores a cached value together with its expiry time.
type localItem struct {
	data      []byte
	expiresAt time.Time
}

// LocalCache is the in-process tier with per-entry TTL and a bounded size.
//
// It is safe for concurrent use. Overflow eviction runs inside Set: expired
// entries are purged first, and if the cache is still over the limit the
// oldest-expiring 20% of the remaining entries are dropped. A background
// goroutine additionally sweeps expired entries.
type LocalCache struct {
	mu         sync.RWMutex
	items      map[string]localItem
	maxEntries int

	done chan struct{}
}

// NewLocalCache creates a LocalCache and starts the background cleanup loop.
// The cleanup goroutine stops when ctx is cancelled or Close is called.
// maxEntries <= 0 takes DefaultMaxEntries.
func NewLocalCache(ctx context.Context, maxEntries int) *LocalCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c := &LocalCache{
		items:      make(map[string]localItem),
		maxEntries: maxEntries,
		done:       make(chan struct{}),
	}
	go c.cleanup(ctx)
	return c
}

// Get returns the cached value for key. Returns (nil, false) on a miss or if
// the entry has expired. Expired entries are removed lazily on access.
func (c *LocalCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if time.Now().After(item.expiresAt) {
		// Lazy expiry — remove the stale entry without blocking reads.
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return nil, false
	}

	return item.data, true
}

// Set stores value under key for the duration of ttl, evicting on overflow.
// A zero or negative ttl is treated as a 1-hour TTL.
func (c *LocalCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Hour
	}

	c.mu.Lock()
	c.items[key] = localItem{
		data:      value,
		expiresAt: time.Now().Add(ttl),
	}
	if len(c.items) > c.maxEntries {
		c.evictLocked()
	}
	c.mu.Unlock()

	return nil
}

// evictLocked purges expired entries, then drops the oldest-expiring 20% of
// what remains if the cache is still over the limit. Caller must hold the
// write lock.
func (c *LocalCache) evictLocked() {
	now := time.Now()
	for k, v := range c.items {
		if now.After(v.expiresAt) {
			delete(c.items, k)
		}
	}
	if len(c.items) <= c.maxEntries {
		return
	}

	type keyExpiry struct {
		key       string
		expiresAt time.Time
	}
	entries := make([]keyExpiry, 0, len(c.items))
	for k, v := range c.items {
		entries = append(entries, keyExpiry{k, v.expiresAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].expiresAt.Before(entries[j].expiresAt)
	})

	drop := len(entries) / 5
	if drop < 1 {
		drop = 1
	}
	for _, e := range entries[:drop] {
		delete(c.items, e.key)
	}
}

// Delete removes key from the cache. Returns nil if the key did not exist.
func (c *LocalCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}

// DeleteMatching removes every key containing substr.
func (c *LocalCache) DeleteMatching(_ context.Context, substr string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deleted := 0
	for k := range c.items {
		if strings.Contains(k, substr) {
			delete(c.items, k)
			deleted++
		}
	}
	return deleted, nil
}

// Clear removes all entries.
func (c *LocalCache) Clear(_ context.Context) error {
	c.mu.Lock()
	c.items = make(map[string]localItem)
	c.mu.Unlock()
	return nil
}

// Len returns the number of entries currently held in the cache
// (including entries that may have expired but not yet been evicted).
func (c *LocalCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the background cleanup goroutine.
func (c *LocalCache) Close() {
	close(c.done)
}

// cleanup runs every 5 minutes and evicts all expired entries.
func (c *LocalCache) cleanup(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.evictExpired()
		case <-ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}

func (c *LocalCache) evictExpired() {
	now := time.Now()

	c.mu.Lock()
	for k, v := range c.items {
		if now.After(v.expiresAt) {
			delete(c.items, k)
		}
	}
	c.mu.Unlock()
}
