package cache

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/nulpointcorp/uir-gateway/internal/providers"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	mr := miniredis.RunT(t)
	remote, err := NewRedisCacheFromURL(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisCacheFromURL: %v", err)
	}
	t.Cleanup(func() { _ = remote.Close() })

	local := NewLocalCache(context.Background(), 100)
	t.Cleanup(local.Close)

	return NewManager(remote, local, time.Hour, nil, testLogger(), nil)
}

// TestKeyStable verifies that the same request always produces the same key
// and that provider order does not matter.
func TestKeyStable(t *testing.T) {
	opts := providers.DefaultSearchOptions()

	k1 := Key([]string{"google", "elasticsearch"}, "hello world", nil, opts)
	k2 := Key([]string{"elasticsearch", "google"}, "hello world", nil, opts)
	if k1 != k2 {
		t.Fatalf("provider order changed the key: %q vs %q", k1, k2)
	}
	if !strings.HasPrefix(k1, KeyPrefix+keyVersion+":") {
		t.Fatalf("key %q missing prefix", k1)
	}
}

// TestKeyDiscriminates verifies that different queries, providers, and
// options each produce different keys.
func TestKeyDiscriminates(t *testing.T) {
	opts := providers.DefaultSearchOptions()
	base := Key([]string{"google"}, "hello", nil, opts)

	if Key([]string{"google"}, "goodbye", nil, opts) == base {
		t.Error("different query should change the key")
	}
	if Key([]string{"elasticsearch"}, "hello", nil, opts) == base {
		t.Error("different provider should change the key")
	}

	other := providers.DefaultSearchOptions()
	other.Limit = 50
	if Key([]string{"google"}, "hello", nil, other) == base {
		t.Error("different options should change the key")
	}
}

// TestKeyCustom verifies the caller-supplied key short-circuits derivation.
func TestKeyCustom(t *testing.T) {
	opts := providers.DefaultSearchOptions()
	opts.Cache.Key = "my-session-42"

	got := Key([]string{"google"}, "anything", nil, opts)
	if got != KeyPrefix+"custom:my-session-42" {
		t.Fatalf("custom key = %q", got)
	}
}

// TestKeyVector verifies only the first 10 dimensions participate in the
// vector content hash.
func TestKeyVector(t *testing.T) {
	opts := providers.DefaultSearchOptions()

	v1 := make([]float32, 768)
	v2 := make([]float32, 768)
	for i := range v1 {
		v1[i] = float32(i)
		v2[i] = float32(i)
	}
	v2[500] = 99 // differs beyond the hashed prefix

	if Key(nil, "", v1, opts) != Key(nil, "", v2, opts) {
		t.Fatal("vectors differing only past dimension 10 should share a key")
	}

	v2[3] = 99 // differs inside the hashed prefix
	if Key(nil, "", v1, opts) == Key(nil, "", v2, opts) {
		t.Fatal("vectors differing in the first 10 dimensions should not share a key")
	}
}

// TestManagerRoundTrip verifies that a stored response is returned intact
// except for cache_hit, which flips to true.
func TestManagerRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	resp := &providers.SearchResponse{
		Status:    providers.StatusSuccess,
		RequestID: "req-1",
		Results: []providers.SearchResult{
			{ID: "a", Title: "A", Score: 0.9, Provider: "google"},
			{ID: "b", Title: "B", Score: 0.5, Provider: "google"},
		},
		Metadata: providers.ResponseMetadata{
			QueryTimeMS:   12,
			ProvidersUsed: []string{"google"},
		},
	}

	key := Key([]string{"google"}, "round trip", nil, providers.DefaultSearchOptions())
	m.SetResponse(ctx, key, resp, 0)

	got, ok := m.GetResponse(ctx, key)
	if !ok {
		t.Fatal("expected hit after SetResponse")
	}
	if !got.Metadata.CacheHit {
		t.Error("cache_hit must be true on a cached response")
	}
	if got.Status != providers.StatusSuccess || len(got.Results) != 2 {
		t.Fatalf("cached response mangled: %+v", got)
	}
	if got.Results[0].ID != "a" || got.Results[0].Score != 0.9 {
		t.Fatalf("result order or scores changed: %+v", got.Results)
	}
}

// TestManagerLocalFallback verifies the local tier answers when the remote
// tier misses.
func TestManagerLocalFallback(t *testing.T) {
	local := NewLocalCache(context.Background(), 100)
	t.Cleanup(local.Close)

	m := NewManager(nil, local, time.Hour, nil, testLogger(), nil)
	ctx := context.Background()

	resp := &providers.SearchResponse{Status: providers.StatusSuccess, RequestID: "r"}
	m.SetResponse(ctx, "local-only", resp, time.Hour)

	if _, ok := m.GetResponse(ctx, "local-only"); !ok {
		t.Fatal("expected hit from local tier")
	}
}

func TestManagerMiss(t *testing.T) {
	m := newTestManager(t)

	if _, ok := m.GetResponse(context.Background(), "never-set"); ok {
		t.Fatal("expected miss")
	}
}

// TestManagerInvalidate verifies substring invalidation hits both tiers.
func TestManagerInvalidate(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	resp := &providers.SearchResponse{Status: providers.StatusSuccess}
	gk := Key([]string{"google"}, "q1", nil, providers.DefaultSearchOptions())
	pk := Key([]string{"pinecone"}, "q2", nil, providers.DefaultSearchOptions())
	m.SetResponse(ctx, gk, resp, time.Hour)
	m.SetResponse(ctx, pk, resp, time.Hour)

	// Both tiers hold each key, so two drops per key.
	n := m.Invalidate(ctx, "google")
	if n != 2 {
		t.Fatalf("Invalidate dropped %d, want 2", n)
	}

	if _, ok := m.GetResponse(ctx, gk); ok {
		t.Fatal("google key should be gone")
	}
	if _, ok := m.GetResponse(ctx, pk); !ok {
		t.Fatal("pinecone key should survive")
	}
}

// TestManagerExcluded verifies provider exclusion rules.
func TestManagerExcluded(t *testing.T) {
	el, err := NewExclusionList([]string{"pinecone"}, []string{`^internal-`})
	if err != nil {
		t.Fatal(err)
	}
	m := NewManager(nil, nil, time.Hour, el, testLogger(), nil)

	if !m.Excluded([]string{"google", "pinecone"}) {
		t.Error("request including pinecone must be excluded")
	}
	if !m.Excluded([]string{"internal-wiki"}) {
		t.Error("regex exclusion missed")
	}
	if m.Excluded([]string{"google", "elasticsearch"}) {
		t.Error("non-excluded providers flagged")
	}
}
