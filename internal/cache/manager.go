package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/nulpointcorp/uir-gateway/internal/metrics"
	"github.com/nulpointcorp/uir-gateway/internal/providers"
)

// keyVersion lets a format change invalidate old entries implicitly.
const keyVersion = "v1"

// vectorKeyDims is how many leading dimensions participate in the vector
// content hash. Coarse on purpose so near-identical requests share an entry;
// a collision hazard only at very large scale.
const vectorKeyDims = 10

// Manager composes the remote and local tiers and owns response
// (de)serialization plus key construction.
//
// Lookup order is remote first, local on miss or remote failure. Writes go
// to both tiers; every write is best-effort and never fails a request.
// Either tier may be nil.
type Manager struct {
	remote Store
	local  Store

	defaultTTL time.Duration
	exclusions *ExclusionList
	log        *slog.Logger
	met        *metrics.Registry
}

// NewManager builds the two-tier cache. log must not be nil; remote, local,
// exclusions, and met may each be nil.
func NewManager(remote, local Store, defaultTTL time.Duration, exclusions *ExclusionList, log *slog.Logger, met *metrics.Registry) *Manager {
	if defaultTTL <= 0 {
		defaultTTL = providers.DefaultCacheTTL
	}
	return &Manager{
		remote:     remote,
		local:      local,
		defaultTTL: defaultTTL,
		exclusions: exclusions,
		log:        log,
		met:        met,
	}
}

// Key builds the request fingerprint:
//
//	uir:custom:<key>                                    — caller-supplied key
//	uir:v1:<providers>:<content-hash>:<options-hash>    — derived key
//
// providerNames are sorted and comma-joined; the content hash covers the
// query text, or the first 10 vector dimensions for vector requests; the
// options hash is the first 8 hex chars of the hash of the options JSON.
func Key(providerNames []string, query string, vector []float32, opts *providers.SearchOptions) string {
	if opts != nil && opts.Cache.Key != "" {
		return KeyPrefix + "custom:" + opts.Cache.Key
	}

	names := append([]string(nil), providerNames...)
	sort.Strings(names)

	content := query
	if content == "" && len(vector) > 0 {
		dims := vector
		if len(dims) > vectorKeyDims {
			dims = dims[:vectorKeyDims]
		}
		parts := make([]string, len(dims))
		for i, v := range dims {
			parts[i] = strconv.FormatFloat(float64(v), 'f', 6, 32)
		}
		content = strings.Join(parts, ",")
	}

	return fmt.Sprintf("%s%s:%s:%x:%s",
		KeyPrefix, keyVersion,
		strings.Join(names, ","),
		xxhash.Sum64String(content),
		optionsHash(opts),
	)
}

// optionsHash hashes the canonical JSON of the options. Go's encoding/json
// emits struct fields in declaration order, which is canonical enough for
// same-binary round trips.
func optionsHash(opts *providers.SearchOptions) string {
	if opts == nil {
		opts = providers.DefaultSearchOptions()
	}
	data, err := json.Marshal(opts)
	if err != nil {
		return "00000000"
	}
	sum := fmt.Sprintf("%016x", xxhash.Sum64(data))
	return sum[:8]
}

// Excluded reports whether any of the requested providers is excluded from
// caching by configuration.
func (m *Manager) Excluded(providerNames []string) bool {
	for _, name := range providerNames {
		if m.exclusions.Matches(name) {
			return true
		}
	}
	return false
}

// GetResponse returns the cached response for key with cache_hit asserted
// true, or (nil, false) on a miss in both tiers.
func (m *Manager) GetResponse(ctx context.Context, key string) (*providers.SearchResponse, bool) {
	data, ok := m.get(ctx, key)
	if !ok {
		if m.met != nil {
			m.met.CacheGetMiss()
		}
		return nil, false
	}

	var resp providers.SearchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		m.log.Warn("cache_decode_error",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		if m.met != nil {
			m.met.CacheGetMiss()
		}
		return nil, false
	}

	resp.Metadata.CacheHit = true
	if m.met != nil {
		m.met.CacheGetHit()
	}
	return &resp, true
}

func (m *Manager) get(ctx context.Context, key string) ([]byte, bool) {
	if m.remote != nil {
		if data, ok := m.remote.Get(ctx, key); ok {
			return data, true
		}
	}
	if m.local != nil {
		return m.local.Get(ctx, key)
	}
	return nil, false
}

// SetResponse stores resp in both tiers. ttl <= 0 takes the default.
// Best-effort: failures are logged, never propagated.
func (m *Manager) SetResponse(ctx context.Context, key string, resp *providers.SearchResponse, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	data, err := json.Marshal(resp)
	if err != nil {
		m.log.Warn("cache_encode_error", slog.String("error", err.Error()))
		if m.met != nil {
			m.met.CacheSetError()
		}
		return
	}

	if m.remote != nil {
		_ = m.remote.Set(ctx, key, data, ttl)
	}
	if m.local != nil {
		_ = m.local.Set(ctx, key, data, ttl)
	}
	if m.met != nil {
		m.met.CacheSetOK()
	}
}

// Invalidate removes keys containing substr from both tiers and returns the
// total dropped.
func (m *Manager) Invalidate(ctx context.Context, substr string) int {
	total := 0
	for _, tier := range []Store{m.remote, m.local} {
		if tier == nil {
			continue
		}
		n, err := tier.DeleteMatching(ctx, substr)
		if err != nil {
			m.log.Warn("cache_invalidate_error",
				slog.String("pattern", substr),
				slog.String("error", err.Error()),
			)
		}
		total += n
	}
	return total
}

// Clear wipes both tiers.
func (m *Manager) Clear(ctx context.Context) {
	for _, tier := range []Store{m.remote, m.local} {
		if tier == nil {
			continue
		}
		if err := tier.Clear(ctx); err != nil {
			m.log.Warn("cache_clear_error", slog.String("error", err.Error()))
		}
	}
}
