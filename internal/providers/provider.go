// Package providers defines the canonical request/response model and the
// adapter contract shared by all retrieval provider implementations (web
// search engines, vector databases, document stores).
//
// Each provider lives in its own sub-package and implements the Adapter
// interface. Adapters that cannot perform an operation return an Error with
// KindUnsupported instead of guessing.
package providers

import (
	"context"
	"encoding/json"
	"time"
)

// Kind classifies what a provider is, which drives provider selection:
// vector searches only go to vector_db providers, failover prefers a
// provider of the same kind, and so on.
type Kind string

const (
	KindSearchEngine   Kind = "search_engine"
	KindVectorDB       Kind = "vector_db"
	KindDocumentStore  Kind = "document_store"
	KindKnowledgeGraph Kind = "knowledge_graph"
)

// Request option bounds and defaults.
const (
	DefaultLimit = 10
	MaxLimit     = 1000

	DefaultTimeoutMS = 5000
	MinTimeoutMS     = 100
	MaxTimeoutMS     = 60000

	DefaultCacheTTL = time.Hour
)

// Default circuit breaker, retry, and health constants.
const (
	CBFailureThreshold = 5
	CBRecoveryTimeout  = 30 * time.Second
	CBHalfOpenMaxCalls = 3

	RetryMaxAttempts = 3
	RetryBaseBackoff = 200 * time.Millisecond
	RetryMaxBackoff  = 5 * time.Second

	HealthCheckInterval = 60 * time.Second
	DegradedLatency     = 5 * time.Second
)

// CacheOptions controls response caching for one request.
type CacheOptions struct {
	Enabled    bool   `json:"enabled"`
	TTLSeconds int    `json:"ttl_seconds"`
	Key        string `json:"key,omitempty"`
}

// SearchOptions carries the per-request knobs shared by every request kind.
// All fields are optional on the wire; absent fields take the documented
// defaults (see DefaultSearchOptions).
type SearchOptions struct {
	Limit              int               `json:"limit"`
	Offset             int               `json:"offset"`
	TimeoutMS          int               `json:"timeout_ms"`
	Filters            map[string]Filter `json:"filters,omitempty"`
	DateRange          *DateRange        `json:"date_range,omitempty"`
	IncludeMetadata    bool              `json:"include_metadata"`
	IncludeExplanation bool              `json:"include_explanation"`
	Rerank             bool              `json:"rerank"`
	Cache              CacheOptions      `json:"cache"`
	FallbackProviders  []string          `json:"fallback_providers,omitempty"`
	MinScore           float64           `json:"min_score,omitempty"`
	Deduplicate        bool              `json:"deduplicate"`
}

// DefaultSearchOptions returns options populated with every default:
// limit 10, timeout 5s, metadata on, dedup on, caching on with a 1h TTL.
func DefaultSearchOptions() *SearchOptions {
	return &SearchOptions{
		Limit:           DefaultLimit,
		TimeoutMS:       DefaultTimeoutMS,
		IncludeMetadata: true,
		Deduplicate:     true,
		Cache: CacheOptions{
			Enabled:    true,
			TTLSeconds: int(DefaultCacheTTL.Seconds()),
		},
	}
}

// UnmarshalJSON decodes options on top of the defaults, so a request that
// omits a field gets the default rather than the Go zero value.
func (o *SearchOptions) UnmarshalJSON(data []byte) error {
	type plain SearchOptions
	tmp := plain(*DefaultSearchOptions())
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*o = SearchOptions(tmp)
	return nil
}

// Validate checks option bounds. Out-of-range values are rejected, not
// clamped, so callers learn about mistakes instead of getting surprising
// result counts.
func (o *SearchOptions) Validate() error {
	if o.Limit < 1 || o.Limit > MaxLimit {
		return E(KindValidation, "", "limit must be in [1, %d], got %d", MaxLimit, o.Limit)
	}
	if o.Offset < 0 {
		return E(KindValidation, "", "offset must be >= 0, got %d", o.Offset)
	}
	if o.TimeoutMS < MinTimeoutMS || o.TimeoutMS > MaxTimeoutMS {
		return E(KindValidation, "", "timeout_ms must be in [%d, %d], got %d", MinTimeoutMS, MaxTimeoutMS, o.TimeoutMS)
	}
	for field, f := range o.Filters {
		if err := f.Validate(); err != nil {
			return E(KindValidation, "", "filter %q: %v", field, err)
		}
	}
	return nil
}

// Timeout returns the per-request deadline as a duration.
func (o *SearchOptions) Timeout() time.Duration {
	if o.TimeoutMS <= 0 {
		return DefaultTimeoutMS * time.Millisecond
	}
	return time.Duration(o.TimeoutMS) * time.Millisecond
}

// TTL returns the cache TTL for this request.
func (o *SearchOptions) TTL() time.Duration {
	if o.Cache.TTLSeconds <= 0 {
		return DefaultCacheTTL
	}
	return time.Duration(o.Cache.TTLSeconds) * time.Second
}

// SearchResult is one canonical result. Adapters translate their native
// response shapes into this and normalize Score into [0,1] before handing
// results to the aggregator.
type SearchResult struct {
	ID          string         `json:"id"`
	Title       string         `json:"title,omitempty"`
	Content     string         `json:"content,omitempty"`
	URL         string         `json:"url,omitempty"`
	Snippet     string         `json:"snippet,omitempty"`
	Score       float64        `json:"score"`
	Provider    string         `json:"provider"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Highlights  []string       `json:"highlights,omitempty"`
	Explanation string         `json:"explanation,omitempty"`
	Vector      []float32      `json:"vector,omitempty"`
}

// Status of a completed request.
//
//	success — every dispatched provider contributed.
//	partial — at least one contributed and at least one failed.
//	error   — zero providers contributed.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusError   Status = "error"
)

// ResponseMetadata describes how the response was produced.
type ResponseMetadata struct {
	QueryTimeMS            int64          `json:"query_time_ms"`
	ProvidersUsed          []string       `json:"providers_used"`
	ProvidersFailed        []string       `json:"providers_failed,omitempty"`
	CacheHit               bool           `json:"cache_hit"`
	SpellCorrected         bool           `json:"spell_corrected"`
	FiltersApplied         map[string]any `json:"filters_applied,omitempty"`
	TransformationsApplied []string       `json:"transformations_applied,omitempty"`
}

// ResponseError is one per-provider failure surfaced to the caller.
type ResponseError struct {
	Kind     string `json:"kind"`
	Provider string `json:"provider,omitempty"`
	Message  string `json:"message"`
}

// SearchResponse is the unified response for all request kinds.
type SearchResponse struct {
	Status    Status           `json:"status"`
	RequestID string           `json:"request_id"`
	Results   []SearchResult   `json:"results"`
	Metadata  ResponseMetadata `json:"metadata"`
	Errors    []ResponseError  `json:"errors,omitempty"`
}

// SearchRequest — text search against one or more providers.
type SearchRequest struct {
	Provider  string         `json:"provider,omitempty"`
	Providers []string       `json:"providers,omitempty"`
	Query     string         `json:"query"`
	Options   *SearchOptions `json:"options,omitempty"`
}

// ProviderList merges the single-provider and multi-provider forms into one
// ordered slice. Order is preserved because it is the tie-break order for
// aggregation.
func (r *SearchRequest) ProviderList() []string {
	if len(r.Providers) > 0 {
		return r.Providers
	}
	if r.Provider != "" {
		return []string{r.Provider}
	}
	return nil
}

// VectorSearchRequest — similarity search. Exactly one of Vector or Text
// must be set; Text is embedded before dispatch.
type VectorSearchRequest struct {
	Provider  string         `json:"provider,omitempty"`
	Providers []string       `json:"providers,omitempty"`
	Vector    []float32      `json:"vector,omitempty"`
	Text      string         `json:"text,omitempty"`
	Index     string         `json:"index,omitempty"`
	Namespace string         `json:"namespace,omitempty"`
	Options   *SearchOptions `json:"options,omitempty"`
}

func (r *VectorSearchRequest) ProviderList() []string {
	if len(r.Providers) > 0 {
		return r.Providers
	}
	if r.Provider != "" {
		return []string{r.Provider}
	}
	return nil
}

// StrategyType — how one hybrid strategy retrieves.
type StrategyType string

const (
	StrategyKeyword StrategyType = "keyword"
	StrategyVector  StrategyType = "vector"
	StrategyGraph   StrategyType = "graph"
)

// FusionMethod — how hybrid strategy outputs are merged.
type FusionMethod string

const (
	FusionReciprocalRank FusionMethod = "reciprocal_rank"
	FusionWeightedSum    FusionMethod = "weighted_sum"
	FusionMaxScore       FusionMethod = "max_score"
)

// HybridStrategy is one leg of a hybrid search: a provider, a weight in
// [0,1] applied to its result scores, and one of Query / Text / Vector
// depending on Type.
type HybridStrategy struct {
	Type     StrategyType   `json:"type"`
	Provider string         `json:"provider"`
	Weight   float64        `json:"weight"`
	Query    string         `json:"query,omitempty"`
	Text     string         `json:"text,omitempty"`
	Vector   []float32      `json:"vector,omitempty"`
	Options  *SearchOptions `json:"options,omitempty"`
}

// HybridSearchRequest — ordered strategies plus the fusion method.
type HybridSearchRequest struct {
	Strategies   []HybridStrategy `json:"strategies"`
	FusionMethod FusionMethod     `json:"fusion_method,omitempty"`
	Options      *SearchOptions   `json:"options,omitempty"`
}

// VectorQuery bundles the vector-search parameters an adapter needs beyond
// the vector itself.
type VectorQuery struct {
	Index     string
	Namespace string
	Options   *SearchOptions
}

// Document is an opaque document handed to Index. Adapters pick the fields
// they understand ("id", "title", "content", "vector", ...).
type Document map[string]any

// IndexResult reports the outcome of an Index call.
type IndexResult struct {
	IndexedCount int      `json:"indexed_count"`
	Errors       []string `json:"errors,omitempty"`
}

// HealthStatus of one provider.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// ProviderHealth is the latest probe result for one provider.
type ProviderHealth struct {
	Provider     string       `json:"provider"`
	Status       HealthStatus `json:"status"`
	LatencyMS    float64      `json:"latency_ms,omitempty"`
	SuccessRate  float64      `json:"success_rate,omitempty"`
	LastCheck    time.Time    `json:"last_check"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

// RetryPolicy — exponential backoff tuning. Zero values fall back to the
// package defaults.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseBackoff time.Duration `json:"base_backoff"`
	MaxBackoff  time.Duration `json:"max_backoff"`
}

// BreakerConfig — circuit breaker tuning. Zero values fall back to the
// package defaults.
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
	HalfOpenMaxCalls int           `json:"half_open_max_calls"`
}

// ProviderConfig is everything needed to construct and operate one adapter.
type ProviderConfig struct {
	Name        string             `json:"name"`
	Kind        Kind               `json:"kind"`
	AuthMethod  string             `json:"auth_method,omitempty"`
	Credentials map[string]string  `json:"credentials,omitempty"`
	Endpoints   map[string]string  `json:"endpoints,omitempty"`
	RateLimits  map[string]float64 `json:"rate_limits,omitempty"` // operation → requests/sec
	RateBurst   map[string]float64 `json:"rate_burst,omitempty"`  // operation → bucket capacity
	Retry       RetryPolicy        `json:"retry"`
	TimeoutMS   int                `json:"timeout_ms,omitempty"`
	Breaker     BreakerConfig      `json:"circuit_breaker"`
}

// Endpoint returns the named endpoint, falling back to "base".
func (c *ProviderConfig) Endpoint(name string) string {
	if v, ok := c.Endpoints[name]; ok {
		return v
	}
	return c.Endpoints["base"]
}

// Adapter is the uniform provider contract. Request/response translation to
// the provider's native wire format is internal to each implementation.
//
// Search and VectorSearch return KindUnsupported when the provider cannot
// perform that operation; Index is an optional capability and does the same.
type Adapter interface {
	Name() string
	Kind() Kind
	Search(ctx context.Context, query string, opts *SearchOptions) ([]SearchResult, error)
	VectorSearch(ctx context.Context, vector []float32, q *VectorQuery) ([]SearchResult, error)
	Index(ctx context.Context, docs []Document, opts *SearchOptions) (*IndexResult, error)
	HealthCheck(ctx context.Context) (*ProviderHealth, error)
	Close() error
}
