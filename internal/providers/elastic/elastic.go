// Package elastic implements the document-store adapter speaking the
// Elasticsearch HTTP API: full-text search with highlights, kNN vector
// search, and bulk indexing.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nulpointcorp/uir-gateway/internal/metrics"
	"github.com/nulpointcorp/uir-gateway/internal/providers"
)

const defaultIndex = "documents"

// vectorField is the dense_vector field name used for kNN queries.
const vectorField = "embedding"

// Adapter is the Elasticsearch provider.
type Adapter struct {
	name     string
	endpoint string
	index    string
	apiKey   string
	client   *http.Client
	rt       *providers.Runtime
	log      *slog.Logger
}

// New builds the adapter. Endpoint "base" is the cluster URL; credential
// "api_key" is optional (sent as an ApiKey authorization header);
// endpoint "index" overrides the default index name.
func New(cfg *providers.ProviderConfig, log *slog.Logger, met *metrics.Registry) (*Adapter, error) {
	endpoint := cfg.Endpoint("base")
	if endpoint == "" {
		return nil, providers.E(providers.KindValidation, cfg.Name, "base endpoint is required")
	}

	index := cfg.Endpoints["index"]
	if index == "" {
		index = defaultIndex
	}

	return &Adapter{
		name:     cfg.Name,
		endpoint: strings.TrimRight(endpoint, "/"),
		index:    index,
		apiKey:   cfg.Credentials["api_key"],
		client:   &http.Client{Timeout: providers.MaxTimeoutMS * time.Millisecond},
		rt:       providers.NewRuntime(cfg, log, met),
		log:      log,
	}, nil
}

func (a *Adapter) Name() string         { return a.name }
func (a *Adapter) Kind() providers.Kind { return providers.KindDocumentStore }

type esHit struct {
	ID        string              `json:"_id"`
	Score     *float64            `json:"_score"`
	Source    map[string]any      `json:"_source"`
	Highlight map[string][]string `json:"highlight"`
}

type esSearchResponse struct {
	Hits struct {
		MaxScore *float64 `json:"max_score"`
		Hits     []esHit  `json:"hits"`
	} `json:"hits"`
}

func (a *Adapter) Search(ctx context.Context, queryText string, opts *providers.SearchOptions) ([]providers.SearchResult, error) {
	if opts == nil {
		opts = providers.DefaultSearchOptions()
	}

	body := map[string]any{
		"size": opts.Limit,
		"from": opts.Offset,
		"query": map[string]any{
			"bool": map[string]any{
				"must": map[string]any{
					"multi_match": map[string]any{
						"query":  queryText,
						"fields": []string{"title^2", "content", "description"},
					},
				},
				"filter": buildFilters(opts),
			},
		},
		"highlight": map[string]any{
			"fields": map[string]any{
				"content": map[string]any{},
				"title":   map[string]any{},
			},
		},
	}

	var results []providers.SearchResult
	err := a.rt.Do(ctx, "search", opts.Timeout(), func(ctx context.Context) error {
		var err error
		results, err = a.runSearch(ctx, body, opts)
		return err
	})
	return results, err
}

func (a *Adapter) VectorSearch(ctx context.Context, vector []float32, q *providers.VectorQuery) ([]providers.SearchResult, error) {
	opts := q.Options
	if opts == nil {
		opts = providers.DefaultSearchOptions()
	}

	body := map[string]any{
		"knn": map[string]any{
			"field":          vectorField,
			"query_vector":   vector,
			"k":              opts.Limit,
			"num_candidates": opts.Limit * 10,
			"filter":         buildFilters(opts),
		},
	}

	var results []providers.SearchResult
	err := a.rt.Do(ctx, "vector_search", opts.Timeout(), func(ctx context.Context) error {
		var err error
		results, err = a.runSearch(ctx, body, opts)
		return err
	})
	return results, err
}

func (a *Adapter) runSearch(ctx context.Context, body map[string]any, opts *providers.SearchOptions) ([]providers.SearchResult, error) {
	raw, err := a.request(ctx, http.MethodPost, "/"+a.index+"/_search", body)
	if err != nil {
		return nil, err
	}

	var sr esSearchResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, providers.WrapErr(providers.KindUpstream, a.name, err)
	}

	// Observe the score range for normalization.
	minScore, maxScore := 0.0, 0.0
	seen := false
	for _, h := range sr.Hits.Hits {
		if h.Score == nil {
			continue
		}
		if !seen || *h.Score < minScore {
			minScore = *h.Score
		}
		if !seen || *h.Score > maxScore {
			maxScore = *h.Score
		}
		seen = true
	}

	results := make([]providers.SearchResult, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		r := providers.SearchResult{
			ID:       h.ID,
			Provider: a.name,
			Score:    0.5,
		}
		if h.Score != nil {
			r.Score = providers.NormalizeScore(*h.Score, minScore, maxScore)
		}
		if v, ok := h.Source["title"].(string); ok {
			r.Title = v
		}
		if v, ok := h.Source["content"].(string); ok {
			r.Content = v
		}
		if v, ok := h.Source["url"].(string); ok {
			r.URL = v
		}
		if v, ok := h.Source["description"].(string); ok {
			r.Snippet = v
		}
		for _, frags := range h.Highlight {
			r.Highlights = append(r.Highlights, frags...)
		}
		if opts.IncludeMetadata {
			r.Metadata = h.Source
		}
		results = append(results, r)
	}
	return results, nil
}

// Index bulk-inserts documents via the _bulk NDJSON endpoint. Per-item
// failures are collected, not fatal.
func (a *Adapter) Index(ctx context.Context, docs []providers.Document, opts *providers.SearchOptions) (*providers.IndexResult, error) {
	if opts == nil {
		opts = providers.DefaultSearchOptions()
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		action := map[string]any{"index": map[string]any{"_index": a.index}}
		if id, ok := doc["id"].(string); ok && id != "" {
			action["index"].(map[string]any)["_id"] = id
		}
		if err := enc.Encode(action); err != nil {
			return nil, providers.WrapErr(providers.KindInternal, a.name, err)
		}
		if err := enc.Encode(doc); err != nil {
			return nil, providers.WrapErr(providers.KindInternal, a.name, err)
		}
	}

	var result *providers.IndexResult
	err := a.rt.Do(ctx, "index", opts.Timeout(), func(ctx context.Context) error {
		raw, err := a.requestRaw(ctx, http.MethodPost, "/_bulk", buf.Bytes(), "application/x-ndjson")
		if err != nil {
			return err
		}

		var br struct {
			Errors bool `json:"errors"`
			Items  []map[string]struct {
				Status int `json:"status"`
				Error  *struct {
					Reason string `json:"reason"`
				} `json:"error"`
			} `json:"items"`
		}
		if err := json.Unmarshal(raw, &br); err != nil {
			return providers.WrapErr(providers.KindUpstream, a.name, err)
		}

		result = &providers.IndexResult{}
		for _, item := range br.Items {
			for _, op := range item {
				if op.Error != nil {
					result.Errors = append(result.Errors, op.Error.Reason)
				} else {
					result.IndexedCount++
				}
			}
		}
		return nil
	})
	return result, err
}

// HealthCheck hits the cluster health endpoint; a red cluster is degraded,
// not down — it still answers queries for green shards.
func (a *Adapter) HealthCheck(ctx context.Context) (*providers.ProviderHealth, error) {
	raw, err := a.request(ctx, http.MethodGet, "/_cluster/health", nil)
	if err != nil {
		return &providers.ProviderHealth{
			Provider:     a.name,
			Status:       providers.HealthUnhealthy,
			ErrorMessage: err.Error(),
		}, nil
	}

	var ch struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &ch); err != nil {
		return &providers.ProviderHealth{
			Provider:     a.name,
			Status:       providers.HealthUnhealthy,
			ErrorMessage: err.Error(),
		}, nil
	}

	status := providers.HealthHealthy
	if ch.Status == "red" {
		status = providers.HealthDegraded
	}
	return &providers.ProviderHealth{Provider: a.name, Status: status}, nil
}

func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

func (a *Adapter) request(ctx context.Context, method, path string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, providers.WrapErr(providers.KindInternal, a.name, err)
		}
	}
	return a.requestRaw(ctx, method, path, payload, "application/json")
}

func (a *Adapter) requestRaw(ctx context.Context, method, path string, payload []byte, contentType string) ([]byte, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.endpoint+path, rd)
	if err != nil {
		return nil, providers.WrapErr(providers.KindInternal, a.name, err)
	}
	req.Header.Set("Content-Type", contentType)
	if a.apiKey != "" {
		req.Header.Set("Authorization", "ApiKey "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, providers.WrapErr(providers.KindUpstream, a.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providers.WrapErr(providers.KindUpstream, a.name, err)
	}
	if resp.StatusCode >= 400 {
		return nil, providers.FromHTTPStatus(a.name, resp.StatusCode, string(raw))
	}
	return raw, nil
}

// buildFilters translates canonical filters into an ES bool filter list.
func buildFilters(opts *providers.SearchOptions) []map[string]any {
	filters := []map[string]any{}

	for field, f := range opts.Filters {
		switch f.Op {
		case providers.OpEq:
			filters = append(filters, map[string]any{"term": map[string]any{field: f.Value}})
		case providers.OpNe:
			filters = append(filters, map[string]any{
				"bool": map[string]any{
					"must_not": map[string]any{"term": map[string]any{field: f.Value}},
				},
			})
		case providers.OpIn:
			filters = append(filters, map[string]any{"terms": map[string]any{field: f.Values}})
		case providers.OpContains:
			filters = append(filters, map[string]any{
				"match": map[string]any{field: fmt.Sprintf("%v", f.Value)},
			})
		case providers.OpGt, providers.OpGte, providers.OpLt, providers.OpLte:
			filters = append(filters, map[string]any{
				"range": map[string]any{field: map[string]any{string(f.Op): f.Value}},
			})
		case providers.OpRange:
			bounds := map[string]any{}
			if f.From != nil {
				bounds["gte"] = f.From
			}
			if f.To != nil {
				bounds["lte"] = f.To
			}
			filters = append(filters, map[string]any{"range": map[string]any{field: bounds}})
		}
	}

	if opts.DateRange != nil {
		bounds := map[string]any{}
		if opts.DateRange.From != "" {
			bounds["gte"] = opts.DateRange.From
		}
		if opts.DateRange.To != "" {
			bounds["lte"] = opts.DateRange.To
		}
		if len(bounds) > 0 {
			filters = append(filters, map[string]any{"range": map[string]any{"date": bounds}})
		}
	}

	return filters
}

var _ providers.Adapter = (*Adapter)(nil)
