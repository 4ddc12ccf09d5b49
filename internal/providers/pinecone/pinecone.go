// Package pinecone implements the vector DB adapter speaking the Pinecone
// HTTP API (query, upsert, describe_index_stats). Pinecone is vector-only:
// text search returns Unsupported.
package pinecone

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

// Adapter is the Pinecone provider.
type Adapter struct {
	name     string
	endpoint string
	apiKey   string
	client   *http.Client
	rt       *providers.Runtime
	log      *slog.Logger
}

// New builds the adapter. Endpoint "base" is the index URL
// (https://<index>-<project>.svc.<env>.pinecone.io); credential "api_key"
// is required.
func New(cfg *providers.ProviderConfig, log *slog.Logger, met *metrics.Registry) (*Adapter, error) {
	endpoint := cfg.Endpoint("base")
	if endpoint == "" {
		return nil, providers.E(providers.KindValidation, cfg.Name, "base endpoint is required")
	}
	apiKey := cfg.Credentials["api_key"]
	if apiKey == "" {
		return nil, providers.E(providers.KindValidation, cfg.Name, "api_key is required")
	}

	return &Adapter{
		name:     cfg.Name,
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: providers.MaxTimeoutMS * time.Millisecond},
		rt:       providers.NewRuntime(cfg, log, met),
		log:      log,
	}, nil
}

func (a *Adapter) Name() string         { return a.name }
func (a *Adapter) Kind() providers.Kind { return providers.KindVectorDB }

// Search is not supported: Pinecone has no text index.
func (a *Adapter) Search(ctx context.Context, query string, opts *providers.SearchOptions) ([]providers.SearchResult, error) {
	return nil, providers.E(providers.KindUnsupported, a.name, "text search is not supported")
}

type queryResponse struct {
	Matches []struct {
		ID       string         `json:"id"`
		Score    float64        `json:"score"`
		Metadata map[string]any `json:"metadata"`
	} `json:"matches"`
	Namespace string `json:"namespace"`
}

func (a *Adapter) VectorSearch(ctx context.Context, vector []float32, q *providers.VectorQuery) ([]providers.SearchResult, error) {
	opts := q.Options
	if opts == nil {
		opts = providers.DefaultSearchOptions()
	}

	body := map[string]any{
		"vector":          vector,
		"topK":            opts.Limit,
		"includeMetadata": opts.IncludeMetadata,
	}
	if q.Namespace != "" {
		body["namespace"] = q.Namespace
	}
	if f := buildFilter(opts); f != nil {
		body["filter"] = f
	}

	var results []providers.SearchResult
	err := a.rt.Do(ctx, "vector_search", opts.Timeout(), func(ctx context.Context) error {
		raw, err := a.request(ctx, "/query", body)
		if err != nil {
			return err
		}

		var qr queryResponse
		if err := json.Unmarshal(raw, &qr); err != nil {
			return providers.WrapErr(providers.KindUpstream, a.name, err)
		}

		results = make([]providers.SearchResult, 0, len(qr.Matches))
		for _, m := range qr.Matches {
			// Cosine scores are already in [0,1] for normalized vectors.
			r := providers.SearchResult{
				ID:       m.ID,
				Score:    providers.Clamp01(m.Score),
				Provider: a.name,
			}
			if v, ok := m.Metadata["title"].(string); ok {
				r.Title = v
			}
			if v, ok := m.Metadata["content"].(string); ok {
				r.Content = v
			}
			if v, ok := m.Metadata["url"].(string); ok {
				r.URL = v
			}
			if opts.IncludeMetadata {
				r.Metadata = m.Metadata
			}
			results = append(results, r)
		}
		return nil
	})
	return results, err
}

// Index upserts vectors. Each document needs "id" and "vector"; remaining
// fields travel as metadata.
func (a *Adapter) Index(ctx context.Context, docs []providers.Document, opts *providers.SearchOptions) (*providers.IndexResult, error) {
	if opts == nil {
		opts = providers.DefaultSearchOptions()
	}

	result := &providers.IndexResult{}
	vectors := make([]map[string]any, 0, len(docs))
	for i, doc := range docs {
		id, _ := doc["id"].(string)
		vec, ok := toFloat32Slice(doc["vector"])
		if id == "" || !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("document %d: id and vector are required", i))
			continue
		}
		metadata := make(map[string]any, len(doc))
		for k, v := range doc {
			if k != "id" && k != "vector" {
				metadata[k] = v
			}
		}
		vectors = append(vectors, map[string]any{
			"id":       id,
			"values":   vec,
			"metadata": metadata,
		})
	}

	if len(vectors) == 0 {
		return result, nil
	}

	err := a.rt.Do(ctx, "index", opts.Timeout(), func(ctx context.Context) error {
		raw, err := a.request(ctx, "/vectors/upsert", map[string]any{"vectors": vectors})
		if err != nil {
			return err
		}

		var ur struct {
			UpsertedCount int `json:"upsertedCount"`
		}
		if err := json.Unmarshal(raw, &ur); err != nil {
			return providers.WrapErr(providers.KindUpstream, a.name, err)
		}
		result.IndexedCount = ur.UpsertedCount
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// HealthCheck asks for index stats.
func (a *Adapter) HealthCheck(ctx context.Context) (*providers.ProviderHealth, error) {
	if _, err := a.request(ctx, "/describe_index_stats", map[string]any{}); err != nil {
		return &providers.ProviderHealth{
			Provider:     a.name,
			Status:       providers.HealthUnhealthy,
			ErrorMessage: err.Error(),
		}, nil
	}
	return &providers.ProviderHealth{Provider: a.name, Status: providers.HealthHealthy}, nil
}

func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

func (a *Adapter) request(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, providers.WrapErr(providers.KindInternal, a.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return nil, providers.WrapErr(providers.KindInternal, a.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", a.apiKey)

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

// buildFilter translates canonical filters into Pinecone's Mongo-style
// filter object.
func buildFilter(opts *providers.SearchOptions) map[string]any {
	if len(opts.Filters) == 0 {
		return nil
	}
	out := make(map[string]any, len(opts.Filters))
	for field, f := range opts.Filters {
		switch f.Op {
		case providers.OpEq:
			out[field] = map[string]any{"$eq": f.Value}
		case providers.OpNe:
			out[field] = map[string]any{"$ne": f.Value}
		case providers.OpGt:
			out[field] = map[string]any{"$gt": f.Value}
		case providers.OpGte:
			out[field] = map[string]any{"$gte": f.Value}
		case providers.OpLt:
			out[field] = map[string]any{"$lt": f.Value}
		case providers.OpLte:
			out[field] = map[string]any{"$lte": f.Value}
		case providers.OpIn:
			out[field] = map[string]any{"$in": f.Values}
		case providers.OpRange:
			bounds := map[string]any{}
			if f.From != nil {
				bounds["$gte"] = f.From
			}
			if f.To != nil {
				bounds["$lte"] = f.To
			}
			out[field] = bounds
		}
	}
	return out
}

func toFloat32Slice(v any) ([]float32, bool) {
	switch vec := v.(type) {
	case []float32:
		return vec, true
	case []float64:
		out := make([]float32, len(vec))
		for i, f := range vec {
			out[i] = float32(f)
		}
		return out, true
	case []any:
		out := make([]float32, len(vec))
		for i, e := range vec {
			f, ok := e.(float64)
			if !ok {
				return nil, false
			}
			out[i] = float32(f)
		}
		return out, true
	default:
		return nil, false
	}
}

var _ providers.Adapter = (*Adapter)(nil)
