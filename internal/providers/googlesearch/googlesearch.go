// Package googlesearch implements the web search adapter speaking the
// Google Custom Search JSON API. Scores are position-based: the API returns
// no relevance score, so rank within the page is the only signal.
package googlesearch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nulpointcorp/uir-gateway/internal/metrics"
	"github.com/nulpointcorp/uir-gateway/internal/providers"
)

const defaultEndpoint = "https://www.googleapis.com/customsearch/v1"

// maxPageSize is the API's hard cap on results per call.
const maxPageSize = 10

// Adapter is the Google Custom Search provider.
type Adapter struct {
	name     string
	apiKey   string
	engineID string
	endpoint string
	client   *http.Client
	rt       *providers.Runtime
	log      *slog.Logger
}

// New builds the adapter from its config. Credentials: "api_key" and
// "engine_id". Endpoint "base" overrides the public API URL (used by the
// mock backend in development).
func New(cfg *providers.ProviderConfig, log *slog.Logger, met *metrics.Registry) (*Adapter, error) {
	apiKey := cfg.Credentials["api_key"]
	engineID := cfg.Credentials["engine_id"]
	if apiKey == "" || engineID == "" {
		return nil, providers.E(providers.KindValidation, cfg.Name, "api_key and engine_id are required")
	}

	endpoint := cfg.Endpoint("base")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	return &Adapter{
		name:     cfg.Name,
		apiKey:   apiKey,
		engineID: engineID,
		endpoint: endpoint,
		client:   &http.Client{Timeout: providers.MaxTimeoutMS * time.Millisecond},
		rt:       providers.NewRuntime(cfg, log, met),
		log:      log,
	}, nil
}

func (a *Adapter) Name() string         { return a.name }
func (a *Adapter) Kind() providers.Kind { return providers.KindSearchEngine }

// searchResponse is the slice of the API response we consume.
type searchResponse struct {
	Items []struct {
		Title       string `json:"title"`
		Link        string `json:"link"`
		Snippet     string `json:"snippet"`
		DisplayLink string `json:"displayLink"`
	} `json:"items"`
	SearchInformation struct {
		TotalResults string `json:"totalResults"`
	} `json:"searchInformation"`
}

func (a *Adapter) Search(ctx context.Context, query string, opts *providers.SearchOptions) ([]providers.SearchResult, error) {
	if opts == nil {
		opts = providers.DefaultSearchOptions()
	}

	var results []providers.SearchResult
	err := a.rt.Do(ctx, "search", opts.Timeout(), func(ctx context.Context) error {
		var err error
		results, err = a.search(ctx, query, opts)
		return err
	})
	return results, err
}

func (a *Adapter) search(ctx context.Context, query string, opts *providers.SearchOptions) ([]providers.SearchResult, error) {
	num := opts.Limit
	if num > maxPageSize {
		num = maxPageSize
	}

	params := url.Values{}
	params.Set("key", a.apiKey)
	params.Set("cx", a.engineID)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(num))
	if opts.Offset > 0 {
		// The API uses 1-based start indices.
		params.Set("start", strconv.Itoa(opts.Offset+1))
	}
	if opts.DateRange != nil && opts.DateRange.From != "" {
		params.Set("sort", "date:r:"+compactDate(opts.DateRange.From)+":"+compactDate(opts.DateRange.To))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, providers.WrapErr(providers.KindInternal, a.name, err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, providers.WrapErr(providers.KindUpstream, a.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providers.WrapErr(providers.KindUpstream, a.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, providers.FromHTTPStatus(a.name, resp.StatusCode, string(body))
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, providers.WrapErr(providers.KindUpstream, a.name, err)
	}

	results := make([]providers.SearchResult, 0, len(sr.Items))
	n := len(sr.Items)
	for i, item := range sr.Items {
		r := providers.SearchResult{
			ID:       item.Link,
			Title:    item.Title,
			URL:      item.Link,
			Snippet:  item.Snippet,
			Score:    providers.PositionScore(i, n),
			Provider: a.name,
		}
		if opts.IncludeMetadata {
			r.Metadata = map[string]any{
				"display_link":  item.DisplayLink,
				"total_results": sr.SearchInformation.TotalResults,
			}
		}
		results = append(results, r)
	}
	return results, nil
}

// VectorSearch is not a web search capability.
func (a *Adapter) VectorSearch(ctx context.Context, vector []float32, q *providers.VectorQuery) ([]providers.SearchResult, error) {
	return nil, providers.E(providers.KindUnsupported, a.name, "vector search is not supported")
}

// Index is not a web search capability.
func (a *Adapter) Index(ctx context.Context, docs []providers.Document, opts *providers.SearchOptions) (*providers.IndexResult, error) {
	return nil, providers.E(providers.KindUnsupported, a.name, "indexing is not supported")
}

// HealthCheck runs a one-result probe query.
func (a *Adapter) HealthCheck(ctx context.Context) (*providers.ProviderHealth, error) {
	probe := providers.DefaultSearchOptions()
	probe.Limit = 1
	probe.Cache.Enabled = false

	if _, err := a.search(ctx, "test", probe); err != nil {
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

// compactDate turns "2024-01-15" into the API's "20240115" form.
func compactDate(iso string) string {
	out := make([]byte, 0, len(iso))
	for i := 0; i < len(iso); i++ {
		if iso[i] != '-' {
			out = append(out, iso[i])
		}
	}
	return string(out)
}

var _ providers.Adapter = (*Adapter)(nil)
