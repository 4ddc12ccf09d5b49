// Package router orchestrates one retrieval request end to end: cache
// lookup, query enrichment, provider selection, parallel fan-out under the
// request deadline, fusion, and cache write-back.
//
// Provider failures are per-provider outcomes, not request failures: the
// response degrades to partial and finally to error only when every
// dispatched provider failed. Cache errors and enrichment errors never
// fail a request.
package router

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nulpointcorp/uir-gateway/internal/aggregate"
	"github.com/nulpointcorp/uir-gateway/internal/cache"
	"github.com/nulpointcorp/uir-gateway/internal/manager"
	"github.com/nulpointcorp/uir-gateway/internal/metrics"
	"github.com/nulpointcorp/uir-gateway/internal/providers"
	"github.com/nulpointcorp/uir-gateway/internal/query"
)

type ctxKey int

const requestIDKey ctxKey = 0

// WithRequestID stamps the request ID onto ctx. Set by the HTTP layer.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFrom returns the stamped request ID, minting one if absent.
func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// Router routes requests across providers. cacheMgr may be nil (caching
// disabled); met may be nil.
type Router struct {
	manager  *manager.Manager
	proc     *query.Processor
	cacheMgr *cache.Manager
	log      *slog.Logger
	met      *metrics.Registry
}

// New creates a Router. mgr, proc, and log must not be nil.
func New(mgr *manager.Manager, proc *query.Processor, cacheMgr *cache.Manager, log *slog.Logger, met *metrics.Registry) *Router {
	return &Router{
		manager:  mgr,
		proc:     proc,
		cacheMgr: cacheMgr,
		log:      log,
		met:      met,
	}
}

// outcome is one provider's fan-out result.
type outcome struct {
	provider string
	results  []providers.SearchResult
	err      error
}

// Search runs a text search across the requested providers.
func (r *Router) Search(ctx context.Context, req *providers.SearchRequest) (*providers.SearchResponse, error) {
	start := time.Now()

	opts := req.Options
	if opts == nil {
		opts = providers.DefaultSearchOptions()
	}
	if req.Query == "" {
		return nil, providers.E(providers.KindValidation, "", "query must not be empty")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	requested := req.ProviderList()
	cacheKey := cache.Key(r.cacheableNames(requested), req.Query, nil, opts)
	if resp, ok := r.cacheGet(ctx, cacheKey, requested, opts); ok {
		return resp, nil
	}

	// Enrichment never fails the request; a degraded ProcessedQuery still
	// carries the original query.
	processed := r.proc.Process(ctx, req.Query)
	effective := processed.EffectiveQuery()

	adapters, err := r.selectProviders(requested, opts, "")
	if err != nil {
		return nil, err
	}

	outcomes := r.fanOut(ctx, adapters, opts.Timeout(), func(ctx context.Context, a providers.Adapter) ([]providers.SearchResult, error) {
		return a.Search(ctx, effective, opts)
	})

	resp := r.assemble(ctx, outcomes, effective, opts, start)
	resp.Metadata.SpellCorrected = processed.Corrected != ""
	resp.Metadata.FiltersApplied = processed.Filters
	resp.Metadata.TransformationsApplied = transformations(processed, opts)

	r.cacheSet(ctx, cacheKey, resp, opts)
	return resp, nil
}

// VectorSearch runs a similarity search against vector DB providers,
// embedding req.Text when no vector is given.
func (r *Router) VectorSearch(ctx context.Context, req *providers.VectorSearchRequest) (*providers.SearchResponse, error) {
	start := time.Now()

	opts := req.Options
	if opts == nil {
		opts = providers.DefaultSearchOptions()
	}
	if len(req.Vector) == 0 && req.Text == "" {
		return nil, providers.E(providers.KindValidation, "", "either vector or text must be provided")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	vector := req.Vector
	if len(vector) == 0 {
		processed := r.proc.Process(ctx, req.Text)
		if len(processed.Embedding) == 0 {
			return nil, providers.E(providers.KindInternal, "", "embedding failed for text %q", req.Text)
		}
		vector = processed.Embedding
	}

	requested := req.ProviderList()
	cacheKey := cache.Key(r.cacheableNames(requested), "", vector, opts)
	if resp, ok := r.cacheGet(ctx, cacheKey, requested, opts); ok {
		return resp, nil
	}

	adapters, err := r.selectProviders(requested, opts, providers.KindVectorDB)
	if err != nil {
		return nil, err
	}

	vq := &providers.VectorQuery{Index: req.Index, Namespace: req.Namespace, Options: opts}
	outcomes := r.fanOut(ctx, adapters, opts.Timeout(), func(ctx context.Context, a providers.Adapter) ([]providers.SearchResult, error) {
		return a.VectorSearch(ctx, vector, vq)
	})

	resp := r.assemble(ctx, outcomes, req.Text, opts, start)
	r.cacheSet(ctx, cacheKey, resp, opts)
	return resp, nil
}

// HybridSearch dispatches one task per strategy, scales each strategy's
// scores by its weight, and fuses the lists with the requested method.
func (r *Router) HybridSearch(ctx context.Context, req *providers.HybridSearchRequest) (*providers.SearchResponse, error) {
	start := time.Now()

	opts := req.Options
	if opts == nil {
		opts = providers.DefaultSearchOptions()
	}
	if len(req.Strategies) == 0 {
		return nil, providers.E(providers.KindValidation, "", "at least one strategy is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	method := req.FusionMethod
	if method == "" {
		method = providers.FusionReciprocalRank
	}
	switch method {
	case providers.FusionReciprocalRank, providers.FusionWeightedSum, providers.FusionMaxScore:
	default:
		return nil, providers.E(providers.KindValidation, "", "unknown fusion method %q", method)
	}

	// Per-strategy outcomes, indexed by strategy position so fusion input
	// order is deterministic regardless of completion order.
	outcomes := make([]outcome, len(req.Strategies))
	var g errgroup.Group
	for i := range req.Strategies {
		i := i
		s := &req.Strategies[i]
		g.Go(func() error {
			results, err := r.runStrategy(ctx, s, opts)
			outcomes[i] = outcome{provider: s.Provider, results: results, err: err}
			return nil
		})
	}
	g.Wait()

	var lists [][]providers.SearchResult
	var used, failed []string
	var respErrors []providers.ResponseError
	for i, o := range outcomes {
		if o.err != nil {
			failed = append(failed, o.provider)
			respErrors = append(respErrors, responseError(o.provider, o.err))
			r.log.WarnContext(ctx, "strategy_failed",
				slog.String("provider", o.provider),
				slog.String("error", o.err.Error()),
			)
			continue
		}
		used = append(used, o.provider)
		weight := req.Strategies[i].Weight
		if weight <= 0 {
			weight = 1.0
		}
		for j := range o.results {
			o.results[j].Score *= weight
		}
		lists = append(lists, o.results)
	}

	fuseStart := time.Now()
	var results []providers.SearchResult
	switch method {
	case providers.FusionReciprocalRank:
		results = aggregate.ReciprocalRankFusion(lists, aggregate.RRFConstant)
	case providers.FusionWeightedSum:
		results = aggregate.WeightedSum(lists)
	case providers.FusionMaxScore:
		results = aggregate.MaxScore(lists)
	}
	if r.met != nil {
		r.met.ObserveFusion(string(method), time.Since(fuseStart))
	}

	results = truncate(filterMinScore(results, opts.MinScore), opts)

	resp := &providers.SearchResponse{
		Status:    deriveStatus(len(used), len(failed)),
		RequestID: RequestIDFrom(ctx),
		Results:   results,
		Errors:    respErrors,
		Metadata: providers.ResponseMetadata{
			QueryTimeMS:     time.Since(start).Milliseconds(),
			ProvidersUsed:   used,
			ProvidersFailed: failed,
		},
	}
	return resp, nil
}

func (r *Router) runStrategy(ctx context.Context, s *providers.HybridStrategy, opts *providers.SearchOptions) ([]providers.SearchResult, error) {
	sopts := s.Options
	if sopts == nil {
		sopts = opts
	}

	adapter, ok := r.manager.Adapter(s.Provider)
	if !ok {
		return nil, providers.E(providers.KindNoProviders, s.Provider, "provider %q is not registered", s.Provider)
	}

	switch s.Type {
	case providers.StrategyKeyword:
		q := s.Query
		if q == "" {
			q = s.Text
		}
		if q == "" {
			return nil, providers.E(providers.KindValidation, s.Provider, "keyword strategy requires query")
		}
		return r.callProvider(ctx, adapter, sopts.Timeout(), func(ctx context.Context) ([]providers.SearchResult, error) {
			return adapter.Search(ctx, q, sopts)
		})
	case providers.StrategyVector:
		vector := s.Vector
		if len(vector) == 0 {
			text := s.Text
			if text == "" {
				text = s.Query
			}
			if text == "" {
				return nil, providers.E(providers.KindValidation, s.Provider, "vector strategy requires vector or text")
			}
			processed := r.proc.Process(ctx, text)
			if len(processed.Embedding) == 0 {
				return nil, providers.E(providers.KindInternal, s.Provider, "embedding failed for strategy text")
			}
			vector = processed.Embedding
		}
		vq := &providers.VectorQuery{Options: sopts}
		return r.callProvider(ctx, adapter, sopts.Timeout(), func(ctx context.Context) ([]providers.SearchResult, error) {
			return adapter.VectorSearch(ctx, vector, vq)
		})
	default:
		return nil, providers.E(providers.KindValidation, s.Provider, "unknown strategy type %q", s.Type)
	}
}

// Analyze runs the enrichment pipeline without searching.
func (r *Router) Analyze(ctx context.Context, q string) (*query.ProcessedQuery, error) {
	if q == "" {
		return nil, providers.E(providers.KindValidation, "", "query must not be empty")
	}
	return r.proc.Process(ctx, q), nil
}

// Retrieve is the RAG entry point: a text search with reranking forced so
// downstream generation sees passages ordered by query-term relevance.
func (r *Router) Retrieve(ctx context.Context, req *providers.SearchRequest) (*providers.SearchResponse, error) {
	opts := req.Options
	if opts == nil {
		opts = providers.DefaultSearchOptions()
	}
	forced := *opts
	forced.Rerank = true
	rr := *req
	rr.Options = &forced
	return r.Search(ctx, &rr)
}

// ── fan-out and assembly ─────────────────────────────────────────────────

// fanOut dispatches one task per adapter and waits for all outcomes. Each
// task is bounded by its own deadline, so the wait is bounded too; an
// adapter that ignores cancellation has its late result dropped by
// callProvider.
func (r *Router) fanOut(ctx context.Context, adapters []providers.Adapter, timeout time.Duration, call func(context.Context, providers.Adapter) ([]providers.SearchResult, error)) []outcome {
	outcomes := make([]outcome, len(adapters))
	var g errgroup.Group
	for i, adapter := range adapters {
		i, adapter := i, adapter
		g.Go(func() error {
			results, err := r.callProvider(ctx, adapter, timeout, func(ctx context.Context) ([]providers.SearchResult, error) {
				return call(ctx, adapter)
			})
			outcomes[i] = outcome{provider: adapter.Name(), results: results, err: err}
			return nil
		})
	}
	g.Wait()
	return outcomes
}

// callProvider runs one provider call under its own deadline. The result
// channel is buffered so a late completion never blocks the abandoned
// goroutine; the late result is discarded.
func (r *Router) callProvider(ctx context.Context, adapter providers.Adapter, timeout time.Duration, fn func(context.Context) ([]providers.SearchResult, error)) ([]providers.SearchResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type res struct {
		results []providers.SearchResult
		err     error
	}
	done := make(chan res, 1)
	go func() {
		results, err := fn(callCtx)
		done <- res{results, err}
	}()

	select {
	case o := <-done:
		return o.results, o.err
	case <-callCtx.Done():
		return nil, providers.E(providers.KindTimeout, adapter.Name(), "no response before the deadline")
	}
}

// selectProviders resolves the candidate set per request, falling back to
// options.fallback_providers when the primary set yields nothing.
func (r *Router) selectProviders(requested []string, opts *providers.SearchOptions, kind providers.Kind) ([]providers.Adapter, *providers.Error) {
	adapters := r.manager.AvailableProviders(requested, kind)
	if len(adapters) == 0 && len(opts.FallbackProviders) > 0 {
		adapters = r.manager.AvailableProviders(opts.FallbackProviders, kind)
	}
	if len(adapters) == 0 {
		return nil, providers.E(providers.KindNoProviders, "", "no providers available for this request")
	}
	return adapters, nil
}

// assemble turns raw outcomes into the response: partition, fuse or rerank,
// filter, truncate, derive status.
func (r *Router) assemble(ctx context.Context, outcomes []outcome, queryText string, opts *providers.SearchOptions, start time.Time) *providers.SearchResponse {
	var all []providers.SearchResult
	var used, failed []string
	var respErrors []providers.ResponseError

	for _, o := range outcomes {
		if o.err != nil {
			failed = append(failed, o.provider)
			respErrors = append(respErrors, responseError(o.provider, o.err))
			r.log.WarnContext(ctx, "provider_failed",
				slog.String("provider", o.provider),
				slog.String("error", o.err.Error()),
			)
			continue
		}
		used = append(used, o.provider)
		all = append(all, o.results...)
	}

	var results []providers.SearchResult
	if opts.Rerank && queryText != "" {
		base := all
		if opts.Deduplicate {
			base = aggregate.Dedup(all)
		}
		results = aggregate.Rerank(base, queryText)
	} else {
		results = aggregate.Aggregate(all, opts.Deduplicate)
	}

	results = truncate(filterMinScore(results, opts.MinScore), opts)

	return &providers.SearchResponse{
		Status:    deriveStatus(len(used), len(failed)),
		RequestID: RequestIDFrom(ctx),
		Results:   results,
		Errors:    respErrors,
		Metadata: providers.ResponseMetadata{
			QueryTimeMS:     time.Since(start).Milliseconds(),
			ProvidersUsed:   used,
			ProvidersFailed: failed,
		},
	}
}

func deriveStatus(used, failed int) providers.Status {
	switch {
	case failed == 0 && used > 0:
		return providers.StatusSuccess
	case used > 0:
		return providers.StatusPartial
	default:
		return providers.StatusError
	}
}

func filterMinScore(results []providers.SearchResult, minScore float64) []providers.SearchResult {
	if minScore <= 0 {
		return results
	}
	out := results[:0]
	for _, r := range results {
		if r.Score >= minScore {
			out = append(out, r)
		}
	}
	return out
}

// truncate applies the result limit. Offset pagination is the adapters'
// concern: they forward it upstream, so skipping again here would drop
// results the upstream never duplicated.
func truncate(results []providers.SearchResult, opts *providers.SearchOptions) []providers.SearchResult {
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results
}

func responseError(provider string, err error) providers.ResponseError {
	var pe *providers.Error
	if errors.As(err, &pe) {
		msg := pe.Message
		if msg == "" && pe.Err != nil {
			msg = pe.Err.Error()
		}
		return providers.ResponseError{
			Kind:     string(pe.Kind),
			Provider: provider,
			Message:  msg,
		}
	}
	return providers.ResponseError{
		Kind:     string(providers.KindOf(err)),
		Provider: provider,
		Message:  err.Error(),
	}
}

func transformations(p *query.ProcessedQuery, opts *providers.SearchOptions) []string {
	var out []string
	if p.Corrected != "" {
		out = append(out, "spell_correction")
	}
	if p.Expanded != "" {
		out = append(out, "query_expansion")
	}
	if opts.Rerank {
		out = append(out, "rerank")
	} else if opts.Deduplicate {
		out = append(out, "deduplication")
	}
	return out
}

// ── caching ──────────────────────────────────────────────────────────────

// cacheableNames expands an empty requested set to the full registry so the
// cache key reflects the actual provider set.
func (r *Router) cacheableNames(requested []string) []string {
	if len(requested) > 0 {
		return requested
	}
	health := r.manager.Health()
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	return names
}

func (r *Router) cacheGet(ctx context.Context, key string, requested []string, opts *providers.SearchOptions) (*providers.SearchResponse, bool) {
	if r.cacheMgr == nil || !opts.Cache.Enabled || r.cacheMgr.Excluded(requested) {
		return nil, false
	}
	resp, ok := r.cacheMgr.GetResponse(ctx, key)
	if !ok {
		return nil, false
	}
	resp.RequestID = RequestIDFrom(ctx)
	return resp, true
}

// cacheSet stores a non-error response. Late provider results never reach
// here: assemble only sees outcomes collected before the deadline.
func (r *Router) cacheSet(ctx context.Context, key string, resp *providers.SearchResponse, opts *providers.SearchOptions) {
	if r.cacheMgr == nil || !opts.Cache.Enabled || resp.Status == providers.StatusError {
		return
	}
	r.cacheMgr.SetResponse(ctx, key, resp, opts.TTL())
}
