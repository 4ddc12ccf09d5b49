// Package gateway is the HTTP surface of the retrieval gateway.
//
// It decodes the JSON request shapes, hands them to the Router, and writes
// the unified response. Cross-cutting concerns live in the middleware chain:
// panic recovery, request IDs, timing, CORS, security headers, bearer auth,
// and the optional cross-replica RPM limit.
//
// The usage logger and RPM limiter are optional and nil-safe.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	frouter "github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/uir-gateway/internal/logger"
	"github.com/nulpointcorp/uir-gateway/internal/manager"
	"github.com/nulpointcorp/uir-gateway/internal/metrics"
	"github.com/nulpointcorp/uir-gateway/internal/providers"
	"github.com/nulpointcorp/uir-gateway/internal/ratelimit"
	"github.com/nulpointcorp/uir-gateway/internal/router"
	"github.com/nulpointcorp/uir-gateway/pkg/apierr"
)

// Options holds optional Server tuning. All fields have defaults.
type Options struct {
	// APITokens is the accepted bearer token set. Empty disables auth.
	APITokens []string

	// CORSOrigins is the allowed origin list. Empty means allow all.
	CORSOrigins []string

	// RPMLimiter enforces a global requests-per-minute cap. Nil disables.
	RPMLimiter *ratelimit.RPMLimiter

	// Usage is the async usage logger. Nil disables.
	Usage *logger.Logger

	// Metrics enables Prometheus collection. Nil disables.
	Metrics *metrics.Registry

	// CacheReady reports remote cache reachability for GET /ready. Nil
	// means the cache tier is not part of readiness.
	CacheReady func() bool

	// Concurrency bounds fasthttp's in-flight requests. 0 uses the default.
	Concurrency int

	// Version is reported by GET /health and the build info metric.
	Version string
}

// Server wires the Router to fasthttp.
type Server struct {
	router *router.Router
	mgr    *manager.Manager
	log    *slog.Logger
	opts   Options

	tokens map[string]bool
	srv    *fasthttp.Server
}

// NewServer creates a Server. rt, mgr, and log must not be nil.
func NewServer(rt *router.Router, mgr *manager.Manager, log *slog.Logger, opts Options) *Server {
	tokens := make(map[string]bool, len(opts.APITokens))
	for _, t := range opts.APITokens {
		if t != "" {
			tokens[t] = true
		}
	}
	return &Server{
		router: rt,
		mgr:    mgr,
		log:    log,
		opts:   opts,
		tokens: tokens,
	}
}

// Start starts the HTTP server on addr (e.g. ":8080"). Blocks until the
// listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	r := frouter.New()

	r.POST("/search", s.authed(s.handleSearch))
	r.POST("/vector/search", s.authed(s.handleVectorSearch))
	r.POST("/hybrid/search", s.authed(s.handleHybridSearch))
	r.POST("/query/analyze", s.authed(s.handleAnalyze))
	r.POST("/rag/retrieve", s.authed(s.handleRetrieve))
	r.GET("/providers", s.authed(s.handleProviders))
	r.GET("/usage", s.authed(s.handleUsage))

	r.GET("/health", s.handleHealth)
	r.GET("/ready", s.handleReady)
	if s.opts.Metrics != nil {
		r.GET("/metrics", s.opts.Metrics.Handler())
	}

	handler := applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		corsHandler(s.opts.CORSOrigins),
		securityHeaders,
	)

	s.srv = &fasthttp.Server{
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	if s.opts.Concurrency > 0 {
		s.srv.Concurrency = s.opts.Concurrency
	}

	return s.srv.ListenAndServe(addr)
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown() error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown()
}

// authed enforces bearer auth and the RPM limit on one handler.
func (s *Server) authed(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if len(s.tokens) > 0 {
			auth := string(ctx.Request.Header.Peek("Authorization"))
			const prefix = "Bearer "
			if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix || !s.tokens[auth[len(prefix):]] {
				apierr.WriteUnauthorized(ctx)
				return
			}
		}
		if s.opts.RPMLimiter != nil {
			allowed, err := s.opts.RPMLimiter.Allow(ctx)
			if err == nil && !allowed {
				if s.opts.Metrics != nil {
					s.opts.Metrics.RecordRateLimit("denied")
				}
				apierr.WriteRateLimit(ctx)
				return
			}
		}
		next(ctx)
	}
}

// ── Search handlers ──────────────────────────────────────────────────────

func (s *Server) handleSearch(ctx *fasthttp.RequestCtx) {
	var req providers.SearchRequest
	if !s.decode(ctx, &req) {
		return
	}
	s.serve(ctx, "search", req.ProviderList(), func() (*providers.SearchResponse, error) {
		return s.router.Search(requestCtx(ctx), &req)
	})
}

func (s *Server) handleVectorSearch(ctx *fasthttp.RequestCtx) {
	var req providers.VectorSearchRequest
	if !s.decode(ctx, &req) {
		return
	}
	s.serve(ctx, "vector_search", req.ProviderList(), func() (*providers.SearchResponse, error) {
		return s.router.VectorSearch(requestCtx(ctx), &req)
	})
}

func (s *Server) handleHybridSearch(ctx *fasthttp.RequestCtx) {
	var req providers.HybridSearchRequest
	if !s.decode(ctx, &req) {
		return
	}
	names := make([]string, 0, len(req.Strategies))
	for _, st := range req.Strategies {
		names = append(names, st.Provider)
	}
	s.serve(ctx, "hybrid_search", names, func() (*providers.SearchResponse, error) {
		return s.router.HybridSearch(requestCtx(ctx), &req)
	})
}

func (s *Server) handleRetrieve(ctx *fasthttp.RequestCtx) {
	var req providers.SearchRequest
	if !s.decode(ctx, &req) {
		return
	}
	s.serve(ctx, "retrieve", req.ProviderList(), func() (*providers.SearchResponse, error) {
		return s.router.Retrieve(requestCtx(ctx), &req)
	})
}

func (s *Server) handleAnalyze(ctx *fasthttp.RequestCtx) {
	var req struct {
		Query string `json:"query"`
	}
	if !s.decode(ctx, &req) {
		return
	}
	processed, err := s.router.Analyze(requestCtx(ctx), req.Query)
	if err != nil {
		apierr.WriteError(ctx, err)
		return
	}
	writeJSON(ctx, processed)
}

// serve runs one search operation and handles response writing, metrics,
// and usage logging uniformly.
func (s *Server) serve(ctx *fasthttp.RequestCtx, operation string, names []string, run func() (*providers.SearchResponse, error)) {
	start := time.Now()
	if s.opts.Metrics != nil {
		s.opts.Metrics.IncInFlight()
		defer s.opts.Metrics.DecInFlight()
	}

	resp, err := run()

	status := fasthttp.StatusOK
	if err != nil {
		apierr.WriteError(ctx, err)
		status = ctx.Response.StatusCode()
	} else {
		writeJSON(ctx, resp)
	}

	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveHTTP(operation, status, time.Since(start))
	}
	if s.opts.Usage != nil {
		entry := logger.RequestLog{
			RequestID: userRequestID(ctx),
			Operation: operation,
			Providers: names,
			LatencyMs: uint32(time.Since(start).Milliseconds()),
			CreatedAt: time.Now(),
		}
		if resp != nil {
			entry.Status = string(resp.Status)
			entry.ResultCount = uint32(len(resp.Results))
			entry.CacheHit = resp.Metadata.CacheHit
		} else {
			entry.Status = string(providers.StatusError)
		}
		s.opts.Usage.Log(entry)
	}
}

// ── Introspection handlers ───────────────────────────────────────────────

func (s *Server) handleProviders(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, map[string]any{"providers": s.mgr.Health()})
}

func (s *Server) handleUsage(ctx *fasthttp.RequestCtx) {
	var dropped int64
	if s.opts.Usage != nil {
		dropped = s.opts.Usage.DroppedLogs()
	}
	writeJSON(ctx, map[string]any{
		"dropped_logs": dropped,
	})
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	health := s.mgr.Health()
	status := "ok"
	available := 0
	for _, h := range health {
		if h.Status != providers.HealthUnhealthy {
			available++
		}
	}
	if len(health) > 0 && available == 0 {
		status = "degraded"
	}
	writeJSON(ctx, map[string]any{
		"status":    status,
		"version":   s.opts.Version,
		"providers": health,
	})
}

func (s *Server) handleReady(ctx *fasthttp.RequestCtx) {
	if s.opts.CacheReady != nil && !s.opts.CacheReady() {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		writeJSON(ctx, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(ctx, map[string]string{"status": "ok"})
}

// ── helpers ──────────────────────────────────────────────────────────────

func (s *Server) decode(ctx *fasthttp.RequestCtx, v any) bool {
	if err := json.Unmarshal(ctx.PostBody(), v); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "invalid JSON: "+err.Error(), apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return false
	}
	return true
}

// requestCtx stamps the middleware-assigned request ID onto the fasthttp
// context, which already implements context.Context.
func requestCtx(ctx *fasthttp.RequestCtx) context.Context {
	return router.WithRequestID(ctx, userRequestID(ctx))
}

func userRequestID(ctx *fasthttp.RequestCtx) string {
	if id, ok := ctx.UserValue("request_id").(string); ok {
		return id
	}
	return ""
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
