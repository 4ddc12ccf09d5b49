package gateway

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/uir-gateway/pkg/apierr"
)

// middleware wraps a handler with one cross-cutting concern. The chain is
// assembled in Start; per-route auth is layered separately via authed.
type middleware func(fasthttp.RequestHandler) fasthttp.RequestHandler

// recovery turns a handler panic into the standard 500 envelope. A single
// malformed search request must not take the listener down with it.
func recovery(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("handler_panic",
					slog.Any("panic", r),
					slog.String("path", string(ctx.Path())),
					slog.String("method", string(ctx.Method())),
				)
				ctx.ResetBody()
				apierr.Write(ctx, fasthttp.StatusInternalServerError,
					"internal server error", apierr.TypeServerError, apierr.CodeInternalError)
			}
		}()
		next(ctx)
	}
}

// requestID assigns every request an X-Request-ID, honoring a client-supplied
// one. The ID is echoed on the response and stored under "request_id", where
// requestCtx picks it up to stamp the router context; the same ID ends up in
// the response body and the usage log, so one value traces a search across
// all three.
func requestID(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id := string(ctx.Request.Header.Peek("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		ctx.Response.Header.Set("X-Request-ID", id)
		ctx.SetUserValue("request_id", id)
		next(ctx)
	}
}

// timing reports the wall-clock handler duration in X-Response-Time. This is
// the whole request including cache lookups and provider fan-out, so it is
// the number to compare against the response's query_time_ms.
func timing(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		ctx.Response.Header.Set("X-Response-Time", time.Since(start).String())
	}
}

// securityHeaders hardens every response. The surface is a JSON API that
// never serves HTML, so the CSP denies everything. Cache-Control is no-store:
// search responses are per-request and per-token, and the gateway's own
// response cache is the only cache tier allowed to hold them.
func securityHeaders(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		next(ctx)
		h := &ctx.Response.Header
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "0")
		h.Set("Content-Security-Policy", "default-src 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
	}
}

// corsHandler builds the CORS middleware. An empty or "*" origin list allows
// any origin; otherwise the allowlist is sent joined. Preflights are answered
// locally with 204. X-Request-ID and X-Response-Time are exposed so browser
// clients can correlate requests the same way server clients do.
func corsHandler(origins []string) middleware {
	origin := "*"
	if len(origins) > 0 && !(len(origins) == 1 && origins[0] == "*") {
		origin = strings.Join(origins, ", ")
	}
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			h := &ctx.Response.Header
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
			h.Set("Access-Control-Expose-Headers", "X-Request-ID, X-Response-Time")

			if string(ctx.Method()) == fasthttp.MethodOptions {
				h.Set("Access-Control-Max-Age", "300")
				ctx.SetStatusCode(fasthttp.StatusNoContent)
				return
			}
			next(ctx)
		}
	}
}

// applyMiddleware composes the chain around h, first middleware outermost:
// applyMiddleware(h, a, b) runs a, then b, then h.
func applyMiddleware(h fasthttp.RequestHandler, mws ...middleware) fasthttp.RequestHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
