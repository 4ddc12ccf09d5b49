// Package metrics provides a Prometheus metrics registry for the gateway.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when embedded in other
// applications. The /metrics HTTP handler is exposed via Handler().
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// uir_inflight_requests
	inFlight prometheus.Gauge

	// uir_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// uir_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// uir_provider_requests_total{provider,operation,outcome}
	providerRequests *prometheus.CounterVec

	// uir_provider_request_duration_seconds{provider,operation,outcome}
	providerDuration *prometheus.HistogramVec

	// uir_provider_results_total{provider,operation}
	providerResults *prometheus.CounterVec

	// uir_provider_errors_total{provider,kind}
	providerErrors *prometheus.CounterVec

	// uir_cache_operations_total{op,result}
	cacheOps *prometheus.CounterVec

	// uir_circuit_breaker_state{provider} — 0=closed, 1=open, 2=half-open
	circuitBreakerState *prometheus.GaugeVec

	// uir_circuit_breaker_transitions_total{provider,to_state}
	cbTransitions *prometheus.CounterVec

	// uir_failover_events_total{from,to}
	failoverEvents *prometheus.CounterVec

	// uir_ratelimit_total{result}
	rateLimitTotal *prometheus.CounterVec

	// uir_provider_health{provider} — 1=healthy, 0.5=degraded, 0=unhealthy
	providerHealth *prometheus.GaugeVec

	// uir_fusion_duration_seconds{method}
	fusionDuration *prometheus.HistogramVec

	// uir_query_subtask_failures_total{subtask}
	subtaskFailures *prometheus.CounterVec

	// uir_build_info{version}
	buildInfo *prometheus.GaugeVec

	cbMu        sync.Mutex
	lastCBState map[string]float64

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg:         reg,
		lastCBState: make(map[string]float64),

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "uir_inflight_requests",
			Help: "Current number of in-flight HTTP requests handled by the gateway",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uir_http_requests_total",
				Help: "Total number of HTTP requests handled by the gateway",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "uir_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds (end-to-end, includes cache + fan-out)",
				Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"route"},
		),

		providerRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uir_provider_requests_total",
				Help: "Total provider adapter calls by operation and outcome",
			},
			[]string{"provider", "operation", "outcome"},
		),

		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "uir_provider_request_duration_seconds",
				Help:    "Provider adapter call duration in seconds",
				Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"provider", "operation", "outcome"},
		),

		providerResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uir_provider_results_total",
				Help: "Total results returned by providers before aggregation",
			},
			[]string{"provider", "operation"},
		),

		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uir_provider_errors_total",
				Help: "Total provider errors by kind",
			},
			[]string{"provider", "kind"},
		),

		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uir_cache_operations_total",
				Help: "Cache operations by type and result",
			},
			[]string{"op", "result"},
		),

		circuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "uir_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed,1=open,2=half-open)",
			},
			[]string{"provider"},
		),

		cbTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uir_circuit_breaker_transitions_total",
				Help: "Circuit breaker transitions to a new state",
			},
			[]string{"provider", "to_state"},
		),

		failoverEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uir_failover_events_total",
				Help: "Failover selections between providers of the same kind",
			},
			[]string{"from", "to"},
		),

		rateLimitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uir_ratelimit_total",
				Help: "Rate limit decisions",
			},
			[]string{"result"},
		),

		providerHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "uir_provider_health",
				Help: "Provider health status (1=healthy, 0.5=degraded, 0=unhealthy)",
			},
			[]string{"provider"},
		),

		fusionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "uir_fusion_duration_seconds",
				Help:    "Result aggregation/fusion duration in seconds",
				Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
			},
			[]string{"method"},
		),

		subtaskFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uir_query_subtask_failures_total",
				Help: "Query processor subtasks that degraded gracefully",
			},
			[]string{"subtask"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "uir_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.inFlight,
		r.httpRequestsTotal,
		r.httpDuration,
		r.providerRequests,
		r.providerDuration,
		r.providerResults,
		r.providerErrors,
		r.cacheOps,
		r.circuitBreakerState,
		r.cbTransitions,
		r.failoverEvents,
		r.rateLimitTotal,
		r.providerHealth,
		r.fusionDuration,
		r.subtaskFailures,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

// ObserveHTTP records end-to-end HTTP metrics.
func (r *Registry) ObserveHTTP(route string, statusCode int, dur time.Duration) {
	status := strconv.Itoa(statusCode)
	r.httpRequestsTotal.WithLabelValues(route, status).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
}

// ObserveProviderCall records one adapter call.
func (r *Registry) ObserveProviderCall(provider, operation, outcome string, dur time.Duration, results int) {
	r.providerRequests.WithLabelValues(provider, operation, outcome).Inc()
	r.providerDuration.WithLabelValues(provider, operation, outcome).Observe(dur.Seconds())
	if results > 0 {
		r.providerResults.WithLabelValues(provider, operation).Add(float64(results))
	}
}

func (r *Registry) RecordError(provider, kind string) {
	r.providerErrors.WithLabelValues(provider, kind).Inc()
}

func (r *Registry) RecordFailover(from, to string) {
	r.failoverEvents.WithLabelValues(from, to).Inc()
}

func (r *Registry) RecordRateLimit(result string) {
	r.rateLimitTotal.WithLabelValues(result).Inc()
}

func (r *Registry) CacheGetHit()    { r.cacheOps.WithLabelValues("get", "hit").Inc() }
func (r *Registry) CacheGetMiss()   { r.cacheOps.WithLabelValues("get", "miss").Inc() }
func (r *Registry) CacheGetBypass() { r.cacheOps.WithLabelValues("get", "bypass").Inc() }
func (r *Registry) CacheSetOK()     { r.cacheOps.WithLabelValues("set", "ok").Inc() }
func (r *Registry) CacheSetError()  { r.cacheOps.WithLabelValues("set", "error").Inc() }

// SetProviderHealth maps a health status string to the gauge value.
func (r *Registry) SetProviderHealth(provider, status string) {
	v := 0.0
	switch status {
	case "healthy":
		v = 1
	case "degraded":
		v = 0.5
	}
	r.providerHealth.WithLabelValues(provider).Set(v)
}

// ObserveFusion records one aggregation pass.
func (r *Registry) ObserveFusion(method string, dur time.Duration) {
	r.fusionDuration.WithLabelValues(method).Observe(dur.Seconds())
}

func (r *Registry) RecordSubtaskFailure(subtask string) {
	r.subtaskFailures.WithLabelValues(subtask).Inc()
}

func (r *Registry) SetBuildInfo(version string) {
	// Gauge is used so the time series always exists.
	r.buildInfo.WithLabelValues(version).Set(1)
}

// SetCircuitBreaker sets the circuit breaker state gauge and increments a
// transition counter when the state changes.
func (r *Registry) SetCircuitBreaker(provider string, state int64) {
	r.circuitBreakerState.WithLabelValues(provider).Set(float64(state))

	r.cbMu.Lock()
	prev, ok := r.lastCBState[provider]
	if !ok || prev != float64(state) {
		r.lastCBState[provider] = float64(state)
		toState := strconv.FormatInt(state, 10)
		r.cbTransitions.WithLabelValues(provider, toState).Inc()
	}
	r.cbMu.Unlock()
}

func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}
func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
