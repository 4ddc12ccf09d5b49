// Package manager owns the provider registry: adapter construction via a
// name-keyed factory, background health monitoring, health-filtered
// provider selection, and failover.
package manager

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nulpointcorp/uir-gateway/internal/metrics"
	"github.com/nulpointcorp/uir-gateway/internal/providers"
)

const healthProbeTimeout = 10 * time.Second

// Factory constructs one adapter from its config.
type Factory func(cfg *providers.ProviderConfig, log *slog.Logger, met *metrics.Registry) (providers.Adapter, error)

// Manager is safe for concurrent use. The health map is read-hot and
// write-cold: reads take the RLock on every request, writes happen once per
// probe interval.
type Manager struct {
	mu       sync.RWMutex
	adapters map[string]providers.Adapter
	configs  map[string]*providers.ProviderConfig
	health   map[string]*providers.ProviderHealth

	interval        time.Duration
	degradedLatency time.Duration
	log             *slog.Logger
	met             *metrics.Registry

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates an empty Manager. interval <= 0 takes the 60s default.
// log must not be nil; met may be nil.
func New(interval time.Duration, log *slog.Logger, met *metrics.Registry) *Manager {
	if interval <= 0 {
		interval = providers.HealthCheckInterval
	}
	return &Manager{
		adapters:        make(map[string]providers.Adapter),
		configs:         make(map[string]*providers.ProviderConfig),
		health:          make(map[string]*providers.ProviderHealth),
		interval:        interval,
		degradedLatency: providers.DegradedLatency,
		log:             log,
		met:             met,
	}
}

// Initialize constructs an adapter per config through factory and registers
// it. A single failing constructor aborts initialization; partial registries
// hide misconfiguration.
func (m *Manager) Initialize(configs []providers.ProviderConfig, factory Factory) error {
	for i := range configs {
		cfg := configs[i]
		adapter, err := factory(&cfg, m.log, m.met)
		if err != nil {
			return err
		}
		m.Register(&cfg, adapter)
	}
	return nil
}

// Register adds one adapter. Mostly used directly by tests; production
// wiring goes through Initialize.
func (m *Manager) Register(cfg *providers.ProviderConfig, adapter providers.Adapter) {
	m.mu.Lock()
	m.adapters[cfg.Name] = adapter
	m.configs[cfg.Name] = cfg
	m.mu.Unlock()
}

// Start probes every provider once synchronously, then launches the
// background health loop. The loop stops on Shutdown or when ctx ends.
func (m *Manager) Start(ctx context.Context) {
	m.done = make(chan struct{})

	// First probe runs synchronously so selection never sees a fully
	// unknown registry after startup.
	m.probeAll(ctx)

	m.wg.Add(1)
	go m.run(ctx)
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.probeAll(ctx)
		case <-m.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) probeAll(ctx context.Context) {
	m.mu.RLock()
	names := make([]string, 0, len(m.adapters))
	for name := range m.adapters {
		names = append(names, name)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			m.CheckHealth(ctx, name)
		}(name)
	}
	wg.Wait()
}

// CheckHealth probes one provider under a short deadline and records the
// result. Latency above the degraded threshold demotes a healthy provider
// to degraded; probe failure yields unhealthy with the error message.
func (m *Manager) CheckHealth(ctx context.Context, name string) *providers.ProviderHealth {
	m.mu.RLock()
	adapter, ok := m.adapters[name]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	start := time.Now()
	h, err := adapter.HealthCheck(probeCtx)
	latency := time.Since(start)

	if err != nil || h == nil {
		h = &providers.ProviderHealth{
			Provider: name,
			Status:   providers.HealthUnhealthy,
		}
		if err != nil {
			h.ErrorMessage = err.Error()
		}
	}
	h.Provider = name
	h.LatencyMS = float64(latency.Milliseconds())
	h.LastCheck = time.Now()

	if h.Status == providers.HealthHealthy && latency > m.degradedLatency {
		h.Status = providers.HealthDegraded
	}

	m.mu.Lock()
	m.health[name] = h
	m.mu.Unlock()

	if m.met != nil {
		m.met.SetProviderHealth(name, string(h.Status))
	}
	if h.Status != providers.HealthHealthy {
		m.log.Warn("provider_health",
			slog.String("provider", name),
			slog.String("status", string(h.Status)),
			slog.Float64("latency_ms", h.LatencyMS),
			slog.String("error", h.ErrorMessage),
		)
	}

	return h
}

// AvailableProviders filters the registry by requested names and/or kind,
// admitting providers whose latest health is healthy or degraded, plus
// providers never yet checked. Request order is preserved; with no
// requested names, providers come in sorted-name order for determinism.
func (m *Manager) AvailableProviders(requested []string, kind providers.Kind) []providers.Adapter {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := requested
	if len(names) == 0 {
		names = make([]string, 0, len(m.adapters))
		for name := range m.adapters {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	var out []providers.Adapter
	for _, name := range names {
		adapter, ok := m.adapters[name]
		if !ok {
			continue
		}
		if kind != "" && adapter.Kind() != kind {
			continue
		}
		if h, checked := m.health[name]; checked && h.Status == providers.HealthUnhealthy {
			continue
		}
		out = append(out, adapter)
	}
	return out
}

// Adapter returns the named adapter.
func (m *Manager) Adapter(name string) (providers.Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.adapters[name]
	return a, ok
}

// Failover picks a replacement for a failed provider: among available
// providers of the same kind, the one with the lowest last-known latency;
// with none of the same kind, any available provider.
func (m *Manager) Failover(failed string) (providers.Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	failedAdapter, ok := m.adapters[failed]
	var failedKind providers.Kind
	if ok {
		failedKind = failedAdapter.Kind()
	}

	var best providers.Adapter
	bestLatency := -1.0
	var anyFallback providers.Adapter

	names := make([]string, 0, len(m.adapters))
	for name := range m.adapters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if name == failed {
			continue
		}
		if h, checked := m.health[name]; checked && h.Status == providers.HealthUnhealthy {
			continue
		}
		adapter := m.adapters[name]
		if anyFallback == nil {
			anyFallback = adapter
		}
		if ok && adapter.Kind() == failedKind {
			latency := 0.0
			if h, checked := m.health[name]; checked {
				latency = h.LatencyMS
			}
			if best == nil || latency < bestLatency {
				best = adapter
				bestLatency = latency
			}
		}
	}

	if best != nil {
		if m.met != nil {
			m.met.RecordFailover(failed, best.Name())
		}
		return best, true
	}
	if anyFallback != nil {
		if m.met != nil {
			m.met.RecordFailover(failed, anyFallback.Name())
		}
		return anyFallback, true
	}
	return nil, false
}

// Health returns a snapshot of the latest probe results.
func (m *Manager) Health() map[string]providers.ProviderHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]providers.ProviderHealth, len(m.health))
	for name, h := range m.health {
		out[name] = *h
	}
	return out
}

// Shutdown stops the health loop and closes every adapter.
func (m *Manager) Shutdown() error {
	if m.done != nil {
		close(m.done)
		m.wg.Wait()
		m.done = nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for name, adapter := range m.adapters {
		if err := adapter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.adapters, name)
	}
	return firstErr
}
