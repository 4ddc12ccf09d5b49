package manager

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nulpointcorp/uir-gateway/internal/metrics"
	"github.com/nulpointcorp/uir-gateway/internal/providers"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAdapter is a configurable in-memory Adapter for registry tests.
type fakeAdapter struct {
	name      string
	kind      providers.Kind
	health    providers.HealthStatus
	healthErr error
	probeWait time.Duration
	closed    atomic.Bool
	probes    atomic.Int64
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Kind() providers.Kind { return f.kind }

func (f *fakeAdapter) Search(context.Context, string, *providers.SearchOptions) ([]providers.SearchResult, error) {
	return nil, nil
}

func (f *fakeAdapter) VectorSearch(context.Context, []float32, *providers.VectorQuery) ([]providers.SearchResult, error) {
	return nil, nil
}

func (f *fakeAdapter) Index(context.Context, []providers.Document, *providers.SearchOptions) (*providers.IndexResult, error) {
	return nil, providers.E(providers.KindUnsupported, f.name, "indexing not supported")
}

func (f *fakeAdapter) HealthCheck(context.Context) (*providers.ProviderHealth, error) {
	f.probes.Add(1)
	if f.probeWait > 0 {
		time.Sleep(f.probeWait)
	}
	if f.healthErr != nil {
		return nil, f.healthErr
	}
	return &providers.ProviderHealth{Provider: f.name, Status: f.health}, nil
}

func (f *fakeAdapter) Close() error {
	f.closed.Store(true)
	return nil
}

var _ providers.Adapter = (*fakeAdapter)(nil)

func register(m *Manager, a *fakeAdapter) {
	m.Register(&providers.ProviderConfig{Name: a.name, Kind: a.kind}, a)
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return New(time.Hour, testLogger(), nil)
}

func TestInitializeBuildsRegistry(t *testing.T) {
	m := newTestManager(t)

	configs := []providers.ProviderConfig{
		{Name: "a", Kind: providers.KindSearchEngine},
		{Name: "b", Kind: providers.KindVectorDB},
	}
	err := m.Initialize(configs, func(cfg *providers.ProviderConfig, _ *slog.Logger, _ *metrics.Registry) (providers.Adapter, error) {
		return &fakeAdapter{name: cfg.Name, kind: cfg.Kind, health: providers.HealthHealthy}, nil
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if _, ok := m.Adapter("a"); !ok {
		t.Error("adapter a not registered")
	}
	if _, ok := m.Adapter("b"); !ok {
		t.Error("adapter b not registered")
	}
}

func TestInitializeAbortsOnFactoryError(t *testing.T) {
	m := newTestManager(t)

	configs := []providers.ProviderConfig{{Name: "broken"}}
	err := m.Initialize(configs, func(*providers.ProviderConfig, *slog.Logger, *metrics.Registry) (providers.Adapter, error) {
		return nil, errors.New("bad credentials")
	})
	if err == nil {
		t.Fatal("expected initialization error")
	}
}

func TestAvailableProvidersPreservesRequestOrder(t *testing.T) {
	m := newTestManager(t)
	register(m, &fakeAdapter{name: "a", kind: providers.KindSearchEngine, health: providers.HealthHealthy})
	register(m, &fakeAdapter{name: "b", kind: providers.KindVectorDB, health: providers.HealthHealthy})
	register(m, &fakeAdapter{name: "c", kind: providers.KindDocumentStore, health: providers.HealthHealthy})

	got := m.AvailableProviders([]string{"c", "a"}, "")
	if len(got) != 2 || got[0].Name() != "c" || got[1].Name() != "a" {
		t.Fatalf("selection order broken: %v", names(got))
	}
}

func TestAvailableProvidersFiltersUnhealthy(t *testing.T) {
	m := newTestManager(t)
	register(m, &fakeAdapter{name: "good", kind: providers.KindSearchEngine, health: providers.HealthHealthy})
	register(m, &fakeAdapter{name: "slow", kind: providers.KindSearchEngine, health: providers.HealthDegraded})
	register(m, &fakeAdapter{name: "down", kind: providers.KindSearchEngine, healthErr: errors.New("refused")})

	ctx := context.Background()
	for _, name := range []string{"good", "slow", "down"} {
		m.CheckHealth(ctx, name)
	}

	got := m.AvailableProviders(nil, "")
	if len(got) != 2 {
		t.Fatalf("available = %v, want good and slow", names(got))
	}
	// Degraded still serves; unhealthy does not.
	for _, a := range got {
		if a.Name() == "down" {
			t.Fatal("unhealthy provider must be filtered out")
		}
	}
}

func TestAvailableProvidersAdmitsNeverChecked(t *testing.T) {
	m := newTestManager(t)
	register(m, &fakeAdapter{name: "fresh", kind: providers.KindSearchEngine, health: providers.HealthHealthy})

	got := m.AvailableProviders([]string{"fresh"}, "")
	if len(got) != 1 {
		t.Fatal("a provider with no probe history must be admitted")
	}
}

func TestAvailableProvidersFiltersByKind(t *testing.T) {
	m := newTestManager(t)
	register(m, &fakeAdapter{name: "web", kind: providers.KindSearchEngine, health: providers.HealthHealthy})
	register(m, &fakeAdapter{name: "vec", kind: providers.KindVectorDB, health: providers.HealthHealthy})

	got := m.AvailableProviders(nil, providers.KindVectorDB)
	if len(got) != 1 || got[0].Name() != "vec" {
		t.Fatalf("kind filter broken: %v", names(got))
	}
}

func TestCheckHealthRecordsFailure(t *testing.T) {
	m := newTestManager(t)
	register(m, &fakeAdapter{name: "down", healthErr: errors.New("connection refused")})

	h := m.CheckHealth(context.Background(), "down")
	if h == nil || h.Status != providers.HealthUnhealthy {
		t.Fatalf("health = %+v, want unhealthy", h)
	}
	if h.ErrorMessage == "" {
		t.Error("probe error message should be recorded")
	}

	snapshot := m.Health()
	if snapshot["down"].Status != providers.HealthUnhealthy {
		t.Error("health snapshot not updated")
	}
}

func TestCheckHealthDemotesSlowProbe(t *testing.T) {
	m := newTestManager(t)
	m.degradedLatency = 10 * time.Millisecond
	register(m, &fakeAdapter{
		name:      "laggy",
		kind:      providers.KindSearchEngine,
		health:    providers.HealthHealthy,
		probeWait: 30 * time.Millisecond,
	})

	h := m.CheckHealth(context.Background(), "laggy")
	if h.Status != providers.HealthDegraded {
		t.Fatalf("status = %s, want degraded for a slow healthy probe", h.Status)
	}
}

func TestFailoverPrefersSameKindLowestLatency(t *testing.T) {
	m := newTestManager(t)
	register(m, &fakeAdapter{name: "primary", kind: providers.KindVectorDB, health: providers.HealthHealthy})
	fast := &fakeAdapter{name: "fast", kind: providers.KindVectorDB, health: providers.HealthHealthy}
	slow := &fakeAdapter{name: "slow", kind: providers.KindVectorDB, health: providers.HealthHealthy, probeWait: 30 * time.Millisecond}
	other := &fakeAdapter{name: "other", kind: providers.KindSearchEngine, health: providers.HealthHealthy}
	register(m, fast)
	register(m, slow)
	register(m, other)

	ctx := context.Background()
	for _, name := range []string{"fast", "slow", "other"} {
		m.CheckHealth(ctx, name)
	}

	got, ok := m.Failover("primary")
	if !ok {
		t.Fatal("expected a failover candidate")
	}
	if got.Name() != "fast" {
		t.Fatalf("failover picked %s, want the lowest-latency same-kind provider", got.Name())
	}
}

func TestFailoverFallsBackAcrossKinds(t *testing.T) {
	m := newTestManager(t)
	register(m, &fakeAdapter{name: "primary", kind: providers.KindVectorDB, health: providers.HealthHealthy})
	register(m, &fakeAdapter{name: "web", kind: providers.KindSearchEngine, health: providers.HealthHealthy})

	got, ok := m.Failover("primary")
	if !ok || got.Name() != "web" {
		t.Fatalf("failover = %v, want cross-kind fallback", got)
	}
}

func TestFailoverSkipsUnhealthy(t *testing.T) {
	m := newTestManager(t)
	register(m, &fakeAdapter{name: "primary", kind: providers.KindVectorDB, health: providers.HealthHealthy})
	register(m, &fakeAdapter{name: "down", kind: providers.KindVectorDB, healthErr: errors.New("refused")})

	m.CheckHealth(context.Background(), "down")

	if _, ok := m.Failover("primary"); ok {
		t.Fatal("no healthy candidate exists, failover must report false")
	}
}

func TestStartProbesSynchronously(t *testing.T) {
	m := newTestManager(t)
	a := &fakeAdapter{name: "a", kind: providers.KindSearchEngine, health: providers.HealthHealthy}
	register(m, a)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer func() { _ = m.Shutdown() }()

	if a.probes.Load() == 0 {
		t.Fatal("Start must run the first probe before returning")
	}
	if len(m.Health()) != 1 {
		t.Fatal("health snapshot should be populated after Start")
	}
}

func TestShutdownClosesAdapters(t *testing.T) {
	m := newTestManager(t)
	a := &fakeAdapter{name: "a", kind: providers.KindSearchEngine, health: providers.HealthHealthy}
	register(m, a)

	m.Start(context.Background())
	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !a.closed.Load() {
		t.Error("Shutdown must close adapters")
	}
	if _, ok := m.Adapter("a"); ok {
		t.Error("registry should be empty after Shutdown")
	}
}

func names(adapters []providers.Adapter) []string {
	out := make([]string, len(adapters))
	for i, a := range adapters {
		out[i] = a.Name()
	}
	return out
}
