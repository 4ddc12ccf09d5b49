package app

import (
	"context"
	"fmt"
	"log/slog"

	uirCache "github.com/nulpointcorp/uir-gateway/internal/cache"
	"github.com/nulpointcorp/uir-gateway/internal/gateway"
	"github.com/nulpointcorp/uir-gateway/internal/logger"
	"github.com/nulpointcorp/uir-gateway/internal/manager"
	"github.com/nulpointcorp/uir-gateway/internal/metrics"
	"github.com/nulpointcorp/uir-gateway/internal/ratelimit"
	"github.com/nulpointcorp/uir-gateway/internal/router"
)

// initInfra establishes optional external connections.
// Redis is only required when CACHE_MODE=redis; ClickHouse is optional.
func (a *App) initInfra(ctx context.Context) error {
	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	if a.cfg.Cache.Mode == "redis" {
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

		rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.log.Info("redis connected")
	}

	if a.cfg.ClickHouseAddr != "" {
		l, err := logger.NewWithClickHouse(a.baseCtx, a.log, a.cfg.ClickHouseAddr)
		if err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		a.usageLogger = l
		a.log.Info("usage analytics enabled", slog.String("addr", a.cfg.ClickHouseAddr))
	} else {
		l, err := logger.New(a.baseCtx, a.log)
		if err != nil {
			return fmt.Errorf("usage logger: %w", err)
		}
		a.usageLogger = l
	}

	return nil
}

// initProviders builds the adapters and starts health monitoring. At least
// one provider must be configured — enforced by config validation.
func (a *App) initProviders(ctx context.Context) error {
	a.mgr = manager.New(a.cfg.HealthCheckInterval, a.log, a.prom)

	configs := a.cfg.ProviderConfigs()
	if len(configs) == 0 {
		return fmt.Errorf("no retrieval providers configured")
	}
	if err := a.mgr.Initialize(configs, manager.DefaultFactory); err != nil {
		return err
	}

	names := make([]string, 0, len(configs))
	for i := range configs {
		names = append(names, configs[i].Name)
	}
	a.log.Info("providers loaded", slog.Any("providers", names))

	a.mgr.Start(a.baseCtx)
	return nil
}

// initServices creates the cache tiers, the query processor, and the router.
func (a *App) initServices(ctx context.Context) error {
	var remote, local uirCache.Store

	switch a.cfg.Cache.Mode {
	case "redis":
		rc := uirCache.NewRedisCacheFromClient(a.rdb)
		remote = rc
		a.localCache = uirCache.NewLocalCache(a.baseCtx, a.cfg.Cache.MaxLocalEntries)
		local = a.localCache
		a.cacheReady = redisPinger(a.baseCtx, a.rdb)
		a.log.Info("cache backend: redis + local")

	case "memory":
		a.localCache = uirCache.NewLocalCache(a.baseCtx, a.cfg.Cache.MaxLocalEntries)
		local = a.localCache
		a.cacheReady = func() bool { return true }
		a.log.Info("cache backend: memory (in-process)")

	case "none":
		a.log.Info("cache backend: disabled")

	default:
		return fmt.Errorf("unknown cache mode: %s", a.cfg.Cache.Mode)
	}

	if remote != nil || local != nil {
		var exclusions *uirCache.ExclusionList
		if len(a.cfg.Cache.ExcludeExact) > 0 || len(a.cfg.Cache.ExcludePatterns) > 0 {
			el, err := uirCache.NewExclusionList(a.cfg.Cache.ExcludeExact, a.cfg.Cache.ExcludePatterns)
			if err != nil {
				return fmt.Errorf("cache exclusions: %w", err)
			}
			exclusions = el
			a.log.Info("cache exclusions loaded", slog.Int("rules", el.Len()))
		}
		a.cacheMgr = uirCache.NewManager(remote, local, a.cfg.Cache.TTL, exclusions, a.log, a.prom)
	}

	proc := newProcessor(a.cfg, a.log, a.prom)
	a.router = router.New(a.mgr, proc, a.cacheMgr, a.log, a.prom)

	return nil
}

// initGateway wires the HTTP server with all configured subsystems.
func (a *App) initGateway(_ context.Context) error {
	opts := gateway.Options{
		APITokens:   a.cfg.APITokens,
		CORSOrigins: a.cfg.CORSOrigins,
		Usage:       a.usageLogger,
		Metrics:     a.prom,
		CacheReady:  a.cacheReady,
		Concurrency: a.cfg.WorkerCount,
		Version:     a.version,
	}

	// Rate limiting — only when Redis is available.
	if a.rdb != nil && a.cfg.RateLimit.RPMLimit > 0 {
		opts.RPMLimiter = ratelimit.NewRPMLimiter(a.rdb, a.cfg.RateLimit.RPMLimit)
		a.log.Info("rate limiting enabled", slog.Int("rpm_limit", a.cfg.RateLimit.RPMLimit))
	}

	a.srv = gateway.NewServer(a.router, a.mgr, a.log, opts)
	return nil
}
