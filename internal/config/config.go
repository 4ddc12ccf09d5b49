// Package config loads and validates all runtime configuration for the gateway.
//
// Configuration is read from environment variables (preferred for containers)
// or from a config.yaml file in the working directory. Environment variables
// take precedence over the YAML file.
//
// Naming convention: env vars use UPPER_SNAKE_CASE; the YAML file uses the
// same names in lower_snake_case. For example GOOGLE_API_KEY becomes
// google_api_key in YAML.
//
// At least one retrieval provider must be configured. Redis is optional —
// set CACHE_MODE=memory to use the built-in in-process cache with no
// external dependencies.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/nulpointcorp/uir-gateway/internal/providers"
)

// Config is the top-level configuration container.
type Config struct {
	// Host is the bind address. Default: "" (all interfaces).
	Host string

	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	// Default: info.
	LogLevel string

	// APITokens is the list of accepted bearer tokens. Empty list disables
	// authentication (development only).
	APITokens []string

	// Retrieval providers. A provider with no credentials/endpoint is disabled.
	Google        GoogleConfig
	Elasticsearch ElasticsearchConfig
	Pinecone      PineconeConfig
	Qdrant        QdrantConfig

	// Redis holds the connection URL for the Redis-backed cache tier and the
	// cross-replica rate limiter. Required only when CacheMode is "redis".
	Redis RedisConfig

	// Cache controls caching behaviour.
	Cache CacheConfig

	// ClickHouseAddr enables the usage analytics sink when set (host:port).
	ClickHouseAddr string

	// CircuitBreaker controls per-provider circuit breaker settings.
	CircuitBreaker CircuitBreakerConfig

	// Retry controls per-provider retry/backoff settings.
	Retry RetryConfig

	// HealthCheckInterval is how often provider health is probed. Default: 60s.
	HealthCheckInterval time.Duration

	// EmbeddingDimension overrides the default embedding size (768).
	EmbeddingDimension int

	// RateLimit controls request-rate limiting on the HTTP surface.
	RateLimit RateLimitConfig

	// CORSOrigins is the list of allowed CORS origins.
	// Use ["*"] to allow any origin (default). Set to specific origins in prod.
	CORSOrigins []string

	// WorkerCount bounds fasthttp's request concurrency. 0 uses the
	// fasthttp default.
	WorkerCount int
}

// GoogleConfig holds Google Custom Search configuration.
type GoogleConfig struct {
	// APIKey is the Custom Search API key. Leave empty to disable.
	APIKey string
	// EngineID is the programmable search engine ID (cx).
	EngineID string
	// BaseURL overrides the public API endpoint. Useful for local mocks.
	BaseURL string
}

// ElasticsearchConfig holds Elasticsearch configuration.
type ElasticsearchConfig struct {
	// URL is the cluster URL, e.g. "http://localhost:9200". Empty disables.
	URL string
	// APIKey is an optional API key.
	APIKey string
	// Index is the target index name. Default: "documents".
	Index string
}

// PineconeConfig holds Pinecone configuration.
type PineconeConfig struct {
	// APIKey is the Pinecone API key. Leave empty to disable.
	APIKey string
	// Endpoint is the index URL.
	Endpoint string
	// Namespace is the default namespace for queries.
	Namespace string
}

// QdrantConfig holds Qdrant configuration.
type QdrantConfig struct {
	// Addr is the gRPC address, e.g. "localhost:6334". Empty disables.
	Addr string
	// Collection is the target collection. Default: "documents".
	Collection string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Example: redis://localhost:6379
	URL string
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	// Mode selects the cache backend:
	//   "redis"  — Redis remote tier plus local tier. Recommended for production.
	//   "memory" — In-process tier only. No external deps; not shared across replicas.
	//   "none"   — Cache disabled entirely.
	// Default: "memory".
	Mode string

	// TTL is the default time-to-live for cached responses. Default: 1h.
	TTL time.Duration

	// MaxLocalEntries bounds the in-process tier. Default: 10000.
	MaxLocalEntries int

	// ExcludeExact is a list of exact provider names that must never be cached.
	ExcludeExact []string

	// ExcludePatterns is a list of Go regular expressions matched against
	// provider names. Requests hitting a matching provider are not cached.
	ExcludePatterns []string
}

// CircuitBreakerConfig controls per-provider circuit breaker settings.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive counted failures that
	// trip the breaker. Default: 5.
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays open before allowing
	// half-open probes. Default: 30s.
	RecoveryTimeout time.Duration

	// HalfOpenMaxCalls is the number of successes needed to close from
	// half-open. Default: 3.
	HalfOpenMaxCalls int
}

// RetryConfig controls per-provider retry behaviour.
type RetryConfig struct {
	// MaxAttempts is the maximum attempts per provider call (including the
	// first). Default: 3.
	MaxAttempts int

	// BaseBackoff is the first backoff delay. Default: 200ms.
	BaseBackoff time.Duration

	// MaxBackoff caps the exponential backoff. Default: 5s.
	MaxBackoff time.Duration
}

// RateLimitConfig controls request-rate limiting.
type RateLimitConfig struct {
	// RPMLimit is the maximum requests per minute allowed globally.
	// 0 disables rate limiting. Default: 0.
	RPMLimit int
}

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory.
//
// At least one retrieval provider must be configured.
// REDIS_URL is only required when CACHE_MODE=redis.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("HOST", "")
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CACHE_MODE", "memory")
	v.SetDefault("CACHE_TTL", "1h")
	v.SetDefault("CACHE_MAX_LOCAL_ENTRIES", 10000)
	v.SetDefault("CORS_ORIGINS", []string{"*"})

	v.SetDefault("ELASTICSEARCH_INDEX", "documents")
	v.SetDefault("QDRANT_COLLECTION", "documents")

	// Circuit breaker defaults.
	v.SetDefault("CB_FAILURE_THRESHOLD", providers.CBFailureThreshold)
	v.SetDefault("CB_RECOVERY_TIMEOUT", "30s")
	v.SetDefault("CB_HALF_OPEN_MAX_CALLS", providers.CBHalfOpenMaxCalls)

	// Retry defaults.
	v.SetDefault("RETRY_MAX_ATTEMPTS", providers.RetryMaxAttempts)
	v.SetDefault("RETRY_BASE_BACKOFF", "200ms")
	v.SetDefault("RETRY_MAX_BACKOFF", "5s")

	v.SetDefault("HEALTH_CHECK_INTERVAL", "60s")
	v.SetDefault("EMBEDDING_DIMENSION", 768)

	// Rate limit: 0 = disabled.
	v.SetDefault("RPM_LIMIT", 0)

	v.SetDefault("WORKER_COUNT", 0)

	// ── Build config ──────────────────────────────────────────────────────────
	cfg := &Config{
		Host:     v.GetString("HOST"),
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),

		APITokens: v.GetStringSlice("API_TOKENS"),

		Google: GoogleConfig{
			APIKey:   v.GetString("GOOGLE_API_KEY"),
			EngineID: v.GetString("GOOGLE_CX"),
			BaseURL:  v.GetString("GOOGLE_BASE_URL"),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:    v.GetString("ELASTICSEARCH_URL"),
			APIKey: v.GetString("ELASTICSEARCH_API_KEY"),
			Index:  v.GetString("ELASTICSEARCH_INDEX"),
		},
		Pinecone: PineconeConfig{
			APIKey:    v.GetString("PINECONE_API_KEY"),
			Endpoint:  v.GetString("PINECONE_ENDPOINT"),
			Namespace: v.GetString("PINECONE_NAMESPACE"),
		},
		Qdrant: QdrantConfig{
			Addr:       v.GetString("QDRANT_ADDR"),
			Collection: v.GetString("QDRANT_COLLECTION"),
		},

		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		Cache: CacheConfig{
			Mode:            strings.ToLower(v.GetString("CACHE_MODE")),
			TTL:             v.GetDuration("CACHE_TTL"),
			MaxLocalEntries: v.GetInt("CACHE_MAX_LOCAL_ENTRIES"),
			ExcludeExact:    v.GetStringSlice("CACHE_EXCLUDE_EXACT"),
			ExcludePatterns: v.GetStringSlice("CACHE_EXCLUDE_PATTERNS"),
		},

		ClickHouseAddr: v.GetString("CLICKHOUSE_ADDR"),

		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: v.GetInt("CB_FAILURE_THRESHOLD"),
			RecoveryTimeout:  v.GetDuration("CB_RECOVERY_TIMEOUT"),
			HalfOpenMaxCalls: v.GetInt("CB_HALF_OPEN_MAX_CALLS"),
		},

		Retry: RetryConfig{
			MaxAttempts: v.GetInt("RETRY_MAX_ATTEMPTS"),
			BaseBackoff: v.GetDuration("RETRY_BASE_BACKOFF"),
			MaxBackoff:  v.GetDuration("RETRY_MAX_BACKOFF"),
		},

		HealthCheckInterval: v.GetDuration("HEALTH_CHECK_INTERVAL"),
		EmbeddingDimension:  v.GetInt("EMBEDDING_DIMENSION"),

		RateLimit: RateLimitConfig{
			RPMLimit: v.GetInt("RPM_LIMIT"),
		},

		CORSOrigins: v.GetStringSlice("CORS_ORIGINS"),
		WorkerCount: v.GetInt("WORKER_COUNT"),
	}

	// ── Validation ────────────────────────────────────────────────────────────
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	if !c.AtLeastOneProvider() {
		return fmt.Errorf(
			"config: at least one retrieval provider is required " +
				"(GOOGLE_API_KEY + GOOGLE_CX, ELASTICSEARCH_URL, " +
				"PINECONE_API_KEY + PINECONE_ENDPOINT, or QDRANT_ADDR)",
		)
	}

	// Redis URL is required when cache mode is "redis".
	if c.Cache.Mode == "redis" && c.Redis.URL == "" {
		return fmt.Errorf(
			"config: REDIS_URL is required when CACHE_MODE=redis; " +
				"set CACHE_MODE=memory to use the built-in in-process cache",
		)
	}

	// Validate cache mode value.
	switch c.Cache.Mode {
	case "redis", "memory", "none":
	default:
		return fmt.Errorf(
			"config: invalid CACHE_MODE %q; must be one of: redis, memory, none",
			c.Cache.Mode,
		)
	}

	// Validate log level.
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	// Circuit breaker and retry sanity checks.
	if c.CircuitBreaker.FailureThreshold < 1 {
		return fmt.Errorf("config: CB_FAILURE_THRESHOLD must be >= 1, got %d", c.CircuitBreaker.FailureThreshold)
	}
	if c.CircuitBreaker.RecoveryTimeout <= 0 {
		return fmt.Errorf("config: CB_RECOVERY_TIMEOUT must be a positive duration")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: RETRY_MAX_ATTEMPTS must be >= 1, got %d", c.Retry.MaxAttempts)
	}

	if c.EmbeddingDimension < 1 {
		return fmt.Errorf("config: EMBEDDING_DIMENSION must be >= 1, got %d", c.EmbeddingDimension)
	}
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("config: HEALTH_CHECK_INTERVAL must be a positive duration")
	}

	return nil
}

// AtLeastOneProvider returns true if at least one provider is configured.
func (c *Config) AtLeastOneProvider() bool {
	return (c.Google.APIKey != "" && c.Google.EngineID != "") ||
		c.Elasticsearch.URL != "" ||
		(c.Pinecone.APIKey != "" && c.Pinecone.Endpoint != "") ||
		c.Qdrant.Addr != ""
}

// ProviderConfigs translates the enabled provider blocks into the canonical
// provider configuration set handed to the Manager.
func (c *Config) ProviderConfigs() []providers.ProviderConfig {
	retry := providers.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseBackoff: c.Retry.BaseBackoff,
		MaxBackoff:  c.Retry.MaxBackoff,
	}
	breaker := providers.BreakerConfig{
		FailureThreshold: c.CircuitBreaker.FailureThreshold,
		RecoveryTimeout:  c.CircuitBreaker.RecoveryTimeout,
		HalfOpenMaxCalls: c.CircuitBreaker.HalfOpenMaxCalls,
	}

	var out []providers.ProviderConfig

	if c.Google.APIKey != "" && c.Google.EngineID != "" {
		cfg := providers.ProviderConfig{
			Name: "google",
			Kind: providers.KindSearchEngine,
			Credentials: map[string]string{
				"api_key":   c.Google.APIKey,
				"engine_id": c.Google.EngineID,
			},
			Retry:   retry,
			Breaker: breaker,
		}
		if c.Google.BaseURL != "" {
			cfg.Endpoints = map[string]string{"base": c.Google.BaseURL}
		}
		out = append(out, cfg)
	}

	if c.Elasticsearch.URL != "" {
		cfg := providers.ProviderConfig{
			Name: "elasticsearch",
			Kind: providers.KindDocumentStore,
			Endpoints: map[string]string{
				"base":  c.Elasticsearch.URL,
				"index": c.Elasticsearch.Index,
			},
			Retry:   retry,
			Breaker: breaker,
		}
		if c.Elasticsearch.APIKey != "" {
			cfg.Credentials = map[string]string{"api_key": c.Elasticsearch.APIKey}
		}
		out = append(out, cfg)
	}

	if c.Pinecone.APIKey != "" && c.Pinecone.Endpoint != "" {
		out = append(out, providers.ProviderConfig{
			Name:        "pinecone",
			Kind:        providers.KindVectorDB,
			Credentials: map[string]string{"api_key": c.Pinecone.APIKey},
			Endpoints:   map[string]string{"base": c.Pinecone.Endpoint},
			Retry:       retry,
			Breaker:     breaker,
		})
	}

	if c.Qdrant.Addr != "" {
		out = append(out, providers.ProviderConfig{
			Name: "qdrant",
			Kind: providers.KindVectorDB,
			Endpoints: map[string]string{
				"base":       c.Qdrant.Addr,
				"collection": c.Qdrant.Collection,
			},
			Retry:   retry,
			Breaker: breaker,
		})
	}

	return out
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
