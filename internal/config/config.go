// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/nextrequest-crawler/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Store   StoreConfig   `mapstructure:"store"`
	Lease   LeaseConfig   `mapstructure:"lease"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// StoreConfig selects and configures the document store.
type StoreConfig struct {
	// Driver is one of memory, postgres or mongo.
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
}

// PostgresConfig controls the pgx pool.
type PostgresConfig struct {
	DSN                    string `mapstructure:"dsn"`
	SourcesTable           string `mapstructure:"sources_table"`
	ItemsTable             string `mapstructure:"items_table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	EnsureSchema           bool   `mapstructure:"ensure_schema"`
}

// MongoConfig controls the MongoDB client.
type MongoConfig struct {
	URI                   string `mapstructure:"uri"`
	Database              string `mapstructure:"database"`
	SourcesCollection     string `mapstructure:"sources_collection"`
	ItemsCollection       string `mapstructure:"items_collection"`
	ConnectTimeoutSeconds int    `mapstructure:"connect_timeout_seconds"`
}

// LeaseConfig controls source ownership.
type LeaseConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	// Claimer is store or redis.
	Claimer     string      `mapstructure:"claimer"`
	SkipPauseMs int         `mapstructure:"skip_pause_ms"`
	Redis       RedisConfig `mapstructure:"redis"`
}

// RedisConfig locates the Redis server used by the redis claimer.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// CrawlerConfig governs pagination, the detail pool and the orchestrator.
type CrawlerConfig struct {
	Scheme       string `mapstructure:"scheme"`
	PageSize     int    `mapstructure:"page_size"`
	SortOrder    string `mapstructure:"sort_order"`
	PoolSize     int    `mapstructure:"pool_size"`
	MaxPages     int    `mapstructure:"max_pages"`
	Mode         string `mapstructure:"mode"`
	StaggerMs    int    `mapstructure:"stagger_ms"`
	MaxProcesses int    `mapstructure:"max_processes"`
}

// HTTPConfig configures the rate-limited client.
type HTTPConfig struct {
	TimeoutSeconds      int     `mapstructure:"timeout_seconds"`
	UserAgent           string  `mapstructure:"user_agent"`
	RateLimitBaseMs     int     `mapstructure:"rate_limit_base_ms"`
	RateLimitJitterMs   int     `mapstructure:"rate_limit_jitter_ms"`
	MaxRateLimitRetries int     `mapstructure:"max_rate_limit_retries"`
	MaxNetworkRetries   int     `mapstructure:"max_network_retries"`
	ResendParamsOnRetry bool    `mapstructure:"resend_params_on_retry"`
	RequestsPerSecond   float64 `mapstructure:"requests_per_second"`
	Burst               int     `mapstructure:"burst"`
}

// MaxCacheTTLSeconds is the longest relative expiration memcached accepts.
const MaxCacheTTLSeconds = 30 * 24 * 60 * 60

// CacheConfig configures the advisory seen-URL cache.
type CacheConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	MemcacheServers []string `mapstructure:"memcache_servers"`
	TTLSeconds      int      `mapstructure:"ttl_seconds"`
}

// MetricsConfig controls the Prometheus listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NEXTREQUEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.sources_table", "sources")
	v.SetDefault("store.postgres.items_table", "items")
	v.SetDefault("store.postgres.max_conns", 10)
	v.SetDefault("store.postgres.min_conns", 0)
	v.SetDefault("store.postgres.max_conn_lifetime_seconds", 1800)
	v.SetDefault("store.postgres.ensure_schema", true)
	v.SetDefault("store.mongo.uri", "")
	v.SetDefault("store.mongo.database", "nextrequest")
	v.SetDefault("store.mongo.sources_collection", "subdomains")
	v.SetDefault("store.mongo.items_collection", "requests")
	v.SetDefault("store.mongo.connect_timeout_seconds", 10)

	v.SetDefault("lease.window_seconds", 300)
	v.SetDefault("lease.claimer", "store")
	v.SetDefault("lease.skip_pause_ms", 1000)
	v.SetDefault("lease.redis.addr", "")
	v.SetDefault("lease.redis.password", "")
	v.SetDefault("lease.redis.db", 0)
	v.SetDefault("lease.redis.prefix", "nextrequest:lease:")

	v.SetDefault("crawler.scheme", "https")
	v.SetDefault("crawler.page_size", crawler.DefaultPageSize)
	v.SetDefault("crawler.sort_order", string(crawler.SortDesc))
	v.SetDefault("crawler.pool_size", 30)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.mode", "sequential")
	v.SetDefault("crawler.stagger_ms", 300)
	v.SetDefault("crawler.max_processes", 0)

	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent", "nextrequest-crawler/1.0")
	v.SetDefault("http.rate_limit_base_ms", 5000)
	v.SetDefault("http.rate_limit_jitter_ms", 10000)
	v.SetDefault("http.max_rate_limit_retries", 50)
	v.SetDefault("http.max_network_retries", 3)
	v.SetDefault("http.resend_params_on_retry", false)
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("http.burst", 1)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.memcache_servers", []string{})
	v.SetDefault("cache.ttl_seconds", 86400)

	v.SetDefault("metrics.addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required for the postgres driver")
		}
	case "mongo":
		if c.Store.Mongo.URI == "" {
			return fmt.Errorf("store.mongo.uri is required for the mongo driver")
		}
	default:
		return fmt.Errorf("store.driver must be memory, postgres or mongo, got %q", c.Store.Driver)
	}

	if c.Lease.WindowSeconds <= 0 {
		return fmt.Errorf("lease.window_seconds must be > 0")
	}
	switch c.Lease.Claimer {
	case "store":
	case "redis":
		if c.Lease.Redis.Addr == "" {
			return fmt.Errorf("lease.redis.addr is required for the redis claimer")
		}
	default:
		return fmt.Errorf("lease.claimer must be store or redis, got %q", c.Lease.Claimer)
	}

	if c.Crawler.Scheme != "http" && c.Crawler.Scheme != "https" {
		return fmt.Errorf("crawler.scheme must be http or https")
	}
	if c.Crawler.PageSize <= 0 {
		return fmt.Errorf("crawler.page_size must be > 0")
	}
	if _, err := crawler.ParseSortOrder(c.Crawler.SortOrder); err != nil {
		return fmt.Errorf("crawler.sort_order: %w", err)
	}
	if c.Crawler.PoolSize <= 0 {
		return fmt.Errorf("crawler.pool_size must be > 0")
	}
	if c.Crawler.Mode != "sequential" && c.Crawler.Mode != "process" {
		return fmt.Errorf("crawler.mode must be sequential or process")
	}
	if c.Crawler.MaxPages < 0 || c.Crawler.MaxProcesses < 0 {
		return fmt.Errorf("crawler.max_pages and crawler.max_processes must be >= 0")
	}

	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.RateLimitBaseMs < 0 || c.HTTP.RateLimitJitterMs < 0 {
		return fmt.Errorf("http rate limit delays must be >= 0")
	}
	if c.HTTP.MaxRateLimitRetries < 0 || c.HTTP.MaxNetworkRetries < 0 {
		return fmt.Errorf("http retry limits must be >= 0")
	}

	if c.Cache.Enabled && (c.Cache.TTLSeconds <= 0 || c.Cache.TTLSeconds > MaxCacheTTLSeconds) {
		return fmt.Errorf("cache.ttl_seconds must be between 1 and %d when the cache is enabled", MaxCacheTTLSeconds)
	}
	return nil
}

// LeaseWindow returns the lease window as a duration.
func (c Config) LeaseWindow() time.Duration {
	return time.Duration(c.Lease.WindowSeconds) * time.Second
}

// SkipPause returns the pause after skipping a leased source.
func (c Config) SkipPause() time.Duration {
	return time.Duration(c.Lease.SkipPauseMs) * time.Millisecond
}

// Stagger returns the delay between process launches.
func (c Config) Stagger() time.Duration {
	return time.Duration(c.Crawler.StaggerMs) * time.Millisecond
}

// RequestTimeout returns the per-request HTTP timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RateLimitBase returns the fixed part of the 429 wait.
func (c Config) RateLimitBase() time.Duration {
	return time.Duration(c.HTTP.RateLimitBaseMs) * time.Millisecond
}

// RateLimitJitter returns the random part bound of the 429 wait.
func (c Config) RateLimitJitter() time.Duration {
	return time.Duration(c.HTTP.RateLimitJitterMs) * time.Millisecond
}

// CacheTTL returns the seen-cache entry lifetime.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}
