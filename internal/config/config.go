// Package config loads resourcehub configuration from defaults, an
// optional YAML file, and RESOURCEHUB_* environment variables, in that
// order of precedence.
package config

import "time"

// Config is the full service configuration.
type Config struct {
	Server   Server    `yaml:"server"`
	Logging  Logging   `yaml:"logging"`
	Otel     Otel      `yaml:"otel"`
	MCP      MCP       `yaml:"mcp"`
	Registry Registry  `yaml:"registry"`
	Lookup   Lookup    `yaml:"lookup"`
	Local    Local     `yaml:"local"`
	Catalog  Catalog   `yaml:"catalog"`
	GitRepos []GitRepo `yaml:"git_repos"`
}

// Server configures the HTTP listener.
type Server struct {
	Port       int    `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Logging configures structured logging.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	// Async moves record handling onto a worker pool; records may be
	// dropped when the buffer fills.
	Async        bool `yaml:"async"`
	AsyncBuffer  int  `yaml:"async_buffer"`
	AsyncWorkers int  `yaml:"async_workers"`
}

// Otel configures OpenTelemetry export over OTLP/gRPC.
type Otel struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// MCP configures the Model Context Protocol endpoint.
type MCP struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	APIKey  string `yaml:"api_key"`
}

// Registry configures provider federation.
type Registry struct {
	// Scheme is the URI scheme resources are addressed under.
	Scheme         string        `yaml:"scheme"`
	HealthInterval time.Duration `yaml:"health_interval"`
	// MaxConsecutiveFailures is the health-check streak that disables
	// a provider until it is manually re-enabled.
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
	SearchTimeout          time.Duration `yaml:"search_timeout"`
}

// Lookup configures the tiered lookup index.
type Lookup struct {
	// CommonQueries seed the quick-answer tier at index build time.
	CommonQueries []string `yaml:"common_queries"`
	// QuickCacheBytes bounds the quick-tier cache size.
	QuickCacheBytes int64 `yaml:"quick_cache_bytes"`
}

// Local configures the local filesystem provider.
type Local struct {
	Enabled  bool   `yaml:"enabled"`
	Root     string `yaml:"root"`
	Priority int    `yaml:"priority"`
	// IndexTTL bounds how long a directory scan is reused; CacheSize and
	// CacheTTL govern the parsed-resource cache. Zeros take the provider
	// defaults.
	IndexTTL  time.Duration `yaml:"index_ttl"`
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// Catalog configures the community catalog provider.
type Catalog struct {
	Enabled   bool          `yaml:"enabled"`
	BaseURL   string        `yaml:"base_url"`
	Token     string        `yaml:"token"`
	Priority  int           `yaml:"priority"`
	PerMinute int           `yaml:"per_minute"`
	PerHour   int           `yaml:"per_hour"`
	Timeout   time.Duration `yaml:"timeout"`
	// RetryAttempts is the number of retries after the first try.
	// Negative disables retries.
	RetryAttempts int           `yaml:"retry_attempts"`
	IndexTTL      time.Duration `yaml:"index_ttl"`
	CacheSize     int           `yaml:"cache_size"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
}

// GitRepo configures one git-repository provider.
type GitRepo struct {
	// Repo is the "owner/name" slug.
	Repo      string        `yaml:"repo"`
	Branch    string        `yaml:"branch"`
	Token     string        `yaml:"token"`
	Priority  int           `yaml:"priority"`
	PerMinute int           `yaml:"per_minute"`
	PerHour   int           `yaml:"per_hour"`
	Timeout   time.Duration `yaml:"timeout"`
	// RetryAttempts is the number of retries after the first try.
	// Negative disables retries; zero takes the default.
	RetryAttempts int           `yaml:"retry_attempts"`
	IndexTTL      time.Duration `yaml:"index_ttl"`
	CacheSize     int           `yaml:"cache_size"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
}

// DefaultRetryAttempts is applied when a provider's RetryAttempts is
// zero.
const DefaultRetryAttempts = 3

// Retries resolves a configured retry_attempts value: zero means the
// default, negative means none.
func Retries(configured int) int {
	if configured < 0 {
		return 0
	}
	if configured == 0 {
		return DefaultRetryAttempts
	}
	return configured
}

// Defaults returns a fully populated configuration suitable for local
// development. The local provider is on; remote providers are off.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       8080,
			CORSOrigin: "*",
		},
		Logging: Logging{
			Level:        "info",
			Service:      "resourcehub",
			AsyncBuffer:  1024,
			AsyncWorkers: 2,
		},
		Otel: Otel{
			Endpoint: "localhost:4317",
			Insecure: true,
		},
		MCP: MCP{
			Addr: ":8081",
		},
		Registry: Registry{
			Scheme:                 "o8",
			HealthInterval:         5 * time.Minute,
			MaxConsecutiveFailures: 5,
			SearchTimeout:          10 * time.Second,
		},
		Lookup: Lookup{
			QuickCacheBytes: 8 << 20,
		},
		Local: Local{
			Enabled: true,
			Root:    "./resources",
		},
		Catalog: Catalog{
			Priority:      10,
			PerMinute:     30,
			Timeout:       30 * time.Second,
			RetryAttempts: DefaultRetryAttempts,
		},
	}
}
