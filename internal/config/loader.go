package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the YAML file Load looks for in the working
// directory.
const DefaultConfigFile = "resourcehub.yaml"

// Load reads configuration with the standard precedence: built-in
// defaults, then DefaultConfigFile if present, then environment.
func Load() (Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom is Load with an explicit YAML path. A missing file is not an
// error; a malformed one is.
func LoadFrom(yamlPath string) (Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return Config{}, err
	}
	loadEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func loadEnv(cfg *Config) {
	setInt(&cfg.Server.Port, "RESOURCEHUB_PORT")
	setString(&cfg.Server.CORSOrigin, "RESOURCEHUB_CORS_ORIGIN")

	setString(&cfg.Logging.Level, "RESOURCEHUB_LOG_LEVEL")
	setString(&cfg.Logging.Service, "RESOURCEHUB_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "RESOURCEHUB_LOG_ASYNC")

	setBool(&cfg.Otel.Enabled, "RESOURCEHUB_OTEL_ENABLED")
	setString(&cfg.Otel.Endpoint, "RESOURCEHUB_OTEL_ENDPOINT")
	setBool(&cfg.Otel.Insecure, "RESOURCEHUB_OTEL_INSECURE")

	setBool(&cfg.MCP.Enabled, "RESOURCEHUB_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "RESOURCEHUB_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "RESOURCEHUB_MCP_API_KEY")

	setString(&cfg.Registry.Scheme, "RESOURCEHUB_SCHEME")
	setDuration(&cfg.Registry.HealthInterval, "RESOURCEHUB_HEALTH_INTERVAL")
	setInt(&cfg.Registry.MaxConsecutiveFailures, "RESOURCEHUB_MAX_CONSECUTIVE_FAILURES")
	setDuration(&cfg.Registry.SearchTimeout, "RESOURCEHUB_SEARCH_TIMEOUT")

	setInt64(&cfg.Lookup.QuickCacheBytes, "RESOURCEHUB_QUICK_CACHE_BYTES")

	setBool(&cfg.Local.Enabled, "RESOURCEHUB_LOCAL_ENABLED")
	setString(&cfg.Local.Root, "RESOURCEHUB_LOCAL_ROOT")

	setBool(&cfg.Catalog.Enabled, "RESOURCEHUB_CATALOG_ENABLED")
	setString(&cfg.Catalog.BaseURL, "RESOURCEHUB_CATALOG_URL")
	setString(&cfg.Catalog.Token, "RESOURCEHUB_CATALOG_TOKEN")
	setInt(&cfg.Catalog.PerMinute, "RESOURCEHUB_CATALOG_PER_MINUTE")
	setInt(&cfg.Catalog.PerHour, "RESOURCEHUB_CATALOG_PER_HOUR")
	setDuration(&cfg.Catalog.Timeout, "RESOURCEHUB_CATALOG_TIMEOUT")
	setInt(&cfg.Catalog.RetryAttempts, "RESOURCEHUB_CATALOG_RETRY_ATTEMPTS")

	// RESOURCEHUB_GIT_REPOS is a comma-separated slug list; the shared
	// RESOURCEHUB_GIT_TOKEN applies to all of them. Per-repo settings
	// need the YAML file.
	if v := os.Getenv("RESOURCEHUB_GIT_REPOS"); v != "" {
		token := os.Getenv("RESOURCEHUB_GIT_TOKEN")
		cfg.GitRepos = nil
		for _, slug := range strings.Split(v, ",") {
			slug = strings.TrimSpace(slug)
			if slug == "" {
				continue
			}
			cfg.GitRepos = append(cfg.GitRepos, GitRepo{Repo: slug, Token: token})
		}
	}
}

// Only non-empty env values override.

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Registry.Scheme == "" {
		return errors.New("registry.scheme is required")
	}
	if c.Registry.MaxConsecutiveFailures <= 0 {
		return errors.New("registry.max_consecutive_failures must be positive")
	}
	if c.Local.Enabled && c.Local.Root == "" {
		return errors.New("local.root is required when the local provider is enabled")
	}
	if c.Catalog.Enabled && c.Catalog.BaseURL == "" {
		return errors.New("catalog.base_url is required when the catalog provider is enabled")
	}
	for i, repo := range c.GitRepos {
		parts := strings.Split(repo.Repo, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("git_repos[%d].repo %q is not an owner/name slug", i, repo.Repo)
		}
	}
	if c.MCP.Enabled && c.MCP.Addr == "" {
		return errors.New("mcp.addr is required when mcp is enabled")
	}
	return nil
}
