package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/orchestr8/resourcehub/internal/adapter/catalog"
	"github.com/orchestr8/resourcehub/internal/adapter/gitrepo"
	hubhttp "github.com/orchestr8/resourcehub/internal/adapter/http"
	"github.com/orchestr8/resourcehub/internal/adapter/httpclient"
	"github.com/orchestr8/resourcehub/internal/adapter/localfs"
	"github.com/orchestr8/resourcehub/internal/adapter/mcp"
	"github.com/orchestr8/resourcehub/internal/adapter/otel"
	"github.com/orchestr8/resourcehub/internal/adapter/ristretto"
	"github.com/orchestr8/resourcehub/internal/adapter/ws"
	"github.com/orchestr8/resourcehub/internal/config"
	"github.com/orchestr8/resourcehub/internal/domain/resource"
	"github.com/orchestr8/resourcehub/internal/index"
	"github.com/orchestr8/resourcehub/internal/logger"
	"github.com/orchestr8/resourcehub/internal/resilience"
	"github.com/orchestr8/resourcehub/internal/service"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"local_root", cfg.Local.Root,
		"git_repos", len(cfg.GitRepos),
	)

	ctx := context.Background()

	// --- Telemetry ---
	otelShutdown, err := otel.Setup(ctx, otel.Config{
		Enabled:        cfg.Otel.Enabled,
		Endpoint:       cfg.Otel.Endpoint,
		Insecure:       cfg.Otel.Insecure,
		ServiceName:    cfg.Logging.Service,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(shutdownCtx)
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Federation ---
	hub := ws.NewHub()
	defer hub.Close()

	registry := service.NewRegistry(service.RegistryConfig{
		Scheme:                 cfg.Registry.Scheme,
		HealthInterval:         cfg.Registry.HealthInterval,
		MaxConsecutiveFailures: cfg.Registry.MaxConsecutiveFailures,
		SearchTimeout:          cfg.Registry.SearchTimeout,
	}, hub)

	var local *localfs.Provider
	if cfg.Local.Enabled {
		local = localfs.New(localfs.Config{
			Root:              cfg.Local.Root,
			Scheme:            cfg.Registry.Scheme,
			Priority:          cfg.Local.Priority,
			IndexTTL:          cfg.Local.IndexTTL,
			ResourceCacheSize: cfg.Local.CacheSize,
			ResourceCacheTTL:  cfg.Local.CacheTTL,
		})
		if err := registry.Register(ctx, local); err != nil {
			return fmt.Errorf("register local provider: %w", err)
		}
	}

	if cfg.Catalog.Enabled {
		p := catalog.New(catalog.Config{
			BaseURL:           cfg.Catalog.BaseURL,
			Token:             cfg.Catalog.Token,
			Priority:          cfg.Catalog.Priority,
			IndexTTL:          cfg.Catalog.IndexTTL,
			ResourceCacheSize: cfg.Catalog.CacheSize,
			ResourceCacheTTL:  cfg.Catalog.CacheTTL,
			HTTP: httpclient.Config{
				Timeout:   cfg.Catalog.Timeout,
				PerMinute: cfg.Catalog.PerMinute,
				PerHour:   cfg.Catalog.PerHour,
				Retry:     resilience.RetryPolicy{Attempts: config.Retries(cfg.Catalog.RetryAttempts)},
			},
		})
		if err := registry.Register(ctx, p); err != nil {
			return fmt.Errorf("register catalog provider: %w", err)
		}
	}

	for _, rc := range cfg.GitRepos {
		p := gitrepo.New(gitrepo.Config{
			Repo:              rc.Repo,
			Branch:            rc.Branch,
			Token:             rc.Token,
			Priority:          rc.Priority,
			IndexTTL:          rc.IndexTTL,
			ResourceCacheSize: rc.CacheSize,
			ResourceCacheTTL:  rc.CacheTTL,
			HTTP: httpclient.Config{
				Timeout:   rc.Timeout,
				PerMinute: rc.PerMinute,
				PerHour:   rc.PerHour,
				Retry:     resilience.RetryPolicy{Attempts: config.Retries(rc.RetryAttempts)},
			},
		})
		if err := registry.Register(ctx, p); err != nil {
			return fmt.Errorf("register git provider %s: %w", rc.Repo, err)
		}
	}

	registry.Start(ctx)
	defer registry.Stop(context.Background())

	// --- Tiered lookup ---
	quick, err := ristretto.New(cfg.Lookup.QuickCacheBytes)
	if err != nil {
		return fmt.Errorf("quick cache: %w", err)
	}

	lookupSvc := service.NewLookupService(service.LookupConfig{
		Root:          cfg.Local.Root,
		Scheme:        cfg.Registry.Scheme,
		CommonQueries: cfg.Lookup.CommonQueries,
	}, quick, fuzzyFallback(local), metrics)

	// --- HTTP ---
	handlers := hubhttp.NewHandlers(registry, lookupSvc, hub, metrics, version)

	r := chi.NewRouter()
	r.Use(hubhttp.SecurityHeaders)
	r.Use(hubhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(hubhttp.RequestID)
	r.Use(hubhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	if cfg.Otel.Enabled {
		r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	}

	hubhttp.MountRoutes(r, handlers)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// --- MCP ---
	var mcpSrv *mcp.Server
	if cfg.MCP.Enabled {
		mcpSrv = mcp.NewServer(mcp.ServerConfig{
			Addr:    cfg.MCP.Addr,
			Name:    cfg.Logging.Service,
			Version: version,
			APIKey:  cfg.MCP.APIKey,
		}, mcp.ServerDeps{
			Registry: registry,
			Lookup:   lookupSvc,
		})
		if err := mcpSrv.Start(); err != nil {
			return fmt.Errorf("mcp: %w", err)
		}
		slog.Info("mcp listening", "addr", cfg.MCP.Addr)
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if mcpSrv != nil {
		_ = mcpSrv.Stop(shutdownCtx)
	}
	return srv.Shutdown(shutdownCtx)
}

// fuzzyFallback adapts the local provider's in-memory matcher into the
// lookup fallback tier. Without a local provider every fallback lookup
// answers empty.
func fuzzyFallback(local *localfs.Provider) index.Fallback {
	return func(ctx context.Context, query string, opts index.Options) (string, int, error) {
		if local == nil {
			return "No matching resources found.", 0, nil
		}
		res, err := local.MatchContext(ctx, resource.MatchParams{
			Query:      query,
			MaxResults: opts.MaxResults,
			MinScore:   opts.MinScore,
			Categories: opts.Categories,
			Mode:       resource.ModeCatalog,
		})
		if err != nil {
			return "", 0, err
		}
		return res.Content, len(res.Fragments), nil
	}
}
