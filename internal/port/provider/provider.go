// Package provider defines the resource-provider port (interface) shared by
// every backend: local filesystem, community catalog, and source-control
// repositories.
package provider

import (
	"context"

	"github.com/orchestr8/resourcehub/internal/domain/resource"
)

// Provider is the port interface every resource backend implements.
//
// Initialize validates configuration and performs a first reachability
// check; failures are logged and non-fatal except when the backend's root
// is inaccessible. Shutdown flushes caches and releases background work
// and is idempotent. FetchIndex, FetchResource, Search and HealthCheck may
// block; Stats and ResetStats never do.
type Provider interface {
	// Label returns the unique identifier for this provider
	// (e.g. "local", "catalog", "github:owner/repo").
	Label() string

	// Priority orders providers; lower runs first.
	Priority() int

	// Enabled reports whether the registry should dispatch to this provider.
	Enabled() bool
	SetEnabled(enabled bool)

	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error

	// FetchIndex returns the provider's catalog snapshot; may be cached.
	FetchIndex(ctx context.Context) (*resource.Index, error)

	// FetchResource returns a full resource or a not-found error.
	FetchResource(ctx context.Context, id string, category resource.Category) (*resource.Resource, error)

	// Search returns scored matches for a query.
	Search(ctx context.Context, req resource.SearchRequest) (*resource.SearchResponse, error)

	// HealthCheck performs a lightweight reachability probe and summarizes
	// recent success rates.
	HealthCheck(ctx context.Context) (*resource.HealthRecord, error)

	// Stats returns the counters accumulated since the last reset.
	Stats() resource.StatsRecord
	ResetStats()
}
