package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/orchestr8/resourcehub/internal/adapter/otel"
	"github.com/orchestr8/resourcehub/internal/index"
	"github.com/orchestr8/resourcehub/internal/port/cache"
)

// LookupStatus describes the currently loaded index.
type LookupStatus struct {
	Loaded    bool      `json:"loaded"`
	BuiltAt   time.Time `json:"builtAt,omitzero"`
	Fragments int       `json:"fragments"`
	Scenarios int       `json:"scenarios"`
}

// LookupConfig wires the lookup engine to its resource root.
type LookupConfig struct {
	// Root is the resource tree the index is built over and stored under.
	Root string
	// Scheme is the URI scheme stamped into index entries.
	Scheme string
	// CommonQueries seed the quick-lookup artifact at build time.
	CommonQueries []string
}

// LookupService owns the lookup engine and its rebuild lifecycle. Reads
// keep working against the previous index while a rebuild runs.
type LookupService struct {
	cfg      LookupConfig
	quick    cache.Cache
	fallback index.Fallback
	recorder index.Recorder

	mu      sync.RWMutex
	lookup  *index.Lookup
	status  LookupStatus
	rebuild sync.Mutex
}

// NewLookupService loads any previously written index artifacts. A missing
// index is not an error; lookups run in fuzzy-only mode until Rebuild.
func NewLookupService(cfg LookupConfig, quick cache.Cache, fallback index.Fallback, recorder index.Recorder) *LookupService {
	s := &LookupService{cfg: cfg, quick: quick, fallback: fallback, recorder: recorder}

	arts, err := index.Load(cfg.Root)
	if err != nil {
		slog.Info("no lookup index loaded", "root", cfg.Root, "reason", err)
		s.lookup = index.NewLookup(nil, quick, fallback, recorder)
		return s
	}
	s.install(arts)
	return s
}

// Lookup answers a query through the tier cascade.
func (s *LookupService) Lookup(ctx context.Context, query string, opts index.Options) (*index.Result, error) {
	ctx, span := otel.StartLookupSpan(ctx, query)
	defer span.End()

	s.mu.RLock()
	l := s.lookup
	s.mu.RUnlock()
	return l.Do(ctx, query, opts)
}

// Rebuild scans the resource tree, writes fresh artifacts and swaps them
// in. Concurrent rebuilds are serialized.
func (s *LookupService) Rebuild(ctx context.Context) (LookupStatus, error) {
	s.rebuild.Lock()
	defer s.rebuild.Unlock()

	start := time.Now()
	builder := index.NewBuilder(s.cfg.Root, s.cfg.Scheme, s.cfg.CommonQueries)
	arts, err := builder.BuildAndWrite(ctx)
	if err != nil {
		return s.Status(), fmt.Errorf("rebuild lookup index: %w", err)
	}
	s.install(arts)

	st := s.Status()
	slog.Info("lookup index rebuilt",
		"fragments", st.Fragments, "scenarios", st.Scenarios,
		"took_ms", time.Since(start).Milliseconds())
	return st, nil
}

// Status reports what is currently loaded.
func (s *LookupService) Status() LookupStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *LookupService) install(arts *index.Artifacts) {
	l := index.NewLookup(arts, s.quick, s.fallback, s.recorder)
	l.SeedQuick(context.Background())

	s.mu.Lock()
	s.lookup = l
	s.status = LookupStatus{
		Loaded:    true,
		BuiltAt:   arts.UseWhen.Generated,
		Fragments: arts.UseWhen.TotalFragments,
		Scenarios: arts.UseWhen.Stats.Scenarios,
	}
	s.mu.Unlock()
}
