// Package localfs implements the resource provider backed by a local
// directory tree of front-matter markdown files. It is the highest-priority
// backend and the only one that can answer with zero network round trips.
package localfs

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/orchestr8/resourcehub/internal/adapter/lruttl"
	"github.com/orchestr8/resourcehub/internal/domain/resource"
	"github.com/orchestr8/resourcehub/internal/frontmatter"
	"github.com/orchestr8/resourcehub/internal/search"
	"github.com/orchestr8/resourcehub/internal/stats"
)

const (
	defaultLabel             = "local"
	defaultMaxResults        = 15
	defaultResourceCacheSize = 200
	defaultResourceCacheTTL  = 4 * time.Hour
	defaultIndexTTL          = 24 * time.Hour
	defaultScanConcurrency   = 4
	recentErrorWindow        = 5 * time.Minute

	// noBudget stands in for an absent token budget on metadata searches.
	noBudget = 1 << 30
)

// categoryDirs maps tree subdirectories to their category; guides is an
// alias for pattern.
var categoryDirs = []string{"agents", "skills", "examples", "patterns", "workflows", "guides"}

// Config configures the local provider.
type Config struct {
	// Root is the resource tree; it must exist at Initialize.
	Root string
	// Scheme is the URI scheme for rendered resource URIs.
	Scheme string
	// Priority orders this provider among its peers. Local defaults to 0,
	// ahead of every remote backend.
	Priority int
	// ResourceCacheSize bounds the full-content cache entry count.
	ResourceCacheSize int
	// ResourceCacheTTL expires cached full resources.
	ResourceCacheTTL time.Duration
	// IndexTTL expires the in-memory catalog snapshot.
	IndexTTL time.Duration
	// ScanConcurrency bounds parallel category scans.
	ScanConcurrency int
}

// snapshot is one immutable scan of the tree.
type snapshot struct {
	index     *resource.Index
	fragments []resource.Fragment
	metadata  map[string]resource.Metadata // fragment ID -> metadata
	loadedAt  time.Time
}

// Provider is the local filesystem backend.
type Provider struct {
	root        string
	scheme      string
	priority    int
	indexTTL    time.Duration
	resourceTTL time.Duration
	scanSem     *semaphore.Weighted

	enabled  atomic.Bool
	matcher  *search.Matcher
	tracker  *stats.Tracker
	resCache *lruttl.Cache

	mu         sync.Mutex
	snap       *snapshot
	loadCh     chan struct{} // non-nil while a load is in flight
	loadErr    error
	refreshing bool
}

// New creates the provider; the root is validated at Initialize.
func New(cfg Config) *Provider {
	if cfg.Scheme == "" {
		cfg.Scheme = resource.DefaultScheme
	}
	if cfg.ResourceCacheSize <= 0 {
		cfg.ResourceCacheSize = defaultResourceCacheSize
	}
	if cfg.ResourceCacheTTL <= 0 {
		cfg.ResourceCacheTTL = defaultResourceCacheTTL
	}
	if cfg.IndexTTL <= 0 {
		cfg.IndexTTL = defaultIndexTTL
	}
	if cfg.ScanConcurrency <= 0 {
		cfg.ScanConcurrency = defaultScanConcurrency
	}
	p := &Provider{
		root:        cfg.Root,
		scheme:      cfg.Scheme,
		priority:    cfg.Priority,
		indexTTL:    cfg.IndexTTL,
		resourceTTL: cfg.ResourceCacheTTL,
		scanSem:     semaphore.NewWeighted(int64(cfg.ScanConcurrency)),
		matcher:     search.NewMatcher(cfg.Scheme),
		tracker:     stats.NewTracker(),
		resCache:    lruttl.New(cfg.ResourceCacheSize),
	}
	p.enabled.Store(true)
	return p
}

func (p *Provider) Label() string      { return defaultLabel }
func (p *Provider) Priority() int      { return p.priority }
func (p *Provider) Enabled() bool      { return p.enabled.Load() }
func (p *Provider) SetEnabled(on bool) { p.enabled.Store(on) }

// Initialize checks the root and starts the first scan in the background
// so the service comes up before the tree is fully indexed.
func (p *Provider) Initialize(ctx context.Context) error {
	info, err := os.Stat(p.root)
	if err != nil || !info.IsDir() {
		return resource.NewError(resource.KindUnavailable, p.Label(), "resource root %q not accessible", p.root)
	}
	p.mu.Lock()
	p.startLoadLocked(context.WithoutCancel(ctx))
	p.mu.Unlock()
	return nil
}

// Shutdown drops caches; idempotent.
func (p *Provider) Shutdown(_ context.Context) error {
	p.resCache.Purge()
	return nil
}

// FetchIndex returns the current catalog snapshot, scanning on demand.
func (p *Provider) FetchIndex(ctx context.Context) (*resource.Index, error) {
	start := time.Now()
	snap, fresh, err := p.snapshot(ctx)
	if err != nil {
		p.tracker.RecordFailure()
		return nil, err
	}
	if fresh {
		p.tracker.RecordSuccess(time.Since(start))
	} else {
		p.tracker.RecordCached()
	}
	return snap.index, nil
}

// FetchResource loads full content for one resource, serving repeats from
// the bounded LRU cache.
func (p *Provider) FetchResource(ctx context.Context, id string, category resource.Category) (*resource.Resource, error) {
	key := string(category) + ":" + id
	if data, ok, _ := p.resCache.Get(ctx, key); ok {
		p.tracker.RecordCached()
		var r resource.Resource
		if err := json.Unmarshal(data, &r); err == nil {
			return &r, nil
		}
		// Corrupt cache entry; fall through to disk.
		_ = p.resCache.Delete(ctx, key)
	}

	start := time.Now()
	r, err := p.readResource(id, category)
	if err != nil {
		p.tracker.RecordFailure()
		return nil, err
	}
	p.tracker.RecordSuccess(time.Since(start))
	p.tracker.AddResources(1, r.EstimatedTokens)
	p.tracker.AddBytes(int64(len(r.Content)))

	if data, err := json.Marshal(r); err == nil {
		_ = p.resCache.Set(ctx, key, data, p.resourceTTL)
	}
	return r, nil
}

// Search scores the fragment set against the query.
func (p *Provider) Search(ctx context.Context, req resource.SearchRequest) (*resource.SearchResponse, error) {
	start := time.Now()
	snap, _, err := p.snapshot(ctx)
	if err != nil {
		p.tracker.RecordFailure()
		return nil, err
	}

	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	// Search is metadata-only, so an unset budget means unbounded.
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = noBudget
	}
	fragments := snap.fragments
	if len(req.Categories) > 0 {
		fragments = filterByCategory(fragments, req.Categories)
	}
	match := p.matcher.Match(fragments, search.MatchRequest{
		Query:        req.Query,
		Categories:   req.Categories,
		RequiredTags: req.RequiredTags,
		MinScore:     req.MinScore,
		MaxResults:   maxResults,
		MaxTokens:    maxTokens,
	})

	keywords := search.ExtractKeywords(req.Query)
	results := make([]resource.SearchResult, 0, len(match.Fragments))
	for i := range match.Fragments {
		frag := &match.Fragments[i]
		score := match.Scores[frag.ID]
		// Optional tags nudge the ranking without filtering.
		for _, tag := range req.OptionalTags {
			if hasTag(frag.Tags, tag) {
				score += 5
			}
		}
		if score > 100 {
			score = 100
		}
		md, ok := snap.metadata[frag.ID]
		if !ok {
			continue
		}
		results = append(results, resource.SearchResult{
			Resource:     md,
			Score:        score,
			MatchReasons: search.MatchReasons(keywords, frag, req.Categories),
			Provider:     p.Label(),
			URI:          search.FragmentURI(p.scheme, frag),
		})
	}

	search.SortResults(results, req.SortBy, req.SortOrder)
	total := len(results)
	facets := search.BuildFacets(results)
	results = search.Paginate(results, req.Offset, req.Limit)

	p.tracker.RecordSuccess(time.Since(start))
	return &resource.SearchResponse{
		Results:    results,
		TotalCount: total,
		Query:      req.Query,
		Provider:   p.Label(),
		Facets:     facets,
		TookMS:     time.Since(start).Milliseconds(),
	}, nil
}

// MatchContext assembles budgeted content for a dynamic match URI. This is
// beyond the provider port; the registry uses it when the backend offers it.
func (p *Provider) MatchContext(ctx context.Context, params resource.MatchParams) (*search.MatchResult, error) {
	start := time.Now()
	snap, _, err := p.snapshot(ctx)
	if err != nil {
		p.tracker.RecordFailure()
		return nil, err
	}
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = resource.DefaultMatchMaxTokens
	}
	maxResults := params.MaxResults
	if maxResults <= 0 {
		maxResults = resource.DefaultMatchMaxResults
	}
	fragments := snap.fragments
	if len(params.Categories) > 0 {
		fragments = filterByCategory(fragments, params.Categories)
	}
	result := p.matcher.Match(fragments, search.MatchRequest{
		Query:        params.Query,
		Categories:   params.Categories,
		RequiredTags: params.Tags,
		MinScore:     params.MinScore,
		MaxResults:   maxResults,
		MaxTokens:    maxTokens,
		Mode:         params.Mode,
	})
	p.tracker.RecordSuccess(time.Since(start))
	p.tracker.AddResources(len(result.Fragments), result.TotalTokens)
	return result, nil
}

// Fragments exposes the current fragment set for the lookup engine's fuzzy
// fallback tier.
func (p *Provider) Fragments(ctx context.Context) ([]resource.Fragment, error) {
	snap, _, err := p.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.fragments, nil
}

// HealthCheck probes the root directory and summarizes recent quality.
func (p *Provider) HealthCheck(_ context.Context) (*resource.HealthRecord, error) {
	start := time.Now()
	_, err := os.Stat(p.root)
	elapsed := time.Since(start)

	rec := &resource.HealthRecord{
		Provider:       p.Label(),
		CheckedAt:      start,
		ResponseTimeMS: elapsed.Milliseconds(),
		Reachable:      err == nil,
		Authenticated:  true, // no credentials involved
		Metrics: resource.HealthMetrics{
			SuccessRate:         p.tracker.SuccessRate(),
			AvgResponseTimeMS:   p.tracker.AvgResponseTimeMS(),
			ConsecutiveFailures: p.tracker.ConsecutiveFailures(),
			LastSuccess:         p.tracker.LastSuccess(),
		},
	}
	if err != nil {
		rec.Status = resource.HealthUnhealthy
		rec.Error = fmt.Sprintf("root not accessible: %v", err)
		return rec, nil
	}
	rec.Status = stats.DeriveHealth(p.tracker.SuccessRate(), p.tracker.ErrorWithin(recentErrorWindow))
	return rec, nil
}

// Stats returns counters since the last reset.
func (p *Provider) Stats() resource.StatsRecord {
	return p.tracker.Snapshot().Record(p.Label(), nil)
}

func (p *Provider) ResetStats() { p.tracker.Reset() }

// snapshot returns the current scan, triggering or awaiting a load as
// needed. fresh reports whether this call performed the scan.
func (p *Provider) snapshot(ctx context.Context) (*snapshot, bool, error) {
	p.mu.Lock()
	if s := p.snap; s != nil {
		if time.Since(s.loadedAt) < p.indexTTL {
			p.mu.Unlock()
			return s, false, nil
		}
		// Serve stale while a background refresh runs.
		if !p.refreshing {
			p.refreshing = true
			go p.refresh()
		}
		p.mu.Unlock()
		return s, false, nil
	}
	if p.loadCh == nil {
		p.startLoadLocked(context.WithoutCancel(ctx))
	}
	ch := p.loadCh
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case <-ch:
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadErr != nil {
		return nil, false, p.loadErr
	}
	return p.snap, true, nil
}

// startLoadLocked begins a coalesced load; callers hold p.mu.
func (p *Provider) startLoadLocked(ctx context.Context) {
	ch := make(chan struct{})
	p.loadCh = ch
	go func() {
		snap, err := p.scan(ctx)
		p.mu.Lock()
		if err != nil {
			p.loadErr = err
		} else {
			p.snap = snap
			p.loadErr = nil
		}
		p.loadCh = nil
		p.mu.Unlock()
		close(ch)
	}()
}

func (p *Provider) refresh() {
	snap, err := p.scan(context.Background())
	p.mu.Lock()
	if err == nil {
		p.snap = snap
	} else {
		slog.Warn("index refresh failed, serving stale snapshot", "provider", p.Label(), "error", err)
	}
	p.refreshing = false
	p.mu.Unlock()
}

// scan walks the category directories in parallel and assembles a snapshot.
func (p *Provider) scan(ctx context.Context) (*snapshot, error) {
	type catResult struct {
		fragments []resource.Fragment
		metadata  []resource.Metadata
		err       error
	}

	results := make([]catResult, len(categoryDirs))
	var wg sync.WaitGroup
	for i, dir := range categoryDirs {
		if err := p.scanSem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		wg.Add(1)
		go func(i int, dir string) {
			defer wg.Done()
			defer p.scanSem.Release(1)
			frags, mds, err := p.scanCategory(ctx, dir)
			results[i] = catResult{fragments: frags, metadata: mds, err: err}
		}(i, dir)
	}
	wg.Wait()

	snap := &snapshot{
		metadata: make(map[string]resource.Metadata),
		loadedAt: time.Now(),
	}
	var all []resource.Metadata
	for i := range results {
		if err := results[i].err; err != nil {
			return nil, resource.WrapError(resource.KindProviderError, p.Label(), err, "scan failed")
		}
		snap.fragments = append(snap.fragments, results[i].fragments...)
		all = append(all, results[i].metadata...)
	}
	for i := range snap.fragments {
		snap.metadata[snap.fragments[i].ID] = all[i]
	}

	idxStats, categories := resource.ComputeStats(all, 10)
	snap.index = &resource.Index{
		Provider:   p.Label(),
		Total:      len(all),
		Resources:  all,
		Generated:  snap.loadedAt,
		Categories: categories,
		Stats:      idxStats,
	}
	slog.Info("resource tree scanned", "provider", p.Label(), "resources", len(all))
	return snap, nil
}

func (p *Provider) scanCategory(ctx context.Context, dir string) ([]resource.Fragment, []resource.Metadata, error) {
	category, _ := resource.CategoryFromDir(dir)
	base := filepath.Join(p.root, dir)
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return nil, nil, nil
	}

	var fragments []resource.Fragment
	var metadata []resource.Metadata
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		content, err := os.ReadFile(path) //nolint:gosec // G304: inside configured root
		if err != nil {
			return err
		}
		doc, err := frontmatter.Parse(content)
		if err != nil {
			slog.Warn("skipping unparseable resource", "path", path, "error", err)
			return nil
		}
		stem := strings.TrimSuffix(d.Name(), ".md")
		frag := frontmatter.Fragment(doc, stem, category)
		r := frontmatter.BuildResource(doc, stem, category, p.Label(), resource.StaticURI(p.scheme, frag.Category, bareID(frag.ID)))
		fragments = append(fragments, frag)
		metadata = append(metadata, r.Metadata())
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	return fragments, metadata, nil
}

// readResource loads one file straight from disk.
func (p *Provider) readResource(id string, category resource.Category) (*resource.Resource, error) {
	if !category.Valid() {
		return nil, resource.NewError(resource.KindInvalidURI, p.Label(), "invalid category %q", category)
	}
	path := filepath.Join(p.root, category.Plural(), id+".md")
	content, err := os.ReadFile(path) //nolint:gosec // G304: inside configured root
	if err != nil {
		if os.IsNotExist(err) {
			// guides holds pattern resources too.
			if category == resource.CategoryPattern {
				if r, err2 := p.readFromDir("guides", id, category); err2 == nil {
					return r, nil
				}
			}
			return nil, resource.NewError(resource.KindNotFound, p.Label(), "resource %s/%s not found", category, id)
		}
		return nil, resource.WrapError(resource.KindProviderError, p.Label(), err, "read %s", path)
	}
	return p.build(content, id, category)
}

func (p *Provider) readFromDir(dir, id string, category resource.Category) (*resource.Resource, error) {
	content, err := os.ReadFile(filepath.Join(p.root, dir, id+".md")) //nolint:gosec // G304: inside configured root
	if err != nil {
		return nil, err
	}
	return p.build(content, id, category)
}

func (p *Provider) build(content []byte, id string, category resource.Category) (*resource.Resource, error) {
	doc, err := frontmatter.Parse(content)
	if err != nil {
		return nil, resource.WrapError(resource.KindProviderError, p.Label(), err, "parse %s/%s", category, id)
	}
	uri := resource.StaticURI(p.scheme, category, id)
	r := frontmatter.BuildResource(doc, id, category, p.Label(), uri)
	// The caller asked for this file by identity; front matter must not
	// rename it. The scan path still honors preamble overrides.
	r.ID = id
	r.Category = category
	return r, nil
}

func filterByCategory(fragments []resource.Fragment, cats []resource.Category) []resource.Fragment {
	out := make([]resource.Fragment, 0, len(fragments))
	for i := range fragments {
		for _, c := range cats {
			if fragments[i].Category == c {
				out = append(out, fragments[i])
				break
			}
		}
	}
	return out
}

func hasTag(tags []string, want string) bool {
	want = strings.ToLower(want)
	for _, t := range tags {
		if strings.ToLower(t) == want {
			return true
		}
	}
	return false
}

// bareID strips the category qualifier from a fragment ID.
func bareID(fragID string) string {
	if i := strings.IndexByte(fragID, '/'); i >= 0 {
		return fragID[i+1:]
	}
	return fragID
}

