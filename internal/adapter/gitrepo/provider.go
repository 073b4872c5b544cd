// Package gitrepo implements the resource provider backed by a hosted git
// repository. It lists the tree through the forge's REST API and fetches
// file contents raw, so no local clone is required.
package gitrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/orchestr8/resourcehub/internal/adapter/httpclient"
	"github.com/orchestr8/resourcehub/internal/adapter/lruttl"
	"github.com/orchestr8/resourcehub/internal/domain/resource"
	"github.com/orchestr8/resourcehub/internal/frontmatter"
	"github.com/orchestr8/resourcehub/internal/search"
	"github.com/orchestr8/resourcehub/internal/stats"
)

const (
	defaultPriority          = 20
	defaultBranch            = "main"
	defaultMaxResults        = 15
	defaultIndexTTL          = 6 * time.Hour
	defaultResourceCacheSize = 300
	defaultResourceCacheTTL  = 24 * time.Hour
	defaultPerHour           = 60
	defaultBreakerThreshold  = 5
	defaultBreakerCooldown   = 30 * time.Second
	recentErrorWindow        = 5 * time.Minute

	apiBase = "https://api.github.com"
	rawBase = "https://raw.githubusercontent.com"
)

// knownLayouts maps repository directories to categories for repositories
// whose layout does not follow the standard directory names. Directories
// absent here fall back to the singular/plural category heuristic.
var knownLayouts = map[string]map[string]resource.Category{
	"orchestr8/community-resources": {
		"prompts":  resource.CategoryPattern,
		"recipes":  resource.CategoryWorkflow,
		"snippets": resource.CategoryExample,
	},
}

// Config configures a git-repository provider.
type Config struct {
	// Repo is the "owner/name" slug.
	Repo string
	// Branch defaults to main.
	Branch string
	// Token enables authenticated API calls and private repositories.
	Token string
	// Priority orders this provider; defaults to 20, after the catalog.
	Priority int
	// Layout maps repository directories to categories, overriding the
	// built-in knowledge and the directory-name heuristic.
	Layout map[string]resource.Category

	IndexTTL          time.Duration
	ResourceCacheSize int
	ResourceCacheTTL  time.Duration

	HTTP httpclient.Config

	// APIBase and RawBase override the forge endpoints, for tests and
	// self-hosted forges.
	APIBase string
	RawBase string
}

// treeResponse mirrors the git trees API answer.
type treeResponse struct {
	SHA       string      `json:"sha"`
	Truncated bool        `json:"truncated"`
	Tree      []treeEntry `json:"tree"`
}

type treeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
	Size int    `json:"size"`
}

type repoSnapshot struct {
	index    *resource.Index
	paths    map[string]string // metadata ID key -> repo path
	loadedAt time.Time
}

// Provider is a git-repository backend, one instance per repository.
type Provider struct {
	repo     string
	branch   string
	priority int
	token    string
	indexTTL time.Duration
	resTTL   time.Duration
	scheme   string
	apiBase  string
	rawBase  string
	layout   map[string]resource.Category

	enabled  atomic.Bool
	client   *httpclient.Client
	tracker  *stats.Tracker
	resCache *lruttl.Cache
	flight   singleflight.Group

	mu         sync.Mutex
	snap       *repoSnapshot
	refreshing bool
	loadCh     chan struct{}
	loadErr    error
}

// New creates the provider for one repository slug.
func New(cfg Config) *Provider {
	if cfg.Branch == "" {
		cfg.Branch = defaultBranch
	}
	if cfg.Priority == 0 {
		cfg.Priority = defaultPriority
	}
	if cfg.IndexTTL <= 0 {
		cfg.IndexTTL = defaultIndexTTL
	}
	if cfg.ResourceCacheSize <= 0 {
		cfg.ResourceCacheSize = defaultResourceCacheSize
	}
	if cfg.ResourceCacheTTL <= 0 {
		cfg.ResourceCacheTTL = defaultResourceCacheTTL
	}
	if cfg.APIBase == "" {
		cfg.APIBase = apiBase
	}
	if cfg.RawBase == "" {
		cfg.RawBase = rawBase
	}

	label := "github:" + cfg.Repo
	hc := cfg.HTTP
	hc.Provider = label
	if hc.PerMinute == 0 && hc.PerHour == 0 {
		hc.PerHour = defaultPerHour
	}
	// Negative threshold disables the breaker.
	if hc.BreakerThreshold == 0 {
		hc.BreakerThreshold = defaultBreakerThreshold
		hc.BreakerCooldown = defaultBreakerCooldown
	}
	if cfg.Token != "" && hc.AuthHeader == "" {
		hc.AuthHeader = "Bearer " + cfg.Token
	}

	p := &Provider{
		repo:     cfg.Repo,
		branch:   cfg.Branch,
		priority: cfg.Priority,
		token:    cfg.Token,
		indexTTL: cfg.IndexTTL,
		resTTL:   cfg.ResourceCacheTTL,
		scheme:   resource.DefaultScheme,
		apiBase:  strings.TrimSuffix(cfg.APIBase, "/"),
		rawBase:  strings.TrimSuffix(cfg.RawBase, "/"),
		layout:   cfg.Layout,
		client:   httpclient.New(hc),
		tracker:  stats.NewTracker(),
		resCache: lruttl.New(cfg.ResourceCacheSize),
	}
	p.enabled.Store(true)
	return p
}

func (p *Provider) Label() string      { return "github:" + p.repo }
func (p *Provider) Priority() int      { return p.priority }
func (p *Provider) Enabled() bool      { return p.enabled.Load() }
func (p *Provider) SetEnabled(on bool) { p.enabled.Store(on) }

func (p *Provider) Initialize(_ context.Context) error {
	if p.repo == "" || !strings.Contains(p.repo, "/") {
		return resource.NewError(resource.KindUnavailable, p.Label(), "repository slug %q must be owner/name", p.repo)
	}
	return nil
}

func (p *Provider) Shutdown(_ context.Context) error {
	p.resCache.Purge()
	return nil
}

// FetchIndex lists the repository tree and classifies markdown files into
// categories by directory.
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

// FetchResource downloads one file raw and parses its front matter.
func (p *Provider) FetchResource(ctx context.Context, id string, category resource.Category) (*resource.Resource, error) {
	key := string(category) + ":" + id
	if data, ok, _ := p.resCache.Get(ctx, key); ok {
		p.tracker.RecordCached()
		var r resource.Resource
		if err := json.Unmarshal(data, &r); err == nil {
			return &r, nil
		}
		_ = p.resCache.Delete(ctx, key)
	}

	// Concurrent misses for the same file share one raw download.
	v, err, _ := p.flight.Do(key, func() (any, error) {
		return p.fetchResource(ctx, key, id, category)
	})
	if err != nil {
		return nil, err
	}
	return v.(*resource.Resource), nil
}

func (p *Provider) fetchResource(ctx context.Context, key, id string, category resource.Category) (*resource.Resource, error) {
	start := time.Now()
	snap, _, err := p.snapshot(ctx)
	if err != nil {
		p.tracker.RecordFailure()
		return nil, err
	}
	path, ok := snap.paths[key]
	if !ok {
		p.tracker.RecordFailure()
		return nil, resource.NewError(resource.KindNotFound, p.Label(), "resource %s/%s not in repository", category, id)
	}

	rawURL := fmt.Sprintf("%s/%s/%s/%s", p.rawBase, p.repo, p.branch, path)
	content, err := p.client.Get(ctx, rawURL)
	if err != nil {
		p.tracker.RecordFailure()
		return nil, err
	}

	doc, err := frontmatter.Parse(content)
	if err != nil {
		p.tracker.RecordFailure()
		return nil, resource.WrapError(resource.KindProviderError, p.Label(), err, "parse %s", path)
	}
	r := frontmatter.BuildResource(doc, id, category, p.Label(), resource.StaticURI(p.scheme, category, id))
	// The caller asked for this file by identity; front matter must not
	// rename it.
	r.ID = id
	r.Category = category

	p.tracker.RecordSuccess(time.Since(start))
	p.tracker.AddResources(1, r.EstimatedTokens)
	p.tracker.AddBytes(int64(len(content)))

	if data, err := json.Marshal(r); err == nil {
		_ = p.resCache.Set(ctx, key, data, p.resTTL)
	}
	return r, nil
}

// Search matches on tree-derived metadata only: file names and directory
// categories. Content is not fetched during search.
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
	keywords := search.ExtractKeywords(req.Query)

	var results []resource.SearchResult
	for i := range snap.index.Resources {
		md := &snap.index.Resources[i]
		score, reasons := search.ScoreComponent(keywords, md, &req, search.ComponentSignals{})
		if score <= 0 || score < req.MinScore {
			continue
		}
		results = append(results, resource.SearchResult{
			Resource:     *md,
			Score:        score,
			MatchReasons: reasons,
			Provider:     p.Label(),
			URI:          md.SourceURI,
		})
	}

	sortByScore(results)
	if len(results) > maxResults {
		results = results[:maxResults]
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

// HealthCheck revalidates the tree listing.
func (p *Provider) HealthCheck(ctx context.Context) (*resource.HealthRecord, error) {
	start := time.Now()
	_, err := p.client.Get(ctx, p.treeURL())
	elapsed := time.Since(start)

	rec := &resource.HealthRecord{
		Provider:       p.Label(),
		CheckedAt:      start,
		ResponseTimeMS: elapsed.Milliseconds(),
		Reachable:      err == nil,
		Authenticated:  err == nil || resource.KindOf(err) != resource.KindAuthFailed,
		Metrics: resource.HealthMetrics{
			SuccessRate:         p.tracker.SuccessRate(),
			AvgResponseTimeMS:   p.tracker.AvgResponseTimeMS(),
			ConsecutiveFailures: p.tracker.ConsecutiveFailures(),
			LastSuccess:         p.tracker.LastSuccess(),
		},
	}
	if err != nil {
		rec.Status = resource.HealthUnhealthy
		rec.Error = err.Error()
		return rec, nil
	}
	rec.Status = stats.DeriveHealth(p.tracker.SuccessRate(), p.tracker.ErrorWithin(recentErrorWindow))
	return rec, nil
}

func (p *Provider) Stats() resource.StatsRecord {
	var rl *resource.RateLimitSnapshot
	if limiter := p.client.RateLimit(); limiter != nil {
		minRem, hourRem, minCap, hourCap := limiter.Snapshot()
		rl = &resource.RateLimitSnapshot{
			PerMinuteRemaining: minRem,
			PerHourRemaining:   hourRem,
			PerMinuteCapacity:  minCap,
			PerHourCapacity:    hourCap,
		}
	}
	return p.tracker.Snapshot().Record(p.Label(), rl)
}

func (p *Provider) ResetStats() { p.tracker.Reset() }

func (p *Provider) treeURL() string {
	return fmt.Sprintf("%s/repos/%s/git/trees/%s?recursive=1", p.apiBase, p.repo, p.branch)
}

// snapshot returns the current tree listing, triggering or awaiting a
// coalesced fetch as needed. Concurrent cold callers share one API request.
// fresh reports whether this call awaited the fetch.
func (p *Provider) snapshot(ctx context.Context) (*repoSnapshot, bool, error) {
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

// startLoadLocked begins a coalesced fetch; callers hold p.mu.
func (p *Provider) startLoadLocked(ctx context.Context) {
	ch := make(chan struct{})
	p.loadCh = ch
	go func() {
		snap, err := p.fetchTree(ctx)
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
	snap, err := p.fetchTree(context.Background())
	p.mu.Lock()
	if err == nil {
		p.snap = snap
	} else {
		slog.Warn("tree refresh failed, serving stale snapshot", "provider", p.Label(), "error", err)
	}
	p.refreshing = false
	p.mu.Unlock()
}

func (p *Provider) fetchTree(ctx context.Context) (*repoSnapshot, error) {
	var tree treeResponse
	if err := p.client.GetJSON(ctx, p.treeURL(), &tree); err != nil {
		return nil, err
	}
	return p.assemble(&tree), nil
}

func (p *Provider) assemble(tree *treeResponse) *repoSnapshot {
	snap := &repoSnapshot{
		paths:    make(map[string]string),
		loadedAt: time.Now(),
	}

	layout := p.layout
	if layout == nil {
		layout = knownLayouts[p.repo]
	}
	var metadata []resource.Metadata
	for _, entry := range tree.Tree {
		if entry.Type != "blob" || !strings.HasSuffix(entry.Path, ".md") {
			continue
		}
		category, ok := classify(entry.Path, layout)
		if !ok {
			continue
		}
		stem := strings.TrimSuffix(entry.Path[strings.LastIndexByte(entry.Path, '/')+1:], ".md")
		if strings.EqualFold(stem, "readme") {
			continue
		}

		md := resource.Metadata{
			ID:              stem,
			Category:        category,
			Title:           titleFromStem(stem),
			Tags:            tagsFromPath(entry.Path),
			EstimatedTokens: (entry.Size + 3) / 4,
			Source:          p.Label(),
			SourceURI:       resource.StaticURI(p.scheme, category, stem),
		}
		metadata = append(metadata, md)
		snap.paths[string(category)+":"+stem] = entry.Path
	}

	idxStats, categories := resource.ComputeStats(metadata, 10)
	snap.index = &resource.Index{
		Provider:   p.Label(),
		Total:      len(metadata),
		Resources:  metadata,
		Generated:  snap.loadedAt,
		Categories: categories,
		Stats:      idxStats,
	}
	return snap
}

// classify derives a category from the first path segment: the known
// layout first, then the singular/plural directory heuristic.
func classify(path string, layout map[string]resource.Category) (resource.Category, bool) {
	i := strings.IndexByte(path, '/')
	if i < 0 {
		return "", false
	}
	dir := path[:i]
	if layout != nil {
		if c, ok := layout[dir]; ok {
			return c, true
		}
	}
	return resource.CategoryFromDir(dir)
}

func titleFromStem(stem string) string {
	words := strings.FieldsFunc(stem, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// tagsFromPath turns intermediate directories into tags, so a file at
// skills/typescript/testing.md is findable by "typescript".
func tagsFromPath(path string) []string {
	parts := strings.Split(path, "/")
	if len(parts) <= 2 {
		return nil
	}
	tags := make([]string, 0, len(parts)-2)
	for _, dir := range parts[1 : len(parts)-1] {
		tags = append(tags, strings.ToLower(dir))
	}
	return tags
}

func sortByScore(results []resource.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Resource.EstimatedTokens != results[j].Resource.EstimatedTokens {
			return results[i].Resource.EstimatedTokens < results[j].Resource.EstimatedTokens
		}
		return results[i].Resource.ID < results[j].Resource.ID
	})
}
