// Package catalog implements the resource provider backed by a community
// component catalog over HTTP. Catalog entries carry popularity and
// validation signals that feed the component scorer.
package catalog

import (
	"context"
	"encoding/json"
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
	defaultLabel             = "catalog"
	defaultPriority          = 10
	defaultMaxResults        = 15
	defaultIndexTTL          = 24 * time.Hour
	defaultResourceCacheSize = 500
	defaultResourceCacheTTL  = 7 * 24 * time.Hour
	defaultPerMinute         = 30
	defaultBreakerThreshold  = 5
	defaultBreakerCooldown   = 30 * time.Second
	recentErrorWindow        = 5 * time.Minute

	componentsPath = "/api/components"
)

// componentTypes maps catalog component types onto categories.
var componentTypes = map[string]resource.Category{
	"agent":    resource.CategoryAgent,
	"skill":    resource.CategorySkill,
	"mcp":      resource.CategorySkill,
	"command":  resource.CategoryWorkflow,
	"hook":     resource.CategoryWorkflow,
	"setting":  resource.CategoryPattern,
	"template": resource.CategoryExample,
	"example":  resource.CategoryExample,
}

// Config configures the catalog provider.
type Config struct {
	// BaseURL is the catalog root, e.g. "https://catalog.example.com".
	BaseURL string
	// Token authenticates requests when the catalog requires it.
	Token string
	// Priority orders this provider; defaults to 10, after local.
	Priority int
	// Label overrides the provider name for multi-catalog setups.
	Label string

	IndexTTL          time.Duration
	ResourceCacheSize int
	ResourceCacheTTL  time.Duration

	HTTP httpclient.Config
}

// component is the wire shape of one catalog entry. The catalog emits
// several envelope layouts; the fields of the entries themselves are stable.
type component struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Type            string   `json:"type"`
	Description     string   `json:"description"`
	Tags            []string `json:"tags"`
	Capabilities    []string `json:"capabilities"`
	UseWhen         []string `json:"useWhen"`
	Content         string   `json:"content"`
	EstimatedTokens int      `json:"estimatedTokens"`
	Version         string   `json:"version"`
	Author          string   `json:"author"`
	UpdatedAt       string   `json:"updatedAt"`
	Downloads       int      `json:"downloads"`
	Validation      *struct {
		Valid bool `json:"valid"`
		Score int  `json:"score"`
	} `json:"validation"`
}

type catalogSnapshot struct {
	index    *resource.Index
	signals  map[string]search.ComponentSignals // metadata ID -> signals
	content  map[string]string                  // metadata ID -> embedded content
	loadedAt time.Time
}

// Provider is the community-catalog backend.
type Provider struct {
	label    string
	baseURL  string
	priority int
	token    string
	indexTTL time.Duration
	resTTL   time.Duration
	scheme   string

	enabled  atomic.Bool
	client   *httpclient.Client
	tracker  *stats.Tracker
	resCache *lruttl.Cache
	flight   singleflight.Group

	mu         sync.Mutex
	snap       *catalogSnapshot
	refreshing bool
	loadCh     chan struct{}
	loadErr    error
}

// New creates the provider.
func New(cfg Config) *Provider {
	if cfg.Label == "" {
		cfg.Label = defaultLabel
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
	hc := cfg.HTTP
	hc.Provider = cfg.Label
	if hc.PerMinute == 0 && hc.PerHour == 0 {
		hc.PerMinute = defaultPerMinute
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
		label:    cfg.Label,
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		priority: cfg.Priority,
		token:    cfg.Token,
		indexTTL: cfg.IndexTTL,
		resTTL:   cfg.ResourceCacheTTL,
		scheme:   resource.DefaultScheme,
		client:   httpclient.New(hc),
		tracker:  stats.NewTracker(),
		resCache: lruttl.New(cfg.ResourceCacheSize),
	}
	p.enabled.Store(true)
	return p
}

func (p *Provider) Label() string      { return p.label }
func (p *Provider) Priority() int      { return p.priority }
func (p *Provider) Enabled() bool      { return p.enabled.Load() }
func (p *Provider) SetEnabled(on bool) { p.enabled.Store(on) }

// Initialize validates the base URL shape only; the first index fetch is
// deferred so a slow catalog cannot block startup.
func (p *Provider) Initialize(_ context.Context) error {
	if p.baseURL == "" {
		return resource.NewError(resource.KindUnavailable, p.label, "catalog base URL not configured")
	}
	return nil
}

func (p *Provider) Shutdown(_ context.Context) error {
	p.resCache.Purge()
	return nil
}

// FetchIndex returns the catalog snapshot, refetching past the TTL.
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

// FetchResource returns one component as a full resource. Components that
// embed their content are built locally; the rest cost a detail request.
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

	// Concurrent misses for the same component share one fetch.
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

	md, ok := findComponent(snap.index.Resources, id, category)
	if !ok {
		p.tracker.RecordFailure()
		return nil, resource.NewError(resource.KindNotFound, p.label, "component %s/%s not in catalog", category, id)
	}

	content := snap.content[md.ID]
	if content == "" {
		var detail component
		if err := p.client.GetJSON(ctx, p.baseURL+componentsPath+"/"+id, &detail); err != nil {
			p.tracker.RecordFailure()
			return nil, err
		}
		content = detail.Content
	}

	r := p.buildResource(md, content)
	p.tracker.RecordSuccess(time.Since(start))
	p.tracker.AddResources(1, r.EstimatedTokens)
	p.tracker.AddBytes(int64(len(r.Content)))

	if data, err := json.Marshal(r); err == nil {
		_ = p.resCache.Set(ctx, key, data, p.resTTL)
	}
	return r, nil
}

// Search scores catalog components with popularity and validation signals.
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
		score, reasons := search.ScoreComponent(keywords, md, &req, snap.signals[md.ID])
		if score <= 0 || score < req.MinScore {
			continue
		}
		results = append(results, resource.SearchResult{
			Resource:     *md,
			Score:        score,
			MatchReasons: reasons,
			Provider:     p.label,
			URI:          md.SourceURI,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Resource.EstimatedTokens != results[j].Resource.EstimatedTokens {
			return results[i].Resource.EstimatedTokens < results[j].Resource.EstimatedTokens
		}
		return results[i].Resource.ID < results[j].Resource.ID
	})
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
		Provider:   p.label,
		Facets:     facets,
		TookMS:     time.Since(start).Milliseconds(),
	}, nil
}

// HealthCheck revalidates the component index; ETag makes repeats cheap.
func (p *Provider) HealthCheck(ctx context.Context) (*resource.HealthRecord, error) {
	start := time.Now()
	_, err := p.client.Get(ctx, p.baseURL+componentsPath)
	elapsed := time.Since(start)

	rec := &resource.HealthRecord{
		Provider:       p.label,
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
	return p.tracker.Snapshot().Record(p.label, rl)
}

func (p *Provider) ResetStats() { p.tracker.Reset() }

// snapshot returns the current catalog snapshot, triggering or awaiting a
// coalesced fetch as needed. Concurrent cold callers share one request.
// fresh reports whether this call awaited the fetch.
func (p *Provider) snapshot(ctx context.Context) (*catalogSnapshot, bool, error) {
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
		snap, err := p.fetch(ctx)
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
	snap, err := p.fetch(context.Background())
	p.mu.Lock()
	if err == nil {
		p.snap = snap
	} else {
		slog.Warn("catalog refresh failed, serving stale snapshot", "provider", p.label, "error", err)
	}
	p.refreshing = false
	p.mu.Unlock()
}

func (p *Provider) fetch(ctx context.Context) (*catalogSnapshot, error) {
	data, err := p.client.Get(ctx, p.baseURL+componentsPath)
	if err != nil {
		return nil, err
	}
	components, err := decodeComponents(data)
	if err != nil {
		return nil, resource.WrapError(resource.KindProviderError, p.label, err, "decode catalog index")
	}
	return p.assemble(components), nil
}

// decodeComponents accepts the three envelope layouts the catalog has
// shipped over time: a flat array, {"components": [...]}, and a map of
// per-type arrays.
func decodeComponents(data []byte) ([]component, error) {
	var flat []component
	if err := json.Unmarshal(data, &flat); err == nil {
		return flat, nil
	}

	var wrapped struct {
		Components []component `json:"components"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && len(wrapped.Components) > 0 {
		return wrapped.Components, nil
	}

	var byType map[string][]component
	if err := json.Unmarshal(data, &byType); err != nil {
		return nil, err
	}
	var all []component
	for typ, list := range byType {
		for i := range list {
			if list[i].Type == "" {
				list[i].Type = strings.TrimSuffix(typ, "s")
			}
			all = append(all, list[i])
		}
	}
	return all, nil
}

func (p *Provider) assemble(components []component) *catalogSnapshot {
	snap := &catalogSnapshot{
		signals:  make(map[string]search.ComponentSignals),
		content:  make(map[string]string),
		loadedAt: time.Now(),
	}

	var metadata []resource.Metadata
	for i := range components {
		c := &components[i]
		category, ok := componentTypes[strings.ToLower(c.Type)]
		if !ok {
			continue
		}
		id := c.ID
		if id == "" {
			id = slugify(c.Name)
		}
		if id == "" {
			continue
		}

		md := resource.Metadata{
			ID:              id,
			Category:        category,
			Title:           c.Name,
			Description:     c.Description,
			Tags:            lowerAll(c.Tags),
			Capabilities:    c.Capabilities,
			UseWhen:         c.UseWhen,
			EstimatedTokens: c.EstimatedTokens,
			Version:         c.Version,
			Author:          c.Author,
			Source:          p.label,
			SourceURI:       resource.StaticURI(p.scheme, category, id),
		}
		if md.Title == "" {
			md.Title = id
		}
		if md.EstimatedTokens < 1 && c.Content != "" {
			md.EstimatedTokens = resource.EstimateTokens(c.Content)
		}
		if t, err := time.Parse(time.RFC3339, c.UpdatedAt); err == nil {
			md.UpdatedAt = t
		}

		sig := search.ComponentSignals{Downloads: c.Downloads}
		if c.Validation != nil {
			sig.ValidationKnown = true
			sig.ValidationValid = c.Validation.Valid
			sig.ValidationScore = c.Validation.Score
		}
		snap.signals[id] = sig
		if c.Content != "" {
			snap.content[id] = c.Content
		}
		metadata = append(metadata, md)
	}

	idxStats, categories := resource.ComputeStats(metadata, 10)
	snap.index = &resource.Index{
		Provider:   p.label,
		Total:      len(metadata),
		Resources:  metadata,
		Generated:  snap.loadedAt,
		Categories: categories,
		Stats:      idxStats,
	}
	return snap
}

// buildResource merges index metadata with fetched content. Embedded
// front matter refines the metadata when present.
func (p *Provider) buildResource(md resource.Metadata, content string) *resource.Resource {
	if doc, err := frontmatter.Parse([]byte(content)); err == nil && doc.Body != content {
		r := frontmatter.BuildResource(doc, md.ID, md.Category, p.label, md.SourceURI)
		// The caller asked for this component by identity; embedded front
		// matter must not rename it.
		r.ID = md.ID
		r.Category = md.Category
		if r.Description == "" {
			r.Description = md.Description
		}
		if len(r.Tags) == 0 {
			r.Tags = md.Tags
		}
		return r
	}
	tokens := md.EstimatedTokens
	if tokens < 1 {
		tokens = resource.EstimateTokens(content)
	}
	return &resource.Resource{
		ID:              md.ID,
		Category:        md.Category,
		Title:           md.Title,
		Description:     md.Description,
		Tags:            md.Tags,
		Capabilities:    md.Capabilities,
		UseWhen:         md.UseWhen,
		EstimatedTokens: tokens,
		Version:         md.Version,
		Author:          md.Author,
		UpdatedAt:       md.UpdatedAt,
		Source:          p.label,
		SourceURI:       md.SourceURI,
		Content:         content,
	}
}

func findComponent(resources []resource.Metadata, id string, category resource.Category) (resource.Metadata, bool) {
	for i := range resources {
		if resources[i].ID == id && resources[i].Category == category {
			return resources[i], true
		}
	}
	return resource.Metadata{}, false
}

func slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func lowerAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
