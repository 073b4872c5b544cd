package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/orchestr8/resourcehub/internal/adapter/otel"
	"github.com/orchestr8/resourcehub/internal/domain/resource"
	"github.com/orchestr8/resourcehub/internal/port/broadcast"
	"github.com/orchestr8/resourcehub/internal/port/provider"
	"github.com/orchestr8/resourcehub/internal/search"
)

// Provider lifecycle event types.
const (
	EventProviderRegistered   = "provider-registered"
	EventProviderUnregistered = "provider-unregistered"
	EventProviderEnabled      = "provider-enabled"
	EventProviderDisabled     = "provider-disabled"
	EventProviderError        = "provider-error"
	EventHealthChanged        = "provider-health-changed"

	// ReasonAutoDisable marks disables triggered by the health loop.
	ReasonAutoDisable = "auto-disable"
	ReasonManual      = "manual"
)

const (
	defaultMaxResults             = 15
	defaultHealthInterval         = 5 * time.Minute
	defaultMaxConsecutiveFailures = 5
)

// ProviderEvent is one registry lifecycle notification.
type ProviderEvent struct {
	ID       string                `json:"id"`
	Type     string                `json:"type"`
	Provider string                `json:"provider"`
	Reason   string                `json:"reason,omitempty"`
	Status   resource.HealthStatus `json:"status,omitempty"`
	Time     time.Time             `json:"time"`
}

// ContextMatcher is the optional provider capability behind dynamic match
// URIs. The local backend implements it.
type ContextMatcher interface {
	MatchContext(ctx context.Context, params resource.MatchParams) (*search.MatchResult, error)
}

// Resolved is the answer to a URI resolution: exactly one field is set.
type Resolved struct {
	Resource *resource.Resource
	Match    *search.MatchResult
}

// RegistryConfig tunes the provider registry.
type RegistryConfig struct {
	// Scheme is the URI scheme resources are addressed under.
	Scheme string
	// HealthInterval is the background health-check cadence.
	HealthInterval time.Duration
	// MaxConsecutiveFailures auto-disables a provider once reached.
	MaxConsecutiveFailures int
	// SearchTimeout bounds each provider's share of a fan-out search.
	// Zero leaves the caller's context in charge.
	SearchTimeout time.Duration
}

type providerState struct {
	p            provider.Provider
	order        int // insertion order, for stable priority ties
	lastStatus   resource.HealthStatus
	autoDisabled bool
}

// Registry owns the provider set: ordering, fan-out search, URI routing,
// health supervision and lifecycle events.
type Registry struct {
	cfg RegistryConfig
	hub broadcast.Broadcaster // optional

	mu        sync.RWMutex
	providers []*providerState
	nextOrder int

	subMu   sync.Mutex
	subs    map[int]chan ProviderEvent
	nextSub int

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRegistry creates an empty registry. hub may be nil.
func NewRegistry(cfg RegistryConfig, hub broadcast.Broadcaster) *Registry {
	if cfg.Scheme == "" {
		cfg.Scheme = resource.DefaultScheme
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = defaultHealthInterval
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = defaultMaxConsecutiveFailures
	}
	return &Registry{
		cfg:  cfg,
		hub:  hub,
		subs: make(map[int]chan ProviderEvent),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Register adds a provider; duplicate labels are rejected. Providers run
// in priority order (lower first), ties in registration order.
func (r *Registry) Register(ctx context.Context, p provider.Provider) error {
	r.mu.Lock()
	for _, st := range r.providers {
		if st.p.Label() == p.Label() {
			r.mu.Unlock()
			return resource.NewError(resource.KindAlreadyRegistered, p.Label(), "provider already registered")
		}
	}
	st := &providerState{p: p, order: r.nextOrder, lastStatus: resource.HealthUnknown}
	r.nextOrder++
	r.providers = append(r.providers, st)
	r.sortLocked()
	r.mu.Unlock()

	if err := p.Initialize(ctx); err != nil {
		r.emit(ctx, ProviderEvent{Type: EventProviderError, Provider: p.Label(), Reason: err.Error()})
		return err
	}
	slog.Info("provider registered", "provider", p.Label(), "priority", p.Priority())
	r.emit(ctx, ProviderEvent{Type: EventProviderRegistered, Provider: p.Label()})
	return nil
}

// Unregister removes a provider and shuts it down.
func (r *Registry) Unregister(ctx context.Context, label string) error {
	r.mu.Lock()
	idx := -1
	for i, st := range r.providers {
		if st.p.Label() == label {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return resource.NewError(resource.KindUnknownProvider, label, "provider not registered")
	}
	st := r.providers[idx]
	r.providers = append(r.providers[:idx], r.providers[idx+1:]...)
	r.mu.Unlock()

	if err := st.p.Shutdown(ctx); err != nil {
		slog.Warn("provider shutdown failed", "provider", label, "error", err)
	}
	r.emit(ctx, ProviderEvent{Type: EventProviderUnregistered, Provider: label})
	return nil
}

// Get returns a provider by label.
func (r *Registry) Get(label string) (provider.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, st := range r.providers {
		if st.p.Label() == label {
			return st.p, nil
		}
	}
	return nil, resource.NewError(resource.KindUnknownProvider, label, "provider not registered")
}

// List returns all providers in dispatch order.
func (r *Registry) List() []provider.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]provider.Provider, len(r.providers))
	for i, st := range r.providers {
		out[i] = st.p
	}
	return out
}

// SetEnabled flips a provider by hand. Enabling clears the auto-disable
// latch so the health loop starts fresh.
func (r *Registry) SetEnabled(ctx context.Context, label string, on bool) error {
	r.mu.Lock()
	var st *providerState
	for _, s := range r.providers {
		if s.p.Label() == label {
			st = s
			break
		}
	}
	if st == nil {
		r.mu.Unlock()
		return resource.NewError(resource.KindUnknownProvider, label, "provider not registered")
	}
	if st.p.Enabled() == on {
		// Already in the requested state: no event, no stats reset.
		r.mu.Unlock()
		return nil
	}
	st.p.SetEnabled(on)
	if on {
		st.autoDisabled = false
		st.p.ResetStats()
	}
	r.mu.Unlock()

	evt := EventProviderDisabled
	if on {
		evt = EventProviderEnabled
	}
	r.emit(ctx, ProviderEvent{Type: evt, Provider: label, Reason: ReasonManual})
	return nil
}

// SearchAll fans a query out to every enabled provider and merges the
// answers. One failing provider never fails the federation; its outcome
// records the error.
func (r *Registry) SearchAll(ctx context.Context, req resource.SearchRequest) (*resource.FederatedSearchResponse, error) {
	start := time.Now()
	providers := r.enabled()

	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	type answer struct {
		idx  int
		resp *resource.SearchResponse
		err  error
	}
	answers := make(chan answer, len(providers))
	for i, p := range providers {
		go func(i int, p provider.Provider) {
			pctx := ctx
			if r.cfg.SearchTimeout > 0 {
				var cancel context.CancelFunc
				pctx, cancel = context.WithTimeout(ctx, r.cfg.SearchTimeout)
				defer cancel()
			}
			pctx, span := otel.StartProviderSpan(pctx, p.Label(), "search")
			defer span.End()
			resp, err := p.Search(pctx, req)
			answers <- answer{idx: i, resp: resp, err: err}
		}(i, p)
	}

	outcomes := make([]resource.ProviderOutcome, len(providers))
	perProvider := make([][]resource.SearchResult, len(providers))
	for range providers {
		a := <-answers
		label := providers[a.idx].Label()
		if a.err != nil {
			outcomes[a.idx] = resource.ProviderOutcome{Provider: label, OK: false, Error: a.err.Error()}
			r.emit(ctx, ProviderEvent{Type: EventProviderError, Provider: label, Reason: a.err.Error()})
			continue
		}
		outcomes[a.idx] = resource.ProviderOutcome{Provider: label, OK: true, Results: len(a.resp.Results)}
		perProvider[a.idx] = a.resp.Results
	}

	// Concatenate in provider priority order so the stable sort breaks
	// full ties deterministically, not by goroutine arrival.
	var merged []resource.SearchResult
	for _, results := range perProvider {
		merged = append(merged, results...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		if merged[i].Resource.EstimatedTokens != merged[j].Resource.EstimatedTokens {
			return merged[i].Resource.EstimatedTokens < merged[j].Resource.EstimatedTokens
		}
		return merged[i].Resource.ID < merged[j].Resource.ID
	})
	total := len(merged)
	if len(merged) > maxResults {
		merged = merged[:maxResults]
	}

	return &resource.FederatedSearchResponse{
		Results:    merged,
		TotalCount: total,
		Query:      req.Query,
		Providers:  outcomes,
		TookMS:     time.Since(start).Milliseconds(),
	}, nil
}

// Resolve routes a URI. Static URIs try providers in priority order until
// one answers; dynamic match URIs go to the best provider that can
// assemble context.
func (r *Registry) Resolve(ctx context.Context, raw string) (*Resolved, error) {
	uri, err := resource.ParseURI(raw, r.cfg.Scheme)
	if err != nil {
		return nil, err
	}

	if uri.IsMatch() {
		return r.resolveMatch(ctx, uri.Match)
	}

	var lastErr error
	for _, p := range r.enabled() {
		res, err := p.FetchResource(ctx, uri.ResourceID, uri.Category)
		if err == nil {
			return &Resolved{Resource: res}, nil
		}
		if resource.IsKind(err, resource.KindNotFound) {
			continue
		}
		lastErr = err
		r.emit(ctx, ProviderEvent{Type: EventProviderError, Provider: p.Label(), Reason: err.Error()})
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, resource.NewError(resource.KindNotFound, "", "resource %s/%s not found in any provider", uri.Category, uri.ResourceID)
}

// resolveMatch dispatches to the highest-priority enabled provider with
// match capability.
func (r *Registry) resolveMatch(ctx context.Context, params *resource.MatchParams) (*Resolved, error) {
	var lastErr error
	for _, p := range r.enabled() {
		m, ok := p.(ContextMatcher)
		if !ok {
			continue
		}
		result, err := m.MatchContext(ctx, *params)
		if err == nil {
			return &Resolved{Match: result}, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, resource.NewError(resource.KindUnavailable, "", "no provider can assemble match context")
}

// Health checks every provider in parallel.
func (r *Registry) Health(ctx context.Context) []resource.HealthRecord {
	providers := r.List()
	records := make([]resource.HealthRecord, len(providers))
	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p provider.Provider) {
			defer wg.Done()
			rec, err := p.HealthCheck(ctx)
			if err != nil {
				records[i] = resource.HealthRecord{
					Provider:  p.Label(),
					Status:    resource.HealthUnknown,
					CheckedAt: time.Now(),
					Error:     err.Error(),
				}
				return
			}
			records[i] = *rec
		}(i, p)
	}
	wg.Wait()
	return records
}

// Stats collects counters from every provider.
func (r *Registry) Stats() []resource.StatsRecord {
	providers := r.List()
	out := make([]resource.StatsRecord, len(providers))
	for i, p := range providers {
		out[i] = p.Stats()
	}
	return out
}

// Index returns one provider's catalog snapshot.
func (r *Registry) Index(ctx context.Context, label string) (*resource.Index, error) {
	p, err := r.Get(label)
	if err != nil {
		return nil, err
	}
	return p.FetchIndex(ctx)
}

// Start runs the health supervision loop until Stop.
func (r *Registry) Start(ctx context.Context) {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.cfg.HealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.supervise(ctx)
			}
		}
	}()
}

// Stop halts supervision and shuts every provider down.
func (r *Registry) Stop(ctx context.Context) {
	r.stopOnce.Do(func() { close(r.stop) })
	select {
	case <-r.done:
	case <-time.After(time.Second):
	}
	for _, p := range r.List() {
		if err := p.Shutdown(ctx); err != nil {
			slog.Warn("provider shutdown failed", "provider", p.Label(), "error", err)
		}
	}
}

// supervise runs one health sweep: check in parallel, emit transitions,
// auto-disable persistent failers.
func (r *Registry) supervise(ctx context.Context) {
	records := r.Health(ctx)

	r.mu.Lock()
	states := make(map[string]*providerState, len(r.providers))
	for _, st := range r.providers {
		states[st.p.Label()] = st
	}
	r.mu.Unlock()

	for i := range records {
		rec := &records[i]
		st, ok := states[rec.Provider]
		if !ok {
			continue
		}

		if rec.Status != st.lastStatus {
			slog.Info("provider health changed",
				"provider", rec.Provider, "from", st.lastStatus, "to", rec.Status)
			r.emit(ctx, ProviderEvent{
				Type:     EventHealthChanged,
				Provider: rec.Provider,
				Status:   rec.Status,
			})
			r.mu.Lock()
			st.lastStatus = rec.Status
			r.mu.Unlock()
		}

		streak := st.p.Stats().ConsecutiveFailures
		if rec.Metrics.ConsecutiveFailures > streak {
			streak = rec.Metrics.ConsecutiveFailures
		}
		if st.p.Enabled() && !st.autoDisabled && streak >= r.cfg.MaxConsecutiveFailures {
			st.p.SetEnabled(false)
			r.mu.Lock()
			st.autoDisabled = true
			r.mu.Unlock()
			slog.Warn("provider auto-disabled",
				"provider", rec.Provider, "consecutive_failures", streak)
			r.emit(ctx, ProviderEvent{
				Type:     EventProviderDisabled,
				Provider: rec.Provider,
				Reason:   ReasonAutoDisable,
			})
		}
	}
}

// Subscribe returns a bounded event channel and its cancel func. Slow
// subscribers lose events rather than block the registry.
func (r *Registry) Subscribe(buffer int) (<-chan ProviderEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan ProviderEvent, buffer)

	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.subMu.Unlock()

	cancel := func() {
		r.subMu.Lock()
		if _, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(ch)
		}
		r.subMu.Unlock()
	}
	return ch, cancel
}

func (r *Registry) emit(ctx context.Context, evt ProviderEvent) {
	evt.ID = uuid.NewString()
	evt.Time = time.Now().UTC()

	r.subMu.Lock()
	for id, ch := range r.subs {
		select {
		case ch <- evt:
		default:
			slog.Debug("event dropped for slow subscriber", "subscriber", id, "event", evt.Type)
		}
	}
	r.subMu.Unlock()

	if r.hub != nil {
		r.hub.BroadcastEvent(ctx, evt.Type, evt)
	}
}

// enabled snapshots the enabled providers in dispatch order.
func (r *Registry) enabled() []provider.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]provider.Provider, 0, len(r.providers))
	for _, st := range r.providers {
		if st.p.Enabled() {
			out = append(out, st.p)
		}
	}
	return out
}

func (r *Registry) sortLocked() {
	sort.SliceStable(r.providers, func(i, j int) bool {
		if r.providers[i].p.Priority() != r.providers[j].p.Priority() {
			return r.providers[i].p.Priority() < r.providers[j].p.Priority()
		}
		return r.providers[i].order < r.providers[j].order
	})
}

// Labels returns the ordered provider labels, a cheap summary for logs.
func (r *Registry) Labels() string {
	ps := r.List()
	labels := make([]string, len(ps))
	for i, p := range ps {
		labels[i] = p.Label()
	}
	return strings.Join(labels, ",")
}
