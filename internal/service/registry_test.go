package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orchestr8/resourcehub/internal/domain/resource"
	"github.com/orchestr8/resourcehub/internal/search"
)

type fakeProvider struct {
	label    string
	priority int
	enabled  atomic.Bool

	initErr   error
	searchErr error
	results   []resource.SearchResult
	resources map[string]*resource.Resource
	fetchErr  error
	health    *resource.HealthRecord
	healthErr error
	stats     resource.StatsRecord

	searches  atomic.Int64
	shutdowns atomic.Int64
	resets    atomic.Int64
}

func newFake(label string, priority int) *fakeProvider {
	f := &fakeProvider{label: label, priority: priority, resources: map[string]*resource.Resource{}}
	f.enabled.Store(true)
	return f
}

func (f *fakeProvider) Label() string                    { return f.label }
func (f *fakeProvider) Priority() int                    { return f.priority }
func (f *fakeProvider) Enabled() bool                    { return f.enabled.Load() }
func (f *fakeProvider) SetEnabled(on bool)               { f.enabled.Store(on) }
func (f *fakeProvider) Initialize(context.Context) error { return f.initErr }
func (f *fakeProvider) Shutdown(context.Context) error {
	f.shutdowns.Add(1)
	return nil
}

func (f *fakeProvider) FetchIndex(context.Context) (*resource.Index, error) {
	return &resource.Index{Provider: f.label}, nil
}

func (f *fakeProvider) FetchResource(_ context.Context, id string, category resource.Category) (*resource.Resource, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	res, ok := f.resources[string(category)+":"+id]
	if !ok {
		return nil, resource.NewError(resource.KindNotFound, f.label, "no %s", id)
	}
	return res, nil
}

func (f *fakeProvider) Search(_ context.Context, req resource.SearchRequest) (*resource.SearchResponse, error) {
	f.searches.Add(1)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return &resource.SearchResponse{Results: f.results, TotalCount: len(f.results), Query: req.Query, Provider: f.label}, nil
}

func (f *fakeProvider) HealthCheck(context.Context) (*resource.HealthRecord, error) {
	if f.healthErr != nil {
		return nil, f.healthErr
	}
	if f.health != nil {
		return f.health, nil
	}
	return &resource.HealthRecord{Provider: f.label, Status: resource.HealthHealthy, Reachable: true, CheckedAt: time.Now()}, nil
}

func (f *fakeProvider) Stats() resource.StatsRecord { return f.stats }
func (f *fakeProvider) ResetStats()                 { f.resets.Add(1) }

// fakeMatcher adds the dynamic match capability.
type fakeMatcher struct {
	*fakeProvider
	result   *search.MatchResult
	matchErr error
}

func (f *fakeMatcher) MatchContext(context.Context, resource.MatchParams) (*search.MatchResult, error) {
	if f.matchErr != nil {
		return nil, f.matchErr
	}
	return f.result, nil
}

func scored(id string, score, tokens int) resource.SearchResult {
	return resource.SearchResult{
		Resource: resource.Metadata{ID: id, Category: resource.CategorySkill, EstimatedTokens: tokens},
		Score:    score,
	}
}

func waitEvent(t *testing.T, ch <-chan ProviderEvent, eventType string) ProviderEvent {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", eventType)
			}
			if evt.Type == eventType {
				return evt
			}
		case <-deadline:
			t.Fatalf("no %s event within 1s", eventType)
		}
	}
}

func TestRegisterOrdersByPriority(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, nil)
	ctx := context.Background()

	for _, f := range []*fakeProvider{newFake("github:a/b", 20), newFake("local", 0), newFake("catalog", 10)} {
		if err := r.Register(ctx, f); err != nil {
			t.Fatalf("Register(%s): %v", f.label, err)
		}
	}

	if got, want := r.Labels(), "local,catalog,github:a/b"; got != want {
		t.Fatalf("dispatch order = %s, want %s", got, want)
	}
}

func TestRegisterTieKeepsInsertionOrder(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, nil)
	ctx := context.Background()

	if err := r.Register(ctx, newFake("first", 10)); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(ctx, newFake("second", 10)); err != nil {
		t.Fatal(err)
	}

	if got, want := r.Labels(), "first,second"; got != want {
		t.Fatalf("dispatch order = %s, want %s", got, want)
	}
}

func TestRegisterDuplicateLabel(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, nil)
	ctx := context.Background()

	if err := r.Register(ctx, newFake("local", 0)); err != nil {
		t.Fatal(err)
	}
	err := r.Register(ctx, newFake("local", 5))
	if !resource.IsKind(err, resource.KindAlreadyRegistered) {
		t.Fatalf("duplicate register error = %v, want already-registered", err)
	}
}

func TestRegisterInitializeFailure(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, nil)
	events, cancel := r.Subscribe(4)
	defer cancel()

	f := newFake("broken", 0)
	f.initErr = errors.New("boom")
	if err := r.Register(context.Background(), f); err == nil {
		t.Fatal("Register with failing Initialize should error")
	}
	evt := waitEvent(t, events, EventProviderError)
	if evt.Provider != "broken" {
		t.Fatalf("error event provider = %s", evt.Provider)
	}
}

func TestUnregister(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, nil)
	ctx := context.Background()
	f := newFake("local", 0)
	if err := r.Register(ctx, f); err != nil {
		t.Fatal(err)
	}

	if err := r.Unregister(ctx, "local"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if f.shutdowns.Load() != 1 {
		t.Fatalf("shutdown calls = %d, want 1", f.shutdowns.Load())
	}
	if err := r.Unregister(ctx, "local"); !resource.IsKind(err, resource.KindUnknownProvider) {
		t.Fatalf("second Unregister error = %v, want unknown-provider", err)
	}
}

func TestSearchAllMergesAndSorts(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, nil)
	ctx := context.Background()

	a := newFake("local", 0)
	a.results = []resource.SearchResult{scored("alpha", 40, 500), scored("beta", 20, 300)}
	b := newFake("catalog", 10)
	b.results = []resource.SearchResult{scored("gamma", 40, 200), scored("delta", 60, 900)}
	for _, f := range []*fakeProvider{a, b} {
		if err := r.Register(ctx, f); err != nil {
			t.Fatal(err)
		}
	}

	resp, err := r.SearchAll(ctx, resource.SearchRequest{Query: "anything"})
	if err != nil {
		t.Fatalf("SearchAll: %v", err)
	}
	if resp.TotalCount != 4 {
		t.Fatalf("TotalCount = %d, want 4", resp.TotalCount)
	}
	order := []string{"delta", "gamma", "alpha", "beta"}
	for i, want := range order {
		if got := resp.Results[i].Resource.ID; got != want {
			t.Fatalf("result %d = %s, want %s", i, got, want)
		}
	}
	if len(resp.Providers) != 2 || !resp.Providers[0].OK || !resp.Providers[1].OK {
		t.Fatalf("provider outcomes = %+v", resp.Providers)
	}
}

func TestSearchAllSurvivesFailingProvider(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, nil)
	ctx := context.Background()

	good := newFake("local", 0)
	good.results = []resource.SearchResult{scored("alpha", 30, 500)}
	bad := newFake("catalog", 10)
	bad.searchErr = errors.New("upstream down")
	for _, f := range []*fakeProvider{good, bad} {
		if err := r.Register(ctx, f); err != nil {
			t.Fatal(err)
		}
	}

	resp, err := r.SearchAll(ctx, resource.SearchRequest{Query: "q"})
	if err != nil {
		t.Fatalf("SearchAll: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Resource.ID != "alpha" {
		t.Fatalf("results = %+v", resp.Results)
	}
	var failed *resource.ProviderOutcome
	for i := range resp.Providers {
		if resp.Providers[i].Provider == "catalog" {
			failed = &resp.Providers[i]
		}
	}
	if failed == nil || failed.OK || failed.Error == "" {
		t.Fatalf("catalog outcome = %+v", failed)
	}
}

func TestSearchAllSkipsDisabled(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, nil)
	ctx := context.Background()

	off := newFake("catalog", 10)
	off.results = []resource.SearchResult{scored("hidden", 90, 100)}
	if err := r.Register(ctx, off); err != nil {
		t.Fatal(err)
	}
	if err := r.SetEnabled(ctx, "catalog", false); err != nil {
		t.Fatal(err)
	}

	resp, err := r.SearchAll(ctx, resource.SearchRequest{Query: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 0 || off.searches.Load() != 0 {
		t.Fatalf("disabled provider was searched: %+v", resp.Results)
	}
}

func TestSearchAllGlobalMaxResults(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, nil)
	ctx := context.Background()

	f := newFake("local", 0)
	for i := 0; i < 6; i++ {
		f.results = append(f.results, scored(string(rune('a'+i)), 50-i, 100))
	}
	if err := r.Register(ctx, f); err != nil {
		t.Fatal(err)
	}

	resp, err := r.SearchAll(ctx, resource.SearchRequest{Query: "q", MaxResults: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 2 || resp.TotalCount != 6 {
		t.Fatalf("len = %d total = %d, want 2 and 6", len(resp.Results), resp.TotalCount)
	}
}

func TestResolveStaticPriorityOrder(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, nil)
	ctx := context.Background()

	miss := newFake("local", 0)
	hit := newFake("catalog", 10)
	hit.resources["skill:ts-api"] = &resource.Resource{
		ID:       "ts-api",
		Category: resource.CategorySkill,
		Source:   "catalog",
		Content:  "body",
	}
	for _, f := range []*fakeProvider{miss, hit} {
		if err := r.Register(ctx, f); err != nil {
			t.Fatal(err)
		}
	}

	got, err := r.Resolve(ctx, "o8://skill/ts-api")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Resource == nil || got.Resource.Source != "catalog" {
		t.Fatalf("resolved = %+v", got)
	}
}

func TestResolveStaticNotFoundAnywhere(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, nil)
	ctx := context.Background()
	if err := r.Register(ctx, newFake("local", 0)); err != nil {
		t.Fatal(err)
	}

	_, err := r.Resolve(ctx, "o8://skill/ghost")
	if !resource.IsKind(err, resource.KindNotFound) {
		t.Fatalf("error = %v, want not-found", err)
	}
}

func TestResolveStaticSurfacesProviderError(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, nil)
	ctx := context.Background()
	f := newFake("catalog", 0)
	f.fetchErr = resource.NewError(resource.KindUnavailable, "catalog", "down")
	if err := r.Register(ctx, f); err != nil {
		t.Fatal(err)
	}

	_, err := r.Resolve(ctx, "o8://skill/ts-api")
	if !resource.IsKind(err, resource.KindUnavailable) {
		t.Fatalf("error = %v, want unavailable", err)
	}
}

func TestResolveMatchDispatch(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, nil)
	ctx := context.Background()

	plain := newFake("catalog", 0)
	local := &fakeMatcher{
		fakeProvider: newFake("local", 10),
		result:       &search.MatchResult{Content: "## assembled", TotalTokens: 120},
	}
	if err := r.Register(ctx, plain); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(ctx, local); err != nil {
		t.Fatal(err)
	}

	got, err := r.Resolve(ctx, "o8://match?query=typescript+api")
	if err != nil {
		t.Fatalf("Resolve match: %v", err)
	}
	if got.Match == nil || got.Match.Content != "## assembled" {
		t.Fatalf("resolved = %+v", got)
	}
}

func TestResolveMatchNoCapableProvider(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, nil)
	ctx := context.Background()
	if err := r.Register(ctx, newFake("catalog", 0)); err != nil {
		t.Fatal(err)
	}

	_, err := r.Resolve(ctx, "o8://match?query=anything")
	if !resource.IsKind(err, resource.KindUnavailable) {
		t.Fatalf("error = %v, want unavailable", err)
	}
}

func TestResolveInvalidURI(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, nil)
	if _, err := r.Resolve(context.Background(), "http://skill/ts-api"); err == nil {
		t.Fatal("foreign scheme should not resolve")
	}
}

func TestSetEnabledEventsAndReset(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, nil)
	ctx := context.Background()
	f := newFake("local", 0)
	if err := r.Register(ctx, f); err != nil {
		t.Fatal(err)
	}
	events, cancel := r.Subscribe(8)
	defer cancel()

	if err := r.SetEnabled(ctx, "local", false); err != nil {
		t.Fatal(err)
	}
	evt := waitEvent(t, events, EventProviderDisabled)
	if evt.Reason != ReasonManual {
		t.Fatalf("disable reason = %s", evt.Reason)
	}

	if err := r.SetEnabled(ctx, "local", true); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, events, EventProviderEnabled)
	if f.resets.Load() != 1 {
		t.Fatalf("enable should reset stats, resets = %d", f.resets.Load())
	}

	if err := r.SetEnabled(ctx, "ghost", true); !resource.IsKind(err, resource.KindUnknownProvider) {
		t.Fatalf("unknown provider error = %v", err)
	}
}

func TestSetEnabledUnchangedStateIsNoop(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, nil)
	ctx := context.Background()
	f := newFake("local", 0)
	if err := r.Register(ctx, f); err != nil {
		t.Fatal(err)
	}
	events, cancel := r.Subscribe(8)
	defer cancel()

	// Enabling an already-enabled provider emits nothing and keeps its
	// stats.
	if err := r.SetEnabled(ctx, "local", true); err != nil {
		t.Fatal(err)
	}
	if f.resets.Load() != 0 {
		t.Fatalf("no-op enable reset stats, resets = %d", f.resets.Load())
	}
	select {
	case evt := <-events:
		t.Fatalf("unexpected event %s for no-op enable", evt.Type)
	case <-time.After(100 * time.Millisecond):
	}

	if err := r.SetEnabled(ctx, "local", false); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, events, EventProviderDisabled)

	// Disabling twice emits once.
	if err := r.SetEnabled(ctx, "local", false); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-events:
		t.Fatalf("unexpected event %s for no-op disable", evt.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSearchAllFullTieOrdersByProviderPriority(t *testing.T) {
	ctx := context.Background()
	tied := func(provider string) []resource.SearchResult {
		return []resource.SearchResult{{
			Resource: resource.Metadata{ID: "shared", Category: resource.CategorySkill, EstimatedTokens: 100},
			Score:    40,
			Provider: provider,
		}}
	}

	// Identical score, tokens, and ID: only provider priority is left to
	// order the pair, and it must do so on every run.
	for i := 0; i < 20; i++ {
		r := NewRegistry(RegistryConfig{}, nil)
		remote := newFake("catalog", 10)
		remote.results = tied("catalog")
		local := newFake("local", 0)
		local.results = tied("local")
		if err := r.Register(ctx, remote); err != nil {
			t.Fatal(err)
		}
		if err := r.Register(ctx, local); err != nil {
			t.Fatal(err)
		}

		resp, err := r.SearchAll(ctx, resource.SearchRequest{Query: "shared"})
		if err != nil {
			t.Fatal(err)
		}
		if len(resp.Results) != 2 {
			t.Fatalf("results = %d, want 2", len(resp.Results))
		}
		if resp.Results[0].Provider != "local" || resp.Results[1].Provider != "catalog" {
			t.Fatalf("run %d: tie order = [%s %s], want [local catalog]",
				i, resp.Results[0].Provider, resp.Results[1].Provider)
		}
	}
}

func TestHealthCollectsAllProviders(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, nil)
	ctx := context.Background()

	ok := newFake("local", 0)
	sick := newFake("catalog", 10)
	sick.healthErr = errors.New("probe failed")
	for _, f := range []*fakeProvider{ok, sick} {
		if err := r.Register(ctx, f); err != nil {
			t.Fatal(err)
		}
	}

	records := r.Health(ctx)
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].Status != resource.HealthHealthy {
		t.Fatalf("local status = %s", records[0].Status)
	}
	if records[1].Status != resource.HealthUnknown || records[1].Error == "" {
		t.Fatalf("catalog record = %+v", records[1])
	}
}

func TestSuperviseAutoDisables(t *testing.T) {
	r := NewRegistry(RegistryConfig{MaxConsecutiveFailures: 3}, nil)
	ctx := context.Background()

	f := newFake("catalog", 0)
	f.stats = resource.StatsRecord{Provider: "catalog", ConsecutiveFailures: 3}
	f.health = &resource.HealthRecord{
		Provider:  "catalog",
		Status:    resource.HealthUnhealthy,
		CheckedAt: time.Now(),
		Metrics:   resource.HealthMetrics{ConsecutiveFailures: 3},
	}
	if err := r.Register(ctx, f); err != nil {
		t.Fatal(err)
	}
	events, cancel := r.Subscribe(8)
	defer cancel()

	r.supervise(ctx)

	if f.Enabled() {
		t.Fatal("provider should be auto-disabled")
	}
	evt := waitEvent(t, events, EventProviderDisabled)
	if evt.Reason != ReasonAutoDisable {
		t.Fatalf("reason = %s, want %s", evt.Reason, ReasonAutoDisable)
	}

	// A second sweep must not re-fire the disable.
	r.supervise(ctx)
	select {
	case evt := <-events:
		if evt.Type == EventProviderDisabled {
			t.Fatal("auto-disable fired twice")
		}
	default:
	}

	// Manual enable clears the latch.
	if err := r.SetEnabled(ctx, "catalog", true); err != nil {
		t.Fatal(err)
	}
	if !f.Enabled() {
		t.Fatal("manual enable should stick")
	}
}

func TestSuperviseEmitsHealthTransitions(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, nil)
	ctx := context.Background()
	f := newFake("local", 0)
	if err := r.Register(ctx, f); err != nil {
		t.Fatal(err)
	}
	events, cancel := r.Subscribe(8)
	defer cancel()

	r.supervise(ctx)
	evt := waitEvent(t, events, EventHealthChanged)
	if evt.Status != resource.HealthHealthy {
		t.Fatalf("status = %s, want healthy", evt.Status)
	}

	// Same status again: no second transition event.
	r.supervise(ctx)
	select {
	case evt := <-events:
		if evt.Type == EventHealthChanged {
			t.Fatal("unchanged health emitted a transition")
		}
	default:
	}
}

func TestStopShutsProvidersDown(t *testing.T) {
	r := NewRegistry(RegistryConfig{HealthInterval: time.Hour}, nil)
	ctx := context.Background()
	f := newFake("local", 0)
	if err := r.Register(ctx, f); err != nil {
		t.Fatal(err)
	}

	r.Start(ctx)
	r.Stop(ctx)
	if f.shutdowns.Load() != 1 {
		t.Fatalf("shutdowns = %d, want 1", f.shutdowns.Load())
	}
}
