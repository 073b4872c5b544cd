package gitrepo_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orchestr8/resourcehub/internal/adapter/gitrepo"
	"github.com/orchestr8/resourcehub/internal/domain/resource"
)

type fakeForge struct {
	tree  map[string]any
	files map[string]string
}

func (f *fakeForge) start(t *testing.T) (*httptest.Server, *httptest.Server) {
	t.Helper()
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/git/trees/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(f.tree)
	}))
	raw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /owner/repo/branch/<path>
		parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 4)
		if len(parts) < 4 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		content, ok := f.files[parts[3]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(content))
	}))
	t.Cleanup(api.Close)
	t.Cleanup(raw.Close)
	return api, raw
}

func newForgeProvider(t *testing.T) *gitrepo.Provider {
	t.Helper()
	forge := &fakeForge{
		tree: map[string]any{
			"sha": "abc",
			"tree": []map[string]any{
				{"path": "skills/typescript/testing.md", "type": "blob", "size": 1200},
				{"path": "agents/planner.md", "type": "blob", "size": 3600},
				{"path": "skills/README.md", "type": "blob", "size": 100},
				{"path": "docs/notes.md", "type": "blob", "size": 50},
				{"path": "skills", "type": "tree", "size": 0},
			},
		},
		files: map[string]string{
			"agents/planner.md": `---
id: planner
title: Feature Planner
tags: [planning]
estimatedTokens: 900
---
Planner body.
`,
		},
	}
	api, raw := forge.start(t)
	p := gitrepo.New(gitrepo.Config{
		Repo:    "acme/resources",
		APIBase: api.URL,
		RawBase: raw.URL,
	})
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return p
}

func TestInitializeRejectsBadSlug(t *testing.T) {
	p := gitrepo.New(gitrepo.Config{Repo: "no-slash"})
	if err := p.Initialize(context.Background()); resource.KindOf(err) != resource.KindUnavailable {
		t.Fatalf("kind = %v, want unavailable", resource.KindOf(err))
	}
}

func TestFetchIndexClassifiesTree(t *testing.T) {
	p := newForgeProvider(t)
	idx, err := p.FetchIndex(context.Background())
	if err != nil {
		t.Fatalf("FetchIndex: %v", err)
	}
	// README, docs/ and non-blob entries are excluded.
	if idx.Total != 2 {
		t.Fatalf("Total = %d, want 2", idx.Total)
	}
	byID := map[string]resource.Metadata{}
	for _, md := range idx.Resources {
		byID[md.ID] = md
	}
	tsTesting, ok := byID["testing"]
	if !ok {
		t.Fatal("skills/typescript/testing.md not indexed")
	}
	if tsTesting.Category != resource.CategorySkill {
		t.Errorf("category = %q, want skill", tsTesting.Category)
	}
	// Intermediate directories become tags.
	if len(tsTesting.Tags) != 1 || tsTesting.Tags[0] != "typescript" {
		t.Errorf("tags = %v, want [typescript]", tsTesting.Tags)
	}
	if tsTesting.EstimatedTokens != 300 {
		t.Errorf("EstimatedTokens = %d, want size/4 = 300", tsTesting.EstimatedTokens)
	}
	if byID["planner"].Title != "Planner" {
		t.Errorf("title = %q, want Planner", byID["planner"].Title)
	}
}

func TestFetchResourceRawFetch(t *testing.T) {
	p := newForgeProvider(t)
	ctx := context.Background()

	r, err := p.FetchResource(ctx, "planner", resource.CategoryAgent)
	if err != nil {
		t.Fatalf("FetchResource: %v", err)
	}
	if r.Title != "Feature Planner" {
		t.Errorf("Title = %q", r.Title)
	}
	if r.EstimatedTokens != 900 {
		t.Errorf("EstimatedTokens = %d, want preamble value", r.EstimatedTokens)
	}
	if r.Source != "github:acme/resources" {
		t.Errorf("Source = %q", r.Source)
	}

	// Repeat comes from cache.
	if _, err := p.FetchResource(ctx, "planner", resource.CategoryAgent); err != nil {
		t.Fatal(err)
	}
	if st := p.Stats(); st.CachedRequests != 1 {
		t.Errorf("CachedRequests = %d, want 1", st.CachedRequests)
	}
}

func TestFetchResourceNotInTree(t *testing.T) {
	p := newForgeProvider(t)
	_, err := p.FetchResource(context.Background(), "absent", resource.CategorySkill)
	if resource.KindOf(err) != resource.KindNotFound {
		t.Fatalf("kind = %s, want not-found", resource.KindOf(err))
	}
}

func TestSearchTreeMetadata(t *testing.T) {
	p := newForgeProvider(t)
	resp, err := p.Search(context.Background(), resource.SearchRequest{Query: "typescript testing"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) == 0 {
		t.Fatal("no results")
	}
	if resp.Results[0].Resource.ID != "testing" {
		t.Errorf("top = %q, want testing", resp.Results[0].Resource.ID)
	}
	if resp.Results[0].Provider != "github:acme/resources" {
		t.Errorf("Provider = %q", resp.Results[0].Provider)
	}
}

func TestCustomLayout(t *testing.T) {
	forge := &fakeForge{
		tree: map[string]any{
			"sha": "abc",
			"tree": []map[string]any{
				{"path": "recipes/release.md", "type": "blob", "size": 400},
			},
		},
	}
	api, raw := forge.start(t)
	p := gitrepo.New(gitrepo.Config{
		Repo:    "acme/cookbook",
		APIBase: api.URL,
		RawBase: raw.URL,
		Layout:  map[string]resource.Category{"recipes": resource.CategoryWorkflow},
	})
	idx, err := p.FetchIndex(context.Background())
	if err != nil {
		t.Fatalf("FetchIndex: %v", err)
	}
	if idx.Total != 1 || idx.Resources[0].Category != resource.CategoryWorkflow {
		t.Errorf("index = %+v, want one workflow", idx.Resources)
	}
}

func TestHealthCheck(t *testing.T) {
	p := newForgeProvider(t)
	rec, err := p.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if !rec.Reachable || rec.Status != resource.HealthHealthy {
		t.Errorf("record = %+v, want reachable healthy", rec)
	}
}

func TestConcurrentColdFetchIndexSharesOneRequest(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		<-release
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sha": "abc",
			"tree": []map[string]any{
				{"path": "agents/planner.md", "type": "blob", "size": 3600},
			},
		})
	}))
	defer api.Close()

	p := gitrepo.New(gitrepo.Config{Repo: "acme/resources", APIBase: api.URL, RawBase: api.URL})
	ctx := context.Background()

	const callers = 4
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.FetchIndex(ctx)
		}(i)
	}
	// Let every caller join the in-flight listing before it completes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("tree listings = %d, want 1 for concurrent cold callers", calls.Load())
	}
}

func TestConcurrentFetchResourceSharesRawDownload(t *testing.T) {
	var rawCalls atomic.Int32
	release := make(chan struct{})
	forge := &fakeForge{
		tree: map[string]any{
			"sha": "abc",
			"tree": []map[string]any{
				{"path": "agents/planner.md", "type": "blob", "size": 3600},
			},
		},
	}
	api, _ := forge.start(t)
	raw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		rawCalls.Add(1)
		<-release
		_, _ = w.Write([]byte("---\ntitle: Planner\n---\nPlanner body.\n"))
	}))
	defer raw.Close()

	p := gitrepo.New(gitrepo.Config{Repo: "acme/resources", APIBase: api.URL, RawBase: raw.URL})
	ctx := context.Background()
	if _, err := p.FetchIndex(ctx); err != nil {
		t.Fatal(err)
	}

	const callers = 3
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.FetchResource(ctx, "planner", resource.CategoryAgent)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if rawCalls.Load() != 1 {
		t.Fatalf("raw downloads = %d, want 1 for concurrent fetchers", rawCalls.Load())
	}
}

func TestFetchResourceKeepsRequestedIdentity(t *testing.T) {
	forge := &fakeForge{
		tree: map[string]any{
			"sha": "abc",
			"tree": []map[string]any{
				{"path": "agents/planner.md", "type": "blob", "size": 3600},
			},
		},
		files: map[string]string{
			"agents/planner.md": `---
id: chief-planner
category: skills
title: Feature Planner
---
Planner body.
`,
		},
	}
	api, raw := forge.start(t)
	p := gitrepo.New(gitrepo.Config{Repo: "acme/resources", APIBase: api.URL, RawBase: raw.URL})

	r, err := p.FetchResource(context.Background(), "planner", resource.CategoryAgent)
	if err != nil {
		t.Fatalf("FetchResource: %v", err)
	}
	// Front matter refines title and tags but never renames what the
	// caller asked for.
	if r.ID != "planner" {
		t.Errorf("ID = %q, want planner", r.ID)
	}
	if r.Category != resource.CategoryAgent {
		t.Errorf("Category = %q, want agent", r.Category)
	}
	if r.Title != "Feature Planner" {
		t.Errorf("Title = %q", r.Title)
	}
}
