package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/orchestr8/resourcehub/internal/adapter/lruttl"
	"github.com/orchestr8/resourcehub/internal/domain/resource"
)

func writeResource(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func seedTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeResource(t, root, "skills/ts-api.md", `---
id: ts-api
title: TypeScript API Service
description: Build REST APIs with TypeScript
tags: [typescript, api, rest]
capabilities: [api-design]
useWhen:
  - building typescript api services
  - designing rest endpoints
estimatedTokens: 420
---
Service body.
`)
	writeResource(t, root, "agents/planner.md", `---
id: planner
title: Feature Planner
tags: [planning]
useWhen:
  - planning typescript features
estimatedTokens: 900
---
Planner body.
`)
	writeResource(t, root, "guides/style.md", `---
id: style
title: Style Guide
useWhen:
  - reviewing code style
estimatedTokens: 150
---
Guide body.
`)
	return root
}

func TestBuilderScansTree(t *testing.T) {
	root := seedTree(t)
	b := NewBuilder(root, "", []string{"typescript api"})

	arts, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if got := arts.UseWhen.TotalFragments; got != 3 {
		t.Errorf("TotalFragments = %d, want 3", got)
	}
	if got := len(arts.UseWhen.Index); got != 4 {
		t.Errorf("scenarios = %d, want 4", got)
	}

	hash := ScenarioHash("building typescript api services", "skill/ts-api")
	entry, ok := arts.UseWhen.Index[hash]
	if !ok {
		t.Fatalf("scenario entry for hash %s missing", hash)
	}
	if entry.URI != "o8://skill/ts-api" {
		t.Errorf("URI = %q, want o8://skill/ts-api", entry.URI)
	}
	if entry.Category != resource.CategorySkill {
		t.Errorf("Category = %q, want skill", entry.Category)
	}
	if entry.EstimatedTokens != 420 {
		t.Errorf("EstimatedTokens = %d, want 420", entry.EstimatedTokens)
	}
	if entry.Relevance <= 0 {
		t.Errorf("Relevance = %d, want > 0", entry.Relevance)
	}

	// guides/ maps to the pattern category.
	styleHash := ScenarioHash("reviewing code style", "pattern/style")
	if got := arts.UseWhen.Index[styleHash].Category; got != resource.CategoryPattern {
		t.Errorf("guides category = %q, want pattern", got)
	}

	hashes := arts.Keyword.Keywords["typescript"]
	if len(hashes) != 2 {
		t.Errorf("keyword typescript maps to %d scenarios, want 2", len(hashes))
	}

	quick, ok := arts.Quick.CommonQueries["typescript-api"]
	if !ok {
		t.Fatal("common query typescript-api not seeded")
	}
	found := false
	for _, uri := range quick.URIs {
		if uri == "o8://skill/ts-api" {
			found = true
		}
	}
	if !found {
		t.Errorf("quick URIs %v missing o8://skill/ts-api", quick.URIs)
	}
}

func TestArtifactsRoundTrip(t *testing.T) {
	root := seedTree(t)
	b := NewBuilder(root, "", nil)

	written, err := b.BuildAndWrite(context.Background())
	if err != nil {
		t.Fatalf("BuildAndWrite: %v", err)
	}

	loaded, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.UseWhen.Version != Version {
		t.Errorf("Version = %q, want %q", loaded.UseWhen.Version, Version)
	}
	if len(loaded.UseWhen.Index) != len(written.UseWhen.Index) {
		t.Errorf("scenarios = %d, want %d", len(loaded.UseWhen.Index), len(written.UseWhen.Index))
	}
	if len(loaded.Keyword.Keywords) != len(written.Keyword.Keywords) {
		t.Errorf("keywords = %d, want %d", len(loaded.Keyword.Keywords), len(written.Keyword.Keywords))
	}
	for hash, want := range written.UseWhen.Index {
		got, ok := loaded.UseWhen.Index[hash]
		if !ok {
			t.Errorf("hash %s lost in round trip", hash)
			continue
		}
		if got.URI != want.URI || got.Scenario != want.Scenario {
			t.Errorf("entry %s = %+v, want %+v", hash, got, want)
		}
	}
}

func TestLoadMissingIndex(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("Load on empty root succeeded, want error")
	}
}

func TestScenarioHash(t *testing.T) {
	h := ScenarioHash("building apis", "skill/ts-api")
	if len(h) != 16 {
		t.Errorf("hash length = %d, want 16", len(h))
	}
	if h != ScenarioHash("building apis", "skill/ts-api") {
		t.Error("hash is not deterministic")
	}
	if h == ScenarioHash("building apis", "skill/other") {
		t.Error("hash ignores fragment ID")
	}
}

func TestNormalizeQuery(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Typescript API", "typescript-api"},
		{"  a  b_c-d  ", "a-b-c-d"},
		{"already-normal", "already-normal"},
		{"!!!", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeQuery(tt.in); got != tt.want {
			t.Errorf("NormalizeQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func testArtifacts() *Artifacts {
	entryA := ScenarioEntry{
		Scenario:        "building typescript api services",
		Keywords:        []string{"building", "typescript", "api", "services"},
		URI:             "o8://skill/ts-api",
		Category:        resource.CategorySkill,
		EstimatedTokens: 420,
	}
	entryB := ScenarioEntry{
		Scenario:        "typescript testing setup",
		Keywords:        []string{"typescript", "testing", "setup"},
		URI:             "o8://skill/ts-test",
		Category:        resource.CategorySkill,
		EstimatedTokens: 300,
	}
	hashA := ScenarioHash(entryA.Scenario, "skill/ts-api")
	hashB := ScenarioHash(entryB.Scenario, "skill/ts-test")
	return &Artifacts{
		UseWhen: &UseWhenIndex{
			Version: Version,
			Index:   map[string]ScenarioEntry{hashA: entryA, hashB: entryB},
		},
		Keyword: &KeywordIndex{
			Version: Version,
			Keywords: map[string][]string{
				"building":   {hashA},
				"typescript": {hashA, hashB},
				"api":        {hashA},
				"services":   {hashA},
				"testing":    {hashB},
				"setup":      {hashB},
			},
		},
		Quick: &QuickLookup{Version: Version, CommonQueries: map[string]QuickEntry{}},
	}
}

func TestKeywordSearchScoring(t *testing.T) {
	arts := testArtifacts()

	// "typescript api": both exact for A (40), typescript only for B (20).
	entries := keywordSearch(arts, []string{"typescript", "api"}, nil)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].URI != "o8://skill/ts-api" || entries[0].score != 40 {
		t.Errorf("first = %s score %d, want ts-api score 40", entries[0].URI, entries[0].score)
	}
	if entries[1].URI != "o8://skill/ts-test" || entries[1].score != 20 {
		t.Errorf("second = %s score %d, want ts-test score 20", entries[1].URI, entries[1].score)
	}

	// Partial match: "script" is contained in the indexed "typescript".
	entries = keywordSearch(arts, []string{"script"}, nil)
	if len(entries) != 2 {
		t.Fatalf("partial: got %d entries, want 2", len(entries))
	}
	for _, e := range entries {
		if e.score != partialKeywordScore {
			t.Errorf("partial score for %s = %d, want %d", e.URI, e.score, partialKeywordScore)
		}
	}

	// Category filter drops non-matching entries.
	entries = keywordSearch(arts, []string{"typescript"}, []resource.Category{resource.CategoryAgent})
	if len(entries) != 0 {
		t.Errorf("agent filter: got %d entries, want 0", len(entries))
	}

	if got := keywordSearch(arts, nil, nil); got != nil {
		t.Errorf("empty keywords: got %v, want nil", got)
	}
}

func TestLookupTierCascade(t *testing.T) {
	arts := testArtifacts()
	quick := lruttl.New(16)
	fallbackCalls := 0
	fallback := func(_ context.Context, _ string, _ Options) (string, int, error) {
		fallbackCalls++
		return "- [skill] fuzzy hit", 1, nil
	}
	l := NewLookup(arts, quick, fallback, nil)
	ctx := context.Background()

	// First call answers from the keyword index and warms the quick cache.
	res, err := l.Do(ctx, "typescript api", Options{MaxResults: 5})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res.Tier != TierIndex {
		t.Errorf("tier = %s, want %s", res.Tier, TierIndex)
	}
	if res.Results != 2 {
		t.Errorf("results = %d, want 2", res.Results)
	}
	if !strings.Contains(res.Text, "o8://skill/ts-api") {
		t.Errorf("text missing ts-api URI: %q", res.Text)
	}
	if !strings.HasPrefix(res.Text, "- [skill] building typescript api services") {
		t.Errorf("highest-scored entry not first: %q", res.Text)
	}
	if res.Tokens <= 0 {
		t.Errorf("tokens = %d, want > 0", res.Tokens)
	}

	// Second call hits the quick cache.
	res, err = l.Do(ctx, "Typescript API", Options{})
	if err != nil {
		t.Fatalf("Do (cached): %v", err)
	}
	if res.Tier != TierQuick {
		t.Errorf("tier = %s, want %s", res.Tier, TierQuick)
	}
	if res.Results != 2 {
		t.Errorf("cached results = %d, want 2", res.Results)
	}

	// A query matching fewer than two scenarios escalates to fuzzy.
	res, err = l.Do(ctx, "kubernetes operators", Options{})
	if err != nil {
		t.Fatalf("Do (fuzzy): %v", err)
	}
	if res.Tier != TierFuzzy {
		t.Errorf("tier = %s, want %s", res.Tier, TierFuzzy)
	}
	if fallbackCalls != 1 {
		t.Errorf("fallback calls = %d, want 1", fallbackCalls)
	}
}

func TestLookupMinScoreEscalates(t *testing.T) {
	arts := testArtifacts()
	fallbackCalls := 0
	fallback := func(_ context.Context, _ string, _ Options) (string, int, error) {
		fallbackCalls++
		return "", 0, nil
	}
	l := NewLookup(arts, lruttl.New(16), fallback, nil)

	// Only ts-api scores 40; a floor above 20 leaves one match.
	res, err := l.Do(context.Background(), "typescript api", Options{MinScore: 30})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res.Tier != TierFuzzy || fallbackCalls != 1 {
		t.Errorf("tier = %s fallback calls = %d, want fuzzy / 1", res.Tier, fallbackCalls)
	}
}

func TestLookupNilArtifacts(t *testing.T) {
	fallback := func(_ context.Context, _ string, _ Options) (string, int, error) {
		return "- [agent] planner", 1, nil
	}
	l := NewLookup(nil, lruttl.New(16), fallback, nil)

	res, err := l.Do(context.Background(), "anything", Options{})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res.Tier != TierFuzzy {
		t.Errorf("tier = %s, want %s", res.Tier, TierFuzzy)
	}
}

func TestLookupFallbackError(t *testing.T) {
	want := errors.New("provider down")
	fallback := func(_ context.Context, _ string, _ Options) (string, int, error) {
		return "", 0, want
	}
	l := NewLookup(nil, lruttl.New(16), fallback, nil)

	if _, err := l.Do(context.Background(), "anything", Options{}); !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

type captureRecorder struct {
	tier    string
	results int
	calls   int
}

func (r *captureRecorder) RecordLookup(_ context.Context, tier string, _ time.Duration, results, _ int) {
	r.tier = tier
	r.results = results
	r.calls++
}

func TestLookupRecordsMetrics(t *testing.T) {
	arts := testArtifacts()
	rec := &captureRecorder{}
	fallback := func(_ context.Context, _ string, _ Options) (string, int, error) {
		return "", 0, nil
	}
	l := NewLookup(arts, lruttl.New(16), fallback, rec)

	if _, err := l.Do(context.Background(), "typescript api", Options{}); err != nil {
		t.Fatal(err)
	}
	if rec.calls != 1 || rec.tier != TierIndex || rec.results != 2 {
		t.Errorf("recorder = %+v, want 1 call, tier index, 2 results", rec)
	}
}

func TestSeedQuick(t *testing.T) {
	arts := testArtifacts()
	arts.Quick.CommonQueries["typescript-api"] = QuickEntry{
		URIs:   []string{"o8://skill/ts-api"},
		Tokens: 420,
	}
	quick := lruttl.New(16)
	l := NewLookup(arts, quick, func(_ context.Context, _ string, _ Options) (string, int, error) {
		return "", 0, nil
	}, nil)

	l.SeedQuick(context.Background())

	res, err := l.Do(context.Background(), "typescript api", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Tier != TierQuick {
		t.Errorf("tier = %s, want %s after seeding", res.Tier, TierQuick)
	}
	if !strings.Contains(res.Text, "o8://skill/ts-api") {
		t.Errorf("seeded text = %q, want ts-api URI", res.Text)
	}
}

func TestFormatCompactBudget(t *testing.T) {
	long := strings.Repeat("very long scenario description ", 8)
	var entries []scoredEntry
	for i := 0; i < 20; i++ {
		entries = append(entries, scoredEntry{ScenarioEntry: ScenarioEntry{
			Scenario:        long,
			URI:             "o8://skill/x",
			Category:        resource.CategorySkill,
			EstimatedTokens: 100,
		}})
	}
	out := formatCompact(entries)
	if got := resource.EstimateTokens(out); got > compactLimit {
		t.Errorf("compact output is %d tokens, want <= %d", got, compactLimit)
	}
	if out == "" {
		t.Error("compact output is empty, want at least one line")
	}
}
