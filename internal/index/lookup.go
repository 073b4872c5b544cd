package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/orchestr8/resourcehub/internal/domain/resource"
	"github.com/orchestr8/resourcehub/internal/port/cache"
	"github.com/orchestr8/resourcehub/internal/search"
)

// Lookup tiers, recorded as a metric attribute on every call.
const (
	TierQuick    = "quick"
	TierIndex    = "index"
	TierFuzzy    = "fuzzy-fallback"
	quickTTL     = 15 * time.Minute
	minTierTwo   = 2   // fewer tier-2 matches than this escalates to fuzzy
	compactLimit = 120 // token budget for the compact tier-2 output
)

// Scoring for tier-2 keyword matches.
const (
	exactKeywordScore   = 20
	partialKeywordScore = 10
)

// Options narrow a lookup.
type Options struct {
	MaxResults int
	MinScore   int
	Categories []resource.Category
}

// Result is the outcome of a lookup, including which tier answered.
type Result struct {
	Text    string
	Tier    string
	Results int
	Tokens  int
	Latency time.Duration
}

// Fallback produces catalog-mode fuzzy output when the index tiers cannot
// answer. The local provider's matcher backs it.
type Fallback func(ctx context.Context, query string, opts Options) (text string, results int, err error)

// Recorder receives per-lookup metrics; the otel adapter implements it.
type Recorder interface {
	RecordLookup(ctx context.Context, tier string, latency time.Duration, results, tokens int)
}

// Lookup is the three-tier query engine: quick cache, keyword index, fuzzy
// fallback. A missing or malformed index degrades transparently to fuzzy.
type Lookup struct {
	arts     *Artifacts
	quick    cache.Cache
	fallback Fallback
	recorder Recorder
}

// NewLookup creates the engine. arts may be nil (index unavailable), quick
// must be a TTL-capable cache, fallback must not be nil; recorder may be.
func NewLookup(arts *Artifacts, quick cache.Cache, fallback Fallback, recorder Recorder) *Lookup {
	return &Lookup{arts: arts, quick: quick, fallback: fallback, recorder: recorder}
}

// NormalizeQuery canonicalizes a query for the quick-lookup key: lowercase,
// whitespace runs become single hyphens, non-word characters are dropped.
func NormalizeQuery(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	lastHyphen := true // no leading hyphen
	for _, r := range strings.ToLower(strings.TrimSpace(query)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case r == ' ' || r == '\t' || r == '\n' || r == '-' || r == '_':
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// Do answers a query through the tier cascade.
func (l *Lookup) Do(ctx context.Context, query string, opts Options) (*Result, error) {
	start := time.Now()
	if opts.MaxResults <= 0 {
		opts.MaxResults = 5
	}

	// Tier 1: quick cache.
	key := NormalizeQuery(query)
	if key != "" {
		if data, found, err := l.quick.Get(ctx, key); err == nil && found {
			text := string(data)
			return l.finish(ctx, start, &Result{Text: text, Tier: TierQuick, Results: countLines(text)}), nil
		}
	}

	// Tier 2: keyword-index search.
	if l.arts != nil && l.arts.UseWhen != nil && l.arts.Keyword != nil {
		entries := keywordSearch(l.arts, search.ExtractKeywords(query), opts.Categories)
		filtered := entries[:0]
		for _, e := range entries {
			if e.score >= opts.MinScore {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) >= minTierTwo {
			if len(filtered) > opts.MaxResults {
				filtered = filtered[:opts.MaxResults]
			}
			text := formatCompact(filtered)
			if key != "" {
				if err := l.quick.Set(ctx, key, []byte(text), quickTTL); err != nil {
					slog.Debug("quick cache store failed", "error", err)
				}
			}
			return l.finish(ctx, start, &Result{Text: text, Tier: TierIndex, Results: len(filtered)}), nil
		}
	}

	// Tier 3: fuzzy fallback.
	text, results, err := l.fallback(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	return l.finish(ctx, start, &Result{Text: text, Tier: TierFuzzy, Results: results}), nil
}

func (l *Lookup) finish(ctx context.Context, start time.Time, r *Result) *Result {
	r.Latency = time.Since(start)
	r.Tokens = resource.EstimateTokens(r.Text)
	if l.recorder != nil {
		l.recorder.RecordLookup(ctx, r.Tier, r.Latency, r.Results, r.Tokens)
	}
	return r
}

// SeedQuick preloads the quick cache from the artifact's common queries.
func (l *Lookup) SeedQuick(ctx context.Context) {
	if l.arts == nil || l.arts.Quick == nil {
		return
	}
	for key, entry := range l.arts.Quick.CommonQueries {
		var b strings.Builder
		for _, uri := range entry.URIs {
			fmt.Fprintf(&b, "- %s\n", uri)
		}
		fmt.Fprintf(&b, "total: ~%d tokens", entry.Tokens)
		if err := l.quick.Set(ctx, key, []byte(b.String()), quickTTL); err != nil {
			slog.Debug("quick cache seed failed", "key", key, "error", err)
		}
	}
}

type scoredEntry struct {
	ScenarioEntry
	hash  string
	score int
}

// keywordSearch resolves query keywords through the keyword map to
// scenario entries and scores them: +20 per exact keyword hit, +10 per
// partial (either string contains the other), one partial per keyword.
func keywordSearch(arts *Artifacts, keywords []string, categories []resource.Category) []scoredEntry {
	if len(keywords) == 0 {
		return nil
	}

	hashes := make(map[string]struct{})
	for _, kw := range keywords {
		for _, h := range arts.Keyword.Keywords[kw] {
			hashes[h] = struct{}{}
		}
		// Partial keyword hits widen the candidate set.
		for indexed, hs := range arts.Keyword.Keywords {
			if indexed == kw {
				continue
			}
			if strings.Contains(indexed, kw) || strings.Contains(kw, indexed) {
				for _, h := range hs {
					hashes[h] = struct{}{}
				}
			}
		}
	}

	var entries []scoredEntry
	for hash := range hashes {
		entry, ok := arts.UseWhen.Index[hash]
		if !ok {
			continue
		}
		if len(categories) > 0 && !categoryMatches(categories, entry.Category) {
			continue
		}
		score := scoreEntry(keywords, entry.Keywords)
		if score == 0 {
			continue
		}
		entries = append(entries, scoredEntry{ScenarioEntry: entry, hash: hash, score: score})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].hash < entries[j].hash
	})
	return entries
}

func scoreEntry(queryKeywords, entryKeywords []string) int {
	score := 0
	for _, qk := range queryKeywords {
		exact := false
		partial := false
		for _, ek := range entryKeywords {
			if qk == ek {
				exact = true
				break
			}
			if !partial && (strings.Contains(ek, qk) || strings.Contains(qk, ek)) {
				partial = true
			}
		}
		if exact {
			score += exactKeywordScore
		} else if partial {
			score += partialKeywordScore
		}
	}
	return score
}

func countLines(text string) int {
	n := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "- ") {
			n++
		}
	}
	return n
}

func categoryMatches(cats []resource.Category, c resource.Category) bool {
	for _, x := range cats {
		if x == c {
			return true
		}
	}
	return false
}

// formatCompact renders tier-2 results as a short pointer list, trimming
// from the bottom to stay within the compact token budget.
func formatCompact(entries []scoredEntry) string {
	var b strings.Builder
	for _, e := range entries {
		line := fmt.Sprintf("- [%s] %s (~%d tok) %s\n", e.Category, e.Scenario, e.EstimatedTokens, e.URI)
		if resource.EstimateTokens(b.String()+line) > compactLimit {
			break
		}
		b.WriteString(line)
	}
	return strings.TrimRight(b.String(), "\n")
}
