package search

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/orchestr8/resourcehub/internal/domain/resource"
)

// Scoring weights per attribute tier.
const (
	tagWeight        = 15
	capabilityWeight = 12
	useWhenWeight    = 8
	phraseBonus      = 20
	categoryBonus    = 15
	smallSizeBonus   = 5
	largeSizePenalty = 5
	maxScore         = 100

	// fuzzyThreshold is the minimum Levenshtein similarity for a keyword
	// to count as a fuzzy match against an attribute word.
	fuzzyThreshold = 0.75

	smallTokenLimit = 1000
	largeTokenLimit = 5000

	// forceInclude is how many top fragments bypass the strict budget.
	forceInclude = 3
)

// MatchRequest is the input to the fuzzy matcher.
type MatchRequest struct {
	Query        string
	Categories   []resource.Category
	MaxTokens    int
	RequiredTags []string
	Mode         resource.MatchMode
	MaxResults   int
	MinScore     int
}

// MatchResult is the matcher's output: the selected fragments, their total
// token weight, per-fragment scores, and the assembled content for the
// requested mode.
type MatchResult struct {
	Fragments   []resource.Fragment
	TotalTokens int
	Scores      map[string]int
	Content     string
}

// Matcher scores fragments against free-text queries and assembles output
// within a token budget.
type Matcher struct {
	scheme string
}

// NewMatcher creates a Matcher that renders URIs with the given scheme.
func NewMatcher(scheme string) *Matcher {
	if scheme == "" {
		scheme = resource.DefaultScheme
	}
	return &Matcher{scheme: scheme}
}

// Match runs the full pipeline: extract keywords, score every fragment,
// filter, sort, pack into the token budget, and format by mode.
func (m *Matcher) Match(fragments []resource.Fragment, req MatchRequest) *MatchResult {
	result := &MatchResult{Scores: make(map[string]int)}

	keywords := ExtractKeywords(req.Query)
	if len(keywords) == 0 {
		return result
	}
	if req.MaxResults == 0 {
		return result
	}
	maxResults := req.MaxResults
	if maxResults < 0 {
		maxResults = resource.DefaultMatchMaxResults
	}

	type scored struct {
		frag  resource.Fragment
		score int
	}
	var candidates []scored
	for i := range fragments {
		frag := &fragments[i]
		if !hasAllTags(frag.Tags, req.RequiredTags) {
			continue
		}
		s := ScoreFragment(keywords, req.Query, frag, req.Categories)
		if s < req.MinScore {
			continue
		}
		candidates = append(candidates, scored{frag: *frag, score: s})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].frag.EstimatedTokens != candidates[j].frag.EstimatedTokens {
			return candidates[i].frag.EstimatedTokens < candidates[j].frag.EstimatedTokens
		}
		return candidates[i].frag.ID < candidates[j].frag.ID
	})

	if len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}

	// Greedy budget packing with a forced top slice: the best three
	// fragments go in past the strict budget, up to 150% of it, as long
	// as none of them alone exceeds the budget.
	for idx, c := range candidates {
		t := c.frag.EstimatedTokens
		switch {
		case req.MaxTokens <= 0:
			continue
		case idx < forceInclude && t <= req.MaxTokens &&
			result.TotalTokens+t <= req.MaxTokens*3/2:
		case result.TotalTokens+t <= req.MaxTokens:
		default:
			continue
		}
		result.Fragments = append(result.Fragments, c.frag)
		result.TotalTokens += t
		result.Scores[c.frag.ID] = c.score
	}

	result.Content = m.formatOutput(result, keywords, req.Mode)
	return result
}

// ScoreFragment computes the relevance score of a fragment for the given
// keywords, in [0,100]. categories is the optional request filter; a
// fragment whose category appears in it earns the category bonus.
func ScoreFragment(keywords []string, query string, frag *resource.Fragment, categories []resource.Category) int {
	score := 0

	for _, kw := range keywords {
		matched := false
		if containsExactTag(frag.Tags, kw) {
			score += tagWeight
			matched = true
		}
		if containsSubstring(frag.Capabilities, kw) {
			score += capabilityWeight
			matched = true
		}
		if containsSubstring(frag.UseWhen, kw) {
			score += useWhenWeight
			matched = true
		}
		if !matched {
			score += fuzzyBonus(kw, frag)
		}
	}

	haystack := strings.ToLower(strings.Join(frag.Tags, " ") + " " +
		strings.Join(frag.Capabilities, " ") + " " +
		strings.Join(frag.UseWhen, " "))
	if q := strings.ToLower(strings.TrimSpace(query)); q != "" && strings.Contains(haystack, q) {
		score += phraseBonus
	}

	for _, c := range categories {
		if c == frag.Category {
			score += categoryBonus
			break
		}
	}

	if frag.EstimatedTokens < smallTokenLimit {
		score += smallSizeBonus
	} else if frag.EstimatedTokens > largeTokenLimit {
		score -= largeSizePenalty
	}

	if score > maxScore {
		score = maxScore
	}
	if score < 0 {
		score = 0
	}
	return score
}

// fuzzyBonus returns the best single-tier fuzzy bonus for a keyword that
// had no exact match anywhere.
func fuzzyBonus(kw string, frag *resource.Fragment) int {
	best := 0
	if sim := maxWordSimilarity(kw, frag.Tags); sim >= fuzzyThreshold {
		best = roundBonus(tagWeight, sim)
	}
	if sim := maxWordSimilarity(kw, frag.Capabilities); sim >= fuzzyThreshold {
		if b := roundBonus(capabilityWeight, sim); b > best {
			best = b
		}
	}
	if sim := maxWordSimilarity(kw, frag.UseWhen); sim >= fuzzyThreshold {
		if b := roundBonus(useWhenWeight, sim); b > best {
			best = b
		}
	}
	return best
}

func roundBonus(weight int, sim float64) int {
	return int(math.Round(float64(weight) * sim))
}

func maxWordSimilarity(kw string, entries []string) float64 {
	best := 0.0
	for _, entry := range entries {
		for _, word := range strings.Fields(strings.ToLower(entry)) {
			if sim := Similarity(kw, word); sim > best {
				best = sim
			}
		}
	}
	return best
}

func containsExactTag(tags []string, kw string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, kw) {
			return true
		}
	}
	return false
}

func containsSubstring(entries []string, kw string) bool {
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e), kw) {
			return true
		}
	}
	return false
}

func hasAllTags(tags, required []string) bool {
	for _, want := range required {
		if !containsExactTag(tags, want) {
			return false
		}
	}
	return true
}

// MatchReasons explains why a fragment matched: named tags, up to two
// overlapping capabilities, and an explicit category hit.
func MatchReasons(keywords []string, frag *resource.Fragment, categories []resource.Category) []string {
	var reasons []string

	var tagHits []string
	for _, kw := range keywords {
		if containsExactTag(frag.Tags, kw) {
			tagHits = append(tagHits, kw)
		}
	}
	if len(tagHits) > 0 {
		reasons = append(reasons, "tags: "+strings.Join(tagHits, ", "))
	}

	capHits := 0
	for _, capability := range frag.Capabilities {
		lower := strings.ToLower(capability)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				reasons = append(reasons, "capability: "+capability)
				capHits++
				break
			}
		}
		if capHits == 2 {
			break
		}
	}

	for _, c := range categories {
		if c == frag.Category {
			reasons = append(reasons, "category: "+string(frag.Category))
			break
		}
	}
	return reasons
}

// FragmentURI renders the canonical static URI for a fragment. Fragment IDs
// are category-qualified (<category>/<stem>); the URI carries the bare stem.
func FragmentURI(scheme string, frag *resource.Fragment) string {
	id := frag.ID
	if i := strings.IndexByte(id, '/'); i >= 0 {
		id = id[i+1:]
	}
	return resource.StaticURI(scheme, frag.Category, id)
}

func (m *Matcher) formatOutput(result *MatchResult, keywords []string, mode resource.MatchMode) string {
	switch mode {
	case resource.ModeFull:
		return m.formatFull(result)
	case resource.ModeIndex:
		return m.formatCatalog(sortByUseWhen(result.Fragments, keywords))
	case resource.ModeMinimal:
		return m.formatMinimal(result)
	default:
		return m.formatCatalog(result.Fragments)
	}
}

// categoryRank orders content assembly: agent, skill, pattern, example,
// workflow.
func categoryRank(c resource.Category) int {
	for i, cat := range resource.Categories {
		if cat == c {
			return i
		}
	}
	return len(resource.Categories)
}

func (m *Matcher) formatFull(result *MatchResult) string {
	frags := make([]resource.Fragment, len(result.Fragments))
	copy(frags, result.Fragments)
	sort.SliceStable(frags, func(i, j int) bool {
		return categoryRank(frags[i].Category) < categoryRank(frags[j].Category)
	})

	var b strings.Builder
	for i := range frags {
		fmt.Fprintf(&b, "## [%s] %s (~%d tokens)\n\n", frags[i].Category, frags[i].ID, frags[i].EstimatedTokens)
		b.WriteString(strings.TrimSpace(frags[i].Content))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *Matcher) formatCatalog(frags []resource.Fragment) string {
	var b strings.Builder
	for i := range frags {
		frag := &frags[i]
		title := frag.Title
		if title == "" {
			title = frag.ID
		}
		fmt.Fprintf(&b, "- %s", title)
		if len(frag.Tags) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(frag.Tags, ", "))
		}
		if len(frag.Capabilities) > 0 {
			fmt.Fprintf(&b, " — %s", strings.Join(frag.Capabilities, "; "))
		}
		fmt.Fprintf(&b, " — ~%d tokens — %s\n", frag.EstimatedTokens, FragmentURI(m.scheme, frag))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *Matcher) formatMinimal(result *MatchResult) string {
	var b strings.Builder
	for i := range result.Fragments {
		frag := &result.Fragments[i]
		tags := frag.Tags
		if len(tags) > 3 {
			tags = tags[:3]
		}
		fmt.Fprintf(&b, "%s score=%d tokens=%d tags=%s\n",
			FragmentURI(m.scheme, frag), result.Scores[frag.ID], frag.EstimatedTokens, strings.Join(tags, ","))
	}
	return strings.TrimRight(b.String(), "\n")
}

// sortByUseWhen reorders fragments by how many query keywords appear in
// their use-when scenarios, for the index output mode.
func sortByUseWhen(frags []resource.Fragment, keywords []string) []resource.Fragment {
	out := make([]resource.Fragment, len(frags))
	copy(out, frags)
	relevance := func(frag *resource.Fragment) int {
		n := 0
		for _, kw := range keywords {
			if containsSubstring(frag.UseWhen, kw) {
				n++
			}
		}
		return n
	}
	sort.SliceStable(out, func(i, j int) bool {
		return relevance(&out[i]) > relevance(&out[j])
	})
	return out
}
