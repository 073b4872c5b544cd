// Package search implements the relevance machinery shared by providers:
// keyword extraction, Levenshtein similarity, fragment scoring with a fuzzy
// fallback, token-budget packing, and the match output modes.
package search

import "strings"

// stopWords is the closed class of English words dropped during keyword
// extraction. The list is fixed: scoring must be deterministic across
// providers and across the offline index builder.
var stopWords = map[string]struct{}{
	// articles
	"a": {}, "an": {}, "the": {},
	// conjunctions
	"and": {}, "or": {}, "but": {}, "nor": {}, "so": {}, "yet": {},
	// prepositions
	"for": {}, "of": {}, "in": {}, "on": {}, "at": {}, "to": {}, "from": {},
	"by": {}, "with": {}, "about": {}, "into": {}, "over": {}, "under": {},
	// auxiliaries
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {},
	"am": {}, "do": {}, "does": {}, "did": {}, "have": {}, "has": {},
	"had": {}, "will": {}, "would": {}, "can": {}, "could": {}, "should": {},
	// pronouns and demonstratives
	"i": {}, "you": {}, "he": {}, "she": {}, "it": {}, "we": {}, "they": {},
	"this": {}, "that": {}, "these": {}, "those": {},
}

// ExtractKeywords normalizes free text into a deduplicated, lowercased
// keyword list: non-alphanumeric-non-hyphen runs become separators, tokens
// shorter than two characters and stop words are dropped. Order of first
// occurrence is preserved.
func ExtractKeywords(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}

	seen := make(map[string]struct{})
	var keywords []string
	for _, tok := range strings.Fields(b.String()) {
		if len(tok) < 2 {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		keywords = append(keywords, tok)
	}
	return keywords
}
