package search

import (
	"strings"

	"github.com/orchestr8/resourcehub/internal/domain/resource"
)

// Component scoring weights for network-backed catalogs. These differ from
// the fragment weights: catalog entries carry names, descriptions and
// popularity signals that filesystem fragments do not.
const (
	componentNameWeight     = 15
	componentDescWeight     = 8
	componentTagWeight      = 10
	componentCapWeight      = 8
	componentUseWhenWeight  = 5
	requiredTagsBonus       = 10
	optionalTagBonus        = 5
	popularityHighBonus     = 10
	popularityMediumBonus   = 5
	popularityHighDownloads = 1000
	popularityMedDownloads  = 100
)

// ComponentSignals carries the backend-specific inputs to component scoring.
type ComponentSignals struct {
	Downloads       int
	ValidationKnown bool
	ValidationValid bool
	ValidationScore int // 0-100 when known
}

// ScoreComponent scores an indexed catalog component against a search
// request, in [0,100], and returns up to three human-readable match
// reasons. A failed category or required-tag filter short-circuits to 0.
func ScoreComponent(keywords []string, md *resource.Metadata, req *resource.SearchRequest, sig ComponentSignals) (int, []string) {
	if len(req.Categories) > 0 && !categoryIn(req.Categories, md.Category) {
		return 0, nil
	}
	if len(req.RequiredTags) > 0 && !hasAllTags(md.Tags, req.RequiredTags) {
		return 0, nil
	}

	score := 0
	var reasons []string

	name := strings.ToLower(md.Title)
	if name == "" {
		name = strings.ToLower(md.ID)
	}
	desc := strings.ToLower(md.Description)
	for _, kw := range keywords {
		if strings.Contains(name, kw) {
			score += componentNameWeight
			reasons = appendReason(reasons, "name matches "+kw)
		}
		if desc != "" && strings.Contains(desc, kw) {
			score += componentDescWeight
			reasons = appendReason(reasons, "description matches "+kw)
		}
		if containsSubstring(md.Tags, kw) {
			score += componentTagWeight
			reasons = appendReason(reasons, "tag matches "+kw)
		}
		if containsSubstring(md.Capabilities, kw) {
			score += componentCapWeight
			reasons = appendReason(reasons, "capability matches "+kw)
		}
		if containsSubstring(md.UseWhen, kw) {
			score += componentUseWhenWeight
		}
	}

	if len(req.Categories) > 0 {
		score += categoryBonus
		reasons = appendReason(reasons, "category: "+string(md.Category))
	}
	if len(req.RequiredTags) > 0 {
		score += requiredTagsBonus
	}
	for _, opt := range req.OptionalTags {
		if containsExactTag(md.Tags, opt) {
			score += optionalTagBonus
		}
	}

	switch {
	case sig.Downloads > popularityHighDownloads:
		score += popularityHighBonus
	case sig.Downloads > popularityMedDownloads:
		score += popularityMediumBonus
	}
	if sig.ValidationKnown && sig.ValidationValid {
		score += sig.ValidationScore / 20
	}

	if md.EstimatedTokens < smallTokenLimit {
		score += smallSizeBonus
	} else if md.EstimatedTokens > largeTokenLimit {
		score -= largeSizePenalty
	}

	if score > maxScore {
		score = maxScore
	}
	if score < 0 {
		score = 0
	}
	return score, reasons
}

func categoryIn(cats []resource.Category, c resource.Category) bool {
	for _, x := range cats {
		if x == c {
			return true
		}
	}
	return false
}

// appendReason keeps at most three match reasons per result.
func appendReason(reasons []string, reason string) []string {
	if len(reasons) >= 3 {
		return reasons
	}
	return append(reasons, reason)
}
