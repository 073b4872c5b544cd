package search

import (
	"sort"

	"github.com/orchestr8/resourcehub/internal/domain/resource"
)

// SortResults orders a result slice by the requested attribute. Relevance
// and popularity keep the score ordering the provider produced; unknown
// attributes fall back to it.
func SortResults(results []resource.SearchResult, by resource.SortBy, order resource.SortOrder) {
	var less func(i, j int) bool
	switch by {
	case resource.SortByTokens:
		less = func(i, j int) bool {
			return results[i].Resource.EstimatedTokens < results[j].Resource.EstimatedTokens
		}
	case resource.SortByDate:
		less = func(i, j int) bool {
			return results[i].Resource.UpdatedAt.Before(results[j].Resource.UpdatedAt)
		}
	default:
		if order == resource.SortAsc {
			reverseResults(results)
		}
		return
	}
	sort.SliceStable(results, less)
	if order != resource.SortAsc {
		reverseResults(results)
	}
}

func reverseResults(results []resource.SearchResult) {
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
}

// BuildFacets aggregates category and tag counts; nil for an empty set.
func BuildFacets(results []resource.SearchResult) *resource.Facets {
	if len(results) == 0 {
		return nil
	}
	f := &resource.Facets{
		Categories: make(map[resource.Category]int),
		Tags:       make(map[string]int),
	}
	for i := range results {
		f.Categories[results[i].Resource.Category]++
		for _, tag := range results[i].Resource.Tags {
			f.Tags[tag]++
		}
	}
	return f
}

// Paginate applies offset/limit to a sorted result slice.
func Paginate(results []resource.SearchResult, offset, limit int) []resource.SearchResult {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(results) {
		return nil
	}
	results = results[offset:]
	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}
	return results
}
