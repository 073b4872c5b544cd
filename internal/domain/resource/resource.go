// Package resource provides the domain model for federated resources:
// the artifacts aggregated from backends (prompts, agents, skills, examples,
// patterns, workflows), their catalog indexes, search shapes, health and
// stats records, the shared error taxonomy, and the resource URI grammar.
package resource

import (
	"sort"
	"time"
)

// Category classifies a resource. The five abstract categories are fixed;
// backend-specific types are mapped onto them at ingestion.
type Category string

const (
	CategoryAgent    Category = "agent"
	CategorySkill    Category = "skill"
	CategoryExample  Category = "example"
	CategoryPattern  Category = "pattern"
	CategoryWorkflow Category = "workflow"
)

// Categories lists all valid categories in content-assembly priority order.
var Categories = []Category{
	CategoryAgent,
	CategorySkill,
	CategoryPattern,
	CategoryExample,
	CategoryWorkflow,
}

// Valid reports whether c is one of the five known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryAgent, CategorySkill, CategoryExample, CategoryPattern, CategoryWorkflow:
		return true
	}
	return false
}

// Plural returns the category's directory name in a resource tree.
func (c Category) Plural() string {
	return string(c) + "s"
}

// CategoryFromDir maps a resource-tree directory name to its category.
// "guides" is an alias for pattern. Returns false for unknown directories.
func CategoryFromDir(dir string) (Category, bool) {
	switch dir {
	case "agents", "agent":
		return CategoryAgent, true
	case "skills", "skill":
		return CategorySkill, true
	case "examples", "example":
		return CategoryExample, true
	case "patterns", "pattern", "guides", "guide":
		return CategoryPattern, true
	case "workflows", "workflow":
		return CategoryWorkflow, true
	}
	return "", false
}

// Resource is the atomic artifact aggregated from a backend.
// ID plus Category form the primary key within a provider.
type Resource struct {
	ID              string    `json:"id"`
	Category        Category  `json:"category"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	Tags            []string  `json:"tags,omitempty"`
	Capabilities    []string  `json:"capabilities,omitempty"`
	UseWhen         []string  `json:"useWhen,omitempty"`
	EstimatedTokens int       `json:"estimatedTokens"`
	Version         string    `json:"version,omitempty"`
	Author          string    `json:"author,omitempty"`
	CreatedAt       time.Time `json:"createdAt,omitzero"`
	UpdatedAt       time.Time `json:"updatedAt,omitzero"`
	Dependencies    []string  `json:"dependencies,omitempty"`
	Related         []string  `json:"related,omitempty"`
	Source          string    `json:"source"`
	SourceURI       string    `json:"sourceURI,omitempty"`
	Content         string    `json:"content"`
}

// Metadata is the content-free projection of a Resource carried in indexes.
type Metadata struct {
	ID              string    `json:"id"`
	Category        Category  `json:"category"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	Tags            []string  `json:"tags,omitempty"`
	Capabilities    []string  `json:"capabilities,omitempty"`
	UseWhen         []string  `json:"useWhen,omitempty"`
	EstimatedTokens int       `json:"estimatedTokens"`
	Version         string    `json:"version,omitempty"`
	Author          string    `json:"author,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt,omitzero"`
	Source          string    `json:"source"`
	SourceURI       string    `json:"sourceURI,omitempty"`
}

// Metadata returns the content-free projection of r.
func (r *Resource) Metadata() Metadata {
	return Metadata{
		ID:              r.ID,
		Category:        r.Category,
		Title:           r.Title,
		Description:     r.Description,
		Tags:            r.Tags,
		Capabilities:    r.Capabilities,
		UseWhen:         r.UseWhen,
		EstimatedTokens: r.EstimatedTokens,
		Version:         r.Version,
		Author:          r.Author,
		UpdatedAt:       r.UpdatedAt,
		Source:          r.Source,
		SourceURI:       r.SourceURI,
	}
}

// Fragment is the lightweight content-bearing projection used for scoring.
type Fragment struct {
	ID              string   `json:"id"`
	Category        Category `json:"category"`
	Title           string   `json:"title,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Capabilities    []string `json:"capabilities,omitempty"`
	UseWhen         []string `json:"useWhen,omitempty"`
	EstimatedTokens int      `json:"estimatedTokens"`
	Content         string   `json:"content,omitempty"`
}

// TagCount pairs a tag with its occurrence count.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// IndexStats summarizes an index: per-category counts, total token weight,
// and the most frequent tags.
type IndexStats struct {
	ByCategory  map[Category]int `json:"byCategory"`
	TotalTokens int              `json:"totalTokens"`
	TopTags     []TagCount       `json:"topTags,omitempty"`
}

// Index is a snapshot of a provider's catalog: metadata only, no content.
type Index struct {
	Provider   string     `json:"provider"`
	Total      int        `json:"total"`
	Resources  []Metadata `json:"resources"`
	Version    string     `json:"version,omitempty"`
	Generated  time.Time  `json:"generated"`
	Categories []Category `json:"categories"`
	Stats      IndexStats `json:"stats"`
}

// ComputeStats derives IndexStats and the category set from a metadata list.
// topN bounds the tag leaderboard; 0 means no tags.
func ComputeStats(resources []Metadata, topN int) (IndexStats, []Category) {
	stats := IndexStats{ByCategory: make(map[Category]int)}
	tagCounts := make(map[string]int)
	for i := range resources {
		stats.ByCategory[resources[i].Category]++
		stats.TotalTokens += resources[i].EstimatedTokens
		for _, tag := range resources[i].Tags {
			tagCounts[tag]++
		}
	}

	if topN > 0 && len(tagCounts) > 0 {
		top := make([]TagCount, 0, len(tagCounts))
		for tag, n := range tagCounts {
			top = append(top, TagCount{Tag: tag, Count: n})
		}
		sort.Slice(top, func(i, j int) bool {
			if top[i].Count != top[j].Count {
				return top[i].Count > top[j].Count
			}
			return top[i].Tag < top[j].Tag
		})
		if len(top) > topN {
			top = top[:topN]
		}
		stats.TopTags = top
	}

	cats := make([]Category, 0, len(stats.ByCategory))
	for _, c := range Categories {
		if stats.ByCategory[c] > 0 {
			cats = append(cats, c)
		}
	}
	return stats, cats
}

// EstimateTokens approximates the token count of text as ceil(len/4),
// with a floor of one token.
func EstimateTokens(text string) int {
	n := (len(text) + 3) / 4
	if n < 1 {
		n = 1
	}
	return n
}
