package resource

import "time"

// SortBy names a search result ordering attribute.
// Unknown attributes fall back to relevance.
type SortBy string

const (
	SortByRelevance  SortBy = "relevance"
	SortByTokens     SortBy = "tokens"
	SortByDate       SortBy = "date"
	SortByPopularity SortBy = "popularity"
)

// SortOrder is ascending or descending.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// SearchRequest is the common query shape accepted by every provider.
type SearchRequest struct {
	Query        string     `json:"query"`
	Categories   []Category `json:"categories,omitempty"`
	MaxResults   int        `json:"maxResults,omitempty"`
	MinScore     int        `json:"minScore,omitempty"`
	MaxTokens    int        `json:"maxTokens,omitempty"`
	RequiredTags []string   `json:"requiredTags,omitempty"`
	OptionalTags []string   `json:"optionalTags,omitempty"`
	SortBy       SortBy     `json:"sortBy,omitempty"`
	SortOrder    SortOrder  `json:"sortOrder,omitempty"`
	Offset       int        `json:"offset,omitempty"`
	Limit        int        `json:"limit,omitempty"`
}

// SearchResult is one scored match.
type SearchResult struct {
	Resource     Metadata `json:"resource"`
	Score        int      `json:"score"`
	MatchReasons []string `json:"matchReasons,omitempty"`
	Provider     string   `json:"provider"`
	URI          string   `json:"uri,omitempty"`
}

// Facets aggregates category and tag counts over a result set.
type Facets struct {
	Categories map[Category]int `json:"categories,omitempty"`
	Tags       map[string]int   `json:"tags,omitempty"`
}

// SearchResponse is a provider's answer to a SearchRequest.
type SearchResponse struct {
	Results    []SearchResult `json:"results"`
	TotalCount int            `json:"totalCount"`
	Query      string         `json:"query"`
	Provider   string         `json:"provider,omitempty"`
	Facets     *Facets        `json:"facets,omitempty"`
	TookMS     int64          `json:"tookMs"`
}

// ProviderOutcome records how one provider fared during a fan-out search.
type ProviderOutcome struct {
	Provider string `json:"provider"`
	OK       bool   `json:"ok"`
	Results  int    `json:"results"`
	Error    string `json:"error,omitempty"`
}

// FederatedSearchResponse is the merged output of a multi-provider search.
type FederatedSearchResponse struct {
	Results    []SearchResult    `json:"results"`
	TotalCount int               `json:"totalCount"`
	Query      string            `json:"query"`
	Providers  []ProviderOutcome `json:"providers"`
	TookMS     int64             `json:"tookMs"`
}

// HealthStatus is a provider's coarse health classification.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// HealthMetrics is the rolling quality summary inside a HealthRecord.
type HealthMetrics struct {
	SuccessRate         float64   `json:"successRate"`
	AvgResponseTimeMS   float64   `json:"avgResponseTimeMs"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastSuccess         time.Time `json:"lastSuccess,omitzero"`
}

// HealthRecord is the result of a provider health check.
type HealthRecord struct {
	Provider       string        `json:"provider"`
	Status         HealthStatus  `json:"status"`
	CheckedAt      time.Time     `json:"checkedAt"`
	ResponseTimeMS int64         `json:"responseTimeMs"`
	Reachable      bool          `json:"reachable"`
	Authenticated  bool          `json:"authenticated"`
	Error          string        `json:"error,omitempty"`
	Metrics        HealthMetrics `json:"metrics"`
}

// RateLimitSnapshot reports the remaining capacity of a provider's buckets.
type RateLimitSnapshot struct {
	PerMinuteRemaining float64 `json:"perMinuteRemaining"`
	PerHourRemaining   float64 `json:"perHourRemaining"`
	PerMinuteCapacity  int     `json:"perMinuteCapacity"`
	PerHourCapacity    int     `json:"perHourCapacity"`
}

// StatsRecord holds a provider's operational counters since the last reset.
// TotalRequests always equals Successful + Failed + Cached.
type StatsRecord struct {
	Provider            string             `json:"provider"`
	TotalRequests       int64              `json:"totalRequests"`
	SuccessfulRequests  int64              `json:"successfulRequests"`
	FailedRequests      int64              `json:"failedRequests"`
	CachedRequests      int64              `json:"cachedRequests"`
	ResourcesFetched    int64              `json:"resourcesFetched"`
	TokensFetched       int64              `json:"tokensFetched"`
	BytesDownloaded     int64              `json:"bytesDownloaded"`
	AvgResponseTimeMS   float64            `json:"avgResponseTimeMs"`
	CacheHitRate        float64            `json:"cacheHitRate"`
	UptimeRatio         float64            `json:"uptimeRatio"`
	ConsecutiveFailures int                `json:"consecutiveFailures"`
	RateLimit           *RateLimitSnapshot `json:"rateLimit,omitempty"`
	ResetAt             time.Time          `json:"resetAt"`
}
