package stats

import (
	"github.com/orchestr8/resourcehub/internal/domain/resource"
)

// Record converts a snapshot into the wire-level stats shape. rateLimit may
// be nil for providers without outbound limits.
func (s Snapshot) Record(provider string, rateLimit *resource.RateLimitSnapshot) resource.StatsRecord {
	return resource.StatsRecord{
		Provider:            provider,
		TotalRequests:       s.Total,
		SuccessfulRequests:  s.Successful,
		FailedRequests:      s.Failed,
		CachedRequests:      s.Cached,
		ResourcesFetched:    s.ResourcesFetched,
		TokensFetched:       s.TokensFetched,
		BytesDownloaded:     s.BytesDownloaded,
		AvgResponseTimeMS:   s.AvgResponseTimeMS,
		CacheHitRate:        s.CacheHitRate,
		UptimeRatio:         s.UptimeRatio,
		ConsecutiveFailures: s.ConsecutiveFailures,
		RateLimit:           rateLimit,
		ResetAt:             s.ResetAt,
	}
}

// DeriveHealth classifies a provider from its rolling success rate and
// whether it failed recently. A rate of at least 0.9 with no recent error
// is healthy; at least 0.5 is degraded; below that, unhealthy.
func DeriveHealth(successRate float64, recentError bool) resource.HealthStatus {
	switch {
	case successRate >= 0.9 && !recentError:
		return resource.HealthHealthy
	case successRate >= 0.5:
		return resource.HealthDegraded
	default:
		return resource.HealthUnhealthy
	}
}
