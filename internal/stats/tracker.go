// Package stats tracks per-provider operational counters: request totals,
// a rolling response-time buffer, consecutive failures, and derived rates.
package stats

import (
	"sync"
	"time"
)

// ringSize bounds the rolling response-time buffer.
const ringSize = 100

// Tracker accumulates counters for one provider. Safe for concurrent use.
// Cached requests count toward the total, so
// total == successful + failed + cached always holds.
type Tracker struct {
	mu sync.Mutex

	total      int64
	successful int64
	failed     int64
	cached     int64

	resourcesFetched int64
	tokensFetched    int64
	bytesDownloaded  int64

	responseTimes [ringSize]float64 // milliseconds
	rtCount       int
	rtNext        int

	consecutiveFailures int
	lastSuccess         time.Time
	lastError           time.Time
	resetAt             time.Time

	now func() time.Time // for testing
}

// NewTracker creates a Tracker with the reset timestamp set to now.
func NewTracker() *Tracker {
	t := &Tracker{now: time.Now}
	t.resetAt = t.now()
	return t
}

// RecordSuccess counts a backend request that succeeded and its duration.
func (t *Tracker) RecordSuccess(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total++
	t.successful++
	t.consecutiveFailures = 0
	t.lastSuccess = t.now()
	t.pushResponseTime(float64(d.Milliseconds()))
}

// RecordFailure counts a backend request that failed.
func (t *Tracker) RecordFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total++
	t.failed++
	t.consecutiveFailures++
	t.lastError = t.now()
}

// RecordCached counts a request served from cache.
func (t *Tracker) RecordCached() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total++
	t.cached++
}

// AddResources counts fetched resources and their token weight.
func (t *Tracker) AddResources(n, tokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resourcesFetched += int64(n)
	t.tokensFetched += int64(tokens)
}

// AddBytes counts bytes downloaded from the backend.
func (t *Tracker) AddBytes(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bytesDownloaded += n
}

func (t *Tracker) pushResponseTime(ms float64) {
	t.responseTimes[t.rtNext] = ms
	t.rtNext = (t.rtNext + 1) % ringSize
	if t.rtCount < ringSize {
		t.rtCount++
	}
}

// ConsecutiveFailures returns the current failure streak.
func (t *Tracker) ConsecutiveFailures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consecutiveFailures
}

// SuccessRate returns successful/(successful+failed), or 1 when no backend
// request has been made yet.
func (t *Tracker) SuccessRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.successRateLocked()
}

func (t *Tracker) successRateLocked() float64 {
	attempted := t.successful + t.failed
	if attempted == 0 {
		return 1
	}
	return float64(t.successful) / float64(attempted)
}

// ErrorWithin reports whether a failure was recorded inside the window.
func (t *Tracker) ErrorWithin(window time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.lastError.IsZero() && t.now().Sub(t.lastError) < window
}

// LastSuccess returns the time of the most recent successful request.
func (t *Tracker) LastSuccess() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSuccess
}

// AvgResponseTimeMS averages the rolling buffer; 0 when empty.
func (t *Tracker) AvgResponseTimeMS() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.avgLocked()
}

func (t *Tracker) avgLocked() float64 {
	if t.rtCount == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < t.rtCount; i++ {
		sum += t.responseTimes[i]
	}
	return sum / float64(t.rtCount)
}

// Snapshot materializes the counters into a stats record for the provider.
type Snapshot struct {
	Total               int64
	Successful          int64
	Failed              int64
	Cached              int64
	ResourcesFetched    int64
	TokensFetched       int64
	BytesDownloaded     int64
	AvgResponseTimeMS   float64
	CacheHitRate        float64
	UptimeRatio         float64
	ConsecutiveFailures int
	LastSuccess         time.Time
	ResetAt             time.Time
}

// Snapshot returns a consistent copy of all counters and derived rates.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		Total:               t.total,
		Successful:          t.successful,
		Failed:              t.failed,
		Cached:              t.cached,
		ResourcesFetched:    t.resourcesFetched,
		TokensFetched:       t.tokensFetched,
		BytesDownloaded:     t.bytesDownloaded,
		AvgResponseTimeMS:   t.avgLocked(),
		UptimeRatio:         t.successRateLocked(),
		ConsecutiveFailures: t.consecutiveFailures,
		LastSuccess:         t.lastSuccess,
		ResetAt:             t.resetAt,
	}
	if t.total > 0 {
		s.CacheHitRate = float64(t.cached) / float64(t.total)
	}
	return s
}

// Reset zeroes every counter and stamps the reset time. Resetting twice in
// a row leaves everything at zero.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total, t.successful, t.failed, t.cached = 0, 0, 0, 0
	t.resourcesFetched, t.tokensFetched, t.bytesDownloaded = 0, 0, 0
	t.rtCount, t.rtNext = 0, 0
	t.consecutiveFailures = 0
	t.lastSuccess = time.Time{}
	t.lastError = time.Time{}
	t.resetAt = t.now()
}
