// Package ratelimit implements per-provider request admission with two
// independent token buckets (per-minute and per-hour). Admission is
// non-blocking: a request is either admitted immediately or rejected with
// the time until the exhausted bucket refills one unit.
package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per millisecond
	lastRefill time.Time
}

func newBucket(capacity int, period time.Duration, now time.Time) *bucket {
	return &bucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: float64(capacity) / float64(period.Milliseconds()),
		lastRefill: now,
	}
}

func (b *bucket) refill(now time.Time) {
	elapsed := float64(now.Sub(b.lastRefill).Milliseconds())
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// retryAfter returns how long until the bucket holds one full token.
func (b *bucket) retryAfter() time.Duration {
	if b.refillRate <= 0 {
		// Zero capacity never refills; report the full period equivalent.
		return time.Hour
	}
	missing := 1 - b.tokens
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing/b.refillRate) * time.Millisecond
}

// DualBucket enforces a per-minute and a per-hour limit together.
// The zero value is not usable; construct with New.
type DualBucket struct {
	mu     sync.Mutex
	minute *bucket
	hour   *bucket
	now    func() time.Time // for testing
}

// New creates a dual bucket with the given per-minute and per-hour
// capacities. A capacity of zero rejects every request for that period.
func New(perMinute, perHour int) *DualBucket {
	now := time.Now()
	return &DualBucket{
		minute: newBucket(perMinute, time.Minute, now),
		hour:   newBucket(perHour, time.Hour, now),
		now:    time.Now,
	}
}

// Allow refills both buckets, then either consumes one token from each and
// admits, or rejects without consuming anything. On rejection, retryAfter
// is the time until the exhausted bucket holds a full token.
func (d *DualBucket) Allow() (admitted bool, retryAfter time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.minute.refill(now)
	d.hour.refill(now)

	if d.minute.tokens < 1 {
		return false, d.minute.retryAfter()
	}
	if d.hour.tokens < 1 {
		return false, d.hour.retryAfter()
	}

	d.minute.tokens--
	d.hour.tokens--
	return true, 0
}

// Snapshot reports the current remaining tokens and capacities.
func (d *DualBucket) Snapshot() (minuteRemaining, hourRemaining float64, minuteCap, hourCap int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.minute.refill(now)
	d.hour.refill(now)
	return d.minute.tokens, d.hour.tokens, int(d.minute.capacity), int(d.hour.capacity)
}
