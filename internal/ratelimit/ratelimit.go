// Package ratelimit implements a sliding-window request counter keyed by
// (website, client identity). Counters are shared across chat requests and
// updated under a single lock so a concurrent burst cannot exceed its quota.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Limiter counts requests per key within a rolling window.
type Limiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	buckets map[string][]time.Time
	now     func() time.Time
}

// NewLimiter creates a Limiter allowing max requests per window for each
// (website, client) pair.
func NewLimiter(window time.Duration, max int) *Limiter {
	return &Limiter{
		window:  window,
		max:     max,
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// NewLimiterWithClock creates a Limiter with a custom clock (for testing).
func NewLimiterWithClock(window time.Duration, max int, now func() time.Time) *Limiter {
	l := NewLimiter(window, max)
	l.now = now
	return l
}

// Allow records one request for (websiteID, clientID) and reports whether it
// fits the quota. Requests older than the window are dropped first; a
// rejected request is not recorded.
func (l *Limiter) Allow(websiteID, clientID string) bool {
	if clientID == "" {
		clientID = "unknown"
	}
	key := fmt.Sprintf("%s:%s", websiteID, clientID)
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.buckets[key]
	kept := bucket[:0]
	for _, ts := range bucket {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.max {
		l.buckets[key] = kept
		return false
	}

	l.buckets[key] = append(kept, now)
	return true
}

// Prune drops buckets whose newest entry has aged out of the window. Called
// periodically so idle keys do not accumulate.
func (l *Limiter) Prune() {
	cutoff := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, bucket := range l.buckets {
		if len(bucket) == 0 || !bucket[len(bucket)-1].After(cutoff) {
			delete(l.buckets, key)
		}
	}
}
