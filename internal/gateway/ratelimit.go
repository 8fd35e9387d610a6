package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxLimiterEntries bounds the per-key limiter map. Beyond this, idle entries
// are reaped before new ones are added.
const maxLimiterEntries = 10_000

// RateLimiter applies a token bucket per key (client_id, or remote address
// for unauthenticated polling). Capacity and refill both come from the
// per-minute limit; a non-positive limit disables limiting.
type RateLimiter struct {
	perMinute int

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing perMinute operations per key.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		perMinute: perMinute,
		buckets:   make(map[string]*bucket),
	}
}

// Enabled reports whether limiting is active.
func (r *RateLimiter) Enabled() bool { return r.perMinute > 0 }

// Allow consumes one token for key. When the bucket is empty it returns
// false plus the suggested retry delay.
func (r *RateLimiter) Allow(key string) (bool, time.Duration) {
	if !r.Enabled() {
		return true, 0
	}
	now := time.Now()

	r.mu.Lock()
	b, ok := r.buckets[key]
	if !ok {
		if len(r.buckets) >= maxLimiterEntries {
			r.reapLocked(now)
		}
		b = &bucket{lim: rate.NewLimiter(rate.Limit(float64(r.perMinute)/60.0), r.perMinute)}
		r.buckets[key] = b
	}
	b.lastSeen = now
	r.mu.Unlock()

	res := b.lim.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Minute
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// reapLocked drops buckets idle for more than a minute; a full bucket map
// under sustained distinct keys sheds the stalest half.
func (r *RateLimiter) reapLocked(now time.Time) {
	cutoff := now.Add(-time.Minute)
	for k, b := range r.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(r.buckets, k)
		}
	}
	if len(r.buckets) < maxLimiterEntries {
		return
	}
	n := 0
	for k := range r.buckets {
		delete(r.buckets, k)
		n++
		if n >= maxLimiterEntries/2 {
			break
		}
	}
}
