package bandwidth

import (
	"sync"
	"time"
)

// Clock lets tests drive the sliding window deterministically.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// RateLimiter keeps a sliding window of request timestamps per IP.
// Process-local on purpose: this deployment runs a single engine process,
// so a durable store would only add a network hop to the hot path.
type RateLimiter struct {
	mu    sync.Mutex
	clock Clock
	hits  map[string][]time.Time
}

func NewRateLimiter(clock Clock) *RateLimiter {
	return &RateLimiter{
		clock: clock,
		hits:  make(map[string][]time.Time),
	}
}

// Allow records the call and reports whether ip stays at or under max
// requests within the window. Over-limit callers fail fast before any I/O.
func (r *RateLimiter) Allow(ip string, window time.Duration, max int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	cutoff := now.Add(-window)

	// Amortised O(1) prune: timestamps are appended in order, so we only
	// scan the expired prefix.
	stamps := r.hits[ip]
	i := 0
	for i < len(stamps) && stamps[i].Before(cutoff) {
		i++
	}
	stamps = stamps[i:]

	if len(stamps) >= max {
		r.hits[ip] = stamps
		return false
	}

	r.hits[ip] = append(stamps, now)
	return true
}

// Prune drops IPs with no recent activity. Called by the registry sweeper
// so idle maps do not grow without bound.
func (r *RateLimiter) Prune(olderThan time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.clock.Now().Add(-olderThan)
	for ip, stamps := range r.hits {
		if len(stamps) == 0 || stamps[len(stamps)-1].Before(cutoff) {
			delete(r.hits, ip)
		}
	}
}
