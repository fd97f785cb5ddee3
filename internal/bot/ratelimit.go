package bot

import (
	"sync"
	"time"
)

// RateLimiter implements per-user per-command in-memory rate limiting.
type RateLimiter struct {
	mu       sync.Mutex
	lastCall map[int64]map[string]time.Time
	limits   map[string]time.Duration
	exempt   func(userID int64) bool
	now      func() time.Time
}

// NewRateLimiter builds a limiter; users for which exempt returns true are
// never limited.
func NewRateLimiter(exempt func(userID int64) bool) *RateLimiter {
	if exempt == nil {
		exempt = func(int64) bool { return false }
	}
	return &RateLimiter{
		lastCall: make(map[int64]map[string]time.Time),
		limits: map[string]time.Duration{
			"/buy":     3 * time.Second,
			"/start":   2 * time.Second,
			"/status":  3 * time.Second,
			"question": 5 * time.Second,
			"evidence": 3 * time.Second,
		},
		exempt: exempt,
		now:    time.Now,
	}
}

// IsLimited returns true if user is rate-limited for this command
func (r *RateLimiter) IsLimited(userID int64, cmd string) bool {
	if r.exempt(userID) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if r.lastCall[userID] == nil {
		r.lastCall[userID] = make(map[string]time.Time)
	}
	limit, ok := r.limits[cmd]
	if !ok {
		limit = 2 * time.Second // default limit
	}
	last := r.lastCall[userID][cmd]
	if now.Sub(last) < limit {
		return true
	}
	r.lastCall[userID][cmd] = now
	return false
}

// Forget drops users idle for longer than maxIdle.
func (r *RateLimiter) Forget(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-maxIdle)
	n := 0
	for id, calls := range r.lastCall {
		idle := true
		for _, t := range calls {
			if t.After(cutoff) {
				idle = false
				break
			}
		}
		if idle {
			delete(r.lastCall, id)
			n++
		}
	}
	return n
}
