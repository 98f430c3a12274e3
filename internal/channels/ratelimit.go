package channels

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedKeys caps the number of tracked rate-limit keys to prevent
	// memory exhaustion from attackers rotating source IPs/keys.
	maxTrackedKeys = 4096

	// idleEvictAfter drops limiters for keys that have been quiet this long.
	idleEvictAfter = 10 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// WebhookRateLimiter applies a per-key token bucket (perMinute requests per
// minute, burst of the same size) with a hard cap on tracked keys.
// Safe for concurrent use.
type WebhookRateLimiter struct {
	mu        sync.Mutex
	entries   map[string]*limiterEntry
	perMinute int
	now       func() time.Time
}

// NewWebhookRateLimiter creates a bounded webhook rate limiter. perMinute <= 0
// disables limiting.
func NewWebhookRateLimiter(perMinute int) *WebhookRateLimiter {
	return &WebhookRateLimiter{
		entries:   make(map[string]*limiterEntry),
		perMinute: perMinute,
		now:       time.Now,
	}
}

// Enabled reports whether requests are limited at all.
func (r *WebhookRateLimiter) Enabled() bool { return r != nil && r.perMinute > 0 }

// Allow returns true if the key is within rate limits.
func (r *WebhookRateLimiter) Allow(key string) bool {
	if !r.Enabled() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if len(r.entries) >= maxTrackedKeys {
		r.prune(now)
	}

	e, ok := r.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(float64(r.perMinute)/60), r.perMinute)}
		r.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func (r *WebhookRateLimiter) prune(now time.Time) {
	for k, e := range r.entries {
		if now.Sub(e.lastSeen) >= idleEvictAfter {
			delete(r.entries, k)
		}
	}
	// Hard eviction if still at cap (FIFO-ish via map iteration)
	for len(r.entries) >= maxTrackedKeys {
		for k := range r.entries {
			delete(r.entries, k)
			break
		}
	}
}
