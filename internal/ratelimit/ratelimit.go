// Package ratelimit implements per-key token-bucket rate limiting for the
// HTTP layer. Grounded on cuemby-warren's pkg/ingress/middleware.go, which
// keeps a map of golang.org/x/time/rate.Limiter values guarded by a mutex,
// one limiter per client key.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter rate-limits by an arbitrary string key, evicting idle keys
// lazily so the map doesn't grow without bound under a rotating client
// population.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*entry

	r     rate.Limit
	burst int
	idle  time.Duration
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New returns a Limiter allowing, per key, an average of limit events per
// window with up to burst in a single instant.
func New(limit int, window time.Duration, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*entry),
		r:        rate.Every(window / time.Duration(limit)),
		burst:    burst,
		idle:     window * 2,
	}
}

// Allow reports whether an event for key is permitted right now.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.r, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = time.Now()
	l.evictLocked()
	return e.limiter.Allow()
}

// evictLocked drops limiters untouched for longer than the idle window.
// Must be called with l.mu held.
func (l *Limiter) evictLocked() {
	cutoff := time.Now().Add(-l.idle)
	for k, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, k)
		}
	}
}

// Middleware wraps next, rejecting requests with 429 when keyFunc(r) is
// rate-limited. keyFunc typically combines remote IP with path-derived
// identifiers, e.g. "(ip, storeId, path)" for the fetch surface.
func (l *Limiter) Middleware(keyFunc func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(keyFunc(r)) {
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
