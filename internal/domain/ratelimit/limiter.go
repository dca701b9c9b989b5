// Package ratelimit gates dispatch attempts with a per-scope token bucket,
// built on golang.org/x/time/rate the way the rest of the stack favors a
// real ecosystem library over a hand-rolled bucket. Scopes are keyed by
// (backend, key) by default, or collapsed to a client API key scope when
// the configuration asks for it — see Scope.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Scope computes the bucket key for an attempt. The default scope is
// per (backend, key); ScopeByClient collapses every backend/key pair
// sharing a client API key onto a single bucket.
type Scope func(backend, keyName string) string

// ScopeByBackendKey is the default scope: one bucket per (backend, key).
func ScopeByBackendKey(backend, keyName string) string { return backend + "\x00" + keyName }

// ScopeByClient returns a Scope that ignores backend/key entirely and
// buckets everything under a single client identity, for callers that want
// a client-wide cap instead of a per-credential one.
func ScopeByClient(clientKey string) Scope {
	return func(string, string) string { return clientKey }
}

// Limiter is a process-wide collection of token buckets, one per scope key,
// created lazily on first use with the configured rate and burst.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	scope   Scope
	rps     rate.Limit
	burst   int
}

// New builds a Limiter allowing ratePerSecond sustained requests per scope
// with burst headroom, using scope to compute each attempt's bucket key.
func New(ratePerSecond float64, burst int, scope Scope) *Limiter {
	if scope == nil {
		scope = ScopeByBackendKey
	}
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		scope:   scope,
		rps:     rate.Limit(ratePerSecond),
		burst:   burst,
	}
}

// Allow reports whether an attempt against (backend, keyName) may proceed
// now, and if not, how long until the bucket would allow one token.
func (l *Limiter) Allow(backend, keyName string) (bool, time.Duration) {
	b := l.bucketFor(l.scope(backend, keyName))
	res := b.Reserve()
	if !res.OK() {
		return false, 0
	}
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return false, delay
	}
	return true, 0
}

func (l *Limiter) bucketFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.rps, l.burst)
		l.buckets[key] = b
	}
	return b
}

// Reset discards the bucket for a scope key, restoring it to full burst on
// next use. Used by administrative commands and tests.
func (l *Limiter) Reset(backend, keyName string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, l.scope(backend, keyName))
}
