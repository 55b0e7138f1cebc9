// Package ratelimit implements the sliding-window per-(user, target,
// command) rate limiter described in spec.md §4.1, generalising the
// teacher's inMemoryRateLimiter (fixed-window-per-user, capacity 100/min)
// into a sliding-window limiter keyed by an arbitrary canonicalised
// string and shared via runtimestate.
package ratelimit

import (
	"time"

	"github.com/agensys/mr-agent/internal/primitives"
	"github.com/agensys/mr-agent/internal/runtimestate"
)

const scope = "ratelimit"

const (
	maxKeyLen       = 80
	fallbackKey     = "unknown"
	defaultIdleCap  = 24 * time.Hour
	defaultCapacity = 5000
)

// Limiter is a sliding-window counter shared process-wide.
type Limiter struct {
	store      *runtimestate.Store
	now        func() time.Time
	idleCap    time.Duration
	maxEntries int
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithIdleCap overrides the default 24h idle-key prune threshold.
func WithIdleCap(d time.Duration) Option {
	return func(l *Limiter) { l.idleCap = d }
}

// WithCapacity overrides the default 5000-key LRU cap.
func WithCapacity(n int) Option {
	return func(l *Limiter) { l.maxEntries = n }
}

// New creates a Limiter backed by store.
func New(store *runtimestate.Store, now func() time.Time, opts ...Option) *Limiter {
	if now == nil {
		now = time.Now
	}
	l := &Limiter{store: store, now: now, idleCap: defaultIdleCap, maxEntries: defaultCapacity}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CanonicalKey canonicalises a raw key per spec.md §4.1: lowercase,
// non-[a-z0-9._-] runs collapsed to '-', length-capped at 80, empty
// becomes a stable fallback token.
func CanonicalKey(raw string) string {
	return primitives.CanonicalizeKey(raw, maxKeyLen, fallbackKey)
}

// IsLimited reports whether key has already used its budget within the
// trailing window. On a false return the call is recorded.
func (l *Limiter) IsLimited(key string, limit int, window time.Duration) bool {
	key = CanonicalKey(key)
	now := l.now()

	raw, _ := l.store.Load(scope, key)
	var timestamps []time.Time
	if raw != nil {
		timestamps = raw.([]time.Time)
	}

	cutoff := now.Add(-window)
	kept := timestamps[:0:0]
	for _, t := range timestamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= limit {
		l.touch(key, kept, now)
		return true
	}

	kept = append(kept, now)
	l.touch(key, kept, now)
	return false
}

// touch persists the pruned+updated timestamp slice and refreshes the
// idle-prune expiry.
func (l *Limiter) touch(key string, timestamps []time.Time, now time.Time) {
	l.store.Save(scope, key, timestamps, now.Add(l.idleCap), l.maxEntries)
}

// Reset clears all recorded state for key. Exposed for tests.
func (l *Limiter) Reset(key string) {
	l.store.Delete(scope, CanonicalKey(key))
}
