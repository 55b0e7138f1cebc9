// Package dedupe answers "has this fingerprint been seen inside T?" on
// top of runtimestate, per spec.md §4.1.
package dedupe

import (
	"time"

	"github.com/agensys/mr-agent/internal/runtimestate"
)

const scope = "dedupe"

// Dedupe suppresses duplicate work within a caller-supplied TTL window.
type Dedupe struct {
	store      *runtimestate.Store
	now        func() time.Time
	maxEntries int
}

// New creates a Dedupe backed by store. maxEntries bounds the scope's LRU
// cap (0 means unbounded).
func New(store *runtimestate.Store, now func() time.Time, maxEntries int) *Dedupe {
	if now == nil {
		now = time.Now
	}
	return &Dedupe{store: store, now: now, maxEntries: maxEntries}
}

// IsDuplicate reports whether key was already reserved within ttl. A
// blank key fails open (always returns false, nothing is recorded). On a
// true return, the reservation is refreshed so a rapid repeat stays
// suppressed for a fresh ttl window.
func (d *Dedupe) IsDuplicate(key string, ttl time.Duration) bool {
	if key == "" {
		return false
	}
	now := d.now()
	if _, ok := d.store.Load(scope, key); ok {
		d.store.Save(scope, key, true, now.Add(ttl), d.maxEntries)
		return true
	}
	d.store.Save(scope, key, true, now.Add(ttl), d.maxEntries)
	return false
}

// Clear retracts a reservation so a failed downstream call does not leave
// a dedupe entry outliving the processing window it was meant to cover.
func (d *Dedupe) Clear(key string) {
	if key == "" {
		return
	}
	d.store.Delete(scope, key)
}
