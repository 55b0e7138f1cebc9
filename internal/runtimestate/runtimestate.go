// Package runtimestate implements the scoped key-to-value map with
// per-entry TTL and per-scope LRU cap that Dedupe and RateLimiter are
// built on. It generalises the single in-process map-plus-mutex pattern
// used throughout the teacher codebase (e.g. inMemoryRateLimiter) into a
// shared, scope-partitioned primitive.
package runtimestate

import (
	"sync"
	"time"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Store is a process-wide, mutex-protected collection of scoped maps.
// Every public method is atomic with respect to others on the same Store,
// satisfying the single-writer invariant spec.md §3/§5 require.
type Store struct {
	mu     sync.Mutex
	scopes map[string]*scopeState
	now    func() time.Time
}

type scopeState struct {
	entries map[string]*entry
	// order tracks insertion/touch recency for LRU eviction, most recent last.
	order []string
}

// New creates an empty Store. now defaults to time.Now; tests may inject
// a deterministic clock.
func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{scopes: make(map[string]*scopeState), now: now}
}

func (s *Store) scope(name string) *scopeState {
	sc, ok := s.scopes[name]
	if !ok {
		sc = &scopeState{entries: make(map[string]*entry)}
		s.scopes[name] = sc
	}
	return sc
}

// Load returns the value stored for (scope, key), or (nil, false) if
// absent or expired. A stale entry is dropped on read.
func (s *Store) Load(scope, key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.scopes[scope]
	if !ok {
		return nil, false
	}
	e, ok := sc.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && s.now().After(e.expiresAt) {
		delete(sc.entries, key)
		sc.order = removeKey(sc.order, key)
		return nil, false
	}
	return e.value, true
}

// Save is the single lifecycle entry point for writes: it sets value
// under (scope, key) with the given absolute expiry, touches the LRU
// order, and evicts the least-recently-used entry in the scope if
// maxEntries is exceeded. maxEntries<=0 means unbounded.
func (s *Store) Save(scope, key string, value any, expiresAt time.Time, maxEntries int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc := s.scope(scope)
	if _, exists := sc.entries[key]; !exists {
		sc.order = append(sc.order, key)
	} else {
		sc.order = touchKey(sc.order, key)
	}
	sc.entries[key] = &entry{value: value, expiresAt: expiresAt}

	if maxEntries > 0 {
		for len(sc.order) > maxEntries {
			oldest := sc.order[0]
			sc.order = sc.order[1:]
			delete(sc.entries, oldest)
		}
	}
}

// Delete removes (scope, key) if present.
func (s *Store) Delete(scope, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.scopes[scope]
	if !ok {
		return
	}
	delete(sc.entries, key)
	sc.order = removeKey(sc.order, key)
}

// Clear removes every entry in scope.
func (s *Store) Clear(scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scopes, scope)
}

// Len reports the number of live (not necessarily fresh) entries in scope.
func (s *Store) Len(scope string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scopes[scope]
	if !ok {
		return 0
	}
	return len(sc.entries)
}

func removeKey(order []string, key string) []string {
	for i, k := range order {
		if k == key {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}

func touchKey(order []string, key string) []string {
	order = removeKey(order, key)
	return append(order, key)
}
