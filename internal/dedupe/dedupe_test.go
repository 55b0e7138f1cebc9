package dedupe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/agensys/mr-agent/internal/runtimestate"
)

func TestDedupeLocality(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := runtimestate.New(func() time.Time { return clock })
	d := New(store, func() time.Time { return clock }, 0)

	assert.False(t, d.IsDuplicate("k", time.Minute), "first call is never a duplicate")
	assert.True(t, d.IsDuplicate("k", time.Minute), "second call within ttl is a duplicate")

	clock = clock.Add(2 * time.Minute)
	assert.False(t, d.IsDuplicate("k", time.Minute), "call after ttl elapsed is fresh again")
}

func TestDedupeClearResetsImmediately(t *testing.T) {
	clock := time.Now()
	store := runtimestate.New(func() time.Time { return clock })
	d := New(store, func() time.Time { return clock }, 0)

	assert.False(t, d.IsDuplicate("k", time.Hour))
	d.Clear("k")
	assert.False(t, d.IsDuplicate("k", time.Hour), "clear forces the next call to be fresh")
}

func TestDedupeBlankKeyFailsOpen(t *testing.T) {
	store := runtimestate.New(nil)
	d := New(store, nil, 0)

	assert.False(t, d.IsDuplicate("", time.Hour))
	assert.False(t, d.IsDuplicate("", time.Hour))
}
