package expiringcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetFreshExpiresEntries(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New[string, string](func() time.Time { return clock })

	c.Set("k", "v", clock.Add(time.Second))
	v, ok := c.GetFresh("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	clock = clock.Add(2 * time.Second)
	_, ok = c.GetFresh("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "a stale read deletes the entry")
}

func TestPruneIsThrottled(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New[string, string](func() time.Time { return clock })
	c.Set("k", "v", clock.Add(-time.Hour))

	removed := c.Prune(clock)
	assert.Equal(t, 1, removed)

	c.Set("k2", "v", clock.Add(-time.Hour))
	removed = c.Prune(clock.Add(500 * time.Millisecond))
	assert.Equal(t, 0, removed, "prune is a no-op before the throttle interval elapses")

	removed = c.Prune(clock.Add(2 * time.Second))
	assert.Equal(t, 1, removed, "prune resumes sweeping once the throttle interval has elapsed")
}

func TestTrimEvictsOldestInsertions(t *testing.T) {
	now := time.Now()
	c := New[string, int](func() time.Time { return now })

	c.Set("a", 1, now.Add(time.Hour))
	c.Set("b", 2, now.Add(time.Hour))
	c.Set("c", 3, now.Add(time.Hour))

	c.Trim(2)
	assert.Equal(t, 2, c.Len())
	_, ok := c.GetFresh("a")
	assert.False(t, ok, "the oldest-inserted entry is evicted first")
}
