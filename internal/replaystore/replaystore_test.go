package replaystore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendThenListRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	store := New(path, 0, 0)

	require.NoError(t, store.Append(Event{ID: "1", Platform: "github", EventName: "pull_request"}))
	require.NoError(t, store.Append(Event{ID: "2", Platform: "gitlab", EventName: "merge_request"}))

	events, err := store.List("", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "1", events[0].ID)
	assert.Equal(t, "2", events[1].ID)
}

func TestListFiltersByPlatform(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	store := New(path, 0, 0)
	require.NoError(t, store.Append(Event{ID: "1", Platform: "github"}))
	require.NoError(t, store.Append(Event{ID: "2", Platform: "gitlab"}))

	events, err := store.List("gitlab", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "2", events[0].ID)
}

func TestListOnMissingFileReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.ndjson")
	store := New(path, 0, 0)
	events, err := store.List("", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestListRespectsLimitKeepingMostRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	store := New(path, 0, 0)
	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, store.Append(Event{ID: id, Platform: "github"}))
	}

	events, err := store.List("", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "2", events[0].ID)
	assert.Equal(t, "3", events[1].ID)
}

func TestAppendTrimsToMaxEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	store := New(path, 2, 1)
	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, store.Append(Event{ID: id, Platform: "github"}))
	}

	events, err := store.List("", 0)
	require.NoError(t, err)
	require.Len(t, events, 2, "the log is trimmed to maxEntries after every write when trimEvery is 1")
	assert.Equal(t, "2", events[0].ID)
	assert.Equal(t, "3", events[1].ID)
}
