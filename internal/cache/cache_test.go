package cache

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reductus/engine/internal/dataflow"
)

func sampleEntry(id string, created time.Time) Entry {
	return Entry{
		ID:        id,
		CreatedAt: created,
		Value:     dataflow.Outputs{"output": {{Datatype: "refldata", Payload: map[string]any{"sum": 6.0}}}},
	}
}

func TestMemoryStorePutGet(t *testing.T) {
	s := NewMemoryStore()
	e := sampleEntry("abc123", time.Now())
	s.Put(e)

	got, ok := s.Get("abc123")
	require.True(t, ok)
	assert.Equal(t, e.Value, got.Value)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStoreMissIsOk(t *testing.T) {
	s := NewMemoryStore()
	_, ok := s.Get("nope")
	assert.False(t, ok)
}

func TestMemoryStoreEvictOlderThan(t *testing.T) {
	s := NewMemoryStore()
	cutoff := time.Now()
	s.Put(sampleEntry("old", cutoff.Add(-time.Hour)))
	s.Put(sampleEntry("new", cutoff.Add(time.Hour)))

	n := s.EvictOlderThan(cutoff)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, s.Len())
	_, ok := s.Get("new")
	assert.True(t, ok)
}

func TestPersistentStoreRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := NewPersistentStore(fs, "/cache")
	require.NoError(t, err)

	e := sampleEntry("fp1", time.Now())
	store.Put(e)

	fresh, err := NewPersistentStore(fs, "/cache")
	require.NoError(t, err)
	got, ok := fresh.Get("fp1")
	require.True(t, ok)
	assert.Equal(t, e.Value, got.Value)
}

func TestPersistentStoreEvictOlderThan(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := NewPersistentStore(fs, "/cache")
	require.NoError(t, err)

	cutoff := time.Now()
	store.Put(sampleEntry("old", cutoff.Add(-time.Hour)))
	store.Put(sampleEntry("new", cutoff.Add(time.Hour)))

	n := store.EvictOlderThan(cutoff)
	assert.Equal(t, 1, n)
	_, ok := store.Get("old")
	assert.False(t, ok)
}

func TestStaleFilesDetectsMtimeDrift(t *testing.T) {
	e := Entry{FileMtimes: map[string]int64{"/data/run1.nxs": 1000}}

	assert.Empty(t, StaleFiles(e, map[string]int64{"/data/run1.nxs": 1000}))
	assert.ElementsMatch(t, []string{"/data/run1.nxs"}, StaleFiles(e, map[string]int64{"/data/run1.nxs": 1001}))
	assert.ElementsMatch(t, []string{"/data/run1.nxs"}, StaleFiles(e, map[string]int64{}))
}
