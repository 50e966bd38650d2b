// Package cache implements the fingerprint-keyed result cache (§4.D): a
// memoization layer in front of the evaluation engine, keyed by the
// digest from internal/fingerprint, with an optional persistent backing
// store and mtime-based revalidation of cached fileinfo dependencies.
//
// Grounded on the teacher's internal/inventory package for the
// "computed key -> stored entry, with an invalidation signal" shape, and
// on internal/output's afero usage pattern for the persistent backing
// store (the teacher's config/paths code resolves real paths but doesn't
// itself touch afero; the persistent store here follows the pack's
// general afero.Fs-as-storage-seam idiom so tests run against
// afero.NewMemMapFs() instead of the real filesystem).
package cache

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/reductus/engine/internal/dataflow"
)

// Entry is one memoized calc_terminal result.
type Entry struct {
	ID         string
	CreatedAt  time.Time
	Value      dataflow.Outputs
	FileMtimes map[string]int64
}

// Store is the cache contract shared by the in-memory and persistent
// implementations.
type Store interface {
	Get(id string) (Entry, bool)
	Put(entry Entry)
	Evict(id string)
	EvictOlderThan(cutoff time.Time) int
	Len() int
}

// MemoryStore is a process-local, mutex-guarded cache. It is always
// available and is what engine falls back to when a persistent store
// cannot be opened (§4.D "falls back to memory-only on persistence
// failure").
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory cache.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Get returns the entry for id, if present.
func (s *MemoryStore) Get(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return e, ok
}

// Put stores or replaces the entry for entry.ID.
func (s *MemoryStore) Put(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID] = entry
}

// Evict removes a single entry by id, if present.
func (s *MemoryStore) Evict(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// EvictOlderThan removes every entry whose CreatedAt is strictly before
// cutoff, returning the number of entries removed.
func (s *MemoryStore) EvictOlderThan(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.entries {
		if e.CreatedAt.Before(cutoff) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}

// Len reports the number of entries currently cached.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// persistentEntry is Entry's on-disk JSON encoding. Outputs carry
// arbitrary module-specific payloads, so the persistent store round-trips
// them through the same generic JSON representation the RPC layer and
// the fingerprint canonicalizer use, rather than requiring every module's
// payload type to implement a binary codec.
type persistentEntry struct {
	ID         string           `json:"id"`
	CreatedAt  time.Time        `json:"created_at"`
	FileMtimes map[string]int64 `json:"file_mtimes,omitempty"`
	Value      dataflow.Outputs `json:"value"`
}

// PersistentStore is an afero-backed cache: one file per entry under Dir,
// named by fingerprint. It wraps a MemoryStore as a read-through/write-
// through layer so repeated Gets within a process avoid re-reading disk.
type PersistentStore struct {
	fs  afero.Fs
	dir string
	mem *MemoryStore
}

// NewPersistentStore opens (creating if absent) a persistent cache rooted
// at dir on fs. It returns an error if dir cannot be created, letting the
// caller fall back to NewMemoryStore().
func NewPersistentStore(fs afero.Fs, dir string) (*PersistentStore, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create cache dir %q: %w", dir, err)
	}
	return &PersistentStore{fs: fs, dir: dir, mem: NewMemoryStore()}, nil
}

func (s *PersistentStore) path(id string) string {
	return fmt.Sprintf("%s/%s.json", s.dir, id)
}

// Get returns the entry for id, checking the in-memory layer first and
// falling back to disk.
func (s *PersistentStore) Get(id string) (Entry, bool) {
	if e, ok := s.mem.Get(id); ok {
		return e, true
	}
	raw, err := afero.ReadFile(s.fs, s.path(id))
	if err != nil {
		return Entry{}, false
	}
	var pe persistentEntry
	if err := json.Unmarshal(raw, &pe); err != nil {
		return Entry{}, false
	}
	e := Entry{ID: pe.ID, CreatedAt: pe.CreatedAt, Value: pe.Value, FileMtimes: pe.FileMtimes}
	s.mem.Put(e)
	return e, true
}

// Put writes entry to disk and to the in-memory layer.
func (s *PersistentStore) Put(entry Entry) {
	s.mem.Put(entry)
	pe := persistentEntry{ID: entry.ID, CreatedAt: entry.CreatedAt, FileMtimes: entry.FileMtimes, Value: entry.Value}
	raw, err := json.Marshal(pe)
	if err != nil {
		return
	}
	_ = afero.WriteFile(s.fs, s.path(entry.ID), raw, 0o644)
}

// Evict removes a single entry from both layers.
func (s *PersistentStore) Evict(id string) {
	s.mem.Evict(id)
	_ = s.fs.Remove(s.path(id))
}

// EvictOlderThan removes every entry (memory and disk) whose CreatedAt
// predates cutoff.
func (s *PersistentStore) EvictOlderThan(cutoff time.Time) int {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, info := range infos {
		raw, err := afero.ReadFile(s.fs, s.dir+"/"+info.Name())
		if err != nil {
			continue
		}
		var pe persistentEntry
		if err := json.Unmarshal(raw, &pe); err != nil {
			continue
		}
		if pe.CreatedAt.Before(cutoff) {
			s.Evict(pe.ID)
			n++
		}
	}
	return n
}

// Len reports the number of entries currently on disk.
func (s *PersistentStore) Len() int {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return 0
	}
	return len(infos)
}

// StaleFiles reports which of entry.FileMtimes no longer match the
// current mtime observed via stat, per the §4.D/§4.H revalidation
// contract: a fileinfo dependency whose on-disk mtime has moved
// invalidates the cached result that depended on it.
func StaleFiles(entry Entry, currentMtimes map[string]int64) []string {
	var stale []string
	for path, cached := range entry.FileMtimes {
		if current, ok := currentMtimes[path]; !ok || current != cached {
			stale = append(stale, path)
		}
	}
	return stale
}
