package registry

import (
	"sort"
	"strings"
	"sync"
)

// MemoryStore implements Store with a plain map. It backs unit tests
// and runs that do not need persistence.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Upsert inserts or fully overwrites the entry keyed by its
// destination path
func (s *MemoryStore) Upsert(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[entry.DestPath] = copyEntry(entry)
	return nil
}

// Get returns the entry for destPath, or ErrNotFound
func (s *MemoryStore) Get(destPath string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[destPath]
	if !ok {
		return nil, ErrNotFound
	}
	e := copyEntry(entry)
	return &e, nil
}

// GetPrefix returns all entries whose destination path starts with
// destPath
func (s *MemoryStore) GetPrefix(destPath string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := []Entry{}
	for path, entry := range s.entries {
		if strings.HasPrefix(path, destPath) {
			entries = append(entries, copyEntry(entry))
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].DestPath < entries[j].DestPath
	})
	return entries, nil
}

// List returns all entries
func (s *MemoryStore) List() ([]Entry, error) {
	return s.GetPrefix("")
}

// Delete removes the exact-key entry, or every entry under the path
// prefix when recursive is set
func (s *MemoryStore) Delete(destPath string, recursive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !recursive {
		delete(s.entries, destPath)
		return nil
	}
	for path := range s.entries {
		if strings.HasPrefix(path, destPath) {
			delete(s.entries, path)
		}
	}
	return nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)

func copyEntry(e Entry) Entry {
	out := e
	out.Branches = append([]string(nil), e.Branches...)
	return out
}
