// memory.go implements an in-process session store for tests and for
// single-node deployments without Redis.
package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	data      *Data
	expiresAt time.Time
}

// MemoryStore is a mutex-guarded in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get implements Store. Expired entries are treated as missing and pruned.
func (s *MemoryStore) Get(_ context.Context, sid string) (*Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[sid]
	if !ok {
		return nil, ErrNotFound
	}
	if s.now().After(entry.expiresAt) {
		delete(s.entries, sid)
		return nil, ErrNotFound
	}

	copied := *entry.data
	return &copied, nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, sid string, data *Data, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *data
	s.entries[sid] = memoryEntry{
		data:      &copied,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, sid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sid)
	return nil
}
