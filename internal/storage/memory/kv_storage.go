package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/ternarybob/gero/internal/interfaces"
)

// entry is the stored representation of a versioned key/value pair
type entry struct {
	data    []byte
	version uint64
}

// KVStore is an in-memory KeyValueStore used for tests and embedded
// single-node deployments. Writes are immediately visible, so the write
// barrier is a no-op.
type KVStore struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewKVStore creates a new in-memory KVStore instance
func NewKVStore() *KVStore {
	return &KVStore{
		entries: make(map[string]entry),
	}
}

// Get retrieves the current value and version for a key
func (s *KVStore) Get(ctx context.Context, key string) (*interfaces.VersionedValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, interfaces.ErrKeyNotFound
	}

	data := make([]byte, len(e.data))
	copy(data, e.data)
	return &interfaces.VersionedValue{Data: data, Version: e.version}, nil
}

// Put writes a value unconditionally, bumping the key's version
func (s *KVStore) Put(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[key]
	s.entries[key] = entry{data: cloneBytes(data), version: e.version + 1}
	return nil
}

// Remove deletes a key. Removing an absent key is not an error.
func (s *KVStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// CompareAndSwap writes data only if the key's current version equals
// expectedVersion. expectedVersion 0 means the key must be absent.
func (s *KVStore) CompareAndSwap(ctx context.Context, key string, expectedVersion uint64, data []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := uint64(0)
	if e, ok := s.entries[key]; ok {
		current = e.version
	}
	if current != expectedVersion {
		return false, nil
	}

	s.entries[key] = entry{data: cloneBytes(data), version: current + 1}
	return true, nil
}

// Keys returns all keys with the given prefix
func (s *KVStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0)
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// WriteBarrier is a no-op; in-memory writes are immediately visible
func (s *KVStore) WriteBarrier(ctx context.Context) error {
	return nil
}

func cloneBytes(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	return out
}
