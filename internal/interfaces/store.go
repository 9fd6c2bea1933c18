package interfaces

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by Get when the key has no value
var ErrKeyNotFound = errors.New("key not found")

// VersionedValue is a stored value together with its version counter.
// Versions start at 1 for a freshly created key and increase by one on
// every successful write.
type VersionedValue struct {
	Data    []byte
	Version uint64
}

// KeyValueStore is the storage boundary for the job lifecycle core.
// Implementations provide per-key compare-and-swap, which is the only
// primitive the optimistic update loop requires.
type KeyValueStore interface {
	// Get retrieves the current value and version for a key, returning
	// ErrKeyNotFound when the key is absent.
	Get(ctx context.Context, key string) (*VersionedValue, error)

	// Put writes a value unconditionally, bumping the key's version.
	Put(ctx context.Context, key string, data []byte) error

	// Remove deletes a key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// CompareAndSwap writes data only if the key's current version equals
	// expectedVersion. expectedVersion 0 means the key must be absent.
	// A version mismatch returns (false, nil); errors are reserved for
	// storage failures.
	CompareAndSwap(ctx context.Context, key string, expectedVersion uint64, data []byte) (bool, error)

	// Keys returns all keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// WriteBarrier blocks until previously issued writes are durable and
	// visible to subsequent reads.
	WriteBarrier(ctx context.Context) error
}
