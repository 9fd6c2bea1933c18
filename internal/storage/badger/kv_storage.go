package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gero/internal/interfaces"
	"github.com/timshannon/badgerhold/v4"
)

// errVersionConflict aborts a compare-and-swap transaction on version mismatch
var errVersionConflict = errors.New("version conflict")

// kvEntry is the stored representation of a versioned key/value pair
type kvEntry struct {
	Key       string `badgerhold:"key"`
	Version   uint64
	Data      []byte
	UpdatedAt time.Time
}

// KVStore implements the KeyValueStore interface for Badger
type KVStore struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewKVStore creates a new Badger-backed KVStore instance
func NewKVStore(db *BadgerDB, logger arbor.ILogger) interfaces.KeyValueStore {
	return &KVStore{
		db:     db,
		logger: logger,
	}
}

// Get retrieves the current value and version for a key
func (s *KVStore) Get(ctx context.Context, key string) (*interfaces.VersionedValue, error) {
	var entry kvEntry
	err := s.db.Store().Get(key, &entry)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}

	return &interfaces.VersionedValue{Data: entry.Data, Version: entry.Version}, nil
}

// update runs fn in a badger transaction, retrying on transaction
// conflicts. Version conflicts surface to the caller unchanged.
func (s *KVStore) update(fn func(tx *badgerdb.Txn) error) error {
	for {
		err := s.db.Store().Badger().Update(fn)
		if !errors.Is(err, badgerdb.ErrConflict) {
			return err
		}
	}
}

// Put writes a value unconditionally, bumping the key's version
func (s *KVStore) Put(ctx context.Context, key string, data []byte) error {
	err := s.update(func(tx *badgerdb.Txn) error {
		var existing kvEntry
		version := uint64(1)
		err := s.db.Store().TxGet(tx, key, &existing)
		if err == nil {
			version = existing.Version + 1
		} else if err != badgerhold.ErrNotFound {
			return err
		}

		entry := kvEntry{
			Key:       key,
			Version:   version,
			Data:      data,
			UpdatedAt: time.Now(),
		}
		return s.db.Store().TxUpsert(tx, key, &entry)
	})
	if err != nil {
		return fmt.Errorf("failed to put key %s: %w", key, err)
	}
	return nil
}

// Remove deletes a key. Removing an absent key is not an error.
func (s *KVStore) Remove(ctx context.Context, key string) error {
	err := s.db.Store().Delete(key, &kvEntry{})
	if err == badgerhold.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// CompareAndSwap writes data only if the key's current version equals
// expectedVersion. expectedVersion 0 means the key must be absent.
func (s *KVStore) CompareAndSwap(ctx context.Context, key string, expectedVersion uint64, data []byte) (bool, error) {
	err := s.update(func(tx *badgerdb.Txn) error {
		var existing kvEntry
		current := uint64(0)
		err := s.db.Store().TxGet(tx, key, &existing)
		if err == nil {
			current = existing.Version
		} else if err != badgerhold.ErrNotFound {
			return err
		}

		if current != expectedVersion {
			return errVersionConflict
		}

		entry := kvEntry{
			Key:       key,
			Version:   current + 1,
			Data:      data,
			UpdatedAt: time.Now(),
		}
		return s.db.Store().TxUpsert(tx, key, &entry)
	})
	if errors.Is(err, errVersionConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to compare-and-swap key %s: %w", key, err)
	}
	return true, nil
}

// Keys returns all keys with the given prefix
func (s *KVStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var entries []kvEntry
	err := s.db.Store().Find(&entries, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if strings.HasPrefix(entry.Key, prefix) {
			keys = append(keys, entry.Key)
		}
	}
	return keys, nil
}

// WriteBarrier blocks until the most recent local write is durable
func (s *KVStore) WriteBarrier(ctx context.Context) error {
	if err := s.db.Store().Badger().Sync(); err != nil {
		return fmt.Errorf("failed to sync badger database: %w", err)
	}
	return nil
}
