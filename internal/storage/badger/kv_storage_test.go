package badger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gero/internal/common"
	"github.com/ternarybob/gero/internal/interfaces"
)

func newTestStore(t *testing.T) interfaces.KeyValueStore {
	t.Helper()

	logger := arbor.NewLogger()
	db, err := NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Error(err)
		}
	})

	return NewKVStore(db, logger)
}

func TestBadgerGetPutRemove(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)

	require.NoError(t, store.Put(ctx, "key", []byte("one")))
	current, err := store.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), current.Data)
	assert.Equal(t, uint64(1), current.Version)

	require.NoError(t, store.Put(ctx, "key", []byte("two")))
	current, err = store.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), current.Data)
	assert.Equal(t, uint64(2), current.Version)

	require.NoError(t, store.Remove(ctx, "key"))
	_, err = store.Get(ctx, "key")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)

	require.NoError(t, store.Remove(ctx, "key"))
}

func TestBadgerCompareAndSwap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	swapped, err := store.CompareAndSwap(ctx, "key", 0, []byte("first"))
	require.NoError(t, err)
	assert.True(t, swapped)

	swapped, err = store.CompareAndSwap(ctx, "key", 0, []byte("stale"))
	require.NoError(t, err)
	assert.False(t, swapped)

	current, err := store.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), current.Data, "failed swap leaves the value unchanged")

	swapped, err = store.CompareAndSwap(ctx, "key", current.Version, []byte("second"))
	require.NoError(t, err)
	assert.True(t, swapped)

	current, err = store.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), current.Data)
}

func TestBadgerCompareAndSwapContention(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "key", []byte("base")))

	const writers = 8
	wins := make(chan bool, writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			swapped, err := store.CompareAndSwap(ctx, "key", 1, []byte("winner"))
			if err != nil {
				t.Error(err)
				return
			}
			wins <- swapped
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for swapped := range wins {
		if swapped {
			won++
		}
	}
	assert.Equal(t, 1, won, "exactly one writer may win a version")
}

func TestBadgerKeysByPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "progress/dest-1/a", []byte("{}")))
	require.NoError(t, store.Put(ctx, "progress/dest-2/a", []byte("{}")))
	require.NoError(t, store.Put(ctx, "job_1", []byte("{}")))

	keys, err := store.Keys(ctx, "progress/")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestBadgerWriteBarrier(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "key", []byte("durable")))
	require.NoError(t, store.WriteBarrier(ctx))

	current, err := store.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), current.Data)
}
