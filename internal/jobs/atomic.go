// -----------------------------------------------------------------------
// Atomic Updater - Optimistic read-transform-write against a store key
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gero/internal/common"
	"github.com/ternarybob/gero/internal/interfaces"
	"golang.org/x/time/rate"
)

// Transform computes a replacement value from the current stored value.
// old is nil when the key is absent. Returning nil elects a no-op: nothing
// is written and the update succeeds. A transform must be a pure function
// of its input; it may run more than once per update under contention.
type Transform func(old []byte) ([]byte, error)

const (
	// retryBurst is the number of immediate compare-and-swap attempts
	// before retries start pacing through the rate limiter
	retryBurst = 4

	// retryInterval paces retries on a write-contended key
	retryInterval = 5 * time.Millisecond
)

// Update applies fn to the value at key with compare-and-swap semantics,
// retrying the read-transform-write cycle until a swap succeeds. Store
// conflicts are absorbed here and never surface to the caller.
func Update(ctx context.Context, store interfaces.KeyValueStore, key string, fn Transform) error {
	limiter := rate.NewLimiter(rate.Every(retryInterval), retryBurst)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("update of %s interrupted: %w", key, err)
		}

		var old []byte
		var version uint64
		current, err := store.Get(ctx, key)
		if err == nil {
			old = current.Data
			version = current.Version
		} else if !errors.Is(err, interfaces.ErrKeyNotFound) {
			return fmt.Errorf("failed to read %s: %w", key, err)
		}

		updated, err := fn(old)
		if err != nil {
			return err
		}
		if updated == nil {
			// Caller-elected no-op, e.g. the target no longer exists
			return nil
		}

		swapped, err := store.CompareAndSwap(ctx, key, version, updated)
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", key, err)
		}
		if swapped {
			return nil
		}
	}
}

// UpdateAsync runs the same retry loop on a background goroutine and
// returns immediately. Only eventual visibility is guaranteed; used for
// high-frequency progress updates where losing a late increment under a
// concurrent terminal write is acceptable.
func UpdateAsync(store interfaces.KeyValueStore, key string, fn Transform, logger arbor.ILogger) {
	common.SafeGo(logger, "update "+key, func() {
		if err := Update(context.Background(), store, key, fn); err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("Async update failed")
		}
	})
}

// UpdateJSON applies a typed transform to the JSON-encoded value at key.
// old is nil when the key is absent; returning nil elects a no-op.
func UpdateJSON[T any](ctx context.Context, store interfaces.KeyValueStore, key string, fn func(old *T) (*T, error)) error {
	return Update(ctx, store, key, func(raw []byte) ([]byte, error) {
		var old *T
		if raw != nil {
			old = new(T)
			if err := json.Unmarshal(raw, old); err != nil {
				return nil, fmt.Errorf("failed to unmarshal %s: %w", key, err)
			}
		}

		updated, err := fn(old)
		if err != nil {
			return nil, err
		}
		if updated == nil {
			return nil, nil
		}

		data, err := json.Marshal(updated)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s: %w", key, err)
		}
		return data, nil
	})
}
