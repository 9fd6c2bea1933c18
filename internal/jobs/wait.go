// -----------------------------------------------------------------------
// Query/Wait Utilities - Read-only liveness checks and blocking polls
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/gero/internal/interfaces"
)

// DefaultPollInterval is the sleep between IsEnded polls in WaitUntilEnded
const DefaultPollInterval = 3 * time.Second

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// isRunning checks the store to see whether the job is still running
func isRunning(ctx context.Context, store interfaces.KeyValueStore, jobID string) bool {
	current, err := store.Get(ctx, jobID)
	if err != nil {
		return false
	}
	job, err := JobFromJSON(current.Data)
	return err == nil && job.State == StateRunning
}

// IsRunning returns true if the job's record exists and reads RUNNING
func (c *Controller) IsRunning(ctx context.Context, jobID string) bool {
	return isRunning(ctx, c.store, jobID)
}

// IsEnded returns true if the job's record is gone (treated as already
// ended), its end time is stamped, or it reports cancelled/crashed
func (c *Controller) IsEnded(ctx context.Context, jobID string) bool {
	job, err := c.registry.Get(ctx, jobID)
	if errors.Is(err, ErrJobNotFound) {
		return true
	}
	if err != nil {
		return false
	}
	return job.EndTime > 0 || job.IsCancelled()
}

// WaitUntilEnded blocks until the job is ended, success or not, polling
// IsEnded with a sleep between attempts. A non-positive poll interval
// selects the 3 second default.
func (c *Controller) WaitUntilEnded(ctx context.Context, jobID string, poll time.Duration) error {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	for {
		if c.IsEnded(ctx, jobID) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}
