package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gero/internal/storage/memory"
)

func TestSnapshotFractionCappedWhileComputing(t *testing.T) {
	s := NewSnapshot(10)
	assert.Equal(t, 0.0, s.Fraction())

	s = s.withAdded(5)
	assert.InDelta(t, 0.5, s.Fraction(), 1e-9)

	// Even a full count reads 0.99 until the terminal transition fires
	s = s.withAdded(5)
	assert.Equal(t, 0.99, s.Fraction())

	assert.Equal(t, 1.0, s.Done().Fraction())
}

func TestSnapshotFractionMonotonic(t *testing.T) {
	s := NewSnapshot(100)
	last := s.Fraction()
	for i := 0; i < 100; i++ {
		s = s.withAdded(1)
		f := s.Fraction()
		assert.GreaterOrEqual(t, f, last)
		assert.LessOrEqual(t, f, 0.99)
		last = f
	}
}

func TestSnapshotTerminalWinsOverStrayAdvance(t *testing.T) {
	s := NewSnapshot(10).Cancelled()
	assert.Same(t, s, s.withAdded(3), "cancelled snapshot ignores increments")

	s = NewSnapshot(10).Failed("boom")
	assert.Same(t, s, s.withAdded(3), "error snapshot ignores increments")
	assert.Equal(t, "boom", s.Error)
}

func TestSnapshotZeroTotal(t *testing.T) {
	s := NewSnapshot(0)
	assert.Equal(t, 0.0, s.Fraction())
	assert.Equal(t, 1.0, s.Done().Fraction())
}

func newRunningJob(t *testing.T, store *memory.KVStore, id, dest string) *Job {
	t.Helper()
	job := NewJob(id, dest, "tracked job")
	job.State = StateRunning
	job.StartTime = time.Now().UnixMilli()
	putJob(t, store, job)
	return job
}

func TestTrackerAdvanceAndFinish(t *testing.T) {
	store := memory.NewKVStore()
	logger := arbor.NewLogger()
	ctx := context.Background()

	job := newRunningJob(t, store, "job-1", "dest-1")

	tracker, err := NewTracker(ctx, store, logger, job, 10, "node-a")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		tracker.Advance(ctx, 3)
	}

	// Advances are fire-and-forget; wait for them to land
	require.Eventually(t, func() bool {
		s, err := tracker.Snapshot(ctx)
		return err == nil && s.Count == 9
	}, 2*time.Second, 10*time.Millisecond)

	s, err := tracker.Snapshot(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, s.Fraction(), 1e-9)

	require.NoError(t, tracker.Finish(ctx))

	s, err = tracker.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, ProgressDone, s.Status)
	assert.Equal(t, 1.0, s.Fraction(), "finish pins the fraction to 1.0, not 0.9")
}

func TestTrackerAdvanceDroppedWhenJobNotRunning(t *testing.T) {
	store := memory.NewKVStore()
	logger := arbor.NewLogger()
	ctx := context.Background()

	job := newRunningJob(t, store, "job-1", "dest-1")
	tracker, err := NewTracker(ctx, store, logger, job, 10, "node-a")
	require.NoError(t, err)

	// Flip the stored record to a terminal state, as a remote cancel would
	job.State = StateCancelled
	job.EndTime = CancelledEndTime
	putJob(t, store, job)

	tracker.Advance(ctx, 5)

	time.Sleep(50 * time.Millisecond)
	s, err := tracker.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.Count, "increment after cancellation is silently dropped")
}

func TestTrackerFailClearsDestination(t *testing.T) {
	store := memory.NewKVStore()
	logger := arbor.NewLogger()
	ctx := context.Background()

	job := newRunningJob(t, store, "job-1", "dest-1")
	require.NoError(t, store.Put(ctx, "dest-1", []byte(`"partial result"`)))

	tracker, err := NewTracker(ctx, store, logger, job, 10, "node-a")
	require.NoError(t, err)

	require.NoError(t, tracker.Fail(ctx, assert.AnError))

	_, err = store.Get(ctx, "dest-1")
	assert.Error(t, err, "half-written destination value is cleared")

	s, err := tracker.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, ProgressError, s.Status)
	assert.Equal(t, assert.AnError.Error(), s.Error)
}

func TestTrackerRemove(t *testing.T) {
	store := memory.NewKVStore()
	logger := arbor.NewLogger()
	ctx := context.Background()

	job := newRunningJob(t, store, "job-1", "dest-1")
	tracker, err := NewTracker(ctx, store, logger, job, 10, "node-a")
	require.NoError(t, err)

	require.NoError(t, tracker.Remove(ctx))
	_, err = tracker.Snapshot(ctx)
	assert.Error(t, err)
}
