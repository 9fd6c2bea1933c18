package maintenance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gero/internal/jobs"
	"github.com/ternarybob/gero/internal/storage/memory"
)

func newTestService() (*Service, *jobs.Controller, *memory.KVStore) {
	store := memory.NewKVStore()
	logger := arbor.NewLogger()
	registry := jobs.NewRegistry(store, logger)
	pool := jobs.NewPool(2, logger)
	controller := jobs.NewController(store, registry, pool, logger, "node-a")
	return NewService(store, controller, logger), controller, store
}

func TestSweepRemovesOrphanedSnapshots(t *testing.T) {
	service, controller, store := newTestService()
	ctx := context.Background()

	// A running job keeps its snapshot
	running := jobs.NewJob("job-running", "dest-running", "still going")
	require.NoError(t, controller.Start(ctx, running))
	liveTracker, err := controller.NewTracker(ctx, running, 10)
	require.NoError(t, err)

	// An ended job whose node died before snapshot cleanup
	dead := jobs.NewJob("job-dead", "dest-dead", "died mid-flight")
	require.NoError(t, controller.Start(ctx, dead))
	deadTracker, err := controller.NewTracker(ctx, dead, 10)
	require.NoError(t, err)
	require.NoError(t, controller.Cancel(ctx, dead))
	// Re-create the snapshot the dead node failed to clean up
	require.NoError(t, store.Put(ctx, deadTracker.Key(), []byte(`{"total_units":10,"completed_units":2,"status":"COMPUTING"}`)))

	// A snapshot whose job was never committed at all
	require.NoError(t, store.Put(ctx, "progress/dest-ghost/node-b", []byte(`{"status":"COMPUTING"}`)))

	require.NoError(t, service.Sweep(ctx))

	_, err = store.Get(ctx, liveTracker.Key())
	assert.NoError(t, err, "running job keeps its snapshot")

	_, err = store.Get(ctx, deadTracker.Key())
	assert.Error(t, err, "ended job's snapshot is swept")

	_, err = store.Get(ctx, "progress/dest-ghost/node-b")
	assert.Error(t, err, "unregistered snapshot is swept")
}

func TestStartRejectsBadSchedule(t *testing.T) {
	service, _, _ := newTestService()
	assert.Error(t, service.Start("not a schedule"))
}

func TestStartAndStop(t *testing.T) {
	service, _, _ := newTestService()

	require.NoError(t, service.Start("@every 1h"))
	assert.Error(t, service.Start("@every 1h"), "second start while running fails")

	service.Stop()
	service.Stop() // stopping twice is harmless
}
