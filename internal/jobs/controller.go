// -----------------------------------------------------------------------
// Execution Controller - Drives jobs through submission, execution,
// completion, cancellation and removal
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gero/internal/common"
	"github.com/ternarybob/gero/internal/interfaces"
)

// Work is the computation a job performs. It returns the terminal state
// the job should reach; the lifecycle core treats it as opaque. Work that
// wants prompt abort on cancellation checks IsRunning periodically.
type Work func(ctx context.Context) (State, error)

// ResultDecoder turns a stored destination value into a typed result so
// the controller can probe it for the Progresser capability
type ResultDecoder func(data []byte) (interface{}, error)

// Controller bridges job records to the task facility: it validates and
// starts jobs, runs their work asynchronously or inline, and settles them
// into a terminal state exactly once.
type Controller struct {
	store    interfaces.KeyValueStore
	registry *Registry
	pool     *Pool
	logger   arbor.ILogger
	validate *validator.Validate
	salt     string

	// OnCancelled, when set, runs on a fresh goroutine after a
	// cancellation is durably visible in the store
	OnCancelled func(job *Job)

	// decodeResult decodes destination values for progress queries
	decodeResult ResultDecoder

	mu      sync.Mutex
	futures map[string]*Future
}

// NewController creates a controller over the given store and registry.
// salt scopes progress keys to this node.
func NewController(store interfaces.KeyValueStore, registry *Registry, pool *Pool, logger arbor.ILogger, salt string) *Controller {
	if salt == "" {
		salt = common.NewNodeSalt()
	}
	return &Controller{
		store:        store,
		registry:     registry,
		pool:         pool,
		logger:       logger,
		validate:     validator.New(),
		salt:         salt,
		decodeResult: decodeSnapshot,
		futures:      make(map[string]*Future),
	}
}

// SetResultDecoder overrides how destination values are decoded for
// progress queries
func (c *Controller) SetResultDecoder(decode ResultDecoder) {
	if decode != nil {
		c.decodeResult = decode
	}
}

// Registry returns the registry this controller coordinates through
func (c *Controller) Registry() *Registry {
	return c.registry
}

// prepare assigns default keys and validates the job configuration.
// Raised errors abort submission before any registry mutation.
func (c *Controller) prepare(job *Job) error {
	if job.StartTime != 0 || job.State != "" {
		return ErrAlreadyStarted
	}
	if job.ID == "" {
		job.ID = common.NewJobKey()
	}
	if job.Destination == "" {
		job.Destination = common.NewResultKey("result")
	}
	if err := c.validate.Struct(job); err != nil {
		return fmt.Errorf("invalid job configuration: %w", err)
	}
	return nil
}

// Start writes the full record to the store and appends its key to the
// registry. Must be called exactly once per job instance before execution
// begins.
func (c *Controller) Start(ctx context.Context, job *Job) error {
	if job.StartTime != 0 {
		return ErrAlreadyStarted
	}

	job.StartTime = nowMillis()
	job.EndTime = 0
	job.State = StateRunning

	data, err := job.ToJSON()
	if err != nil {
		return err
	}
	if err := c.store.Put(ctx, job.ID, data); err != nil {
		return fmt.Errorf("failed to store job %s: %w", job.ID, err)
	}

	if err := c.registry.Append(ctx, job.ID); err != nil {
		return err
	}

	c.logger.Info().Str("job", job.ID).Str("description", job.Description).Msg("Job started")
	return nil
}

// Fork validates and starts the job, then submits its work to the pool
// and returns immediately with a future the caller may block on
func (c *Controller) Fork(ctx context.Context, job *Job, work Work) (*Future, error) {
	if err := c.prepare(job); err != nil {
		return nil, err
	}

	future := NewFuture()
	c.putFuture(job.ID, future)

	if err := c.Start(ctx, job); err != nil {
		c.dropFuture(job.ID)
		return nil, err
	}

	c.pool.Submit("job "+job.ID, func() {
		c.runWork(job, work, future)
	})

	return future, nil
}

// Invoke validates, starts and runs the job inline on the caller's
// goroutine. Execution errors propagate to the caller, which stays
// responsible for cancelling.
func (c *Controller) Invoke(ctx context.Context, job *Job, work Work) error {
	if err := c.prepare(job); err != nil {
		return err
	}
	if err := c.Start(ctx, job); err != nil {
		return err
	}

	state, err := work(ctx)
	if err != nil {
		return err
	}
	if state == StateDone {
		return c.Remove(ctx, job)
	}
	return nil
}

// runWork executes the job's work on a pool goroutine: a DONE result
// removes the job, any failure routes through cancellation, and the
// future completes exactly once either way.
func (c *Controller) runWork(job *Job, work Work, future *Future) {
	ctx := context.Background()

	var state State
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 8192)
				n := runtime.Stack(buf, false)
				err = fmt.Errorf("%s", common.FormatPanicTrace(r, buf[:n]))
			}
		}()
		state, err = work(ctx)
	}()

	if err != nil {
		if IsDebugError(err) {
			c.logger.Warn().Err(err).Str("job", job.ID).Msg("Job crashed with an expected debug failure")
		} else {
			c.logger.Error().Err(err).Str("job", job.ID).Msg("Job crashed")
		}
		if cerr := c.CancelError(ctx, job, err); cerr != nil {
			c.logger.Error().Err(cerr).Str("job", job.ID).Msg("Failed to cancel crashed job")
		}
		// CancelError fails the future; this is the backstop when the
		// record was already terminal
		future.CompleteExceptionally(err)
		return
	}

	if state == StateDone {
		if rerr := c.Remove(ctx, job); rerr != nil {
			c.logger.Error().Err(rerr).Str("job", job.ID).Msg("Failed to remove finished job")
		}
	}
	future.Complete()
}

// Get blocks until the forked task signals completion, then reads and
// returns the value at the job's destination. Removal afterwards is a
// safety net and is idempotent.
func (c *Controller) Get(ctx context.Context, job *Job) ([]byte, error) {
	future := c.future(job.ID)
	if future == nil {
		return nil, fmt.Errorf("job %s was not forked on this node", job.ID)
	}

	if err := future.Join(); err != nil {
		return nil, err
	}
	c.dropFuture(job.ID)

	result, err := c.store.Get(ctx, job.Destination)
	if err != nil && !errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, fmt.Errorf("failed to read result %s: %w", job.Destination, err)
	}

	if rerr := c.Remove(ctx, job); rerr != nil {
		c.logger.Warn().Err(rerr).Str("job", job.ID).Msg("Failed to remove job after get")
	}

	if result == nil {
		return nil, nil
	}
	return result.Data, nil
}

// Cancel flips the job to CANCELLED. Calling it on an already-terminal
// job leaves the existing terminal state untouched.
func (c *Controller) Cancel(ctx context.Context, job *Job) error {
	return c.cancelWith(ctx, job, StateCancelled, "", ErrCancelled)
}

// CancelMessage flips the job to CRASHED with msg as its failure detail.
// An empty message degrades to a plain cancellation.
func (c *Controller) CancelMessage(ctx context.Context, job *Job, msg string) error {
	if msg == "" {
		return c.Cancel(ctx, job)
	}
	return c.cancelWith(ctx, job, StateCrashed, msg, ErrCancelled)
}

// CancelError flips the job to CRASHED, recording the failure's message
// in the stored record and force-failing any pending waiter
func (c *Controller) CancelError(ctx context.Context, job *Job, err error) error {
	detail := fmt.Sprintf("Got error '%T', with msg '%v'", err, err)
	return c.cancelWith(ctx, job, StateCrashed, detail, err)
}

// cancelWith settles the job into a terminal state, compacts it and
// waits for the write to be durably visible before firing the
// cancellation hook. Other nodes never observe a state that is about to
// be overwritten.
func (c *Controller) cancelWith(ctx context.Context, job *Job, state State, detail string, cause error) error {
	if job.IsTerminal() {
		return nil
	}
	if current, err := c.registry.Get(ctx, job.ID); err == nil && current.IsTerminal() {
		// Another writer already decided; adopt its terminal state
		*job = *current
		return nil
	}

	if future := c.future(job.ID); future != nil && !future.IsDone() {
		future.CompleteExceptionally(cause)
	}

	job.State = state
	job.FailureDetail = detail
	if job.EndTime == 0 {
		job.EndTime = CancelledEndTime
	}

	if err := c.compact(ctx, job); err != nil {
		return err
	}
	if err := c.store.WriteBarrier(ctx); err != nil {
		return fmt.Errorf("failed to flush cancellation of %s: %w", job.ID, err)
	}

	if c.OnCancelled != nil {
		hook := c.OnCancelled
		common.SafeGo(c.logger, "onCancelled "+job.ID, func() {
			hook(job)
		})
	}

	c.logger.Info().Str("job", job.ID).Str("state", string(state)).Msg("Job cancelled")
	return nil
}

// Remove settles a finished job: the end time is stamped, a still-running
// state is promoted to DONE and the stored record is compacted. Progress
// snapshots for the job's destination are cleaned up best-effort.
func (c *Controller) Remove(ctx context.Context, job *Job) error {
	if job.EndTime == 0 {
		job.EndTime = nowMillis()
	}
	if job.State == StateRunning || job.State == "" {
		job.State = StateDone
	}

	if err := c.compact(ctx, job); err != nil {
		return err
	}

	c.removeProgress(ctx, job)
	return nil
}

// compact atomically replaces the full record with its reduced handle,
// preserving the stored start time even when a concurrent writer mutated
// the record in between. Only legal once a terminal state was decided.
func (c *Controller) compact(ctx context.Context, job *Job) error {
	if job.State == StateRunning {
		return fmt.Errorf("job %s is still running and cannot be compacted", job.ID)
	}

	return UpdateJSON(ctx, c.store, job.ID, func(old *Job) (*Job, error) {
		if old == nil {
			// Record already gone, nothing to compact
			return nil, nil
		}
		handle := job.Handle()
		handle.StartTime = old.StartTime
		return handle, nil
	})
}

// removeProgress drops any progress snapshots keyed under the job's
// destination
func (c *Controller) removeProgress(ctx context.Context, job *Job) {
	keys, err := c.store.Keys(ctx, ProgressKeyPrefix+job.Destination+"/")
	if err != nil {
		c.logger.Warn().Err(err).Str("job", job.ID).Msg("Failed to list progress snapshots for cleanup")
		return
	}
	for _, key := range keys {
		if err := c.store.Remove(ctx, key); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("Failed to remove progress snapshot")
		}
	}
}

// NewTracker creates a progress tracker for the job, salted to this node
func (c *Controller) NewTracker(ctx context.Context, job *Job, total int64) (*Tracker, error) {
	return NewTracker(ctx, c.store, c.logger, job, total, c.salt)
}

// Progress reads the value at the job's destination and, if it exposes
// the Progresser capability, delegates to it. Anything else reports 0.
func (c *Controller) Progress(ctx context.Context, job *Job) float64 {
	current, err := c.store.Get(ctx, job.Destination)
	if err != nil {
		return 0
	}

	value, err := c.decodeResult(current.Data)
	if err != nil {
		return 0
	}
	if p, ok := value.(Progresser); ok {
		return p.Progress()
	}
	return 0
}

// decodeSnapshot is the default result decoder: destination values that
// parse as progress snapshots expose the Progresser capability
func decodeSnapshot(data []byte) (interface{}, error) {
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	if snapshot.Status == "" {
		return nil, fmt.Errorf("destination value is not a progress snapshot")
	}
	return &snapshot, nil
}

func (c *Controller) putFuture(jobID string, future *Future) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.futures[jobID] = future
}

func (c *Controller) future(jobID string) *Future {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.futures[jobID]
}

func (c *Controller) dropFuture(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.futures, jobID)
}
