// -----------------------------------------------------------------------
// Progress Tracker - Versioned completion snapshot of a running job
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gero/internal/interfaces"
)

// ProgressStatus is the lifecycle status of a progress snapshot
type ProgressStatus string

const (
	ProgressComputing ProgressStatus = "COMPUTING"
	ProgressDone      ProgressStatus = "DONE"
	ProgressCancelled ProgressStatus = "CANCELLED"
	ProgressError     ProgressStatus = "ERROR"
)

// ProgressKeyPrefix namespaces all progress snapshot keys in the store
const ProgressKeyPrefix = "progress/"

// ProgressKey derives the store key for a job's progress snapshot from the
// job's destination and a node-scoped salt. The salt keeps the key
// colocated with the owning node for the common single-writer case.
func ProgressKey(destination, salt string) string {
	return ProgressKeyPrefix + destination + "/" + salt
}

// Progresser is implemented by stored values that can report a completion
// fraction. The controller probes result values for this capability when
// answering progress queries.
type Progresser interface {
	Progress() float64
}

// Snapshot is an immutable progress record. Updates replace it wholesale;
// Advance produces a copy with the count increased.
type Snapshot struct {
	Total  int64          `json:"total_units"`
	Count  int64          `json:"completed_units"`
	Status ProgressStatus `json:"status"`
	Error  string         `json:"error_message,omitempty"` // Set only in ERROR
}

// NewSnapshot creates a fresh Computing snapshot for total work units
func NewSnapshot(total int64) *Snapshot {
	return &Snapshot{
		Total:  total,
		Count:  0,
		Status: ProgressComputing,
	}
}

// withAdded returns a copy advanced by n units. Terminal snapshots are
// returned unchanged; a stray late increment loses to a terminal write.
func (s *Snapshot) withAdded(n int64) *Snapshot {
	if s.Status == ProgressCancelled || s.Status == ProgressError {
		return s
	}
	return &Snapshot{
		Total:  s.Total,
		Count:  s.Count + n,
		Status: ProgressComputing,
	}
}

// Done returns the terminal success snapshot with the count pinned to the
// total
func (s *Snapshot) Done() *Snapshot {
	return &Snapshot{
		Total:  s.Total,
		Count:  s.Total,
		Status: ProgressDone,
	}
}

// Cancelled returns the terminal cancelled snapshot
func (s *Snapshot) Cancelled() *Snapshot {
	return &Snapshot{Status: ProgressCancelled}
}

// Failed returns the terminal error snapshot
func (s *Snapshot) Failed(msg string) *Snapshot {
	return &Snapshot{Status: ProgressError, Error: msg}
}

// IsDone returns true once the snapshot reached DONE or ERROR
func (s *Snapshot) IsDone() bool {
	return s.Status == ProgressDone || s.Status == ProgressError
}

// Fraction returns the completion fraction in [0,1]. It is exactly 1.0
// only once DONE, and is capped at 0.99 while still computing so a
// progress bar never reads 100% before the terminal transition fires.
func (s *Snapshot) Fraction() float64 {
	if s.Status == ProgressDone {
		return 1.0
	}
	if s.Total <= 0 {
		return 0
	}
	fraction := float64(s.Count) / float64(s.Total)
	if fraction > 0.99 {
		return 0.99
	}
	return fraction
}

// Progress implements the Progresser capability
func (s *Snapshot) Progress() float64 {
	return s.Fraction()
}

// Tracker publishes progress snapshots for one running job. The snapshot
// is owned by the executing task but readable by any node.
type Tracker struct {
	store  interfaces.KeyValueStore
	logger arbor.ILogger
	key    string
	jobID  string
	dest   string
	total  int64
}

// NewTracker stores a fresh Computing snapshot for the job and returns
// the tracker that will advance it
func NewTracker(ctx context.Context, store interfaces.KeyValueStore, logger arbor.ILogger, job *Job, total int64, salt string) (*Tracker, error) {
	t := &Tracker{
		store:  store,
		logger: logger,
		key:    ProgressKey(job.Destination, salt),
		jobID:  job.ID,
		dest:   job.Destination,
		total:  total,
	}

	if err := t.put(ctx, NewSnapshot(total)); err != nil {
		return nil, err
	}
	return t, nil
}

// Key returns the store key the snapshot lives under
func (t *Tracker) Key() string {
	return t.key
}

// Advance adds n completed units, fire-and-forget. The update only fires
// while the owning job still reads RUNNING; the check is made immediately
// before applying, so a just-cancelled job's last in-flight increment may
// be silently dropped. That race is benign and accepted.
func (t *Tracker) Advance(ctx context.Context, n int64) {
	if !isRunning(ctx, t.store, t.jobID) {
		return
	}

	UpdateAsync(t.store, t.key, func(raw []byte) ([]byte, error) {
		if raw == nil {
			// Snapshot already removed, nothing to advance
			return nil, nil
		}
		var old Snapshot
		if err := json.Unmarshal(raw, &old); err != nil {
			return nil, fmt.Errorf("failed to unmarshal progress snapshot: %w", err)
		}
		return json.Marshal(old.withAdded(n))
	}, t.logger)
}

// Finish replaces the snapshot wholesale with the terminal DONE state.
// Always effective; a terminal write wins over any racing Advance.
func (t *Tracker) Finish(ctx context.Context) error {
	return t.put(ctx, NewSnapshot(t.total).Done())
}

// MarkError replaces the snapshot wholesale with the terminal ERROR state
func (t *Tracker) MarkError(ctx context.Context, msg string) error {
	return t.put(ctx, NewSnapshot(t.total).Failed(msg))
}

// Fail records an execution failure: the half-written destination value is
// cleared and the snapshot flips to ERROR. The caller is expected to
// cancel the owning job afterwards.
func (t *Tracker) Fail(ctx context.Context, err error) error {
	if rerr := t.store.Remove(ctx, t.dest); rerr != nil {
		t.logger.Warn().Err(rerr).Str("key", t.dest).Msg("Failed to clear destination after job failure")
	}
	return t.MarkError(ctx, err.Error())
}

// Snapshot reads the current snapshot from the store
func (t *Tracker) Snapshot(ctx context.Context) (*Snapshot, error) {
	current, err := t.store.Get(ctx, t.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read progress snapshot: %w", err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(current.Data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress snapshot: %w", err)
	}
	return &snapshot, nil
}

// Remove deletes the snapshot; called when the owning job is removed
func (t *Tracker) Remove(ctx context.Context) error {
	return t.store.Remove(ctx, t.key)
}

func (t *Tracker) put(ctx context.Context, snapshot *Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal progress snapshot: %w", err)
	}
	if err := t.store.Put(ctx, t.key, data); err != nil {
		return fmt.Errorf("failed to store progress snapshot: %w", err)
	}
	return nil
}
