// -----------------------------------------------------------------------
// Job Record - Identity, timestamps and lifecycle state of one job
// -----------------------------------------------------------------------

package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/gero/internal/common"
)

// State is the lifecycle state of a job. RUNNING is the sole initial
// state; the other three are terminal and never transition further.
type State string

const (
	StateRunning   State = "RUNNING"
	StateCancelled State = "CANCELLED"
	StateCrashed   State = "CRASHED"
	StateDone      State = "DONE"
)

// CancelledEndTime marks a job cancelled before timing completed
const CancelledEndTime int64 = -1

// Job represents one submitted unit of work and its lifecycle state,
// stored in the cluster under its own key and listed in the registry.
//
// Invariant: State == RUNNING exactly while EndTime == 0. Once terminal,
// the stored record is replaced by its compacted handle (same struct with
// the subtype configuration stripped), bounding long-term storage cost.
type Job struct {
	ID            string `json:"id" validate:"required"`
	Destination   string `json:"destination" validate:"required"` // Key holding the final value after the job is removed
	Description   string `json:"description" validate:"required"`
	StartTime     int64  `json:"start_time"` // Epoch milliseconds
	EndTime       int64  `json:"end_time"`   // 0 = not yet finished, -1 = cancelled before timing completed
	State         State  `json:"state"`
	FailureDetail string `json:"failure_detail,omitempty"` // Set only when State == CRASHED

	// Config is the job-subtype configuration snapshot. Dropped by
	// compaction; never read by the lifecycle core itself.
	Config map[string]interface{} `json:"config,omitempty"`
}

// NewJob creates a job record bound to its own key and the destination
// key its result will be written to
func NewJob(id, destination, description string) *Job {
	return &Job{
		ID:          id,
		Destination: destination,
		Description: description,
	}
}

// NewDefaultJob creates a job with generated job and destination keys
func NewDefaultJob(description string) *Job {
	return &Job{
		ID:          common.NewJobKey(),
		Destination: common.NewResultKey("result"),
		Description: description,
	}
}

// IsTerminal returns true if the job reached CANCELLED, CRASHED or DONE
func (j *Job) IsTerminal() bool {
	return j.State == StateCancelled || j.State == StateCrashed || j.State == StateDone
}

// IsCancelled returns true if the job was cancelled or crashed
func (j *Job) IsCancelled() bool {
	return j.State == StateCancelled || j.State == StateCrashed
}

// Handle returns the reduced terminal projection of the record: identity,
// timestamps, state and failure detail survive, subtype configuration is
// dropped
func (j *Job) Handle() *Job {
	return &Job{
		ID:            j.ID,
		Destination:   j.Destination,
		Description:   j.Description,
		StartTime:     j.StartTime,
		EndTime:       j.EndTime,
		State:         j.State,
		FailureDetail: j.FailureDetail,
	}
}

// RunTime returns how long the job has been (or was) running
func (j *Job) RunTime() time.Duration {
	if j.StartTime == 0 {
		return 0
	}
	until := j.EndTime
	if until <= 0 {
		until = time.Now().UnixMilli()
	}
	return time.Duration(until-j.StartTime) * time.Millisecond
}

// ToJSON serializes the job record for store persistence
func (j *Job) ToJSON() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return data, nil
}

// JobFromJSON deserializes a job record from its stored form
func JobFromJSON(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}
