package jobs

import (
	"errors"
	"fmt"
)

// ErrJobNotFound is returned when a job record does not exist in the store
var ErrJobNotFound = errors.New("job not found")

// ErrCancelled signals that a job was cancelled before producing a result
var ErrCancelled = errors.New("job was cancelled")

// ErrAlreadyStarted is returned when Start is called twice on one job instance
var ErrAlreadyStarted = errors.New("job already started")

// DebugError wraps a failure that was intentionally triggered during
// debugging or testing. The job still crashes, but the failure is logged
// at warn level instead of error level.
type DebugError struct {
	Err error
}

func (e *DebugError) Error() string {
	return fmt.Sprintf("expected debug failure: %v", e.Err)
}

func (e *DebugError) Unwrap() error {
	return e.Err
}

// IsDebugError reports whether err is (or wraps) a DebugError
func IsDebugError(err error) bool {
	var de *DebugError
	return errors.As(err, &de)
}
