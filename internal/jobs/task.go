// -----------------------------------------------------------------------
// Task Facility - Completion futures and the bounded execution pool
// -----------------------------------------------------------------------

package jobs

import (
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gero/internal/common"
)

// Future is a one-shot completion handle for a submitted task. It
// completes exactly once, normally or exceptionally; later completions
// are ignored.
type Future struct {
	done chan struct{}
	once sync.Once
	err  error
}

// NewFuture creates a pending future
func NewFuture() *Future {
	return &Future{
		done: make(chan struct{}),
	}
}

// Complete marks the future successfully finished
func (f *Future) Complete() {
	f.once.Do(func() {
		close(f.done)
	})
}

// CompleteExceptionally force-fails a still-pending future. Used by
// cancellation to unblock waiters without stopping the in-flight work.
func (f *Future) CompleteExceptionally(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Join blocks until the task signals completion and returns its failure,
// if any. There is no timeout; cancel the job itself to unblock waiters.
func (f *Future) Join() error {
	<-f.done
	return f.err
}

// IsDone returns true once the future has completed either way
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Pool runs submitted tasks on panic-protected goroutines, at most size
// at a time. Each node runs its own pool; there is no cluster scheduler.
type Pool struct {
	sem    chan struct{}
	logger arbor.ILogger
}

// NewPool creates a pool allowing size concurrent tasks
func NewPool(size int, logger arbor.ILogger) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		sem:    make(chan struct{}, size),
		logger: logger,
	}
}

// Submit schedules fn on the pool and returns immediately. fn is
// responsible for completing its own future.
func (p *Pool) Submit(name string, fn func()) {
	common.SafeGo(p.logger, name, func() {
		p.sem <- struct{}{}
		defer func() { <-p.sem }()
		fn()
	})
}
