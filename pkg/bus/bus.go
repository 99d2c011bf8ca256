package bus

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrBusClosed is returned when dispatching to a closed WorkBus.
var ErrBusClosed = errors.New("work bus closed")

// WorkBus connects the daemon's scheduler to its worker pool. Jobs go
// through an unbuffered channel, so a dispatch completes only when a
// worker takes the job. Completions flow back through a channel sized
// to the pool, so a worker never blocks on reporting.
type WorkBus struct {
	jobs        chan Job
	completions chan Completion
	done        chan struct{}
	closed      atomic.Bool
}

func NewWorkBus(workers int) *WorkBus {
	if workers < 1 {
		workers = 1
	}
	return &WorkBus{
		jobs:        make(chan Job),
		completions: make(chan Completion, workers),
		done:        make(chan struct{}),
	}
}

// Dispatch hands job to the next idle worker, blocking until one
// receives it.
func (wb *WorkBus) Dispatch(ctx context.Context, job Job) error {
	if wb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case wb.jobs <- job:
		return nil
	case <-wb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (wb *WorkBus) ConsumeJob(ctx context.Context) (Job, bool) {
	select {
	case job, ok := <-wb.jobs:
		return job, ok
	case <-wb.done:
		return Job{}, false
	case <-ctx.Done():
		return Job{}, false
	}
}

// PublishCompletion prefers delivery over shutdown: a completion that
// fits in the buffer is always queued.
func (wb *WorkBus) PublishCompletion(ctx context.Context, c Completion) error {
	select {
	case wb.completions <- c:
		return nil
	default:
	}
	select {
	case wb.completions <- c:
		return nil
	case <-wb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Completions is read by the scheduler alongside its poll ticker.
func (wb *WorkBus) Completions() <-chan Completion {
	return wb.completions
}

// Done is closed by Close.
func (wb *WorkBus) Done() <-chan struct{} {
	return wb.done
}

func (wb *WorkBus) Close() {
	if wb.closed.CompareAndSwap(false, true) {
		close(wb.done)
	}
}
