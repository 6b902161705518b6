package exec

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Executor schedules submitted work. Implementations differ in where and
// how concurrently the work runs; callers interact only with Tasks.
type Executor interface {
	Submit(ctx context.Context, fn Fn) *Task
}

// Serial runs work inline on the calling goroutine. Suspension happens only
// at the I/O boundaries inside fn itself.
type Serial struct{}

// NewSerial creates the inline executor.
func NewSerial() *Serial { return &Serial{} }

// Submit runs fn immediately and returns an already-completed task.
func (s *Serial) Submit(ctx context.Context, fn Fn) *Task {
	t := newTask()
	v, err := fn(ctx)
	t.complete(v, err)
	return t
}

// Async runs each submission on its own goroutine, unbounded. It backs
// cooperative graphs whose work suspends at I/O boundaries.
type Async struct{}

// NewAsync creates the unbounded executor.
func NewAsync() *Async { return &Async{} }

// Submit schedules fn on a fresh goroutine.
func (a *Async) Submit(ctx context.Context, fn Fn) *Task {
	t := newTask()
	go func() {
		v, err := fn(ctx)
		t.complete(v, err)
	}()
	return t
}

// Pool dispatches work to goroutines bounded by a weighted semaphore.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a bounded executor with the given worker count.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers))}
}

// Submit schedules fn on the pool. Acquisition failure (canceled context)
// completes the task with the context error.
func (p *Pool) Submit(ctx context.Context, fn Fn) *Task {
	t := newTask()
	go func() {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			t.complete(nil, err)
			return
		}
		defer p.sem.Release(1)
		v, err := fn(ctx)
		t.complete(v, err)
	}()
	return t
}
