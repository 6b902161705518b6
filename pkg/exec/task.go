// Package exec provides the task abstraction behind op execution: a small
// future/promise plus three backing executors (serial, pooled, sharded)
// unified behind one submit/join interface.
package exec

import "context"

// Fn is a unit of work submitted to an executor.
type Fn func(ctx context.Context) (any, error)

// Task is a handle to a submitted unit of work.
type Task struct {
	done  chan struct{}
	value any
	err   error
}

func newTask() *Task {
	return &Task{done: make(chan struct{})}
}

func (t *Task) complete(value any, err error) {
	t.value = value
	t.err = err
	close(t.done)
}

// Wait blocks until the task completes or ctx is done. The work itself is
// not interrupted on cancellation; it is abandoned and left to finish.
func (t *Task) Wait(ctx context.Context) (any, error) {
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Go runs fn on a fresh goroutine and returns its task.
func Go(fn func() (any, error)) *Task {
	t := newTask()
	go func() {
		t.complete(fn())
	}()
	return t
}

// Done reports whether the task has completed.
func (t *Task) Done() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Result is a completed task outcome paired with its submission index.
type Result struct {
	Index int
	Value any
	Err   error
}

// JoinAll waits for every task and returns the outcomes in completion order.
func JoinAll(ctx context.Context, tasks []*Task) []Result {
	remaining := make(map[int]*Task, len(tasks))
	for i, t := range tasks {
		remaining[i] = t
	}

	collected := make(chan Result, len(tasks))
	for i, t := range remaining {
		go func(i int, t *Task) {
			v, err := t.Wait(ctx)
			collected <- Result{Index: i, Value: v, Err: err}
		}(i, t)
	}

	out := make([]Result, 0, len(tasks))
	for range tasks {
		out = append(out, <-collected)
	}
	return out
}
