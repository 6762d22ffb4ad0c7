// Package schedule runs cancellable repeating tasks.
package schedule

import (
	"context"
	"sync"
	"time"
)

// StepFunc runs once per tick. Returning false stops the task.
type StepFunc func(ctx context.Context) bool

// Task is a running repetition started by Every.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Every calls step after each interval until step returns false, ctx is done
// or Cancel is called. No step starts after Cancel returns.
func Every(ctx context.Context, interval time.Duration, step StepFunc) *Task {
	taskCtx, cancel := context.WithCancel(ctx)
	task := &Task{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(task.done)
		defer cancel()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-taskCtx.Done():
				return
			case <-ticker.C:
				if taskCtx.Err() != nil {
					return
				}
				if !step(taskCtx) {
					return
				}
			}
		}
	}()
	return task
}

// Cancel stops the task and waits for a step in progress to return.
func (t *Task) Cancel() {
	t.once.Do(t.cancel)
	<-t.done
}

// Done is closed once the task has stopped.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task stops or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
