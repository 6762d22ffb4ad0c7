package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestEveryStopsWhenStepReturnsFalse(t *testing.T) {
	var calls atomic.Int32
	task := Every(context.Background(), time.Millisecond, func(context.Context) bool {
		return calls.Add(1) < 3
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := task.Wait(ctx); err != nil {
		t.Fatalf("expected task to finish: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 steps, got %d", calls.Load())
	}
}

func TestCancelPreventsFurtherSteps(t *testing.T) {
	var calls atomic.Int32
	task := Every(context.Background(), time.Millisecond, func(context.Context) bool {
		calls.Add(1)
		return true
	})
	time.Sleep(10 * time.Millisecond)
	task.Cancel()
	task.Cancel()

	stopped := calls.Load()
	time.Sleep(10 * time.Millisecond)
	if calls.Load() != stopped {
		t.Fatalf("expected no steps after cancel, got %d more", calls.Load()-stopped)
	}
	select {
	case <-task.Done():
	default:
		t.Fatal("expected done channel to be closed")
	}
}

func TestParentContextStopsTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	task := Every(ctx, time.Hour, func(context.Context) bool { return true })
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	if err := task.Wait(waitCtx); err != nil {
		t.Fatalf("expected parent cancel to stop the task: %v", err)
	}
}
