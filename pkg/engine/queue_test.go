package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestWorkQueue_PreservesOrder(t *testing.T) {
	q := NewWorkQueue[int](1)

	var mu sync.Mutex
	var started []int
	tasks := make([]Task[int], 0, 5)
	for i := 1; i <= 5; i++ {
		tasks = append(tasks, func(ctx context.Context) (int, error) {
			mu.Lock()
			started = append(started, i)
			mu.Unlock()
			return i * 10, nil
		})
	}

	results, err := q.AddAll(context.Background(), tasks)
	if err != nil {
		t.Fatalf("AddAll failed: %v", err)
	}
	if diff := cmp.Diff([]int{10, 20, 30, 40, 50}, results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2, 3, 4, 5}, started); diff != "" {
		t.Errorf("start order mismatch (-want +got):\n%s", diff)
	}
}

func TestWorkQueue_AbortsOnFirstFailure(t *testing.T) {
	boom := errors.New("task 3 failed")
	var ran [6]atomic.Bool

	var mu sync.Mutex
	var statuses []string
	q := NewWorkQueue[string](1).OnTask(func(status string) {
		mu.Lock()
		statuses = append(statuses, status)
		mu.Unlock()
	})

	tasks := make([]Task[string], 0, 5)
	for i := 1; i <= 5; i++ {
		tasks = append(tasks, func(ctx context.Context) (string, error) {
			ran[i].Store(true)
			if i == 3 {
				return "", boom
			}
			return string(rune('a' + i - 1)), nil
		})
	}

	results, err := q.AddAll(context.Background(), tasks)
	if !errors.Is(err, boom) {
		t.Fatalf("expected task error, got %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, results); diff != "" {
		t.Errorf("completed results mismatch (-want +got):\n%s", diff)
	}
	if ran[4].Load() || ran[5].Load() {
		t.Error("tasks after the failure must not run")
	}
	if diff := cmp.Diff([]string{"ok", "ok", "failed", "skipped", "skipped"}, statuses); diff != "" {
		t.Errorf("status reports mismatch (-want +got):\n%s", diff)
	}
}

func TestWorkQueue_BoundsConcurrency(t *testing.T) {
	const limit = 2
	q := NewWorkQueue[int](limit)

	var active, peak atomic.Int32
	tasks := make([]Task[int], 0, 8)
	for i := 0; i < 8; i++ {
		tasks = append(tasks, func(ctx context.Context) (int, error) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			return i, nil
		})
	}

	results, err := q.AddAll(context.Background(), tasks)
	if err != nil {
		t.Fatalf("AddAll failed: %v", err)
	}
	if len(results) != 8 {
		t.Fatalf("expected 8 results, got %d", len(results))
	}
	for i, r := range results {
		if r != i {
			t.Errorf("results[%d] = %d, want %d", i, r, i)
		}
	}
	if peak.Load() > limit {
		t.Errorf("peak concurrency %d exceeds limit %d", peak.Load(), limit)
	}
}

func TestWorkQueue_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Bool
	q := NewWorkQueue[int](1)
	results, err := q.AddAll(ctx, []Task[int]{
		func(ctx context.Context) (int, error) {
			ran.Store(true)
			return 1, nil
		},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(results) != 0 || ran.Load() {
		t.Error("no task should run on a cancelled context")
	}
}

func TestNewWorkQueue_MinimumConcurrency(t *testing.T) {
	if got := NewWorkQueue[int](0).Concurrency(); got != 1 {
		t.Errorf("Concurrency() = %d, want 1", got)
	}
}
