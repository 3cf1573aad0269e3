package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPoolExecutesJobs(t *testing.T) {
	pool := NewWorkerPool(3, 6)
	defer pool.Close()

	var count int32
	for i := 0; i < 10; i++ {
		if err := pool.Submit(context.Background(), func() {
			atomic.AddInt32(&count, 1)
		}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	pool.Close()
	pool.Wait()

	if got := atomic.LoadInt32(&count); got != 10 {
		t.Fatalf("expected 10 jobs executed, got %d", got)
	}
}

func TestWorkerPoolSubmitAfterClose(t *testing.T) {
	pool := NewWorkerPool(1, 1)
	pool.Close()
	if err := pool.Submit(context.Background(), func() {}); err != ErrWorkerPoolClosed {
		t.Fatalf("expected ErrWorkerPoolClosed, got %v", err)
	}
}

func TestWorkerPoolSurvivesPanickingJob(t *testing.T) {
	pool := NewWorkerPool(1, 2)

	var ran atomic.Bool
	if err := pool.Submit(context.Background(), func() { panic("handler bug") }); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := pool.Submit(context.Background(), func() { ran.Store(true) }); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	pool.Close()
	pool.Wait()

	if !ran.Load() {
		t.Fatalf("job after a panic did not run")
	}
	if n := pool.InFlight(); n != 0 {
		t.Fatalf("expected no jobs in flight, got %d", n)
	}
}

func TestWorkerPoolSubmitHonorsContextWhenFull(t *testing.T) {
	pool := NewWorkerPool(1, 1)
	release := make(chan struct{})
	started := make(chan struct{})
	defer func() {
		close(release)
		pool.Close()
		pool.Wait()
	}()

	if err := pool.Submit(context.Background(), func() { close(started); <-release }); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	<-started
	if err := pool.Submit(context.Background(), func() {}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := pool.Submit(ctx, func() {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded on a full queue, got %v", err)
	}
	if n := pool.InFlight(); n != 2 {
		t.Fatalf("expected 2 jobs in flight, got %d", n)
	}
}

func TestCollectReportsPanics(t *testing.T) {
	pool := NewWorkerPool(2, 2)
	defer pool.Close()

	results := Collect(context.Background(), pool, []string{"ok", "bad"}, time.Second,
		func(ctx context.Context, key string) (int, error) {
			if key == "bad" {
				panic("nil handler")
			}
			return 1, nil
		})

	if results[0].Err != nil || results[0].Value != 1 {
		t.Fatalf("unexpected ok result: %+v", results[0])
	}
	if !errors.Is(results[1].Err, ErrTaskPanicked) {
		t.Fatalf("expected ErrTaskPanicked, got %v", results[1].Err)
	}
}

func TestCollectKeepsOrderAndAppliesTimeout(t *testing.T) {
	pool := NewWorkerPool(4, 4)
	defer pool.Close()

	keys := []string{"fast", "slow", "broken"}
	results := Collect(context.Background(), pool, keys, 50*time.Millisecond,
		func(ctx context.Context, key string) (int, error) {
			switch key {
			case "slow":
				<-ctx.Done()
				return 0, ctx.Err()
			case "broken":
				return 0, errors.New("boom")
			default:
				return len(key), nil
			}
		})

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Key != "fast" || results[0].Value != 4 || results[0].Err != nil {
		t.Fatalf("unexpected fast result: %+v", results[0])
	}
	if !errors.Is(results[1].Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded for slow, got %v", results[1].Err)
	}
	if results[2].Err == nil {
		t.Fatalf("expected error for broken")
	}
}

func TestCollectOnClosedPool(t *testing.T) {
	pool := NewWorkerPool(1, 1)
	pool.Close()

	results := Collect(context.Background(), pool, []int{1, 2}, time.Second,
		func(ctx context.Context, k int) (int, error) { return k, nil })
	for _, r := range results {
		if !errors.Is(r.Err, ErrWorkerPoolClosed) {
			t.Fatalf("expected ErrWorkerPoolClosed, got %v", r.Err)
		}
	}
}
