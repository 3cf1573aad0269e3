package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrTaskPanicked = errors.New("task panicked")

// Result is the outcome of one fan-out task.
type Result[K comparable, V any] struct {
	Key   K
	Value V
	Err   error
}

// Collect runs fn for every key on the pool, each under its own timeout, and
// returns once every task has reported. Results keep the order of keys. Tasks that
// cannot be queued report the submit error instead of running; a task that panics
// reports ErrTaskPanicked.
func Collect[K comparable, V any](
	ctx context.Context,
	pool *WorkerPool,
	keys []K,
	timeout time.Duration,
	fn func(context.Context, K) (V, error),
) []Result[K, V] {
	results := make([]Result[K, V], len(keys))
	var wg sync.WaitGroup

	for i, key := range keys {
		results[i].Key = key
		wg.Add(1)
		idx, k := i, key
		err := pool.Submit(ctx, func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[idx].Err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
				}
			}()
			taskCtx, cancel := withOptionalTimeout(ctx, timeout)
			defer cancel()
			results[idx].Value, results[idx].Err = fn(taskCtx, k)
		})
		if err != nil {
			results[idx].Err = err
			wg.Done()
		}
	}

	wg.Wait()
	return results
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
