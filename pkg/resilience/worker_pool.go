package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/anthanhphan/gosdk/logger"
)

var ErrWorkerPoolClosed = errors.New("worker pool is closed")

// WorkerPool runs submitted jobs on a fixed set of goroutines. A panicking job
// is logged and its worker keeps serving the queue.
type WorkerPool struct {
	queue chan func()

	// mu guards closing and the queue's close against concurrent sends.
	mu      sync.RWMutex
	closing bool

	workers  sync.WaitGroup
	inFlight atomic.Int64
}

// NewWorkerPool starts workers goroutines behind a queue of queueSize jobs.
// Non-positive sizes fall back to one worker and a queue as deep as the pool.
func NewWorkerPool(workers, queueSize int) *WorkerPool {
	workers = max(workers, 1)
	if queueSize <= 0 {
		queueSize = workers
	}

	p := &WorkerPool{queue: make(chan func(), queueSize)}
	p.workers.Add(workers)
	for id := range workers {
		go p.serve(id)
	}
	return p
}

func (p *WorkerPool) serve(id int) {
	defer p.workers.Done()
	for job := range p.queue {
		p.run(id, job)
	}
}

func (p *WorkerPool) run(id int, job func()) {
	defer func() {
		p.inFlight.Add(-1)
		if r := recover(); r != nil {
			logger.Errorw("Worker job panicked", "worker", id, "panic", fmt.Sprint(r))
		}
	}()
	job()
}

// Submit queues job, blocking while the queue is full. It fails with
// ErrWorkerPoolClosed after Close and with the context error when ctx ends first.
func (p *WorkerPool) Submit(ctx context.Context, job func()) error {
	if job == nil {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closing {
		return ErrWorkerPoolClosed
	}

	p.inFlight.Add(1)
	select {
	case p.queue <- job:
		return nil
	case <-ctx.Done():
		p.inFlight.Add(-1)
		return ctx.Err()
	}
}

// InFlight counts jobs queued or running.
func (p *WorkerPool) InFlight() int64 {
	return p.inFlight.Load()
}

// Close stops accepting jobs. Jobs already queued still run. Safe to call twice.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closing {
		return
	}
	p.closing = true
	close(p.queue)
}

// Wait blocks until the queue is drained and every worker exited. Call after Close.
func (p *WorkerPool) Wait() {
	p.workers.Wait()
}
