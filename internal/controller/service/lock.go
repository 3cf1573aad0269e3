package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anthanhphan/appcontroller/internal/controller/port"
	"github.com/anthanhphan/gosdk/logger"
)

var ErrLockTimeout = errors.New("distributed lock: timed out")

// LockTimeoutError reports who held the lock when acquisition gave up.
type LockTimeoutError struct {
	Holder string
	Waited time.Duration
}

func (e *LockTimeoutError) Error() string {
	holder := e.Holder
	if holder == "" {
		holder = "unknown"
	}
	return fmt.Sprintf("%v after %s (holder %s)", ErrLockTimeout, e.Waited.Round(time.Millisecond), holder)
}

func (e *LockTimeoutError) Is(target error) bool {
	return target == ErrLockTimeout
}

// DistributedLock is the single deployment-wide mutex, layered on an ephemeral
// create-if-absent entry whose value names the holder. Goroutines of one
// controller queue on a local slot first. It is not reentrant: acquiring again
// while holding waits out the timeout.
type DistributedLock struct {
	store         port.CoordinationStore
	path          string
	identity      string
	retryInterval time.Duration

	slot chan struct{}
	mu   sync.Mutex
	held bool
}

func NewDistributedLock(store port.CoordinationStore, path, identity string, retryInterval time.Duration) *DistributedLock {
	if retryInterval <= 0 {
		retryInterval = 200 * time.Millisecond
	}
	return &DistributedLock{
		store:         store,
		path:          path,
		identity:      identity,
		retryInterval: retryInterval,
		slot:          make(chan struct{}, 1),
	}
}

// Held reports whether this controller currently owns the lock.
func (l *DistributedLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Acquire spins on create-if-absent until it wins or timeout elapses.
// StoreUnavailable is retried the same way as contention.
func (l *DistributedLock) Acquire(ctx context.Context, timeout time.Duration) error {
	start := time.Now()
	wait := time.NewTimer(timeout)
	select {
	case l.slot <- struct{}{}:
		wait.Stop()
	case <-ctx.Done():
		wait.Stop()
		return ctx.Err()
	case <-wait.C:
		return &LockTimeoutError{Holder: l.identity, Waited: time.Since(start)}
	}

	if err := l.spin(ctx, start, timeout); err != nil {
		<-l.slot
		return err
	}
	l.mu.Lock()
	l.held = true
	l.mu.Unlock()
	return nil
}

func (l *DistributedLock) spin(ctx context.Context, start time.Time, timeout time.Duration) error {
	var (
		holder      string
		unavailable bool
	)
	for {
		err := l.store.Create(ctx, l.path, []byte(l.identity), true)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, port.ErrNodeExists):
			if value, getErr := l.store.Get(ctx, l.path); getErr == nil {
				holder = string(value)
			}
			// a create whose reply was lost to a connection error may have landed
			if unavailable && holder == l.identity {
				return nil
			}
			unavailable = false
			logger.Debugw("Lock busy, retrying", "path", l.path, "holder", holder, "identity", l.identity)
		case errors.Is(err, port.ErrStoreUnavailable):
			unavailable = true
			logger.Warnw("Lock acquire hit unavailable store, retrying", "path", l.path, "error", err.Error())
		default:
			return fmt.Errorf("acquire lock %s: %w", l.path, err)
		}

		waited := time.Since(start)
		if waited+l.retryInterval > timeout {
			return &LockTimeoutError{Holder: holder, Waited: waited}
		}

		timer := time.NewTimer(l.retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Release deletes the lock entry if it still names this controller.
func (l *DistributedLock) Release(ctx context.Context) error {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return nil
	}
	l.held = false
	l.mu.Unlock()
	defer func() { <-l.slot }()

	value, err := l.store.Get(ctx, l.path)
	if errors.Is(err, port.ErrNoNode) {
		logger.Warnw("Lock vanished before release", "path", l.path, "identity", l.identity)
		return nil
	}
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	if string(value) != l.identity {
		logger.Warnw("Lock taken over before release", "path", l.path, "holder", string(value), "identity", l.identity)
		return nil
	}
	if err := l.store.Delete(ctx, l.path); err != nil {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}

// WithLock runs fn inside the critical section. The lock is released even when fn
// fails or ctx is cancelled.
func (l *DistributedLock) WithLock(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) (err error) {
	if err := l.Acquire(ctx, timeout); err != nil {
		return err
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if relErr := l.Release(relCtx); relErr != nil {
			logger.Errorw("Lock release failed", "path", l.path, "error", relErr.Error())
			if err == nil {
				err = relErr
			}
		}
	}()
	return fn(ctx)
}
