package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthanhphan/appcontroller/internal/controller/adapter/outbound/memstore"
	"github.com/anthanhphan/appcontroller/internal/controller/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLockTree(t *testing.T) *memstore.Tree {
	t.Helper()
	tree := memstore.NewTree()
	s := tree.Session()
	require.NoError(t, port.EnsurePath(context.Background(), s, DefaultRoot))
	return tree
}

func TestDistributedLock_MutualExclusion(t *testing.T) {
	tree := newLockTree(t)
	ctx := context.Background()
	layout := NewLayout("")

	a := NewDistributedLock(tree.Session(), layout.Lock(), "ip1", 5*time.Millisecond)
	b := NewDistributedLock(tree.Session(), layout.Lock(), "ip2", 5*time.Millisecond)

	require.NoError(t, a.Acquire(ctx, time.Second))

	acquired := make(chan error, 1)
	go func() { acquired <- b.Acquire(ctx, 2*time.Second) }()

	select {
	case err := <-acquired:
		t.Fatalf("second holder got the lock while the first held it: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, a.Release(ctx))
	require.NoError(t, <-acquired)
	assert.True(t, b.Held())
	assert.False(t, a.Held())
	assert.Equal(t, "ip2", tree.Snapshot()[layout.Lock()])
	require.NoError(t, b.Release(ctx))
}

func TestDistributedLock_TimeoutReportsHolder(t *testing.T) {
	tree := newLockTree(t)
	ctx := context.Background()
	layout := NewLayout("")

	a := NewDistributedLock(tree.Session(), layout.Lock(), "ip1", 5*time.Millisecond)
	b := NewDistributedLock(tree.Session(), layout.Lock(), "ip2", 5*time.Millisecond)
	require.NoError(t, a.Acquire(ctx, time.Second))

	err := b.Acquire(ctx, 30*time.Millisecond)
	require.ErrorIs(t, err, ErrLockTimeout)
	var timeout *LockTimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, "ip1", timeout.Holder)
	assert.False(t, b.Held())
}

func TestDistributedLock_ReleasedWhenHolderSessionEnds(t *testing.T) {
	tree := newLockTree(t)
	ctx := context.Background()
	layout := NewLayout("")

	holder := tree.Session()
	a := NewDistributedLock(holder, layout.Lock(), "ip1", 5*time.Millisecond)
	b := NewDistributedLock(tree.Session(), layout.Lock(), "ip2", 5*time.Millisecond)
	require.NoError(t, a.Acquire(ctx, time.Second))

	require.NoError(t, holder.Close())
	require.NoError(t, b.Acquire(ctx, time.Second))
}

func TestDistributedLock_WithLockReleasesOnError(t *testing.T) {
	tree := newLockTree(t)
	ctx := context.Background()
	layout := NewLayout("")
	l := NewDistributedLock(tree.Session(), layout.Lock(), "ip1", 5*time.Millisecond)

	boom := errors.New("boom")
	err := l.WithLock(ctx, time.Second, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.False(t, l.Held())
	_, present := tree.Snapshot()[layout.Lock()]
	assert.False(t, present)
}

func TestDistributedLock_LocalGoroutinesSerialize(t *testing.T) {
	tree := newLockTree(t)
	layout := NewLayout("")
	l := NewDistributedLock(tree.Session(), layout.Lock(), "ip1", time.Millisecond)

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), 2*time.Second, func(context.Context) error {
				n := inside.Add(1)
				if n > maxInside.Load() {
					maxInside.Store(n)
				}
				time.Sleep(2 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
}

func TestDistributedLock_RetriesUnavailableStore(t *testing.T) {
	tree := newLockTree(t)
	layout := NewLayout("")
	l := NewDistributedLock(tree.Session(), layout.Lock(), "ip1", 5*time.Millisecond)

	tree.SetUnavailable(true)
	go func() {
		time.Sleep(20 * time.Millisecond)
		tree.SetUnavailable(false)
	}()

	require.NoError(t, l.Acquire(context.Background(), time.Second))
	require.NoError(t, l.Release(context.Background()))
}

func TestDistributedLock_ReleaseKeepsForeignHolder(t *testing.T) {
	tree := newLockTree(t)
	ctx := context.Background()
	layout := NewLayout("")
	session := tree.Session()
	l := NewDistributedLock(session, layout.Lock(), "ip1", 5*time.Millisecond)
	require.NoError(t, l.Acquire(ctx, time.Second))

	// the entry was replaced behind our back
	require.NoError(t, session.Set(ctx, layout.Lock(), []byte("ip9"), true))
	require.NoError(t, l.Release(ctx))
	assert.Equal(t, "ip9", tree.Snapshot()[layout.Lock()])
}
