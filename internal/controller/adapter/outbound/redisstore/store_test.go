package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/anthanhphan/appcontroller/internal/controller/port"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*miniredis.Miniredis, *redis.Client, *Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	// long TTL so the refresh ticker never fires during a test
	s := New(client, time.Hour)
	t.Cleanup(func() { _ = s.Close() })
	return mr, client, s
}

func TestCreateIsLevelByLevel(t *testing.T) {
	_, _, s := newTestStore(t)
	ctx := context.Background()

	require.ErrorIs(t, s.Create(ctx, "/appcontroller/ips", []byte("{}"), false), port.ErrNoNode)
	require.NoError(t, port.EnsurePath(ctx, s, "/appcontroller"))
	require.NoError(t, s.Create(ctx, "/appcontroller/ips", []byte("{}"), false))
	require.ErrorIs(t, s.Create(ctx, "/appcontroller/ips", []byte("{}"), false), port.ErrNodeExists)

	require.NoError(t, s.Set(ctx, "/appcontroller/ips", []byte(`{"ips":["a"]}`), false))
	val, err := s.Get(ctx, "/appcontroller/ips")
	require.NoError(t, err)
	assert.Equal(t, `{"ips":["a"]}`, string(val))

	children, err := s.Children(ctx, "/appcontroller")
	require.NoError(t, err)
	assert.Equal(t, []string{"ips"}, children)
}

func TestGetMissing(t *testing.T) {
	_, _, s := newTestStore(t)
	_, err := s.Get(context.Background(), "/nothing")
	assert.ErrorIs(t, err, port.ErrNoNode)
}

func TestEphemeralExpiresWithoutRefresh(t *testing.T) {
	mr, client, s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, port.EnsurePath(ctx, s, "/nodes/ip2"))

	peer := New(client, time.Minute)
	t.Cleanup(func() { _ = peer.Close() })
	require.NoError(t, peer.Set(ctx, "/nodes/ip2/live", []byte("1"), true))

	ok, err := s.Exists(ctx, "/nodes/ip2/live")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Minute)

	ok, err = s.Exists(ctx, "/nodes/ip2/live")
	require.NoError(t, err)
	assert.False(t, ok)

	children, err := s.Children(ctx, "/nodes/ip2")
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestCloseDropsOwnEphemerals(t *testing.T) {
	_, client, s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, port.EnsurePath(ctx, s, "/appcontroller"))

	peer := New(client, time.Hour)
	require.NoError(t, peer.Create(ctx, "/appcontroller/lock", []byte("ip2"), true))
	require.NoError(t, peer.Close())

	ok, err := s.Exists(ctx, "/appcontroller/lock")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteRefusesNonEmpty(t *testing.T) {
	_, _, s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, port.EnsurePath(ctx, s, "/a/b"))

	require.ErrorIs(t, s.Delete(ctx, "/a"), port.ErrNotEmpty)
	require.NoError(t, port.DeleteTree(ctx, s, "/a"))

	ok, err := s.Exists(ctx, "/a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnavailableServer(t *testing.T) {
	mr, _, s := newTestStore(t)
	mr.Close()
	_, err := s.Get(context.Background(), "/x")
	assert.ErrorIs(t, err, port.ErrStoreUnavailable)
}
