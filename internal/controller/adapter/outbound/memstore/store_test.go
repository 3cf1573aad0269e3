package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/anthanhphan/appcontroller/internal/controller/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRequiresParent(t *testing.T) {
	ctx := context.Background()
	s := NewTree().Session()

	err := s.Create(ctx, "/a/b", []byte("x"), false)
	require.ErrorIs(t, err, port.ErrNoNode)

	require.NoError(t, port.EnsurePath(ctx, s, "/a"))
	require.NoError(t, s.Create(ctx, "/a/b", []byte("x"), false))
	require.ErrorIs(t, s.Create(ctx, "/a/b", []byte("y"), false), port.ErrNodeExists)

	val, err := s.Get(ctx, "/a/b")
	require.NoError(t, err)
	assert.Equal(t, "x", string(val))
}

func TestEphemeralEntriesVanishWithSession(t *testing.T) {
	ctx := context.Background()
	tree := NewTree()
	owner := tree.Session()
	observer := tree.Session()

	require.NoError(t, port.EnsurePath(ctx, owner, "/nodes/ip1"))
	require.NoError(t, owner.Set(ctx, "/nodes/ip1/live", []byte("ok"), true))

	ok, err := observer.Exists(ctx, "/nodes/ip1/live")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, owner.Close())

	ok, err = observer.Exists(ctx, "/nodes/ip1/live")
	require.NoError(t, err)
	assert.False(t, ok)

	children, err := observer.Children(ctx, "/nodes/ip1")
	require.NoError(t, err)
	assert.Empty(t, children)

	_, err = owner.Get(ctx, "/nodes")
	assert.True(t, errors.Is(err, port.ErrStoreUnavailable))
}

func TestDeleteTree(t *testing.T) {
	ctx := context.Background()
	s := NewTree().Session()
	require.NoError(t, port.EnsurePath(ctx, s, "/root/nodes/ip1"))
	require.NoError(t, s.Set(ctx, "/root/nodes/ip1/job_data", []byte("{}"), false))

	require.ErrorIs(t, s.Delete(ctx, "/root/nodes/ip1"), port.ErrNotEmpty)
	require.NoError(t, port.DeleteTree(ctx, s, "/root/nodes/ip1"))

	ok, err := s.Exists(ctx, "/root/nodes/ip1")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, port.DeleteTree(ctx, s, "/root/nodes/ip1"))
}

func TestUnavailableTree(t *testing.T) {
	tree := NewTree()
	s := tree.Session()
	tree.SetUnavailable(true)
	_, err := s.Get(context.Background(), "/")
	assert.ErrorIs(t, err, port.ErrStoreUnavailable)
}
