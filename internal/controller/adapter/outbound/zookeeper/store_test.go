package zookeeper

import (
	"context"
	"errors"
	"testing"

	"github.com/anthanhphan/appcontroller/internal/controller/port"
	"github.com/go-zookeeper/zk"
)

type fakeConn struct {
	nodes   map[string][]byte
	flags   map[string]int32
	down    bool
	closed  bool
	setErrs []error
}

func newFakeConn() *fakeConn {
	return &fakeConn{nodes: map[string][]byte{"/": nil}, flags: map[string]int32{}}
}

func (f *fakeConn) Get(path string) ([]byte, *zk.Stat, error) {
	if f.down {
		return nil, nil, zk.ErrConnectionClosed
	}
	v, ok := f.nodes[path]
	if !ok {
		return nil, nil, zk.ErrNoNode
	}
	return v, &zk.Stat{}, nil
}

func (f *fakeConn) Set(path string, data []byte, version int32) (*zk.Stat, error) {
	if len(f.setErrs) > 0 {
		err := f.setErrs[0]
		f.setErrs = f.setErrs[1:]
		return nil, err
	}
	if _, ok := f.nodes[path]; !ok {
		return nil, zk.ErrNoNode
	}
	f.nodes[path] = data
	return &zk.Stat{}, nil
}

func (f *fakeConn) Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error) {
	if _, ok := f.nodes[path]; ok {
		return "", zk.ErrNodeExists
	}
	f.nodes[path] = data
	f.flags[path] = flags
	return path, nil
}

func (f *fakeConn) Delete(path string, version int32) error {
	if _, ok := f.nodes[path]; !ok {
		return zk.ErrNoNode
	}
	delete(f.nodes, path)
	return nil
}

func (f *fakeConn) Exists(path string) (bool, *zk.Stat, error) {
	_, ok := f.nodes[path]
	return ok, &zk.Stat{}, nil
}

func (f *fakeConn) Children(path string) ([]string, *zk.Stat, error) {
	return nil, nil, zk.ErrNoNode
}

func (f *fakeConn) Close() { f.closed = true }

func TestMapError(t *testing.T) {
	cases := []struct {
		in   error
		want error
	}{
		{in: zk.ErrNoNode, want: port.ErrNoNode},
		{in: zk.ErrNodeExists, want: port.ErrNodeExists},
		{in: zk.ErrNotEmpty, want: port.ErrNotEmpty},
		{in: zk.ErrConnectionClosed, want: port.ErrStoreUnavailable},
		{in: zk.ErrSessionExpired, want: port.ErrStoreUnavailable},
	}
	for _, tc := range cases {
		if got := mapError(tc.in); !errors.Is(got, tc.want) {
			t.Fatalf("mapError(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if mapError(nil) != nil {
		t.Fatalf("mapError(nil) should be nil")
	}
}

func TestSetCreatesEphemeralWhenMissing(t *testing.T) {
	c := newFakeConn()
	s := newStore(c)

	if err := s.Set(context.Background(), "/live", []byte("1"), true); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if c.flags["/live"] != zk.FlagEphemeral {
		t.Fatalf("expected ephemeral flag, got %d", c.flags["/live"])
	}
	if err := s.Set(context.Background(), "/live", []byte("2"), true); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	if string(c.nodes["/live"]) != "2" {
		t.Fatalf("expected overwritten value, got %q", c.nodes["/live"])
	}
}

func TestDeleteMissingIsNotAnError(t *testing.T) {
	s := newStore(newFakeConn())
	if err := s.Delete(context.Background(), "/missing"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestGetReportsUnavailable(t *testing.T) {
	c := newFakeConn()
	c.down = true
	s := newStore(c)
	_, err := s.Get(context.Background(), "/")
	if !errors.Is(err, port.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if errors.Is(err, port.ErrNoNode) {
		t.Fatalf("unavailable store must not look like a missing node")
	}
}

func TestCreateConflict(t *testing.T) {
	s := newStore(newFakeConn())
	ctx := context.Background()
	if err := s.Create(ctx, "/lock", []byte("ip1"), true); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if err := s.Create(ctx, "/lock", []byte("ip2"), true); !errors.Is(err, port.ErrNodeExists) {
		t.Fatalf("expected ErrNodeExists, got %v", err)
	}
}
