package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthanhphan/appcontroller/internal/controller/port"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/go-zookeeper/zk"
)

// conn is the subset of *zk.Conn the store needs.
type conn interface {
	Get(path string) ([]byte, *zk.Stat, error)
	Set(path string, data []byte, version int32) (*zk.Stat, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Delete(path string, version int32) error
	Exists(path string) (bool, *zk.Stat, error)
	Children(path string) ([]string, *zk.Stat, error)
	Close()
}

// Store implements port.CoordinationStore on a ZooKeeper session.
type Store struct {
	conn conn
	acl  []zk.ACL
}

var _ port.CoordinationStore = (*Store)(nil)

type zkLogger struct{}

func (zkLogger) Printf(format string, args ...any) {
	logger.Debugw("zookeeper", "message", fmt.Sprintf(format, args...))
}

// Connect opens a session. Session loss drops every ephemeral node created by this store.
func Connect(servers []string, sessionTimeout time.Duration) (*Store, error) {
	c, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogger(zkLogger{}))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}
	go watchSession(events)
	return newStore(c), nil
}

func newStore(c conn) *Store {
	return &Store{conn: c, acl: zk.WorldACL(zk.PermAll)}
}

func watchSession(events <-chan zk.Event) {
	for ev := range events {
		if ev.Type != zk.EventSession {
			continue
		}
		switch ev.State {
		case zk.StateExpired:
			logger.Errorw("ZooKeeper session expired, ephemeral nodes are gone", "server", ev.Server)
		case zk.StateDisconnected:
			logger.Warnw("ZooKeeper disconnected", "server", ev.Server)
		case zk.StateHasSession:
			logger.Infow("ZooKeeper session established", "server", ev.Server)
		}
	}
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, _, err := s.conn.Get(path)
	if err != nil {
		return nil, mapError(err)
	}
	return data, nil
}

func (s *Store) Set(ctx context.Context, path string, value []byte, ephemeral bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.conn.Set(path, value, -1)
	if err == nil {
		return nil
	}
	if !errors.Is(err, zk.ErrNoNode) {
		return mapError(err)
	}
	err = s.create(path, value, ephemeral)
	if errors.Is(err, port.ErrNodeExists) {
		// lost a race with another writer; overwrite once
		_, err = s.conn.Set(path, value, -1)
		return mapError(err)
	}
	return err
}

func (s *Store) Create(ctx context.Context, path string, value []byte, ephemeral bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.create(path, value, ephemeral)
}

func (s *Store) create(path string, value []byte, ephemeral bool) error {
	var flags int32
	if ephemeral {
		flags = zk.FlagEphemeral
	}
	_, err := s.conn.Create(path, value, flags, s.acl)
	return mapError(err)
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.conn.Delete(path, -1)
	if errors.Is(err, zk.ErrNoNode) {
		return nil
	}
	return mapError(err)
}

func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, _, err := s.conn.Exists(path)
	if err != nil {
		return false, mapError(err)
	}
	return ok, nil
}

func (s *Store) Children(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	children, _, err := s.conn.Children(path)
	if err != nil {
		return nil, mapError(err)
	}
	return children, nil
}

func (s *Store) Close() error {
	s.conn.Close()
	return nil
}

// mapError translates zk errors onto the port sentinels.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, zk.ErrNoNode):
		return port.ErrNoNode
	case errors.Is(err, zk.ErrNodeExists):
		return port.ErrNodeExists
	case errors.Is(err, zk.ErrNotEmpty):
		return port.ErrNotEmpty
	default:
		// connection loss, session expiry and server-side failures are all retryable
		return fmt.Errorf("%w: %v", port.ErrStoreUnavailable, err)
	}
}
