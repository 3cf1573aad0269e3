// Package redisstore emulates the coordination tree on Redis. Each path is a string key,
// each node keeps a set of child names, and ephemeral entries carry a TTL that the owning
// session keeps refreshing; a session that stops refreshing loses its entries.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/anthanhphan/appcontroller/internal/controller/port"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/redis/go-redis/v9"
)

const (
	nodePrefix     = "coord:n:"
	childrenPrefix = "coord:c:"

	resultOK       = 0
	resultExists   = 1
	resultNoParent = 2
)

// KEYS: node, parent node, parent children set
// ARGV: value, ttl ms (0 = persistent), child name, parent is root, mode (create|set)
var writeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  if ARGV[5] == 'create' then
    return 1
  end
  local ttl = redis.call('PTTL', KEYS[1])
  if ttl > 0 then
    redis.call('SET', KEYS[1], ARGV[1], 'PX', ttl)
  else
    redis.call('SET', KEYS[1], ARGV[1])
  end
  return 0
end
if ARGV[4] ~= '1' and redis.call('EXISTS', KEYS[2]) == 0 then
  return 2
end
if tonumber(ARGV[2]) > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
else
  redis.call('SET', KEYS[1], ARGV[1])
end
redis.call('SADD', KEYS[3], ARGV[3])
return 0
`)

// KEYS: node, own children set, parent children set
// ARGV: child name, node key prefix for children
var deleteScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('SREM', KEYS[3], ARGV[1])
  return 0
end
for _, child in ipairs(redis.call('SMEMBERS', KEYS[2])) do
  if redis.call('EXISTS', ARGV[2] .. child) == 1 then
    return 1
  end
end
redis.call('DEL', KEYS[1], KEYS[2])
redis.call('SREM', KEYS[3], ARGV[1])
return 0
`)

// Store implements port.CoordinationStore on Redis.
type Store struct {
	client     redis.UniversalClient
	sessionTTL time.Duration

	mu         sync.Mutex
	ephemerals map[string]struct{}
	stop       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
}

var _ port.CoordinationStore = (*Store)(nil)

// New starts a session on client. Ephemeral entries expire sessionTTL after the last refresh.
func New(client redis.UniversalClient, sessionTTL time.Duration) *Store {
	if sessionTTL <= 0 {
		sessionTTL = 10 * time.Second
	}
	s := &Store{
		client:     client,
		sessionTTL: sessionTTL,
		ephemerals: make(map[string]struct{}),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go s.keepAlive()
	return s
}

func nodeKey(p string) string     { return nodePrefix + p }
func childrenKey(p string) string { return childrenPrefix + p }

func (s *Store) Get(ctx context.Context, p string) ([]byte, error) {
	p = clean(p)
	if p == "/" {
		return nil, nil
	}
	val, err := s.client.Get(ctx, nodeKey(p)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, port.ErrNoNode
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return val, nil
}

func (s *Store) Set(ctx context.Context, p string, value []byte, ephemeral bool) error {
	return s.write(ctx, clean(p), value, ephemeral, "set")
}

func (s *Store) Create(ctx context.Context, p string, value []byte, ephemeral bool) error {
	return s.write(ctx, clean(p), value, ephemeral, "create")
}

func (s *Store) write(ctx context.Context, p string, value []byte, ephemeral bool, mode string) error {
	if p == "/" {
		if mode == "create" {
			return port.ErrNodeExists
		}
		return nil
	}
	parent := path.Dir(p)
	parentIsRoot := "0"
	if parent == "/" {
		parentIsRoot = "1"
	}
	var ttl int64
	if ephemeral {
		ttl = s.sessionTTL.Milliseconds()
	}

	res, err := writeScript.Run(ctx, s.client,
		[]string{nodeKey(p), nodeKey(parent), childrenKey(parent)},
		value, ttl, path.Base(p), parentIsRoot, mode,
	).Int()
	if err != nil {
		return unavailable(err)
	}
	switch res {
	case resultExists:
		return port.ErrNodeExists
	case resultNoParent:
		return port.ErrNoNode
	}
	if ephemeral {
		s.mu.Lock()
		s.ephemerals[p] = struct{}{}
		s.mu.Unlock()
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, p string) error {
	p = clean(p)
	if p == "/" {
		return nil
	}
	parent := path.Dir(p)
	res, err := deleteScript.Run(ctx, s.client,
		[]string{nodeKey(p), childrenKey(p), childrenKey(parent)},
		path.Base(p), nodeKey(p+"/"),
	).Int()
	if err != nil {
		return unavailable(err)
	}
	if res == 1 {
		return port.ErrNotEmpty
	}
	s.mu.Lock()
	delete(s.ephemerals, p)
	s.mu.Unlock()
	return nil
}

func (s *Store) Exists(ctx context.Context, p string) (bool, error) {
	p = clean(p)
	if p == "/" {
		return true, nil
	}
	n, err := s.client.Exists(ctx, nodeKey(p)).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// Children lists live children and prunes names whose ephemeral key has expired.
func (s *Store) Children(ctx context.Context, p string) ([]string, error) {
	p = clean(p)
	ok, err := s.Exists(ctx, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, port.ErrNoNode
	}

	names, err := s.client.SMembers(ctx, childrenKey(p)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(names) == 0 {
		return []string{}, nil
	}

	pipe := s.client.Pipeline()
	checks := make([]*redis.IntCmd, len(names))
	for i, name := range names {
		checks[i] = pipe.Exists(ctx, nodeKey(path.Join(p, name)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable(err)
	}

	live := make([]string, 0, len(names))
	var stale []any
	for i, name := range names {
		if checks[i].Val() == 1 {
			live = append(live, name)
		} else {
			stale = append(stale, name)
		}
	}
	if len(stale) > 0 {
		if err := s.client.SRem(ctx, childrenKey(p), stale...).Err(); err != nil {
			logger.Debugw("Failed to prune expired children", "path", p, "error", err.Error())
		}
	}
	return live, nil
}

// Close stops refreshing and removes this session's ephemeral entries.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done

		s.mu.Lock()
		owned := make([]string, 0, len(s.ephemerals))
		for p := range s.ephemerals {
			owned = append(owned, p)
		}
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, p := range owned {
			if delErr := s.Delete(ctx, p); delErr != nil && err == nil {
				err = delErr
			}
		}
	})
	return err
}

func (s *Store) keepAlive() {
	defer close(s.done)
	ticker := time.NewTicker(s.sessionTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.refresh()
		}
	}
}

func (s *Store) refresh() {
	s.mu.Lock()
	owned := make([]string, 0, len(s.ephemerals))
	for p := range s.ephemerals {
		owned = append(owned, p)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.sessionTTL/3)
	defer cancel()
	for _, p := range owned {
		alive, err := s.client.PExpire(ctx, nodeKey(p), s.sessionTTL).Result()
		if err != nil {
			logger.Warnw("Failed to refresh ephemeral entry", "path", p, "error", err.Error())
			continue
		}
		if !alive {
			logger.Warnw("Ephemeral entry expired before refresh", "path", p)
			s.mu.Lock()
			delete(s.ephemerals, p)
			s.mu.Unlock()
		}
	}
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", port.ErrStoreUnavailable, err)
}

func clean(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
