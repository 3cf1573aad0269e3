// Package memstore is an in-process coordination tree with ZooKeeper semantics.
// One Tree is shared by any number of sessions; each session is a port.CoordinationStore
// whose ephemeral entries vanish when it is closed.
package memstore

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/anthanhphan/appcontroller/internal/controller/port"
)

type entry struct {
	value    []byte
	owner    int64
	children map[string]struct{}
}

// Tree is the shared state behind all sessions.
type Tree struct {
	mu          sync.Mutex
	nodes       map[string]*entry
	nextSession int64
	mutations   atomic.Int64
	unavailable atomic.Bool
}

// NewTree returns a tree containing only the root.
func NewTree() *Tree {
	return &Tree{
		nodes: map[string]*entry{
			"/": {children: make(map[string]struct{})},
		},
	}
}

// Session opens a new client session on the tree.
func (t *Tree) Session() *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextSession++
	return &Session{tree: t, id: t.nextSession}
}

// Mutations returns how many mutating calls reached the tree.
func (t *Tree) Mutations() int64 {
	return t.mutations.Load()
}

// SetUnavailable makes every call fail with port.ErrStoreUnavailable.
func (t *Tree) SetUnavailable(down bool) {
	t.unavailable.Store(down)
}

// Snapshot returns a copy of every path and value, for assertions.
func (t *Tree) Snapshot() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.nodes))
	for p, e := range t.nodes {
		out[p] = string(e.value)
	}
	return out
}

func (t *Tree) dropSession(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var owned []string
	for p, e := range t.nodes {
		if e.owner == id {
			owned = append(owned, p)
		}
	}
	// deepest first so parents never lose a still-listed child
	sort.Slice(owned, func(i, j int) bool { return len(owned[i]) > len(owned[j]) })
	for _, p := range owned {
		t.removeLocked(p)
	}
}

func (t *Tree) removeLocked(p string) {
	delete(t.nodes, p)
	if parent, ok := t.nodes[path.Dir(p)]; ok {
		delete(parent.children, path.Base(p))
	}
}

// Session is one client's view of the tree.
type Session struct {
	tree   *Tree
	id     int64
	closed atomic.Bool
}

var _ port.CoordinationStore = (*Session)(nil)

// ID returns the session number.
func (s *Session) ID() int64 {
	return s.id
}

func (s *Session) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() || s.tree.unavailable.Load() {
		return port.ErrStoreUnavailable
	}
	return nil
}

func (s *Session) Get(ctx context.Context, p string) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.tree.mu.Lock()
	defer s.tree.mu.Unlock()
	e, ok := s.tree.nodes[clean(p)]
	if !ok {
		return nil, port.ErrNoNode
	}
	return append([]byte(nil), e.value...), nil
}

func (s *Session) Set(ctx context.Context, p string, value []byte, ephemeral bool) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.tree.mutations.Add(1)
	s.tree.mu.Lock()
	defer s.tree.mu.Unlock()
	p = clean(p)
	if e, ok := s.tree.nodes[p]; ok {
		e.value = append([]byte(nil), value...)
		return nil
	}
	return s.createLocked(p, value, ephemeral)
}

func (s *Session) Create(ctx context.Context, p string, value []byte, ephemeral bool) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.tree.mutations.Add(1)
	s.tree.mu.Lock()
	defer s.tree.mu.Unlock()
	p = clean(p)
	if _, ok := s.tree.nodes[p]; ok {
		return port.ErrNodeExists
	}
	return s.createLocked(p, value, ephemeral)
}

func (s *Session) createLocked(p string, value []byte, ephemeral bool) error {
	parent, ok := s.tree.nodes[path.Dir(p)]
	if !ok {
		return port.ErrNoNode
	}
	e := &entry{
		value:    append([]byte(nil), value...),
		children: make(map[string]struct{}),
	}
	if ephemeral {
		e.owner = s.id
	}
	s.tree.nodes[p] = e
	parent.children[path.Base(p)] = struct{}{}
	return nil
}

func (s *Session) Delete(ctx context.Context, p string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.tree.mutations.Add(1)
	s.tree.mu.Lock()
	defer s.tree.mu.Unlock()
	p = clean(p)
	e, ok := s.tree.nodes[p]
	if !ok || p == "/" {
		return nil
	}
	if len(e.children) > 0 {
		return port.ErrNotEmpty
	}
	s.tree.removeLocked(p)
	return nil
}

func (s *Session) Exists(ctx context.Context, p string) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	s.tree.mu.Lock()
	defer s.tree.mu.Unlock()
	_, ok := s.tree.nodes[clean(p)]
	return ok, nil
}

func (s *Session) Children(ctx context.Context, p string) ([]string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.tree.mu.Lock()
	defer s.tree.mu.Unlock()
	e, ok := s.tree.nodes[clean(p)]
	if !ok {
		return nil, port.ErrNoNode
	}
	out := make([]string, 0, len(e.children))
	for name := range e.children {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Close ends the session and drops its ephemeral entries.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.tree.dropSession(s.id)
	return nil
}

func clean(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
