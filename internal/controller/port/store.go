package port

import (
	"context"
	"errors"
	"path"
	"strings"
)

var (
	ErrNoNode           = errors.New("coordination store: node does not exist")
	ErrNodeExists       = errors.New("coordination store: node already exists")
	ErrNotEmpty         = errors.New("coordination store: node has children")
	ErrStoreUnavailable = errors.New("coordination store unavailable")
)

// CoordinationStore is a hierarchical key-value tree shared by all controllers.
// Parents must exist before children are created. Ephemeral entries disappear when
// the session that created them ends. Any operation may fail with ErrStoreUnavailable,
// which callers treat as retryable and never as a missing node.
type CoordinationStore interface {
	// Get returns the value stored at path, or ErrNoNode.
	Get(ctx context.Context, path string) ([]byte, error)

	// Set creates path or overwrites its value. Returns ErrNoNode when the parent is missing.
	Set(ctx context.Context, path string, value []byte, ephemeral bool) error

	// Create creates path only if absent. Returns ErrNodeExists when it is already there.
	Create(ctx context.Context, path string, value []byte, ephemeral bool) error

	// Delete removes a leaf. Deleting a missing node is not an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether path is present.
	Exists(ctx context.Context, path string) (bool, error)

	// Children lists the direct child names of path.
	Children(ctx context.Context, path string) ([]string, error)

	// Close ends the session, dropping its ephemeral entries.
	Close() error
}

// EnsurePath creates every missing level of p with empty values.
func EnsurePath(ctx context.Context, store CoordinationStore, p string) error {
	p = path.Clean(p)
	if p == "/" || p == "." {
		return nil
	}
	current := ""
	for _, part := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		current += "/" + part
		err := store.Create(ctx, current, nil, false)
		if err != nil && !errors.Is(err, ErrNodeExists) {
			return err
		}
	}
	return nil
}

// DeleteTree removes p and everything below it, children first.
func DeleteTree(ctx context.Context, store CoordinationStore, p string) error {
	children, err := store.Children(ctx, p)
	if errors.Is(err, ErrNoNode) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := DeleteTree(ctx, store, path.Join(p, child)); err != nil {
			return err
		}
	}
	return store.Delete(ctx, p)
}
