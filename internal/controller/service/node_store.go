package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/anthanhphan/appcontroller/internal/controller/domain"
	"github.com/anthanhphan/appcontroller/internal/controller/port"
)

// NodeStore accesses the per-node subtrees under <root>/nodes.
type NodeStore struct {
	store   port.CoordinationStore
	layout  Layout
	keyName func() string
}

func NewNodeStore(store port.CoordinationStore, layout Layout, keyName func() string) *NodeStore {
	return &NodeStore{store: store, layout: layout, keyName: keyName}
}

// Register creates the node's subtree if needed and writes its job data.
func (s *NodeStore) Register(ctx context.Context, node *domain.NodeRole) error {
	if err := port.EnsurePath(ctx, s.store, s.layout.Node(node.PublicIP)); err != nil {
		return fmt.Errorf("register %s: %w", node.PublicIP, err)
	}
	if err := s.store.Delete(ctx, s.layout.PromotedTo(node.PublicIP)); err != nil {
		return fmt.Errorf("register %s: %w", node.PublicIP, err)
	}
	return s.WriteNode(ctx, node)
}

// Registered reports whether the node has job data.
func (s *NodeStore) Registered(ctx context.Context, ip string) (bool, error) {
	return s.store.Exists(ctx, s.layout.JobData(ip))
}

func (s *NodeStore) ReadNode(ctx context.Context, ip string) (*domain.NodeRole, error) {
	data, err := s.store.Get(ctx, s.layout.JobData(ip))
	if err != nil {
		return nil, fmt.Errorf("read job data of %s: %w", ip, err)
	}
	return domain.UnmarshalJobData(data, s.keyName())
}

func (s *NodeStore) WriteNode(ctx context.Context, node *domain.NodeRole) error {
	data, err := node.MarshalJobData()
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, s.layout.JobData(node.PublicIP), data, false); err != nil {
		return fmt.Errorf("write job data of %s: %w", node.PublicIP, err)
	}
	return nil
}

// IsLive reports whether the node's ephemeral liveness marker exists.
func (s *NodeStore) IsLive(ctx context.Context, ip string) (bool, error) {
	return s.store.Exists(ctx, s.layout.Live(ip))
}

// MarkLive writes this session's liveness marker.
func (s *NodeStore) MarkLive(ctx context.Context, ip string) error {
	if err := s.store.Set(ctx, s.layout.Live(ip), []byte(ip), true); err != nil {
		return fmt.Errorf("mark %s live: %w", ip, err)
	}
	return nil
}

func (s *NodeStore) ClearLive(ctx context.Context, ip string) error {
	return s.store.Delete(ctx, s.layout.Live(ip))
}

func (s *NodeStore) SetDoneLoading(ctx context.Context, ip string, done bool) error {
	if err := s.store.Set(ctx, s.layout.DoneLoading(ip), []byte(strconv.FormatBool(done)), false); err != nil {
		return fmt.Errorf("set done_loading of %s: %w", ip, err)
	}
	return nil
}

// DoneLoading returns nil when the node never reported.
func (s *NodeStore) DoneLoading(ctx context.Context, ip string) (*bool, error) {
	data, err := s.store.Get(ctx, s.layout.DoneLoading(ip))
	if errors.Is(err, port.ErrNoNode) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	done, err := strconv.ParseBool(string(data))
	if err != nil {
		return nil, fmt.Errorf("decode done_loading of %s: %w", ip, err)
	}
	return &done, nil
}

// AppInstances lists the app servers registered by the node.
func (s *NodeStore) AppInstances(ctx context.Context, ip string) ([]port.AppInstance, error) {
	data, err := s.store.Get(ctx, s.layout.AppInstances(ip))
	if errors.Is(err, port.ErrNoNode) || (err == nil && len(data) == 0) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var instances []port.AppInstance
	if err := json.Unmarshal(data, &instances); err != nil {
		return nil, fmt.Errorf("decode app instances of %s: %w", ip, err)
	}
	return instances, nil
}

func (s *NodeStore) SetAppInstances(ctx context.Context, ip string, instances []port.AppInstance) error {
	data, err := json.Marshal(instances)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, s.layout.AppInstances(ip), data, false)
}

// MarkPromoted records which node received a dead peer's roles.
func (s *NodeStore) MarkPromoted(ctx context.Context, ip, target string) error {
	if err := s.store.Set(ctx, s.layout.PromotedTo(ip), []byte(target), false); err != nil {
		return fmt.Errorf("mark %s promoted to %s: %w", ip, target, err)
	}
	return nil
}

// PromotedTo returns "" when no takeover was recorded for the peer.
func (s *NodeStore) PromotedTo(ctx context.Context, ip string) (string, error) {
	data, err := s.store.Get(ctx, s.layout.PromotedTo(ip))
	if errors.Is(err, port.ErrNoNode) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read promotion marker of %s: %w", ip, err)
	}
	return string(data), nil
}

// Remove deletes the node's whole subtree. Job data goes first, so an
// interrupted removal leaves an address without job data and never a peer
// that lost its promotion marker.
func (s *NodeStore) Remove(ctx context.Context, ip string) error {
	if err := s.store.Delete(ctx, s.layout.JobData(ip)); err != nil {
		return fmt.Errorf("remove %s: %w", ip, err)
	}
	if err := port.DeleteTree(ctx, s.store, s.layout.Node(ip)); err != nil {
		return fmt.Errorf("remove %s: %w", ip, err)
	}
	return nil
}
