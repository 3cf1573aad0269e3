package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthanhphan/appcontroller/internal/controller/domain"
	"github.com/anthanhphan/appcontroller/internal/controller/port"
	"github.com/anthanhphan/appcontroller/pkg/clock"
)

// MembershipDirectory reads and writes the deployment address list. Every write
// must happen under the DistributedLock; reads of the timestamp may not.
type MembershipDirectory struct {
	store  port.CoordinationStore
	layout Layout
	clock  clock.Clock
}

func NewMembershipDirectory(store port.CoordinationStore, layout Layout, c clock.Clock) *MembershipDirectory {
	return &MembershipDirectory{store: store, layout: layout, clock: c}
}

// Read returns the stored directory, or an error wrapping port.ErrNoNode on a
// deployment that was never initialized.
func (d *MembershipDirectory) Read(ctx context.Context) (domain.Membership, error) {
	data, err := d.store.Get(ctx, d.layout.Directory())
	if err != nil {
		return domain.Membership{}, fmt.Errorf("read membership: %w", err)
	}
	return domain.UnmarshalMembership(data)
}

// LastUpdated returns only the stored timestamp.
func (d *MembershipDirectory) LastUpdated(ctx context.Context) (int64, error) {
	m, err := d.Read(ctx)
	if err != nil {
		return 0, err
	}
	return m.LastUpdated, nil
}

// HasChangedSince reports whether the stored timestamp differs from cached.
// A smaller stored value means the directory was rebuilt and also counts as a change.
func (d *MembershipDirectory) HasChangedSince(ctx context.Context, cached int64) (bool, error) {
	stored, err := d.LastUpdated(ctx)
	if err != nil {
		return false, err
	}
	return stored != cached, nil
}

// Write stores ips with a timestamp strictly greater than prev.
func (d *MembershipDirectory) Write(ctx context.Context, ips []string, prev int64) (domain.Membership, error) {
	m := domain.NewMembership(ips, clock.Next(d.clock, prev))
	data, err := m.Marshal()
	if err != nil {
		return domain.Membership{}, err
	}
	if err := d.store.Set(ctx, d.layout.Directory(), data, false); err != nil {
		return domain.Membership{}, fmt.Errorf("write membership: %w", err)
	}
	return m, nil
}

// Touch bumps the timestamp without changing addresses so every controller runs a
// full reconciliation on its next tick.
func (d *MembershipDirectory) Touch(ctx context.Context) (domain.Membership, error) {
	m, err := d.Read(ctx)
	if err != nil {
		return domain.Membership{}, err
	}
	return d.Write(ctx, m.IPs, m.LastUpdated)
}

// EnsureInitialized creates an empty directory when none exists yet.
func (d *MembershipDirectory) EnsureInitialized(ctx context.Context) (domain.Membership, error) {
	m, err := d.Read(ctx)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, port.ErrNoNode) {
		return domain.Membership{}, err
	}
	if err := port.EnsurePath(ctx, d.store, d.layout.Root()); err != nil {
		return domain.Membership{}, err
	}
	return d.Write(ctx, nil, 0)
}
