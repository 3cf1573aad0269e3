package service

import (
	"context"
	"fmt"

	"github.com/anthanhphan/appcontroller/internal/controller/domain"
	"github.com/anthanhphan/appcontroller/internal/controller/port"
	"github.com/anthanhphan/gosdk/logger"
)

// roleService handles explicit role changes requested through the API.
type roleService struct {
	core *ControllerServiceImpl
}

func newRoleService(core *ControllerServiceImpl) *roleService {
	return &roleService{core: core}
}

func (s *roleService) addRole(ctx context.Context, role, secret string) error {
	r, err := s.validate(role, secret)
	if err != nil {
		return err
	}
	return s.change(ctx, func(n *domain.NodeRole) { n.AddRoles(r) }, []domain.Role{r}, nil)
}

func (s *roleService) removeRole(ctx context.Context, role, secret string) error {
	r, err := s.validate(role, secret)
	if err != nil {
		return err
	}
	return s.change(ctx, func(n *domain.NodeRole) { n.RemoveRoles(r) }, nil, []domain.Role{r})
}

func (s *roleService) validate(role, secret string) (domain.Role, error) {
	if err := s.core.checkSecret(secret); err != nil {
		return "", err
	}
	if !s.core.state.Configured() {
		return "", port.ErrNotReady
	}
	r, err := domain.ParseRole(role)
	if err != nil {
		return "", fmt.Errorf("%w: %q", err, role)
	}
	if r == domain.RoleOpen {
		return "", fmt.Errorf("%w: open is implied by having no roles", ErrInvalidArgument)
	}
	return r, nil
}

// change rewrites this node's record and applies the local transition while
// holding the lock, so a concurrent tick never sees the record and the running
// roles disagree.
func (s *roleService) change(ctx context.Context, mutate func(*domain.NodeRole), toStart, toStop []domain.Role) error {
	c := s.core
	self := c.state.PublicIP()

	applied := false
	err := c.lock.WithLock(ctx, c.opts.LockTimeout, func(ctx context.Context) error {
		node, err := c.nodes.ReadNode(ctx, self)
		if err != nil {
			return err
		}
		mutate(node)

		c.markDoneLoading(ctx, false)
		if err := c.nodes.WriteNode(ctx, node); err != nil {
			return err
		}
		c.state.putNode(node)
		c.state.reclaimRoles(toStart)
		c.state.releaseRoles(toStop)
		if _, err := c.directory.Touch(ctx); err != nil {
			return err
		}

		if err := c.dispatcher.Apply(ctx, toStart, toStop); err != nil {
			logger.Errorw("Applying role change failed, retrying next tick",
				"public_ip", self,
				"to_start", domain.RoleStrings(toStart),
				"to_stop", domain.RoleStrings(toStop),
				"error", err.Error())
			c.state.setApplyPending(true)
			return nil
		}
		applied = true
		return nil
	})
	if err != nil {
		logger.Warnw("Role change failed", "public_ip", self, "error", err.Error())
		return err
	}
	if applied {
		c.markDoneLoading(ctx, true)
	}
	logger.Infow("Role change recorded", "public_ip", self,
		"added", domain.RoleStrings(toStart), "removed", domain.RoleStrings(toStop))
	return nil
}
