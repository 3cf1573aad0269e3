package service

import (
	"context"
	"sort"

	"github.com/anthanhphan/appcontroller/internal/controller/domain"
	"github.com/anthanhphan/gosdk/logger"
)

// replaceDead hands a dead peer's roles to the address-sorted-first live open
// node, then evicts the peer. The takeover is written before anything of the
// peer is deleted, so a failed tick is retried from the same dead peer. A peer
// with roles is left in place when no open node exists.
func (r *reconcileService) replaceDead(ctx context.Context, ip string, fresh map[string]*domain.NodeRole, report *TickReport) (bool, error) {
	c := r.core
	roles := fresh[ip].RealRoles()

	if len(roles) > 0 {
		adopter, err := r.adopter(ctx, ip, roles, fresh)
		if err != nil {
			return false, err
		}
		if adopter != "" {
			logger.Infow("Dead peer was already taken over, finishing eviction", "public_ip", ip, "promoted_to", adopter)
		} else {
			target := r.promotionTarget(ctx, fresh, ip)
			if target == nil {
				logger.Warnw("No open node can take over a dead peer, leaving it registered",
					"public_ip", ip, "roles", domain.RoleStrings(roles))
				return false, nil
			}
			if err := c.nodes.MarkPromoted(ctx, ip, target.PublicIP); err != nil {
				return false, err
			}
			if err := r.promote(ctx, target, roles, fresh, report); err != nil {
				return false, err
			}
		}
	}

	if err := r.evict(ctx, ip); err != nil {
		return false, err
	}
	delete(fresh, ip)
	report.Evicted = append(report.Evicted, ip)
	return true, nil
}

// adopter returns the node a previous, interrupted tick promoted in place of
// the dead peer, provided its record already carries every role.
func (r *reconcileService) adopter(ctx context.Context, ip string, roles []domain.Role, fresh map[string]*domain.NodeRole) (string, error) {
	prev, err := r.core.nodes.PromotedTo(ctx, ip)
	if err != nil || prev == "" {
		return "", err
	}
	n, ok := fresh[prev]
	if !ok || prev == ip {
		return "", nil
	}
	for _, role := range roles {
		if !n.HasRole(role) {
			return "", nil
		}
	}
	return prev, nil
}

func (r *reconcileService) promotionTarget(ctx context.Context, fresh map[string]*domain.NodeRole, deadIP string) *domain.NodeRole {
	c := r.core
	self := c.state.PublicIP()

	ips := make([]string, 0, len(fresh))
	for ip := range fresh {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	for _, ip := range ips {
		n := fresh[ip]
		if ip == deadIP || !n.IsOpen() {
			continue
		}
		if ip != self {
			live, err := c.nodes.IsLive(ctx, ip)
			if err != nil || !live {
				continue
			}
		}
		return n
	}
	return nil
}

// evict removes a peer's app registrations and subtree.
func (r *reconcileService) evict(ctx context.Context, ip string) error {
	c := r.core
	instances, err := c.nodes.AppInstances(ctx, ip)
	if err != nil {
		logger.Warnw("Failed to read app instances of dead peer", "public_ip", ip, "error", err.Error())
	}
	for _, inst := range instances {
		if c.apps == nil {
			break
		}
		if err := c.apps.DeleteInstance(ctx, inst); err != nil {
			logger.Warnw("Failed to delete app instance of dead peer",
				"public_ip", ip, "app", inst.AppName, "host", inst.Host, "port", inst.Port, "error", err.Error())
		}
	}
	if err := c.nodes.Remove(ctx, ip); err != nil {
		return err
	}
	logger.Infow("Evicted dead peer", "public_ip", ip, "app_instances", len(instances))
	return nil
}

// promote writes target's record with the added roles. When target is this
// controller the roles are started before the lock is released.
func (r *reconcileService) promote(ctx context.Context, target *domain.NodeRole, roles []domain.Role, fresh map[string]*domain.NodeRole, report *TickReport) error {
	c := r.core
	next := target.Clone()
	next.AddRoles(roles...)
	logger.Infow("Promoting node to replace dead peer", "public_ip", next.PublicIP, "roles", domain.RoleStrings(roles))

	self := c.state.PublicIP()
	if next.PublicIP != self {
		if err := c.nodes.WriteNode(ctx, next); err != nil {
			return err
		}
		fresh[next.PublicIP] = next
		report.Promoted = append(report.Promoted, roles)
		return nil
	}

	c.markDoneLoading(ctx, false)
	if err := c.nodes.WriteNode(ctx, next); err != nil {
		return err
	}
	fresh[next.PublicIP] = next
	report.Promoted = append(report.Promoted, roles)
	c.state.putNode(next)
	c.state.reclaimRoles(roles)
	if err := c.dispatcher.Apply(ctx, roles, nil); err != nil {
		logger.Errorw("Starting promoted roles failed, retrying next tick",
			"roles", domain.RoleStrings(roles), "error", err.Error())
		c.state.setApplyPending(true)
		return nil
	}
	c.markDoneLoading(ctx, true)
	return nil
}
