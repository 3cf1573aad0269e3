package service

import (
	"context"
	"errors"
	"sync"

	"github.com/anthanhphan/appcontroller/internal/controller/domain"
	"github.com/anthanhphan/appcontroller/internal/controller/port"
	"github.com/anthanhphan/gosdk/logger"
)

// TickStatus tells whether a reconciliation tick looked at the deployment.
type TickStatus int

const (
	NotUpdated TickStatus = iota
	Updated
)

func (s TickStatus) String() string {
	if s == Updated {
		return "updated"
	}
	return "not_updated"
}

// TickReport describes what one reconciliation tick did.
type TickReport struct {
	Status   TickStatus
	Observed int64
	// Promoted holds the role sets taken over from dead peers, one entry per peer.
	Promoted [][]domain.Role
	Evicted  []string
	ToStart  []domain.Role
	ToStop   []domain.Role
}

// reconcileService diffs the shared membership and role table against the local view.
type reconcileService struct {
	core *ControllerServiceImpl

	mu    sync.Mutex
	ticks int
}

func newReconcileService(core *ControllerServiceImpl) *reconcileService {
	return &reconcileService{core: core}
}

// tick runs one reconciliation. Without a directory change since the last tick it
// returns NotUpdated and writes nothing.
func (r *reconcileService) tick(ctx context.Context) (*TickReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.core
	report := &TickReport{Status: NotUpdated, Observed: c.state.LastObserved()}
	if !c.state.Configured() {
		return report, nil
	}

	r.ticks++
	fullSync := c.opts.FullSyncEvery > 0 && r.ticks%c.opts.FullSyncEvery == 0
	if !fullSync {
		changed, err := c.directory.HasChangedSince(ctx, report.Observed)
		if err != nil {
			return nil, err
		}
		if !changed {
			if c.state.ApplyPending() {
				r.applyLocal(ctx, report)
			}
			return report, nil
		}
	}

	var (
		observed int64
		complete bool
	)
	err := c.lock.WithLock(ctx, c.opts.LockTimeout, func(ctx context.Context) error {
		var err error
		observed, complete, err = r.reconcileLocked(ctx, report)
		return err
	})
	if err != nil {
		return nil, err
	}

	report.Status = Updated
	report.Observed = observed
	if complete {
		c.state.observe(observed)
	}
	r.applyLocal(ctx, report)
	return report, nil
}

// reconcileLocked refreshes the node cache, evicts dead peers and writes the
// directory back when it changed. It reports whether every peer could be read.
func (r *reconcileService) reconcileLocked(ctx context.Context, report *TickReport) (int64, bool, error) {
	c := r.core
	m, err := c.directory.Read(ctx)
	if err != nil {
		return 0, false, err
	}

	self := c.state.PublicIP()
	cached := c.state.nodeMap()
	fresh := make(map[string]*domain.NodeRole, len(m.IPs))
	complete := true
	var orphans []string

	for _, ip := range m.IPs {
		node, err := c.nodes.ReadNode(ctx, ip)
		if errors.Is(err, port.ErrNoNode) {
			orphans = append(orphans, ip)
			continue
		}
		if err != nil {
			complete = false
			logger.Warnw("Failed to read job data, keeping cached entry", "public_ip", ip, "error", err.Error())
			if old, ok := cached[ip]; ok {
				fresh[ip] = old
			}
			continue
		}
		if old, ok := cached[ip]; ok {
			node.FailedHeartbeats = old.FailedHeartbeats
			if old.Fingerprint() != node.Fingerprint() {
				logger.Infow("Node roles changed", "public_ip", ip, "roles", domain.RoleStrings(node.Roles()))
			}
		} else {
			logger.Infow("Node joined deployment", "public_ip", ip, "roles", domain.RoleStrings(node.Roles()))
		}
		fresh[ip] = node
	}
	for ip := range cached {
		if !m.Contains(ip) {
			logger.Infow("Node left deployment", "public_ip", ip)
		}
	}

	if _, ok := fresh[self]; !ok {
		logger.Errorw("This controller is missing from the deployment, keeping local roles", "public_ip", self)
		if old, ok := cached[self]; ok {
			fresh[self] = old
		}
		orphans = without(orphans, self)
	}

	changed := false
	if len(orphans) > 0 {
		logger.Warnw("Dropping addresses without job data", "public_ips", orphans)
		m = m.Without(orphans...)
		changed = true
	}

	dead, ok := r.findDead(ctx, m.IPs, fresh, self)
	complete = complete && ok
	for _, ip := range dead {
		evicted, err := r.replaceDead(ctx, ip, fresh, report)
		if err != nil {
			return 0, false, err
		}
		if evicted {
			m = m.Without(ip)
			changed = true
		}
	}

	if err := r.keepProtectedRoles(ctx, fresh[self]); err != nil {
		return 0, false, err
	}

	observed := m.LastUpdated
	if changed {
		written, err := c.directory.Write(ctx, m.IPs, m.LastUpdated)
		if err != nil {
			return 0, false, err
		}
		observed = written.LastUpdated
	}
	c.state.replaceNodes(fresh)
	return observed, complete, nil
}

// findDead returns peers whose liveness marker is gone. A peer that never wrote
// done_loading has not started yet and is not considered dead.
func (r *reconcileService) findDead(ctx context.Context, ips []string, fresh map[string]*domain.NodeRole, self string) ([]string, bool) {
	c := r.core
	complete := true
	var dead []string
	for _, ip := range ips {
		if ip == self {
			continue
		}
		if _, ok := fresh[ip]; !ok {
			continue
		}
		live, err := c.nodes.IsLive(ctx, ip)
		if err != nil {
			complete = false
			logger.Warnw("Failed to read liveness marker", "public_ip", ip, "error", err.Error())
			continue
		}
		if live {
			continue
		}
		done, err := c.nodes.DoneLoading(ctx, ip)
		if err != nil {
			complete = false
			logger.Warnw("Failed to read done_loading", "public_ip", ip, "error", err.Error())
			continue
		}
		if done == nil {
			logger.Debugw("Peer has not started yet", "public_ip", ip)
			continue
		}
		logger.Warnw("Peer lost its liveness marker", "public_ip", ip)
		dead = append(dead, ip)
	}
	return dead, complete
}

// keepProtectedRoles re-adds shadow or db_master to this node's record when the
// node still runs them but the record lost them. Only explicit role changes and
// dead-peer promotion move those roles, so a role removed through the API stays
// removed while its stop is retried.
func (r *reconcileService) keepProtectedRoles(ctx context.Context, self *domain.NodeRole) error {
	if self == nil {
		return nil
	}
	c := r.core
	running := c.dispatcher.Running()
	c.state.settleReleased(running)

	var kept []domain.Role
	for _, role := range running {
		if domain.IsProtectedRole(role) && !self.HasRole(role) && !c.state.Released(role) {
			kept = append(kept, role)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	logger.Warnw("Keeping protected roles dropped from this node's record", "public_ip", self.PublicIP, "roles", domain.RoleStrings(kept))
	self.AddRoles(kept...)
	return c.nodes.WriteNode(ctx, self)
}

// applyLocal starts and stops local roles so they match this node's record.
// Failures leave the record alone and are retried on the next tick.
func (r *reconcileService) applyLocal(ctx context.Context, report *TickReport) {
	c := r.core
	self := c.state.Self()
	if self == nil {
		return
	}
	toStart, toStop := domain.DiffRoles(self.Roles(), c.dispatcher.Running())
	report.ToStart, report.ToStop = toStart, toStop

	if len(toStart) == 0 && len(toStop) == 0 {
		c.state.setApplyPending(false)
		if !c.state.DoneLoading() {
			c.markDoneLoading(ctx, true)
		}
		return
	}

	c.markDoneLoading(ctx, false)
	if err := c.dispatcher.Apply(ctx, toStart, toStop); err != nil {
		logger.Errorw("Applying roles failed, retrying next tick",
			"public_ip", self.PublicIP,
			"to_start", domain.RoleStrings(toStart),
			"to_stop", domain.RoleStrings(toStop),
			"error", err.Error())
		c.state.setApplyPending(true)
		return
	}
	c.state.setApplyPending(false)
	c.markDoneLoading(ctx, true)
}

func without(ips []string, drop string) []string {
	out := ips[:0]
	for _, ip := range ips {
		if ip != drop {
			out = append(out, ip)
		}
	}
	return out
}
