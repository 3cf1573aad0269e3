package service

import (
	"context"
	"errors"
	"time"

	"github.com/anthanhphan/appcontroller/internal/controller/domain"
	"github.com/anthanhphan/appcontroller/internal/controller/port"
	"github.com/anthanhphan/appcontroller/pkg/resilience"
	"github.com/anthanhphan/gosdk/logger"
)

// queryService answers the read-only calls.
type queryService struct {
	core *ControllerServiceImpl
}

func newQueryService(core *ControllerServiceImpl) *queryService {
	return &queryService{core: core}
}

func (q *queryService) status(ctx context.Context, secret string) (*domain.ControllerStatus, error) {
	c := q.core
	if err := c.checkSecret(secret); err != nil {
		return nil, err
	}

	publicIP, privateIP, bootID, uptime := c.state.identity()
	st := &domain.ControllerStatus{
		PublicIP:      publicIP,
		PrivateIP:     privateIP,
		Roles:         []string{},
		DoneLoading:   c.state.DoneLoading(),
		BootID:        bootID,
		UptimeSeconds: int64(uptime / time.Second),
		LastObserved:  c.state.LastObserved(),
		Apps:          c.state.AppNames(),
		Nodes:         []domain.NodeSummary{},
	}
	if self := c.state.Self(); self != nil {
		st.Roles = domain.RoleStrings(self.Roles())
	}
	if !c.state.Configured() {
		return st, nil
	}

	m, err := c.directory.Read(ctx)
	if err != nil {
		logger.Warnw("Status without deployment view", "error", err.Error())
		return st, nil
	}
	st.MembershipFingerprint = m.Fingerprint()
	st.Nodes = q.summaries(ctx, m.IPs)
	st.DeploymentReady = deploymentReady(st.Nodes)
	return st, nil
}

// summaries reads every node's subtree concurrently.
func (q *queryService) summaries(ctx context.Context, ips []string) []domain.NodeSummary {
	c := q.core
	results := resilience.Collect(ctx, c.pool, ips, c.opts.HealthTimeout, func(ctx context.Context, ip string) (domain.NodeSummary, error) {
		sum := domain.NodeSummary{PublicIP: ip, Roles: []string{}}
		node, err := c.nodes.ReadNode(ctx, ip)
		if err != nil {
			return sum, err
		}
		sum.Roles = domain.RoleStrings(node.Roles())
		if cached := c.state.node(ip); cached != nil {
			sum.FailedHeartbeats = cached.FailedHeartbeats
		}
		if sum.Live, err = c.nodes.IsLive(ctx, ip); err != nil {
			return sum, err
		}
		sum.DoneLoading, err = c.nodes.DoneLoading(ctx, ip)
		return sum, err
	})

	out := make([]domain.NodeSummary, 0, len(results))
	for _, res := range results {
		if res.Err != nil {
			logger.Warnw("Partial node summary", "public_ip", res.Key, "error", res.Err.Error())
		}
		out = append(out, res.Value)
	}
	return out
}

// deploymentReady is true once every node reported done_loading=true.
func deploymentReady(nodes []domain.NodeSummary) bool {
	if len(nodes) == 0 {
		return false
	}
	for _, n := range nodes {
		if n.DoneLoading == nil || !*n.DoneLoading {
			return false
		}
	}
	return true
}

// waitUntilReady polls the deployment until every node finished loading, the
// controller is killed, or ctx ends.
func (q *queryService) waitUntilReady(ctx context.Context, interval time.Duration) error {
	c := q.core
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if c.state.Configured() {
			if m, err := c.directory.Read(ctx); err == nil && deploymentReady(q.summaries(ctx, m.IPs)) {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.killed:
			return ErrKilled
		case <-ticker.C:
		}
	}
}

func (q *queryService) getAllPublicIPs(ctx context.Context, secret string) ([]string, error) {
	c := q.core
	if err := c.checkSecret(secret); err != nil {
		return nil, err
	}
	m, err := c.directory.Read(ctx)
	if errors.Is(err, port.ErrNoNode) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return m.IPs, nil
}

func (q *queryService) getRoleInfo(ctx context.Context, secret string) ([]domain.NodeRecord, error) {
	c := q.core
	if err := c.checkSecret(secret); err != nil {
		return nil, err
	}
	m, err := c.directory.Read(ctx)
	if errors.Is(err, port.ErrNoNode) {
		return []domain.NodeRecord{}, nil
	}
	if err != nil {
		return nil, err
	}

	records := make([]domain.NodeRecord, 0, len(m.IPs))
	for _, ip := range m.IPs {
		node, err := c.nodes.ReadNode(ctx, ip)
		if errors.Is(err, port.ErrNoNode) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, node.ToRecord())
	}
	return records, nil
}

func (q *queryService) done(secret string) (bool, error) {
	if err := q.core.checkSecret(secret); err != nil {
		return false, err
	}
	return q.core.state.DoneLoading(), nil
}
