package service

import (
	"context"
	"net"
	"time"

	"github.com/anthanhphan/appcontroller/internal/controller/domain"
	"github.com/anthanhphan/appcontroller/internal/controller/port"
	"github.com/anthanhphan/appcontroller/pkg/clock"
	"github.com/anthanhphan/appcontroller/pkg/resilience"
	"github.com/anthanhphan/gosdk/logger"
)

// Options are the tunables of one controller.
type Options struct {
	PublicIP          string
	Secret            string
	BootID            string
	Root              string
	HeartbeatInterval time.Duration
	LockTimeout       time.Duration
	LockRetryInterval time.Duration
	HealthTimeout     time.Duration
	HealthPort        int
	FailureThreshold  int
	FullSyncEvery     int
}

func (o *Options) setDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 5 * time.Second
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = 30 * time.Second
	}
	if o.LockRetryInterval <= 0 {
		o.LockRetryInterval = 200 * time.Millisecond
	}
	if o.HealthTimeout <= 0 {
		o.HealthTimeout = 3 * time.Second
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 3
	}
}

// Dependencies are the collaborators of one controller. Store, Clock,
// Dispatcher and Pool are required.
type Dependencies struct {
	Store      port.CoordinationStore
	Clock      clock.Clock
	Dispatcher port.RoleDispatcher
	Pool       *resilience.WorkerPool
	Breakers   *resilience.BreakerSet
	Apps       port.AppDirectory
	Terminator port.InstanceTerminator
	Health     port.PeerHealthChecker
	Resolver   Resolver
	LocalAddrs func() ([]string, error)
}

// ControllerServiceImpl is a facade that composes the controller use-case services.
type ControllerServiceImpl struct {
	opts       Options
	layout     Layout
	store      port.CoordinationStore
	lock       *DistributedLock
	directory  *MembershipDirectory
	nodes      *NodeStore
	dispatcher port.RoleDispatcher
	apps       port.AppDirectory
	terminator port.InstanceTerminator
	health     port.PeerHealthChecker
	pool       *resilience.WorkerPool
	breakers   *resilience.BreakerSet
	resolver   Resolver
	localAddrs func() ([]string, error)

	state  *ControllerState
	killed chan struct{}

	params    *parametersService
	roles     *roleService
	queries   *queryService
	reconcile *reconcileService
	heartbeat *heartbeatService
	poller    *healthPoller
}

// Ensure ControllerServiceImpl implements port.ControllerService.
var _ port.ControllerService = (*ControllerServiceImpl)(nil)

// NewControllerService builds the controller facade and all use-case services.
func NewControllerService(opts Options, deps Dependencies) *ControllerServiceImpl {
	opts.setDefaults()
	layout := NewLayout(opts.Root)

	svc := &ControllerServiceImpl{
		opts:       opts,
		layout:     layout,
		store:      deps.Store,
		lock:       NewDistributedLock(deps.Store, layout.Lock(), opts.PublicIP, opts.LockRetryInterval),
		directory:  NewMembershipDirectory(deps.Store, layout, deps.Clock),
		dispatcher: deps.Dispatcher,
		apps:       deps.Apps,
		terminator: deps.Terminator,
		health:     deps.Health,
		pool:       deps.Pool,
		breakers:   deps.Breakers,
		resolver:   deps.Resolver,
		localAddrs: deps.LocalAddrs,
		state:      NewControllerState(opts.Secret, opts.PublicIP, opts.BootID),
		killed:     make(chan struct{}),
	}
	svc.nodes = NewNodeStore(deps.Store, layout, svc.state.KeyName)
	if svc.breakers == nil {
		svc.breakers = resilience.NewBreakerSet(resilience.CircuitBreakerConfig{
			FailureThreshold: opts.FailureThreshold,
			OpenTimeout:      opts.HeartbeatInterval * time.Duration(opts.FailureThreshold),
		})
	}
	if svc.resolver == nil {
		svc.resolver = net.DefaultResolver
	}
	if svc.localAddrs == nil {
		svc.localAddrs = interfaceAddrs
	}

	svc.params = newParametersService(svc)
	svc.roles = newRoleService(svc)
	svc.queries = newQueryService(svc)
	svc.reconcile = newReconcileService(svc)
	svc.heartbeat = newHeartbeatService(svc)
	svc.poller = newHealthPoller(svc)

	return svc
}

// SetParameters registers the deployment and this node's place in it.
func (s *ControllerServiceImpl) SetParameters(ctx context.Context, locations, credentials, appNames any, secret string) error {
	return s.params.setParameters(ctx, locations, credentials, appNames, secret)
}

// Status returns the structured status record of this node and its view of peers.
func (s *ControllerServiceImpl) Status(ctx context.Context, secret string) (*domain.ControllerStatus, error) {
	return s.queries.status(ctx, secret)
}

// AddRole assigns a role to this node and starts it.
func (s *ControllerServiceImpl) AddRole(ctx context.Context, role, secret string) error {
	return s.roles.addRole(ctx, role, secret)
}

// RemoveRole removes a role from this node and stops it.
func (s *ControllerServiceImpl) RemoveRole(ctx context.Context, role, secret string) error {
	return s.roles.removeRole(ctx, role, secret)
}

// GetAllPublicIPs lists the deployment's addresses.
func (s *ControllerServiceImpl) GetAllPublicIPs(ctx context.Context, secret string) ([]string, error) {
	return s.queries.getAllPublicIPs(ctx, secret)
}

// GetRoleInfo returns every node's record ordered by public address.
func (s *ControllerServiceImpl) GetRoleInfo(ctx context.Context, secret string) ([]domain.NodeRecord, error) {
	return s.queries.getRoleInfo(ctx, secret)
}

// Done reports whether this node finished applying its roles.
func (s *ControllerServiceImpl) Done(ctx context.Context, secret string) (bool, error) {
	return s.queries.done(secret)
}

// Kill asks the heartbeat loop to stop. It returns before the loop has stopped.
func (s *ControllerServiceImpl) Kill(ctx context.Context, secret string) error {
	if err := s.checkSecret(secret); err != nil {
		return err
	}
	if s.state.kill() {
		logger.Infow("Kill requested", "public_ip", s.state.PublicIP())
		close(s.killed)
	}
	return nil
}

// Run drives the heartbeat loop until ctx ends or Kill is called.
func (s *ControllerServiceImpl) Run(ctx context.Context) error {
	return s.heartbeat.run(ctx)
}

// Killed is closed once Kill was called.
func (s *ControllerServiceImpl) Killed() <-chan struct{} {
	return s.killed
}

// Tick runs one reconciliation tick outside the loop.
func (s *ControllerServiceImpl) Tick(ctx context.Context) (*TickReport, error) {
	return s.reconcile.tick(ctx)
}

// TouchMembership bumps the directory timestamp so every controller runs a full
// reconciliation, and wakes the local loop.
func (s *ControllerServiceImpl) TouchMembership(ctx context.Context) error {
	if !s.state.Configured() {
		return nil
	}
	err := s.lock.WithLock(ctx, s.opts.LockTimeout, func(ctx context.Context) error {
		_, err := s.directory.Touch(ctx)
		return err
	})
	if err != nil {
		return err
	}
	s.heartbeat.nudge()
	return nil
}

// WaitUntilReady blocks until every node reports done_loading=true.
func (s *ControllerServiceImpl) WaitUntilReady(ctx context.Context, interval time.Duration) error {
	return s.queries.waitUntilReady(ctx, interval)
}

// State exposes the local view for diagnostics.
func (s *ControllerServiceImpl) State() *ControllerState {
	return s.state
}

// markDoneLoading publishes this node's done_loading flag. Failures are logged;
// the flag is rewritten on the next change.
func (s *ControllerServiceImpl) markDoneLoading(ctx context.Context, done bool) {
	self := s.state.PublicIP()
	if err := s.nodes.SetDoneLoading(ctx, self, done); err != nil {
		logger.Warnw("Failed to write done_loading", "public_ip", self, "done", done, "error", err.Error())
		return
	}
	s.state.setDoneLoading(done)
}

func interfaceAddrs() ([]string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		switch v := a.(type) {
		case *net.IPNet:
			out = append(out, v.IP.String())
		case *net.IPAddr:
			out = append(out, v.IP.String())
		}
	}
	return out, nil
}
