package service

import (
	"context"
	"errors"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/anthanhphan/appcontroller/internal/controller/domain"
	"github.com/anthanhphan/appcontroller/internal/controller/port"
	"github.com/anthanhphan/appcontroller/pkg/resilience"
	"github.com/anthanhphan/gosdk/logger"
)

// healthPoller runs on the shadow node. It probes every peer directly, counts
// consecutive failures and terminates peers that cross the threshold or whose
// lease ran out.
type healthPoller struct {
	core *ControllerServiceImpl

	mu         sync.Mutex
	failures   map[string]int
	terminated map[string]struct{}
}

func newHealthPoller(core *ControllerServiceImpl) *healthPoller {
	return &healthPoller{
		core:       core,
		failures:   make(map[string]int),
		terminated: make(map[string]struct{}),
	}
}

func (p *healthPoller) poll(ctx context.Context) error {
	c := p.core
	if c.health == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	self := c.state.PublicIP()
	peers := make(map[string]*domain.NodeRole)
	var ips []string
	for _, n := range c.state.Nodes() {
		if n.PublicIP == self {
			continue
		}
		if _, gone := p.terminated[n.PublicIP]; gone {
			continue
		}
		peers[n.PublicIP] = n
		ips = append(ips, n.PublicIP)
	}
	p.forgetDeparted(c.state.Nodes())
	if len(ips) == 0 {
		return nil
	}

	results := resilience.Collect(ctx, c.pool, ips, c.opts.HealthTimeout, func(ctx context.Context, ip string) (struct{}, error) {
		return struct{}{}, c.breakers.Execute(ctx, ip, func(ctx context.Context) error {
			return c.health.Check(ctx, p.addr(peers[ip]))
		})
	})

	now := time.Now()
	var doomed []*domain.NodeRole
	for _, res := range results {
		ip := res.Key
		if res.Err == nil {
			if p.failures[ip] > 0 {
				logger.Infow("Peer recovered", "public_ip", ip, "failures", p.failures[ip])
			}
			p.failures[ip] = 0
		} else {
			p.failures[ip]++
			logger.Warnw("Peer health check failed", "public_ip", ip, "failures", p.failures[ip], "error", res.Err.Error())
		}
		c.state.recordFailure(ip, p.failures[ip])

		node := peers[ip]
		switch {
		case p.failures[ip] >= c.opts.FailureThreshold:
			logger.Errorw("Peer unresponsive beyond threshold", "public_ip", ip, "failures", p.failures[ip])
			doomed = append(doomed, node)
		case node.LeaseExpired(now):
			logger.Infow("Peer lease expired", "public_ip", ip, "destruction_time", node.DestructionTime.String())
			doomed = append(doomed, node)
		}
	}
	if len(doomed) == 0 {
		return nil
	}
	return p.terminate(ctx, doomed)
}

// terminate tears down the VMs, then clears their liveness so the next tick
// evicts them and reassigns their roles.
func (p *healthPoller) terminate(ctx context.Context, doomed []*domain.NodeRole) error {
	c := p.core

	byCloud := make(map[string][]string)
	for _, n := range doomed {
		if n.InstanceID == "" {
			logger.Warnw("Peer has no instance id, skipping VM termination", "public_ip", n.PublicIP)
			continue
		}
		byCloud[n.CloudID] = append(byCloud[n.CloudID], n.InstanceID)
	}
	clouds := make([]string, 0, len(byCloud))
	for cloud := range byCloud {
		clouds = append(clouds, cloud)
	}
	sort.Strings(clouds)
	for _, cloud := range clouds {
		if c.terminator == nil {
			break
		}
		if err := c.terminator.TerminateInstances(ctx, cloud, byCloud[cloud]); err != nil {
			logger.Errorw("VM termination failed", "cloud", cloud, "instances", byCloud[cloud], "error", err.Error())
			continue
		}
		logger.Infow("Terminated instances", "cloud", cloud, "instances", byCloud[cloud])
	}

	err := c.lock.WithLock(ctx, c.opts.LockTimeout, func(ctx context.Context) error {
		for _, n := range doomed {
			if err := c.nodes.ClearLive(ctx, n.PublicIP); err != nil {
				return err
			}
			err := c.nodes.SetDoneLoading(ctx, n.PublicIP, false)
			if err != nil && !errors.Is(err, port.ErrNoNode) {
				return err
			}
		}
		_, err := c.directory.Touch(ctx)
		return err
	})
	if err != nil {
		return err
	}

	for _, n := range doomed {
		p.terminated[n.PublicIP] = struct{}{}
		delete(p.failures, n.PublicIP)
		c.breakers.Forget(n.PublicIP)
	}
	c.heartbeat.nudge()
	return nil
}

// forgetDeparted drops bookkeeping for peers that left the deployment.
func (p *healthPoller) forgetDeparted(nodes []*domain.NodeRole) {
	present := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		present[n.PublicIP] = struct{}{}
	}
	for ip := range p.terminated {
		if _, ok := present[ip]; !ok {
			delete(p.terminated, ip)
		}
	}
	for ip := range p.failures {
		if _, ok := present[ip]; !ok {
			delete(p.failures, ip)
		}
	}
}

func (p *healthPoller) addr(n *domain.NodeRole) string {
	host := n.PrivateIP
	if host == "" {
		host = n.PublicIP
	}
	return net.JoinHostPort(host, strconv.Itoa(p.core.opts.HealthPort))
}
