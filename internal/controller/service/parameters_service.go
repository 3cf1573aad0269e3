package service

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/anthanhphan/appcontroller/internal/controller/domain"
	"github.com/anthanhphan/appcontroller/internal/controller/port"
	"github.com/anthanhphan/gosdk/logger"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrSelfNotFound    = errors.New("this machine is not in the location list")
)

// Resolver turns host names into addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// parametersService registers the deployment handed over by the tools.
type parametersService struct {
	core *ControllerServiceImpl
}

func newParametersService(core *ControllerServiceImpl) *parametersService {
	return &parametersService{core: core}
}

// setParameters validates everything before touching shared state, then
// registers the locations under the lock.
func (p *parametersService) setParameters(ctx context.Context, locations, credentials, appNames any, secret string) error {
	c := p.core
	if err := c.checkSecret(secret); err != nil {
		return err
	}

	locs, err := stringList("locations", locations)
	if err != nil {
		return err
	}
	if len(locs) == 0 {
		return fmt.Errorf("%w: locations must not be empty", ErrInvalidArgument)
	}
	flat, err := stringList("credentials", credentials)
	if err != nil {
		return err
	}
	apps, err := stringList("app_names", appNames)
	if err != nil {
		return err
	}
	creds, err := domain.ParseCredentials(flat)
	if err != nil {
		return err
	}

	nodes, err := p.parseLocations(ctx, locs, creds.KeyName())
	if err != nil {
		return err
	}
	self, err := p.findSelf(nodes)
	if err != nil {
		return err
	}

	if err := p.bootstrap(ctx, nodes); err != nil {
		logger.Errorw("Failed to register deployment", "error", err.Error())
		return err
	}

	c.state.configure(self, creds, apps)
	if err := c.nodes.MarkLive(ctx, self.PublicIP); err != nil {
		logger.Warnw("Failed to mark this node live", "public_ip", self.PublicIP, "error", err.Error())
	}
	c.heartbeat.nudge()

	logger.Infow("Deployment parameters set",
		"public_ip", self.PublicIP,
		"roles", domain.RoleStrings(self.Roles()),
		"nodes", len(nodes),
		"apps", apps,
		"keyname", creds.KeyName())
	return nil
}

func (p *parametersService) parseLocations(ctx context.Context, locs []string, keyName string) ([]*domain.NodeRole, error) {
	nodes := make([]*domain.NodeRole, 0, len(locs))
	seen := make(map[string]struct{}, len(locs))
	for _, loc := range locs {
		node, err := domain.ParseNodeRole(loc, keyName)
		if err != nil {
			return nil, err
		}
		if node.PublicIP, err = p.normalize(ctx, node.PublicIP); err != nil {
			return nil, err
		}
		if node.PrivateIP, err = p.normalize(ctx, node.PrivateIP); err != nil {
			return nil, err
		}
		if _, dup := seen[node.PublicIP]; dup {
			return nil, fmt.Errorf("%w: %s listed twice in locations", ErrInvalidArgument, node.PublicIP)
		}
		seen[node.PublicIP] = struct{}{}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// normalize resolves a DNS name to an address once, at registration.
func (p *parametersService) normalize(ctx context.Context, host string) (string, error) {
	if host == "" || net.ParseIP(host) != nil {
		return host, nil
	}
	addrs, err := p.core.resolver.LookupHost(ctx, host)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("resolve %s: no addresses", host)
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			return a, nil
		}
	}
	return addrs[0], nil
}

// findSelf matches the machine's own addresses against the private addresses of
// the locations, then the public ones.
func (p *parametersService) findSelf(nodes []*domain.NodeRole) (*domain.NodeRole, error) {
	local, err := p.core.localAddrs()
	if err != nil {
		return nil, fmt.Errorf("list local addresses: %w", err)
	}
	mine := make(map[string]struct{}, len(local)+1)
	for _, a := range local {
		mine[a] = struct{}{}
	}
	if ip := p.core.opts.PublicIP; ip != "" {
		mine[ip] = struct{}{}
	}

	for _, n := range nodes {
		if _, ok := mine[n.PrivateIP]; ok {
			return n, nil
		}
	}
	for _, n := range nodes {
		if _, ok := mine[n.PublicIP]; ok {
			return n, nil
		}
	}
	return nil, fmt.Errorf("%w (local addresses %v)", ErrSelfNotFound, local)
}

// bootstrap creates the shared tree and registers every location that is not
// registered yet. Existing records are left untouched.
func (p *parametersService) bootstrap(ctx context.Context, nodes []*domain.NodeRole) error {
	c := p.core
	if err := port.EnsurePath(ctx, c.store, c.layout.Nodes()); err != nil {
		return err
	}

	return c.lock.WithLock(ctx, c.opts.LockTimeout, func(ctx context.Context) error {
		m, err := c.directory.EnsureInitialized(ctx)
		if err != nil {
			return err
		}

		ips := make([]string, 0, len(nodes))
		added := 0
		for _, n := range nodes {
			ips = append(ips, n.PublicIP)
			registered, err := c.nodes.Registered(ctx, n.PublicIP)
			if err != nil {
				return err
			}
			if registered {
				continue
			}
			if err := c.nodes.Register(ctx, n); err != nil {
				return err
			}
			added++
		}

		next := m.With(ips...)
		if added == 0 && next.SameAddresses(m) {
			return nil
		}
		_, err = c.directory.Write(ctx, next.IPs, m.LastUpdated)
		return err
	})
}

// stringList accepts the loosely typed arrays that arrive over the wire.
func stringList(name string, v any) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s[%d] must be a string, got %T", ErrInvalidArgument, name, i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s must be an array of strings, got %T", ErrInvalidArgument, name, v)
	}
}
