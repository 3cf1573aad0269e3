package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/anthanhphan/appcontroller/internal/controller/port"
	"github.com/anthanhphan/gosdk/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var ErrNotServing = errors.New("peer is not serving")

// ClientFactory builds a health client for addr. Tests swap it for fakes.
type ClientFactory func(addr string) (healthpb.HealthClient, error)

// Checker probes peer controllers over the gRPC health protocol and keeps one
// connection per peer address.
type Checker struct {
	service       string
	clients       map[string]healthpb.HealthClient
	conns         map[string]*grpc.ClientConn
	mu            sync.RWMutex
	clientFactory ClientFactory
}

// Ensure Checker implements port.PeerHealthChecker.
var _ port.PeerHealthChecker = (*Checker)(nil)

func NewChecker(service string) *Checker {
	return &Checker{
		service: service,
		clients: make(map[string]healthpb.HealthClient),
		conns:   make(map[string]*grpc.ClientConn),
	}
}

// SetClientFactory sets the client factory for testing purposes
func (c *Checker) SetClientFactory(f ClientFactory) {
	c.clientFactory = f
}

func (c *Checker) Check(ctx context.Context, addr string) error {
	client, err := c.getClient(addr)
	if err != nil {
		return err
	}

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: c.service})
	if err != nil {
		// A broken connection is rebuilt on the next probe.
		c.dropClient(addr)
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s reported %s", ErrNotServing, addr, resp.GetStatus())
	}
	return nil
}

// Forget closes the connection cached for addr.
func (c *Checker) Forget(addr string) {
	c.dropClient(addr)
}

func (c *Checker) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for addr, conn := range c.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(c.conns, addr)
	}
	clear(c.clients)
	return errors.Join(errs...)
}

func (c *Checker) getClient(addr string) (healthpb.HealthClient, error) {
	c.mu.RLock()
	client, ok := c.clients[addr]
	c.mu.RUnlock()
	if ok {
		return client, nil
	}

	var (
		newClient healthpb.HealthClient
		newConn   *grpc.ClientConn
		err       error
	)
	if c.clientFactory != nil {
		newClient, err = c.clientFactory(addr)
	} else {
		newConn, err = grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err == nil {
			newClient = healthpb.NewHealthClient(newConn)
		}
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[addr]; ok {
		if newConn != nil {
			_ = newConn.Close()
		}
		return client, nil
	}

	c.clients[addr] = newClient
	if newConn != nil {
		c.conns[addr] = newConn
	}
	logger.Debugw("Opened health connection", "addr", addr)
	return newClient, nil
}

func (c *Checker) dropClient(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[addr]; ok {
		_ = conn.Close()
		delete(c.conns, addr)
	}
	delete(c.clients, addr)
}
