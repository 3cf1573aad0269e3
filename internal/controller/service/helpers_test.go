package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/anthanhphan/appcontroller/internal/controller/adapter/outbound/memstore"
	"github.com/anthanhphan/appcontroller/internal/controller/domain"
	"github.com/anthanhphan/appcontroller/internal/controller/port"
	"github.com/anthanhphan/appcontroller/pkg/clock"
	"github.com/anthanhphan/appcontroller/pkg/resilience"
)

const testSecret = "s3cret"

var testRoles = []domain.Role{
	domain.RoleShadow,
	domain.RoleLoadBalancer,
	domain.RoleDBMaster,
	domain.RoleDBSlave,
	domain.RoleZookeeper,
	domain.RoleMemcache,
	domain.RoleTaskQueueMaster,
	domain.RoleTaskQueueSlave,
	domain.RoleLogin,
	domain.RoleSearch,
	domain.RoleAppEngine,
}

// roleRecorder counts handler invocations per role.
type roleRecorder struct {
	mu        sync.Mutex
	starts    map[domain.Role]int
	stops     map[domain.Role]int
	failStart map[domain.Role]error
	failStop  map[domain.Role]error
}

func newRoleRecorder() *roleRecorder {
	return &roleRecorder{
		starts:    make(map[domain.Role]int),
		stops:     make(map[domain.Role]int),
		failStart: make(map[domain.Role]error),
		failStop:  make(map[domain.Role]error),
	}
}

func (r *roleRecorder) handler(role domain.Role) port.RoleHandler {
	return port.RoleHandler{
		Start: func(context.Context) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			if err := r.failStart[role]; err != nil {
				return err
			}
			r.starts[role]++
			return nil
		},
		Stop: func(context.Context) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.stops[role]++
			return r.failStop[role]
		},
	}
}

func (r *roleRecorder) setStartFailure(role domain.Role, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failStart, role)
		return
	}
	r.failStart[role] = err
}

func (r *roleRecorder) setStopFailure(role domain.Role, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failStop, role)
		return
	}
	r.failStop[role] = err
}

func (r *roleRecorder) startCount(role domain.Role) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts[role]
}

func (r *roleRecorder) stopCount(role domain.Role) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops[role]
}

type testNode struct {
	svc        *ControllerServiceImpl
	session    *memstore.Session
	dispatcher *Dispatcher
	roles      *roleRecorder
	publicIP   string
}

func newTestNode(t *testing.T, tree *memstore.Tree, clk clock.Clock, publicIP, privateIP string, mutate ...func(*Options, *Dependencies)) *testNode {
	t.Helper()

	pool := resilience.NewWorkerPool(4, 32)
	t.Cleanup(func() {
		pool.Close()
		pool.Wait()
	})
	session := tree.Session()
	t.Cleanup(func() { _ = session.Close() })

	rec := newRoleRecorder()
	disp := NewDispatcher(pool, time.Second)
	for _, r := range testRoles {
		disp.Register(r, rec.handler(r))
	}

	opts := Options{
		PublicIP:          publicIP,
		Secret:            testSecret,
		BootID:            "boot-" + publicIP,
		HeartbeatInterval: 10 * time.Millisecond,
		LockTimeout:       time.Second,
		LockRetryInterval: 5 * time.Millisecond,
		HealthTimeout:     time.Second,
		HealthPort:        17443,
		FailureThreshold:  2,
	}
	deps := Dependencies{
		Store:      session,
		Clock:      clk,
		Dispatcher: disp,
		Pool:       pool,
		Resolver:   hostsResolver{},
		LocalAddrs: func() ([]string, error) { return []string{privateIP}, nil },
	}
	for _, m := range mutate {
		m(&opts, &deps)
	}

	return &testNode{
		svc:        NewControllerService(opts, deps),
		session:    session,
		dispatcher: disp,
		roles:      rec,
		publicIP:   publicIP,
	}
}

// configure hands the same locations to every node, in order.
func configure(t *testing.T, locations []string, nodes ...*testNode) {
	t.Helper()
	for _, n := range nodes {
		if err := n.svc.SetParameters(context.Background(), locations, []string{"keyname", "bookey"}, []string{"guestbook"}, testSecret); err != nil {
			t.Fatalf("SetParameters on %s: %v", n.publicIP, err)
		}
	}
}

// tickAll runs one tick on each node, in order.
func tickAll(t *testing.T, nodes ...*testNode) {
	t.Helper()
	for _, n := range nodes {
		if _, err := n.svc.Tick(context.Background()); err != nil {
			t.Fatalf("Tick on %s: %v", n.publicIP, err)
		}
	}
}

// hostsResolver resolves names from a fixed table; unknown names resolve to
// themselves so symbolic test addresses like ip1 pass through.
type hostsResolver map[string][]string

func (h hostsResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	if addrs, ok := h[host]; ok {
		return addrs, nil
	}
	return []string{host}, nil
}

func recordFor(records []domain.NodeRecord, ip string) (domain.NodeRecord, bool) {
	for _, rec := range records {
		if rec.PublicIP == ip {
			return rec, true
		}
	}
	return domain.NodeRecord{}, false
}
