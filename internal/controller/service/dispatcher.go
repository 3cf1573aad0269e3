package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anthanhphan/appcontroller/internal/controller/domain"
	"github.com/anthanhphan/appcontroller/internal/controller/port"
	"github.com/anthanhphan/appcontroller/pkg/resilience"
	"github.com/anthanhphan/gosdk/logger"
)

// Dispatcher maps roles to start/stop handlers and remembers what it started.
// Stops run before starts; each phase fans out over the worker pool.
type Dispatcher struct {
	pool    *resilience.WorkerPool
	timeout time.Duration

	mu       sync.Mutex
	handlers map[domain.Role]port.RoleHandler
	running  map[domain.Role]struct{}
}

var _ port.RoleDispatcher = (*Dispatcher)(nil)

func NewDispatcher(pool *resilience.WorkerPool, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		pool:     pool,
		timeout:  timeout,
		handlers: make(map[domain.Role]port.RoleHandler),
		running:  make(map[domain.Role]struct{}),
	}
}

// Register installs the handler for a role, replacing any previous one.
func (d *Dispatcher) Register(role domain.Role, h port.RoleHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[role] = h
}

func (d *Dispatcher) Running() []domain.Role {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.Role, 0, len(d.running))
	for r := range d.running {
		out = append(out, r)
	}
	domain.SortRoles(out)
	return out
}

func (d *Dispatcher) Apply(ctx context.Context, toStart, toStop []domain.Role) error {
	stops := d.plan(toStop, false)
	starts := d.plan(toStart, true)

	var errs []error
	errs = append(errs, d.run(ctx, stops, false)...)
	errs = append(errs, d.run(ctx, starts, true)...)
	return errors.Join(errs...)
}

// plan drops unknown roles, roles already started, and roles not running.
func (d *Dispatcher) plan(roles []domain.Role, start bool) []domain.Role {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []domain.Role
	seen := make(map[domain.Role]struct{}, len(roles))
	for _, r := range roles {
		if r == domain.RoleOpen {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		if _, ok := d.handlers[r]; !ok {
			logger.Warnw("No handler registered for role, skipping", "role", string(r))
			continue
		}
		_, running := d.running[r]
		if running == start {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (d *Dispatcher) run(ctx context.Context, roles []domain.Role, start bool) []error {
	if len(roles) == 0 {
		return nil
	}
	verb, done := "stop", "Role stopped"
	if start {
		verb, done = "start", "Role started"
	}

	results := resilience.Collect(ctx, d.pool, roles, d.timeout, func(ctx context.Context, r domain.Role) (struct{}, error) {
		d.mu.Lock()
		h := d.handlers[r]
		d.mu.Unlock()
		fn := h.Stop
		if start {
			fn = h.Start
		}
		if fn == nil {
			return struct{}{}, nil
		}
		return struct{}{}, fn(ctx)
	})

	var errs []error
	for _, res := range results {
		if res.Err != nil {
			logger.Errorw("Role "+verb+" failed", "role", string(res.Key), "error", res.Err.Error())
			errs = append(errs, fmt.Errorf("%s %s: %w", verb, res.Key, res.Err))
			continue
		}
		d.mu.Lock()
		if start {
			d.running[res.Key] = struct{}{}
		} else {
			delete(d.running, res.Key)
		}
		d.mu.Unlock()
		logger.Infow(done, "role", string(res.Key))
	}
	return errs
}
