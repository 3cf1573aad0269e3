package service

import (
	"context"
	"errors"
	"time"

	"github.com/anthanhphan/appcontroller/internal/controller/domain"
	"github.com/anthanhphan/gosdk/logger"
)

// ErrKilled is returned by waits interrupted by the kill call.
var ErrKilled = errors.New("controller killed")

// heartbeatService is the per-node loop: publish liveness, reconcile, and on the
// shadow node poll peer health.
type heartbeatService struct {
	core  *ControllerServiceImpl
	wake  chan struct{}
	beats int
}

func newHeartbeatService(core *ControllerServiceImpl) *heartbeatService {
	return &heartbeatService{
		core: core,
		wake: make(chan struct{}, 1),
	}
}

// nudge asks the loop to run its next beat now.
func (h *heartbeatService) nudge() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// run loops until ctx ends or kill is called, then stops local roles.
func (h *heartbeatService) run(ctx context.Context) error {
	c := h.core
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	logger.Infow("Heartbeat loop started", "interval", c.opts.HeartbeatInterval.String())
	for {
		if c.state.Killed() {
			return h.shutdown(context.WithoutCancel(ctx))
		}
		h.beat(ctx)

		select {
		case <-ctx.Done():
			if err := h.shutdown(context.WithoutCancel(ctx)); err != nil {
				return err
			}
			return ctx.Err()
		case <-c.killed:
		case <-h.wake:
		case <-ticker.C:
		}
	}
}

func (h *heartbeatService) beat(ctx context.Context) {
	c := h.core
	if !c.state.Configured() {
		return
	}
	h.beats++
	self := c.state.PublicIP()

	if err := h.ensureLive(ctx, self); err != nil {
		logger.Warnw("Failed to refresh liveness marker", "public_ip", self, "error", err.Error())
	}

	report, err := c.reconcile.tick(ctx)
	if err != nil {
		logger.Warnw("Reconciliation tick failed, retrying next tick", "public_ip", self, "error", err.Error())
	} else if report.Status == Updated {
		logger.Infow("Reconciled deployment",
			"public_ip", self,
			"observed", report.Observed,
			"evicted", report.Evicted,
			"promoted", len(report.Promoted),
			"to_start", domain.RoleStrings(report.ToStart),
			"to_stop", domain.RoleStrings(report.ToStop))
	} else {
		logger.Debugw("Deployment unchanged", "public_ip", self, "beat", h.beats)
	}

	if node := c.state.Self(); node != nil && node.HasRole(domain.RoleShadow) {
		if err := c.poller.poll(ctx); err != nil {
			logger.Warnw("Peer health poll failed", "error", err.Error())
		}
	}
}

func (h *heartbeatService) ensureLive(ctx context.Context, ip string) error {
	live, err := h.core.nodes.IsLive(ctx, ip)
	if err != nil {
		return err
	}
	if live {
		return nil
	}
	return h.core.nodes.MarkLive(ctx, ip)
}

// shutdown marks this node as no longer loaded, stops its roles and drops the
// liveness marker. The store session itself is closed by the caller.
func (h *heartbeatService) shutdown(ctx context.Context) error {
	c := h.core
	logger.Infow("Controller stopping", "public_ip", c.state.PublicIP())

	ctx, cancel := context.WithTimeout(ctx, c.opts.LockTimeout)
	defer cancel()

	if c.lock.Held() {
		if err := c.lock.Release(ctx); err != nil {
			logger.Warnw("Failed to release lock on shutdown", "error", err.Error())
		}
	}

	var errs []error
	if c.state.Configured() {
		self := c.state.PublicIP()
		if err := c.nodes.SetDoneLoading(ctx, self, false); err != nil {
			errs = append(errs, err)
		}
		c.state.setDoneLoading(false)
		if err := c.dispatcher.Apply(ctx, nil, c.dispatcher.Running()); err != nil {
			errs = append(errs, err)
		}
		if err := c.nodes.ClearLive(ctx, self); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warnw("Shutdown finished with errors", "error", err.Error())
		return err
	}
	return nil
}
