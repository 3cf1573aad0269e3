package app

import (
	"context"
	"time"

	"github.com/anthanhphan/appcontroller/pkg/gossip"
	"github.com/anthanhphan/gosdk/logger"
)

// membershipToucher is the part of the controller a gossip departure needs.
type membershipToucher interface {
	TouchMembership(ctx context.Context) error
}

// departureListener turns gossip departures into a directory bump so every
// controller runs a full reconciliation without waiting for the store session
// of the departed node to expire.
type departureListener struct {
	svc     membershipToucher
	timeout time.Duration
}

var _ gossip.Listener = (*departureListener)(nil)

func (l *departureListener) PeerJoined(p gossip.Peer) {
	logger.Debugw("Gossip peer joined", "peer", p.PublicIP, "health_addr", p.HealthAddr)
}

func (l *departureListener) PeerLeft(p gossip.Peer) {
	logger.Infow("Gossip peer left", "peer", p.PublicIP)
	go l.touch(p)
}

func (l *departureListener) touch(p gossip.Peer) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	if err := l.svc.TouchMembership(ctx); err != nil {
		logger.Warnw("Failed to bump membership after departure", "peer", p.PublicIP, "error", err.Error())
	}
}
