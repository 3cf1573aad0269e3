package port

import "context"

//go:generate mockgen -destination=../service/mocks/health_mock.go -package=mocks -source=health.go

// PeerHealthChecker probes a peer controller's health endpoint.
type PeerHealthChecker interface {
	// Check returns nil when the peer answered healthy before ctx expired.
	Check(ctx context.Context, addr string) error
}
