package grpc_handler

import (
	"context"
	"time"

	"github.com/anthanhphan/gosdk/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name peers ask about. The empty service
// reports process liveness only.
const ServiceName = "appcontroller.Controller"

// HealthServer publishes this controller's health to the coordinator's poller.
type HealthServer struct {
	health *health.Server
}

// NewHealthServer creates a health server that reports the process as serving and
// the controller as not serving until it has been configured.
func NewHealthServer() *HealthServer {
	h := &HealthServer{health: health.NewServer()}
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to s.
func (h *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.health)
}

// SetServing flips the controller service status.
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(ServiceName, status)
}

// Track polls ready every interval and mirrors it into the controller status
// until ctx ends.
func (h *HealthServer) Track(ctx context.Context, interval time.Duration, ready func() bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := false
	for {
		if now := ready(); now != last {
			logger.Infow("Health status changed", "service", ServiceName, "serving", now)
			h.SetServing(now)
			last = now
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Shutdown reports every service as not serving. Pending watches are ended.
func (h *HealthServer) Shutdown() {
	h.health.Shutdown()
}
