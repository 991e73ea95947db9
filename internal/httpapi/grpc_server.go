package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"starterkit.dev/internal/obs"
)

// GRPCHealth serves grpc.health.v1.Health for the whole server ("") and for
// serviceName, backed by the same readiness probe as /readyz.
type GRPCHealth struct {
	srv       *health.Server
	readiness readinessChecker
}

// NewGRPCHealth creates the health service. Status is NOT_SERVING until the
// first Refresh.
func NewGRPCHealth(r readinessChecker) *GRPCHealth {
	h := &GRPCHealth{srv: health.NewServer(), readiness: r}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the service to s.
func (h *GRPCHealth) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Refresh probes readiness once and publishes the result.
func (h *GRPCHealth) Refresh(ctx context.Context) bool {
	ok := h.readiness == nil || h.readiness.Check(ctx) == nil
	obs.SetReady(ok)
	if ok {
		h.set(healthpb.HealthCheckResponse_SERVING)
	} else {
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return ok
}

// Run refreshes every interval until ctx is done, then marks every service
// NOT_SERVING.
func (h *GRPCHealth) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	h.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

func (h *GRPCHealth) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(serviceName, status)
}
