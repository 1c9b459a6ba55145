package system

import (
	"github.com/KevinKickass/PinBridge/internal/bridge"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC health service name. It reports SERVING while
// a session is running.
const HealthService = "pinbridge.Bridge"

func newHealthServer() *health.Server {
	hs := health.NewServer()
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	return hs
}

func servingStatus(s bridge.SessionState) healthpb.HealthCheckResponse_ServingStatus {
	if s == bridge.StateRunning {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
