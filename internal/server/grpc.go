// Package server builds the gRPC server the engine is deployed behind.
package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"qr-attendance/backend/internal/health"
	"qr-attendance/backend/internal/server/interceptors"
)

// quietMethods are polled by load balancers and not worth a log line.
var quietMethods = map[string]bool{
	healthpb.Health_Check_FullMethodName: true,
	healthpb.Health_Watch_FullMethodName: true,
}

// Deps holds the service dependencies registered on the server.
type Deps struct {
	// Health publishes store reachability. Required.
	Health *health.Monitor
	// Logger is used by the logging and recovery interceptors. If nil, RPCs are not logged.
	Logger *zap.Logger
}

// New returns a gRPC server with otelgrpc instrumentation, panic recovery and RPC logging,
// with every service in deps registered.
func New(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.RecoveryUnary(deps.Logger),
			interceptors.LoggingUnary(deps.Logger, quietMethods),
		),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers the gRPC services with the given server.
//
//   - grpc.health.v1.Health → internal/health
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	healthpb.RegisterHealthServer(s, deps.Health.Server())
}
