// Package health reports store reachability through the standard gRPC health service.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name the engine reports under, next to the overall "" entry.
const ServiceName = "attendance"

const checkTimeout = 2 * time.Second

// Check is one dependency probe, e.g. a Postgres or Redis ping.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Monitor runs the checks and publishes SERVING or NOT_SERVING.
type Monitor struct {
	server   *grpchealth.Server
	checks   []Check
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	failing map[string]bool
}

// NewMonitor returns a Monitor probing every interval (15s if interval <= 0).
// With no checks the service is always SERVING.
func NewMonitor(checks []Check, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		server:   grpchealth.NewServer(),
		checks:   checks,
		interval: interval,
		logger:   logger,
		failing:  map[string]bool{},
	}
}

// Server is the grpc_health_v1 implementation to register on the gRPC server.
func (m *Monitor) Server() *grpchealth.Server { return m.server }

// CheckOnce runs every probe and updates the published status. It reports whether all passed.
func (m *Monitor) CheckOnce(ctx context.Context) bool {
	healthy := true
	for _, c := range m.checks {
		probeCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Probe(probeCtx)
		cancel()
		m.record(c.Name, err)
		if err != nil {
			healthy = false
		}
	}
	status := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	m.server.SetServingStatus("", status)
	m.server.SetServingStatus(ServiceName, status)
	return healthy
}

// record logs state changes only, so a long outage does not flood the log.
func (m *Monitor) record(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	was := m.failing[name]
	switch {
	case err != nil && !was:
		m.logger.Warn("health check failing", zap.String("check", name), zap.Error(err))
	case err == nil && was:
		m.logger.Info("health check recovered", zap.String("check", name))
	}
	m.failing[name] = err != nil
}

// Run checks immediately and then every interval until ctx is done, then marks
// the server NOT_SERVING for good.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		m.CheckOnce(ctx)
		select {
		case <-ctx.Done():
			m.server.Shutdown()
			return
		case <-ticker.C:
		}
	}
}
