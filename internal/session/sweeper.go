package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"qr-attendance/backend/internal/telemetry"
)

// Sweeper periodically closes sessions whose window has ended.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	logger   *zap.Logger
	inst     *telemetry.Instruments
}

// NewSweeper returns a Sweeper that runs every interval (one minute if interval <= 0).
func NewSweeper(registry *Registry, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{registry: registry, interval: interval, logger: logger, inst: telemetry.Noop()}
}

// WithInstruments makes the sweeper count closed sessions.
func (s *Sweeper) WithInstruments(in *telemetry.Instruments) *Sweeper {
	if in != nil {
		s.inst = in
	}
	return s
}

// RunOnce performs a single sweep using the registry's clock.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := s.registry.CloseExpired(ctx, s.registry.clock.Now())
	if err != nil {
		s.logger.Error("session sweep failed", zap.Int("closed_count", n), zap.Error(err))
		return n, err
	}
	s.inst.SessionsSwept(ctx, n)
	s.logger.Info("session sweep completed",
		zap.Int("closed_count", n),
		zap.Duration("duration", time.Since(start)))
	return n, nil
}

// Run sweeps immediately and then on every tick until ctx is done. Errors are
// logged and the loop continues.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		_, _ = s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
