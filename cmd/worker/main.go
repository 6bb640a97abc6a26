// Worker runs the session expiry sweep on its own, for deployments where the
// servers share a postgres or redis store and sweeping should not depend on them.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"qr-attendance/backend/internal/config"
	"qr-attendance/backend/internal/engine"
	"qr-attendance/backend/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	os.Exit(logger.ExitCode(log, "worker exited", run(cfg, log)))
}

func run(cfg *config.Config, log *zap.Logger) error {
	if cfg.StoreBackend == config.BackendMemory {
		return errors.New("worker: STORE_BACKEND=memory has no shared state to sweep")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, cfg, engine.Deps{Logger: log})
	if err != nil {
		return fmt.Errorf("worker: engine: %w", err)
	}
	defer eng.Close()

	log.Info("worker started", zap.String("store_backend", eng.Stores.Backend), zap.Duration("interval", cfg.SweepInterval))
	eng.Sweeper.Run(ctx)
	log.Info("worker stopped")
	return nil
}
