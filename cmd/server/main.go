package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"qr-attendance/backend/internal/config"
	"qr-attendance/backend/internal/engine"
	"qr-attendance/backend/internal/health"
	"qr-attendance/backend/internal/logger"
	"qr-attendance/backend/internal/server"
	"qr-attendance/backend/internal/telemetry"
	telemetryotel "qr-attendance/backend/internal/telemetry/otel"
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
	os.Exit(logger.ExitCode(log, "server exited", run(cfg, log)))
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Insecure:    cfg.OTLPInsecure,
	}, log)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()
	inst, err := telemetry.NewInstruments(providers.TracerProvider, providers.MeterProvider)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	eng, err := engine.New(ctx, cfg, engine.Deps{
		Logger:      log,
		Instruments: inst,
		Events:      telemetryotel.NewEventEmitter(providers.LoggerProvider),
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	monitor := health.NewMonitor(eng.Stores.Checks, 0, log.Named("health"))
	go monitor.Run(ctx)
	go eng.Sweeper.Run(ctx)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s := server.New(server.Deps{Health: monitor, Logger: log.Named("grpc")})

	serveErr := make(chan error, 1)
	go func() {
		log.Info("gRPC server listening",
			zap.String("addr", cfg.GRPCAddr),
			zap.String("store_backend", eng.Stores.Backend),
			zap.String("mac_alg", string(cfg.MACAlgorithm())))
		serveErr <- s.Serve(lis)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down gRPC server...")
	s.GracefulStop()
	// let in-flight async event emits finish before the providers shut down
	time.Sleep(telemetry.ShutdownDrainDuration)
	log.Info("gRPC server stopped")
	return nil
}
