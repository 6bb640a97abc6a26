// Package engine assembles the attendance engine from configuration: stores,
// signing keys, the session registry and the issuance and redemption services.
package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"qr-attendance/backend/internal/audit"
	"qr-attendance/backend/internal/clock"
	"qr-attendance/backend/internal/config"
	"qr-attendance/backend/internal/issuance"
	"qr-attendance/backend/internal/redemption"
	"qr-attendance/backend/internal/security"
	"qr-attendance/backend/internal/session"
	"qr-attendance/backend/internal/telemetry"
	"qr-attendance/backend/internal/token"
)

// Deps are the process-level collaborators. Zero values fall back to the wall
// clock, a no-op logger, no-op instruments and no events.
type Deps struct {
	Clock       clock.Clock
	Logger      *zap.Logger
	Instruments *telemetry.Instruments
	Events      telemetry.EventEmitter
}

// Engine is the assembled engine.
type Engine struct {
	Stores     *Stores
	Keyring    *security.Keyring
	Registry   *session.Registry
	Sweeper    *session.Sweeper
	Issuance   *issuance.Service
	Redemption *redemption.Service
	Audit      *audit.Trail
}

// New opens the configured stores and wires the services over them.
func New(ctx context.Context, cfg *config.Config, deps Deps) (*Engine, error) {
	c := deps.Clock
	if c == nil {
		c = clock.Real()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	inst := deps.Instruments
	if inst == nil {
		inst = telemetry.Noop()
	}

	secret, previous := cfg.Secrets()
	keyring, err := security.NewKeyring(cfg.MACAlgorithm(), secret, c)
	if err != nil {
		return nil, fmt.Errorf("token keyring: %w", err)
	}
	if previous != nil {
		if err := keyring.Retire(previous, c.Now().Add(cfg.TokenPreviousGrace)); err != nil {
			return nil, fmt.Errorf("token keyring: previous secret: %w", err)
		}
		logger.Info("previous token secret accepted for verification", zap.Duration("grace", cfg.TokenPreviousGrace))
	}

	stores, err := OpenStores(ctx, cfg, c, logger)
	if err != nil {
		return nil, err
	}

	codec := token.NewCodec(keyring)
	registry := session.NewRegistry(stores.Sessions, c, logger.Named("session"))
	issuer := issuance.NewService(codec, registry, c, cfg.RotationInterval,
		issuance.WithLogger(logger.Named("issuance")),
		issuance.WithInstruments(inst),
		issuance.WithEvents(deps.Events))
	redeemer := redemption.NewService(codec, registry, stores.Ledger, clock.NewSource(c, cfg.ClockSkewTolerance),
		redemption.WithRecordRejections(cfg.RecordRejections),
		redemption.WithLogger(logger.Named("redemption")),
		redemption.WithInstruments(inst),
		redemption.WithEvents(deps.Events))

	return &Engine{
		Stores:     stores,
		Keyring:    keyring,
		Registry:   registry,
		Sweeper:    session.NewSweeper(registry, cfg.SweepInterval, logger.Named("sweeper")).WithInstruments(inst),
		Issuance:   issuer,
		Redemption: redeemer,
		Audit:      audit.NewTrail(stores.Audit, logger.Named("audit")),
	}, nil
}

// Close releases the stores.
func (e *Engine) Close() {
	e.Stores.Close()
}
