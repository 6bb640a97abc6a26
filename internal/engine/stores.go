package engine

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	auditrepo "qr-attendance/backend/internal/audit/repository"
	"qr-attendance/backend/internal/clock"
	"qr-attendance/backend/internal/config"
	"qr-attendance/backend/internal/db"
	"qr-attendance/backend/internal/health"
	"qr-attendance/backend/internal/redemption/ledger"
	sessionrepo "qr-attendance/backend/internal/session/repository"
)

// Stores are the three persistent components on one backend.
type Stores struct {
	Backend  string
	Sessions sessionrepo.Repository
	Ledger   ledger.Ledger
	Audit    auditrepo.Log
	// Checks probe the backend for the health monitor. Empty for memory.
	Checks []health.Check
	closer func()
}

// Close releases the backend connection.
func (s *Stores) Close() {
	if s.closer != nil {
		s.closer()
	}
}

// OpenStores connects to the backend selected by cfg.StoreBackend.
func OpenStores(ctx context.Context, cfg *config.Config, c clock.Clock, logger *zap.Logger) (*Stores, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.StoreBackend {
	case config.BackendMemory, "":
		audit := auditrepo.NewMemoryLog()
		logger.Warn("using in-memory stores; attendance is lost on restart")
		return &Stores{
			Backend:  config.BackendMemory,
			Sessions: sessionrepo.NewMemoryRepository(),
			Ledger:   ledger.NewMemory(audit, c),
			Audit:    audit,
		}, nil

	case config.BackendPostgres:
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		logger.Info("connected to postgres")
		return &Stores{
			Backend:  config.BackendPostgres,
			Sessions: sessionrepo.NewPostgresRepository(pool),
			Ledger:   ledger.NewPostgres(pool, c),
			Audit:    auditrepo.NewPostgresLog(pool),
			Checks:   []health.Check{{Name: "postgres", Probe: pool.Ping}},
			closer:   pool.Close,
		}, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("open redis: %w", err)
		}
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr), zap.String("key_prefix", cfg.RedisKeyPrefix))
		ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
		return &Stores{
			Backend:  config.BackendRedis,
			Sessions: sessionrepo.NewRedisRepository(client, cfg.RedisKeyPrefix),
			Ledger:   ledger.NewRedis(client, cfg.RedisKeyPrefix, c),
			Audit:    auditrepo.NewRedisLog(client, cfg.RedisKeyPrefix),
			Checks:   []health.Check{{Name: "redis", Probe: ping}},
			closer:   func() { _ = client.Close() },
		}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}
