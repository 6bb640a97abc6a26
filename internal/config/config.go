// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"qr-attendance/backend/internal/security"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel overrides the environment's default log level (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// StoreBackend selects where sessions, redemptions and audit entries live: memory, postgres or redis.
	StoreBackend string `mapstructure:"STORE_BACKEND"`
	// DatabaseURL is the Postgres DSN; required for the postgres backend.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is host:port of the Redis server; required for the redis backend.
	RedisAddr      string `mapstructure:"REDIS_ADDR"`
	RedisPassword  string `mapstructure:"REDIS_PASSWORD"`
	RedisDB        int    `mapstructure:"REDIS_DB"`
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`

	// TokenSecret is "hex:...", "base64:..." or a path to a file holding the signing secret.
	TokenSecret string `mapstructure:"TOKEN_SECRET"`
	// TokenPreviousSecret, if set, keeps verifying tokens signed before a secret change for TokenPreviousGrace.
	TokenPreviousSecret string        `mapstructure:"TOKEN_PREVIOUS_SECRET"`
	TokenPreviousGrace  time.Duration `mapstructure:"TOKEN_PREVIOUS_GRACE"`
	// TokenMACAlg is hmac-sha256 (default) or blake3.
	TokenMACAlg string `mapstructure:"TOKEN_MAC_ALG"`

	// RotationInterval is the lifetime of each displayed token.
	RotationInterval time.Duration `mapstructure:"ROTATION_INTERVAL"`
	// ClockSkewTolerance is added to token expiry before a token counts as expired.
	ClockSkewTolerance time.Duration `mapstructure:"CLOCK_SKEW_TOLERANCE"`
	// SweepInterval is how often sessions past their window are closed.
	SweepInterval time.Duration `mapstructure:"SWEEP_INTERVAL"`
	// RecordRejections stores a diagnostic record for every rejected redemption with a valid token.
	RecordRejections bool `mapstructure:"RECORD_REJECTIONS"`

	// OTLPEndpoint is the OpenTelemetry collector; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	ServiceName  string `mapstructure:"OTEL_SERVICE_NAME"`

	macAlg         security.Algorithm
	secret         []byte
	previousSecret []byte
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := newViper()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "")
	v.SetDefault("STORE_BACKEND", BackendMemory)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "attendance:")
	v.SetDefault("TOKEN_SECRET", "")
	v.SetDefault("TOKEN_PREVIOUS_SECRET", "")
	v.SetDefault("TOKEN_PREVIOUS_GRACE", "10m")
	v.SetDefault("TOKEN_MAC_ALG", string(security.AlgHMACSHA256))
	v.SetDefault("ROTATION_INTERVAL", "30s")
	v.SetDefault("CLOCK_SKEW_TOLERANCE", "2s")
	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("RECORD_REJECTIONS", false)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "qr-attendance")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	return v
}

// DatabaseURL reads only DATABASE_URL, for tools such as the migrator that need
// no signing secret.
func DatabaseURL() (string, error) {
	v := newViper()
	v.SetDefault("DATABASE_URL", "")
	dsn := strings.TrimSpace(v.GetString("DATABASE_URL"))
	if dsn == "" {
		return "", errors.New("config: DATABASE_URL must be set")
	}
	return dsn, nil
}

func (c *Config) validate() error {
	if c.GRPCAddr == "" {
		return errors.New("config: GRPC_ADDR must be set")
	}

	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	switch c.StoreBackend {
	case BackendMemory:
		if c.Env == "production" {
			return errors.New("config: STORE_BACKEND=memory must not be used when APP_ENV=production")
		}
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("config: DATABASE_URL must be set for STORE_BACKEND=postgres")
		}
	case BackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return errors.New("config: REDIS_ADDR must be set for STORE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("config: STORE_BACKEND %q must be memory, postgres or redis", c.StoreBackend)
	}

	alg, err := security.ParseAlgorithm(c.TokenMACAlg)
	if err != nil {
		return fmt.Errorf("config: TOKEN_MAC_ALG: %w", err)
	}
	c.macAlg = alg

	if strings.TrimSpace(c.TokenSecret) == "" {
		return errors.New("config: TOKEN_SECRET must be set")
	}
	if c.secret, err = loadSecret("TOKEN_SECRET", c.TokenSecret); err != nil {
		return err
	}
	if strings.TrimSpace(c.TokenPreviousSecret) != "" {
		if c.previousSecret, err = loadSecret("TOKEN_PREVIOUS_SECRET", c.TokenPreviousSecret); err != nil {
			return err
		}
		if c.TokenPreviousGrace <= 0 {
			return errors.New("config: TOKEN_PREVIOUS_GRACE must be positive when TOKEN_PREVIOUS_SECRET is set")
		}
	}

	if c.RotationInterval <= 0 {
		return errors.New("config: ROTATION_INTERVAL must be positive")
	}
	if c.ClockSkewTolerance < 0 {
		return errors.New("config: CLOCK_SKEW_TOLERANCE must not be negative")
	}
	if c.SweepInterval <= 0 {
		return errors.New("config: SWEEP_INTERVAL must be positive")
	}
	if c.RedisDB < 0 {
		return errors.New("config: REDIS_DB must not be negative")
	}
	return nil
}

// loadSecret decodes a secret without echoing it in the error.
func loadSecret(key, value string) ([]byte, error) {
	b, err := security.LoadSecret(value)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", key, err)
	}
	if len(b) < security.MinSecretLen {
		return nil, fmt.Errorf("config: %s: %w", key, security.ErrSecretTooShort)
	}
	return b, nil
}

// MACAlgorithm is the parsed TOKEN_MAC_ALG.
func (c *Config) MACAlgorithm() security.Algorithm { return c.macAlg }

// Secrets returns the decoded signing secret and the previous secret (nil if unset).
func (c *Config) Secrets() (current, previous []byte) {
	return c.secret, c.previousSecret
}
