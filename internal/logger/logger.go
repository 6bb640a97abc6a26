// Package logger builds the process-wide zap logger.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON production logger when env is "production" and a colored
// development logger otherwise. level overrides the default level when set.
func New(env, level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if env != "production" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if level = strings.TrimSpace(level); level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("logger: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}

// ExitCode logs err at error level under msg, flushes log, and returns the
// process exit status for it. Binaries call os.Exit with the result instead of
// log.Fatal, which exits before deferred Syncs run.
func ExitCode(log *zap.Logger, msg string, err error) int {
	code := 0
	if err != nil {
		log.Error(msg, zap.Error(err))
		code = 1
	}
	_ = log.Sync()
	return code
}
