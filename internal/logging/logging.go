// Package logging builds the process-wide zap logger. No package-level
// global is exported; New is called once in main and the *zap.Logger is
// threaded through every constructor.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production logger, or a development (console, debug-level)
// logger when APP_ENV=dev.
func New() (*zap.Logger, error) {
	if os.Getenv("APP_ENV") == "dev" {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}
	return zap.NewProduction()
}
