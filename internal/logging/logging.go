package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. MANGAFLOW_LOG_LEVEL selects the level,
// MANGAFLOW_LOG_JSON switches to JSON encoding for deployed workers.
func New() *zap.SugaredLogger {
	level := zapcore.InfoLevel
	if raw := os.Getenv("MANGAFLOW_LOG_LEVEL"); raw != "" {
		if parsed, err := zapcore.ParseLevel(raw); err == nil {
			level = parsed
		}
	}

	var cfg zap.Config
	if os.Getenv("MANGAFLOW_LOG_JSON") == "true" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger.Sugar()
}
