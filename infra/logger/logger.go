package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config represents configuration for the service logger
type Config struct {
	Level       string
	Environment string
	Service     string
	Version     string
}

// New builds a zap logger: JSON in production, colored console output elsewhere.
// Extra cores, such as the OpenSearch core, receive every entry as well.
func New(cfg Config, extra ...zapcore.Core) (*zap.Logger, error) {
	level := zap.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	var zc zap.Config
	if cfg.Environment == "production" {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	opts := []zap.Option{}
	if len(extra) > 0 {
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(append([]zapcore.Core{core}, extra...)...)
		}))
	}

	logger, err := zc.Build(opts...)
	if err != nil {
		return nil, err
	}
	return logger.With(
		zap.String("service", cfg.Service),
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment),
	), nil
}
