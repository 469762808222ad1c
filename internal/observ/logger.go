package observ

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. Production emits sampled JSON,
// anything else uses the console encoder. Every entry carries the service
// and instance so logs from several delivery processes can be told apart.
func NewLogger(env, level, instance string) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if env == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.InitialFields = map[string]any{
		"service":  ServiceName,
		"instance": instance,
	}

	return cfg.Build()
}

// Component returns a child logger tagged with the component name.
func Component(logger *zap.Logger, name string) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger.With(zap.String("component", name))
}
