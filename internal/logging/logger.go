package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the JSON logger used by the worker. An empty or unknown
// level falls back to info.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", "face-blur")), nil
}

// WithOperation enriches the logger with the pipeline operation and invocation identifier.
func WithOperation(logger *zap.Logger, operation, invocationID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if invocationID != "" {
		fields = append(fields, zap.String("invocation_id", invocationID))
	}
	return logger.With(fields...)
}

// WithBlob attaches the container and key of the object being processed.
func WithBlob(logger *zap.Logger, container, key string) *zap.Logger {
	return logger.With(zap.String("container", container), zap.String("key", key))
}
