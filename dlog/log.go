// Package dlog provides ready-made *zap.Logger values for the engine.
// The Manager and JobStore log through a *zap.Logger passed in by
// option (a no-op logger by default); this package is one source of
// such a logger.
package dlog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a development-friendly console logger. Production
// callers should build their own zap.Logger (JSON encoding, sampling,
// a real output sink) and pass it through dagrun.WithManagerLogger or
// store.WithLogger (JobStore) instead of relying on this default.
func New() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// Nop returns a logger that discards everything, the same behaviour as
// the Manager's and JobStore's default when a caller does not supply one.
func Nop() *zap.Logger {
	return zap.NewNop()
}
