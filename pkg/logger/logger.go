// Package logger wraps zap to give every Krati component a consistently
// configured structured logger, tagged with the component name so log
// aggregation can filter by subsystem (segment manager, address array,
// redo log, compactor, …) without each of them hand-rolling its own zap
// setup.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.SugaredLogger for the named component. Production
// builds (GOOS doesn't matter here — it's the KRATI_DEV_LOGGER env var that
// matters) get JSON output at Info level; set KRATI_DEV_LOGGER=1 to switch
// to human-readable console output at Debug level during local development.
func New(component string) *zap.SugaredLogger {
	var cfg zap.Config
	if os.Getenv("KRATI_DEV_LOGGER") != "" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}

	log, err := cfg.Build()
	if err != nil {
		// Logger construction failures should never take down the caller;
		// fall back to a no-op logger so callers can always log safely.
		log = zap.NewNop()
	}

	return log.Named(component).Sugar()
}

// NewNop returns a logger that discards everything, for tests that don't
// want log noise but still need a *zap.SugaredLogger to satisfy a Config.
func NewNop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
