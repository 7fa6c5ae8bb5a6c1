// Package cenlog builds the process-wide zap logger.
package cenlog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the minimal structured-logging interface components depend on
// (compatible with zap.SugaredLogger).
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

// Nop discards all logs. Components use it as their default so a nil logger
// is never dereferenced.
type Nop struct{}

func (Nop) Debugw(string, ...interface{}) {}
func (Nop) Infow(string, ...interface{})  {}
func (Nop) Warnw(string, ...interface{})  {}
func (Nop) Errorw(string, ...interface{}) {}

// Setup installs a console zap logger as the global logger and returns it.
// Callers hand components zap.L().Named("...").Sugar().
func Setup(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// Named is a convenience for the common wiring pattern.
func Named(name string) *zap.SugaredLogger {
	return zap.L().Named(name).Sugar()
}
