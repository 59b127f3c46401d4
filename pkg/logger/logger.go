package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Component-tagged structured logging for the whole binary. Every call site
// names its subsystem ("memory", "cli", ...) so log lines stay greppable.

var active atomic.Pointer[zap.Logger]

func init() {
	active.Store(newLogger(false))
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	log, err := cfg.Build(zap.WithCaller(false))
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// Init reconfigures the package logger. Safe to call at any point.
func Init(verbose bool) {
	active.Store(newLogger(verbose))
}

// SetLogger swaps in an externally built logger (used by tests).
func SetLogger(log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	active.Store(log)
}

func fieldList(component string, fields map[string]interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	out = append(out, zap.String("component", component))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// InfoCF logs an info message for a component with structured fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	active.Load().Info(msg, fieldList(component, fields)...)
}

// WarnCF logs a warning for a component with structured fields.
func WarnCF(component, msg string, fields map[string]interface{}) {
	active.Load().Warn(msg, fieldList(component, fields)...)
}

// ErrorCF logs an error for a component with structured fields.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	active.Load().Error(msg, fieldList(component, fields)...)
}

// DebugCF logs a debug message for a component with structured fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	active.Load().Debug(msg, fieldList(component, fields)...)
}

// Sync flushes buffered log entries. Best effort; called on shutdown.
func Sync() {
	_ = active.Load().Sync()
}
