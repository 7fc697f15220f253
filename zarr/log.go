package zarr

import "go.uber.org/zap"

// Logger wraps a *zap.Logger threaded through StoreContext (spec §9
// "Global state": the engine carries no package-level logger, only an
// explicit one passed in at open). Nil-safe so a Store opened without an
// explicit logger (NewNopLogger) never has to nil-check at call sites.
type Logger struct {
	z *zap.Logger
}

// NewLogger wraps an existing *zap.Logger.
func NewLogger(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{z: z}
}

// NewNopLogger returns a Logger that discards everything, the default
// when Open is called without an explicit logger.
func NewNopLogger() *Logger {
	return &Logger{z: zap.NewNop()}
}

// Debug logs lifecycle events: opens, closes, cache creation (spec
// SPEC_FULL.md ambient stack: "lifecycle events at Debug").
func (l *Logger) Debug(msg string, fields ...zap.Field) {
	if l == nil || l.z == nil {
		return
	}
	l.z.Debug(msg, fields...)
}

// Warn logs recoverable problems; its only callers report open options
// that are ignored because they are unrecognized or malformed
// (parseOpenOptions).
// The engine never logs successful reads/writes here — would be far too
// chatty per-chunk.
func (l *Logger) Warn(msg string, fields ...zap.Field) {
	if l == nil || l.z == nil {
		return
	}
	l.z.Warn(msg, fields...)
}

func (l *Logger) Sync() error {
	if l == nil || l.z == nil {
		return nil
	}
	return l.z.Sync()
}
