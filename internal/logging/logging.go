// Package logging provides the zap-backed structured logger the connection
// and engine types log lifecycle events through: a small wrapper that lets
// the core stay silent (a no-op logger) unless a caller wires one in, since
// connection establishment and its logging setup are the caller's concern,
// not the core's.
package logging

import "go.uber.org/zap"

// Logger is the subset of *zap.Logger the engine core uses. Kept narrow so
// callers can adapt any structured logger to it.
type Logger struct {
	z *zap.Logger
}

// Nop returns a Logger that discards everything, the default for a core
// that was not handed a logger explicitly.
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

// New wraps an existing *zap.Logger.
func New(z *zap.Logger) *Logger {
	if z == nil {
		return Nop()
	}
	return &Logger{z: z}
}

func (l *Logger) base() *zap.Logger {
	if l == nil || l.z == nil {
		return zap.NewNop()
	}
	return l.z
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.base().Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.base().Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.base().Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.base().Error(msg, fields...) }

// With returns a Logger with the given structured fields attached to every
// subsequent entry, e.g. the connection ID.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{z: l.base().With(fields...)}
}
