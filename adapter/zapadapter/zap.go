// Package zapadapter implements adapter.Logger on top of
// go.uber.org/zap, the structured logger the rest of this codebase's
// example pack reaches for.
package zapadapter

import (
	"go.uber.org/zap"

	"github.com/cabbagequeue/cabbage/adapter"
)

// Logger wraps a *zap.Logger.
type Logger struct {
	l *zap.Logger
}

// New wraps an already-configured *zap.Logger.
func New(l *zap.Logger) *Logger { return &Logger{l: l} }

func (l *Logger) Debug(msg string, fields ...adapter.Field) { l.l.Debug(msg, zapFields(fields)...) }
func (l *Logger) Info(msg string, fields ...adapter.Field)  { l.l.Info(msg, zapFields(fields)...) }
func (l *Logger) Error(msg string, fields ...adapter.Field) { l.l.Error(msg, zapFields(fields)...) }

func (l *Logger) With(fields ...adapter.Field) adapter.Logger {
	return &Logger{l: l.l.With(zapFields(fields)...)}
}

func zapFields(fields []adapter.Field) []zap.Field {
	zf := make([]zap.Field, len(fields))
	for i, f := range fields {
		zf[i] = zap.Any(f.Key, f.Value)
	}
	return zf
}
