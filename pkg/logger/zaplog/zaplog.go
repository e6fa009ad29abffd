// Package zaplog adapts a go.uber.org/zap logger to logger.Logger.
package zaplog

import (
	"go.uber.org/zap"

	"github.com/sockett/sockett.go/pkg/logger"
)

type Logger struct {
	sugar *zap.SugaredLogger
}

var _ logger.Logger = (*Logger)(nil)

// New wraps l. Key/value args are passed to zap's sugared "w" methods.
func New(l *zap.Logger) *Logger {
	return &Logger{sugar: l.Sugar()}
}

func (l *Logger) Error(msg string, args ...any) {
	l.sugar.Errorw(msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.sugar.Warnw(msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.sugar.Infow(msg, args...)
}

func (l *Logger) Debug(msg string, args ...any) {
	l.sugar.Debugw(msg, args...)
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}
