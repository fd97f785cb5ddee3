package logger

import (
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

var log, _ = zap.NewProduction()

// L exposes the process logger for components that take a *zap.Logger.
func L() *zap.Logger {
	return log
}

// Replace swaps the process logger, e.g. for a development config.
func Replace(l *zap.Logger) {
	if l != nil {
		log = l
	}
}

func Sync() {
	_ = log.Sync()
}

func Info(msg string, fields ...zap.Field) {
	log.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	log.Warn(msg, fields...)
}

// Error logs and forwards err to Sentry when a client is configured.
func Error(msg string, err error, fields ...zap.Field) {
	log.Error(msg, append(fields, zap.Error(err))...)
	if err != nil && sentry.CurrentHub().Client() != nil {
		sentry.CaptureException(err)
	}
}

func LogAdminAction(adminID int64, action, params string) {
	log.Info("admin_action", zap.Int64("admin_id", adminID), zap.String("action", action), zap.String("params", params))
}
