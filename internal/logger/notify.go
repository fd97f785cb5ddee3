package logger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// AlertSender delivers plain text to a chat.
type AlertSender interface {
	SendToUser(ctx context.Context, chatID int64, text string) error
}

type AlertFunc func(ctx context.Context, chatID int64, text string) error

func (f AlertFunc) SendToUser(ctx context.Context, chatID int64, text string) error {
	return f(ctx, chatID, text)
}

var (
	sender    AlertSender
	adminIDs  []int64
	initOnce  sync.Once
	alertWait = 10 * time.Second
)

// InitNotifier sets where [ALERT] messages go. Only the first call counts.
func InitNotifier(s AlertSender, admins []int64) {
	initOnce.Do(func() {
		sender = s
		adminIDs = append([]int64(nil), admins...)
	})
}

// NotifyAdmin sends a critical notice to every approver.
func NotifyAdmin(msg string) {
	if sender == nil || len(adminIDs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), alertWait)
	defer cancel()
	for _, id := range adminIDs {
		if err := sender.SendToUser(ctx, id, "[ALERT] "+msg); err != nil {
			log.Warn("alert delivery failed", zap.Int64("admin_id", id), zap.Error(err))
		}
	}
}

// NotifyOnPanic recovers, logs, reports to Sentry and alerts approvers.
// Use as `defer logger.NotifyOnPanic("where")`.
func NotifyOnPanic(where string) {
	if r := recover(); r != nil {
		log.Error("panic recovered", zap.String("where", where), zap.Any("panic", r), zap.Stack("stack"))
		if hub := sentry.CurrentHub(); hub.Client() != nil {
			hub.Recover(r)
			hub.Flush(2 * time.Second)
		}
		NotifyAdmin(fmt.Sprintf("Panic in %s: %v", where, r))
	}
}
