package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"nexus-bot/internal/logger"
	"nexus-bot/internal/notify"
	"nexus-bot/internal/subscription"
)

// ReminderStore lists premium users not yet reminded for their current term.
type ReminderStore interface {
	PremiumUsers(ctx context.Context) ([]subscription.Entitlement, error)
	MarkReminded(ctx context.Context, userID int64) error
}

// UserSender sends a plain message to a user.
type UserSender interface {
	SendToUser(ctx context.Context, userID int64, text string, kb notify.Keyboard) error
}

func expiringText(end time.Time) string {
	return fmt.Sprintf("⏳ Your Premium ends on <b>%s</b>.\nRenew now to keep unlimited access: /buy",
		end.UTC().Format("2006-01-02 15:04 UTC"))
}

// NotifyExpiringSubscriptions reminds users whose premium ends within
// daysBefore days and marks them so they are reminded once per term.
func NotifyExpiringSubscriptions(ctx context.Context, store ReminderStore, sender UserSender, daysBefore int, now time.Time) (int, error) {
	users, err := store.PremiumUsers(ctx)
	if err != nil {
		logger.Error("failed to list premium users", err)
		return 0, err
	}
	soon := now.Add(time.Duration(daysBefore) * 24 * time.Hour)

	sent := 0
	for _, u := range users {
		end, ok := subscription.ParseEnd(u.SubscriptionEnd)
		if !ok || !end.After(now) || end.After(soon) {
			continue
		}
		if err := sender.SendToUser(ctx, u.UserID, expiringText(end), nil); err != nil {
			logger.NotifyAdmin(fmt.Sprintf("Failed to send expiry reminder to user %d: %v", u.UserID, err))
			continue
		}
		if err := store.MarkReminded(ctx, u.UserID); err != nil {
			logger.Error("failed to mark user reminded", err, zap.Int64("user_id", u.UserID))
			continue
		}
		sent++
	}
	if sent > 0 {
		logger.Info("expiry reminders sent", zap.Int("count", sent))
	}
	return sent, nil
}
