package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"nexus-bot/internal/approval"
	"nexus-bot/internal/logger"
	"nexus-bot/internal/notify"
)

const msgApprovalExpired = "⌛ Your payment for <b>%s</b> was not reviewed in time.\nPlease send the receipt again via /buy or contact an admin."

// ExpireStaleApprovals closes requests left pending for longer than ttl: the
// approver copies are marked expired and the user is asked to resubmit.
func ExpireStaleApprovals(ctx context.Context, repo approval.Repository, tr notify.Transport, ttl time.Duration, now time.Time) (int, error) {
	expired, err := repo.ExpireBefore(ctx, now.Add(-ttl))
	if err != nil {
		logger.Error("failed to expire stale approvals", err)
		return 0, err
	}

	for _, req := range expired {
		for _, ref := range req.Deliveries {
			if err := tr.Annotate(ctx, ref, approval.Annotation(approval.StatusExpired, "")); err != nil {
				logger.Warn("failed to mark approver copy expired",
					zap.String("nonce", req.Nonce), zap.Int64("chat_id", ref.ChatID), zap.Error(err))
			}
		}
		if err := tr.SendToUser(ctx, req.UserID, fmt.Sprintf(msgApprovalExpired, req.DisplayName), nil); err != nil {
			logger.Warn("failed to tell user about expired approval", zap.Int64("user_id", req.UserID), zap.Error(err))
		}
	}
	if len(expired) > 0 {
		logger.Info("stale approvals expired", zap.Int("count", len(expired)))
	}
	return len(expired), nil
}
