package services

import (
	"context"

	"go.uber.org/zap"

	"nexus-bot/internal/logger"
)

// Pruner drops expired purchase sessions. Redis-backed sessions expire on
// their own and need no pruning.
type Pruner interface {
	Prune(ctx context.Context) (int, error)
}

func PruneSessions(ctx context.Context, p Pruner) int {
	n, err := p.Prune(ctx)
	if err != nil {
		logger.Error("failed to prune sessions", err)
		return 0
	}
	if n > 0 {
		logger.Info("expired sessions pruned", zap.Int("count", n))
	}
	return n
}
