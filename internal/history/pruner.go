package history

import (
	"context"
	"time"
)

// Logger defines the logging interface used by the pruner.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// RunPruner deletes entries older than retention every interval until ctx
// is cancelled. A first pass runs immediately.
func RunPruner(ctx context.Context, repo Repository, retention, interval time.Duration, logger Logger) {
	prune := func() {
		deleted, err := repo.PruneHistory(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("pruning state history failed", "error", err)
			}
			return
		}
		if deleted > 0 {
			logger.Info("state history pruned", "deleted", deleted, "retention", retention.String())
		}
	}

	prune()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
