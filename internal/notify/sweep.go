package notify

import (
	"context"
	"log/slog"
	"time"
)

// StartDispatchWorker runs a background loop that dispatches due scheduled
// notifications. Blocks until ctx is cancelled. Intended to be called with
// `go`.
func StartDispatchWorker(ctx context.Context, store Store, interval time.Duration, logger *slog.Logger) {
	logger.Info("dispatch sweep started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := store.ProcessScheduled(ctx, time.Now())
			if err != nil {
				logger.Error("dispatch sweep error", "error", err)
			} else if n > 0 {
				logger.Info("dispatch sweep", "dispatched", n)
			}
		case <-ctx.Done():
			logger.Info("dispatch sweep stopped")
			return
		}
	}
}

// StartCleanupWorker runs a background loop that deletes notifications past
// expiry and older than the retention floor. Blocks until ctx is cancelled.
func StartCleanupWorker(ctx context.Context, store Store, interval time.Duration, logger *slog.Logger) {
	logger.Info("cleanup sweep started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deleted, err := store.CleanupExpired(ctx, time.Now())
			if err != nil {
				logger.Warn("cleanup sweep error", "error", err)
			} else if deleted > 0 {
				logger.Info("cleanup sweep", "deleted", deleted)
			}
		case <-ctx.Done():
			logger.Info("cleanup sweep stopped")
			return
		}
	}
}
