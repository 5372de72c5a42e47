package m2m

import (
	"context"
	"log/slog"
	"time"
)

const sweepInterval = 5 * time.Minute

// StartSweeper runs a background goroutine that periodically drops ended
// rate-limit windows until ctx is done.
func StartSweeper(ctx context.Context, g *Gate) {
	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("M2M sweeper started", "interval", sweepInterval)

		for {
			select {
			case <-ticker.C:
				if removed := g.Sweep(); removed > 0 {
					slog.Debug("M2M sweeper removed ended windows", "count", removed)
				}
			case <-ctx.Done():
				slog.Info("M2M sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
