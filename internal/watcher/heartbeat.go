package watcher

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Heartbeater reports agent liveness
type Heartbeater interface {
	Heartbeat(ctx context.Context) error
}

// RunHeartbeat sends a heartbeat immediately and then every interval until ctx
// is cancelled. Failures are logged; the next tick tries again.
func RunHeartbeat(ctx context.Context, hb Heartbeater, interval time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	beat := func() {
		if err := hb.Heartbeat(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("heartbeat failed", zap.Error(err))
		}
	}

	beat()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat()
		}
	}
}
