package contact

// purge.go runs the trash retention job.
//
// Contacts stay restorable for the retention period after a soft delete.
// The scheduler runs once on start and then every CheckInterval, hard
// deleting contacts whose deleted_at is older than the retention. A failed
// run is logged and retried on the next tick.

import (
	"context"
	"log/slog"
	"time"
)

// PurgeConfig holds configuration for the trash purge scheduler.
type PurgeConfig struct {
	Retention     time.Duration // How long a trashed contact stays restorable (default: 30 days)
	CheckInterval time.Duration // How often to run (default: 24h)
}

func (c PurgeConfig) withDefaults() PurgeConfig {
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 24 * time.Hour
	}
	return c
}

// StartPurgeScheduler blocks until ctx is cancelled, purging expired trash
// on every tick. Run it in its own goroutine.
func (e *Engine) StartPurgeScheduler(ctx context.Context, cfg PurgeConfig) {
	cfg = cfg.withDefaults()
	slog.Info("trash purge scheduler started",
		"retention", cfg.Retention,
		"check_interval", cfg.CheckInterval,
	)

	e.runPurgeJob(ctx, cfg)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("trash purge scheduler stopped")
			return
		case <-ticker.C:
			e.runPurgeJob(ctx, cfg)
		}
	}
}

func (e *Engine) runPurgeJob(ctx context.Context, cfg PurgeConfig) {
	start := time.Now()
	purged, err := e.PurgeExpired(ctx, cfg.Retention)
	if err != nil {
		slog.Error("trash purge failed", "error", err)
		return
	}
	slog.Info("trash purge completed",
		"contacts_purged", purged,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
