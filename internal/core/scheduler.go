package core

// scheduler.go runs periodic maintenance: audit entries older than the
// retention window are deleted in batches. Failures are logged and retried
// on the next tick; they never stop the server.

import (
	"context"
	"time"

	"github.com/JonMunkholm/formreg/internal/logging"
)

// AuditPruner deletes old audit entries.
type AuditPruner interface {
	// PruneAudit deletes at most limit entries created before cutoff and
	// returns how many it deleted.
	PruneAudit(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// RetentionConfig controls the audit retention job. Zero values take the
// defaults noted on each field.
type RetentionConfig struct {
	MaxAge        time.Duration // Entries older than this are deleted (default: 365 days)
	BatchSize     int           // Rows per delete (default: 5000)
	CheckInterval time.Duration // How often to run (default: 24h)
}

func (c *RetentionConfig) applyDefaults() {
	if c.MaxAge <= 0 {
		c.MaxAge = 365 * 24 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5000
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 24 * time.Hour
	}
}

// RunAuditRetention prunes once immediately, then every CheckInterval,
// until ctx ends. Run it in its own goroutine.
func RunAuditRetention(ctx context.Context, pruner AuditPruner, clock Clock, cfg RetentionConfig) {
	cfg.applyDefaults()
	if clock == nil {
		clock = SystemClock
	}
	logger := logging.FromContext(ctx).With("job", "audit_retention")
	logger.Info("audit retention started",
		"max_age", cfg.MaxAge,
		"batch_size", cfg.BatchSize,
		"interval", cfg.CheckInterval,
	)

	pruneAudit(ctx, pruner, clock, cfg)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("audit retention stopped")
			return
		case <-ticker.C:
			pruneAudit(ctx, pruner, clock, cfg)
		}
	}
}

// pruneAudit deletes batches until one comes back short. It returns the
// total deleted.
func pruneAudit(ctx context.Context, pruner AuditPruner, clock Clock, cfg RetentionConfig) int64 {
	logger := logging.FromContext(ctx).With("job", "audit_retention")
	start := time.Now()
	cutoff := clock.Now().Add(-cfg.MaxAge)

	var total int64
	for ctx.Err() == nil {
		n, err := pruner.PruneAudit(ctx, cutoff, cfg.BatchSize)
		if err != nil {
			logger.Error("audit prune failed", "deleted", total, "error", err)
			return total
		}
		total += n
		if n < int64(cfg.BatchSize) {
			break
		}
	}

	logger.Info("audit prune completed",
		"deleted", total,
		"cutoff", cutoff,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return total
}
