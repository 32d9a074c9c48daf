package flow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ReapStale deletes expired pending cards and every card an earlier boot of
// this instance left behind. Called at startup it turns a restart into idle
// for this instance's keys; other instances' live cards are kept.
func (c *Coordinator) ReapStale(ctx context.Context) (int, error) {
	return c.reap(ctx, c.instance)
}

// ReapExpired deletes pending cards older than the TTL, whoever took them
func (c *Coordinator) ReapExpired(ctx context.Context) (int, error) {
	return c.reap(ctx, "")
}

func (c *Coordinator) reap(ctx context.Context, instance string) (int, error) {
	n, err := c.pending.DeleteStalePending(ctx, instance, c.epoch, c.now().Add(-c.ttl))
	if err != nil {
		return 0, fmt.Errorf("failed to reap pending cards: %w", err)
	}
	if n > 0 {
		c.logger.Info("Reaped stale pending cards",
			zap.Int("count", n),
			zap.String("instance", c.instance))
		c.metrics.PendingReaped(n)
	}
	return n, nil
}

// Run reaps this instance's leftovers once, then expired pending cards every
// interval until ctx is done.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) error {
	if _, err := c.ReapStale(ctx); err != nil {
		c.logger.Warn("Initial pending reap failed", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.ReapExpired(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("Pending reap failed", zap.Error(err))
			}
		}
	}
}
