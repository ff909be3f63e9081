package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// EvictExpired deletes cache entries older than the TTL and returns how many were removed.
// It holds the write lock, so an entry being stored concurrently is never removed.
func (c *ResponseCache) EvictExpired(ctx context.Context) (int64, error) {
	c.db.LockWrite()
	defer c.db.UnlockWrite()

	cutoff := c.now().Add(-c.ttl).UnixNano()
	result, err := c.db.conn.ExecContext(ctx,
		"DELETE FROM response_cache WHERE stored_at < ?", cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to evict expired cache entries: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		c.logger.Info("evicted expired cache entries",
			zap.Int64("deleted", rows),
			zap.Duration("ttl", c.ttl),
		)
	}
	return rows, nil
}
