package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bmtc-platforms/enricher/internal/timetable"
)

// DefaultCacheTTL is how long a stored response stays visible
const DefaultCacheTTL = 24 * time.Hour

// ResponseCache stores raw timetable responses in SQLite.
// Lookup failures degrade to a miss and are only logged.
type ResponseCache struct {
	db     *DB
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// NewResponseCache creates a cache over database. ttl <= 0 uses DefaultCacheTTL.
func NewResponseCache(database *DB, ttl time.Duration, logger *zap.Logger) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &ResponseCache{
		db:     database,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.Named("cache"),
	}
}

// WithClock replaces the cache's time source
func (c *ResponseCache) WithClock(now func() time.Time) *ResponseCache {
	c.now = now
	return c
}

// TTL returns the configured time to live
func (c *ResponseCache) TTL() time.Duration {
	return c.ttl
}

// Lookup returns the stored response for q and the time it was stored, if one exists
// and is no older than the TTL
func (c *ResponseCache) Lookup(ctx context.Context, q timetable.Query) ([]byte, time.Time, bool) {
	var (
		payload  []byte
		storedAt int64
	)
	err := c.db.conn.QueryRowContext(ctx,
		"SELECT payload, stored_at FROM response_cache WHERE cache_key = ?",
		q.CacheKey(),
	).Scan(&payload, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, false
	}
	if err != nil {
		c.logger.Warn("cache lookup failed, treating as miss",
			zap.String("origin", string(q.Origin)),
			zap.String("target", string(q.Target)),
			zap.Error(err),
		)
		return nil, time.Time{}, false
	}

	stored := time.Unix(0, storedAt).UTC()
	if c.now().Sub(stored) > c.ttl {
		return nil, time.Time{}, false
	}
	return payload, stored, true
}

// Store records raw as the response for q, replacing any previous entry and resetting its age
func (c *ResponseCache) Store(ctx context.Context, q timetable.Query, raw []byte) error {
	c.db.LockWrite()
	defer c.db.UnlockWrite()

	_, err := c.db.conn.ExecContext(ctx, `
		INSERT INTO response_cache (cache_key, origin_stop, target_stop, payload, stored_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (cache_key) DO UPDATE SET
			payload = excluded.payload,
			stored_at = excluded.stored_at
	`, q.CacheKey(), string(q.Origin), string(q.Target), raw, c.now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to store response: %w", err)
	}
	return nil
}

// Len returns the number of stored entries, expired ones included
func (c *ResponseCache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM response_cache").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return n, nil
}
