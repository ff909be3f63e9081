package sink

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/bmtc-platforms/enricher/internal/dataset"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS crawl_runs (
    run_id        TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    seeds         TEXT[] NOT NULL,
    started_at    TIMESTAMPTZ NOT NULL,
    finished_at   TIMESTAMPTZ NOT NULL,
    received      INTEGER NOT NULL DEFAULT 0,
    failed        INTEGER NOT NULL DEFAULT 0,
    failed_seeds  TEXT[] NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS route_records (
    name                   TEXT NOT NULL,
    route_id               TEXT NOT NULL,
    run_id                 TEXT NOT NULL,
    route_number           TEXT NOT NULL DEFAULT '',
    extended_route_number  TEXT NOT NULL DEFAULT '',
    route_name             TEXT NOT NULL DEFAULT '',
    start_station          TEXT NOT NULL DEFAULT '',
    start_station_id       TEXT NOT NULL DEFAULT '',
    from_station_id        TEXT NOT NULL DEFAULT '',
    to_station_id          TEXT NOT NULL DEFAULT '',
    to_station             TEXT NOT NULL DEFAULT '',
    platform_name          TEXT NOT NULL DEFAULT '',
    platform_number        TEXT NOT NULL DEFAULT '',
    bay_number             TEXT NOT NULL DEFAULT '',
    observed_at            TIMESTAMPTZ NOT NULL,
    updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (name, route_id)
);

CREATE TABLE IF NOT EXISTS failed_queries (
    id           BIGSERIAL PRIMARY KEY,
    run_id       TEXT NOT NULL REFERENCES crawl_runs (run_id) ON DELETE CASCADE,
    seed         TEXT NOT NULL,
    target       TEXT NOT NULL,
    query_date   TEXT NOT NULL DEFAULT '',
    level        INTEGER NOT NULL,
    kind         TEXT NOT NULL,
    reason       TEXT NOT NULL DEFAULT '',
    response     JSONB,
    recorded_at  TIMESTAMPTZ NOT NULL
);
`

// Postgres persists crawl runs to a PostgreSQL database
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres connects to databaseURL and ensures the schema exists
func NewPostgres(ctx context.Context, databaseURL string, logger *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Postgres{pool: pool, logger: logger.Named("postgres")}, nil
}

// Close closes the pool
func (p *Postgres) Close() {
	p.pool.Close()
}

// SaveRun writes the run, upserts its records and stores its failed queries in one transaction
func (p *Postgres) SaveRun(ctx context.Context, run dataset.Run, records []dataset.RouteRecord, failed []dataset.FailedQuery) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO crawl_runs (run_id, name, seeds, started_at, finished_at, received, failed, failed_seeds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			received = EXCLUDED.received,
			failed = EXCLUDED.failed,
			failed_seeds = EXCLUDED.failed_seeds
	`, run.RunID, run.Name, nonNil(run.Seeds), run.StartedAt, run.FinishedAt, run.Received, run.Failed, nonNil(run.FailedSeeds))

	for _, r := range records {
		batch.Queue(`
			INSERT INTO route_records (
				name, route_id, run_id, route_number, extended_route_number, route_name,
				start_station, start_station_id, from_station_id, to_station_id, to_station,
				platform_name, platform_number, bay_number, observed_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
			ON CONFLICT (name, route_id) DO UPDATE SET
				run_id = EXCLUDED.run_id,
				route_number = EXCLUDED.route_number,
				extended_route_number = EXCLUDED.extended_route_number,
				route_name = EXCLUDED.route_name,
				start_station = EXCLUDED.start_station,
				start_station_id = EXCLUDED.start_station_id,
				from_station_id = EXCLUDED.from_station_id,
				to_station_id = EXCLUDED.to_station_id,
				to_station = EXCLUDED.to_station,
				platform_name = EXCLUDED.platform_name,
				platform_number = EXCLUDED.platform_number,
				bay_number = EXCLUDED.bay_number,
				observed_at = EXCLUDED.observed_at,
				updated_at = NOW()
		`, run.Name, r.RouteID, run.RunID, r.RouteNumber, r.ExtendedRouteNumber, r.RouteName,
			r.StartStation, r.StartStationID, r.FromStationID, r.ToStationID, r.ToStation,
			r.PlatformName, r.PlatformNumber, r.BayNumber, r.ObservedAt)
	}

	for _, f := range failed {
		var response *string
		if len(f.Response) > 0 {
			s := string(f.Response)
			response = &s
		}
		batch.Queue(`
			INSERT INTO failed_queries (run_id, seed, target, query_date, level, kind, reason, response, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)
		`, run.RunID, f.Seed, f.Target, f.Date, f.Level, f.Kind, f.Reason, response, f.RecordedAt)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to write run %s: %w", run.RunID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	p.logger.Info("run saved",
		zap.String("run_id", run.RunID),
		zap.Int("records", len(records)),
		zap.Int("failed", len(failed)),
	)
	return nil
}

// CountRecords returns the number of route records stored under the dataset name
func (p *Postgres) CountRecords(ctx context.Context, name string) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM route_records WHERE name = $1", name).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
