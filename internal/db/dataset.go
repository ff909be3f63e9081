package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bmtc-platforms/enricher/internal/dataset"
)

// RecordFilter narrows ListRecords. A nil Resolved returns every record.
type RecordFilter struct {
	Resolved *bool
}

// SaveRun persists a crawl run, upserts its route records and stores its failed queries
func (db *DB) SaveRun(ctx context.Context, run dataset.Run, records []dataset.RouteRecord, failed []dataset.FailedQuery) error {
	db.LockWrite()
	defer db.UnlockWrite()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	seeds, err := json.Marshal(nonNil(run.Seeds))
	if err != nil {
		return fmt.Errorf("failed to encode seeds: %w", err)
	}
	failedSeeds, err := json.Marshal(nonNil(run.FailedSeeds))
	if err != nil {
		return fmt.Errorf("failed to encode failed seeds: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO crawl_runs (run_id, name, seeds, started_at, finished_at, received, failed, failed_seeds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET
			finished_at = excluded.finished_at,
			received = excluded.received,
			failed = excluded.failed,
			failed_seeds = excluded.failed_seeds
	`, run.RunID, run.Name, string(seeds), formatTime(run.StartedAt), formatTime(run.FinishedAt),
		run.Received, run.Failed, string(failedSeeds))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	recordStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO route_records (
			name, route_id, run_id, route_number, extended_route_number, route_name,
			start_station, start_station_id, from_station_id, to_station_id, to_station,
			platform_name, platform_number, bay_number, observed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT (name, route_id) DO UPDATE SET
			run_id = excluded.run_id,
			route_number = excluded.route_number,
			extended_route_number = excluded.extended_route_number,
			route_name = excluded.route_name,
			start_station = excluded.start_station,
			start_station_id = excluded.start_station_id,
			from_station_id = excluded.from_station_id,
			to_station_id = excluded.to_station_id,
			to_station = excluded.to_station,
			platform_name = excluded.platform_name,
			platform_number = excluded.platform_number,
			bay_number = excluded.bay_number,
			observed_at = excluded.observed_at,
			updated_at = datetime('now')
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare record statement: %w", err)
	}
	defer recordStmt.Close()

	for _, r := range records {
		_, err := recordStmt.ExecContext(ctx,
			run.Name, r.RouteID, run.RunID, r.RouteNumber, r.ExtendedRouteNumber, r.RouteName,
			r.StartStation, r.StartStationID, r.FromStationID, r.ToStationID, r.ToStation,
			r.PlatformName, r.PlatformNumber, r.BayNumber, formatTime(r.ObservedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert route %s: %w", r.RouteID, err)
		}
	}

	failedStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO failed_queries (run_id, seed, target, query_date, level, kind, reason, response, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare failed query statement: %w", err)
	}
	defer failedStmt.Close()

	for _, f := range failed {
		var response []byte
		if len(f.Response) > 0 {
			response = f.Response
		}
		_, err := failedStmt.ExecContext(ctx,
			run.RunID, f.Seed, f.Target, f.Date, f.Level, f.Kind, f.Reason, response, formatTime(f.RecordedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert failed query %s->%s: %w", f.Seed, f.Target, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

const recordColumns = `route_id, route_number, extended_route_number, route_name,
	start_station, start_station_id, from_station_id, to_station_id, to_station,
	platform_name, platform_number, bay_number, observed_at`

// ListDatasets returns the crawl names that have at least one persisted run
func (db *DB) ListDatasets(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT DISTINCT name FROM crawl_runs ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query datasets: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan dataset name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ListRecords returns the route records of the named dataset ordered by route id.
// It returns ErrNotFound if no run was ever saved under name.
func (db *DB) ListRecords(ctx context.Context, name string, filter RecordFilter) ([]dataset.RouteRecord, error) {
	if err := db.datasetExists(ctx, name); err != nil {
		return nil, err
	}

	query := "SELECT " + recordColumns + " FROM route_records WHERE name = ?"
	if filter.Resolved != nil {
		if *filter.Resolved {
			query += " AND (platform_name != '' OR platform_number != '')"
		} else {
			query += " AND platform_name = '' AND platform_number = ''"
		}
	}
	query += " ORDER BY route_id"

	rows, err := db.conn.QueryContext(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query route records: %w", err)
	}
	defer rows.Close()

	records := []dataset.RouteRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// GetRecord returns the record for routeID in the named dataset or ErrNotFound
func (db *DB) GetRecord(ctx context.Context, name, routeID string) (*dataset.RouteRecord, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM route_records WHERE name = ? AND route_id = ?", name, routeID)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (db *DB) datasetExists(ctx context.Context, name string) error {
	var exists int
	err := db.conn.QueryRowContext(ctx, "SELECT 1 FROM crawl_runs WHERE name = ? LIMIT 1", name).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up dataset: %w", err)
	}
	return nil
}

// ListRuns returns persisted runs, newest first
func (db *DB) ListRuns(ctx context.Context, limit int) ([]dataset.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT run_id, name, seeds, started_at, finished_at, received, failed, failed_seeds
		FROM crawl_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []dataset.Run{}
	for rows.Next() {
		var (
			run                   dataset.Run
			seeds, failedSeeds    string
			startedAt, finishedAt string
		)
		if err := rows.Scan(&run.RunID, &run.Name, &seeds, &startedAt, &finishedAt,
			&run.Received, &run.Failed, &failedSeeds); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(seeds), &run.Seeds); err != nil {
			return nil, fmt.Errorf("failed to decode seeds of run %s: %w", run.RunID, err)
		}
		if err := json.Unmarshal([]byte(failedSeeds), &run.FailedSeeds); err != nil {
			return nil, fmt.Errorf("failed to decode failed seeds of run %s: %w", run.RunID, err)
		}
		run.StartedAt = parseTime(startedAt)
		run.FinishedAt = parseTime(finishedAt)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListFailedQueries returns the failed queries recorded for runID, or ErrNotFound for an unknown run
func (db *DB) ListFailedQueries(ctx context.Context, runID string) ([]dataset.FailedQuery, error) {
	var exists int
	err := db.conn.QueryRowContext(ctx, "SELECT 1 FROM crawl_runs WHERE run_id = ?", runID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up run: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT seed, target, query_date, level, kind, reason, response, recorded_at
		FROM failed_queries
		WHERE run_id = ?
		ORDER BY level, seed, target
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed queries: %w", err)
	}
	defer rows.Close()

	failed := []dataset.FailedQuery{}
	for rows.Next() {
		var (
			f          dataset.FailedQuery
			response   []byte
			recordedAt string
		)
		if err := rows.Scan(&f.Seed, &f.Target, &f.Date, &f.Level, &f.Kind, &f.Reason, &response, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan failed query: %w", err)
		}
		if len(response) > 0 {
			f.Response = response
		}
		f.RecordedAt = parseTime(recordedAt)
		failed = append(failed, f)
	}
	return failed, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (dataset.RouteRecord, error) {
	var (
		r          dataset.RouteRecord
		observedAt string
	)
	err := s.Scan(&r.RouteID, &r.RouteNumber, &r.ExtendedRouteNumber, &r.RouteName,
		&r.StartStation, &r.StartStationID, &r.FromStationID, &r.ToStationID, &r.ToStation,
		&r.PlatformName, &r.PlatformNumber, &r.BayNumber, &observedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("failed to scan route record: %w", err)
	}
	r.ObservedAt = parseTime(observedAt)
	return r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
