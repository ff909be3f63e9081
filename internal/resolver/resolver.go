package resolver

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bmtc-platforms/enricher/internal/dataset"
	"github.com/bmtc-platforms/enricher/internal/graph"
	"github.com/bmtc-platforms/enricher/internal/timetable"
)

var (
	// ErrUnknownRoute marks an entry whose route id is missing from the route list
	ErrUnknownRoute = errors.New("route not in route list")
	// ErrUnknownStop marks an entry whose station id is missing from the stop table
	ErrUnknownStop = errors.New("stop not in stop table")
)

// MergeStats counts what a single Merge call did
type MergeStats struct {
	Inserted int
	Replaced int
	Kept     int
	Skipped  int
}

// Add accumulates other into s
func (s *MergeStats) Add(other MergeStats) {
	s.Inserted += other.Inserted
	s.Replaced += other.Replaced
	s.Kept += other.Kept
	s.Skipped += other.Skipped
}

// Resolver accumulates route records from concurrent query completions
type Resolver struct {
	routes    map[string]timetable.RouteInfo
	stops     map[graph.StopID]string
	overrides OverrideTable
	logger    *zap.Logger

	mu       sync.Mutex
	data     dataset.Dataset
	resolved map[string]struct{}
}

// New creates a resolver. A nil routes or stops map disables the matching consistency check.
func New(routes map[string]timetable.RouteInfo, stops map[graph.StopID]string, overrides OverrideTable, logger *zap.Logger) *Resolver {
	if overrides == nil {
		overrides = OverrideTable{}
	}
	return &Resolver{
		routes:    routes,
		stops:     stops,
		overrides: overrides,
		logger:    logger.Named("resolver"),
		data:      dataset.Dataset{},
		resolved:  make(map[string]struct{}),
	}
}

// Seed loads previously persisted records, e.g. from an earlier run
func (r *Resolver) Seed(records []dataset.RouteRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range records {
		rec = r.overrides.Apply(rec)
		mergeOne(r.data, rec)
		r.markLocked(r.data[rec.RouteID])
	}
}

// Merge converts entries from one successful response and folds them into the dataset
func (r *Resolver) Merge(entries []timetable.RouteEntry, observedAt time.Time) MergeStats {
	var stats MergeStats

	records := make([]dataset.RouteRecord, 0, len(entries))
	for _, e := range entries {
		rec, err := r.record(e, observedAt)
		if err != nil {
			r.logger.Warn("skipping inconsistent route entry",
				zap.String("route_id", e.RouteID.String()),
				zap.String("from_station_id", e.FromStationID.String()),
				zap.Error(err),
			)
			stats.Skipped++
			continue
		}
		records = append(records, r.overrides.Apply(rec))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range records {
		inserted, replaced := mergeOne(r.data, rec)
		switch {
		case inserted:
			stats.Inserted++
		case replaced:
			stats.Replaced++
		default:
			stats.Kept++
		}
		r.markLocked(r.data[rec.RouteID])
	}
	return stats
}

func (r *Resolver) markLocked(rec dataset.RouteRecord) {
	if rec.HasPlatform() {
		r.resolved[rec.RouteID] = struct{}{}
	}
}

// isResolved reports whether routeID has a record with platform data
func (r *Resolver) isResolved(routeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.resolved[routeID]
	return ok
}

// ResolvedCount returns how many routes carry platform data
func (r *Resolver) ResolvedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.resolved)
}

// Dataset returns a snapshot of the records ordered by route id
func (r *Resolver) Dataset() []dataset.RouteRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Sorted(r.data)
}

// Sorted returns the records of d ordered by route id
func Sorted(d dataset.Dataset) []dataset.RouteRecord {
	out := make([]dataset.RouteRecord, 0, len(d))
	for _, rec := range d {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RouteID < out[j].RouteID
	})
	return out
}

func (r *Resolver) record(e timetable.RouteEntry, observedAt time.Time) (dataset.RouteRecord, error) {
	routeID := e.RouteID.String()
	rec := dataset.RouteRecord{
		RouteID:        routeID,
		RouteNumber:    e.RouteNumber.String(),
		RouteName:      e.RouteName.String(),
		FromStationID:  e.FromStationID.String(),
		PlatformName:   e.PlatformName.String(),
		PlatformNumber: e.PlatformNumber.String(),
		BayNumber:      e.BayNumber.String(),
		ObservedAt:     observedAt.UTC(),
	}

	if r.stops != nil && rec.FromStationID != "" {
		if _, ok := r.stops[graph.StopID(rec.FromStationID)]; !ok {
			return rec, fmt.Errorf("station %s: %w", rec.FromStationID, ErrUnknownStop)
		}
	}

	if r.routes == nil {
		return rec, nil
	}
	info, ok := r.routes[routeID]
	if !ok {
		return rec, fmt.Errorf("route %s: %w", routeID, ErrUnknownRoute)
	}
	rec.ExtendedRouteNumber = info.RouteNumber.String()
	rec.StartStation = info.FromStation.String()
	rec.StartStationID = info.FromStationID.String()
	rec.ToStationID = info.ToStationID.String()
	rec.ToStation = info.ToStation.String()
	return rec, nil
}
