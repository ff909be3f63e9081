package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bmtc-platforms/enricher/internal/dataset"
	"github.com/bmtc-platforms/enricher/internal/timetable"
)

// File is the on-disk platform dataset
type File struct {
	GeneratedAt time.Time             `json:"generated-at"`
	RunID       string                `json:"run-id,omitempty"`
	FailedStops []string              `json:"failed-stops"`
	Failed      []dataset.FailedQuery `json:"Failed"`
	Received    []dataset.RouteRecord `json:"Received"`
}

// Path returns the dataset file for a crawl name inside dir
func Path(dir, name string) string {
	return filepath.Join(dir, "platforms-"+name+".json")
}

// Save writes f to path through a temporary file and rename
func Save(path string, f File) error {
	if f.FailedStops == nil {
		f.FailedStops = []string{}
	}
	if f.Failed == nil {
		f.Failed = []dataset.FailedQuery{}
	}
	if f.Received == nil {
		f.Received = []dataset.RouteRecord{}
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode dataset: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".platforms-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace dataset: %w", err)
	}
	return nil
}

// storedRecord accepts ids written as either JSON numbers or strings
type storedRecord struct {
	RouteID             timetable.FlexString `json:"route-id"`
	RouteNumber         timetable.FlexString `json:"route-number"`
	ExtendedRouteNumber timetable.FlexString `json:"extended-route-number"`
	RouteName           timetable.FlexString `json:"route-name"`
	StartStation        timetable.FlexString `json:"start-station"`
	StartStationID      timetable.FlexString `json:"start-station-id"`
	FromStationID       timetable.FlexString `json:"from-station-id"`
	ToStationID         timetable.FlexString `json:"to-station-id"`
	ToStation           timetable.FlexString `json:"to-station"`
	PlatformName        timetable.FlexString `json:"platform-name"`
	PlatformNumber      timetable.FlexString `json:"platform-number"`
	BayNumber           timetable.FlexString `json:"bay-number"`
	ObservedAt          *time.Time           `json:"observed-at"`
}

type storedFile struct {
	GeneratedAt *time.Time             `json:"generated-at"`
	RunID       string                 `json:"run-id"`
	FailedStops []timetable.FlexString `json:"failed-stops"`
	Failed      json.RawMessage        `json:"Failed"`
	Received    []storedRecord         `json:"Received"`
}

// Load reads a dataset file. Records without an observation time inherit the
// file's generation time. A missing file returns an error matching fs.ErrNotExist.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	var stored storedFile
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse dataset %s: %w", path, err)
	}

	f := &File{RunID: stored.RunID}
	// Older files list failures in other shapes; those are diagnostics only and are dropped
	if len(stored.Failed) > 0 {
		if err := json.Unmarshal(stored.Failed, &f.Failed); err != nil {
			f.Failed = nil
		}
	}
	if stored.GeneratedAt != nil {
		f.GeneratedAt = *stored.GeneratedAt
	}
	for _, s := range stored.FailedStops {
		f.FailedStops = append(f.FailedStops, s.String())
	}
	for _, s := range stored.Received {
		if s.RouteID == "" {
			continue
		}
		r := dataset.RouteRecord{
			RouteID:             s.RouteID.String(),
			RouteNumber:         s.RouteNumber.String(),
			ExtendedRouteNumber: s.ExtendedRouteNumber.String(),
			RouteName:           s.RouteName.String(),
			StartStation:        s.StartStation.String(),
			StartStationID:      s.StartStationID.String(),
			FromStationID:       s.FromStationID.String(),
			ToStationID:         s.ToStationID.String(),
			ToStation:           s.ToStation.String(),
			PlatformName:        s.PlatformName.String(),
			PlatformNumber:      s.PlatformNumber.String(),
			BayNumber:           s.BayNumber.String(),
			ObservedAt:          f.GeneratedAt,
		}
		if s.ObservedAt != nil {
			r.ObservedAt = *s.ObservedAt
		}
		f.Received = append(f.Received, r)
	}
	return f, nil
}

// IsStale reports whether the dataset at path is missing, unreadable or older than maxAge
func IsStale(path string, maxAge time.Duration, now time.Time) bool {
	f, err := Load(path)
	if err != nil {
		return true
	}
	if f.GeneratedAt.IsZero() {
		return true
	}
	return now.Sub(f.GeneratedAt) > maxAge
}
