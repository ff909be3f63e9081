package gtfs

import (
	"archive/zip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/bmtc-platforms/enricher/internal/graph"
)

// Feed is an opened GTFS source. Close must be called when done.
type Feed struct {
	fs.FS
	closer func() error
}

// Close releases the underlying zip reader, if any
func (f *Feed) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer()
}

// Open opens a GTFS feed stored either as a directory of .txt files or as a zip archive
func Open(path string) (*Feed, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat gtfs source: %w", err)
	}

	if info.IsDir() {
		return &Feed{FS: os.DirFS(path)}, nil
	}

	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}
	return &Feed{FS: r, closer: r.Close}, nil
}

// Parse reads stops, routes, trips and stop times from the feed.
// stops.txt and stop_times.txt are required; the others are optional.
func Parse(fsys fs.FS, logger *zap.Logger) (*Data, error) {
	data := &Data{}

	stops, err := parseStops(fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stops.txt: %w", err)
	}
	data.Stops = stops

	stopTimes, err := parseStopTimes(fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stop_times.txt: %w", err)
	}
	data.StopTimes = stopTimes

	if routes, err := parseRoutes(fsys); err != nil {
		logger.Warn("failed to parse routes.txt", zap.Error(err))
	} else {
		data.Routes = routes
	}

	if trips, err := parseTrips(fsys); err != nil {
		logger.Warn("failed to parse trips.txt", zap.Error(err))
	} else {
		data.Trips = trips
	}

	logger.Info("gtfs parsed",
		zap.Int("routes", len(data.Routes)),
		zap.Int("stops", len(data.Stops)),
		zap.Int("trips", len(data.Trips)),
		zap.Int("stop_times", len(data.StopTimes)),
	)

	return data, nil
}

// TripSequences groups stop times by trip, preserving first-seen trip order
func (d *Data) TripSequences() []graph.TripSequence {
	index := make(map[string]int)
	var trips []graph.TripSequence

	for _, st := range d.StopTimes {
		i, ok := index[st.TripID]
		if !ok {
			i = len(trips)
			index[st.TripID] = i
			trips = append(trips, graph.TripSequence{TripID: st.TripID})
		}
		trips[i].Stops = append(trips[i].Stops, graph.TripStop{
			StopID:       graph.StopID(st.StopID),
			StopSequence: st.StopSequence,
		})
	}

	return trips
}

// StopNames returns stop_id -> stop_name
func (d *Data) StopNames() map[graph.StopID]string {
	names := make(map[graph.StopID]string, len(d.Stops))
	for _, s := range d.Stops {
		names[graph.StopID(s.StopID)] = s.StopName
	}
	return names
}

// table is a header-indexed CSV file
type table struct {
	reader *csv.Reader
	idx    map[string]int
	closer io.Closer
}

func openTable(fsys fs.FS, name string) (*table, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}

	reader := bomAwareReader(f)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		f.Close()
		return nil, fmt.Errorf("%s contains no rows", name)
	}
	if err != nil {
		f.Close()
		return nil, err
	}

	return &table{reader: reader, idx: makeIndex(header), closer: f}, nil
}

// each calls fn for every well-formed row; malformed rows are skipped
func (t *table) each(fn func(record []string)) error {
	defer t.closer.Close()
	for {
		record, err := t.reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				continue
			}
			return err
		}
		fn(record)
	}
}

func (t *table) field(record []string, name string) string {
	return getField(record, t.idx, name)
}

func parseStops(fsys fs.FS) ([]Stop, error) {
	t, err := openTable(fsys, "stops.txt")
	if err != nil {
		return nil, err
	}

	var stops []Stop
	err = t.each(func(record []string) {
		lat, _ := strconv.ParseFloat(t.field(record, "stop_lat"), 64)
		lon, _ := strconv.ParseFloat(t.field(record, "stop_lon"), 64)
		stops = append(stops, Stop{
			StopID:   t.field(record, "stop_id"),
			StopName: t.field(record, "stop_name"),
			StopLat:  lat,
			StopLon:  lon,
		})
	})
	return stops, err
}

func parseRoutes(fsys fs.FS) ([]Route, error) {
	t, err := openTable(fsys, "routes.txt")
	if err != nil {
		return nil, err
	}

	var routes []Route
	err = t.each(func(record []string) {
		routes = append(routes, Route{
			RouteID:        t.field(record, "route_id"),
			RouteShortName: t.field(record, "route_short_name"),
			RouteLongName:  t.field(record, "route_long_name"),
		})
	})
	return routes, err
}

func parseTrips(fsys fs.FS) ([]Trip, error) {
	t, err := openTable(fsys, "trips.txt")
	if err != nil {
		return nil, err
	}

	var trips []Trip
	err = t.each(func(record []string) {
		trips = append(trips, Trip{
			RouteID: t.field(record, "route_id"),
			TripID:  t.field(record, "trip_id"),
		})
	})
	return trips, err
}

func parseStopTimes(fsys fs.FS) ([]StopTime, error) {
	t, err := openTable(fsys, "stop_times.txt")
	if err != nil {
		return nil, err
	}

	var stopTimes []StopTime
	err = t.each(func(record []string) {
		tripID := t.field(record, "trip_id")
		stopID := t.field(record, "stop_id")
		if tripID == "" || stopID == "" {
			return
		}
		seq, _ := strconv.Atoi(t.field(record, "stop_sequence"))

		stopTimes = append(stopTimes, StopTime{
			TripID:       tripID,
			StopID:       stopID,
			StopSequence: seq,
		})
	})
	return stopTimes, err
}

// bomAwareReader strips a leading UTF byte order mark, which many agency exports carry
func bomAwareReader(r io.Reader) *csv.Reader {
	transformer := unicode.BOMOverride(encoding.Nop.NewDecoder())
	return csv.NewReader(transform.NewReader(r, transformer))
}

func makeIndex(header []string) map[string]int {
	idx := make(map[string]int)
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	return idx
}

func getField(record []string, idx map[string]int, field string) string {
	if i, ok := idx[field]; ok && i < len(record) {
		return strings.TrimSpace(record[i])
	}
	return ""
}
