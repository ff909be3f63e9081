package dataset

import (
	"encoding/json"
	"time"
)

// RouteRecord is one row of the enriched platform dataset, keyed by RouteID
type RouteRecord struct {
	RouteID             string    `json:"route-id"`
	RouteNumber         string    `json:"route-number"`
	ExtendedRouteNumber string    `json:"extended-route-number"`
	RouteName           string    `json:"route-name"`
	StartStation        string    `json:"start-station"`
	StartStationID      string    `json:"start-station-id"`
	FromStationID       string    `json:"from-station-id"`
	ToStationID         string    `json:"to-station-id"`
	ToStation           string    `json:"to-station"`
	PlatformName        string    `json:"platform-name"`
	PlatformNumber      string    `json:"platform-number"`
	BayNumber           string    `json:"bay-number"`
	ObservedAt          time.Time `json:"observed-at"`
}

// HasPlatform reports whether the record carries a platform name or number
func (r RouteRecord) HasPlatform() bool {
	return r.PlatformName != "" || r.PlatformNumber != ""
}

// Dataset maps route id to its canonical record
type Dataset map[string]RouteRecord

// FailedQuery is a timetable query that failed during a crawl
type FailedQuery struct {
	Seed       string          `json:"seed"`
	Target     string          `json:"target"`
	Date       string          `json:"date"`
	Level      int             `json:"level"`
	Kind       string          `json:"kind"`
	Reason     string          `json:"reason"`
	Response   json.RawMessage `json:"response,omitempty"`
	RecordedAt time.Time       `json:"recorded-at"`
}

// Run summarizes one persisted crawl
type Run struct {
	RunID       string    `json:"run-id"`
	Name        string    `json:"name"`
	Seeds       []string  `json:"seeds"`
	StartedAt   time.Time `json:"started-at"`
	FinishedAt  time.Time `json:"finished-at"`
	Received    int       `json:"received"`
	Failed      int       `json:"failed"`
	FailedSeeds []string  `json:"failed-seeds"`
}
