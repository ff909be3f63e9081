package timetable

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bmtc-platforms/enricher/internal/graph"
)

// dateLayout is the timestamp format the timetable API expects
const dateLayout = "2006-01-02 15:04"

// ErrInvalidStopID is returned when a stop id cannot be sent to the API
var ErrInvalidStopID = errors.New("stop id is not numeric")

// Window is the service date range a timetable query covers
type Window struct {
	Start time.Time
	End   time.Time
}

// DayWindow returns the [00:00, 23:59] window of the day offsetDays after now, in loc
func DayWindow(now time.Time, loc *time.Location, offsetDays int) Window {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day()+offsetDays, 0, 0, 0, 0, loc)
	return Window{
		Start: day,
		End:   day.Add(23*time.Hour + 59*time.Minute),
	}
}

// Query is one timetable request between two stops
type Query struct {
	Origin graph.StopID
	Target graph.StopID
	Window Window
}

// QueryKey identifies a query; it is comparable and usable as a map key
type QueryKey struct {
	Origin graph.StopID
	Target graph.StopID
	Date   string
}

// Key returns the (origin, target, date) identity of the query
func (q Query) Key() QueryKey {
	return QueryKey{
		Origin: q.Origin,
		Target: q.Target,
		Date:   q.Window.Start.Format(dateLayout),
	}
}

type timetableRequest struct {
	FromStationID  int    `json:"fromStationId"`
	ToStationID    int    `json:"toStationId"`
	StartDate      string `json:"p_startdate"`
	EndDate        string `json:"p_enddate"`
	IsShortestTime int    `json:"p_isshortesttime"`
	RouteID        string `json:"p_routeid"`
	Date           string `json:"p_date"`
}

// Payload returns the JSON request body sent to GetTimetableByStation_v4
func (q Query) Payload() ([]byte, error) {
	from, err := strconv.Atoi(string(q.Origin))
	if err != nil {
		return nil, fmt.Errorf("origin %q: %w", q.Origin, ErrInvalidStopID)
	}
	to, err := strconv.Atoi(string(q.Target))
	if err != nil {
		return nil, fmt.Errorf("target %q: %w", q.Target, ErrInvalidStopID)
	}

	start := q.Window.Start.Format(dateLayout)
	return json.Marshal(timetableRequest{
		FromStationID:  from,
		ToStationID:    to,
		StartDate:      start,
		EndDate:        q.Window.End.Format(dateLayout),
		IsShortestTime: 0,
		RouteID:        "",
		Date:           start,
	})
}

// CacheKey is a content hash of origin, target and the full payload, so the same
// stop pair queried for different dates maps to different entries.
// Queries whose payload cannot be built hash on the stop pair and window alone.
func (q Query) CacheKey() string {
	payload, err := q.Payload()
	if err != nil {
		payload = []byte(q.Window.Start.Format(dateLayout) + "|" + q.Window.End.Format(dateLayout))
	}

	h := sha256.New()
	h.Write([]byte(q.Origin))
	h.Write([]byte{0})
	h.Write([]byte(q.Target))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// FlexString decodes JSON strings, numbers and null into a string.
// The upstream API is inconsistent about which of these it sends for ids.
type FlexString string

func (s *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = FlexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return fmt.Errorf("expected string or number, got %s", string(b))
	}
	*s = FlexString(num.String())
	return nil
}

func (s FlexString) String() string {
	return string(s)
}

// RouteEntry is one route served between the queried stops
type RouteEntry struct {
	RouteID        FlexString `json:"routeid" validate:"required"`
	RouteNumber    FlexString `json:"routeno"`
	RouteName      FlexString `json:"routename"`
	FromStationID  FlexString `json:"fromstationid"`
	PlatformName   FlexString `json:"platformname"`
	PlatformNumber FlexString `json:"platformnumber"`
	BayNumber      FlexString `json:"baynumber"`
}

// RouteInfo is a route from GetAllRouteList
type RouteInfo struct {
	RouteID       FlexString `json:"routeid" validate:"required"`
	RouteNumber   FlexString `json:"routeno"`
	FromStation   FlexString `json:"fromstation"`
	FromStationID FlexString `json:"fromstationid"`
	ToStation     FlexString `json:"tostation"`
	ToStationID   FlexString `json:"tostationid"`
}

// FailureKind classifies why a query failed
type FailureKind string

const (
	// FailureTransport is a network, timeout or HTTP-level error
	FailureTransport FailureKind = "transport"
	// FailureService means the API answered but signalled failure
	FailureService FailureKind = "service"
	// FailureMalformed means the payload did not match the expected schema
	FailureMalformed FailureKind = "malformed"
)

// Failure describes a failed query
type Failure struct {
	Kind   FailureKind
	Reason string
}

func (f *Failure) Error() string {
	return string(f.Kind) + ": " + f.Reason
}

// Result is the outcome of a timetable query: either Entries or a Failure
type Result struct {
	Entries []RouteEntry
	Failure *Failure
}

// Failed reports whether the query failed
func (r Result) Failed() bool {
	return r.Failure != nil
}

// Success builds a successful result
func Success(entries []RouteEntry) Result {
	return Result{Entries: entries}
}

// Fail builds a failed result
func Fail(kind FailureKind, reason string) Result {
	return Result{Failure: &Failure{Kind: kind, Reason: reason}}
}
