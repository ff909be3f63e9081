package timetable

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func testWindow() Window {
	return DayWindow(time.Date(2024, 3, 9, 18, 30, 0, 0, time.UTC), time.UTC, 1)
}

func TestDayWindow(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	// 20:00 UTC on the 9th is already 01:30 on the 10th in IST
	w := DayWindow(time.Date(2024, 3, 9, 20, 0, 0, 0, time.UTC), ist, 1)

	if got := w.Start.Format(dateLayout); got != "2024-03-11 00:00" {
		t.Errorf("Start = %s", got)
	}
	if got := w.End.Format(dateLayout); got != "2024-03-11 23:59" {
		t.Errorf("End = %s", got)
	}
}

func TestPayload(t *testing.T) {
	q := Query{Origin: "100", Target: "200", Window: testWindow()}
	body, err := q.Payload()
	if err != nil {
		t.Fatalf("Payload failed: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"fromStationId":    float64(100),
		"toStationId":      float64(200),
		"p_startdate":      "2024-03-10 00:00",
		"p_enddate":        "2024-03-10 23:59",
		"p_isshortesttime": float64(0),
		"p_routeid":        "",
		"p_date":           "2024-03-10 00:00",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestPayloadRejectsNonNumericStop(t *testing.T) {
	q := Query{Origin: "abc", Target: "200", Window: testWindow()}
	if _, err := q.Payload(); !errors.Is(err, ErrInvalidStopID) {
		t.Errorf("expected ErrInvalidStopID, got %v", err)
	}
}

func TestCacheKey(t *testing.T) {
	w := testWindow()
	a := Query{Origin: "100", Target: "200", Window: w}

	if a.CacheKey() != (Query{Origin: "100", Target: "200", Window: w}).CacheKey() {
		t.Error("identical queries must share a cache key")
	}
	if a.CacheKey() == (Query{Origin: "200", Target: "100", Window: w}).CacheKey() {
		t.Error("reversed stop pair must not share a cache key")
	}

	nextDay := Window{Start: w.Start.AddDate(0, 0, 1), End: w.End.AddDate(0, 0, 1)}
	if a.CacheKey() == (Query{Origin: "100", Target: "200", Window: nextDay}).CacheKey() {
		t.Error("different service dates must not share a cache key")
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantKind FailureKind
		entries  int
	}{
		{
			name:    "success with entries",
			raw:     `{"Issuccess":true,"isException":false,"exception":null,"Message":"","data":[{"routeid":1,"routeno":"335E","platformname":"12A","platformnumber":"3"}]}`,
			entries: 1,
		},
		{
			name: "success with empty data",
			raw:  `{"Issuccess":true,"isException":false,"data":[]}`,
		},
		{
			name: "success with null data",
			raw:  `{"Issuccess":true,"data":null}`,
		},
		{
			name:     "not successful",
			raw:      `{"Issuccess":false,"Message":"No records found","data":[]}`,
			wantKind: FailureService,
		},
		{
			name:     "exception flag",
			raw:      `{"Issuccess":true,"isException":true,"data":[]}`,
			wantKind: FailureService,
		},
		{
			name:     "exception body",
			raw:      `{"Issuccess":true,"exception":"boom","data":[]}`,
			wantKind: FailureService,
		},
		{
			name:     "missing success flag",
			raw:      `{"data":[]}`,
			wantKind: FailureService,
		},
		{
			name:     "not json",
			raw:      `<html>bad gateway</html>`,
			wantKind: FailureMalformed,
		},
		{
			name:     "data is not a list",
			raw:      `{"Issuccess":true,"data":{"routeid":1}}`,
			wantKind: FailureMalformed,
		},
		{
			name:     "entry missing route id",
			raw:      `{"Issuccess":true,"data":[{"routeno":"335E"}]}`,
			wantKind: FailureMalformed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := Decode([]byte(tc.raw))
			if tc.wantKind == "" {
				if res.Failed() {
					t.Fatalf("unexpected failure: %v", res.Failure)
				}
				if len(res.Entries) != tc.entries {
					t.Errorf("expected %d entries, got %d", tc.entries, len(res.Entries))
				}
				return
			}
			if !res.Failed() {
				t.Fatal("expected failure")
			}
			if res.Failure.Kind != tc.wantKind {
				t.Errorf("kind = %s, want %s", res.Failure.Kind, tc.wantKind)
			}
		})
	}
}

func TestDecodeNumericFields(t *testing.T) {
	res := Decode([]byte(`{"Issuccess":true,"data":[{"routeid":4021,"routeno":"500D","fromstationid":100,"platformname":null,"platformnumber":7,"baynumber":""}]}`))
	if res.Failed() {
		t.Fatalf("unexpected failure: %v", res.Failure)
	}
	want := []RouteEntry{{
		RouteID:        "4021",
		RouteNumber:    "500D",
		FromStationID:  "100",
		PlatformNumber: "7",
	}}
	if diff := cmp.Diff(want, res.Entries); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestClientQuery(t *testing.T) {
	var gotBody map[string]any
	var gotHeaders http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/"+timetablePath {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotHeaders = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)
		w.Write([]byte(`{"Issuccess":true,"data":[]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, 5*time.Second, 0)
	body, err := c.Query(context.Background(), Query{Origin: "100", Target: "200", Window: testWindow()})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if !strings.Contains(string(body), "Issuccess") {
		t.Errorf("unexpected body %s", body)
	}
	if gotBody["fromStationId"] != float64(100) {
		t.Errorf("fromStationId = %v", gotBody["fromStationId"])
	}
	if gotHeaders.Get("deviceType") != "WEB" || gotHeaders.Get("Origin") != portalOrigin {
		t.Errorf("portal headers missing: %v", gotHeaders)
	}
}

func TestClientQueryNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewClient(server.URL, 5*time.Second, 0)
	if _, err := c.Query(context.Background(), Query{Origin: "100", Target: "200", Window: testWindow()}); err == nil {
		t.Error("expected error for 502")
	}
}

func TestClientQueryTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, 50*time.Millisecond, 0)
	if _, err := c.Query(context.Background(), Query{Origin: "100", Target: "200", Window: testWindow()}); err == nil {
		t.Error("expected timeout error")
	}
}

func TestClientRouteList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/"+routeListPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"Issuccess":true,"data":[{"routeid":1,"routeno":"335E","fromstation":"Majestic","fromstationid":100,"tostation":"ITPL","tostationid":900}]}`))
	}))
	defer server.Close()

	routes, err := NewClient(server.URL, 5*time.Second, 0).RouteList(context.Background())
	if err != nil {
		t.Fatalf("RouteList failed: %v", err)
	}
	want := map[string]RouteInfo{
		"1": {RouteID: "1", RouteNumber: "335E", FromStation: "Majestic", FromStationID: "100", ToStation: "ITPL", ToStationID: "900"},
	}
	if diff := cmp.Diff(want, routes); diff != "" {
		t.Errorf("routes mismatch (-want +got):\n%s", diff)
	}
}
