package resolver

import (
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/bmtc-platforms/enricher/internal/dataset"
	"github.com/bmtc-platforms/enricher/internal/graph"
	"github.com/bmtc-platforms/enricher/internal/timetable"
)

var (
	t0 = time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Minute)
)

var testRoutes = map[string]timetable.RouteInfo{
	"55": {RouteID: "55", RouteNumber: "335E UP", FromStation: "Majestic", FromStationID: "100", ToStation: "ITPL", ToStationID: "900"},
	"9":  {RouteID: "9", RouteNumber: "500D UP", FromStation: "Hebbal", FromStationID: "300", ToStation: "Silk Board", ToStationID: "400"},
}

func TestOverrideWinsOverReportedPlatform(t *testing.T) {
	r := New(testRoutes, nil, OverrideTable{"55": "12A"}, zap.NewNop())
	r.Merge([]timetable.RouteEntry{{RouteID: "55", RouteNumber: "335E", PlatformName: "5", PlatformNumber: "5"}}, t0)

	got := r.Dataset()
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if got[0].PlatformName != "12A" || got[0].PlatformNumber != "12A" {
		t.Errorf("override not applied: %+v", got[0])
	}
	if got[0].ExtendedRouteNumber != "335E UP" || got[0].ToStation != "ITPL" {
		t.Errorf("route list fields missing: %+v", got[0])
	}
}

func TestMergePrecedence(t *testing.T) {
	noPlatform := dataset.RouteRecord{RouteID: "9", RouteNumber: "500D", ObservedAt: t1}
	withPlatform := dataset.RouteRecord{RouteID: "9", RouteNumber: "500D", PlatformNumber: "4", ObservedAt: t0}
	newerPlatform := dataset.RouteRecord{RouteID: "9", RouteNumber: "500D", PlatformNumber: "6", ObservedAt: t1}

	tests := []struct {
		name     string
		existing dataset.Dataset
		incoming []dataset.RouteRecord
		want     dataset.RouteRecord
	}{
		{"insert", dataset.Dataset{}, []dataset.RouteRecord{noPlatform}, noPlatform},
		{"platform beats newer empty", dataset.Dataset{"9": withPlatform}, []dataset.RouteRecord{noPlatform}, withPlatform},
		{"platform replaces empty", dataset.Dataset{"9": noPlatform}, []dataset.RouteRecord{withPlatform}, withPlatform},
		{"newer platform wins", dataset.Dataset{"9": withPlatform}, []dataset.RouteRecord{newerPlatform}, newerPlatform},
		{"older platform loses", dataset.Dataset{"9": newerPlatform}, []dataset.RouteRecord{withPlatform}, newerPlatform},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Merge(tc.existing, tc.incoming, nil)
			if diff := cmp.Diff(tc.want, got["9"]); diff != "" {
				t.Errorf("merge mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMergeDoesNotMutateExisting(t *testing.T) {
	existing := dataset.Dataset{"9": {RouteID: "9", ObservedAt: t0}}
	Merge(existing, []dataset.RouteRecord{{RouteID: "9", PlatformName: "1", ObservedAt: t1}}, nil)
	if existing["9"].PlatformName != "" {
		t.Error("Merge modified its input")
	}
}

func TestMergeIsOrderIndependent(t *testing.T) {
	records := []dataset.RouteRecord{
		{RouteID: "1", PlatformName: "A", ObservedAt: t0},
		{RouteID: "1", PlatformName: "B", ObservedAt: t0},
		{RouteID: "1", ObservedAt: t1},
		{RouteID: "2", PlatformNumber: "3", ObservedAt: t0},
		{RouteID: "2", PlatformNumber: "7", ObservedAt: t1},
		{RouteID: "3", RouteName: "x", ObservedAt: t0},
		{RouteID: "3", RouteName: "y", ObservedAt: t0},
		{RouteID: "4", PlatformName: "5", ObservedAt: t0},
	}
	overrides := OverrideTable{"4": "12A"}

	want := Merge(dataset.Dataset{}, records, overrides)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		shuffled := append([]dataset.RouteRecord(nil), records...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		// Split into two batches to also exercise merging onto a partial result
		cut := rng.Intn(len(shuffled))
		got := Merge(Merge(dataset.Dataset{}, shuffled[:cut], overrides), shuffled[cut:], overrides)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("permutation %d changed result (-want +got):\n%s", i, diff)
		}
	}
}

func TestResolverSkipsUnknownRoute(t *testing.T) {
	r := New(testRoutes, nil, nil, zap.NewNop())
	stats := r.Merge([]timetable.RouteEntry{
		{RouteID: "55", PlatformName: "3"},
		{RouteID: "777", PlatformName: "1"},
	}, t0)

	if stats.Inserted != 1 || stats.Skipped != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if r.isResolved("777") {
		t.Error("unknown route must not be resolved")
	}
}

func TestResolverSkipsUnknownStop(t *testing.T) {
	r := New(nil, map[graph.StopID]string{"100": "Majestic"}, nil, zap.NewNop())
	stats := r.Merge([]timetable.RouteEntry{
		{RouteID: "55", FromStationID: "100"},
		{RouteID: "9", FromStationID: "999"},
	}, t0)
	if stats.Inserted != 1 || stats.Skipped != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestResolverResolvedSet(t *testing.T) {
	r := New(testRoutes, nil, nil, zap.NewNop())
	r.Merge([]timetable.RouteEntry{{RouteID: "9"}}, t0)
	if r.isResolved("9") {
		t.Error("entry without platform must not resolve the route")
	}

	stats := r.Merge([]timetable.RouteEntry{{RouteID: "9", PlatformNumber: "4"}}, t1)
	if stats.Replaced != 1 {
		t.Errorf("expected replacement, got %+v", stats)
	}
	if !r.isResolved("9") || r.ResolvedCount() != 1 {
		t.Error("route should be resolved once platform data arrives")
	}
}

func TestResolverSeed(t *testing.T) {
	r := New(testRoutes, nil, OverrideTable{"55": "12A"}, zap.NewNop())
	r.Seed([]dataset.RouteRecord{
		{RouteID: "9", PlatformNumber: "4", ObservedAt: t0},
		{RouteID: "55", PlatformName: "2", ObservedAt: t0},
	})

	if !r.isResolved("9") {
		t.Error("seeded record with platform should be resolved")
	}
	// An older, empty observation must not clobber seeded data
	r.Merge([]timetable.RouteEntry{{RouteID: "9"}}, t1)

	got := r.Dataset()
	want := []dataset.RouteRecord{
		{RouteID: "55", PlatformName: "12A", PlatformNumber: "12A", ObservedAt: t0},
		{RouteID: "9", PlatformNumber: "4", ObservedAt: t0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("dataset mismatch (-want +got):\n%s", diff)
	}
}

func TestResolverConcurrentMerge(t *testing.T) {
	r := New(nil, nil, nil, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Merge([]timetable.RouteEntry{
				{RouteID: "shared", PlatformNumber: "1"},
				{RouteID: timetable.FlexString(rune('a' + i%26))},
			}, t0)
		}(i)
	}
	wg.Wait()

	if got := len(r.Dataset()); got != 27 {
		t.Errorf("expected 27 routes, got %d", got)
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		table, err := LoadOverrides(filepath.Join(dir, "none.json"), []string{"100"})
		if err != nil {
			t.Fatal(err)
		}
		if len(table) != 0 {
			t.Errorf("expected empty table, got %v", table)
		}
	})

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(dir, "overrides.json")
		content := `{"100": {"55": "12A", "9": 4}, "200": {"55": "1"}, "300": {"77": "B"}}`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		table, err := LoadOverrides(path, []string{"100", "200"})
		if err != nil {
			t.Fatal(err)
		}
		want := OverrideTable{"55": "1", "9": "4"}
		if diff := cmp.Diff(want, table); diff != "" {
			t.Errorf("overrides mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(dir, "overrides.yaml")
		if err := os.WriteFile(path, []byte("\"100\":\n  \"55\": 12A\n"), 0644); err != nil {
			t.Fatal(err)
		}
		table, err := LoadOverrides(path, []string{"100"})
		if err != nil {
			t.Fatal(err)
		}
		if table["55"] != "12A" {
			t.Errorf("expected 12A, got %v", table)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		if err := os.WriteFile(path, []byte(`["not", "a", "map"]`), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadOverrides(path, nil); err == nil {
			t.Error("expected parse error")
		}
	})
}
