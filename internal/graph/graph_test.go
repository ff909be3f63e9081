package graph

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func trip(id string, stops ...string) TripSequence {
	t := TripSequence{TripID: id}
	for i, s := range stops {
		t.Stops = append(t.Stops, TripStop{StopID: StopID(s), StopSequence: i + 1})
	}
	return t
}

func TestBuildContainsEveryConsecutiveEdge(t *testing.T) {
	trips := []TripSequence{
		trip("t1", "100", "200", "300", "400"),
		trip("t2", "100", "201", "300"),
		trip("t3", "500", "100"),
	}

	g := Build(trips, nil)

	for _, tr := range trips {
		for i := 0; i < len(tr.Stops)-1; i++ {
			from, to := tr.Stops[i].StopID, tr.Stops[i+1].StopID
			found := false
			for _, s := range g.Successors(from) {
				if s == to {
					found = true
				}
			}
			if !found {
				t.Errorf("trip %s: missing edge %s -> %s", tr.TripID, from, to)
			}
		}
	}

	if got := g.Edges(); got != 6 {
		t.Errorf("Edges() = %d, want 6", got)
	}
}

func TestBuildCollapsesDuplicateSuccessors(t *testing.T) {
	g := Build([]TripSequence{
		trip("t1", "100", "200"),
		trip("t2", "100", "200"),
		trip("t3", "100", "201"),
		trip("t4", "100", "200"),
	}, nil)

	want := []StopID{"200", "201"}
	if diff := cmp.Diff(want, g.Successors("100")); diff != "" {
		t.Errorf("Successors(100) mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildSortsBySequence(t *testing.T) {
	unordered := TripSequence{
		TripID: "t1",
		Stops: []TripStop{
			{StopID: "C", StopSequence: 30},
			{StopID: "A", StopSequence: 10},
			{StopID: "B", StopSequence: 20},
		},
	}

	g := Build([]TripSequence{unordered}, nil)

	if diff := cmp.Diff([]StopID{"B"}, g.Successors("A")); diff != "" {
		t.Errorf("Successors(A) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]StopID{"C"}, g.Successors("B")); diff != "" {
		t.Errorf("Successors(B) mismatch (-want +got):\n%s", diff)
	}
	if g.Has("C") {
		t.Error("last stop of a trip should not get an entry")
	}
	// Input must be left untouched
	if unordered.Stops[0].StopID != "C" {
		t.Error("Build reordered the caller's slice")
	}
}

func TestBuildEqualSequencesDoNotPanic(t *testing.T) {
	g := Build([]TripSequence{{
		TripID: "t1",
		Stops: []TripStop{
			{StopID: "A", StopSequence: 1},
			{StopID: "B", StopSequence: 1},
			{StopID: "A", StopSequence: 1},
		},
	}}, nil)

	if g.Len() == 0 {
		t.Error("expected at least one edge from tied sequences")
	}
}

func TestBuildSeedsAlwaysPresent(t *testing.T) {
	g := Build([]TripSequence{trip("t1", "1", "2")}, []StopID{"999", "1"})

	if !g.Has("999") {
		t.Fatal("seed 999 should be a key")
	}
	if got := g.Successors("999"); len(got) != 0 {
		t.Errorf("seed 999 should have no successors, got %v", got)
	}
	if diff := cmp.Diff([]StopID{"2"}, g.Successors("1")); diff != "" {
		t.Errorf("Successors(1) mismatch (-want +got):\n%s", diff)
	}
}

func TestSuccessorsOfUnknownStop(t *testing.T) {
	g := Build(nil, nil)
	if got := g.Successors("nope"); len(got) != 0 {
		t.Errorf("expected no successors, got %v", got)
	}
}

func TestBuildSkipsSelfLoopsAndShortTrips(t *testing.T) {
	g := Build([]TripSequence{
		trip("t1", "A", "A", "B"),
		trip("t2", "Z"),
	}, nil)

	if diff := cmp.Diff([]StopID{"B"}, g.Successors("A")); diff != "" {
		t.Errorf("Successors(A) mismatch (-want +got):\n%s", diff)
	}
	if g.Has("Z") {
		t.Error("single-stop trip should not add a key")
	}
}
