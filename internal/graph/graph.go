package graph

import "sort"

// StopID identifies a transit stop within a feed
type StopID string

// TripStop is one visit of a trip to a stop
type TripStop struct {
	StopID       StopID
	StopSequence int
}

// TripSequence holds the stops visited by a single scheduled trip
type TripSequence struct {
	TripID string
	Stops  []TripStop
}

// NextStopGraph maps a stop to the stops reachable by one direct hop on any trip.
// It is built once and read-only afterwards, so it is safe for concurrent readers.
type NextStopGraph struct {
	next map[StopID][]StopID
}

// Build derives the next-stop graph from trip sequences.
// Every seed is guaranteed to be a key, possibly with no successors.
func Build(trips []TripSequence, seeds []StopID) *NextStopGraph {
	g := &NextStopGraph{next: make(map[StopID][]StopID)}
	seen := make(map[StopID]map[StopID]struct{})

	for _, seed := range seeds {
		if _, ok := g.next[seed]; !ok {
			g.next[seed] = []StopID{}
		}
	}

	for _, trip := range trips {
		if len(trip.Stops) < 2 {
			continue
		}

		// Copy before sorting so callers keep their input order
		stops := make([]TripStop, len(trip.Stops))
		copy(stops, trip.Stops)
		sort.SliceStable(stops, func(i, j int) bool {
			return stops[i].StopSequence < stops[j].StopSequence
		})

		for i := 0; i < len(stops)-1; i++ {
			curr := stops[i].StopID
			nxt := stops[i+1].StopID
			if curr == nxt {
				continue
			}

			successors, ok := seen[curr]
			if !ok {
				successors = make(map[StopID]struct{})
				seen[curr] = successors
			}
			if _, dup := successors[nxt]; dup {
				continue
			}
			successors[nxt] = struct{}{}
			g.next[curr] = append(g.next[curr], nxt)
		}
	}

	return g
}

// Successors returns the direct successors of a stop in first-seen order.
// A stop absent from the graph has no known successors.
func (g *NextStopGraph) Successors(id StopID) []StopID {
	successors := g.next[id]
	out := make([]StopID, len(successors))
	copy(out, successors)
	return out
}

// Has reports whether the stop is a key of the graph
func (g *NextStopGraph) Has(id StopID) bool {
	_, ok := g.next[id]
	return ok
}

// Len returns the number of stops with an entry in the graph
func (g *NextStopGraph) Len() int {
	return len(g.next)
}

// Edges returns the total number of distinct edges
func (g *NextStopGraph) Edges() int {
	total := 0
	for _, successors := range g.next {
		total += len(successors)
	}
	return total
}
