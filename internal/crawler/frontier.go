package crawler

import (
	"sort"
	"sync"

	"github.com/bmtc-platforms/enricher/internal/graph"
)

// Frontier holds the stops discovered at each level of one seed's crawl.
// Levels are sets and only grow.
type Frontier struct {
	mu     sync.Mutex
	levels []map[graph.StopID]struct{}
}

// NewFrontier creates levels 0..maxDepth
func NewFrontier(maxDepth int) *Frontier {
	levels := make([]map[graph.StopID]struct{}, maxDepth+1)
	for i := range levels {
		levels[i] = make(map[graph.StopID]struct{})
	}
	return &Frontier{levels: levels}
}

// Add puts id at level and reports whether it was new there
func (f *Frontier) Add(level int, id graph.StopID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if level < 0 || level >= len(f.levels) {
		return false
	}
	if _, ok := f.levels[level][id]; ok {
		return false
	}
	f.levels[level][id] = struct{}{}
	return true
}

// Level returns the stops at level in ascending order
func (f *Frontier) Level(level int) []graph.StopID {
	f.mu.Lock()
	defer f.mu.Unlock()

	if level < 0 || level >= len(f.levels) {
		return nil
	}
	return sortedStops(f.levels[level])
}

// Snapshot returns every non-empty level
func (f *Frontier) Snapshot() map[int][]graph.StopID {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[int][]graph.StopID)
	for level, stops := range f.levels {
		if len(stops) > 0 {
			out[level] = sortedStops(stops)
		}
	}
	return out
}

func sortedStops(set map[graph.StopID]struct{}) []graph.StopID {
	out := make([]graph.StopID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
