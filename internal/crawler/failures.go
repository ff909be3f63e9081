package crawler

import (
	"sort"
	"sync"

	"github.com/bmtc-platforms/enricher/internal/dataset"
	"github.com/bmtc-platforms/enricher/internal/graph"
)

// FailureLog collects failed queries and seeds that still failed at the last level
type FailureLog struct {
	mu      sync.Mutex
	queries []dataset.FailedQuery
	seeds   map[graph.StopID]struct{}
}

func newFailureLog() *FailureLog {
	return &FailureLog{seeds: make(map[graph.StopID]struct{})}
}

// Record appends a failed query
func (l *FailureLog) Record(f dataset.FailedQuery) {
	l.mu.Lock()
	l.queries = append(l.queries, f)
	l.mu.Unlock()
}

// MarkSeed flags seed as a hard failure
func (l *FailureLog) MarkSeed(seed graph.StopID) {
	l.mu.Lock()
	l.seeds[seed] = struct{}{}
	l.mu.Unlock()
}

// HasSeed reports whether seed was flagged
func (l *FailureLog) HasSeed(seed graph.StopID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seeds[seed]
	return ok
}

// Queries returns the failed queries ordered by seed, level and target
func (l *FailureLog) Queries() []dataset.FailedQuery {
	l.mu.Lock()
	out := append([]dataset.FailedQuery(nil), l.queries...)
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Seed != b.Seed {
			return a.Seed < b.Seed
		}
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		return a.Target < b.Target
	})
	return out
}

// Seeds returns the hard-failed seeds in ascending order
func (l *FailureLog) Seeds() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, 0, len(l.seeds))
	for id := range l.seeds {
		out = append(out, string(id))
	}
	sort.Strings(out)
	return out
}
