package metrics

import (
	"math"
	"sync"
	"time"
)

// welford holds running mean and variance using Welford's online algorithm
type welford struct {
	count int
	mean  float64
	m2    float64 // sum of squared differences from the mean
}

func (w *welford) update(v float64) {
	w.count++
	delta := v - w.mean
	w.mean += delta / float64(w.count)
	w.m2 += delta * (v - w.mean)
}

// stddev returns the population standard deviation, 0 with fewer than 2 observations
func (w *welford) stddev() float64 {
	if w.count < 2 {
		return 0
	}
	return math.Sqrt(w.m2 / float64(w.count))
}

// Latency tracks remote call durations. It is safe for concurrent use.
type Latency struct {
	mu       sync.Mutex
	stats    welford
	min, max time.Duration
}

// LatencySummary is a point-in-time view of a Latency
type LatencySummary struct {
	Count  int
	Mean   time.Duration
	StdDev time.Duration
	Min    time.Duration
	Max    time.Duration
}

// Observe records one call duration
func (l *Latency) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stats.count == 0 || d < l.min {
		l.min = d
	}
	if d > l.max {
		l.max = d
	}
	l.stats.update(float64(d))
}

// Summary returns the statistics observed so far
func (l *Latency) Summary() LatencySummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	return LatencySummary{
		Count:  l.stats.count,
		Mean:   time.Duration(math.Round(l.stats.mean)),
		StdDev: time.Duration(math.Round(l.stats.stddev())),
		Min:    l.min,
		Max:    l.max,
	}
}
