package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bmtc-platforms/enricher/internal/dataset"
	"github.com/bmtc-platforms/enricher/internal/graph"
	"github.com/bmtc-platforms/enricher/internal/metrics"
	"github.com/bmtc-platforms/enricher/internal/resolver"
	"github.com/bmtc-platforms/enricher/internal/timetable"
)

const (
	DefaultMaxDepth     = 2
	DefaultWorkers      = 10
	DefaultQueryTimeout = 15 * time.Second
)

// Service performs remote timetable queries
type Service interface {
	Query(ctx context.Context, q timetable.Query) ([]byte, error)
}

// Cache stores raw responses between runs. Lookup must never fail loudly;
// it returns the time the response was stored along with it.
type Cache interface {
	Lookup(ctx context.Context, q timetable.Query) ([]byte, time.Time, bool)
	Store(ctx context.Context, q timetable.Query, raw []byte) error
}

// Options configures a Crawler
type Options struct {
	MaxDepth        int
	Workers         int
	SeedConcurrency int
	QueryTimeout    time.Duration
	Window          timetable.Window
	Now             func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.SeedConcurrency <= 0 {
		o.SeedConcurrency = 1
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = DefaultQueryTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Crawler runs the leveled, failure-driven expansion from each seed stop
type Crawler struct {
	graph    *graph.NextStopGraph
	service  Service
	cache    Cache
	resolver *resolver.Resolver
	opts     Options
	logger   *zap.Logger
}

// New creates a crawler. cache may be nil to always query the service.
func New(g *graph.NextStopGraph, service Service, cache Cache, res *resolver.Resolver, opts Options, logger *zap.Logger) *Crawler {
	return &Crawler{
		graph:    g,
		service:  service,
		cache:    cache,
		resolver: res,
		opts:     opts.withDefaults(),
		logger:   logger.Named("crawler"),
	}
}

// SeedReport describes the crawl of a single seed
type SeedReport struct {
	Seed        graph.StopID
	Levels      int
	Queries     int
	Frontier    map[int][]graph.StopID
	HardFailure bool
}

// Stats aggregates counters over a run
type Stats struct {
	Queries     int64
	CacheHits   int64
	RemoteCalls int64
	Failures    int64
	Merge       resolver.MergeStats
	Latency     metrics.LatencySummary
}

// Report is the outcome of Run
type Report struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Seeds       []SeedReport
	Failed      []dataset.FailedQuery
	FailedSeeds []string
	Stats       Stats
}

// run holds the state shared by the seeds of one Run call
type run struct {
	pool     *WorkerPool
	failures *FailureLog
	latency  metrics.Latency

	queries     atomic.Int64
	cacheHits   atomic.Int64
	remoteCalls atomic.Int64
	failed      atomic.Int64

	mergeMu sync.Mutex
	merge   resolver.MergeStats
}

// Run crawls every seed and returns a report. Queries fail softly; an error is
// returned only if ctx is cancelled or the worker pool cannot be started.
func (c *Crawler) Run(ctx context.Context, seeds []graph.StopID) (*Report, error) {
	report := &Report{
		RunID:     uuid.New().String(),
		StartedAt: c.opts.Now().UTC(),
		Seeds:     make([]SeedReport, len(seeds)),
	}
	logger := c.logger.With(zap.String("run_id", report.RunID))

	pool, err := NewWorkerPool(ctx, c.opts.Workers, c.opts.Workers*2)
	if err != nil {
		return nil, err
	}
	state := &run{pool: pool, failures: newFailureLog()}

	logger.Info("crawl started",
		zap.Int("seeds", len(seeds)),
		zap.Int("max_depth", c.opts.MaxDepth),
		zap.Int("workers", c.opts.Workers),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.SeedConcurrency)
	for i, seed := range seeds {
		g.Go(func() error {
			sr, err := c.crawlSeed(gctx, state, seed, logger)
			report.Seeds[i] = sr
			return err
		})
	}
	err = g.Wait()
	pool.Close()

	report.FinishedAt = c.opts.Now().UTC()
	report.Failed = state.failures.Queries()
	report.FailedSeeds = state.failures.Seeds()
	report.Stats = Stats{
		Queries:     state.queries.Load(),
		CacheHits:   state.cacheHits.Load(),
		RemoteCalls: state.remoteCalls.Load(),
		Failures:    state.failed.Load(),
		Merge:       state.merge,
		Latency:     state.latency.Summary(),
	}

	if err != nil {
		return report, fmt.Errorf("crawl interrupted: %w", err)
	}

	logger.Info("crawl finished",
		zap.Int64("queries", report.Stats.Queries),
		zap.Int64("cache_hits", report.Stats.CacheHits),
		zap.Int64("failures", report.Stats.Failures),
		zap.Int("failed_seeds", len(report.FailedSeeds)),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

func (c *Crawler) crawlSeed(ctx context.Context, state *run, seed graph.StopID, logger *zap.Logger) (SeedReport, error) {
	frontier := NewFrontier(c.opts.MaxDepth)
	frontier.Add(0, seed)
	sr := SeedReport{Seed: seed}
	logger = logger.With(zap.String("seed", string(seed)))

	for level := 0; level < c.opts.MaxDepth; level++ {
		targets := c.targets(seed, frontier.Level(level))
		if len(targets) == 0 {
			break
		}
		sr.Levels = level + 1
		sr.Queries += len(targets)

		// All queries of this level must finish before the next level is built
		var wg sync.WaitGroup
		var failed atomic.Int64
		var submitErr error
		for _, target := range targets {
			q := timetable.Query{Origin: seed, Target: target, Window: c.opts.Window}
			wg.Add(1)
			err := state.pool.Submit(ctx, func(workerCtx context.Context) {
				defer wg.Done()
				if !c.execute(workerCtx, state, q, level, frontier) {
					failed.Add(1)
				}
			})
			if err != nil {
				wg.Done()
				submitErr = err
				break
			}
		}
		wg.Wait()

		if submitErr != nil {
			sr.Frontier = frontier.Snapshot()
			return sr, submitErr
		}

		logger.Info("level complete",
			zap.Int("level", level),
			zap.Int("queries", len(targets)),
			zap.Int64("failed", failed.Load()),
		)
		if failed.Load() == 0 {
			break
		}
	}

	sr.Frontier = frontier.Snapshot()
	sr.HardFailure = state.failures.HasSeed(seed)
	return sr, nil
}

// targets lists the successors of the given frontier stops, each once, in first-seen order.
// The seed itself is never a target.
func (c *Crawler) targets(seed graph.StopID, stops []graph.StopID) []graph.StopID {
	seen := make(map[graph.StopID]struct{})
	var out []graph.StopID
	for _, b := range stops {
		for _, n := range c.graph.Successors(b) {
			if n == seed {
				continue
			}
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	return out
}

// execute runs one query and reports whether it succeeded
func (c *Crawler) execute(ctx context.Context, state *run, q timetable.Query, level int, frontier *Frontier) bool {
	state.queries.Add(1)

	raw, observedAt, hit := c.lookup(ctx, q)
	var result timetable.Result
	if hit {
		state.cacheHits.Add(1)
		result = timetable.Decode(raw)
	} else {
		var err error
		observedAt = c.opts.Now()
		raw, err = c.call(ctx, state, q)
		if err != nil {
			kind := timetable.FailureTransport
			if errors.Is(err, timetable.ErrInvalidStopID) {
				kind = timetable.FailureMalformed
			}
			result = timetable.Fail(kind, err.Error())
		} else {
			c.store(ctx, q, raw)
			result = timetable.Decode(raw)
		}
	}

	c.logger.Debug("query complete",
		zap.String("seed", string(q.Origin)),
		zap.String("target", string(q.Target)),
		zap.Int("level", level),
		zap.Bool("cache_hit", hit),
		zap.Bool("failed", result.Failed()),
	)

	if result.Failed() {
		state.failed.Add(1)
		frontier.Add(level+1, q.Target)
		state.failures.Record(c.failedQuery(q, level, result.Failure, raw))
		if level == c.opts.MaxDepth-1 {
			state.failures.MarkSeed(q.Origin)
		}
		return false
	}

	// A replayed response counts as observed when it was stored
	stats := c.resolver.Merge(result.Entries, observedAt)
	state.mergeMu.Lock()
	state.merge.Add(stats)
	state.mergeMu.Unlock()
	return true
}

func (c *Crawler) call(ctx context.Context, state *run, q timetable.Query) ([]byte, error) {
	qctx, cancel := context.WithTimeout(ctx, c.opts.QueryTimeout)
	defer cancel()

	state.remoteCalls.Add(1)
	start := time.Now()
	raw, err := c.service.Query(qctx, q)
	state.latency.Observe(time.Since(start))
	return raw, err
}

func (c *Crawler) lookup(ctx context.Context, q timetable.Query) ([]byte, time.Time, bool) {
	if c.cache == nil {
		return nil, time.Time{}, false
	}
	return c.cache.Lookup(ctx, q)
}

func (c *Crawler) store(ctx context.Context, q timetable.Query, raw []byte) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Store(ctx, q, raw); err != nil {
		c.logger.Warn("failed to cache response",
			zap.String("seed", string(q.Origin)),
			zap.String("target", string(q.Target)),
			zap.Error(err),
		)
	}
}

func (c *Crawler) failedQuery(q timetable.Query, level int, f *timetable.Failure, raw []byte) dataset.FailedQuery {
	fq := dataset.FailedQuery{
		Seed:       string(q.Origin),
		Target:     string(q.Target),
		Date:       q.Key().Date,
		Level:      level,
		Kind:       string(f.Kind),
		Reason:     f.Reason,
		RecordedAt: c.opts.Now().UTC(),
	}
	if len(raw) > 0 && json.Valid(raw) {
		fq.Response = json.RawMessage(raw)
	}
	return fq
}
