package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/bmtc-platforms/enricher/internal/config"
	"github.com/bmtc-platforms/enricher/internal/crawler"
	"github.com/bmtc-platforms/enricher/internal/dataset"
	"github.com/bmtc-platforms/enricher/internal/db"
	"github.com/bmtc-platforms/enricher/internal/graph"
	"github.com/bmtc-platforms/enricher/internal/resolver"
	"github.com/bmtc-platforms/enricher/internal/sink"
	"github.com/bmtc-platforms/enricher/internal/static"
	"github.com/bmtc-platforms/enricher/internal/static/gtfs"
	"github.com/bmtc-platforms/enricher/internal/timetable"
)

type crawlOptions struct {
	Name    string
	Seeds   []string
	Depth   int
	Refresh bool
	MaxAge  time.Duration
}

func crawlCommand() *cli.Command {
	return &cli.Command{
		Name:      "crawl",
		Usage:     "query the timetable API outward from seed stops and save platform assignments",
		ArgsUsage: "STOP...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "name",
				Usage:    "dataset name; output goes to OUTPUT_DIR/platforms-<name>.json",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "depth",
				Usage: "maximum crawl depth (defaults to NEST_LEVEL)",
			},
			&cli.BoolFlag{
				Name:  "refresh",
				Usage: "ignore the previous dataset and start from scratch",
			},
			&cli.DurationFlag{
				Name:  "max-age",
				Usage: "skip the crawl if the dataset is younger than this",
			},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() == 0 {
				return fmt.Errorf("at least one seed stop id is required")
			}

			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			opts := crawlOptions{
				Name:    c.String("name"),
				Seeds:   c.Args().Slice(),
				Depth:   c.Int("depth"),
				Refresh: c.Bool("refresh") || cfg.FullRefresh,
				MaxAge:  c.Duration("max-age"),
			}
			client := timetable.NewClient(cfg.TimetableAPIURL, cfg.QueryTimeout, cfg.RequestsPerSecond)
			return runCrawl(c.Context, cfg, client, opts, logger, c.App.Writer)
		},
	}
}

// routeSource is the part of the timetable client the crawl command needs besides queries
type routeSource interface {
	crawler.Service
	RouteList(ctx context.Context) (map[string]timetable.RouteInfo, error)
}

func runCrawl(ctx context.Context, cfg *config.Config, client routeSource, opts crawlOptions, logger *zap.Logger, out io.Writer) error {
	outPath := sink.Path(cfg.OutputDir, opts.Name)
	if opts.MaxAge > 0 && !sink.IsStale(outPath, opts.MaxAge, time.Now()) {
		color.New(color.FgYellow).Fprintf(out, "%s is younger than %s, skipping crawl\n", outPath, opts.MaxAge)
		return nil
	}

	depth := cfg.NestLevel
	if opts.Depth > 0 {
		depth = opts.Depth
	}

	seeds := make([]graph.StopID, len(opts.Seeds))
	for i, s := range opts.Seeds {
		seeds[i] = graph.StopID(s)
	}

	if _, err := static.RefreshIfStale(ctx, static.FeedSource{
		URL:    cfg.GTFSURL,
		Path:   cfg.GTFSPath,
		MaxAge: cfg.GTFSMaxAge,
	}, nil, logger.Named("gtfs")); err != nil {
		logger.Warn("gtfs refresh failed, using local feed", zap.Error(err))
	}

	feed, err := gtfs.Open(cfg.GTFSPath)
	if err != nil {
		return err
	}
	data, err := gtfs.Parse(feed, logger.Named("gtfs"))
	feed.Close()
	if err != nil {
		return err
	}

	g := graph.Build(data.TripSequences(), seeds)
	stopNames := data.StopNames()
	for _, seed := range seeds {
		if _, ok := stopNames[seed]; !ok {
			logger.Warn("seed stop not in stop table", zap.String("stop_id", string(seed)))
		}
	}
	logger.Info("stop graph built", zap.Int("stops", g.Len()), zap.Int("edges", g.Edges()))

	overrides, err := resolver.LoadOverrides(cfg.OverridesPath, opts.Seeds)
	if err != nil {
		return err
	}

	routeCtx, cancel := context.WithTimeout(ctx, cfg.QueryTimeout)
	routes, err := client.RouteList(routeCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to fetch route list: %w", err)
	}
	logger.Info("route list loaded", zap.Int("routes", len(routes)))

	database, err := db.Open(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()
	cache := db.NewResponseCache(database, cfg.CacheTTL, logger)

	if len(stopNames) == 0 {
		stopNames = nil
	}
	res := resolver.New(routes, stopNames, overrides, logger)
	if !opts.Refresh {
		seedPrevious(res, outPath, logger)
	}

	c := crawler.New(g, client, cache, res, crawler.Options{
		MaxDepth:        depth,
		Workers:         cfg.CrawlWorkers,
		SeedConcurrency: cfg.SeedConcurrency,
		QueryTimeout:    cfg.QueryTimeout,
		Window:          timetable.DayWindow(time.Now(), cfg.Location(), cfg.QueryDayOffset),
	}, logger)

	report, runErr := c.Run(ctx, seeds)
	if report == nil {
		return runErr
	}

	// An interrupted crawl still persists what was merged before it stopped
	saveCtx := ctx
	if runErr != nil {
		logger.Warn("crawl interrupted, saving partial dataset", zap.Error(runErr))
		saveCtx = context.WithoutCancel(ctx)
	}
	records := res.Dataset()
	if err := persist(saveCtx, cfg, database, outPath, opts, report, records, logger); err != nil {
		return errors.Join(runErr, err)
	}

	printSummary(out, outPath, report, len(records), res.ResolvedCount())
	if runErr != nil {
		color.New(color.FgYellow).Fprintf(out, "Crawl interrupted, dataset is partial\n")
	}
	return runErr
}

// persist writes the dataset file, the SQLite run and, when configured, the Postgres run
func persist(ctx context.Context, cfg *config.Config, database *db.DB, outPath string, opts crawlOptions, report *crawler.Report, records []dataset.RouteRecord, logger *zap.Logger) error {
	if err := sink.Save(outPath, sink.File{
		GeneratedAt: report.FinishedAt,
		RunID:       report.RunID,
		FailedStops: report.FailedSeeds,
		Failed:      report.Failed,
		Received:    records,
	}); err != nil {
		return err
	}

	run := dataset.Run{
		RunID:       report.RunID,
		Name:        opts.Name,
		Seeds:       opts.Seeds,
		StartedAt:   report.StartedAt,
		FinishedAt:  report.FinishedAt,
		Received:    len(records),
		Failed:      len(report.Failed),
		FailedSeeds: report.FailedSeeds,
	}
	if err := database.SaveRun(ctx, run, records, report.Failed); err != nil {
		return err
	}

	if cfg.PostgresURL == "" {
		return nil
	}
	pg, err := sink.NewPostgres(ctx, cfg.PostgresURL, logger)
	if err != nil {
		return err
	}
	defer pg.Close()
	return pg.SaveRun(ctx, run, records, report.Failed)
}

// seedPrevious loads the last dataset for this name into the resolver
func seedPrevious(res *resolver.Resolver, path string, logger *zap.Logger) {
	prev, err := sink.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		logger.Warn("ignoring unreadable previous dataset", zap.String("path", path), zap.Error(err))
		return
	}
	res.Seed(prev.Received)
	logger.Info("previous dataset loaded", zap.String("path", path), zap.Int("records", len(prev.Received)))
}

func printSummary(out io.Writer, path string, report *crawler.Report, received, resolved int) {
	ok := color.New(color.FgGreen)
	warn := color.New(color.FgRed)
	dim := color.New(color.FgCyan)

	fmt.Fprintf(out, "Run %s finished in %s\n", dim.Sprint(report.RunID), report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(out, "Queries %s  cache hits %s  remote calls %s  failures %s\n",
		dim.Sprint(report.Stats.Queries),
		dim.Sprint(report.Stats.CacheHits),
		dim.Sprint(report.Stats.RemoteCalls),
		dim.Sprint(report.Stats.Failures),
	)
	if report.Stats.Latency.Count > 0 {
		fmt.Fprintf(out, "Latency mean %s  stddev %s  max %s\n",
			report.Stats.Latency.Mean.Round(time.Millisecond),
			report.Stats.Latency.StdDev.Round(time.Millisecond),
			report.Stats.Latency.Max.Round(time.Millisecond),
		)
	}
	ok.Fprintf(out, "Succeeded in receiving %d route(s), %d with platforms\n", received, resolved)
	if len(report.FailedSeeds) > 0 {
		warn.Fprintf(out, "Failed in processing %d stop(s): %v\n", len(report.FailedSeeds), report.FailedSeeds)
	}
	fmt.Fprintf(out, "Wrote %s\n", path)
}
