package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/bmtc-platforms/enricher/internal/api"
	"github.com/bmtc-platforms/enricher/internal/db"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the persisted platform dataset over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "listen address (defaults to LISTEN_ADDR)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			database, err := db.Open(c.Context, cfg.DatabasePath, logger)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer database.Close()

			addr := cfg.ListenAddr
			if c.String("addr") != "" {
				addr = c.String("addr")
			}
			router := api.NewRouter(database, cfg.AllowedOrigins, logger.Named("api"))
			return api.Serve(c.Context, addr, router, logger.Named("api"))
		},
	}
}

func evictCacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "evict-cache",
		Usage: "delete cached timetable responses older than CACHE_TTL",
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			database, err := db.Open(c.Context, cfg.DatabasePath, logger)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer database.Close()

			deleted, err := db.NewResponseCache(database, cfg.CacheTTL, logger).EvictExpired(c.Context)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Evicted %d expired cache entries\n", deleted)
			return nil
		},
	}
}
