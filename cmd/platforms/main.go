package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/bmtc-platforms/enricher/internal/config"
	"github.com/bmtc-platforms/enricher/internal/logging"
)

func main() {
	config.LoadDotEnv()

	app := &cli.App{
		Name:  "platforms",
		Usage: "enrich transit routes with boarding platforms from the timetable API",
		Commands: []*cli.Command{
			crawlCommand(),
			serveCommand(),
			evictCacheCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger shared by every command
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
