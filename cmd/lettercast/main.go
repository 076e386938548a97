package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"lettercast/internal/app"
	"lettercast/internal/config"
	"lettercast/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	collectOnly := flag.Bool("collect-only", false, "collect and record new items, skip generation and delivery")
	dryRun := flag.Bool("dry-run", false, "report what would be collected without writing anything")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load(*configPath)
	logger := logging.New(cfg.Logging.Level)

	application, err := app.New(ctx, cfg, app.Options{CollectOnly: *collectOnly, DryRun: *dryRun}, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil {
		logger.Error("application stopped", "error", err)
		os.Exit(1)
	}
}
