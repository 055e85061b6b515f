package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"trendlab/internal/config"
	"trendlab/internal/gather/cn"
	"trendlab/internal/store"
	"trendlab/internal/util"
)

func main() {
	cfgPath := "config/trendlab.yaml"
	if p := os.Getenv("TRENDLAB_CONFIG"); p != "" {
		cfgPath = p
	}

	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("failed to load .env: %v", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	job := cfg.Gather.CNDaily
	gatherer := cn.NewDailyBarGatherer(
		cn.NewEastmoneyClient(job.BaseURL, job.RateLimitPerMin),
		store.NewParquetStore(cfg.Storage.DataDir),
		job.Symbols,
		job.StartDate,
		job.MaxWorkers,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting gatherer", "name", gatherer.Name(), "symbols", len(job.Symbols))
	if err := gatherer.Run(ctx); err != nil {
		log.Fatalf("gatherer error: %v", err)
	}
}
