package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trendlab/internal/config"
	"trendlab/internal/gather/us"
	"trendlab/internal/store"
	"trendlab/internal/util"
)

func main() {
	useCalendar := flag.Bool("calendar", true, "end at the latest finished trading session from the Alpaca calendar")
	flag.Parse()

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

	var endDate func(context.Context) (time.Time, error)
	if *useCalendar {
		cal := us.NewCalendarSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
		endDate = func(context.Context) (time.Time, error) {
			return us.LatestFinishedTradingDay(cal, time.Now())
		}
	}

	job := cfg.Gather.USDaily
	gatherer := us.NewDailyBarGatherer(
		us.NewMarketDataClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL),
		store.NewParquetStore(cfg.Storage.DataDir),
		job.Symbols,
		job.StartDate,
		job.BatchSize,
		job.MaxWorkers,
		job.RateLimitPerMin,
		endDate,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting gatherer", "name", gatherer.Name(), "symbols", len(job.Symbols))
	if err := gatherer.Run(ctx); err != nil {
		log.Fatalf("gatherer error: %v", err)
	}
}
