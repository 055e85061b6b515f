package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"trendlab/internal/batch"
	"trendlab/internal/compare"
	"trendlab/internal/config"
	"trendlab/internal/domain"
	"trendlab/internal/report"
	"trendlab/internal/series"
	"trendlab/internal/store"
	"trendlab/internal/strategy"
	"trendlab/internal/strategy/builtins"
	"trendlab/internal/util"
)

func main() {
	strategiesFlag := flag.String("strategies", "all", "comma-separated strategy names, or \"all\"")
	stocksFlag := flag.String("stocks", "", "comma-separated instruments (default: configured gather symbols)")
	allFlag := flag.Bool("all", false, "backtest every instrument in the bar cache")
	compareFlag := flag.Bool("compare", true, "compare with the latest stored run and log the tag decision")
	logFileFlag := flag.String("log-file", "", "also write logs to this file")
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

	var w io.Writer = os.Stdout
	if *logFileFlag != "" {
		f, err := os.Create(*logFileFlag)
		if err != nil {
			log.Fatalf("failed to create log file: %v", err)
		}
		defer f.Close()
		w = io.MultiWriter(os.Stdout, f)
	}
	util.SetDefault(util.NewLoggerTo(w, cfg.Logging.Level, cfg.Logging.Format))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	market := domain.Market(cfg.Backtest.Market)
	bars := store.NewParquetStore(cfg.Storage.DataDir)

	instruments, err := selectInstruments(ctx, bars, cfg, market, *stocksFlag, *allFlag)
	if err != nil {
		log.Fatalf("selecting instruments: %v", err)
	}
	names, err := selectStrategies(cfg, *strategiesFlag)
	if err != nil {
		log.Fatalf("selecting strategies: %v", err)
	}

	end := time.Now().UTC()
	if cfg.Backtest.EndDate != "" {
		if end, err = time.Parse("2006-01-02", cfg.Backtest.EndDate); err != nil {
			log.Fatalf("parsing backtest end_date %q: %v", cfg.Backtest.EndDate, err)
		}
	}
	horizon := series.HorizonRange(cfg.Backtest.HorizonYears, end)

	var results *store.SQLiteStore
	if *compareFlag {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
			log.Fatalf("creating result store dir: %v", err)
		}
		if results, err = store.NewSQLiteStore(cfg.Storage.SQLitePath); err != nil {
			log.Fatalf("opening result store: %v", err)
		}
		defer results.Close()
	}

	provider := series.NewCache(series.NewStoreProvider(bars, market))
	backtester := strategy.NewRunner(builtins.NewRegistry(), slog.Default())
	runner := batch.NewRunner(provider, backtester, cfg.Backtest.MaxWorkers, cfg.Backtest.Period == "weekly", slog.Default())

	slog.Info("starting trendlab",
		"market", market,
		"period", cfg.Backtest.Period,
		"range", horizon.String(),
		"strategies", names,
		"instruments", len(instruments),
	)

	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		p := strategy.ParamsFromConfig(name, cfg.Strategies[name])
		if err := runStrategy(ctx, runner, results, cfg, p, instruments, horizon); err != nil {
			log.Fatalf("strategy %s: %v", name, err)
		}
	}
}

// runStrategy backtests one strategy over every instrument, writes the
// report and, when a result store is open, compares against the previous
// run before saving this one.
func runStrategy(ctx context.Context, runner *batch.Runner, results *store.SQLiteStore, cfg *config.Config, p strategy.Params, instruments []string, r series.Range) error {
	outcomes, err := runner.Run(ctx, p, instruments, r)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	table := report.Build(p.Name, outcomes)
	if results == nil {
		return saveReport(table, cfg.Storage.ReportDir, now)
	}

	prev, err := results.LatestRun(ctx, p.Name)
	if err != nil {
		return fmt.Errorf("loading previous run: %w", err)
	}
	if prev != nil {
		c := compare.Compare(batch.Results(outcomes), prev.Results, decimal.NewFromFloat(*cfg.Backtest.Epsilon))
		tag := c.ShouldTag(cfg.Backtest.TagThreshold)
		if tag {
			table.Tag = compare.TagName(p.Name, now)
		}
		slog.Info("comparison",
			"strategy", p.Name,
			"previous", prev.ID,
			"improved", c.Improved,
			"declined", c.Declined,
			"unchanged", c.Unchanged,
			"fraction", fmt.Sprintf("%.2f", c.Fraction),
			"threshold", cfg.Backtest.TagThreshold,
			"tag", tag,
			"tagName", table.Tag,
		)
		path, err := report.SaveComparison(cfg.Storage.ReportDir, p.Name, now, c)
		if err != nil {
			return fmt.Errorf("saving comparison report: %w", err)
		}
		slog.Info("comparison written", "strategy", p.Name, "path", path)
	} else {
		slog.Info("no previous run to compare", "strategy", p.Name)
	}

	if err := saveReport(table, cfg.Storage.ReportDir, now); err != nil {
		return err
	}
	rec := batch.Record(p.Name, outcomes)
	if err := results.SaveRun(ctx, rec); err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	slog.Info("run saved", "strategy", p.Name, "id", rec.ID)
	return nil
}

func saveReport(t report.Table, dir string, now time.Time) error {
	path, err := t.Save(dir, now)
	if err != nil {
		return fmt.Errorf("saving report: %w", err)
	}
	slog.Info("report written", "strategy", t.Strategy, "path", path, "summary", t.Summarize().String())
	return nil
}

// selectInstruments resolves the instrument list: explicit --stocks, every
// cached symbol with --all, or the configured gather symbols of the market.
func selectInstruments(ctx context.Context, bars store.BarStore, cfg *config.Config, market domain.Market, stocks string, all bool) ([]string, error) {
	switch {
	case stocks != "":
		return splitList(stocks), nil
	case all:
		return bars.ListSymbols(ctx, market)
	case market == domain.MarketUS:
		return cfg.Gather.USDaily.Symbols, nil
	default:
		return cfg.Gather.CNDaily.Symbols, nil
	}
}

func selectStrategies(cfg *config.Config, arg string) ([]string, error) {
	if arg == "" || arg == "all" {
		names := make([]string, 0, len(cfg.Strategies))
		for name := range cfg.Strategies {
			names = append(names, name)
		}
		sort.Strings(names)
		if len(names) == 0 {
			return nil, fmt.Errorf("no strategies configured")
		}
		return names, nil
	}
	names := splitList(arg)
	for _, n := range names {
		if _, ok := cfg.Strategies[n]; !ok {
			return nil, fmt.Errorf("unknown strategy %q", n)
		}
	}
	return names, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
