package us

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"golang.org/x/sync/errgroup"

	"trendlab/internal/domain"
	"trendlab/internal/gather"
	"trendlab/internal/store"
	"trendlab/internal/util"
)

// ---------------------------------------------------------------------------
// Compile-time interface check
// ---------------------------------------------------------------------------

var _ gather.Gatherer = (*DailyBarGatherer)(nil)

// MultiBarSource fetches bars for several symbols in one call. It is
// satisfied by *marketdata.Client.
type MultiBarSource interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// NewMarketDataClient creates an Alpaca market-data client.
func NewMarketDataClient(apiKey, apiSecret, dataURL string) *marketdata.Client {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return marketdata.NewClient(opts)
}

// ---------------------------------------------------------------------------
// DailyBarGatherer — split-adjusted daily bars from the Alpaca API.
// ---------------------------------------------------------------------------

// DailyBarGatherer gathers daily bars for a configured US symbol list in
// batches and writes them through a BarStore. Each batch resumes from the
// earliest newest-bar date among its symbols.
type DailyBarGatherer struct {
	source     MultiBarSource
	store      store.BarStore
	symbols    []string
	batchSize  int
	maxWorkers int
	startDate  string
	limiter    *util.RateLimiter
	endDate    func(ctx context.Context) (time.Time, error)
	retryDelay time.Duration
	log        *slog.Logger
}

// NewDailyBarGatherer creates a DailyBarGatherer. endDate resolves the last
// day to request; nil means yesterday in UTC.
func NewDailyBarGatherer(source MultiBarSource, s store.BarStore, symbols []string, startDate string, batchSize, maxWorkers, rateLimitPerMin int, endDate func(ctx context.Context) (time.Time, error)) *DailyBarGatherer {
	if endDate == nil {
		endDate = func(context.Context) (time.Time, error) {
			return time.Now().UTC().AddDate(0, 0, -1), nil
		}
	}
	return &DailyBarGatherer{
		source:     source,
		store:      s,
		symbols:    symbols,
		batchSize:  max(batchSize, 1),
		maxWorkers: max(maxWorkers, 1),
		startDate:  startDate,
		limiter:    util.NewRateLimiter(rateLimitPerMin),
		endDate:    endDate,
		retryDelay: time.Second,
		log:        slog.Default().With("gatherer", "us-daily"),
	}
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "us-daily" }

// Run fetches daily bars for every configured symbol. A failed batch is
// logged and skipped; only cancellation aborts the run.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	start, err := time.Parse("2006-01-02", g.startDate)
	if err != nil {
		return fmt.Errorf("parsing start date %q: %w", g.startDate, err)
	}
	end, err := g.endDate(ctx)
	if err != nil {
		return fmt.Errorf("determining end date: %w", err)
	}
	end = time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, time.UTC)

	var batches [][]string
	for i := 0; i < len(g.symbols); i += g.batchSize {
		batches = append(batches, g.symbols[i:min(i+g.batchSize, len(g.symbols))])
	}

	g.log.Info("starting us-daily",
		"endDate", end.Format("2006-01-02"),
		"symbols", len(g.symbols),
		"batches", len(batches),
	)

	var (
		totalBars atomic.Int64
		totalMiss atomic.Int64
		runStart  = time.Now()
	)

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(g.maxWorkers)
	for idx, batch := range batches {
		idx, batch := idx, batch // per-iteration copy (Go 1.22 loop semantics under go 1.21)
		if ectx.Err() != nil {
			break
		}
		eg.Go(func() error {
			from := g.resumeFrom(batch, start)
			if from.After(end) {
				return nil
			}
			bars, err := g.fetchMultiBars(ectx, batch, from, end)
			if err != nil {
				if ectx.Err() != nil {
					return ectx.Err()
				}
				g.log.Error("batch fetch failed", "batch", fmt.Sprintf("%d/%d", idx+1, len(batches)), "err", err)
				return nil
			}

			hit := make(map[string]struct{})
			for _, b := range bars {
				hit[b.Symbol] = struct{}{}
			}
			var empty []string
			for _, sym := range batch {
				if _, ok := hit[strings.ToUpper(sym)]; !ok {
					empty = append(empty, sym)
				}
			}

			if len(bars) > 0 {
				if err := g.store.WriteBars(ectx, domain.MarketUS, bars); err != nil {
					g.log.Error("writing bars failed", "err", err)
					return nil
				}
			}
			totalBars.Add(int64(len(bars)))
			totalMiss.Add(int64(len(empty)))

			g.log.Info("batch done",
				"batch", fmt.Sprintf("%d/%d", idx+1, len(batches)),
				"bars", len(bars),
				"empty", empty,
				"elapsed", time.Since(runStart).Round(time.Second),
			)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	g.log.Info("complete",
		"bars", totalBars.Load(),
		"empty", totalMiss.Load(),
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	return nil
}

// resumeFrom returns the earliest day any symbol in batch still needs.
// Symbols without stored bars start at start.
func (g *DailyBarGatherer) resumeFrom(batch []string, start time.Time) time.Time {
	r, ok := g.store.(interface {
		LastBarDate(symbol string, market domain.Market) time.Time
	})
	if !ok {
		return start
	}
	var from time.Time
	for _, sym := range batch {
		next := start
		if last := r.LastBarDate(sym, domain.MarketUS); !last.IsZero() && !last.Before(start) {
			t := last.AddDate(0, 0, 1)
			next = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		}
		if from.IsZero() || next.Before(from) {
			from = next
		}
	}
	return from
}

// fetchMultiBars fetches daily bars for multiple symbols in a single API call.
func (g *DailyBarGatherer) fetchMultiBars(ctx context.Context, symbols []string, start, end time.Time) ([]domain.Bar, error) {
	var multiBars map[string][]marketdata.Bar
	err := util.Retry(ctx, 3, g.retryDelay, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		multiBars, err = g.source.GetMultiBars(symbols, marketdata.GetBarsRequest{
			TimeFrame:  marketdata.OneDay,
			Adjustment: marketdata.All,
			Start:      start,
			End:        end,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	var bars []domain.Bar
	for symbol, alpacaBars := range multiBars {
		for _, ab := range alpacaBars {
			bars = append(bars, domain.Bar{
				Symbol:     strings.ToUpper(symbol),
				Timestamp:  ab.Timestamp,
				Open:       ab.Open,
				High:       ab.High,
				Low:        ab.Low,
				Close:      ab.Close,
				Volume:     int64(ab.Volume),
				TradeCount: int64(ab.TradeCount),
				VWAP:       ab.VWAP,
			})
		}
	}
	return bars, nil
}
