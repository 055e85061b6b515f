package cn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"trendlab/internal/domain"
	"trendlab/internal/gather"
	"trendlab/internal/store"
)

// ---------------------------------------------------------------------------
// Compile-time interface check
// ---------------------------------------------------------------------------

var _ gather.Gatherer = (*DailyBarGatherer)(nil)

// BarSource fetches daily bars for one symbol.
type BarSource interface {
	QueryDailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// resumable is implemented by stores that know their newest bar.
type resumable interface {
	LastBarDate(symbol string, market domain.Market) time.Time
}

// ---------------------------------------------------------------------------
// DailyBarGatherer — orchestrates daily bar collection for China A-shares.
// ---------------------------------------------------------------------------

// DailyBarGatherer fetches daily bars for a fixed symbol list and persists
// them through a BarStore. Symbols already stored resume after their
// newest bar.
type DailyBarGatherer struct {
	source     BarSource
	store      store.BarStore
	symbols    []string
	startDate  string
	maxWorkers int
	now        func() time.Time
	log        *slog.Logger
}

// NewDailyBarGatherer creates a DailyBarGatherer.
func NewDailyBarGatherer(source BarSource, s store.BarStore, symbols []string, startDate string, maxWorkers int) *DailyBarGatherer {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &DailyBarGatherer{
		source:     source,
		store:      s,
		symbols:    symbols,
		startDate:  startDate,
		maxWorkers: maxWorkers,
		now:        time.Now,
		log:        slog.Default().With("gatherer", "cn-daily"),
	}
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "cn-daily" }

// Run gathers every configured symbol once. Per-symbol failures are logged
// and counted; only cancellation aborts the run.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	start, err := time.Parse("2006-01-02", g.startDate)
	if err != nil {
		return fmt.Errorf("parsing start date %q: %w", g.startDate, err)
	}
	now := g.now().UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var (
		written  atomic.Int64
		failed   atomic.Int64
		upToDate atomic.Int64
		runStart = time.Now()
	)

	g.log.Info("starting cn-daily", "symbols", len(g.symbols), "start", g.startDate, "end", end.Format("2006-01-02"))

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(g.maxWorkers)
	for _, sym := range g.symbols {
		sym := sym // per-iteration copy (Go 1.22 loop semantics under go 1.21)
		if ectx.Err() != nil {
			break
		}
		eg.Go(func() error {
			from := start
			if r, ok := g.store.(resumable); ok {
				if last := r.LastBarDate(sym, domain.MarketCN); !last.IsZero() && !last.Before(from) {
					from = last.AddDate(0, 0, 1)
				}
			}
			if from.After(end) {
				upToDate.Add(1)
				return nil
			}

			bars, err := g.source.QueryDailyBars(ectx, sym, from, end)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				failed.Add(1)
				g.log.Error("fetch failed", "symbol", sym, "err", err)
				return nil
			}
			if err := g.store.WriteBars(ectx, domain.MarketCN, bars); err != nil {
				failed.Add(1)
				g.log.Error("writing bars failed", "symbol", sym, "err", err)
				return nil
			}
			written.Add(int64(len(bars)))
			g.log.Debug("symbol done", "symbol", sym, "bars", len(bars), "from", from.Format("2006-01-02"))
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
		"bars", written.Load(),
		"failed", failed.Load(),
		"upToDate", upToDate.Load(),
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	return nil
}
