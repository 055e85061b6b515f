// Package batch runs one strategy over many instruments concurrently,
// isolating per-instrument failures.
package batch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"trendlab/internal/domain"
	"trendlab/internal/series"
	"trendlab/internal/store"
	"trendlab/internal/strategy"
)

// Outcome is the per-instrument entry of a batch. Exactly one of Result and
// Err is set.
type Outcome struct {
	Instrument string
	Result     *domain.BacktestResult
	Err        error
}

// OK reports whether the instrument produced a result.
func (o Outcome) OK() bool { return o.Err == nil && o.Result != nil }

// Runner fans instruments out to a bounded number of workers.
type Runner struct {
	provider   series.Provider
	backtester *strategy.Runner
	maxWorkers int
	weekly     bool
	log        *slog.Logger
}

// NewRunner creates a batch Runner. When weekly is set, daily series are
// resampled to ISO weeks before simulation.
func NewRunner(provider series.Provider, backtester *strategy.Runner, maxWorkers int, weekly bool, log *slog.Logger) *Runner {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		provider:   provider,
		backtester: backtester,
		maxWorkers: maxWorkers,
		weekly:     weekly,
		log:        log.With("component", "batch"),
	}
}

// Run backtests p on every instrument within r. Invalid parameters fail the
// whole call before any instrument is touched; every other failure is
// recorded in that instrument's Outcome. Outcomes keep the input order.
func (b *Runner) Run(ctx context.Context, p strategy.Params, instruments []string, r series.Range) ([]Outcome, error) {
	if _, err := b.backtester.Registry().New(p); err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, len(instruments))
	runStart := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.maxWorkers)

	for i, sym := range instruments {
		i, sym := i, sym // per-iteration copy (Go 1.22 loop semantics under go 1.21)
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcomes[i] = b.runOne(gctx, p, sym, r)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var failed int
	for _, o := range outcomes {
		if !o.OK() {
			failed++
		}
	}
	b.log.Info("batch done",
		"strategy", p.Name,
		"instruments", len(instruments),
		"failed", failed,
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)
	return outcomes, nil
}

func (b *Runner) runOne(ctx context.Context, p strategy.Params, sym string, r series.Range) Outcome {
	out := Outcome{Instrument: sym}

	points, err := b.provider.Series(ctx, sym, r)
	if err != nil {
		out.Err = err
		b.logFailure(p, sym, err)
		return out
	}
	if b.weekly {
		points = series.Weekly(points)
	}

	res, err := b.backtester.Backtest(sym, points, p)
	if err != nil {
		out.Err = err
		b.logFailure(p, sym, err)
		return out
	}
	out.Result = res
	return out
}

func (b *Runner) logFailure(p strategy.Params, sym string, err error) {
	switch {
	case errors.Is(err, domain.ErrDataUnavailable):
		b.log.Warn("instrument skipped", "strategy", p.Name, "instrument", sym, "err", err)
	default:
		b.log.Error("instrument failed", "strategy", p.Name, "instrument", sym, "err", err)
	}
}

// Results returns the successful results in outcome order.
func Results(outcomes []Outcome) []domain.BacktestResult {
	var out []domain.BacktestResult
	for _, o := range outcomes {
		if o.OK() {
			out = append(out, *o.Result)
		}
	}
	return out
}

// Record converts outcomes to a storable run record.
func Record(strategyName string, outcomes []Outcome) *store.RunRecord {
	rec := &store.RunRecord{Strategy: strategyName, Results: Results(outcomes)}
	for _, o := range outcomes {
		if !o.OK() {
			msg := "no result"
			if o.Err != nil {
				msg = o.Err.Error()
			}
			rec.Failures = append(rec.Failures, store.Failure{Instrument: o.Instrument, Error: msg})
		}
	}
	return rec
}
