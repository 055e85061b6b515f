package strategy

import (
	"errors"
	"fmt"
	"log/slog"

	"trendlab/internal/domain"
	"trendlab/internal/ledger"
	"trendlab/internal/trend"
)

// Run is the raw outcome of replaying one series.
type Run struct {
	Trades []domain.Trade
	Final  domain.LedgerState
	Trend  []domain.TrendPoint
}

// Runner replays price series through strategies built from a Registry.
type Runner struct {
	registry *Registry
	log      *slog.Logger
}

// NewRunner creates a Runner. A nil logger falls back to slog.Default().
func NewRunner(registry *Registry, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{registry: registry, log: log}
}

// Registry returns the registry the runner builds strategies from.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Run performs a single forward pass over series. In every period the buy
// engine is evaluated and its decisions applied before the sell engine sees
// the updated ledger. Rejected allocations are skipped.
func (r *Runner) Run(series []domain.PricePoint, p Params) (*Run, error) {
	s, err := r.registry.New(p)
	if err != nil {
		return nil, err
	}
	if err := ValidateSeries(series); err != nil {
		return nil, err
	}
	if !p.InitialCapital.IsPositive() {
		return nil, fmt.Errorf("initial capital %s: %w", p.InitialCapital, domain.ErrDegenerateInput)
	}

	trendPoints, err := trend.Compute(series, p.MAWindow)
	if err != nil {
		return nil, err
	}

	l := ledger.New(p.InitialCapital, p.LotSize)
	run := &Run{Trend: trendPoints}

	apply := func(period Period, decisions []Decision) error {
		for _, d := range decisions {
			var (
				t   domain.Trade
				err error
			)
			switch d.Side {
			case domain.SideBuy:
				t, err = l.Buy(period.Date, d.Fraction, period.Price)
			case domain.SideSell:
				t, err = l.Sell(period.Date, d.Fraction, period.Price)
			default:
				return fmt.Errorf("%s: decision with unknown side %q", s.Name(), d.Side)
			}
			if errors.Is(err, domain.ErrInvalidAllocation) {
				r.log.Debug("allocation skipped", "strategy", s.Name(), "date", period.Date.Format("2006-01-02"), "side", d.Side, "level", d.Level, "err", err)
				continue
			}
			if err != nil {
				return err
			}
			t.Level = d.Level
			t.Reason = d.Reason
			run.Trades = append(run.Trades, t)
			s.OnFill(t)
		}
		return nil
	}

	for i, pt := range series {
		period := Period{
			Index:  i,
			Date:   pt.Date,
			Price:  pt.Close,
			Trend:  trendPoints[:i+1],
			Ledger: l.State(),
		}
		if err := apply(period, s.EvaluateBuy(period)); err != nil {
			return nil, err
		}
		period.Ledger = l.State()
		if err := apply(period, s.EvaluateSell(period)); err != nil {
			return nil, err
		}
	}

	run.Final = l.State()
	return run, nil
}

// Backtest runs series and aggregates the outcome for instrument.
func (r *Runner) Backtest(instrument string, series []domain.PricePoint, p Params) (*domain.BacktestResult, error) {
	run, err := r.Run(series, p)
	if err != nil {
		return nil, err
	}
	res, err := Aggregate(instrument, p.Name, p.InitialCapital, run.Trades, run.Final, series)
	if err != nil {
		return nil, err
	}
	r.log.Debug("backtest done", "strategy", p.Name, "instrument", instrument, "trades", res.Trades, "return", res.TotalReturn.StringFixed(4))
	return res, nil
}

// ValidateSeries checks that dates strictly ascend and closes are positive.
func ValidateSeries(series []domain.PricePoint) error {
	for i, pt := range series {
		if !pt.Close.IsPositive() {
			return fmt.Errorf("close %s on %s not positive: %w", pt.Close, pt.Date.Format("2006-01-02"), domain.ErrDegenerateInput)
		}
		if i > 0 && !pt.Date.After(series[i-1].Date) {
			return fmt.Errorf("date %s does not follow %s: %w", pt.Date.Format("2006-01-02"), series[i-1].Date.Format("2006-01-02"), domain.ErrDegenerateInput)
		}
	}
	return nil
}
