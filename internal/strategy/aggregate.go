package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"trendlab/internal/domain"
)

// Aggregate derives the result of a run. Portfolio value at every period is
// the state after the last trade dated on or before it, marked at that
// period's close. Yearly returns compare the value at the last period of a
// year with the value at the last period of the previous year present in
// the series, or with the initial capital for the first year.
func Aggregate(instrument, strategyName string, initial decimal.Decimal, trades []domain.Trade, final domain.LedgerState, series []domain.PricePoint) (*domain.BacktestResult, error) {
	if !initial.IsPositive() {
		return nil, fmt.Errorf("initial capital %s: %w", initial, domain.ErrDegenerateInput)
	}

	res := &domain.BacktestResult{
		Instrument:     instrument,
		Strategy:       strategyName,
		InitialCapital: initial,
		FinalValue:     initial,
		TotalReturn:    decimal.Zero,
		YearlyReturns:  make(map[int]decimal.Decimal),
		Trades:         len(trades),
	}
	if len(series) == 0 {
		return res, nil
	}

	res.FinalValue = final.Value(series[len(series)-1].Close)
	res.TotalReturn = res.FinalValue.Sub(initial).Div(initial)

	state := domain.LedgerState{Cash: initial}
	next := 0
	prevValue := initial
	for i, pt := range series {
		for next < len(trades) && !trades[next].Date.After(pt.Date) {
			state = trades[next].State
			next++
		}
		year := pt.Date.Year()
		if i+1 < len(series) && series[i+1].Date.Year() == year {
			continue
		}
		value := state.Value(pt.Close)
		if prevValue.IsZero() {
			return nil, fmt.Errorf("%s: zero portfolio value before %d: %w", instrument, year, domain.ErrDegenerateInput)
		}
		res.YearlyReturns[year] = value.Sub(prevValue).Div(prevValue)
		prevValue = value
	}
	return res, nil
}
