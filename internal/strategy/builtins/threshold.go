package builtins

import (
	"fmt"

	"github.com/shopspring/decimal"

	"trendlab/internal/domain"
	"trendlab/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*Threshold)(nil)

var hundred = decimal.NewFromInt(100)

// Threshold ladders partial buys below the moving average and partial sells
// above it. Every level fires at most once per run.
type Threshold struct {
	p            strategy.Params
	buyConsumed  []bool
	sellConsumed []bool
}

// NewThreshold validates p and returns a fresh engine.
func NewThreshold(p strategy.Params) (*Threshold, error) {
	if len(p.BuyLevels) == 0 {
		return nil, fmt.Errorf("%s: no buy levels: %w", p.Name, domain.ErrInvalidStrategyConfig)
	}
	if err := strategy.ValidateLadder(p.Name+" buy", p.BuyLevels, p.BuyRatios, true); err != nil {
		return nil, err
	}
	if err := strategy.ValidateLadder(p.Name+" sell", p.SellThresholds, p.SellRatios, false); err != nil {
		return nil, err
	}
	return &Threshold{
		p:            p,
		buyConsumed:  make([]bool, len(p.BuyLevels)),
		sellConsumed: make([]bool, len(p.SellThresholds)),
	}, nil
}

// Name returns the configured strategy name.
func (t *Threshold) Name() string { return t.p.Name }

// deviation returns (price - MA) / MA in percent.
func deviation(p strategy.Period) (decimal.Decimal, bool) {
	cur := p.Current()
	if !cur.MA.Valid || !cur.MA.Decimal.IsPositive() {
		return decimal.Zero, false
	}
	ma := cur.MA.Decimal
	return p.Price.Sub(ma).Div(ma).Mul(hundred), true
}

// EvaluateBuy emits one decision per unconsumed buy level at or below the
// current deviation, in configured order.
func (t *Threshold) EvaluateBuy(p strategy.Period) []strategy.Decision {
	pct, ok := deviation(p)
	if !ok {
		return nil
	}
	var out []strategy.Decision
	for i, level := range t.p.BuyLevels {
		if t.buyConsumed[i] || pct.GreaterThan(level) {
			continue
		}
		out = append(out, strategy.Decision{
			Side:     domain.SideBuy,
			Fraction: t.p.BuyRatios[i],
			Level:    i,
			Reason:   fmt.Sprintf("%s%% <= %s%%", pct.StringFixed(2), level),
		})
	}
	return out
}

// EvaluateSell emits one decision per unconsumed sell level the current
// deviation has reached. With LiquidateOnFinalLevel the last level sells all.
func (t *Threshold) EvaluateSell(p strategy.Period) []strategy.Decision {
	pct, ok := deviation(p)
	if !ok {
		return nil
	}
	last := len(t.p.SellThresholds) - 1
	var out []strategy.Decision
	for i, level := range t.p.SellThresholds {
		if t.sellConsumed[i] || pct.LessThan(level) {
			continue
		}
		fraction := t.p.SellRatios[i]
		if i == last && t.p.LiquidateOnFinalLevel {
			fraction = decimal.NewFromInt(1)
		}
		out = append(out, strategy.Decision{
			Side:     domain.SideSell,
			Fraction: fraction,
			Level:    i,
			Reason:   fmt.Sprintf("%s%% >= %s%%", pct.StringFixed(2), level),
		})
	}
	return out
}

// OnFill consumes the level that produced tr.
func (t *Threshold) OnFill(tr domain.Trade) {
	switch tr.Side {
	case domain.SideBuy:
		if tr.Level >= 0 && tr.Level < len(t.buyConsumed) {
			t.buyConsumed[tr.Level] = true
		}
	case domain.SideSell:
		if tr.Level >= 0 && tr.Level < len(t.sellConsumed) {
			t.sellConsumed[tr.Level] = true
		}
	}
}
