package builtins

import (
	"fmt"

	"github.com/shopspring/decimal"

	"trendlab/internal/domain"
	"trendlab/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*Outbreak)(nil)

type position int

const (
	flat position = iota
	held
)

// Outbreak goes all in once the moving average has risen for RisingPeriods
// consecutive periods with price above it, and all out on the first falling
// reading.
type Outbreak struct {
	p     strategy.Params
	state position
}

// NewOutbreak validates p and returns a fresh engine in the flat state.
func NewOutbreak(p strategy.Params) (*Outbreak, error) {
	if p.RisingPeriods < 1 {
		return nil, fmt.Errorf("%s: rising_periods %d < 1: %w", p.Name, p.RisingPeriods, domain.ErrInvalidStrategyConfig)
	}
	return &Outbreak{p: p}, nil
}

// Name returns the configured strategy name.
func (o *Outbreak) Name() string { return o.p.Name }

// EvaluateBuy implements strategy.BuyEngine.
func (o *Outbreak) EvaluateBuy(p strategy.Period) []strategy.Decision {
	if o.state != flat || len(p.Trend) < o.p.RisingPeriods {
		return nil
	}
	for _, tp := range p.Trend[len(p.Trend)-o.p.RisingPeriods:] {
		if tp.Direction != domain.DirectionRising {
			return nil
		}
	}
	cur := p.Current()
	if !p.Price.GreaterThan(cur.MA.Decimal) {
		return nil
	}
	return []strategy.Decision{{
		Side:     domain.SideBuy,
		Fraction: decimal.NewFromInt(1),
		Level:    -1,
		Reason:   fmt.Sprintf("rising %d periods, price above MA", o.p.RisingPeriods),
	}}
}

// EvaluateSell implements strategy.SellEngine.
func (o *Outbreak) EvaluateSell(p strategy.Period) []strategy.Decision {
	if o.state != held {
		return nil
	}
	cur := p.Current()
	reason := ""
	switch {
	case cur.Direction == domain.DirectionFalling:
		reason = "MA falling"
	case o.p.ExitBelowMA && cur.MA.Valid && p.Price.LessThan(cur.MA.Decimal):
		reason = "price below MA"
	default:
		return nil
	}
	return []strategy.Decision{{
		Side:     domain.SideSell,
		Fraction: decimal.NewFromInt(1),
		Level:    -1,
		Reason:   reason,
	}}
}

// OnFill moves the state machine.
func (o *Outbreak) OnFill(t domain.Trade) {
	switch t.Side {
	case domain.SideBuy:
		o.state = held
	case domain.SideSell:
		if t.State.Shares.IsZero() {
			o.state = flat
		}
	}
}
