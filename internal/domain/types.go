// Package domain defines the core types shared across trendlab: raw bars,
// price and trend series, ledger state, trades and backtest results.
package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	// ErrDataUnavailable means no cached or fetched series exists for an
	// instrument. An empty series is not an error.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrInvalidStrategyConfig means strategy parameters are malformed. It is
	// fatal for the whole strategy run and raised before any simulation.
	ErrInvalidStrategyConfig = errors.New("invalid strategy config")

	// ErrInvalidAllocation means a buy or sell could not be applied to the
	// ledger. The backtest treats it as a no-op for that period.
	ErrInvalidAllocation = errors.New("invalid allocation")

	// ErrDegenerateInput means the input cannot produce a meaningful result,
	// e.g. zero initial capital or an unordered series.
	ErrDegenerateInput = errors.New("degenerate input")
)

// ---------------------------------------------------------------------------
// Markets and raw bars
// ---------------------------------------------------------------------------

// Market identifies the exchange group a symbol trades on.
type Market string

const (
	MarketUS Market = "us"
	MarketCN Market = "cn"
)

// Bar is a raw daily OHLCV bar as gathered from a data provider.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// ---------------------------------------------------------------------------
// Series
// ---------------------------------------------------------------------------

// PricePoint is one period of an instrument's price series.
type PricePoint struct {
	Date  time.Time
	Close decimal.Decimal
}

// Direction classifies the local slope of the moving average.
type Direction int

const (
	DirectionUndefined Direction = iota
	DirectionRising
	DirectionFalling
	DirectionFlat
)

// String returns the lower-case name of the direction.
func (d Direction) String() string {
	switch d {
	case DirectionRising:
		return "rising"
	case DirectionFalling:
		return "falling"
	case DirectionFlat:
		return "flat"
	default:
		return "undefined"
	}
}

// TrendPoint is the moving average and its direction at one period. MA is
// invalid until the window is full.
type TrendPoint struct {
	Date      time.Time
	MA        decimal.NullDecimal
	Direction Direction
}

// ---------------------------------------------------------------------------
// Ledger and trades
// ---------------------------------------------------------------------------

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// LedgerState is a snapshot of a simulated portfolio. CostBasis is invalid
// whenever Shares is zero.
type LedgerState struct {
	Cash      decimal.Decimal
	Shares    decimal.Decimal
	CostBasis decimal.NullDecimal
}

// Value marks the state to market at price.
func (s LedgerState) Value(price decimal.Decimal) decimal.Decimal {
	return s.Cash.Add(s.Shares.Mul(price))
}

// Trade is one applied allocation. State is the ledger immediately after it.
type Trade struct {
	Date   time.Time
	Side   Side
	Price  decimal.Decimal
	Shares decimal.Decimal
	Amount decimal.Decimal // Shares * Price
	Level  int             // threshold level index, -1 if not level driven
	Reason string
	State  LedgerState
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// BacktestResult summarises one (strategy, instrument, run). Returns are
// fractions, not percentages.
type BacktestResult struct {
	Instrument     string
	Strategy       string
	InitialCapital decimal.Decimal
	FinalValue     decimal.Decimal
	TotalReturn    decimal.Decimal
	YearlyReturns  map[int]decimal.Decimal
	Trades         int
}
