// Package store defines storage interfaces for the raw bar cache and the
// backtest result history.
package store

import (
	"context"
	"time"

	"trendlab/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars under the given market, merging with
	// bars already stored for the same symbol and timestamp.
	WriteBars(ctx context.Context, market domain.Market, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end],
	// ordered by timestamp.
	ReadBars(ctx context.Context, symbol string, market domain.Market, start, end time.Time) ([]domain.Bar, error)

	// HasSymbol reports whether any bar data was ever stored for symbol.
	HasSymbol(ctx context.Context, symbol string, market domain.Market) (bool, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market domain.Market) ([]string, error)
}

// ResultStore persists backtest result sets so later runs can be compared
// against them.
type ResultStore interface {
	// SaveRun stores a complete result set. An empty ID is replaced by a new
	// UUID and a zero CreatedAt by the current time; both are written back
	// into rec.
	SaveRun(ctx context.Context, rec *RunRecord) error

	// LatestRun returns the most recent run of strategy, or nil when none
	// exists.
	LatestRun(ctx context.Context, strategy string) (*RunRecord, error)
}

// RunRecord is one stored result set of a strategy run.
type RunRecord struct {
	ID        string
	Strategy  string
	CreatedAt time.Time
	Results   []domain.BacktestResult
	Failures  []Failure
}

// Failure records an instrument whose backtest produced no result.
type Failure struct {
	Instrument string
	Error      string
}
