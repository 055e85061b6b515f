// Package series turns the raw bar cache into the ordered price series the
// backtester consumes.
package series

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trendlab/internal/domain"
	"trendlab/internal/store"
)

// Range is an inclusive date window.
type Range struct {
	Start time.Time
	End   time.Time
}

func (r Range) String() string {
	return r.Start.Format("2006-01-02") + ".." + r.End.Format("2006-01-02")
}

// HorizonRange returns the window of the given number of years ending on
// end. A year is 365 days.
func HorizonRange(years int, end time.Time) Range {
	end = Day(end)
	return Range{Start: end.AddDate(0, 0, -365*years), End: end}
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Provider supplies ordered price series.
type Provider interface {
	// Series returns the closes of instrument within r, ascending by date.
	// It fails with domain.ErrDataUnavailable when nothing is known about
	// the instrument; an empty slice is a valid series.
	Series(ctx context.Context, instrument string, r Range) ([]domain.PricePoint, error)
}

// Compile-time interface check.
var _ Provider = (*StoreProvider)(nil)

// StoreProvider reads price series from a BarStore.
type StoreProvider struct {
	bars   store.BarStore
	market domain.Market
}

// NewStoreProvider creates a provider over the bars of one market.
func NewStoreProvider(bars store.BarStore, market domain.Market) *StoreProvider {
	return &StoreProvider{bars: bars, market: market}
}

// Series implements Provider.
func (p *StoreProvider) Series(ctx context.Context, instrument string, r Range) ([]domain.PricePoint, error) {
	ok, err := p.bars.HasSymbol(ctx, instrument, p.market)
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", instrument, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", p.market, instrument, domain.ErrDataUnavailable)
	}

	bars, err := p.bars.ReadBars(ctx, instrument, p.market, r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", instrument, err)
	}
	return FromBars(bars), nil
}

// FromBars converts bars to price points dated on their UTC calendar day.
func FromBars(bars []domain.Bar) []domain.PricePoint {
	points := make([]domain.PricePoint, 0, len(bars))
	for _, b := range bars {
		points = append(points, domain.PricePoint{
			Date:  Day(b.Timestamp),
			Close: decimal.NewFromFloat(b.Close),
		})
	}
	return points
}
