// Package compare measures how a strategy's new result set fares against
// the previous one and decides whether the revision deserves a tag.
package compare

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"trendlab/internal/domain"
)

// DefaultThreshold is the improved fraction at which a run is tagged.
const DefaultThreshold = 0.60

// DefaultEpsilon is the return change, as a fraction, below which a result
// counts as unchanged.
var DefaultEpsilon = decimal.RequireFromString("0.00001")

// Change classifies one instrument.
type Change string

const (
	Improved  Change = "improved"
	Declined  Change = "declined"
	Unchanged Change = "unchanged"
)

// Row is the comparison of one instrument present in both result sets.
type Row struct {
	Instrument string
	Previous   decimal.Decimal
	Current    decimal.Decimal
	Delta      decimal.Decimal
	Change     Change
}

// Comparison summarises a current result set against a previous one.
type Comparison struct {
	Improved  int
	Declined  int
	Unchanged int
	Total     int
	Fraction  float64 // Improved / Total, 0 when Total is 0
	Rows      []Row   // sorted by instrument
}

// Compare matches results by instrument and compares total returns.
// Instruments missing from either side are ignored.
func Compare(current, previous []domain.BacktestResult, epsilon decimal.Decimal) Comparison {
	prev := make(map[string]decimal.Decimal, len(previous))
	for _, r := range previous {
		prev[r.Instrument] = r.TotalReturn
	}

	var c Comparison
	negEps := epsilon.Neg()
	for _, r := range current {
		p, ok := prev[r.Instrument]
		if !ok {
			continue
		}
		row := Row{
			Instrument: r.Instrument,
			Previous:   p,
			Current:    r.TotalReturn,
			Delta:      r.TotalReturn.Sub(p),
		}
		switch {
		case row.Delta.GreaterThan(epsilon):
			row.Change = Improved
			c.Improved++
		case row.Delta.LessThan(negEps):
			row.Change = Declined
			c.Declined++
		default:
			row.Change = Unchanged
			c.Unchanged++
		}
		c.Rows = append(c.Rows, row)
	}
	sort.Slice(c.Rows, func(i, j int) bool { return c.Rows[i].Instrument < c.Rows[j].Instrument })

	c.Total = len(c.Rows)
	if c.Total > 0 {
		c.Fraction = float64(c.Improved) / float64(c.Total)
	}
	return c
}

// ShouldTag reports whether at least threshold of the compared instruments
// improved.
func (c Comparison) ShouldTag(threshold float64) bool {
	return c.Total > 0 && c.Fraction >= threshold
}

// TagName returns the version marker for a strategy revision.
func TagName(strategy string, t time.Time) string {
	return strategy + "_" + t.Format("20060102_150405")
}
