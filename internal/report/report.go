// Package report tabulates batch outcomes into per-instrument rows with one
// column per calendar year.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"trendlab/internal/batch"
	"trendlab/internal/compare"
)

const statusOK = "ok"

// Row is one instrument of a Table. Yearly holds only the years the
// instrument has data for.
type Row struct {
	Instrument  string
	TotalReturn decimal.Decimal
	FinalValue  decimal.Decimal
	Trades      int
	Yearly      map[int]decimal.Decimal
	Status      string
}

// OK reports whether the row carries a result.
func (r Row) OK() bool { return r.Status == statusOK }

// Table is the tabulated outcome of one strategy run.
type Table struct {
	Strategy string
	Years    []int // ascending union of all result years
	Rows     []Row // input order
	Tag      string
}

// Build tabulates outcomes. Failed instruments keep their row with the
// error text as status.
func Build(strategy string, outcomes []batch.Outcome) Table {
	t := Table{Strategy: strategy}
	years := make(map[int]struct{})
	for _, o := range outcomes {
		row := Row{Instrument: o.Instrument}
		if !o.OK() {
			row.Status = "no result"
			if o.Err != nil {
				row.Status = o.Err.Error()
			}
			t.Rows = append(t.Rows, row)
			continue
		}
		row.Status = statusOK
		row.TotalReturn = o.Result.TotalReturn
		row.FinalValue = o.Result.FinalValue
		row.Trades = o.Result.Trades
		row.Yearly = o.Result.YearlyReturns
		for y := range o.Result.YearlyReturns {
			years[y] = struct{}{}
		}
		t.Rows = append(t.Rows, row)
	}
	for y := range years {
		t.Years = append(t.Years, y)
	}
	sort.Ints(t.Years)
	return t
}

// Percent formats a return fraction as a percentage with two decimals.
func Percent(f decimal.Decimal) string {
	return f.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}

// WriteCSV writes the table with a header row. Years an instrument has no
// data for are left blank.
func (t Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	header := []string{"instrument", "total_return"}
	for _, y := range t.Years {
		header = append(header, strconv.Itoa(y))
	}
	header = append(header, "trades", "status", "tag")
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, r := range t.Rows {
		rec := make([]string, 0, len(header))
		rec = append(rec, r.Instrument)
		if r.OK() {
			rec = append(rec, Percent(r.TotalReturn))
		} else {
			rec = append(rec, "")
		}
		for _, y := range t.Years {
			if v, ok := r.Yearly[y]; ok {
				rec = append(rec, Percent(v))
			} else {
				rec = append(rec, "")
			}
		}
		rec = append(rec, strconv.Itoa(r.Trades), r.Status, t.Tag)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// Save writes the table to <dir>/<strategy>_<YYYYMMDD_HHMMSS>.csv and
// returns the path.
func (t Table) Save(dir string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, compare.TagName(t.Strategy, now)+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := t.WriteCSV(f); err != nil {
		f.Close()
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, f.Close()
}

// ---------------------------------------------------------------------------
// Summary
// ---------------------------------------------------------------------------

// Summary aggregates a table for console output.
type Summary struct {
	Instruments   int
	Succeeded     int
	Failed        int
	Wins          int // results with a positive total return
	AverageReturn decimal.Decimal
	TotalFinal    decimal.Decimal
}

// Summarize computes the summary of t.
func (t Table) Summarize() Summary {
	s := Summary{Instruments: len(t.Rows)}
	sum := decimal.Zero
	for _, r := range t.Rows {
		if !r.OK() {
			s.Failed++
			continue
		}
		s.Succeeded++
		sum = sum.Add(r.TotalReturn)
		s.TotalFinal = s.TotalFinal.Add(r.FinalValue)
		if r.TotalReturn.IsPositive() {
			s.Wins++
		}
	}
	if s.Succeeded > 0 {
		s.AverageReturn = sum.Div(decimal.NewFromInt(int64(s.Succeeded)))
	}
	return s
}

// String renders the summary on one line.
func (s Summary) String() string {
	final, _ := s.TotalFinal.Float64()
	return fmt.Sprintf("%d instruments, %d ok, %d failed, %d positive, average return %s, combined final value %s",
		s.Instruments, s.Succeeded, s.Failed, s.Wins, Percent(s.AverageReturn), humanize.CommafWithDigits(final, 2))
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

// comparisonRecord is the CSV schema of one compared instrument.
type comparisonRecord struct {
	Instrument string `csv:"instrument"`
	Previous   string `csv:"previous_return"`
	Current    string `csv:"current_return"`
	Delta      string `csv:"delta"`
	Change     string `csv:"change"`
}

// WriteComparisonCSV writes one line per compared instrument.
func WriteComparisonCSV(w io.Writer, c compare.Comparison) error {
	records := make([]*comparisonRecord, 0, len(c.Rows))
	for _, r := range c.Rows {
		records = append(records, &comparisonRecord{
			Instrument: r.Instrument,
			Previous:   Percent(r.Previous),
			Current:    Percent(r.Current),
			Delta:      Percent(r.Delta),
			Change:     string(r.Change),
		})
	}
	return gocsv.Marshal(records, w)
}

// SaveComparison writes c to <dir>/<strategy>_<YYYYMMDD_HHMMSS>_compare.csv,
// creating dir if needed, and returns the path.
func SaveComparison(dir, strategy string, now time.Time, c compare.Comparison) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, compare.TagName(strategy, now)+"_compare.csv")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := WriteComparisonCSV(f, c); err != nil {
		f.Close()
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, f.Close()
}
