package compare

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trendlab/internal/domain"
)

func result(instrument, ret string) domain.BacktestResult {
	return domain.BacktestResult{Instrument: instrument, TotalReturn: decimal.RequireFromString(ret)}
}

func TestCompare(t *testing.T) {
	previous := []domain.BacktestResult{
		result("A", "0.10"),
		result("B", "0.20"),
		result("C", "-0.05"),
		result("D", "0.30"),
		result("GONE", "0.50"),
	}
	current := []domain.BacktestResult{
		result("D", "0.35"),     // improved
		result("A", "0.12"),     // improved
		result("B", "0.199995"), // within epsilon
		result("C", "-0.10"),    // declined
		result("NEW", "0.90"),   // no previous
	}

	c := Compare(current, previous, DefaultEpsilon)
	if c.Total != 4 {
		t.Fatalf("Total = %d, want 4", c.Total)
	}
	if c.Improved != 2 || c.Declined != 1 || c.Unchanged != 1 {
		t.Errorf("improved/declined/unchanged = %d/%d/%d, want 2/1/1", c.Improved, c.Declined, c.Unchanged)
	}
	if c.Fraction != 0.5 {
		t.Errorf("Fraction = %v, want 0.5", c.Fraction)
	}
	if c.Rows[0].Instrument != "A" || c.Rows[3].Instrument != "D" {
		t.Errorf("rows not sorted: %v", c.Rows)
	}
	if c.Rows[1].Change != Unchanged {
		t.Errorf("B change = %s, want unchanged", c.Rows[1].Change)
	}
	if c.ShouldTag(DefaultThreshold) {
		t.Error("ShouldTag(0.60) = true at fraction 0.5")
	}
	if !c.ShouldTag(0.5) {
		t.Error("ShouldTag(0.5) = false at fraction 0.5")
	}
}

func TestCompareThresholdBoundary(t *testing.T) {
	var previous, current []domain.BacktestResult
	for i, name := range []string{"A", "B", "C", "D", "E"} {
		previous = append(previous, result(name, "0"))
		ret := "-0.01"
		if i < 3 {
			ret = "0.01"
		}
		current = append(current, result(name, ret))
	}
	c := Compare(current, previous, DefaultEpsilon)
	if c.Fraction != 0.6 {
		t.Fatalf("Fraction = %v, want 0.6", c.Fraction)
	}
	if !c.ShouldTag(DefaultThreshold) {
		t.Error("ShouldTag at exactly the threshold should be true")
	}
}

func TestCompareNothingInCommon(t *testing.T) {
	c := Compare([]domain.BacktestResult{result("A", "1")}, nil, DefaultEpsilon)
	if c.Total != 0 || c.Fraction != 0 {
		t.Errorf("comparison = %+v, want empty", c)
	}
	if c.ShouldTag(0) {
		t.Error("ShouldTag with no compared instruments should be false")
	}
}

func TestTagName(t *testing.T) {
	ts := time.Date(2025, 3, 7, 9, 5, 2, 0, time.UTC)
	if got := TagName("thresholds", ts); got != "thresholds_20250307_090502" {
		t.Errorf("TagName = %q, want thresholds_20250307_090502", got)
	}
}
