package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trendlab/internal/domain"
)

var day = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBuySellConservesValue(t *testing.T) {
	l := New(d("100000"), 0)

	tr, err := l.Buy(day, d("0.3"), d("7"))
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if tr.Side != domain.SideBuy || tr.Level != -1 {
		t.Errorf("trade = %+v, want buy with level -1", tr)
	}
	// Value at the trade price is unchanged by the trade.
	if v := l.Value(d("7")); !v.Equal(d("100000")) {
		t.Errorf("value after buy = %s, want 100000", v)
	}
	if !tr.Amount.Equal(tr.Shares.Mul(d("7"))) {
		t.Errorf("amount %s != shares*price %s", tr.Amount, tr.Shares.Mul(d("7")))
	}
	if l.State().Cash.IsNegative() {
		t.Errorf("cash went negative: %s", l.State().Cash)
	}

	if _, err := l.Sell(day, d("0.5"), d("9")); err != nil {
		t.Fatalf("Sell: %v", err)
	}
	st := l.State()
	if v := st.Value(d("9")); !v.Equal(l.Value(d("9"))) {
		t.Errorf("state value %s != ledger value %s", v, l.Value(d("9")))
	}
	if !st.CostBasis.Valid || !st.CostBasis.Decimal.Equal(d("7")) {
		t.Errorf("cost basis after partial sell = %v, want 7", st.CostBasis)
	}

	tr, err = l.Sell(day, d("1"), d("8"))
	if err != nil {
		t.Fatalf("Sell all: %v", err)
	}
	st = tr.State
	if !st.Shares.IsZero() {
		t.Errorf("shares after sell-all = %s, want 0", st.Shares)
	}
	if st.CostBasis.Valid {
		t.Error("cost basis should be invalid when flat")
	}
}

func TestBuyAll(t *testing.T) {
	l := New(d("1000"), 0)
	tr, err := l.Buy(day, d("1"), d("10"))
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if !tr.Shares.Equal(d("100")) || !tr.State.Cash.IsZero() {
		t.Errorf("shares=%s cash=%s, want 100 and 0", tr.Shares, tr.State.Cash)
	}
}

func TestCostBasisWeightedAverage(t *testing.T) {
	l := New(d("2000"), 0)
	if _, err := l.Buy(day, d("0.5"), d("10")); err != nil { // 100 @ 10
		t.Fatalf("Buy: %v", err)
	}
	if _, err := l.Buy(day, d("1"), d("20")); err != nil { // 50 @ 20
		t.Fatalf("Buy: %v", err)
	}
	st := l.State()
	if !st.Shares.Equal(d("150")) {
		t.Fatalf("shares = %s, want 150", st.Shares)
	}
	// (100*10 + 50*20) / 150 = 13.333...
	want := d("2000").Div(d("150"))
	if !st.CostBasis.Decimal.Equal(want) {
		t.Errorf("cost basis = %s, want %s", st.CostBasis.Decimal, want)
	}
}

func TestLotRounding(t *testing.T) {
	l := New(d("10000"), 100)
	tr, err := l.Buy(day, d("1"), d("33"))
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	// 10000/33 = 303.03 shares -> 3 lots.
	if !tr.Shares.Equal(d("300")) {
		t.Errorf("shares = %s, want 300", tr.Shares)
	}
	if !tr.State.Cash.Equal(d("100")) {
		t.Errorf("cash = %s, want 100", tr.State.Cash)
	}

	// Half of 300 is 150 -> 1 lot.
	tr, err = l.Sell(day, d("0.5"), d("40"))
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if !tr.Shares.Equal(d("100")) {
		t.Errorf("sold = %s, want 100", tr.Shares)
	}

	// Remaining cash cannot buy a lot.
	if _, err := l.Buy(day, d("0.01"), d("40")); !errors.Is(err, domain.ErrInvalidAllocation) {
		t.Errorf("tiny buy error = %v, want ErrInvalidAllocation", err)
	}
}

func TestRejections(t *testing.T) {
	tests := []struct {
		name string
		op   func(l *Ledger) error
	}{
		{"fraction above one", func(l *Ledger) error { _, err := l.Buy(day, d("1.5"), d("10")); return err }},
		{"negative fraction", func(l *Ledger) error { _, err := l.Buy(day, d("-0.1"), d("10")); return err }},
		{"zero price", func(l *Ledger) error { _, err := l.Buy(day, d("0.5"), d("0")); return err }},
		{"zero fraction", func(l *Ledger) error { _, err := l.Buy(day, d("0"), d("10")); return err }},
		{"sell without shares", func(l *Ledger) error { _, err := l.Sell(day, d("0.5"), d("10")); return err }},
		{"sell fraction above one", func(l *Ledger) error { _, err := l.Sell(day, d("2"), d("10")); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(d("1000"), 0)
			before := l.State()
			err := tt.op(l)
			if !errors.Is(err, domain.ErrInvalidAllocation) {
				t.Fatalf("error = %v, want ErrInvalidAllocation", err)
			}
			after := l.State()
			if !after.Cash.Equal(before.Cash) || !after.Shares.Equal(before.Shares) {
				t.Errorf("ledger changed on rejection: %+v -> %+v", before, after)
			}
		})
	}
}

func TestBuyWithNoCash(t *testing.T) {
	l := New(d("1000"), 0)
	if _, err := l.Buy(day, d("1"), d("10")); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if _, err := l.Buy(day, d("0.5"), d("10")); !errors.Is(err, domain.ErrInvalidAllocation) {
		t.Errorf("second buy error = %v, want ErrInvalidAllocation", err)
	}
}
