package strategy

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trendlab/internal/config"
	"trendlab/internal/domain"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func series(closes ...string) []domain.PricePoint {
	out := make([]domain.PricePoint, len(closes))
	for i, c := range closes {
		out[i] = domain.PricePoint{Date: start.AddDate(0, 0, i), Close: d(c)}
	}
	return out
}

// stubStrategy buys and sells a fixed fraction every period and records what
// it was shown.
type stubStrategy struct {
	name    string
	buy     decimal.Decimal
	sell    decimal.Decimal
	periods []Period
	fills   []domain.Trade
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) EvaluateBuy(p Period) []Decision {
	s.periods = append(s.periods, p)
	if s.buy.IsZero() {
		return nil
	}
	return []Decision{{Side: domain.SideBuy, Fraction: s.buy, Level: -1, Reason: "stub"}}
}

func (s *stubStrategy) EvaluateSell(p Period) []Decision {
	if s.sell.IsZero() {
		return nil
	}
	return []Decision{{Side: domain.SideSell, Fraction: s.sell, Level: 7, Reason: "stub"}}
}

func (s *stubStrategy) OnFill(t domain.Trade) { s.fills = append(s.fills, t) }

func stubRegistry(s *stubStrategy) *Registry {
	r := NewRegistry()
	r.Register("stub", func(p Params) (Strategy, error) {
		s.name = p.Name
		return s, nil
	})
	return r
}

func stubParams() Params {
	return Params{Name: "stub-run", Kind: "stub", InitialCapital: d("1000"), MAWindow: 2}
}

// ---------------------------------------------------------------------------
// Registry and params
// ---------------------------------------------------------------------------

func TestRegistryRegisterAndGet(t *testing.T) {
	r := stubRegistry(&stubStrategy{})

	f, ok := r.Get("stub")
	if !ok {
		t.Fatal("Get returned false for registered kind")
	}
	s, err := f(stubParams())
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if s.Name() != "stub-run" {
		t.Errorf("Name() = %q, want %q", s.Name(), "stub-run")
	}
}

func TestRegistryGet_NotFound(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get("nonexistent"); ok {
		t.Error("Get returned true for unregistered kind")
	}
	p := stubParams()
	p.Kind = "nonexistent"
	if _, err := r.New(p); !errors.Is(err, domain.ErrInvalidStrategyConfig) {
		t.Errorf("New(unknown kind) error = %v, want ErrInvalidStrategyConfig", err)
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register("beta", nil)
	r.Register("alpha", nil)

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("List returned %d names, want 2", len(names))
	}
	// List returns sorted names.
	if names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("List returned %v, want [alpha beta]", names)
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(p *Params)
	}{
		{"empty name", func(p *Params) { p.Name = "" }},
		{"zero window", func(p *Params) { p.MAWindow = 0 }},
		{"negative lot", func(p *Params) { p.LotSize = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := stubParams()
			tt.modify(&p)
			if err := p.Validate(); !errors.Is(err, domain.ErrInvalidStrategyConfig) {
				t.Errorf("Validate error = %v, want ErrInvalidStrategyConfig", err)
			}
		})
	}
	if err := stubParams().Validate(); err != nil {
		t.Errorf("Validate(valid) = %v", err)
	}
}

func TestValidateLadder(t *testing.T) {
	tests := []struct {
		name       string
		levels     []decimal.Decimal
		ratios     []decimal.Decimal
		descending bool
		wantErr    bool
	}{
		{"empty", nil, nil, true, false},
		{"buy ladder", []decimal.Decimal{d("-4"), d("-8")}, []decimal.Decimal{d("0.4"), d("0.6")}, true, false},
		{"sell ladder", []decimal.Decimal{d("8"), d("12")}, []decimal.Decimal{d("0.3"), d("0.3")}, false, false},
		{"equal levels", []decimal.Decimal{d("-4"), d("-4")}, []decimal.Decimal{d("0.1"), d("0.1")}, true, true},
		{"wrong sign", []decimal.Decimal{d("4")}, []decimal.Decimal{d("0.1")}, true, true},
		{"ratio above one", []decimal.Decimal{d("8")}, []decimal.Decimal{d("1.1")}, false, true},
		{"sum above one", []decimal.Decimal{d("8"), d("9")}, []decimal.Decimal{d("0.7"), d("0.4")}, false, true},
		{"length mismatch", []decimal.Decimal{d("8")}, nil, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLadder(tt.name, tt.levels, tt.ratios, tt.descending)
			if tt.wantErr && !errors.Is(err, domain.ErrInvalidStrategyConfig) {
				t.Errorf("error = %v, want ErrInvalidStrategyConfig", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("error = %v, want nil", err)
			}
		})
	}
}

func TestParamsFromConfig(t *testing.T) {
	p := ParamsFromConfig("thresholds", config.StrategyConfig{
		InitialCapital: config.Float(100000),
		MAWindow:       20,
		LotSize:        100,
		BuyLevels:      []float64{-4, -8.5},
		BuyRatios:      []float64{0.1, 0.15},
	})
	if p.Kind != "thresholds" {
		t.Errorf("Kind = %q, want thresholds", p.Kind)
	}
	if !p.InitialCapital.Equal(d("100000")) {
		t.Errorf("InitialCapital = %s, want 100000", p.InitialCapital)
	}
	if len(p.BuyLevels) != 2 || !p.BuyLevels[1].Equal(d("-8.5")) {
		t.Errorf("BuyLevels = %v, want [-4 -8.5]", p.BuyLevels)
	}
	if !p.BuyRatios[1].Equal(d("0.15")) {
		t.Errorf("BuyRatios[1] = %s, want 0.15", p.BuyRatios[1])
	}
	if p.SellThresholds != nil {
		t.Errorf("SellThresholds = %v, want nil", p.SellThresholds)
	}
}

func TestParamsFromConfigCapital(t *testing.T) {
	if p := ParamsFromConfig("outbreak", config.StrategyConfig{}); !p.InitialCapital.Equal(d("100000")) {
		t.Errorf("unset InitialCapital = %s, want default 100000", p.InitialCapital)
	}
	if p := ParamsFromConfig("outbreak", config.StrategyConfig{InitialCapital: config.Float(0)}); !p.InitialCapital.IsZero() {
		t.Errorf("explicit InitialCapital = %s, want 0", p.InitialCapital)
	}
}

// ---------------------------------------------------------------------------
// Runner
// ---------------------------------------------------------------------------

func TestRunnerBuyBeforeSell(t *testing.T) {
	s := &stubStrategy{buy: d("0.5"), sell: d("1")}
	run, err := NewRunner(stubRegistry(s), nil).Run(series("10", "20", "40"), stubParams())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(run.Trades) != 6 {
		t.Fatalf("trades = %d, want 6", len(run.Trades))
	}
	for i, tr := range run.Trades {
		want := domain.SideBuy
		if i%2 == 1 {
			want = domain.SideSell
		}
		if tr.Side != want {
			t.Errorf("trade %d side = %s, want %s", i, tr.Side, want)
		}
		if !tr.Date.Equal(start.AddDate(0, 0, i/2)) {
			t.Errorf("trade %d date = %v, want day %d", i, tr.Date, i/2)
		}
	}
	// Buy half, sell all at the same price: value never changes.
	if !run.Final.Cash.Equal(d("1000")) || !run.Final.Shares.IsZero() {
		t.Errorf("final = %s cash / %s shares, want 1000 / 0", run.Final.Cash, run.Final.Shares)
	}
	if run.Trades[1].Level != 7 || run.Trades[1].Reason != "stub" {
		t.Errorf("decision metadata not carried: level %d reason %q", run.Trades[1].Level, run.Trades[1].Reason)
	}
	if len(s.fills) != 6 {
		t.Errorf("OnFill called %d times, want 6", len(s.fills))
	}
}

func TestRunnerNoLookAhead(t *testing.T) {
	s := &stubStrategy{}
	if _, err := NewRunner(stubRegistry(s), nil).Run(series("10", "11", "12", "13"), stubParams()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(s.periods) != 4 {
		t.Fatalf("periods = %d, want 4", len(s.periods))
	}
	for i, p := range s.periods {
		if p.Index != i || len(p.Trend) != i+1 {
			t.Errorf("period %d: index %d, trend len %d", i, p.Index, len(p.Trend))
		}
		if !p.Current().Date.Equal(p.Date) {
			t.Errorf("period %d: current trend date %v != %v", i, p.Current().Date, p.Date)
		}
	}
}

func TestRunnerSkipsRejectedAllocations(t *testing.T) {
	// Sells with no shares are rejected and skipped without error.
	s := &stubStrategy{sell: d("1")}
	run, err := NewRunner(stubRegistry(s), nil).Run(series("10", "11"), stubParams())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(run.Trades) != 0 || len(s.fills) != 0 {
		t.Errorf("trades = %d, fills = %d, want 0", len(run.Trades), len(s.fills))
	}
	if !run.Final.Cash.Equal(d("1000")) {
		t.Errorf("cash = %s, want 1000", run.Final.Cash)
	}
}

func TestRunnerDegenerateInput(t *testing.T) {
	runner := NewRunner(stubRegistry(&stubStrategy{}), nil)

	unordered := series("10", "11")
	unordered[1].Date = unordered[0].Date
	if _, err := runner.Run(unordered, stubParams()); !errors.Is(err, domain.ErrDegenerateInput) {
		t.Errorf("duplicate dates error = %v, want ErrDegenerateInput", err)
	}

	if _, err := runner.Run(series("10", "0"), stubParams()); !errors.Is(err, domain.ErrDegenerateInput) {
		t.Errorf("zero close error = %v, want ErrDegenerateInput", err)
	}

	p := stubParams()
	p.InitialCapital = decimal.Zero
	if _, err := runner.Run(series("10"), p); !errors.Is(err, domain.ErrDegenerateInput) {
		t.Errorf("zero capital error = %v, want ErrDegenerateInput", err)
	}
}

func TestRunnerInvalidConfigBeforeSimulation(t *testing.T) {
	s := &stubStrategy{}
	p := stubParams()
	p.MAWindow = 0
	if _, err := NewRunner(stubRegistry(s), nil).Run(series("10"), p); !errors.Is(err, domain.ErrInvalidStrategyConfig) {
		t.Fatalf("error = %v, want ErrInvalidStrategyConfig", err)
	}
	if len(s.periods) != 0 {
		t.Errorf("simulation ran %d periods despite invalid config", len(s.periods))
	}
}

func TestRunnerEmptySeries(t *testing.T) {
	res, err := NewRunner(stubRegistry(&stubStrategy{}), nil).Backtest("EMPTY", nil, stubParams())
	if err != nil {
		t.Fatalf("Backtest: %v", err)
	}
	if !res.TotalReturn.IsZero() || len(res.YearlyReturns) != 0 {
		t.Errorf("result = %+v, want zero return and no years", res)
	}
}

// ---------------------------------------------------------------------------
// Aggregate
// ---------------------------------------------------------------------------

func dailySeries(from, to time.Time, close func(time.Time) string) []domain.PricePoint {
	var out []domain.PricePoint
	for t := from; !t.After(to); t = t.AddDate(0, 0, 1) {
		if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
			continue
		}
		out = append(out, domain.PricePoint{Date: t, Close: d(close(t))})
	}
	return out
}

func TestAggregateTwoFullYears(t *testing.T) {
	s := dailySeries(
		time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
		func(t time.Time) string {
			if t.Year() == 2022 {
				return "10"
			}
			return "15"
		},
	)
	// Buy 100 shares on the first day.
	trades := []domain.Trade{{
		Date:  s[0].Date,
		Side:  domain.SideBuy,
		State: domain.LedgerState{Cash: d("0"), Shares: d("100"), CostBasis: decimal.NewNullDecimal(d("10"))},
	}}
	final := trades[0].State

	res, err := Aggregate("X", "stub", d("1000"), trades, final, s)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(res.YearlyReturns) != 2 {
		t.Fatalf("yearly keys = %d, want 2", len(res.YearlyReturns))
	}
	if !res.YearlyReturns[2022].IsZero() {
		t.Errorf("2022 = %s, want 0", res.YearlyReturns[2022])
	}
	if !res.YearlyReturns[2023].Equal(d("0.5")) {
		t.Errorf("2023 = %s, want 0.5", res.YearlyReturns[2023])
	}
	if !res.TotalReturn.Equal(d("0.5")) || !res.FinalValue.Equal(d("1500")) {
		t.Errorf("total = %s, final = %s, want 0.5, 1500", res.TotalReturn, res.FinalValue)
	}
	if res.Trades != 1 {
		t.Errorf("Trades = %d, want 1", res.Trades)
	}
}

func TestAggregateOmitsMissingYears(t *testing.T) {
	s := []domain.PricePoint{
		{Date: time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC), Close: d("10")},
		{Date: time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC), Close: d("20")},
	}
	trades := []domain.Trade{{
		Date:  s[0].Date,
		Side:  domain.SideBuy,
		State: domain.LedgerState{Cash: d("500"), Shares: d("50")},
	}}

	res, err := Aggregate("X", "stub", d("1000"), trades, trades[0].State, s)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if _, ok := res.YearlyReturns[2021]; ok {
		t.Error("2021 should be omitted")
	}
	// 2020 ends at 1000, 2022 ends at 500 + 50*20 = 1500.
	if !res.YearlyReturns[2022].Equal(d("0.5")) {
		t.Errorf("2022 = %s, want 0.5", res.YearlyReturns[2022])
	}
}

func TestAggregateZeroCapital(t *testing.T) {
	if _, err := Aggregate("X", "stub", decimal.Zero, nil, domain.LedgerState{}, series("10")); !errors.Is(err, domain.ErrDegenerateInput) {
		t.Errorf("error = %v, want ErrDegenerateInput", err)
	}
}

func TestAggregateTradesAfterPeriodIgnored(t *testing.T) {
	s := series("10", "10")
	// A trade dated after the last period must not leak into its value.
	trades := []domain.Trade{{
		Date:  start.AddDate(0, 0, 5),
		State: domain.LedgerState{Cash: d("0"), Shares: d("1000")},
	}}
	res, err := Aggregate("X", "stub", d("1000"), trades, domain.LedgerState{Cash: d("1000")}, s)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if !res.YearlyReturns[2024].IsZero() {
		t.Errorf("2024 = %s, want 0", res.YearlyReturns[2024])
	}
}
