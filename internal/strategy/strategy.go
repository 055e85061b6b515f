// Package strategy defines the buy and sell engines that drive a backtest,
// their parameters, a Registry of strategy variants, and the Runner that
// replays a price series through them.
package strategy

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"trendlab/internal/config"
	"trendlab/internal/domain"
)

// Period is everything an engine may look at when deciding on one period.
// Trend holds the history up to and including this period, never beyond.
type Period struct {
	Index  int
	Date   time.Time
	Price  decimal.Decimal
	Trend  []domain.TrendPoint
	Ledger domain.LedgerState
}

// Current returns the trend point of this period.
func (p Period) Current() domain.TrendPoint {
	return p.Trend[len(p.Trend)-1]
}

// Decision asks the runner to trade Fraction of the relevant side of the
// ledger: cash for a buy, shares for a sell.
type Decision struct {
	Side     domain.Side
	Fraction decimal.Decimal
	Level    int // -1 if not level driven
	Reason   string
}

// BuyEngine proposes buys for a period. No decisions means no trigger.
type BuyEngine interface {
	EvaluateBuy(p Period) []Decision
}

// SellEngine proposes sells for a period. No decisions means no trigger.
type SellEngine interface {
	EvaluateSell(p Period) []Decision
}

// Strategy is one engine instance for a single (instrument, run). It keeps
// whatever state it needs between periods and is discarded afterwards.
type Strategy interface {
	// Name returns the configured name of this strategy.
	Name() string

	BuyEngine
	SellEngine

	// OnFill is called for every decision the ledger accepted.
	OnFill(t domain.Trade)
}

// ---------------------------------------------------------------------------
// Parameters
// ---------------------------------------------------------------------------

// Params is the validated-on-use parameter set of one named strategy.
type Params struct {
	Name           string
	Kind           string
	InitialCapital decimal.Decimal
	MAWindow       int
	LotSize        int64

	BuyLevels             []decimal.Decimal // percent below MA, strictly descending
	BuyRatios             []decimal.Decimal
	SellThresholds        []decimal.Decimal // percent above MA, strictly ascending
	SellRatios            []decimal.Decimal
	LiquidateOnFinalLevel bool

	RisingPeriods int
	ExitBelowMA   bool
}

// ParamsFromConfig converts a strategy section of the configuration file.
func ParamsFromConfig(name string, c config.StrategyConfig) Params {
	kind := c.Kind
	if kind == "" {
		kind = name
	}
	capital := config.DefaultInitialCapital
	if c.InitialCapital != nil {
		capital = *c.InitialCapital
	}
	return Params{
		Name:                  name,
		Kind:                  kind,
		InitialCapital:        decimal.NewFromFloat(capital),
		MAWindow:              c.MAWindow,
		LotSize:               c.LotSize,
		BuyLevels:             decimals(c.BuyLevels),
		BuyRatios:             decimals(c.BuyRatios),
		SellThresholds:        decimals(c.SellThresholds),
		SellRatios:            decimals(c.SellRatios),
		LiquidateOnFinalLevel: c.LiquidateOnFinalLevel,
		RisingPeriods:         c.RisingPeriods,
		ExitBelowMA:           c.ExitBelowMA,
	}
}

func decimals(fs []float64) []decimal.Decimal {
	if len(fs) == 0 {
		return nil
	}
	out := make([]decimal.Decimal, len(fs))
	for i, f := range fs {
		out[i] = decimal.NewFromFloat(f)
	}
	return out
}

// Validate checks the fields every variant shares. Variant-specific checks
// happen in the variant's factory.
func (p Params) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("strategy name is empty: %w", domain.ErrInvalidStrategyConfig)
	}
	if p.MAWindow < 1 {
		return fmt.Errorf("%s: ma_window %d < 1: %w", p.Name, p.MAWindow, domain.ErrInvalidStrategyConfig)
	}
	if p.LotSize < 0 {
		return fmt.Errorf("%s: lot_size %d < 0: %w", p.Name, p.LotSize, domain.ErrInvalidStrategyConfig)
	}
	return nil
}

// ValidateLadder checks a level/ratio ladder: equal lengths, strictly
// monotonic levels on the expected side of zero, ratios in (0,1] summing to
// at most one.
func ValidateLadder(what string, levels, ratios []decimal.Decimal, descending bool) error {
	if len(levels) != len(ratios) {
		return fmt.Errorf("%s: %d levels but %d ratios: %w", what, len(levels), len(ratios), domain.ErrInvalidStrategyConfig)
	}
	one := decimal.NewFromInt(1)
	sum := decimal.Zero
	for i, l := range levels {
		if descending && !l.IsNegative() {
			return fmt.Errorf("%s: level %s must be negative: %w", what, l, domain.ErrInvalidStrategyConfig)
		}
		if !descending && !l.IsPositive() {
			return fmt.Errorf("%s: level %s must be positive: %w", what, l, domain.ErrInvalidStrategyConfig)
		}
		if i > 0 {
			prev := levels[i-1]
			if (descending && !l.LessThan(prev)) || (!descending && !l.GreaterThan(prev)) {
				return fmt.Errorf("%s: levels not strictly ordered at %s: %w", what, l, domain.ErrInvalidStrategyConfig)
			}
		}
		r := ratios[i]
		if !r.IsPositive() || r.GreaterThan(one) {
			return fmt.Errorf("%s: ratio %s outside (0,1]: %w", what, r, domain.ErrInvalidStrategyConfig)
		}
		sum = sum.Add(r)
	}
	if sum.GreaterThan(one) {
		return fmt.Errorf("%s: ratios sum to %s > 1: %w", what, sum, domain.ErrInvalidStrategyConfig)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Factory builds a fresh Strategy instance, validating its parameters.
type Factory func(p Params) (Strategy, error)

// Registry maps strategy kinds to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory for kind, replacing any previous one.
func (r *Registry) Register(kind string, f Factory) {
	r.factories[kind] = f
}

// Get retrieves a factory by kind. The second return value indicates whether
// the kind was found.
func (r *Registry) Get(kind string) (Factory, bool) {
	f, ok := r.factories[kind]
	return f, ok
}

// New validates p and builds a strategy of kind p.Kind.
func (r *Registry) New(p Params) (Strategy, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	f, ok := r.factories[p.Kind]
	if !ok {
		return nil, fmt.Errorf("%s: unknown strategy kind %q: %w", p.Name, p.Kind, domain.ErrInvalidStrategyConfig)
	}
	return f(p)
}

// List returns a sorted slice of all registered kinds.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
