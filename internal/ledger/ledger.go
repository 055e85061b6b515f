// Package ledger tracks the cash and share position of a single simulated
// portfolio.
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trendlab/internal/domain"
)

// sharePrecision is the number of decimal places kept for fractional shares.
const sharePrecision = 16

// Ledger is the mutable position of one (strategy, instrument) run. It is
// not safe for concurrent use.
type Ledger struct {
	cash      decimal.Decimal
	shares    decimal.Decimal
	costBasis decimal.NullDecimal
	lot       decimal.Decimal // zero means fractional shares
}

// New creates a ledger holding initialCapital in cash. A positive lotSize
// restricts trades to whole multiples of that many shares.
func New(initialCapital decimal.Decimal, lotSize int64) *Ledger {
	l := &Ledger{cash: initialCapital}
	if lotSize > 0 {
		l.lot = decimal.NewFromInt(lotSize)
	}
	return l
}

// State returns a snapshot of the current position.
func (l *Ledger) State() domain.LedgerState {
	return domain.LedgerState{Cash: l.cash, Shares: l.shares, CostBasis: l.costBasis}
}

// Value marks the position to market at price.
func (l *Ledger) Value(price decimal.Decimal) decimal.Decimal {
	return l.State().Value(price)
}

// Buy spends fraction of the current cash on shares at price. Only whole
// lots are bought when a lot size is set, so less than the allocated
// amount may be spent. On error the ledger is unchanged.
func (l *Ledger) Buy(date time.Time, fraction, price decimal.Decimal) (domain.Trade, error) {
	if err := checkOrder(fraction, price); err != nil {
		return domain.Trade{}, err
	}
	if !l.cash.IsPositive() {
		return domain.Trade{}, fmt.Errorf("buy with no cash: %w", domain.ErrInvalidAllocation)
	}

	amount := fraction.Mul(l.cash)
	shares, _ := amount.QuoRem(price, sharePrecision)
	shares = l.roundToLot(shares)
	if !shares.IsPositive() {
		return domain.Trade{}, fmt.Errorf("buy of %s at %s rounds to zero shares: %w", amount, price, domain.ErrInvalidAllocation)
	}
	cost := shares.Mul(price)

	total := l.shares.Add(shares)
	if l.costBasis.Valid {
		l.costBasis.Decimal = l.costBasis.Decimal.Mul(l.shares).Add(cost).Div(total)
	} else {
		l.costBasis = decimal.NewNullDecimal(price)
	}
	l.cash = l.cash.Sub(cost)
	l.shares = total

	return l.trade(date, domain.SideBuy, price, shares, cost), nil
}

// Sell sells fraction of the held shares at price. A fraction of one always
// closes the position; smaller fractions are rounded down to whole lots
// when a lot size is set. On error the ledger is unchanged.
func (l *Ledger) Sell(date time.Time, fraction, price decimal.Decimal) (domain.Trade, error) {
	if err := checkOrder(fraction, price); err != nil {
		return domain.Trade{}, err
	}
	if !l.shares.IsPositive() {
		return domain.Trade{}, fmt.Errorf("sell with no shares: %w", domain.ErrInvalidAllocation)
	}

	sold := l.shares
	if !fraction.Equal(decimal.NewFromInt(1)) {
		sold = l.roundToLot(fraction.Mul(l.shares))
	}
	if !sold.IsPositive() {
		return domain.Trade{}, fmt.Errorf("sell of %s of %s shares rounds to zero: %w", fraction, l.shares, domain.ErrInvalidAllocation)
	}
	proceeds := sold.Mul(price)

	l.cash = l.cash.Add(proceeds)
	l.shares = l.shares.Sub(sold)
	if l.shares.IsZero() {
		l.costBasis = decimal.NullDecimal{}
	}

	return l.trade(date, domain.SideSell, price, sold, proceeds), nil
}

func (l *Ledger) roundToLot(shares decimal.Decimal) decimal.Decimal {
	if l.lot.IsZero() {
		return shares
	}
	lots, _ := shares.QuoRem(l.lot, 0)
	return lots.Mul(l.lot)
}

func (l *Ledger) trade(date time.Time, side domain.Side, price, shares, amount decimal.Decimal) domain.Trade {
	return domain.Trade{
		Date:   date,
		Side:   side,
		Price:  price,
		Shares: shares,
		Amount: amount,
		Level:  -1,
		State:  l.State(),
	}
}

func checkOrder(fraction, price decimal.Decimal) error {
	if fraction.IsNegative() || fraction.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("fraction %s outside [0,1]: %w", fraction, domain.ErrInvalidAllocation)
	}
	if !price.IsPositive() {
		return fmt.Errorf("price %s not positive: %w", price, domain.ErrInvalidAllocation)
	}
	return nil
}
