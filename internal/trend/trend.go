// Package trend computes the simple moving average of a price series and the
// direction of its slope.
package trend

import (
	"fmt"

	"github.com/shopspring/decimal"

	"trendlab/internal/domain"
)

// DefaultWindow is the moving-average window used when none is configured.
const DefaultWindow = 20

// Tracker computes the moving average incrementally, one point at a time.
type Tracker struct {
	window int
	n      decimal.Decimal
	buf    []decimal.Decimal // ring of the last window closes
	next   int
	count  int
	sum    decimal.Decimal
	prevMA decimal.NullDecimal
}

// NewTracker returns a Tracker for the given window size.
func NewTracker(window int) (*Tracker, error) {
	if window < 1 {
		return nil, fmt.Errorf("moving average window %d: %w", window, domain.ErrInvalidStrategyConfig)
	}
	return &Tracker{
		window: window,
		n:      decimal.NewFromInt(int64(window)),
		buf:    make([]decimal.Decimal, window),
	}, nil
}

// Push adds the next point and returns its trend point. The MA is invalid
// until window points have been pushed; direction is undefined until a
// previous MA exists.
func (t *Tracker) Push(p domain.PricePoint) domain.TrendPoint {
	if t.count == t.window {
		t.sum = t.sum.Sub(t.buf[t.next])
	} else {
		t.count++
	}
	t.buf[t.next] = p.Close
	t.sum = t.sum.Add(p.Close)
	t.next = (t.next + 1) % t.window

	tp := domain.TrendPoint{Date: p.Date}
	if t.count < t.window {
		return tp
	}

	ma := t.sum.Div(t.n)
	tp.MA = decimal.NewNullDecimal(ma)
	if t.prevMA.Valid {
		switch ma.Cmp(t.prevMA.Decimal) {
		case 1:
			tp.Direction = domain.DirectionRising
		case -1:
			tp.Direction = domain.DirectionFalling
		default:
			tp.Direction = domain.DirectionFlat
		}
	}
	t.prevMA = tp.MA
	return tp
}

// Compute returns one trend point per input point.
func Compute(points []domain.PricePoint, window int) ([]domain.TrendPoint, error) {
	t, err := NewTracker(window)
	if err != nil {
		return nil, err
	}
	out := make([]domain.TrendPoint, len(points))
	for i, p := range points {
		out[i] = t.Push(p)
	}
	return out, nil
}
