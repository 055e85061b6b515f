package series

import "trendlab/internal/domain"

// Weekly resamples an ascending daily series to one point per ISO week: the
// last close of the week, dated on its last trading day. Weeks are keyed by
// ISO year, so a week spanning New Year stays whole.
func Weekly(points []domain.PricePoint) []domain.PricePoint {
	if len(points) == 0 {
		return nil
	}

	out := make([]domain.PricePoint, 0, len(points)/5+1)
	prevYear, prevWeek := points[0].Date.ISOWeek()
	last := points[0]
	for _, p := range points[1:] {
		y, w := p.Date.ISOWeek()
		if y != prevYear || w != prevWeek {
			out = append(out, last)
			prevYear, prevWeek = y, w
		}
		last = p
	}
	return append(out, last)
}
