package us

import (
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// CalendarSource returns market sessions between two dates.
type CalendarSource interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
}

// NewCalendarSource creates an Alpaca trading API client for calendar
// lookups.
func NewCalendarSource(apiKey, apiSecret, baseURL string) CalendarSource {
	return alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
}

// LatestFinishedTradingDay returns the most recent trading day whose session
// has ended (after 20:05 ET so extended-hours bars have settled).
func LatestFinishedTradingDay(cal CalendarSource, now time.Time) (time.Time, error) {
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.Time{}, fmt.Errorf("loading ET timezone: %w", err)
	}
	now = now.In(et)

	days, err := cal.GetCalendar(alpaca.GetCalendarRequest{
		Start: now.AddDate(0, 0, -7),
		End:   now,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("GetCalendar: %w", err)
	}
	return latestFinished(days, now, et)
}

func latestFinished(days []alpaca.CalendarDay, now time.Time, et *time.Location) (time.Time, error) {
	if len(days) == 0 {
		return time.Time{}, fmt.Errorf("no trading days returned from calendar")
	}
	today := now.Format("2006-01-02")
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), 20, 5, 0, 0, et)

	for i := len(days) - 1; i >= 0; i-- {
		d, err := time.Parse("2006-01-02", days[i].Date)
		if err != nil {
			continue
		}
		if days[i].Date == today {
			if now.After(cutoff) {
				return d, nil
			}
			continue
		}
		if d.Format("2006-01-02") < today {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("could not determine latest finished trading day")
}
