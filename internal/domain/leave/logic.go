package leave

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"hrpay/internal/domain/calendar"
)

var (
	errEndBeforeStart = errors.New("end date before start date")
	errInvalidHalfDay = errors.New("invalid half-day range")
	half              = decimal.RequireFromString("0.5")
)

// CalculateDays returns inclusive day count between start and end.
func CalculateDays(start, end time.Time) (decimal.Decimal, error) {
	if end.Before(start) {
		return decimal.Zero, errEndBeforeStart
	}
	return decimal.NewFromInt(int64(calendar.Range{Start: start, End: end}.Days())), nil
}

// CalculateRequestDays returns inclusive leave day count with optional half-day start/end boundaries.
func CalculateRequestDays(start, end time.Time, startHalf, endHalf bool) (decimal.Decimal, error) {
	days, err := CalculateDays(start, end)
	if err != nil {
		return decimal.Zero, err
	}
	if calendar.Day(start).Equal(calendar.Day(end)) && startHalf && endHalf {
		return decimal.Zero, errInvalidHalfDay
	}
	if startHalf {
		days = days.Sub(half)
	}
	if endHalf {
		days = days.Sub(half)
	}
	if !days.IsPositive() {
		return decimal.Zero, errInvalidHalfDay
	}
	return days, nil
}

// NetWorkingDays counts the days a request actually consumes: weekdays that
// are not holidays, less half days that fall on such a day.
func NetWorkingDays(start, end time.Time, startHalf, endHalf bool, holidays []time.Time) (decimal.Decimal, error) {
	if _, err := CalculateRequestDays(start, end, startHalf, endHalf); err != nil {
		return decimal.Zero, err
	}
	off := make(map[time.Time]struct{}, len(holidays))
	for _, h := range holidays {
		off[calendar.Day(h)] = struct{}{}
	}
	working := func(day time.Time) bool {
		_, holiday := off[day]
		return calendar.IsWeekday(day) && !holiday
	}

	count := decimal.Zero
	first, last := calendar.Day(start), calendar.Day(end)
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		if !working(day) {
			continue
		}
		units := decimal.NewFromInt(1)
		if startHalf && day.Equal(first) {
			units = units.Sub(half)
		}
		if endHalf && day.Equal(last) {
			units = units.Sub(half)
		}
		count = count.Add(units)
	}
	return count, nil
}
