// Package calendar holds the date arithmetic shared by accrual, leave and
// payroll: period parsing, inclusive day counts and working days.
package calendar

import (
	"fmt"
	"time"

	"hrpay/internal/domain/apperr"
)

const (
	MonthLayout = "2006-01"
	DateLayout  = "2006-01-02"
)

type Range struct {
	Start time.Time
	End   time.Time
}

// ParseMonth parses YYYY-MM into the first and last day of that month (UTC).
func ParseMonth(value string) (Range, error) {
	start, err := time.Parse(MonthLayout, value)
	if err != nil {
		return Range{}, apperr.Validation("invalid_period", fmt.Sprintf("period %q must be YYYY-MM", value))
	}
	return Range{Start: start, End: start.AddDate(0, 1, -1)}, nil
}

// ParseYear parses YYYY into January 1 to December 31.
func ParseYear(value string) (Range, error) {
	start, err := time.Parse("2006", value)
	if err != nil {
		return Range{}, apperr.Validation("invalid_period", fmt.Sprintf("period %q must be YYYY", value))
	}
	return Range{Start: start, End: start.AddDate(1, 0, -1)}, nil
}

func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Days counts calendar days in the range, both ends included.
func (r Range) Days() int {
	if r.End.Before(r.Start) {
		return 0
	}
	return int(Day(r.End).Sub(Day(r.Start)).Hours()/24) + 1
}

// WorkingDays counts Monday to Friday days in the range, both ends included.
func (r Range) WorkingDays() int {
	count := 0
	for day := Day(r.Start); !day.After(Day(r.End)); day = day.AddDate(0, 0, 1) {
		if IsWeekday(day) {
			count++
		}
	}
	return count
}

// Intersect returns the overlap of two ranges; ok is false when they are disjoint.
func (r Range) Intersect(other Range) (Range, bool) {
	start := r.Start
	if other.Start.After(start) {
		start = other.Start
	}
	end := r.End
	if other.End.Before(end) {
		end = other.End
	}
	if end.Before(start) {
		return Range{}, false
	}
	return Range{Start: start, End: end}, true
}

func (r Range) Contains(day time.Time) bool {
	return !day.Before(r.Start) && !day.After(r.End)
}

func IsWeekday(day time.Time) bool {
	wd := day.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
