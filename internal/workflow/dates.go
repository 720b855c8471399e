// Package workflow holds the validation rules for workflow templates and
// their task definitions.
package workflow

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"cycleline/internal/apperr"
)

// DateLayout is the storage form of calendar dates.
const DateLayout = time.DateOnly

// ValidateDate truncates t to a calendar date. Years below 100 are read as
// two-digit years of today's century.
func ValidateDate(t time.Time, today time.Time) time.Time {
	y, m, d := t.Date()
	if y < 100 {
		y += (today.Year() / 100) * 100
	}
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate reads a user supplied date or date-time and runs ValidateDate
// on it. Empty input returns the zero time.
func ParseDate(field, s string, today time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		t, err = dateparse.ParseIn(s, time.UTC)
		if err != nil {
			return time.Time{}, apperr.Invalid(field, "invalid date %q", s)
		}
	}
	return ValidateDate(t, today), nil
}

// FormatDate renders a date for storage, "" for the zero time.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

// CheckDateWindow enforces start <= end when both are set.
func CheckDateWindow(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return nil
	}
	if start.After(end) {
		return apperr.Constraint("start_date", "start date %s is after end date %s", FormatDate(start), FormatDate(end))
	}
	return nil
}

// StoredDate parses a date previously written by FormatDate.
func StoredDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
