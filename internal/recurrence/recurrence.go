// Package recurrence models a workflow's repeat schedule.
package recurrence

import (
	"strings"
	"time"

	"cycleline/internal/apperr"
)

type Unit string

const (
	Day   Unit = "day"
	Week  Unit = "week"
	Month Unit = "month"
)

var Units = []Unit{Day, Week, Month}

// Policy is the recurrence part of a workflow. The zero value is a one-time
// schedule.
type Policy struct {
	Unit             Unit
	RepeatEvery      int
	RepeatMultiplier int
}

// ParseUnit validates an optional unit name. nil and "" mean no unit.
func ParseUnit(v *string) (Unit, error) {
	if v == nil {
		return "", nil
	}
	s := strings.ToLower(strings.TrimSpace(*v))
	if s == "" {
		return "", nil
	}
	for _, u := range Units {
		if string(u) == s {
			return u, nil
		}
	}
	return "", apperr.Invalid("unit", "invalid unit %q, expected one of day, week, month", *v)
}

// ValidateRepeatEvery accepts nil or a positive interval.
func ValidateRepeatEvery(v *int) (int, error) {
	if v == nil {
		return 0, nil
	}
	if *v <= 0 {
		return 0, apperr.Invalid("repeat_every", "repeat_every must be a positive integer, got %d", *v)
	}
	return *v, nil
}

// New builds a policy for a new workflow. The multiplier always starts at 0.
func New(unit *string, repeatEvery *int) (Policy, error) {
	u, err := ParseUnit(unit)
	if err != nil {
		return Policy{}, err
	}
	n, err := ValidateRepeatEvery(repeatEvery)
	if err != nil {
		return Policy{}, err
	}
	p := Policy{Unit: u, RepeatEvery: n}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks that unit and repeat_every are set together.
func (p Policy) Validate() error {
	if (p.Unit == "") != (p.RepeatEvery == 0) {
		return apperr.Constraint("repeat_every", "unit and repeat_every must be set together")
	}
	return nil
}

func (p Policy) IsRecurrent() bool {
	return p.RepeatEvery > 0
}

// UnitPtr and RepeatEveryPtr expose the nullable storage form.
func (p Policy) UnitPtr() *string {
	if p.Unit == "" {
		return nil
	}
	s := string(p.Unit)
	return &s
}

func (p Policy) RepeatEveryPtr() *int {
	if p.RepeatEvery == 0 {
		return nil
	}
	n := p.RepeatEvery
	return &n
}

// Change is a partial update of the pair. A *Set flag without a value
// clears the field.
type Change struct {
	UnitSet        bool
	Unit           *string
	RepeatEverySet bool
	RepeatEvery    *int
}

// CheckChange applies ch to current. Unless allowIndependent is set, moving
// only one of unit or repeat_every to a new value is rejected; moving both
// together (including clearing both) is accepted.
func CheckChange(current Policy, ch Change, allowIndependent bool) (Policy, error) {
	next := current
	if ch.UnitSet {
		u, err := ParseUnit(ch.Unit)
		if err != nil {
			return current, err
		}
		next.Unit = u
	}
	if ch.RepeatEverySet {
		n, err := ValidateRepeatEvery(ch.RepeatEvery)
		if err != nil {
			return current, err
		}
		next.RepeatEvery = n
	}
	unitChanged := next.Unit != current.Unit
	repeatChanged := next.RepeatEvery != current.RepeatEvery
	if !allowIndependent && unitChanged != repeatChanged {
		return current, apperr.Constraint("repeat_every", "unit and repeat_every cannot be changed independently")
	}
	if err := next.Validate(); err != nil {
		return current, err
	}
	return next, nil
}

// Shift moves date by n steps of unit. Months clamp to the last day of the
// target month, so Jan 31 shifted by one month is Feb 28 or 29.
func Shift(date time.Time, unit Unit, n int) time.Time {
	switch unit {
	case Day:
		return date.AddDate(0, 0, n)
	case Week:
		return date.AddDate(0, 0, 7*n)
	case Month:
		y, m, d := date.Date()
		first := time.Date(y, m, 1, 0, 0, 0, 0, date.Location()).AddDate(0, n, 0)
		if last := daysIn(first.Year(), first.Month(), date.Location()); d > last {
			d = last
		}
		return time.Date(first.Year(), first.Month(), d, date.Hour(), date.Minute(), date.Second(), date.Nanosecond(), date.Location())
	default:
		return date
	}
}

// CycleStart returns the start of the cycle generated with multiplier,
// measured from base.
func (p Policy) CycleStart(base time.Time, multiplier int) time.Time {
	if !p.IsRecurrent() {
		return base
	}
	return Shift(base, p.Unit, multiplier*p.RepeatEvery)
}

func daysIn(y int, m time.Month, loc *time.Location) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, loc).Day()
}
