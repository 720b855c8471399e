package recurrence

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"cycleline/internal/apperr"
)

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func TestParseUnit(t *testing.T) {
	for _, in := range []string{"day", "week", "month", "Month", " WEEK "} {
		_, err := ParseUnit(strPtr(in))
		assert.NoError(t, err, in)
	}
	u, err := ParseUnit(nil)
	require.NoError(t, err)
	assert.Equal(t, Unit(""), u)

	_, err = ParseUnit(strPtr("year"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInvalidArgument))
	assert.Contains(t, err.Error(), `"year"`)
}

func TestValidateRepeatEvery(t *testing.T) {
	for _, bad := range []int{0, -1, -30} {
		_, err := ValidateRepeatEvery(intPtr(bad))
		assert.True(t, errors.Is(err, apperr.ErrInvalidArgument), "value %d", bad)
	}
	n, err := ValidateRepeatEvery(intPtr(10))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestNewRequiresPair(t *testing.T) {
	_, err := New(strPtr("month"), nil)
	assert.True(t, errors.Is(err, apperr.ErrConstraintViolation))
	_, err = New(nil, intPtr(3))
	assert.True(t, errors.Is(err, apperr.ErrConstraintViolation))

	p, err := New(strPtr("month"), intPtr(10))
	require.NoError(t, err)
	assert.Equal(t, Policy{Unit: Month, RepeatEvery: 10}, p)
	assert.True(t, p.IsRecurrent())

	p, err = New(nil, nil)
	require.NoError(t, err)
	assert.False(t, p.IsRecurrent())
	assert.Nil(t, p.UnitPtr())
	assert.Nil(t, p.RepeatEveryPtr())
}

func TestCheckChange(t *testing.T) {
	monthly := Policy{Unit: Month, RepeatEvery: 10, RepeatMultiplier: 3}
	cases := []struct {
		name    string
		current Policy
		change  Change
		want    Policy
		kind    error
	}{
		{"unit only", monthly, Change{UnitSet: true, Unit: strPtr("day")}, monthly, apperr.ErrConstraintViolation},
		{"repeat only", monthly, Change{RepeatEverySet: true, RepeatEvery: intPtr(2)}, monthly, apperr.ErrConstraintViolation},
		{"both", monthly, Change{UnitSet: true, Unit: strPtr("day"), RepeatEverySet: true, RepeatEvery: intPtr(2)}, Policy{Unit: Day, RepeatEvery: 2, RepeatMultiplier: 3}, nil},
		{"clear both", monthly, Change{UnitSet: true, RepeatEverySet: true}, Policy{RepeatMultiplier: 3}, nil},
		{"same unit resubmitted", monthly, Change{UnitSet: true, Unit: strPtr("month")}, monthly, nil},
		{"one-time unit only", Policy{}, Change{UnitSet: true, Unit: strPtr("week")}, Policy{}, apperr.ErrConstraintViolation},
		{"one-time both", Policy{}, Change{UnitSet: true, Unit: strPtr("week"), RepeatEverySet: true, RepeatEvery: intPtr(1)}, Policy{Unit: Week, RepeatEvery: 1}, nil},
		{"bad unit", monthly, Change{UnitSet: true, Unit: strPtr("year"), RepeatEverySet: true, RepeatEvery: intPtr(1)}, monthly, apperr.ErrInvalidArgument},
		{"nothing", monthly, Change{}, monthly, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CheckChange(tc.current, tc.change, false)
			if tc.kind != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tc.kind), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCheckChangeIndependentToggle(t *testing.T) {
	monthly := Policy{Unit: Month, RepeatEvery: 10}
	got, err := CheckChange(monthly, Change{UnitSet: true, Unit: strPtr("week")}, true)
	require.NoError(t, err)
	assert.Equal(t, Policy{Unit: Week, RepeatEvery: 10}, got)

	// the pair must still end up consistent
	_, err = CheckChange(monthly, Change{UnitSet: true}, true)
	assert.True(t, errors.Is(err, apperr.ErrConstraintViolation))
}

func TestShift(t *testing.T) {
	d := func(y int, m time.Month, day int) time.Time { return time.Date(y, m, day, 0, 0, 0, 0, time.UTC) }
	cases := []struct {
		from time.Time
		unit Unit
		n    int
		want time.Time
	}{
		{d(2024, 1, 1), Day, 3, d(2024, 1, 4)},
		{d(2024, 1, 1), Week, 2, d(2024, 1, 15)},
		{d(2024, 1, 31), Month, 1, d(2024, 2, 29)},
		{d(2023, 1, 31), Month, 1, d(2023, 2, 28)},
		{d(2024, 1, 31), Month, 2, d(2024, 3, 31)},
		{d(2024, 11, 15), Month, 3, d(2025, 2, 15)},
		{d(2024, 5, 5), Month, 0, d(2024, 5, 5)},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Shift(tc.from, tc.unit, tc.n), "%s + %d %s", tc.from.Format(time.DateOnly), tc.n, tc.unit)
	}
}

func TestCycleStart(t *testing.T) {
	base := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	p := Policy{Unit: Month, RepeatEvery: 1}
	assert.Equal(t, time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC), p.CycleStart(base, 3))
	assert.Equal(t, base, Policy{}.CycleStart(base, 5))
}

func TestShift_MonthStaysInTargetMonth(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		day := rapid.IntRange(1, 31).Draw(t, "day")
		month := time.Month(rapid.IntRange(1, 12).Draw(t, "month"))
		n := rapid.IntRange(0, 48).Draw(t, "n")
		from := time.Date(2024, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day-1)
		if from.Month() != month {
			return
		}
		got := Shift(from, Month, n)
		wantMonth := time.Date(2024, month+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
		if got.Year() != wantMonth.Year() || got.Month() != wantMonth.Month() {
			t.Fatalf("shift %s by %d months landed in %s", from.Format(time.DateOnly), n, got.Format(time.DateOnly))
		}
		if got.Day() > from.Day() {
			t.Fatalf("day grew from %d to %d", from.Day(), got.Day())
		}
	})
}
