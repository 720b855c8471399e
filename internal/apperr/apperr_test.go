package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"invalid", Invalid("unit", "bad unit %q", "year"), ErrInvalidArgument},
		{"constraint", Constraint("start_date", "after end"), ErrConstraintViolation},
		{"not found", NotFound("parent_id", "workflow %s", "x"), ErrNotFound},
		{"wrapped", fmt.Errorf("update: %w", Constraint("", "nope")), ErrConstraintViolation},
		{"plain", errors.New("boom"), nil},
		{"bare sentinel", ErrNotFound, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestErrorMessageAndField(t *testing.T) {
	err := Invalid("task_type", "invalid type %q", "radio")
	assert.Equal(t, `task_type: invalid type "radio"`, err.Error())
	assert.Equal(t, "task_type", FieldOf(err))
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	assert.False(t, errors.Is(err, ErrConstraintViolation))

	assert.Equal(t, "boom", Constraint("", "boom").Error())
	assert.Empty(t, FieldOf(errors.New("x")))
}
