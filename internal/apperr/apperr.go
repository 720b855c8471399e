// Package apperr defines the error kinds surfaced by workflow validation.
package apperr

import (
	"errors"
	"fmt"
)

// Kind sentinels. Every *Error unwraps to exactly one of them.
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrNotFound            = errors.New("not found")
)

// Error is a validation failure tied to an optional field.
type Error struct {
	Kind    error
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Kind }

// Invalid reports a bad enum or malformed value.
func Invalid(field, format string, args ...any) error {
	return &Error{Kind: ErrInvalidArgument, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Constraint reports a cross-field or state rule violation.
func Constraint(field, format string, args ...any) error {
	return &Error{Kind: ErrConstraintViolation, Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing referenced entity.
func NotFound(field, format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Field: field, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind sentinel of err or nil when err carries none.
func KindOf(err error) error {
	for _, k := range []error{ErrInvalidArgument, ErrConstraintViolation, ErrNotFound} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// FieldOf returns the field name attached to err, if any.
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}
