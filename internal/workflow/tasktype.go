package workflow

import (
	"strings"

	"cycleline/internal/apperr"
)

const (
	TaskTypeText     = "text"
	TaskTypeMenu     = "menu"
	TaskTypeCheckbox = "checkbox"
)

var TaskTypes = []string{TaskTypeText, TaskTypeMenu, TaskTypeCheckbox}

// ValidateTaskType defaults nil or empty to text and maps the "dropdown"
// display name onto menu.
func ValidateTaskType(v *string) (string, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return TaskTypeText, nil
	}
	s := strings.TrimSpace(*v)
	if s == "dropdown" {
		return TaskTypeMenu, nil
	}
	for _, tt := range TaskTypes {
		if tt == s {
			return tt, nil
		}
	}
	return "", apperr.Invalid("task_type", "invalid type %q", *v)
}
