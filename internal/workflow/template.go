package workflow

import (
	"cycleline/internal/apperr"
)

const (
	TemplateNotTemplate = "Not Template"
	TemplateNotStarted  = "Not Started"
	TemplateInProgress  = "In Progress"
	TemplateCompleted   = "Completed"
)

// TemplateFacts are the inputs of TemplateStatus.
type TemplateFacts struct {
	IsTemplate     bool
	TaskCount      int
	IsRecurrent    bool
	OpenCycleTasks int
}

// TemplateStatus derives the display status of a workflow template. The
// checks run in priority order.
func TemplateStatus(f TemplateFacts) string {
	switch {
	case !f.IsTemplate:
		return TemplateNotTemplate
	case f.TaskCount == 0:
		return TemplateNotStarted
	case f.IsRecurrent:
		return TemplateInProgress
	case f.OpenCycleTasks > 0:
		return TemplateInProgress
	default:
		return TemplateCompleted
	}
}

// CheckVerificationFlag enforces the write-once is_verification_needed flag.
// A nil request or the stored value is accepted.
func CheckVerificationFlag(stored bool, requested *bool) error {
	if requested == nil || *requested == stored {
		return nil
	}
	return apperr.Constraint("is_verification_needed", "is_verification_needed cannot be changed once set")
}
