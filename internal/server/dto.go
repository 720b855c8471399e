package server

import (
	"encoding/json"

	"cycleline/internal/domain"
	"cycleline/internal/engine"
)

// Request payloads

type CreateWorkflowRequest struct {
	ID          *string  `json:"id,omitempty"`
	ParentID    *string  `json:"parent_id,omitempty" nullable:"true"`
	Title       string   `json:"title"`
	Description *string  `json:"description,omitempty"`
	Owners      []string `json:"owners,omitempty"`
	Contact     *string  `json:"contact,omitempty"`
	Unit        *string  `json:"unit,omitempty" nullable:"true"`
	RepeatEvery *int     `json:"repeat_every,omitempty" nullable:"true"`
	// Accepted for compatibility and ignored; new workflows start at 0.
	RepeatMultiplier     *int  `json:"repeat_multiplier,omitempty"`
	IsVerificationNeeded *bool `json:"is_verification_needed,omitempty"`
}

// UpdateWorkflowRequest is a partial update. For parent_id, unit and
// repeat_every an explicit null clears the field; an absent key leaves it.
type UpdateWorkflowRequest struct {
	Title                *string   `json:"title,omitempty"`
	Description          *string   `json:"description,omitempty"`
	Contact              *string   `json:"contact,omitempty"`
	Owners               *[]string `json:"owners,omitempty"`
	ParentID             *string   `json:"parent_id,omitempty" nullable:"true"`
	Unit                 *string   `json:"unit,omitempty" nullable:"true"`
	RepeatEvery          *int      `json:"repeat_every,omitempty" nullable:"true"`
	IsVerificationNeeded *bool     `json:"is_verification_needed,omitempty"`
}

type CloneWorkflowRequest struct {
	Title                *string `json:"title,omitempty"`
	IsVerificationNeeded *bool   `json:"is_verification_needed,omitempty"`
	ClonePeople          bool    `json:"clone_people,omitempty"`
}

type CreateTaskGroupRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Contact     *string `json:"contact,omitempty"`
	SortIndex   *string `json:"sort_index,omitempty"`
}

type UpdateTaskGroupRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Contact     *string `json:"contact,omitempty"`
	SortIndex   *string `json:"sort_index,omitempty"`
}

type CreateTaskRequest struct {
	Title           string   `json:"title"`
	Description     *string  `json:"description,omitempty"`
	Contact         *string  `json:"contact,omitempty"`
	StartDate       *string  `json:"start_date,omitempty"`
	EndDate         *string  `json:"end_date,omitempty"`
	TaskType        *string  `json:"task_type,omitempty" nullable:"true"`
	ResponseOptions []string `json:"response_options,omitempty"`
	SortIndex       *string  `json:"sort_index,omitempty"`
	ObjectApproval  bool     `json:"object_approval,omitempty"`
}

type UpdateTaskRequest struct {
	Title           *string   `json:"title,omitempty"`
	Description     *string   `json:"description,omitempty"`
	Contact         *string   `json:"contact,omitempty"`
	StartDate       *string   `json:"start_date,omitempty"`
	EndDate         *string   `json:"end_date,omitempty"`
	TaskType        *string   `json:"task_type,omitempty"`
	ResponseOptions *[]string `json:"response_options,omitempty"`
	SortIndex       *string   `json:"sort_index,omitempty"`
	ObjectApproval  *bool     `json:"object_approval,omitempty"`
}

type UpdateCycleRequest struct {
	Title                *string `json:"title,omitempty"`
	Description          *string `json:"description,omitempty"`
	Contact              *string `json:"contact,omitempty"`
	StartDate            *string `json:"start_date,omitempty"`
	EndDate              *string `json:"end_date,omitempty"`
	IsVerificationNeeded *bool   `json:"is_verification_needed,omitempty"`
}

type SetStatusRequest struct {
	Status string `json:"status" example:"Finished"`
}

// Responses

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedWorkflows struct {
	Items      []engine.WorkflowView `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type cycleList struct {
	Items []domain.Cycle `json:"items"`
}

type taskGroupList struct {
	Items []domain.TaskGroup `json:"items"`
}

type taskList struct {
	Items []domain.TaskDefinition `json:"items"`
}

type generateDueResponse struct {
	Generated []domain.Cycle `json:"generated"`
	Error     string         `json:"error,omitempty"`
}

// Conversion helpers

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		WorkflowID: e.WorkflowID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func emptyIfNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
