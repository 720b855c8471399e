package domain

type Workflow struct {
	ID                   string   `json:"id"`
	ParentID             *string  `json:"parent_id,omitempty"`
	Title                string   `json:"title"`
	Description          string   `json:"description,omitempty"`
	Owners               []string `json:"owners"`
	Contact              string   `json:"contact,omitempty"`
	Unit                 *string  `json:"unit,omitempty" enum:"day,week,month"`
	RepeatEvery          *int     `json:"repeat_every,omitempty"`
	RepeatMultiplier     int      `json:"repeat_multiplier"`
	NextCycleStartDate   *string  `json:"next_cycle_start_date,omitempty" format:"date"`
	IsVerificationNeeded bool     `json:"is_verification_needed"`
	Status               string   `json:"status" enum:"Draft,Active,Inactive"`
	ModifiedBy           string   `json:"modified_by,omitempty"`
	CreatedAt            string   `json:"created_at" format:"date-time"`
	UpdatedAt            string   `json:"updated_at" format:"date-time"`
}

const (
	WorkflowDraft    = "Draft"
	WorkflowActive   = "Active"
	WorkflowInactive = "Inactive"
)

func (w Workflow) IsTemplate() bool  { return w.ParentID == nil }
func (w Workflow) IsRecurrent() bool { return w.RepeatEvery != nil }

type TaskGroup struct {
	ID          string `json:"id"`
	WorkflowID  string `json:"workflow_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Contact     string `json:"contact,omitempty"`
	SortIndex   string `json:"sort_index"`
	ModifiedBy  string `json:"modified_by,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type TaskDefinition struct {
	ID              string   `json:"id"`
	TaskGroupID     string   `json:"task_group_id"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	Contact         string   `json:"contact,omitempty"`
	StartDate       string   `json:"start_date,omitempty" format:"date"`
	EndDate         string   `json:"end_date,omitempty" format:"date"`
	TaskType        string   `json:"task_type" enum:"text,menu,checkbox"`
	ResponseOptions []string `json:"response_options"`
	SortIndex       string   `json:"sort_index"`
	ObjectApproval  bool     `json:"object_approval"`
	ModifiedBy      string   `json:"modified_by,omitempty"`
	CreatedAt       string   `json:"created_at" format:"date-time"`
	UpdatedAt       string   `json:"updated_at" format:"date-time"`
}

type Cycle struct {
	ID                   string `json:"id"`
	WorkflowID           string `json:"workflow_id"`
	CycleNumber          int    `json:"cycle_number"`
	Title                string `json:"title"`
	Description          string `json:"description,omitempty"`
	Contact              string `json:"contact,omitempty"`
	IsVerificationNeeded bool   `json:"is_verification_needed"`
	IsCurrent            bool   `json:"is_current"`
	Status               string `json:"status" enum:"Assigned,InProgress,Finished,Declined,Verified"`
	StartDate            string `json:"start_date,omitempty" format:"date"`
	EndDate              string `json:"end_date,omitempty" format:"date"`
	CreatedAt            string `json:"created_at" format:"date-time"`
	UpdatedAt            string `json:"updated_at" format:"date-time"`
}

type CycleTaskGroup struct {
	ID          string `json:"id"`
	CycleID     string `json:"cycle_id"`
	TaskGroupID string `json:"task_group_id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Contact     string `json:"contact,omitempty"`
	SortIndex   string `json:"sort_index"`
	Status      string `json:"status" enum:"Assigned,InProgress,Finished,Verified"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type CycleTask struct {
	ID               string   `json:"id"`
	CycleID          string   `json:"cycle_id"`
	CycleTaskGroupID string   `json:"cycle_task_group_id"`
	TaskDefinitionID string   `json:"task_definition_id,omitempty"`
	Title            string   `json:"title"`
	Description      string   `json:"description,omitempty"`
	Contact          string   `json:"contact,omitempty"`
	StartDate        string   `json:"start_date,omitempty" format:"date"`
	EndDate          string   `json:"end_date,omitempty" format:"date"`
	TaskType         string   `json:"task_type"`
	ResponseOptions  []string `json:"response_options"`
	ObjectApproval   bool     `json:"object_approval"`
	SortIndex        string   `json:"sort_index"`
	Status           string   `json:"status" enum:"Assigned,InProgress,Finished,Declined,Verified"`
	FinishedAt       *string  `json:"finished_at,omitempty" format:"date-time"`
	VerifiedAt       *string  `json:"verified_at,omitempty" format:"date-time"`
	CreatedAt        string   `json:"created_at" format:"date-time"`
	UpdatedAt        string   `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	WorkflowID string `json:"workflow_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
