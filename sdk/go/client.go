package cyclelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Cycleline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no bearer token is set. The
	// server only honours it when started with --allow-actor-header.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Workflow represents the API workflow model.
type Workflow struct {
	ID                   string   `json:"id"`
	ParentID             *string  `json:"parent_id,omitempty"`
	Title                string   `json:"title"`
	Description          string   `json:"description,omitempty"`
	Owners               []string `json:"owners"`
	Contact              string   `json:"contact,omitempty"`
	Unit                 *string  `json:"unit,omitempty"`
	RepeatEvery          *int     `json:"repeat_every,omitempty"`
	RepeatMultiplier     int      `json:"repeat_multiplier"`
	NextCycleStartDate   *string  `json:"next_cycle_start_date,omitempty"`
	IsVerificationNeeded bool     `json:"is_verification_needed"`
	Status               string   `json:"status"`
	IsTemplate           bool     `json:"is_template"`
	IsRecurrent          bool     `json:"is_recurrent"`
	TemplateStatus       string   `json:"template_status"`
	TaskCount            int      `json:"task_count"`
	OpenCycleTasks       int      `json:"open_cycle_tasks"`
}

// WorkflowInput holds create parameters. Nil fields take server defaults.
type WorkflowInput struct {
	Title                string   `json:"title"`
	Description          string   `json:"description,omitempty"`
	ParentID             *string  `json:"parent_id,omitempty"`
	Owners               []string `json:"owners,omitempty"`
	Unit                 *string  `json:"unit,omitempty"`
	RepeatEvery          *int     `json:"repeat_every,omitempty"`
	IsVerificationNeeded *bool    `json:"is_verification_needed,omitempty"`
}

type TaskGroup struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	Title      string `json:"title"`
	Contact    string `json:"contact,omitempty"`
	SortIndex  string `json:"sort_index"`
}

type TaskDefinition struct {
	ID              string   `json:"id"`
	TaskGroupID     string   `json:"task_group_id"`
	Title           string   `json:"title"`
	StartDate       string   `json:"start_date,omitempty"`
	EndDate         string   `json:"end_date,omitempty"`
	TaskType        string   `json:"task_type"`
	ResponseOptions []string `json:"response_options"`
	SortIndex       string   `json:"sort_index"`
}

// TaskInput holds task definition create parameters.
type TaskInput struct {
	Title           string   `json:"title"`
	StartDate       string   `json:"start_date,omitempty"`
	EndDate         string   `json:"end_date,omitempty"`
	TaskType        string   `json:"task_type,omitempty"`
	ResponseOptions []string `json:"response_options,omitempty"`
	SortIndex       string   `json:"sort_index,omitempty"`
}

type Cycle struct {
	ID                   string `json:"id"`
	WorkflowID           string `json:"workflow_id"`
	CycleNumber          int    `json:"cycle_number"`
	Title                string `json:"title"`
	IsVerificationNeeded bool   `json:"is_verification_needed"`
	IsCurrent            bool   `json:"is_current"`
	Status               string `json:"status"`
	StartDate            string `json:"start_date,omitempty"`
	EndDate              string `json:"end_date,omitempty"`
}

type CycleTask struct {
	ID               string  `json:"id"`
	CycleTaskGroupID string  `json:"cycle_task_group_id"`
	Title            string  `json:"title"`
	Status           string  `json:"status"`
	StartDate        string  `json:"start_date,omitempty"`
	EndDate          string  `json:"end_date,omitempty"`
	FinishedAt       *string `json:"finished_at,omitempty"`
	VerifiedAt       *string `json:"verified_at,omitempty"`
}

type CycleGroup struct {
	ID     string      `json:"id"`
	Title  string      `json:"title"`
	Status string      `json:"status"`
	Tasks  []CycleTask `json:"tasks"`
}

// CycleView is a cycle with its groups and tasks.
type CycleView struct {
	Cycle
	Groups []CycleGroup `json:"groups"`
}

type StatusChange struct {
	Kind     string `json:"kind"`
	ID       string `json:"id"`
	From     string `json:"from"`
	To       string `json:"to"`
	RolledUp bool   `json:"rolled_up"`
}

// StatusResult is returned by the status endpoints.
type StatusResult struct {
	Kind     string         `json:"kind"`
	Cycle    Cycle          `json:"cycle"`
	Changes  []StatusChange `json:"changes"`
	Archived bool           `json:"archived"`
}

// Status target kinds.
const (
	KindCycleTask      = "cycle_task"
	KindCycleTaskGroup = "cycle_task_group"
	KindCycle          = "cycle"
)

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	WorkflowID string         `json:"workflow_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code, Message and Field are filled
// from the error envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Field      string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateWorkflow creates a draft workflow.
func (c *Client) CreateWorkflow(ctx context.Context, in WorkflowInput) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodPost, "workflows", in, &resp)
	return resp, err
}

func (c *Client) GetWorkflow(ctx context.Context, id string) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodGet, "workflows/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateWorkflow sends a partial update. A key mapped to nil clears
// parent_id, unit or repeat_every.
func (c *Client) UpdateWorkflow(ctx context.Context, id string, fields map[string]any) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodPatch, "workflows/"+url.PathEscape(id), fields, &resp)
	return resp, err
}

// ActivateWorkflow activates a workflow and returns the cycles it generated.
func (c *Client) ActivateWorkflow(ctx context.Context, id string) (Workflow, []Cycle, error) {
	var resp struct {
		Workflow Workflow `json:"workflow"`
		Cycles   []Cycle  `json:"cycles"`
	}
	err := c.do(ctx, http.MethodPost, "workflows/"+url.PathEscape(id)+"/activate", nil, &resp)
	return resp.Workflow, resp.Cycles, err
}

func (c *Client) CreateTaskGroup(ctx context.Context, workflowID, title string) (TaskGroup, error) {
	var resp TaskGroup
	endpoint := fmt.Sprintf("workflows/%s/task-groups", url.PathEscape(workflowID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"title": title}, &resp)
	return resp, err
}

func (c *Client) CreateTask(ctx context.Context, groupID string, in TaskInput) (TaskDefinition, error) {
	var resp TaskDefinition
	endpoint := fmt.Sprintf("task-groups/%s/tasks", url.PathEscape(groupID))
	err := c.do(ctx, http.MethodPost, endpoint, in, &resp)
	return resp, err
}

// GenerateCycle creates the next cycle of a workflow.
func (c *Client) GenerateCycle(ctx context.Context, workflowID string) (CycleView, error) {
	var resp CycleView
	endpoint := fmt.Sprintf("workflows/%s/cycles", url.PathEscape(workflowID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// ListCycles lists cycles of a workflow. current filters to current cycles
// (true) or history (false); nil returns both.
func (c *Client) ListCycles(ctx context.Context, workflowID string, current *bool) ([]Cycle, error) {
	var resp struct {
		Items []Cycle `json:"items"`
	}
	endpoint := fmt.Sprintf("workflows/%s/cycles", url.PathEscape(workflowID))
	if current != nil {
		endpoint = fmt.Sprintf("%s?current=%t", endpoint, *current)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) GetCycle(ctx context.Context, id string) (CycleView, error) {
	var resp CycleView
	err := c.do(ctx, http.MethodGet, "cycles/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// SetStatus writes a status to a cycle task, cycle task group or cycle.
func (c *Client) SetStatus(ctx context.Context, kind, id, status string) (StatusResult, error) {
	var prefix string
	switch kind {
	case KindCycleTask:
		prefix = "cycle-tasks"
	case KindCycleTaskGroup:
		prefix = "cycle-task-groups"
	case KindCycle:
		prefix = "cycles"
	default:
		return StatusResult{}, fmt.Errorf("unknown kind %q", kind)
	}
	var resp StatusResult
	endpoint := fmt.Sprintf("%s/%s/status", prefix, url.PathEscape(id))
	err := c.do(ctx, http.MethodPut, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return newAPIError(resp.StatusCode, b)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		if field, ok := env.Error.Details["field"].(string); ok {
			apiErr.Field = field
		}
	}
	return apiErr
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
