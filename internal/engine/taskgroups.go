package engine

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"cycleline/internal/apperr"
	"cycleline/internal/domain"
	"cycleline/internal/events"
	"cycleline/internal/workflow"
)

type TaskGroupCreateOptions struct {
	WorkflowID  string
	Title       string
	Description string
	Contact     string
	SortIndex   string
	ActorID     string
}

func (e Engine) CreateTaskGroup(ctx context.Context, opts TaskGroupCreateOptions) (domain.TaskGroup, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.TaskGroup{}, apperr.Invalid("title", "title is required")
	}
	w, err := e.Repo.GetWorkflow(ctx, opts.WorkflowID)
	if err != nil {
		return domain.TaskGroup{}, notFound(err, "workflow_id", "workflow", opts.WorkflowID)
	}
	contact := opts.Contact
	if contact == "" {
		contact = opts.ActorID
	}
	now := e.timestamp()
	g := domain.TaskGroup{
		ID:          uuid.New().String(),
		WorkflowID:  w.ID,
		Title:       title,
		Description: opts.Description,
		Contact:     contact,
		SortIndex:   opts.SortIndex,
		ModifiedBy:  opts.ActorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertTaskGroup(ctx, tx, g); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.TaskGroupCreated, w.ID, "task_group", g.ID, opts.ActorID, events.EventPayload{"title": g.Title})
	})
	if err != nil {
		return domain.TaskGroup{}, err
	}
	return g, nil
}

type TaskGroupUpdateOptions struct {
	ID          string
	Title       *string
	Description *string
	Contact     *string
	SortIndex   *string
	ActorID     string
}

func (e Engine) UpdateTaskGroup(ctx context.Context, opts TaskGroupUpdateOptions) (domain.TaskGroup, error) {
	g, err := e.Repo.GetTaskGroup(ctx, opts.ID)
	if err != nil {
		return g, notFound(err, "id", "task group", opts.ID)
	}
	if opts.Title != nil {
		title := strings.TrimSpace(*opts.Title)
		if title == "" {
			return g, apperr.Invalid("title", "title is required")
		}
		g.Title = title
	}
	if opts.Description != nil {
		g.Description = *opts.Description
	}
	if opts.Contact != nil {
		g.Contact = *opts.Contact
	}
	if opts.SortIndex != nil {
		g.SortIndex = *opts.SortIndex
	}
	g.ModifiedBy = opts.ActorID
	g.UpdatedAt = e.timestamp()
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateTaskGroup(ctx, tx, g); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.TaskGroupUpdated, g.WorkflowID, "task_group", g.ID, opts.ActorID, events.EventPayload{"title": g.Title})
	})
	if err != nil {
		return domain.TaskGroup{}, err
	}
	return g, nil
}

// DeleteTaskGroup removes a group and, by cascade, its task definitions.
// Cycle groups already generated from it keep their copy.
func (e Engine) DeleteTaskGroup(ctx context.Context, id, actorID string) error {
	g, err := e.Repo.GetTaskGroup(ctx, id)
	if err != nil {
		return notFound(err, "id", "task group", id)
	}
	defs, err := e.Repo.ListTaskDefinitions(ctx, g.ID)
	if err != nil {
		return err
	}
	return e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteTaskGroup(ctx, tx, g.ID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.TaskGroupDeleted, g.WorkflowID, "task_group", g.ID, actorID, events.EventPayload{
			"title":         g.Title,
			"tasks_deleted": len(defs),
		})
	})
}

type TaskDefinitionCreateOptions struct {
	TaskGroupID     string
	Title           string
	Description     string
	Contact         string
	StartDate       string
	EndDate         string
	TaskType        *string
	ResponseOptions []string
	SortIndex       string
	ObjectApproval  bool
	ActorID         string
}

func (e Engine) CreateTaskDefinition(ctx context.Context, opts TaskDefinitionCreateOptions) (domain.TaskDefinition, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.TaskDefinition{}, apperr.Invalid("title", "title is required")
	}
	taskType, err := workflow.ValidateTaskType(opts.TaskType)
	if err != nil {
		return domain.TaskDefinition{}, err
	}
	today := e.today()
	start, err := workflow.ParseDate("start_date", opts.StartDate, today)
	if err != nil {
		return domain.TaskDefinition{}, err
	}
	end, err := workflow.ParseDate("end_date", opts.EndDate, today)
	if err != nil {
		return domain.TaskDefinition{}, err
	}
	if err := workflow.CheckDateWindow(start, end); err != nil {
		return domain.TaskDefinition{}, err
	}
	g, err := e.Repo.GetTaskGroup(ctx, opts.TaskGroupID)
	if err != nil {
		return domain.TaskDefinition{}, notFound(err, "task_group_id", "task group", opts.TaskGroupID)
	}
	contact := opts.Contact
	if contact == "" {
		contact = opts.ActorID
	}
	now := e.timestamp()
	t := domain.TaskDefinition{
		ID:              uuid.New().String(),
		TaskGroupID:     g.ID,
		Title:           title,
		Description:     opts.Description,
		Contact:         contact,
		StartDate:       workflow.FormatDate(start),
		EndDate:         workflow.FormatDate(end),
		TaskType:        taskType,
		ResponseOptions: cleanOptions(opts.ResponseOptions),
		SortIndex:       opts.SortIndex,
		ObjectApproval:  opts.ObjectApproval,
		ModifiedBy:      opts.ActorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertTaskDefinition(ctx, tx, t); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.TaskCreated, g.WorkflowID, "task", t.ID, opts.ActorID, events.EventPayload{
			"title":      t.Title,
			"task_type":  t.TaskType,
			"start_date": t.StartDate,
			"end_date":   t.EndDate,
		})
	})
	if err != nil {
		return domain.TaskDefinition{}, err
	}
	return t, nil
}

type TaskDefinitionUpdateOptions struct {
	ID              string
	Title           *string
	Description     *string
	Contact         *string
	StartDate       *string
	EndDate         *string
	TaskType        *string
	ResponseOptions *[]string
	SortIndex       *string
	ObjectApproval  *bool
	ActorID         string
}

func (e Engine) UpdateTaskDefinition(ctx context.Context, opts TaskDefinitionUpdateOptions) (domain.TaskDefinition, error) {
	t, err := e.Repo.GetTaskDefinition(ctx, opts.ID)
	if err != nil {
		return t, notFound(err, "id", "task", opts.ID)
	}
	if opts.Title != nil {
		title := strings.TrimSpace(*opts.Title)
		if title == "" {
			return t, apperr.Invalid("title", "title is required")
		}
		t.Title = title
	}
	if opts.TaskType != nil {
		if t.TaskType, err = workflow.ValidateTaskType(opts.TaskType); err != nil {
			return t, err
		}
	}
	today := e.today()
	start := workflow.StoredDate(t.StartDate)
	end := workflow.StoredDate(t.EndDate)
	if opts.StartDate != nil {
		if start, err = workflow.ParseDate("start_date", *opts.StartDate, today); err != nil {
			return t, err
		}
	}
	if opts.EndDate != nil {
		if end, err = workflow.ParseDate("end_date", *opts.EndDate, today); err != nil {
			return t, err
		}
	}
	if err := workflow.CheckDateWindow(start, end); err != nil {
		return t, err
	}
	t.StartDate = workflow.FormatDate(start)
	t.EndDate = workflow.FormatDate(end)
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.Contact != nil {
		t.Contact = *opts.Contact
	}
	if opts.ResponseOptions != nil {
		t.ResponseOptions = cleanOptions(*opts.ResponseOptions)
	}
	if opts.SortIndex != nil {
		t.SortIndex = *opts.SortIndex
	}
	if opts.ObjectApproval != nil {
		t.ObjectApproval = *opts.ObjectApproval
	}
	g, err := e.Repo.GetTaskGroup(ctx, t.TaskGroupID)
	if err != nil {
		return t, err
	}
	t.ModifiedBy = opts.ActorID
	t.UpdatedAt = e.timestamp()
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateTaskDefinition(ctx, tx, t); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.TaskUpdated, g.WorkflowID, "task", t.ID, opts.ActorID, events.EventPayload{
			"title":      t.Title,
			"task_type":  t.TaskType,
			"start_date": t.StartDate,
			"end_date":   t.EndDate,
		})
	})
	if err != nil {
		return domain.TaskDefinition{}, err
	}
	return t, nil
}

func (e Engine) DeleteTaskDefinition(ctx context.Context, id, actorID string) error {
	t, err := e.Repo.GetTaskDefinition(ctx, id)
	if err != nil {
		return notFound(err, "id", "task", id)
	}
	g, err := e.Repo.GetTaskGroup(ctx, t.TaskGroupID)
	if err != nil {
		return err
	}
	return e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteTaskDefinition(ctx, tx, t.ID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.TaskDeleted, g.WorkflowID, "task", t.ID, actorID, events.EventPayload{"title": t.Title})
	})
}

// cleanOptions trims response options and drops empty entries, keeping
// order.
func cleanOptions(in []string) []string {
	out := make([]string, 0, len(in))
	for _, o := range in {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
