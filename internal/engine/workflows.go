package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"cycleline/internal/apperr"
	"cycleline/internal/domain"
	"cycleline/internal/events"
	"cycleline/internal/recurrence"
	"cycleline/internal/repo"
	"cycleline/internal/workflow"
)

// WorkflowCreateOptions are parameters for creating a workflow.
type WorkflowCreateOptions struct {
	ID          string
	ParentID    *string
	Title       string
	Description string
	Owners      []string
	Contact     string
	Unit        *string
	RepeatEvery *int
	// RepeatMultiplier is ignored; new workflows always start at 0.
	RepeatMultiplier     int
	IsVerificationNeeded *bool
	ActorID              string
}

func (e Engine) CreateWorkflow(ctx context.Context, opts WorkflowCreateOptions) (domain.Workflow, error) {
	defer e.Metrics.Observe("create_workflow", time.Now())
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Workflow{}, apperr.Invalid("title", "title is required")
	}
	policy, err := recurrence.New(opts.Unit, opts.RepeatEvery)
	if err != nil {
		return domain.Workflow{}, err
	}
	if err := e.validateParentID(ctx, opts.ParentID, ""); err != nil {
		return domain.Workflow{}, err
	}
	verify := true
	if opts.IsVerificationNeeded != nil {
		verify = *opts.IsVerificationNeeded
	}
	owners := cloneStrings(opts.Owners)
	if len(owners) == 0 && opts.ActorID != "" {
		owners = []string{opts.ActorID}
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.timestamp()
	w := domain.Workflow{
		ID:                   id,
		ParentID:             optionalString(derefString(opts.ParentID)),
		Title:                title,
		Description:          opts.Description,
		Owners:               owners,
		Contact:              opts.Contact,
		Unit:                 policy.UnitPtr(),
		RepeatEvery:          policy.RepeatEveryPtr(),
		RepeatMultiplier:     0,
		IsVerificationNeeded: verify,
		Status:               domain.WorkflowDraft,
		ModifiedBy:           opts.ActorID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertWorkflow(ctx, tx, w); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.WorkflowCreated, w.ID, "workflow", w.ID, opts.ActorID, events.EventPayload{
			"title":                  w.Title,
			"unit":                   w.Unit,
			"repeat_every":           w.RepeatEvery,
			"is_verification_needed": w.IsVerificationNeeded,
		})
	})
	if err != nil {
		return domain.Workflow{}, err
	}
	return w, nil
}

// validateParentID accepts nil or an existing workflow id whose ancestry
// does not include self.
func (e Engine) validateParentID(ctx context.Context, parentID *string, selfID string) error {
	if parentID == nil || *parentID == "" {
		return nil
	}
	if selfID != "" && *parentID == selfID {
		return apperr.Constraint("parent_id", "workflow cannot be its own parent")
	}
	parent, err := e.Repo.GetWorkflow(ctx, *parentID)
	if err != nil {
		return notFound(err, "parent_id", "parent workflow", *parentID)
	}
	if selfID == "" {
		return nil
	}
	seen := map[string]bool{parent.ID: true}
	for parent.ParentID != nil && *parent.ParentID != "" {
		next := *parent.ParentID
		if next == selfID {
			return apperr.Constraint("parent_id", "workflow %s is already a descendant of %s", *parentID, selfID)
		}
		if seen[next] {
			return nil
		}
		seen[next] = true
		if parent, err = e.Repo.GetWorkflow(ctx, next); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil
			}
			return err
		}
	}
	return nil
}

// WorkflowUpdateOptions encapsulates allowed updates. Nil fields are left
// unchanged.
type WorkflowUpdateOptions struct {
	ID          string
	Title       *string
	Description *string
	Contact     *string
	Owners      *[]string
	// SetParent changes parent_id; "" clears it.
	SetParent            *string
	Recurrence           recurrence.Change
	IsVerificationNeeded *bool
	ActorID              string
}

func (e Engine) UpdateWorkflow(ctx context.Context, opts WorkflowUpdateOptions) (domain.Workflow, error) {
	defer e.Metrics.Observe("update_workflow", time.Now())
	w, err := e.Repo.GetWorkflow(ctx, opts.ID)
	if err != nil {
		return w, notFound(err, "id", "workflow", opts.ID)
	}
	if err := workflow.CheckVerificationFlag(w.IsVerificationNeeded, opts.IsVerificationNeeded); err != nil {
		return w, err
	}
	current := policyOf(w)
	next, err := recurrence.CheckChange(current, opts.Recurrence, e.allowIndependentRecurrence())
	if err != nil {
		return w, err
	}
	if opts.SetParent != nil {
		if err := e.validateParentID(ctx, opts.SetParent, w.ID); err != nil {
			return w, err
		}
		w.ParentID = optionalString(*opts.SetParent)
	}
	changed := map[string]any{}
	if opts.Title != nil {
		title := strings.TrimSpace(*opts.Title)
		if title == "" {
			return w, apperr.Invalid("title", "title is required")
		}
		w.Title = title
		changed["title"] = title
	}
	if opts.Description != nil {
		w.Description = *opts.Description
		changed["description"] = w.Description
	}
	if opts.Contact != nil {
		w.Contact = *opts.Contact
		changed["contact"] = w.Contact
	}
	if opts.Owners != nil {
		w.Owners = cloneStrings(*opts.Owners)
		changed["owners"] = w.Owners
	}
	if opts.SetParent != nil {
		changed["parent_id"] = w.ParentID
	}
	recurrenceChanged := next.Unit != current.Unit || next.RepeatEvery != current.RepeatEvery
	w.ModifiedBy = opts.ActorID
	w.UpdatedAt = e.timestamp()

	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if recurrenceChanged {
			w.Unit = next.UnitPtr()
			w.RepeatEvery = next.RepeatEveryPtr()
			changed["unit"] = w.Unit
			changed["repeat_every"] = w.RepeatEvery
			switch {
			case !next.IsRecurrent():
				w.NextCycleStartDate = nil
			case w.Status == domain.WorkflowActive:
				base, err := e.baseDate(ctx, tx, w)
				if err != nil {
					return err
				}
				start := workflow.FormatDate(next.CycleStart(base, w.RepeatMultiplier))
				w.NextCycleStartDate = &start
			}
			changed["next_cycle_start_date"] = w.NextCycleStartDate
		}
		if err := e.Repo.UpdateWorkflow(ctx, tx, w); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.WorkflowUpdated, w.ID, "workflow", w.ID, opts.ActorID, events.EventPayload(changed))
	})
	if err != nil {
		return domain.Workflow{}, err
	}
	return w, nil
}

// CloneOptions controls CloneWorkflow. Title and IsVerificationNeeded
// override the source values when set.
type CloneOptions struct {
	SourceID             string
	Title                *string
	IsVerificationNeeded *bool
	// ClonePeople keeps the source contacts; otherwise the actor becomes
	// the contact of every copied object.
	ClonePeople bool
	ActorID     string
}

// CloneWorkflow copies a workflow with its task groups, task definitions
// and recurrence into a new Draft template. Cycles are not copied.
func (e Engine) CloneWorkflow(ctx context.Context, opts CloneOptions) (domain.Workflow, error) {
	defer e.Metrics.Observe("clone_workflow", time.Now())
	src, err := e.Repo.GetWorkflow(ctx, opts.SourceID)
	if err != nil {
		return src, notFound(err, "source_id", "workflow", opts.SourceID)
	}
	contactFor := func(c string) string {
		if opts.ClonePeople {
			return c
		}
		return opts.ActorID
	}
	now := e.timestamp()
	clone := src
	clone.ID = uuid.New().String()
	clone.ParentID = nil
	clone.Owners = cloneStrings(src.Owners)
	clone.Contact = contactFor(src.Contact)
	clone.RepeatMultiplier = 0
	clone.NextCycleStartDate = nil
	clone.Status = domain.WorkflowDraft
	clone.ModifiedBy = opts.ActorID
	clone.CreatedAt = now
	clone.UpdatedAt = now
	if opts.Title != nil {
		title := strings.TrimSpace(*opts.Title)
		if title == "" {
			return domain.Workflow{}, apperr.Invalid("title", "title is required")
		}
		clone.Title = title
	}
	if opts.IsVerificationNeeded != nil {
		clone.IsVerificationNeeded = *opts.IsVerificationNeeded
	}

	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertWorkflow(ctx, tx, clone); err != nil {
			return err
		}
		groups, err := e.Repo.ListTaskGroupsTx(ctx, tx, src.ID)
		if err != nil {
			return err
		}
		tasks := 0
		for _, g := range groups {
			defs, err := e.Repo.ListTaskDefinitionsTx(ctx, tx, g.ID)
			if err != nil {
				return err
			}
			ng := g
			ng.ID = uuid.New().String()
			ng.WorkflowID = clone.ID
			ng.Contact = contactFor(g.Contact)
			ng.ModifiedBy = opts.ActorID
			ng.CreatedAt = now
			ng.UpdatedAt = now
			if err := e.Repo.InsertTaskGroup(ctx, tx, ng); err != nil {
				return err
			}
			for _, d := range defs {
				nd := d
				nd.ID = uuid.New().String()
				nd.TaskGroupID = ng.ID
				nd.Contact = contactFor(d.Contact)
				nd.ResponseOptions = cloneStrings(d.ResponseOptions)
				nd.ModifiedBy = opts.ActorID
				nd.CreatedAt = now
				nd.UpdatedAt = now
				if err := e.Repo.InsertTaskDefinition(ctx, tx, nd); err != nil {
					return err
				}
				tasks++
			}
		}
		return e.Events.Append(ctx, tx, events.WorkflowCloned, clone.ID, "workflow", clone.ID, opts.ActorID, events.EventPayload{
			"source_id":    src.ID,
			"task_groups":  len(groups),
			"tasks":        tasks,
			"clone_people": opts.ClonePeople,
		})
	})
	if err != nil {
		return domain.Workflow{}, err
	}
	return clone, nil
}

// ActivateResult reports the cycles created while activating.
type ActivateResult struct {
	Workflow domain.Workflow `json:"workflow"`
	Cycles   []domain.Cycle  `json:"cycles"`
}

// ActivateWorkflow moves a Draft or Inactive workflow to Active. A one-time
// workflow gets its single cycle if it has none yet; a recurring one has its
// schedule anchored and every already-due cycle generated, up to the
// configured catch-up bound.
func (e Engine) ActivateWorkflow(ctx context.Context, workflowID, actorID string) (ActivateResult, error) {
	defer e.Metrics.Observe("activate_workflow", time.Now())
	w, err := e.Repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return ActivateResult{}, notFound(err, "id", "workflow", workflowID)
	}
	if w.Status == domain.WorkflowActive {
		return ActivateResult{}, apperr.Constraint("status", "workflow %s is already active", w.ID)
	}
	policy := policyOf(w)
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if policy.IsRecurrent() && w.NextCycleStartDate == nil {
			base, err := e.baseDate(ctx, tx, w)
			if err != nil {
				return err
			}
			start := workflow.FormatDate(policy.CycleStart(base, w.RepeatMultiplier))
			w.NextCycleStartDate = &start
		}
		w.Status = domain.WorkflowActive
		w.ModifiedBy = actorID
		w.UpdatedAt = e.timestamp()
		if err := e.Repo.UpdateWorkflow(ctx, tx, w); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.WorkflowActivated, w.ID, "workflow", w.ID, actorID, events.EventPayload{
			"next_cycle_start_date": w.NextCycleStartDate,
		})
	})
	if err != nil {
		return ActivateResult{}, err
	}

	res := ActivateResult{Workflow: w, Cycles: []domain.Cycle{}}
	if policy.IsRecurrent() {
		cycles, err := e.catchUp(ctx, w.ID, actorID, triggerActivate)
		res.Cycles = append(res.Cycles, cycles...)
		if err != nil {
			return res, err
		}
	} else {
		existing, err := e.Repo.ListCycles(ctx, repo.CycleFilters{WorkflowID: w.ID, Limit: 1})
		if err != nil {
			return res, err
		}
		if len(existing) == 0 {
			c, err := e.generateCycle(ctx, w.ID, actorID, triggerActivate)
			if err != nil {
				return res, err
			}
			res.Cycles = append(res.Cycles, c)
		}
	}
	if res.Workflow, err = e.Repo.GetWorkflow(ctx, w.ID); err != nil {
		return res, err
	}
	return res, nil
}

// DeactivateWorkflow stops scheduled generation. Existing cycles are kept.
func (e Engine) DeactivateWorkflow(ctx context.Context, workflowID, actorID string) (domain.Workflow, error) {
	w, err := e.Repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return w, notFound(err, "id", "workflow", workflowID)
	}
	if w.Status != domain.WorkflowActive {
		return w, apperr.Constraint("status", "workflow %s is not active", w.ID)
	}
	w.Status = domain.WorkflowInactive
	w.ModifiedBy = actorID
	w.UpdatedAt = e.timestamp()
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateWorkflow(ctx, tx, w); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.WorkflowDeactivated, w.ID, "workflow", w.ID, actorID, nil)
	})
	if err != nil {
		return domain.Workflow{}, err
	}
	return w, nil
}

// WorkflowView is a workflow with its derived fields.
type WorkflowView struct {
	domain.Workflow
	IsTemplate     bool   `json:"is_template"`
	IsRecurrent    bool   `json:"is_recurrent"`
	TemplateStatus string `json:"template_status"`
	TaskCount      int    `json:"task_count"`
	OpenCycleTasks int    `json:"open_cycle_tasks"`
}

func (e Engine) GetWorkflowView(ctx context.Context, workflowID string) (WorkflowView, error) {
	w, err := e.Repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return WorkflowView{}, notFound(err, "id", "workflow", workflowID)
	}
	return e.viewOf(ctx, w)
}

func (e Engine) viewOf(ctx context.Context, w domain.Workflow) (WorkflowView, error) {
	tasks, err := e.Repo.CountTaskDefinitions(ctx, w.ID)
	if err != nil {
		return WorkflowView{}, err
	}
	open, err := e.Repo.CountOpenCycleTasks(ctx, w.ID)
	if err != nil {
		return WorkflowView{}, err
	}
	return WorkflowView{
		Workflow:    w,
		IsTemplate:  w.IsTemplate(),
		IsRecurrent: w.IsRecurrent(),
		TemplateStatus: workflow.TemplateStatus(workflow.TemplateFacts{
			IsTemplate:     w.IsTemplate(),
			TaskCount:      tasks,
			IsRecurrent:    w.IsRecurrent(),
			OpenCycleTasks: open,
		}),
		TaskCount:      tasks,
		OpenCycleTasks: open,
	}, nil
}

// ListWorkflowViews decorates a listing with derived fields.
func (e Engine) ListWorkflowViews(ctx context.Context, ws []domain.Workflow) ([]WorkflowView, error) {
	out := make([]WorkflowView, 0, len(ws))
	for _, w := range ws {
		v, err := e.viewOf(ctx, w)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func policyOf(w domain.Workflow) recurrence.Policy {
	p := recurrence.Policy{RepeatMultiplier: w.RepeatMultiplier}
	if w.Unit != nil {
		p.Unit = recurrence.Unit(*w.Unit)
	}
	if w.RepeatEvery != nil {
		p.RepeatEvery = *w.RepeatEvery
	}
	return p
}

// baseDate anchors the cycle series: the earliest task start date, or the
// workflow's creation date when no task has one.
func (e Engine) baseDate(ctx context.Context, tx *sql.Tx, w domain.Workflow) (time.Time, error) {
	earliest, err := e.Repo.EarliestTaskStart(ctx, tx, w.ID)
	if err != nil {
		return time.Time{}, err
	}
	if d := workflow.StoredDate(earliest); !d.IsZero() {
		return d, nil
	}
	created, err := time.Parse(time.RFC3339, w.CreatedAt)
	if err != nil {
		return e.today(), nil
	}
	y, m, d := created.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}
