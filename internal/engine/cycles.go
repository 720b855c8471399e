package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"cycleline/internal/apperr"
	"cycleline/internal/domain"
	"cycleline/internal/events"
	"cycleline/internal/lifecycle"
	"cycleline/internal/recurrence"
	"cycleline/internal/repo"
	"cycleline/internal/workflow"
)

const (
	triggerManual    = "manual"
	triggerActivate  = "activate"
	triggerScheduler = "scheduler"
)

// GenerateCycle creates the next cycle of a workflow on explicit request.
func (e Engine) GenerateCycle(ctx context.Context, workflowID, actorID string) (domain.Cycle, error) {
	defer e.Metrics.Observe("generate_cycle", time.Now())
	return e.generateCycle(ctx, workflowID, actorID, triggerManual)
}

// generateCycle builds one cycle with its groups and tasks in a single
// transaction. Recurring workflows advance repeat_multiplier and
// next_cycle_start_date in the same transaction.
func (e Engine) generateCycle(ctx context.Context, workflowID, actorID, trigger string) (domain.Cycle, error) {
	var c domain.Cycle
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		w, err := e.Repo.GetWorkflowTx(ctx, tx, workflowID)
		if err != nil {
			return notFound(err, "workflow_id", "workflow", workflowID)
		}
		groups, err := e.Repo.ListTaskGroupsTx(ctx, tx, w.ID)
		if err != nil {
			return err
		}
		policy := policyOf(w)
		base, err := e.baseDate(ctx, tx, w)
		if err != nil {
			return err
		}
		steps := 0
		if policy.IsRecurrent() {
			steps = w.RepeatMultiplier * policy.RepeatEvery
		}
		number, err := e.Repo.NextCycleNumber(ctx, tx, w.ID)
		if err != nil {
			return err
		}
		now := e.timestamp()
		start := policy.CycleStart(base, w.RepeatMultiplier)
		c = domain.Cycle{
			ID:                   uuid.New().String(),
			WorkflowID:           w.ID,
			CycleNumber:          number,
			Title:                w.Title,
			Description:          w.Description,
			Contact:              w.Contact,
			IsVerificationNeeded: w.IsVerificationNeeded,
			IsCurrent:            true,
			Status:               string(lifecycle.Assigned),
			StartDate:            workflow.FormatDate(start),
			CreatedAt:            now,
			UpdatedAt:            now,
		}

		var cycleGroups []domain.CycleTaskGroup
		var cycleTasks []domain.CycleTask
		latestEnd := ""
		for _, g := range groups {
			defs, err := e.Repo.ListTaskDefinitionsTx(ctx, tx, g.ID)
			if err != nil {
				return err
			}
			cg := domain.CycleTaskGroup{
				ID:          uuid.New().String(),
				CycleID:     c.ID,
				TaskGroupID: g.ID,
				Title:       g.Title,
				Description: g.Description,
				Contact:     g.Contact,
				SortIndex:   g.SortIndex,
				Status:      string(lifecycle.Assigned),
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			cycleGroups = append(cycleGroups, cg)
			for _, d := range defs {
				t := domain.CycleTask{
					ID:               uuid.New().String(),
					CycleID:          c.ID,
					CycleTaskGroupID: cg.ID,
					TaskDefinitionID: d.ID,
					Title:            d.Title,
					Description:      d.Description,
					Contact:          d.Contact,
					StartDate:        shiftStored(d.StartDate, policy.Unit, steps),
					EndDate:          shiftStored(d.EndDate, policy.Unit, steps),
					TaskType:         d.TaskType,
					ResponseOptions:  cloneStrings(d.ResponseOptions),
					ObjectApproval:   d.ObjectApproval,
					SortIndex:        d.SortIndex,
					Status:           string(lifecycle.Assigned),
					CreatedAt:        now,
					UpdatedAt:        now,
				}
				if t.EndDate > latestEnd {
					latestEnd = t.EndDate
				}
				cycleTasks = append(cycleTasks, t)
			}
		}
		c.EndDate = latestEnd
		if c.EndDate == "" && policy.IsRecurrent() {
			c.EndDate = workflow.FormatDate(policy.CycleStart(base, w.RepeatMultiplier+1).AddDate(0, 0, -1))
		}

		if err := e.Repo.InsertCycle(ctx, tx, c); err != nil {
			return err
		}
		for _, cg := range cycleGroups {
			if err := e.Repo.InsertCycleTaskGroup(ctx, tx, cg); err != nil {
				return err
			}
		}
		for _, t := range cycleTasks {
			if err := e.Repo.InsertCycleTask(ctx, tx, t); err != nil {
				return err
			}
		}

		if policy.IsRecurrent() {
			w.RepeatMultiplier++
			next := workflow.FormatDate(policy.CycleStart(base, w.RepeatMultiplier))
			w.NextCycleStartDate = &next
			w.UpdatedAt = now
			if err := e.Repo.UpdateWorkflow(ctx, tx, w); err != nil {
				return err
			}
		}
		return e.Events.Append(ctx, tx, events.CycleGenerated, w.ID, string(lifecycle.KindCycle), c.ID, actorID, events.EventPayload{
			"cycle_number":          c.CycleNumber,
			"trigger":               trigger,
			"task_groups":           len(cycleGroups),
			"tasks":                 len(cycleTasks),
			"start_date":            c.StartDate,
			"end_date":              c.EndDate,
			"repeat_multiplier":     w.RepeatMultiplier,
			"next_cycle_start_date": w.NextCycleStartDate,
		})
	})
	if err != nil {
		return domain.Cycle{}, err
	}
	e.Metrics.Generated(trigger)
	e.logger().Info("cycle generated",
		slog.String("workflow_id", c.WorkflowID),
		slog.String("cycle_id", c.ID),
		slog.Int("cycle_number", c.CycleNumber),
		slog.String("trigger", trigger))
	return c, nil
}

func shiftStored(date string, unit recurrence.Unit, steps int) string {
	d := workflow.StoredDate(date)
	if d.IsZero() {
		return ""
	}
	if steps == 0 {
		return date
	}
	return workflow.FormatDate(recurrence.Shift(d, unit, steps))
}

// catchUp generates cycles while the workflow is active and its next start
// date is not after today, at most Config.MaxCatchUp() of them.
func (e Engine) catchUp(ctx context.Context, workflowID, actorID, trigger string) ([]domain.Cycle, error) {
	today := workflow.FormatDate(e.today())
	var out []domain.Cycle
	for i := 0; i < e.Config.MaxCatchUp(); i++ {
		w, err := e.Repo.GetWorkflow(ctx, workflowID)
		if err != nil {
			return out, notFound(err, "workflow_id", "workflow", workflowID)
		}
		if w.Status != domain.WorkflowActive || !w.IsRecurrent() || w.NextCycleStartDate == nil || *w.NextCycleStartDate > today {
			return out, nil
		}
		c, err := e.generateCycle(ctx, w.ID, actorID, trigger)
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
	return out, nil
}

// GenerateDueCycles runs one scheduler pass over every due workflow. A
// failure on one workflow does not stop the others; all failures are
// returned joined.
func (e Engine) GenerateDueCycles(ctx context.Context, actorID string) ([]domain.Cycle, error) {
	defer e.Metrics.Observe("generate_due_cycles", time.Now())
	due, err := e.Repo.ListDueWorkflows(ctx, workflow.FormatDate(e.today()))
	if err != nil {
		return nil, err
	}
	var out []domain.Cycle
	var errs []error
	for _, w := range due {
		cycles, err := e.catchUp(ctx, w.ID, actorID, triggerScheduler)
		out = append(out, cycles...)
		if err != nil {
			e.logger().Warn("scheduled generation failed", slog.String("workflow_id", w.ID), slog.Any("error", err))
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

// CycleUpdateOptions edits a cycle's descriptive fields. Status goes
// through SetStatus.
type CycleUpdateOptions struct {
	ID                   string
	Title                *string
	Description          *string
	Contact              *string
	StartDate            *string
	EndDate              *string
	IsVerificationNeeded *bool
	ActorID              string
}

func (e Engine) UpdateCycle(ctx context.Context, opts CycleUpdateOptions) (domain.Cycle, error) {
	c, err := e.Repo.GetCycle(ctx, opts.ID)
	if err != nil {
		return c, notFound(err, "id", "cycle", opts.ID)
	}
	if err := workflow.CheckVerificationFlag(c.IsVerificationNeeded, opts.IsVerificationNeeded); err != nil {
		return c, err
	}
	changed := map[string]any{}
	if opts.Title != nil {
		title := strings.TrimSpace(*opts.Title)
		if title == "" {
			return c, apperr.Invalid("title", "title is required")
		}
		c.Title = title
		changed["title"] = title
	}
	if opts.Description != nil {
		c.Description = *opts.Description
		changed["description"] = c.Description
	}
	if opts.Contact != nil {
		c.Contact = *opts.Contact
		changed["contact"] = c.Contact
	}
	today := e.today()
	start := workflow.StoredDate(c.StartDate)
	end := workflow.StoredDate(c.EndDate)
	if opts.StartDate != nil {
		if start, err = workflow.ParseDate("start_date", *opts.StartDate, today); err != nil {
			return c, err
		}
		changed["start_date"] = workflow.FormatDate(start)
	}
	if opts.EndDate != nil {
		if end, err = workflow.ParseDate("end_date", *opts.EndDate, today); err != nil {
			return c, err
		}
		changed["end_date"] = workflow.FormatDate(end)
	}
	if err := workflow.CheckDateWindow(start, end); err != nil {
		return c, err
	}
	c.StartDate = workflow.FormatDate(start)
	c.EndDate = workflow.FormatDate(end)
	c.UpdatedAt = e.timestamp()
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateCycle(ctx, tx, c); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.CycleUpdated, c.WorkflowID, string(lifecycle.KindCycle), c.ID, opts.ActorID, events.EventPayload(changed))
	})
	if err != nil {
		return domain.Cycle{}, err
	}
	return c, nil
}

// CycleView is a cycle with its groups and tasks.
type CycleView struct {
	domain.Cycle
	Groups []CycleGroupView `json:"groups"`
}

type CycleGroupView struct {
	domain.CycleTaskGroup
	Tasks []domain.CycleTask `json:"tasks"`
}

func (e Engine) GetCycleView(ctx context.Context, cycleID string) (CycleView, error) {
	c, err := e.Repo.GetCycle(ctx, cycleID)
	if err != nil {
		return CycleView{}, notFound(err, "id", "cycle", cycleID)
	}
	groups, err := e.Repo.ListCycleTaskGroups(ctx, c.ID)
	if err != nil {
		return CycleView{}, err
	}
	tasks, err := e.Repo.ListCycleTasks(ctx, repo.CycleTaskFilters{CycleID: c.ID})
	if err != nil {
		return CycleView{}, err
	}
	byGroup := map[string][]domain.CycleTask{}
	for _, t := range tasks {
		byGroup[t.CycleTaskGroupID] = append(byGroup[t.CycleTaskGroupID], t)
	}
	view := CycleView{Cycle: c, Groups: make([]CycleGroupView, 0, len(groups))}
	for _, g := range groups {
		ts := byGroup[g.ID]
		if ts == nil {
			ts = []domain.CycleTask{}
		}
		view.Groups = append(view.Groups, CycleGroupView{CycleTaskGroup: g, Tasks: ts})
	}
	return view, nil
}
