package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"cycleline/internal/domain"
	"cycleline/internal/events"
	"cycleline/internal/lifecycle"
	"cycleline/internal/repo"
)

type SetStatusOptions struct {
	Kind    string
	ID      string
	Status  string
	ActorID string
}

// StatusChange is one persisted status move, either the requested write or
// a rollup it caused.
type StatusChange struct {
	Kind     lifecycle.Kind   `json:"kind"`
	ID       string           `json:"id"`
	From     lifecycle.Status `json:"from"`
	To       lifecycle.Status `json:"to"`
	RolledUp bool             `json:"rolled_up"`
}

// StatusResult is the state after a status write. Task and Group are set
// according to the written kind.
type StatusResult struct {
	Kind     lifecycle.Kind         `json:"kind"`
	Task     *domain.CycleTask      `json:"task,omitempty"`
	Group    *domain.CycleTaskGroup `json:"group,omitempty"`
	Cycle    domain.Cycle           `json:"cycle"`
	Changes  []StatusChange         `json:"changes"`
	Archived bool                   `json:"archived"`
}

// SetStatus writes a status to a cycle task, cycle task group or cycle.
// Validation against the cycle's verification flag, the write, the rollup
// of every level above it and the is_current recomputation happen in one
// transaction under the cycle's lock; on any error nothing is persisted.
func (e Engine) SetStatus(ctx context.Context, opts SetStatusOptions) (StatusResult, error) {
	defer e.Metrics.Observe("set_status", time.Now())
	res, err := e.setStatus(ctx, opts)
	if err != nil {
		e.Metrics.Rejection(kindLabel(opts.Kind), reasonOf(err))
		return StatusResult{}, err
	}
	for _, ch := range res.Changes {
		e.Metrics.Transition(string(ch.Kind), string(ch.To))
	}
	if res.Archived {
		e.Metrics.Archived()
		e.logger().Info("cycle moved to history", slog.String("cycle_id", res.Cycle.ID), slog.String("status", res.Cycle.Status))
	}
	return res, nil
}

func (e Engine) setStatus(ctx context.Context, opts SetStatusOptions) (StatusResult, error) {
	kind, err := lifecycle.ParseKind(opts.Kind)
	if err != nil {
		return StatusResult{}, err
	}
	to, err := lifecycle.ParseStatus(opts.Status)
	if err != nil {
		return StatusResult{}, err
	}
	cycleID, err := e.owningCycleID(ctx, kind, opts.ID)
	if err != nil {
		return StatusResult{}, err
	}
	unlock := e.lockCycle(cycleID)
	defer unlock()

	res := StatusResult{Kind: kind, Changes: []StatusChange{}}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		c, err := e.Repo.GetCycleTx(ctx, tx, cycleID)
		if err != nil {
			return notFound(err, "cycle_id", "cycle", cycleID)
		}
		verify := c.IsVerificationNeeded
		if err := lifecycle.CheckTransition(kind, to, verify); err != nil {
			return err
		}
		now := e.timestamp()
		wasCurrent := c.IsCurrent
		cycleStatus := lifecycle.Status(c.Status)

		switch kind {
		case lifecycle.KindCycleTask:
			t, err := e.Repo.GetCycleTaskTx(ctx, tx, opts.ID)
			if err != nil {
				return notFound(err, "id", "cycle task", opts.ID)
			}
			g, err := e.Repo.GetCycleTaskGroupTx(ctx, tx, t.CycleTaskGroupID)
			if err != nil {
				return err
			}
			siblings, err := e.taskStatuses(ctx, tx, g.ID, t.ID)
			if err != nil {
				return err
			}
			otherGroups, err := e.groupStatuses(ctx, tx, c.ID, g.ID)
			if err != nil {
				return err
			}
			out := lifecycle.Cascade(e.Rollup, verify, lifecycle.Status(g.Status), cycleStatus, to, siblings, otherGroups)
			if err := checkRolledUp(lifecycle.KindCycleTaskGroup, out.GroupStatus, verify); err != nil {
				return err
			}
			if err := checkRolledUp(lifecycle.KindCycle, out.CycleStatus, verify); err != nil {
				return err
			}

			from := lifecycle.Status(t.Status)
			stampTask(&t, to, now)
			if err := e.Repo.UpdateCycleTaskStatus(ctx, tx, t); err != nil {
				return err
			}
			res.Changes = appendChange(res.Changes, kind, t.ID, from, to, false)
			if out.GroupStatus != lifecycle.Status(g.Status) {
				if err := e.Repo.UpdateCycleTaskGroupStatus(ctx, tx, g.ID, string(out.GroupStatus), now); err != nil {
					return err
				}
				res.Changes = appendChange(res.Changes, lifecycle.KindCycleTaskGroup, g.ID, lifecycle.Status(g.Status), out.GroupStatus, true)
				g.Status = string(out.GroupStatus)
				g.UpdatedAt = now
			}
			res.Changes = appendChange(res.Changes, lifecycle.KindCycle, c.ID, cycleStatus, out.CycleStatus, true)
			cycleStatus = out.CycleStatus
			res.Task = &t
			res.Group = &g

		case lifecycle.KindCycleTaskGroup:
			g, err := e.Repo.GetCycleTaskGroupTx(ctx, tx, opts.ID)
			if err != nil {
				return notFound(err, "id", "cycle task group", opts.ID)
			}
			otherGroups, err := e.groupStatuses(ctx, tx, c.ID, g.ID)
			if err != nil {
				return err
			}
			from := lifecycle.Status(g.Status)
			if err := e.Repo.UpdateCycleTaskGroupStatus(ctx, tx, g.ID, string(to), now); err != nil {
				return err
			}
			g.Status = string(to)
			g.UpdatedAt = now
			res.Changes = appendChange(res.Changes, kind, g.ID, from, to, false)
			next := e.Rollup.Apply(cycleStatus, append(otherGroups, to), verify)
			if err := checkRolledUp(lifecycle.KindCycle, next, verify); err != nil {
				return err
			}
			res.Changes = appendChange(res.Changes, lifecycle.KindCycle, c.ID, cycleStatus, next, true)
			cycleStatus = next
			res.Group = &g

		case lifecycle.KindCycle:
			res.Changes = appendChange(res.Changes, kind, c.ID, cycleStatus, to, false)
			cycleStatus = to
		}

		c.Status = string(cycleStatus)
		c.IsCurrent = lifecycle.IsCurrent(cycleStatus, verify)
		c.UpdatedAt = now
		if err := e.Repo.UpdateCycle(ctx, tx, c); err != nil {
			return err
		}
		res.Cycle = c
		res.Archived = wasCurrent && !c.IsCurrent

		for _, ch := range res.Changes {
			if err := e.Events.Append(ctx, tx, events.StatusChanged, c.WorkflowID, string(ch.Kind), ch.ID, opts.ActorID, events.EventPayload{
				"from":      ch.From,
				"to":        ch.To,
				"cycle_id":  c.ID,
				"rolled_up": ch.RolledUp,
			}); err != nil {
				return err
			}
		}
		if res.Archived {
			return e.Events.Append(ctx, tx, events.CycleArchived, c.WorkflowID, string(lifecycle.KindCycle), c.ID, opts.ActorID, events.EventPayload{
				"status":                 c.Status,
				"is_verification_needed": verify,
			})
		}
		return nil
	})
	if err != nil {
		return StatusResult{}, err
	}
	return res, nil
}

// kindLabel bounds the metric label to the known kinds.
func kindLabel(raw string) string {
	if kind, err := lifecycle.ParseKind(raw); err == nil {
		return string(kind)
	}
	return "unknown"
}

// checkRolledUp rejects a derived parent status the parent may not hold.
func checkRolledUp(kind lifecycle.Kind, st lifecycle.Status, verificationNeeded bool) error {
	if lifecycle.IsAllowed(kind, st, verificationNeeded) {
		return nil
	}
	return fmt.Errorf("rollup produced status %q, not legal for %s", st, kind)
}

// owningCycleID resolves the lock key before the transaction starts. The
// cycle of an entity never changes.
func (e Engine) owningCycleID(ctx context.Context, kind lifecycle.Kind, id string) (string, error) {
	switch kind {
	case lifecycle.KindCycleTask:
		t, err := e.Repo.GetCycleTask(ctx, id)
		if err != nil {
			return "", notFound(err, "id", "cycle task", id)
		}
		return t.CycleID, nil
	case lifecycle.KindCycleTaskGroup:
		g, err := e.Repo.GetCycleTaskGroup(ctx, id)
		if err != nil {
			return "", notFound(err, "id", "cycle task group", id)
		}
		return g.CycleID, nil
	default:
		c, err := e.Repo.GetCycle(ctx, id)
		if err != nil {
			return "", notFound(err, "id", "cycle", id)
		}
		return c.ID, nil
	}
}

// taskStatuses lists the statuses of a group's tasks other than skipID.
func (e Engine) taskStatuses(ctx context.Context, tx *sql.Tx, groupID, skipID string) ([]lifecycle.Status, error) {
	tasks, err := e.Repo.ListCycleTasksTx(ctx, tx, repo.CycleTaskFilters{CycleTaskGroupID: groupID})
	if err != nil {
		return nil, err
	}
	out := make([]lifecycle.Status, 0, len(tasks))
	for _, t := range tasks {
		if t.ID != skipID {
			out = append(out, lifecycle.Status(t.Status))
		}
	}
	return out, nil
}

// groupStatuses lists the statuses of a cycle's groups other than skipID.
func (e Engine) groupStatuses(ctx context.Context, tx *sql.Tx, cycleID, skipID string) ([]lifecycle.Status, error) {
	groups, err := e.Repo.ListCycleTaskGroupsTx(ctx, tx, cycleID)
	if err != nil {
		return nil, err
	}
	out := make([]lifecycle.Status, 0, len(groups))
	for _, g := range groups {
		if g.ID != skipID {
			out = append(out, lifecycle.Status(g.Status))
		}
	}
	return out, nil
}

// stampTask maintains finished_at and verified_at for the new status.
func stampTask(t *domain.CycleTask, to lifecycle.Status, now string) {
	t.Status = string(to)
	t.UpdatedAt = now
	switch to {
	case lifecycle.Finished:
		t.FinishedAt = &now
		t.VerifiedAt = nil
	case lifecycle.Verified:
		if t.FinishedAt == nil {
			t.FinishedAt = &now
		}
		t.VerifiedAt = &now
	case lifecycle.Declined:
		t.VerifiedAt = nil
	default:
		t.FinishedAt = nil
		t.VerifiedAt = nil
	}
}

func appendChange(changes []StatusChange, kind lifecycle.Kind, id string, from, to lifecycle.Status, rolledUp bool) []StatusChange {
	if from == to {
		return changes
	}
	return append(changes, StatusChange{Kind: kind, ID: id, From: from, To: to, RolledUp: rolledUp})
}
