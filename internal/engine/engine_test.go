package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"cycleline/internal/apperr"
	"cycleline/internal/config"
	"cycleline/internal/db"
	"cycleline/internal/domain"
	"cycleline/internal/engine"
	"cycleline/internal/events"
	"cycleline/internal/lifecycle"
	"cycleline/internal/metrics"
	"cycleline/internal/migrate"
	"cycleline/internal/recurrence"
	"cycleline/internal/repo"
)

var fixedNow = time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	clock  *time.Time
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	cfg := config.Default()
	for _, m := range mutate {
		m(cfg)
	}
	clock := fixedNow
	eng := engine.New(conn, cfg).WithNow(func() time.Time { return clock })
	eng.Metrics = metrics.NewMetrics(prometheus.NewRegistry())
	return testEnv{Engine: eng, Ctx: ctx, clock: &clock}
}

func (env testEnv) setClock(t time.Time) { *env.clock = t }

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }
func boolPtr(b bool) *bool    { return &b }

// seedWorkflow creates a workflow with one group per entry of tasksPerGroup.
func seedWorkflow(t *testing.T, env testEnv, opts engine.WorkflowCreateOptions, tasksPerGroup ...int) domain.Workflow {
	t.Helper()
	if opts.Title == "" {
		opts.Title = "Quarterly access review"
	}
	if opts.ActorID == "" {
		opts.ActorID = "tester"
	}
	w, err := env.Engine.CreateWorkflow(env.Ctx, opts)
	require.NoError(t, err)
	for gi, n := range tasksPerGroup {
		g, err := env.Engine.CreateTaskGroup(env.Ctx, engine.TaskGroupCreateOptions{
			WorkflowID: w.ID,
			Title:      "group",
			SortIndex:  string(rune('a' + gi)),
			ActorID:    "tester",
		})
		require.NoError(t, err)
		for i := 0; i < n; i++ {
			_, err := env.Engine.CreateTaskDefinition(env.Ctx, engine.TaskDefinitionCreateOptions{
				TaskGroupID: g.ID,
				Title:       "task",
				StartDate:   "2026-09-01",
				EndDate:     "2026-09-05",
				SortIndex:   string(rune('a' + i)),
				ActorID:     "tester",
			})
			require.NoError(t, err)
		}
	}
	return w
}

func generate(t *testing.T, env testEnv, workflowID string) engine.CycleView {
	t.Helper()
	c, err := env.Engine.GenerateCycle(env.Ctx, workflowID, "tester")
	require.NoError(t, err)
	view, err := env.Engine.GetCycleView(env.Ctx, c.ID)
	require.NoError(t, err)
	return view
}

func setStatus(env testEnv, kind lifecycleKind, id, status string) (engine.StatusResult, error) {
	return env.Engine.SetStatus(env.Ctx, engine.SetStatusOptions{Kind: string(kind), ID: id, Status: status, ActorID: "tester"})
}

type lifecycleKind string

const (
	kindTask  lifecycleKind = "cycle_task"
	kindGroup lifecycleKind = "cycle_task_group"
	kindCycle lifecycleKind = "cycle"
)

func TestCreateWorkflowDefaults(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.CreateWorkflow(env.Ctx, engine.WorkflowCreateOptions{Title: "  Vendor audit ", ActorID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "Vendor audit", w.Title)
	assert.True(t, w.IsVerificationNeeded)
	assert.Equal(t, domain.WorkflowDraft, w.Status)
	assert.Equal(t, []string{"alice"}, w.Owners)
	assert.Equal(t, "alice", w.ModifiedBy)
	assert.Nil(t, w.Unit)
	assert.Nil(t, w.RepeatEvery)
	assert.True(t, w.IsTemplate())
	assert.False(t, w.IsRecurrent())

	stored, err := env.Engine.Repo.GetWorkflow(env.Ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, w, stored)

	evts, err := env.Engine.Repo.LatestEventsFrom(env.Ctx, 10, 0, repo.EventFilters{WorkflowID: w.ID})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, events.WorkflowCreated, evts[0].Type)
	assert.Equal(t, "alice", evts[0].ActorID)
}

func TestCreateWorkflowVerificationDefaultsToTrue(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Policies.AllowIndependentRecurrenceChange = true })
	omitted, err := env.Engine.CreateWorkflow(env.Ctx, engine.WorkflowCreateOptions{Title: "wf"})
	require.NoError(t, err)
	assert.True(t, omitted.IsVerificationNeeded)

	explicit, err := env.Engine.CreateWorkflow(env.Ctx, engine.WorkflowCreateOptions{Title: "wf", IsVerificationNeeded: boolPtr(false)})
	require.NoError(t, err)
	assert.False(t, explicit.IsVerificationNeeded)
}

func TestCreateWorkflowAlwaysResetsMultiplier(t *testing.T) {
	env := newTestEnv(t)
	rapid.Check(t, func(rt *rapid.T) {
		supplied := rapid.Int().Draw(rt, "repeat_multiplier")
		recurring := rapid.Bool().Draw(rt, "recurring")
		opts := engine.WorkflowCreateOptions{Title: "wf", RepeatMultiplier: supplied}
		if recurring {
			opts.Unit = strPtr(rapid.SampledFrom([]string{"day", "week", "month"}).Draw(rt, "unit"))
			opts.RepeatEvery = intPtr(rapid.IntRange(1, 30).Draw(rt, "repeat_every"))
		}
		w, err := env.Engine.CreateWorkflow(env.Ctx, opts)
		require.NoError(rt, err)
		require.Equal(rt, 0, w.RepeatMultiplier)
		stored, err := env.Engine.Repo.GetWorkflow(env.Ctx, w.ID)
		require.NoError(rt, err)
		require.Equal(rt, 0, stored.RepeatMultiplier)
	})
}

func TestCreateWorkflowValidation(t *testing.T) {
	env := newTestEnv(t)
	parent := seedWorkflow(t, env, engine.WorkflowCreateOptions{})

	cases := []struct {
		name  string
		opts  engine.WorkflowCreateOptions
		kind  error
		field string
	}{
		{"missing title", engine.WorkflowCreateOptions{}, apperr.ErrInvalidArgument, "title"},
		{"bad unit", engine.WorkflowCreateOptions{Title: "x", Unit: strPtr("fortnight"), RepeatEvery: intPtr(1)}, apperr.ErrInvalidArgument, "unit"},
		{"zero repeat", engine.WorkflowCreateOptions{Title: "x", Unit: strPtr("day"), RepeatEvery: intPtr(0)}, apperr.ErrInvalidArgument, "repeat_every"},
		{"unit alone", engine.WorkflowCreateOptions{Title: "x", Unit: strPtr("day")}, apperr.ErrConstraintViolation, "repeat_every"},
		{"repeat alone", engine.WorkflowCreateOptions{Title: "x", RepeatEvery: intPtr(3)}, apperr.ErrConstraintViolation, "repeat_every"},
		{"unknown parent", engine.WorkflowCreateOptions{Title: "x", ParentID: strPtr("missing")}, apperr.ErrNotFound, "parent_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Engine.CreateWorkflow(env.Ctx, tc.opts)
			require.ErrorIs(t, err, tc.kind)
			assert.Equal(t, tc.field, apperr.FieldOf(err))
		})
	}

	child, err := env.Engine.CreateWorkflow(env.Ctx, engine.WorkflowCreateOptions{Title: "child", ParentID: &parent.ID, Unit: strPtr("Month"), RepeatEvery: intPtr(2)})
	require.NoError(t, err)
	assert.Equal(t, parent.ID, *child.ParentID)
	assert.Equal(t, "month", *child.Unit)
	assert.False(t, child.IsTemplate())
}

func TestUpdateWorkflowRecurrencePair(t *testing.T) {
	env := newTestEnv(t)
	w := seedWorkflow(t, env, engine.WorkflowCreateOptions{Unit: strPtr("week"), RepeatEvery: intPtr(2)})

	_, err := env.Engine.UpdateWorkflow(env.Ctx, engine.WorkflowUpdateOptions{
		ID:         w.ID,
		Recurrence: recurrence.Change{UnitSet: true, Unit: strPtr("month")},
	})
	require.ErrorIs(t, err, apperr.ErrConstraintViolation)

	_, err = env.Engine.UpdateWorkflow(env.Ctx, engine.WorkflowUpdateOptions{
		ID:         w.ID,
		Recurrence: recurrence.Change{RepeatEverySet: true, RepeatEvery: intPtr(5)},
	})
	require.ErrorIs(t, err, apperr.ErrConstraintViolation)

	stored, err := env.Engine.Repo.GetWorkflow(env.Ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "week", *stored.Unit)
	assert.Equal(t, 2, *stored.RepeatEvery)

	updated, err := env.Engine.UpdateWorkflow(env.Ctx, engine.WorkflowUpdateOptions{
		ID:         w.ID,
		Recurrence: recurrence.Change{UnitSet: true, Unit: strPtr("month"), RepeatEverySet: true, RepeatEvery: intPtr(1)},
	})
	require.NoError(t, err)
	assert.Equal(t, "month", *updated.Unit)
	assert.Equal(t, 1, *updated.RepeatEvery)

	// resubmitting the stored unit alongside a new title is not a change
	updated, err = env.Engine.UpdateWorkflow(env.Ctx, engine.WorkflowUpdateOptions{
		ID:         w.ID,
		Title:      strPtr("renamed"),
		Recurrence: recurrence.Change{UnitSet: true, Unit: strPtr("month")},
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Title)

	cleared, err := env.Engine.UpdateWorkflow(env.Ctx, engine.WorkflowUpdateOptions{
		ID:         w.ID,
		Recurrence: recurrence.Change{UnitSet: true, RepeatEverySet: true},
	})
	require.NoError(t, err)
	assert.Nil(t, cleared.Unit)
	assert.Nil(t, cleared.RepeatEvery)
	assert.False(t, cleared.IsRecurrent())
}

func TestUpdateWorkflowIndependentChangeToggle(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Policies.AllowIndependentRecurrenceChange = true })
	w := seedWorkflow(t, env, engine.WorkflowCreateOptions{Unit: strPtr("week"), RepeatEvery: intPtr(2)})

	updated, err := env.Engine.UpdateWorkflow(env.Ctx, engine.WorkflowUpdateOptions{
		ID:         w.ID,
		Recurrence: recurrence.Change{RepeatEverySet: true, RepeatEvery: intPtr(3)},
	})
	require.NoError(t, err)
	assert.Equal(t, "week", *updated.Unit)
	assert.Equal(t, 3, *updated.RepeatEvery)

	// the pair must still be consistent
	_, err = env.Engine.UpdateWorkflow(env.Ctx, engine.WorkflowUpdateOptions{
		ID:         w.ID,
		Recurrence: recurrence.Change{UnitSet: true},
	})
	require.ErrorIs(t, err, apperr.ErrConstraintViolation)
}

func TestUpdateWorkflowVerificationFlagIsImmutable(t *testing.T) {
	env := newTestEnv(t)
	for _, v := range []bool{true, false} {
		w := seedWorkflow(t, env, engine.WorkflowCreateOptions{IsVerificationNeeded: boolPtr(v)})

		_, err := env.Engine.UpdateWorkflow(env.Ctx, engine.WorkflowUpdateOptions{ID: w.ID, IsVerificationNeeded: boolPtr(!v)})
		require.ErrorIs(t, err, apperr.ErrConstraintViolation)
		assert.Equal(t, "is_verification_needed", apperr.FieldOf(err))

		same, err := env.Engine.UpdateWorkflow(env.Ctx, engine.WorkflowUpdateOptions{ID: w.ID, IsVerificationNeeded: boolPtr(v)})
		require.NoError(t, err)
		assert.Equal(t, v, same.IsVerificationNeeded)
	}
}

func TestUpdateWorkflowParent(t *testing.T) {
	env := newTestEnv(t)
	a := seedWorkflow(t, env, engine.WorkflowCreateOptions{})
	b := seedWorkflow(t, env, engine.WorkflowCreateOptions{})

	_, err := env.Engine.UpdateWorkflow(env.Ctx, engine.WorkflowUpdateOptions{ID: b.ID, SetParent: strPtr("nope")})
	require.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = env.Engine.UpdateWorkflow(env.Ctx, engine.WorkflowUpdateOptions{ID: b.ID, SetParent: &b.ID})
	require.ErrorIs(t, err, apperr.ErrConstraintViolation)

	updated, err := env.Engine.UpdateWorkflow(env.Ctx, engine.WorkflowUpdateOptions{ID: b.ID, SetParent: &a.ID})
	require.NoError(t, err)
	assert.Equal(t, a.ID, *updated.ParentID)

	updated, err = env.Engine.UpdateWorkflow(env.Ctx, engine.WorkflowUpdateOptions{ID: b.ID, SetParent: strPtr("")})
	require.NoError(t, err)
	assert.Nil(t, updated.ParentID)

	_, err = env.Engine.UpdateWorkflow(env.Ctx, engine.WorkflowUpdateOptions{ID: "missing"})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateWorkflowParentRejectsLoops(t *testing.T) {
	env := newTestEnv(t)
	a := seedWorkflow(t, env, engine.WorkflowCreateOptions{})
	b := seedWorkflow(t, env, engine.WorkflowCreateOptions{ParentID: &a.ID})
	c := seedWorkflow(t, env, engine.WorkflowCreateOptions{ParentID: &b.ID})

	_, err := env.Engine.UpdateWorkflow(env.Ctx, engine.WorkflowUpdateOptions{ID: a.ID, SetParent: &b.ID})
	require.ErrorIs(t, err, apperr.ErrConstraintViolation)
	assert.Equal(t, "parent_id", apperr.FieldOf(err))
	_, err = env.Engine.UpdateWorkflow(env.Ctx, engine.WorkflowUpdateOptions{ID: a.ID, SetParent: &c.ID})
	require.ErrorIs(t, err, apperr.ErrConstraintViolation)

	stored, err := env.Engine.Repo.GetWorkflow(env.Ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ParentID)

	// re-parenting within a chain is fine as long as it stays acyclic
	updated, err := env.Engine.UpdateWorkflow(env.Ctx, engine.WorkflowUpdateOptions{ID: c.ID, SetParent: &a.ID})
	require.NoError(t, err)
	assert.Equal(t, a.ID, *updated.ParentID)
}

func TestTaskDefinitionValidation(t *testing.T) {
	env := newTestEnv(t)
	w := seedWorkflow(t, env, engine.WorkflowCreateOptions{})
	g, err := env.Engine.CreateTaskGroup(env.Ctx, engine.TaskGroupCreateOptions{WorkflowID: w.ID, Title: "g", ActorID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, "bob", g.Contact)

	_, err = env.Engine.CreateTaskDefinition(env.Ctx, engine.TaskDefinitionCreateOptions{TaskGroupID: g.ID, Title: "t", StartDate: "2026-05-02", EndDate: "2026-05-01"})
	require.ErrorIs(t, err, apperr.ErrConstraintViolation)

	_, err = env.Engine.CreateTaskDefinition(env.Ctx, engine.TaskDefinitionCreateOptions{TaskGroupID: g.ID, Title: "t", TaskType: strPtr("radio")})
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = env.Engine.CreateTaskDefinition(env.Ctx, engine.TaskDefinitionCreateOptions{TaskGroupID: g.ID, Title: "t", StartDate: "someday"})
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = env.Engine.CreateTaskDefinition(env.Ctx, engine.TaskDefinitionCreateOptions{TaskGroupID: "missing", Title: "t"})
	require.ErrorIs(t, err, apperr.ErrNotFound)

	td, err := env.Engine.CreateTaskDefinition(env.Ctx, engine.TaskDefinitionCreateOptions{
		TaskGroupID:     g.ID,
		Title:           "pick one",
		TaskType:        strPtr("dropdown"),
		ResponseOptions: []string{" yes ", "", "no"},
		StartDate:       "0002-04-16",
		EndDate:         "2026-04-20T15:04:05Z",
	})
	require.NoError(t, err)
	assert.Equal(t, "menu", td.TaskType)
	assert.Equal(t, []string{"yes", "no"}, td.ResponseOptions)
	assert.Equal(t, "2002-04-16", td.StartDate)
	assert.Equal(t, "2026-04-20", td.EndDate)

	plain, err := env.Engine.CreateTaskDefinition(env.Ctx, engine.TaskDefinitionCreateOptions{TaskGroupID: g.ID, Title: "plain"})
	require.NoError(t, err)
	assert.Equal(t, "text", plain.TaskType)

	_, err = env.Engine.UpdateTaskDefinition(env.Ctx, engine.TaskDefinitionUpdateOptions{ID: td.ID, StartDate: strPtr("2026-05-01")})
	require.ErrorIs(t, err, apperr.ErrConstraintViolation)

	stored, err := env.Engine.Repo.GetTaskDefinition(env.Ctx, td.ID)
	require.NoError(t, err)
	assert.Equal(t, "2002-04-16", stored.StartDate)

	updated, err := env.Engine.UpdateTaskDefinition(env.Ctx, engine.TaskDefinitionUpdateOptions{ID: td.ID, StartDate: strPtr("2026-04-18"), TaskType: strPtr("checkbox")})
	require.NoError(t, err)
	assert.Equal(t, "2026-04-18", updated.StartDate)
	assert.Equal(t, "checkbox", updated.TaskType)
}

func TestDeleteTaskGroupCascades(t *testing.T) {
	env := newTestEnv(t)
	w := seedWorkflow(t, env, engine.WorkflowCreateOptions{}, 3)
	groups, err := env.Engine.Repo.ListTaskGroups(env.Ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	require.NoError(t, env.Engine.DeleteTaskGroup(env.Ctx, groups[0].ID, "tester"))
	n, err := env.Engine.Repo.CountTaskDefinitions(env.Ctx, w.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.ErrorIs(t, env.Engine.DeleteTaskGroup(env.Ctx, groups[0].ID, "tester"), apperr.ErrNotFound)
}

func TestGenerateCycleSnapshotsWorkflow(t *testing.T) {
	env := newTestEnv(t)
	w := seedWorkflow(t, env, engine.WorkflowCreateOptions{IsVerificationNeeded: boolPtr(false)}, 2, 3)
	view := generate(t, env, w.ID)

	assert.Equal(t, 1, view.CycleNumber)
	assert.False(t, view.IsVerificationNeeded)
	assert.True(t, view.IsCurrent)
	assert.Equal(t, "Assigned", view.Status)
	assert.Equal(t, "2026-09-01", view.StartDate)
	assert.Equal(t, "2026-09-05", view.EndDate)
	require.Len(t, view.Groups, 2)
	assert.Len(t, view.Groups[0].Tasks, 2)
	assert.Len(t, view.Groups[1].Tasks, 3)
	for _, g := range view.Groups {
		assert.Equal(t, "Assigned", g.Status)
		for _, task := range g.Tasks {
			assert.Equal(t, "Assigned", task.Status)
			assert.Equal(t, "2026-09-01", task.StartDate)
		}
	}

	second := generate(t, env, w.ID)
	assert.Equal(t, 2, second.CycleNumber)
	stored, err := env.Engine.Repo.GetWorkflow(env.Ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.RepeatMultiplier)
	assert.Nil(t, stored.NextCycleStartDate)

	_, err = env.Engine.GenerateCycle(env.Ctx, "missing", "tester")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGenerateCycleAdvancesRecurrence(t *testing.T) {
	env := newTestEnv(t)
	w := seedWorkflow(t, env, engine.WorkflowCreateOptions{Unit: strPtr("week"), RepeatEvery: intPtr(2)}, 1)

	first := generate(t, env, w.ID)
	assert.Equal(t, "2026-09-01", first.Groups[0].Tasks[0].StartDate)
	second := generate(t, env, w.ID)
	assert.Equal(t, "2026-09-15", second.StartDate)
	assert.Equal(t, "2026-09-15", second.Groups[0].Tasks[0].StartDate)
	assert.Equal(t, "2026-09-19", second.Groups[0].Tasks[0].EndDate)

	stored, err := env.Engine.Repo.GetWorkflow(env.Ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.RepeatMultiplier)
	require.NotNil(t, stored.NextCycleStartDate)
	assert.Equal(t, "2026-09-29", *stored.NextCycleStartDate)
}

func TestGenerateCycleMonthEndClamps(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.CreateWorkflow(env.Ctx, engine.WorkflowCreateOptions{Title: "month end close", Unit: strPtr("month"), RepeatEvery: intPtr(1)})
	require.NoError(t, err)
	g, err := env.Engine.CreateTaskGroup(env.Ctx, engine.TaskGroupCreateOptions{WorkflowID: w.ID, Title: "close"})
	require.NoError(t, err)
	_, err = env.Engine.CreateTaskDefinition(env.Ctx, engine.TaskDefinitionCreateOptions{TaskGroupID: g.ID, Title: "reconcile", StartDate: "2026-01-31", EndDate: "2026-01-31"})
	require.NoError(t, err)

	generate(t, env, w.ID)
	feb := generate(t, env, w.ID)
	assert.Equal(t, "2026-02-28", feb.Groups[0].Tasks[0].StartDate)
	mar := generate(t, env, w.ID)
	assert.Equal(t, "2026-03-31", mar.Groups[0].Tasks[0].StartDate)
}

func TestSetStatusWithoutVerification(t *testing.T) {
	env := newTestEnv(t)
	w := seedWorkflow(t, env, engine.WorkflowCreateOptions{IsVerificationNeeded: boolPtr(false)}, 1)
	view := generate(t, env, w.ID)
	task := view.Groups[0].Tasks[0]

	_, err := setStatus(env, kindTask, task.ID, "Verified")
	require.ErrorIs(t, err, apperr.ErrConstraintViolation)

	res, err := setStatus(env, kindTask, task.ID, "InProgress")
	require.NoError(t, err)
	assert.True(t, res.Cycle.IsCurrent)
	assert.Equal(t, "InProgress", res.Cycle.Status)

	res, err = setStatus(env, kindTask, task.ID, "Declined")
	require.NoError(t, err)
	assert.Equal(t, "Declined", res.Task.Status)
	assert.Equal(t, "Finished", res.Group.Status)
	assert.Equal(t, "Finished", res.Cycle.Status)
	assert.False(t, res.Cycle.IsCurrent)
	assert.True(t, res.Archived)
}

func TestSetStatusFinishedArchivesWithoutVerification(t *testing.T) {
	env := newTestEnv(t)
	w := seedWorkflow(t, env, engine.WorkflowCreateOptions{IsVerificationNeeded: boolPtr(false)}, 1)
	view := generate(t, env, w.ID)

	res, err := setStatus(env, kindTask, view.Groups[0].Tasks[0].ID, "Finished")
	require.NoError(t, err)
	assert.False(t, res.Cycle.IsCurrent)
	require.NotNil(t, res.Task.FinishedAt)

	stored, err := env.Engine.Repo.GetCycle(env.Ctx, view.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsCurrent)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.Engine.Metrics.CyclesArchived))
}

func TestSetStatusWithVerification(t *testing.T) {
	env := newTestEnv(t)
	w := seedWorkflow(t, env, engine.WorkflowCreateOptions{}, 1)
	view := generate(t, env, w.ID)
	task := view.Groups[0].Tasks[0]

	res, err := setStatus(env, kindTask, task.ID, "Finished")
	require.NoError(t, err)
	assert.Equal(t, "Finished", res.Cycle.Status)
	assert.True(t, res.Cycle.IsCurrent)

	res, err = setStatus(env, kindTask, task.ID, "Verified")
	require.NoError(t, err)
	assert.Equal(t, "Verified", res.Group.Status)
	assert.Equal(t, "Verified", res.Cycle.Status)
	assert.False(t, res.Cycle.IsCurrent)
	require.NotNil(t, res.Task.VerifiedAt)

	// reopening brings the cycle back to current
	res, err = setStatus(env, kindTask, task.ID, "In Progress")
	require.NoError(t, err)
	assert.True(t, res.Cycle.IsCurrent)
	assert.Nil(t, res.Task.FinishedAt)
}

func TestSetStatusRollupAcrossGroups(t *testing.T) {
	env := newTestEnv(t)
	w := seedWorkflow(t, env, engine.WorkflowCreateOptions{}, 2, 1)
	view := generate(t, env, w.ID)
	g1, g2 := view.Groups[0], view.Groups[1]

	res, err := setStatus(env, kindTask, g1.Tasks[0].ID, "Verified")
	require.NoError(t, err)
	assert.Equal(t, "InProgress", res.Group.Status)
	assert.Equal(t, "InProgress", res.Cycle.Status)
	require.Len(t, res.Changes, 3)
	assert.False(t, res.Changes[0].RolledUp)
	assert.True(t, res.Changes[1].RolledUp)

	_, err = setStatus(env, kindTask, g1.Tasks[1].ID, "Verified")
	require.NoError(t, err)
	res, err = setStatus(env, kindTask, g2.Tasks[0].ID, "Finished")
	require.NoError(t, err)
	assert.Equal(t, "Finished", res.Cycle.Status)
	assert.True(t, res.Cycle.IsCurrent)

	res, err = setStatus(env, kindTask, g2.Tasks[0].ID, "Verified")
	require.NoError(t, err)
	assert.Equal(t, "Verified", res.Cycle.Status)
	assert.False(t, res.Cycle.IsCurrent)

	evts, err := env.Engine.Repo.LatestEventsFrom(env.Ctx, 100, 0, repo.EventFilters{WorkflowID: w.ID, Type: events.CycleArchived})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, view.ID, evts[0].EntityID)
}

func TestSetStatusGroupAndCycleLevels(t *testing.T) {
	env := newTestEnv(t)
	w := seedWorkflow(t, env, engine.WorkflowCreateOptions{IsVerificationNeeded: boolPtr(false)}, 1, 1)
	view := generate(t, env, w.ID)

	_, err := setStatus(env, kindGroup, view.Groups[0].ID, "Declined")
	require.ErrorIs(t, err, apperr.ErrConstraintViolation)
	_, err = setStatus(env, kindGroup, view.Groups[0].ID, "Verified")
	require.ErrorIs(t, err, apperr.ErrConstraintViolation)

	res, err := setStatus(env, kindGroup, view.Groups[0].ID, "Finished")
	require.NoError(t, err)
	assert.Nil(t, res.Task)
	assert.Equal(t, "InProgress", res.Cycle.Status)

	// tasks below a directly written group are untouched
	tasks, err := env.Engine.Repo.ListCycleTasks(env.Ctx, repo.CycleTaskFilters{CycleTaskGroupID: view.Groups[0].ID})
	require.NoError(t, err)
	assert.Equal(t, "Assigned", tasks[0].Status)

	_, err = setStatus(env, kindCycle, view.ID, "Verified")
	require.ErrorIs(t, err, apperr.ErrConstraintViolation)
	res, err = setStatus(env, kindCycle, view.ID, "Declined")
	require.NoError(t, err)
	assert.False(t, res.Cycle.IsCurrent)
}

func TestSetStatusErrors(t *testing.T) {
	env := newTestEnv(t)
	w := seedWorkflow(t, env, engine.WorkflowCreateOptions{}, 1)
	view := generate(t, env, w.ID)

	_, err := setStatus(env, kindTask, view.Groups[0].Tasks[0].ID, "Done")
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = setStatus(env, "workflow", w.ID, "Finished")
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = setStatus(env, kindTask, "missing", "Finished")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.Engine.Metrics.StatusRejections.WithLabelValues("cycle_task", "not_found")))
}

func TestSetStatusRejectsMalformedKind(t *testing.T) {
	env := newTestEnv(t)
	for _, kind := range []string{"cycle\xff", "Cycle", ""} {
		_, err := env.Engine.SetStatus(env.Ctx, engine.SetStatusOptions{Kind: kind, ID: "x", Status: "Finished"})
		require.ErrorIs(t, err, apperr.ErrInvalidArgument)
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(env.Engine.Metrics.StatusRejections.WithLabelValues("unknown", "invalid_argument")))
}

func TestSetStatusRejectsIllegalRollup(t *testing.T) {
	env := newTestEnv(t)
	w := seedWorkflow(t, env, engine.WorkflowCreateOptions{IsVerificationNeeded: boolPtr(false)}, 1)
	view := generate(t, env, w.ID)
	env.Engine.Rollup = func([]lifecycle.Status, bool) (lifecycle.Status, bool) {
		return lifecycle.Declined, true
	}

	_, err := setStatus(env, kindTask, view.Groups[0].Tasks[0].ID, "Finished")
	require.Error(t, err)

	after, err := env.Engine.GetCycleView(env.Ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, "Assigned", after.Groups[0].Status)
	assert.Equal(t, "Assigned", after.Groups[0].Tasks[0].Status)

	_, err = setStatus(env, kindGroup, view.Groups[0].ID, "Finished")
	require.NoError(t, err)

	env.Engine.Rollup = func([]lifecycle.Status, bool) (lifecycle.Status, bool) {
		return lifecycle.Verified, true
	}
	_, err = setStatus(env, kindGroup, view.Groups[0].ID, "InProgress")
	require.Error(t, err)
}

func TestSetStatusFailureLeavesNoPartialRollup(t *testing.T) {
	env := newTestEnv(t)
	w := seedWorkflow(t, env, engine.WorkflowCreateOptions{IsVerificationNeeded: boolPtr(false)}, 1)
	view := generate(t, env, w.ID)
	task := view.Groups[0].Tasks[0]

	// the event append is the last write of the unit of work
	_, err := env.Engine.DB.ExecContext(env.Ctx, `DROP TABLE events`)
	require.NoError(t, err)

	_, err = setStatus(env, kindTask, task.ID, "Finished")
	require.Error(t, err)

	after, err := env.Engine.GetCycleView(env.Ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, "Assigned", after.Status)
	assert.True(t, after.IsCurrent)
	assert.Equal(t, "Assigned", after.Groups[0].Status)
	assert.Equal(t, "Assigned", after.Groups[0].Tasks[0].Status)
	assert.Nil(t, after.Groups[0].Tasks[0].FinishedAt)
}

func TestSetStatusConcurrentSiblings(t *testing.T) {
	env := newTestEnv(t)
	w := seedWorkflow(t, env, engine.WorkflowCreateOptions{IsVerificationNeeded: boolPtr(false)}, 4, 4)
	view := generate(t, env, w.ID)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for _, g := range view.Groups {
		for _, task := range g.Tasks {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, err := setStatus(env, kindTask, id, "Finished")
				errs <- err
			}(task.ID)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	after, err := env.Engine.GetCycleView(env.Ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, "Finished", after.Status)
	assert.False(t, after.IsCurrent)
	for _, g := range after.Groups {
		assert.Equal(t, "Finished", g.Status)
	}
}

func TestUpdateCycleVerificationFlagIsImmutable(t *testing.T) {
	env := newTestEnv(t)
	w := seedWorkflow(t, env, engine.WorkflowCreateOptions{}, 1)
	view := generate(t, env, w.ID)

	_, err := env.Engine.UpdateCycle(env.Ctx, engine.CycleUpdateOptions{ID: view.ID, IsVerificationNeeded: boolPtr(false)})
	require.ErrorIs(t, err, apperr.ErrConstraintViolation)

	c, err := env.Engine.UpdateCycle(env.Ctx, engine.CycleUpdateOptions{ID: view.ID, IsVerificationNeeded: boolPtr(true), Title: strPtr("September run")})
	require.NoError(t, err)
	assert.Equal(t, "September run", c.Title)
	assert.True(t, c.IsVerificationNeeded)

	_, err = env.Engine.UpdateCycle(env.Ctx, engine.CycleUpdateOptions{ID: view.ID, StartDate: strPtr("2026-12-01")})
	require.ErrorIs(t, err, apperr.ErrConstraintViolation)
}

func TestCloneWorkflow(t *testing.T) {
	env := newTestEnv(t)
	src := seedWorkflow(t, env, engine.WorkflowCreateOptions{Unit: strPtr("month"), RepeatEvery: intPtr(10), Contact: "owner", ActorID: "owner"}, 2, 1)
	generate(t, env, src.ID)

	clone, err := env.Engine.CloneWorkflow(env.Ctx, engine.CloneOptions{SourceID: src.ID, Title: strPtr("WF - copy 1"), ActorID: "cloner"})
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, clone.ID)
	assert.Equal(t, "WF - copy 1", clone.Title)
	assert.Equal(t, "month", *clone.Unit)
	assert.Equal(t, 10, *clone.RepeatEvery)
	assert.Equal(t, 0, clone.RepeatMultiplier)
	assert.Nil(t, clone.NextCycleStartDate)
	assert.Equal(t, domain.WorkflowDraft, clone.Status)
	assert.Equal(t, src.IsVerificationNeeded, clone.IsVerificationNeeded)
	assert.Equal(t, "cloner", clone.Contact)
	assert.Equal(t, "cloner", clone.ModifiedBy)

	groups, err := env.Engine.Repo.ListTaskGroups(env.Ctx, clone.ID)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	defs, err := env.Engine.Repo.ListTaskDefinitions(env.Ctx, groups[0].ID)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "cloner", defs[0].Contact)
	assert.Equal(t, "cloner", defs[0].ModifiedBy)
	assert.Equal(t, "2026-09-01", defs[0].StartDate)

	cycles, err := env.Engine.Repo.ListCycles(env.Ctx, repo.CycleFilters{WorkflowID: clone.ID})
	require.NoError(t, err)
	assert.Empty(t, cycles)

	people, err := env.Engine.CloneWorkflow(env.Ctx, engine.CloneOptions{SourceID: src.ID, ClonePeople: true, IsVerificationNeeded: boolPtr(false), ActorID: "cloner"})
	require.NoError(t, err)
	assert.Equal(t, "owner", people.Contact)
	assert.False(t, people.IsVerificationNeeded)
	assert.Equal(t, src.Title, people.Title)

	_, err = env.Engine.CloneWorkflow(env.Ctx, engine.CloneOptions{SourceID: "missing"})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestWorkflowTemplateStatus(t *testing.T) {
	env := newTestEnv(t)
	empty := seedWorkflow(t, env, engine.WorkflowCreateOptions{})
	v, err := env.Engine.GetWorkflowView(env.Ctx, empty.ID)
	require.NoError(t, err)
	assert.Equal(t, "Not Started", v.TemplateStatus)

	child := seedWorkflow(t, env, engine.WorkflowCreateOptions{ParentID: &empty.ID}, 1)
	v, err = env.Engine.GetWorkflowView(env.Ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, "Not Template", v.TemplateStatus)

	recurring := seedWorkflow(t, env, engine.WorkflowCreateOptions{Unit: strPtr("day"), RepeatEvery: intPtr(1)}, 1)
	v, err = env.Engine.GetWorkflowView(env.Ctx, recurring.ID)
	require.NoError(t, err)
	assert.Equal(t, "In Progress", v.TemplateStatus)

	once := seedWorkflow(t, env, engine.WorkflowCreateOptions{IsVerificationNeeded: boolPtr(false)}, 1)
	v, err = env.Engine.GetWorkflowView(env.Ctx, once.ID)
	require.NoError(t, err)
	assert.Equal(t, "Completed", v.TemplateStatus)

	view := generate(t, env, once.ID)
	v, err = env.Engine.GetWorkflowView(env.Ctx, once.ID)
	require.NoError(t, err)
	assert.Equal(t, "In Progress", v.TemplateStatus)
	assert.Equal(t, 1, v.OpenCycleTasks)

	_, err = setStatus(env, kindTask, view.Groups[0].Tasks[0].ID, "Finished")
	require.NoError(t, err)
	v, err = env.Engine.GetWorkflowView(env.Ctx, once.ID)
	require.NoError(t, err)
	assert.Equal(t, "Completed", v.TemplateStatus)
}

func TestActivateOneTimeWorkflow(t *testing.T) {
	env := newTestEnv(t)
	w := seedWorkflow(t, env, engine.WorkflowCreateOptions{}, 1)

	res, err := env.Engine.ActivateWorkflow(env.Ctx, w.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowActive, res.Workflow.Status)
	require.Len(t, res.Cycles, 1)

	_, err = env.Engine.ActivateWorkflow(env.Ctx, w.ID, "tester")
	require.ErrorIs(t, err, apperr.ErrConstraintViolation)

	_, err = env.Engine.DeactivateWorkflow(env.Ctx, w.ID, "tester")
	require.NoError(t, err)
	res, err = env.Engine.ActivateWorkflow(env.Ctx, w.ID, "tester")
	require.NoError(t, err)
	assert.Empty(t, res.Cycles)

	_, err = env.Engine.DeactivateWorkflow(env.Ctx, w.ID, "tester")
	require.NoError(t, err)
	_, err = env.Engine.DeactivateWorkflow(env.Ctx, w.ID, "tester")
	require.ErrorIs(t, err, apperr.ErrConstraintViolation)
}

func TestActivateRecurringCatchesUpAndSchedulerContinues(t *testing.T) {
	env := newTestEnv(t)
	w := seedWorkflow(t, env, engine.WorkflowCreateOptions{Unit: strPtr("week"), RepeatEvery: intPtr(2)}, 1)

	res, err := env.Engine.ActivateWorkflow(env.Ctx, w.ID, "tester")
	require.NoError(t, err)
	// 09-01, 09-15, 09-29 and 10-13 are due on 10-16
	require.Len(t, res.Cycles, 4)
	assert.Equal(t, "2026-10-13", res.Cycles[3].StartDate)
	require.NotNil(t, res.Workflow.NextCycleStartDate)
	assert.Equal(t, "2026-10-27", *res.Workflow.NextCycleStartDate)
	assert.Equal(t, 4, res.Workflow.RepeatMultiplier)

	none, err := env.Engine.GenerateDueCycles(env.Ctx, "scheduler")
	require.NoError(t, err)
	assert.Empty(t, none)

	env.setClock(time.Date(2026, 10, 27, 6, 0, 0, 0, time.UTC))
	due, err := env.Engine.GenerateDueCycles(env.Ctx, "scheduler")
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 5, due[0].CycleNumber)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.Engine.Metrics.CyclesGenerated.WithLabelValues("scheduler")))

	_, err = env.Engine.DeactivateWorkflow(env.Ctx, w.ID, "tester")
	require.NoError(t, err)
	env.setClock(time.Date(2026, 12, 1, 6, 0, 0, 0, time.UTC))
	due, err = env.Engine.GenerateDueCycles(env.Ctx, "scheduler")
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestActivateRecurringCatchUpIsBounded(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Scheduler.MaxCatchUp = 2 })
	w := seedWorkflow(t, env, engine.WorkflowCreateOptions{Unit: strPtr("day"), RepeatEvery: intPtr(1)}, 1)

	res, err := env.Engine.ActivateWorkflow(env.Ctx, w.ID, "tester")
	require.NoError(t, err)
	assert.Len(t, res.Cycles, 2)
	assert.Equal(t, "2026-09-03", *res.Workflow.NextCycleStartDate)
}

func TestUpdateRecurrenceOnActiveWorkflowRecomputesNextStart(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Scheduler.MaxCatchUp = 1 })
	w := seedWorkflow(t, env, engine.WorkflowCreateOptions{Unit: strPtr("week"), RepeatEvery: intPtr(1)}, 1)
	_, err := env.Engine.ActivateWorkflow(env.Ctx, w.ID, "tester")
	require.NoError(t, err)

	updated, err := env.Engine.UpdateWorkflow(env.Ctx, engine.WorkflowUpdateOptions{
		ID:         w.ID,
		Recurrence: recurrence.Change{UnitSet: true, Unit: strPtr("month"), RepeatEverySet: true, RepeatEvery: intPtr(1)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.RepeatMultiplier)
	assert.Equal(t, "2026-10-01", *updated.NextCycleStartDate)

	cleared, err := env.Engine.UpdateWorkflow(env.Ctx, engine.WorkflowUpdateOptions{
		ID:         w.ID,
		Recurrence: recurrence.Change{UnitSet: true, RepeatEverySet: true},
	})
	require.NoError(t, err)
	assert.Nil(t, cleared.NextCycleStartDate)
}
