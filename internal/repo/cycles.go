package repo

import (
	"context"
	"database/sql"

	"cycleline/internal/domain"
)

const cycleColumns = `id,workflow_id,cycle_number,title,description,contact,is_verification_needed,is_current,status,start_date,end_date,created_at,updated_at`

func scanCycle(row rowScanner) (domain.Cycle, error) {
	var c domain.Cycle
	var description, contact, start, end sql.NullString
	err := row.Scan(&c.ID, &c.WorkflowID, &c.CycleNumber, &c.Title, &description, &contact, &c.IsVerificationNeeded,
		&c.IsCurrent, &c.Status, &start, &end, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	c.Description = description.String
	c.Contact = contact.String
	c.StartDate = start.String
	c.EndDate = end.String
	return c, err
}

func (r Repo) InsertCycle(ctx context.Context, tx *sql.Tx, c domain.Cycle) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO cycles(`+cycleColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.WorkflowID, c.CycleNumber, c.Title, nullable(c.Description), nullable(c.Contact), c.IsVerificationNeeded,
		c.IsCurrent, c.Status, nullable(c.StartDate), nullable(c.EndDate), c.CreatedAt, c.UpdatedAt)
	return err
}

// UpdateCycle writes every mutable cycle column, including status and
// is_current.
func (r Repo) UpdateCycle(ctx context.Context, tx *sql.Tx, c domain.Cycle) error {
	res, err := tx.ExecContext(ctx, `UPDATE cycles SET title=?, description=?, contact=?, is_verification_needed=?, is_current=?, status=?, start_date=?, end_date=?, updated_at=? WHERE id=?`,
		c.Title, nullable(c.Description), nullable(c.Contact), c.IsVerificationNeeded, c.IsCurrent, c.Status,
		nullable(c.StartDate), nullable(c.EndDate), c.UpdatedAt, c.ID)
	return affectedOrNotFound(res, err)
}

func (r Repo) GetCycle(ctx context.Context, id string) (domain.Cycle, error) {
	return getCycle(ctx, r.DB, id)
}

func (r Repo) GetCycleTx(ctx context.Context, tx *sql.Tx, id string) (domain.Cycle, error) {
	return getCycle(ctx, tx, id)
}

func getCycle(ctx context.Context, q queryer, id string) (domain.Cycle, error) {
	return scanCycle(q.QueryRowContext(ctx, `SELECT `+cycleColumns+` FROM cycles WHERE id=?`, id))
}

type CycleFilters struct {
	WorkflowID string
	Current    *bool
	Limit      int
}

func (r Repo) ListCycles(ctx context.Context, f CycleFilters) ([]domain.Cycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM cycles WHERE workflow_id=?`
	args := []any{f.WorkflowID}
	if f.Current != nil {
		query += " AND is_current=?"
		args = append(args, *f.Current)
	}
	query += " ORDER BY cycle_number DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// NextCycleNumber returns max(cycle_number)+1 for the workflow.
func (r Repo) NextCycleNumber(ctx context.Context, tx *sql.Tx, workflowID string) (int, error) {
	var n sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(cycle_number) FROM cycles WHERE workflow_id=?`, workflowID).Scan(&n); err != nil {
		return 0, err
	}
	return int(n.Int64) + 1, nil
}

// CountOpenCycleTasks counts cycle tasks of the workflow that still need
// work: Assigned, InProgress, or Declined in a verification cycle.
func (r Repo) CountOpenCycleTasks(ctx context.Context, workflowID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM cycle_tasks t JOIN cycles c ON c.id = t.cycle_id
WHERE c.workflow_id=? AND (t.status IN ('Assigned','InProgress') OR (t.status='Declined' AND c.is_verification_needed=1))`, workflowID).Scan(&n)
	return n, err
}

const cycleTaskGroupColumns = `id,cycle_id,task_group_id,title,description,contact,sort_index,status,created_at,updated_at`

func scanCycleTaskGroup(row rowScanner) (domain.CycleTaskGroup, error) {
	var g domain.CycleTaskGroup
	var groupID, description, contact sql.NullString
	err := row.Scan(&g.ID, &g.CycleID, &groupID, &g.Title, &description, &contact, &g.SortIndex, &g.Status, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	g.TaskGroupID = groupID.String
	g.Description = description.String
	g.Contact = contact.String
	return g, err
}

func (r Repo) InsertCycleTaskGroup(ctx context.Context, tx *sql.Tx, g domain.CycleTaskGroup) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO cycle_task_groups(`+cycleTaskGroupColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		g.ID, g.CycleID, nullable(g.TaskGroupID), g.Title, nullable(g.Description), nullable(g.Contact), g.SortIndex, g.Status, g.CreatedAt, g.UpdatedAt)
	return err
}

func (r Repo) UpdateCycleTaskGroupStatus(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	return affectedOrNotFound(tx.ExecContext(ctx, `UPDATE cycle_task_groups SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id))
}

func (r Repo) GetCycleTaskGroup(ctx context.Context, id string) (domain.CycleTaskGroup, error) {
	return scanCycleTaskGroup(r.DB.QueryRowContext(ctx, `SELECT `+cycleTaskGroupColumns+` FROM cycle_task_groups WHERE id=?`, id))
}

func (r Repo) GetCycleTaskGroupTx(ctx context.Context, tx *sql.Tx, id string) (domain.CycleTaskGroup, error) {
	return scanCycleTaskGroup(tx.QueryRowContext(ctx, `SELECT `+cycleTaskGroupColumns+` FROM cycle_task_groups WHERE id=?`, id))
}

func (r Repo) ListCycleTaskGroups(ctx context.Context, cycleID string) ([]domain.CycleTaskGroup, error) {
	return listCycleTaskGroups(ctx, r.DB, cycleID)
}

func (r Repo) ListCycleTaskGroupsTx(ctx context.Context, tx *sql.Tx, cycleID string) ([]domain.CycleTaskGroup, error) {
	return listCycleTaskGroups(ctx, tx, cycleID)
}

func listCycleTaskGroups(ctx context.Context, q queryer, cycleID string) ([]domain.CycleTaskGroup, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+cycleTaskGroupColumns+` FROM cycle_task_groups WHERE cycle_id=? ORDER BY sort_index ASC, id ASC`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CycleTaskGroup
	for rows.Next() {
		g, err := scanCycleTaskGroup(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

const cycleTaskColumns = `id,cycle_id,cycle_task_group_id,task_definition_id,title,description,contact,start_date,end_date,task_type,response_options_json,object_approval,sort_index,status,finished_at,verified_at,created_at,updated_at`

func scanCycleTask(row rowScanner) (domain.CycleTask, error) {
	var t domain.CycleTask
	var defID, description, contact, start, end, finishedAt, verifiedAt sql.NullString
	var options string
	err := row.Scan(&t.ID, &t.CycleID, &t.CycleTaskGroupID, &defID, &t.Title, &description, &contact, &start, &end,
		&t.TaskType, &options, &t.ObjectApproval, &t.SortIndex, &t.Status, &finishedAt, &verifiedAt, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.TaskDefinitionID = defID.String
	t.Description = description.String
	t.Contact = contact.String
	t.StartDate = start.String
	t.EndDate = end.String
	t.ResponseOptions = decodeStrings(options)
	t.FinishedAt = stringPtr(finishedAt)
	t.VerifiedAt = stringPtr(verifiedAt)
	return t, nil
}

func (r Repo) InsertCycleTask(ctx context.Context, tx *sql.Tx, t domain.CycleTask) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO cycle_tasks(`+cycleTaskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.CycleID, t.CycleTaskGroupID, nullable(t.TaskDefinitionID), t.Title, nullable(t.Description), nullable(t.Contact),
		nullable(t.StartDate), nullable(t.EndDate), t.TaskType, encodeStrings(t.ResponseOptions), t.ObjectApproval, t.SortIndex,
		t.Status, nullableStringPtr(t.FinishedAt), nullableStringPtr(t.VerifiedAt), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateCycleTaskStatus(ctx context.Context, tx *sql.Tx, t domain.CycleTask) error {
	return affectedOrNotFound(tx.ExecContext(ctx, `UPDATE cycle_tasks SET status=?, finished_at=?, verified_at=?, updated_at=? WHERE id=?`,
		t.Status, nullableStringPtr(t.FinishedAt), nullableStringPtr(t.VerifiedAt), t.UpdatedAt, t.ID))
}

func (r Repo) GetCycleTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.CycleTask, error) {
	return scanCycleTask(tx.QueryRowContext(ctx, `SELECT `+cycleTaskColumns+` FROM cycle_tasks WHERE id=?`, id))
}

func (r Repo) GetCycleTask(ctx context.Context, id string) (domain.CycleTask, error) {
	return scanCycleTask(r.DB.QueryRowContext(ctx, `SELECT `+cycleTaskColumns+` FROM cycle_tasks WHERE id=?`, id))
}

type CycleTaskFilters struct {
	CycleID          string
	CycleTaskGroupID string
}

func (r Repo) ListCycleTasks(ctx context.Context, f CycleTaskFilters) ([]domain.CycleTask, error) {
	return listCycleTasks(ctx, r.DB, f)
}

func (r Repo) ListCycleTasksTx(ctx context.Context, tx *sql.Tx, f CycleTaskFilters) ([]domain.CycleTask, error) {
	return listCycleTasks(ctx, tx, f)
}

func listCycleTasks(ctx context.Context, q queryer, f CycleTaskFilters) ([]domain.CycleTask, error) {
	query := `SELECT ` + cycleTaskColumns + ` FROM cycle_tasks WHERE 1=1`
	var args []any
	if f.CycleID != "" {
		query += " AND cycle_id=?"
		args = append(args, f.CycleID)
	}
	if f.CycleTaskGroupID != "" {
		query += " AND cycle_task_group_id=?"
		args = append(args, f.CycleTaskGroupID)
	}
	query += " ORDER BY sort_index ASC, id ASC"
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CycleTask
	for rows.Next() {
		t, err := scanCycleTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
