package repo

import (
	"context"
	"database/sql"

	"cycleline/internal/domain"
)

const taskGroupColumns = `id,workflow_id,title,description,contact,sort_index,modified_by,created_at,updated_at`

func scanTaskGroup(row rowScanner) (domain.TaskGroup, error) {
	var g domain.TaskGroup
	var description, contact, modifiedBy sql.NullString
	err := row.Scan(&g.ID, &g.WorkflowID, &g.Title, &description, &contact, &g.SortIndex, &modifiedBy, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	g.Description = description.String
	g.Contact = contact.String
	g.ModifiedBy = modifiedBy.String
	return g, err
}

func (r Repo) InsertTaskGroup(ctx context.Context, tx *sql.Tx, g domain.TaskGroup) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_groups(`+taskGroupColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		g.ID, g.WorkflowID, g.Title, nullable(g.Description), nullable(g.Contact), g.SortIndex, nullable(g.ModifiedBy), g.CreatedAt, g.UpdatedAt)
	return err
}

func (r Repo) UpdateTaskGroup(ctx context.Context, tx *sql.Tx, g domain.TaskGroup) error {
	res, err := tx.ExecContext(ctx, `UPDATE task_groups SET title=?, description=?, contact=?, sort_index=?, modified_by=?, updated_at=? WHERE id=?`,
		g.Title, nullable(g.Description), nullable(g.Contact), g.SortIndex, nullable(g.ModifiedBy), g.UpdatedAt, g.ID)
	return affectedOrNotFound(res, err)
}

// DeleteTaskGroup removes a group; its task definitions go with it.
func (r Repo) DeleteTaskGroup(ctx context.Context, tx *sql.Tx, id string) error {
	return affectedOrNotFound(tx.ExecContext(ctx, `DELETE FROM task_groups WHERE id=?`, id))
}

func (r Repo) GetTaskGroup(ctx context.Context, id string) (domain.TaskGroup, error) {
	return scanTaskGroup(r.DB.QueryRowContext(ctx, `SELECT `+taskGroupColumns+` FROM task_groups WHERE id=?`, id))
}

// ListTaskGroups is the find_task_groups collaborator.
func (r Repo) ListTaskGroups(ctx context.Context, workflowID string) ([]domain.TaskGroup, error) {
	return listTaskGroups(ctx, r.DB, workflowID)
}

func (r Repo) ListTaskGroupsTx(ctx context.Context, tx *sql.Tx, workflowID string) ([]domain.TaskGroup, error) {
	return listTaskGroups(ctx, tx, workflowID)
}

func listTaskGroups(ctx context.Context, q queryer, workflowID string) ([]domain.TaskGroup, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+taskGroupColumns+` FROM task_groups WHERE workflow_id=? ORDER BY sort_index ASC, created_at ASC, id ASC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskGroup
	for rows.Next() {
		g, err := scanTaskGroup(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

const taskDefinitionColumns = `id,task_group_id,title,description,contact,start_date,end_date,task_type,response_options_json,sort_index,object_approval,modified_by,created_at,updated_at`

func scanTaskDefinition(row rowScanner) (domain.TaskDefinition, error) {
	var t domain.TaskDefinition
	var description, contact, start, end, modifiedBy sql.NullString
	var options string
	err := row.Scan(&t.ID, &t.TaskGroupID, &t.Title, &description, &contact, &start, &end, &t.TaskType, &options,
		&t.SortIndex, &t.ObjectApproval, &modifiedBy, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Description = description.String
	t.Contact = contact.String
	t.StartDate = start.String
	t.EndDate = end.String
	t.ResponseOptions = decodeStrings(options)
	t.ModifiedBy = modifiedBy.String
	return t, nil
}

func (r Repo) InsertTaskDefinition(ctx context.Context, tx *sql.Tx, t domain.TaskDefinition) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_group_tasks(`+taskDefinitionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.TaskGroupID, t.Title, nullable(t.Description), nullable(t.Contact), nullable(t.StartDate), nullable(t.EndDate),
		t.TaskType, encodeStrings(t.ResponseOptions), t.SortIndex, t.ObjectApproval, nullable(t.ModifiedBy), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTaskDefinition(ctx context.Context, tx *sql.Tx, t domain.TaskDefinition) error {
	res, err := tx.ExecContext(ctx, `UPDATE task_group_tasks SET title=?, description=?, contact=?, start_date=?, end_date=?, task_type=?, response_options_json=?, sort_index=?, object_approval=?, modified_by=?, updated_at=? WHERE id=?`,
		t.Title, nullable(t.Description), nullable(t.Contact), nullable(t.StartDate), nullable(t.EndDate), t.TaskType,
		encodeStrings(t.ResponseOptions), t.SortIndex, t.ObjectApproval, nullable(t.ModifiedBy), t.UpdatedAt, t.ID)
	return affectedOrNotFound(res, err)
}

func (r Repo) DeleteTaskDefinition(ctx context.Context, tx *sql.Tx, id string) error {
	return affectedOrNotFound(tx.ExecContext(ctx, `DELETE FROM task_group_tasks WHERE id=?`, id))
}

func (r Repo) GetTaskDefinition(ctx context.Context, id string) (domain.TaskDefinition, error) {
	return scanTaskDefinition(r.DB.QueryRowContext(ctx, `SELECT `+taskDefinitionColumns+` FROM task_group_tasks WHERE id=?`, id))
}

// ListTaskDefinitions is the find_tasks collaborator.
func (r Repo) ListTaskDefinitions(ctx context.Context, taskGroupID string) ([]domain.TaskDefinition, error) {
	return listTaskDefinitions(ctx, r.DB, taskGroupID)
}

func (r Repo) ListTaskDefinitionsTx(ctx context.Context, tx *sql.Tx, taskGroupID string) ([]domain.TaskDefinition, error) {
	return listTaskDefinitions(ctx, tx, taskGroupID)
}

func listTaskDefinitions(ctx context.Context, q queryer, taskGroupID string) ([]domain.TaskDefinition, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+taskDefinitionColumns+` FROM task_group_tasks WHERE task_group_id=? ORDER BY sort_index ASC, created_at ASC, id ASC`, taskGroupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskDefinition
	for rows.Next() {
		t, err := scanTaskDefinition(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// CountTaskDefinitions counts definitions across all groups of a workflow.
func (r Repo) CountTaskDefinitions(ctx context.Context, workflowID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM task_group_tasks t JOIN task_groups g ON g.id = t.task_group_id WHERE g.workflow_id=?`, workflowID).Scan(&n)
	return n, err
}

// EarliestTaskStart returns the minimum definition start date of a
// workflow, "" when no definition has one.
func (r Repo) EarliestTaskStart(ctx context.Context, tx *sql.Tx, workflowID string) (string, error) {
	var min sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT MIN(t.start_date) FROM task_group_tasks t JOIN task_groups g ON g.id = t.task_group_id WHERE g.workflow_id=?`, workflowID).Scan(&min)
	return min.String, err
}
