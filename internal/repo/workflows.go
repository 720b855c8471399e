package repo

import (
	"context"
	"database/sql"
	"strings"

	"cycleline/internal/domain"
)

const workflowColumns = `id,parent_id,title,description,owners_json,contact,unit,repeat_every,repeat_multiplier,next_cycle_start_date,is_verification_needed,status,modified_by,created_at,updated_at`

func scanWorkflow(row rowScanner) (domain.Workflow, error) {
	var w domain.Workflow
	var parentID, description, contact, unit, nextStart, modifiedBy sql.NullString
	var repeatEvery sql.NullInt64
	var owners string
	err := row.Scan(&w.ID, &parentID, &w.Title, &description, &owners, &contact, &unit, &repeatEvery,
		&w.RepeatMultiplier, &nextStart, &w.IsVerificationNeeded, &w.Status, &modifiedBy, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	w.ParentID = stringPtr(parentID)
	w.Description = description.String
	w.Owners = decodeStrings(owners)
	w.Contact = contact.String
	w.Unit = stringPtr(unit)
	w.RepeatEvery = intPtr(repeatEvery)
	w.NextCycleStartDate = stringPtr(nextStart)
	w.ModifiedBy = modifiedBy.String
	return w, nil
}

func (r Repo) InsertWorkflow(ctx context.Context, tx *sql.Tx, w domain.Workflow) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workflows(`+workflowColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, nullableStringPtr(w.ParentID), w.Title, nullable(w.Description), encodeStrings(w.Owners), nullable(w.Contact),
		nullableStringPtr(w.Unit), nullableIntPtr(w.RepeatEvery), w.RepeatMultiplier, nullableStringPtr(w.NextCycleStartDate),
		w.IsVerificationNeeded, w.Status, nullable(w.ModifiedBy), w.CreatedAt, w.UpdatedAt)
	return err
}

func (r Repo) UpdateWorkflow(ctx context.Context, tx *sql.Tx, w domain.Workflow) error {
	res, err := tx.ExecContext(ctx, `UPDATE workflows SET parent_id=?, title=?, description=?, owners_json=?, contact=?, unit=?, repeat_every=?, repeat_multiplier=?, next_cycle_start_date=?, is_verification_needed=?, status=?, modified_by=?, updated_at=? WHERE id=?`,
		nullableStringPtr(w.ParentID), w.Title, nullable(w.Description), encodeStrings(w.Owners), nullable(w.Contact),
		nullableStringPtr(w.Unit), nullableIntPtr(w.RepeatEvery), w.RepeatMultiplier, nullableStringPtr(w.NextCycleStartDate),
		w.IsVerificationNeeded, w.Status, nullable(w.ModifiedBy), w.UpdatedAt, w.ID)
	return affectedOrNotFound(res, err)
}

// GetWorkflow is the find_workflow_by_id collaborator.
func (r Repo) GetWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	return getWorkflow(ctx, r.DB, id)
}

func (r Repo) GetWorkflowTx(ctx context.Context, tx *sql.Tx, id string) (domain.Workflow, error) {
	return getWorkflow(ctx, tx, id)
}

func getWorkflow(ctx context.Context, q queryer, id string) (domain.Workflow, error) {
	return scanWorkflow(q.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id=?`, id))
}

type WorkflowFilters struct {
	Status          string
	ParentID        string
	TemplatesOnly   bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListWorkflows(ctx context.Context, f WorkflowFilters) ([]domain.Workflow, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ParentID != "" {
		clauses = append(clauses, "parent_id=?")
		args = append(args, f.ParentID)
	}
	if f.TemplatesOnly {
		clauses = append(clauses, "parent_id IS NULL")
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + workflowColumns + ` FROM workflows ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return queryWorkflows(ctx, r.DB, query, args...)
}

// ListDueWorkflows returns active recurring workflows whose next cycle
// starts on or before today (YYYY-MM-DD).
func (r Repo) ListDueWorkflows(ctx context.Context, today string) ([]domain.Workflow, error) {
	return queryWorkflows(ctx, r.DB, `SELECT `+workflowColumns+` FROM workflows
WHERE status='Active' AND repeat_every IS NOT NULL AND next_cycle_start_date IS NOT NULL AND next_cycle_start_date <= ?
ORDER BY next_cycle_start_date ASC, id ASC`, today)
}

func queryWorkflows(ctx context.Context, q queryer, query string, args ...any) ([]domain.Workflow, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}
