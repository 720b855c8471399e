package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"cycleline/internal/domain"
)

type EventFilters struct {
	WorkflowID string
	Type       string
	EntityKind string
	EntityID   string
}

// LatestEventsFrom returns events older than cursor (0 = newest first page)
// in descending id order.
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.WorkflowID != "" {
		clauses = append(clauses, "workflow_id=?")
		args = append(args, f.WorkflowID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id,ts,type,workflow_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, limit)
	return queryEvents(ctx, r.DB, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, workflowID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"id>?"}
	args := []any{cursor}
	if workflowID != "" {
		clauses = append(clauses, "workflow_id=?")
		args = append(args, workflowID)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,workflow_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id ASC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, limit)
	return queryEvents(ctx, r.DB, query, args...)
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func queryEvents(ctx context.Context, q queryer, query string, args ...any) ([]domain.Event, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var workflowID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &workflowID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		e.WorkflowID = workflowID.String
		e.EntityID = entityID.String
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}
