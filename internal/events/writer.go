package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	WorkflowCreated     = "workflow.created"
	WorkflowUpdated     = "workflow.updated"
	WorkflowCloned      = "workflow.cloned"
	WorkflowActivated   = "workflow.activated"
	WorkflowDeactivated = "workflow.deactivated"

	TaskGroupCreated = "task_group.created"
	TaskGroupUpdated = "task_group.updated"
	TaskGroupDeleted = "task_group.deleted"

	TaskCreated = "task.created"
	TaskUpdated = "task.updated"
	TaskDeleted = "task.deleted"

	CycleGenerated = "cycle.generated"
	CycleUpdated   = "cycle.updated"
	CycleArchived  = "cycle.archived"

	// StatusChanged is appended once per entity whose status moved,
	// including rolled-up parents.
	StatusChanged = "status.changed"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, workflowID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,workflow_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(workflowID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
