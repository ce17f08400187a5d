package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engine. Webhook and bus subscribers key
// off these.
const (
	TypeMaterialsNeeded     = "production.materials_needed"
	TypeProductionCompleted = "production.completed"
	TypeWorkOrderCancelled  = "workorder.cancelled"
	TypeWorkOrderCreated    = "workorder.created"
	TypeWorkOrderStarted    = "workorder.started"
	TypeWorkOrderStep       = "workorder.step_recorded"
	TypeWorkOrderPaused     = "workorder.paused"
	TypeWorkOrderResumed    = "workorder.resumed"
	TypePlanCreated         = "plan.created"
	TypePlanApproved        = "plan.approved"
	TypePlanScheduled       = "plan.scheduled"
	TypePlanCompleted       = "plan.completed"
	TypeRecipeCreated       = "recipe.created"
	TypeRecipeUpdated       = "recipe.updated"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes an event inside the caller's transaction so the audit
// trail commits or rolls back with the state change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
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
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
