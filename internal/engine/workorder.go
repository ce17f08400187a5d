package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"craftline/internal/domain"
	"craftline/internal/events"
	"craftline/internal/sequence"
)

type WorkOrderCreateOptions struct {
	RecipeID       string
	Quantity       decimal.Decimal
	Destination    string
	Location       string
	ScheduledStart string
	ActorID        string
}

// CreateWorkOrder creates a standalone work order outside any plan.
func (e Engine) CreateWorkOrder(ctx context.Context, opts WorkOrderCreateOptions) (domain.WorkOrder, error) {
	if opts.Quantity.Sign() <= 0 {
		return domain.WorkOrder{}, validationf("quantity must be positive, got %s", opts.Quantity)
	}
	rec, err := e.Repo.GetRecipe(ctx, opts.RecipeID)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	if !rec.Active {
		return domain.WorkOrder{}, validationf("recipe %s is inactive", rec.Code)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()

	yearPrefix := sequence.YearPrefix(e.Config.Codes.Prefix, e.now())
	seq, err := sequence.Next(ctx, tx, yearPrefix)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	ts := e.ts()
	location := opts.Location
	if location == "" {
		location = rec.WorkCenter
	}
	wo := domain.WorkOrder{
		ID:              uuid.NewString(),
		Code:            sequence.FormatCode(yearPrefix, seq, e.Config.Codes.PadWidth),
		RecipeID:        rec.ID,
		PlannedQuantity: opts.Quantity,
		Status:          domain.WorkOrderPending,
		Destination:     opts.Destination,
		Location:        location,
		CreatedBy:       opts.ActorID,
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
	if opts.ScheduledStart != "" {
		wo.ScheduledStart = &opts.ScheduledStart
	}
	if err := e.Repo.InsertWorkOrderTx(ctx, tx, wo); err != nil {
		return domain.WorkOrder{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeWorkOrderCreated, "workorder", wo.ID, opts.ActorID, events.EventPayload{
		"code":             wo.Code,
		"recipe":           rec.Code,
		"planned_quantity": wo.PlannedQuantity.String(),
	}); err != nil {
		return domain.WorkOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkOrder{}, err
	}
	return wo, nil
}

func ensureWorkOrderTransition(status, op string) error {
	allowed := false
	switch op {
	case "start":
		allowed = status == domain.WorkOrderPending
	case "step":
		allowed = status == domain.WorkOrderPending || status == domain.WorkOrderInProgress
	case "pause":
		allowed = status == domain.WorkOrderInProgress
	case "resume":
		allowed = status == domain.WorkOrderPaused
	case "cancel":
		allowed = status == domain.WorkOrderPending || status == domain.WorkOrderInProgress || status == domain.WorkOrderPaused
	case "complete":
		allowed = status == domain.WorkOrderPending || status == domain.WorkOrderInProgress || status == domain.WorkOrderPaused
	}
	if !allowed {
		return fmt.Errorf("cannot %s from status %s", op, status)
	}
	return nil
}

// Start moves a pending work order into progress.
func (e Engine) Start(ctx context.Context, id, actorID string) (domain.WorkOrder, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()

	wo, err := e.Repo.GetWorkOrderTx(ctx, tx, id)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	if err := ensureWorkOrderTransition(wo.Status, "start"); err != nil {
		return domain.WorkOrder{}, &InvalidTransitionError{Entity: "workorder", ID: wo.Code, From: wo.Status, Op: "start"}
	}
	e.startLocked(&wo)
	if err := e.Repo.UpdateWorkOrderTx(ctx, tx, wo); err != nil {
		return domain.WorkOrder{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeWorkOrderStarted, "workorder", wo.ID, actorID, events.EventPayload{
		"code": wo.Code,
	}); err != nil {
		return domain.WorkOrder{}, err
	}
	reqs := e.startRequirements(ctx, wo)
	if err := e.appendMaterialsNeeded(ctx, tx, wo, reqs, actorID); err != nil {
		return domain.WorkOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkOrder{}, err
	}
	e.publishStarted(wo, reqs, actorID)
	return wo, nil
}

func (e Engine) startLocked(wo *domain.WorkOrder) {
	ts := e.ts()
	wo.Status = domain.WorkOrderInProgress
	wo.StartedAt = &ts
	wo.UpdatedAt = ts
}

// startRequirements flattens the inputs a starting work order needs.
// Expansion failure degrades to no requirements: the start itself must
// not be blocked by a broken recipe tree.
func (e Engine) startRequirements(ctx context.Context, wo domain.WorkOrder) []domain.Requirement {
	rec, err := e.Repo.GetRecipe(ctx, wo.RecipeID)
	if err != nil {
		e.Log.Warn("could not load recipe for started work order",
			zap.String("code", wo.Code), zap.Error(err))
		return nil
	}
	reqs, err := e.expander().Expand(ctx, &rec, wo.PlannedQuantity)
	if err != nil {
		e.Log.Warn("could not expand requirements for started work order",
			zap.String("code", wo.Code), zap.Error(err))
		return nil
	}
	return reqs
}

func (e Engine) appendMaterialsNeeded(ctx context.Context, tx *sql.Tx, wo domain.WorkOrder, reqs []domain.Requirement, actorID string) error {
	if len(reqs) == 0 {
		return nil
	}
	return e.Events.Append(ctx, tx, events.TypeMaterialsNeeded, "workorder", wo.ID, actorID, events.EventPayload{
		"code":         wo.Code,
		"requirements": requirementPayload(reqs),
	})
}

func (e Engine) publishStarted(wo domain.WorkOrder, reqs []domain.Requirement, actorID string) {
	e.publish(events.Notification{
		Type:       events.TypeWorkOrderStarted,
		EntityKind: "workorder",
		EntityID:   wo.ID,
		ActorID:    actorID,
		Payload:    events.EventPayload{"code": wo.Code},
	})
	if len(reqs) == 0 {
		return
	}
	payload := events.EventPayload{"code": wo.Code, "requirements": reqs}
	if wo.Metadata != nil && len(wo.Metadata.Holds) > 0 {
		payload["holds"] = wo.Metadata.Holds
	}
	e.publish(events.Notification{
		Type:       events.TypeMaterialsNeeded,
		EntityKind: "workorder",
		EntityID:   wo.ID,
		ActorID:    actorID,
		Payload:    payload,
	})
}

type StepOptions struct {
	// Step names the recipe step being recorded. Empty means the next
	// unrecorded step.
	Step     string
	Quantity decimal.Decimal
	ActorID  string
}

// RecordStep logs progress through the recipe's step list. Recording a
// step on a pending order starts it first. The step at the configured
// offset from the end captures the in-process quantity; the final step
// captures the output quantity and completes the order.
func (e Engine) RecordStep(ctx context.Context, id string, opts StepOptions) (domain.WorkOrder, error) {
	if opts.Quantity.Sign() <= 0 {
		return domain.WorkOrder{}, validationf("step quantity must be positive, got %s", opts.Quantity)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()

	wo, err := e.Repo.GetWorkOrderTx(ctx, tx, id)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	if err := ensureWorkOrderTransition(wo.Status, "step"); err != nil {
		return domain.WorkOrder{}, &InvalidTransitionError{Entity: "workorder", ID: wo.Code, From: wo.Status, Op: "record step"}
	}
	rec, err := e.Repo.GetRecipe(ctx, wo.RecipeID)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	if len(rec.Steps) == 0 {
		return domain.WorkOrder{}, validationf("recipe %s has no steps", rec.Code)
	}
	if wo.Metadata == nil {
		wo.Metadata = &domain.WorkOrderMetadata{}
	}

	stepName := opts.Step
	if stepName == "" {
		next := len(wo.Metadata.StepLog)
		if next >= len(rec.Steps) {
			return domain.WorkOrder{}, validationf("all %d steps of %s already recorded", len(rec.Steps), wo.Code)
		}
		stepName = rec.Steps[next]
	}
	// Unknown step names still land in the log: the floor sometimes
	// records ad-hoc work. They just never drive quantity mapping or
	// completion.
	idx := stepIndex(rec.Steps, stepName)
	if idx < 0 {
		e.Log.Warn("recording step not present in recipe",
			zap.String("code", wo.Code), zap.String("step", stepName), zap.String("recipe", rec.Code))
	}

	started := false
	if wo.Status == domain.WorkOrderPending {
		e.startLocked(&wo)
		started = true
	}
	ts := e.ts()
	wo.Metadata.StepLog = append(wo.Metadata.StepLog, domain.StepEntry{
		Step:     stepName,
		Quantity: opts.Quantity,
		TS:       ts,
		ActorID:  opts.ActorID,
	})

	total := len(rec.Steps)
	offset := e.Config.Steps.ProcessOffsetFromEnd
	if idx >= 0 && idx == total-offset {
		q := opts.Quantity
		wo.ProcessQuantity = &q
	}
	completing := idx == total-1
	if completing {
		q := opts.Quantity
		wo.OutputQuantity = &q
		e.completeLocked(&wo, q, opts.ActorID)
	}
	wo.UpdatedAt = ts
	if err := e.Repo.UpdateWorkOrderTx(ctx, tx, wo); err != nil {
		return domain.WorkOrder{}, err
	}
	var startReqs []domain.Requirement
	if started {
		if err := e.Events.Append(ctx, tx, events.TypeWorkOrderStarted, "workorder", wo.ID, opts.ActorID, events.EventPayload{
			"code":      wo.Code,
			"via_step":  stepName,
			"automatic": true,
		}); err != nil {
			return domain.WorkOrder{}, err
		}
		if startReqs, err = e.expander().Expand(ctx, &rec, wo.PlannedQuantity); err != nil {
			e.Log.Warn("could not expand requirements for started work order",
				zap.String("code", wo.Code), zap.Error(err))
			startReqs = nil
		}
		if err := e.appendMaterialsNeeded(ctx, tx, wo, startReqs, opts.ActorID); err != nil {
			return domain.WorkOrder{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, events.TypeWorkOrderStep, "workorder", wo.ID, opts.ActorID, events.EventPayload{
		"code":     wo.Code,
		"step":     stepName,
		"index":    idx,
		"quantity": opts.Quantity.String(),
	}); err != nil {
		return domain.WorkOrder{}, err
	}
	if completing {
		if err := e.appendCompleted(ctx, tx, wo, opts.ActorID); err != nil {
			return domain.WorkOrder{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkOrder{}, err
	}
	if started {
		e.publishStarted(wo, startReqs, opts.ActorID)
	}
	if completing {
		e.publishCompleted(wo, opts.ActorID)
	}
	return wo, nil
}

func stepIndex(steps []string, name string) int {
	for i, s := range steps {
		if strings.EqualFold(s, name) {
			return i
		}
	}
	return -1
}

// Pause suspends an in-progress work order.
func (e Engine) Pause(ctx context.Context, id, reason, actorID string) (domain.WorkOrder, error) {
	return e.simpleTransition(ctx, id, actorID, "pause", domain.WorkOrderPaused, events.TypeWorkOrderPaused, reason, "[PAUSED]")
}

// Resume puts a paused work order back in progress.
func (e Engine) Resume(ctx context.Context, id, actorID string) (domain.WorkOrder, error) {
	return e.simpleTransition(ctx, id, actorID, "resume", domain.WorkOrderInProgress, events.TypeWorkOrderResumed, "", "")
}

func (e Engine) simpleTransition(ctx context.Context, id, actorID, op, toStatus, evtType, reason, noteTag string) (domain.WorkOrder, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()

	wo, err := e.Repo.GetWorkOrderTx(ctx, tx, id)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	if err := ensureWorkOrderTransition(wo.Status, op); err != nil {
		return domain.WorkOrder{}, &InvalidTransitionError{Entity: "workorder", ID: wo.Code, From: wo.Status, Op: op}
	}
	wo.Status = toStatus
	wo.UpdatedAt = e.ts()
	if noteTag != "" {
		wo.Notes = appendNote(wo.Notes, noteTag, reason)
	}
	if err := e.Repo.UpdateWorkOrderTx(ctx, tx, wo); err != nil {
		return domain.WorkOrder{}, err
	}
	payload := events.EventPayload{"code": wo.Code}
	if reason != "" {
		payload["reason"] = reason
	}
	if err := e.Events.Append(ctx, tx, evtType, "workorder", wo.ID, actorID, payload); err != nil {
		return domain.WorkOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkOrder{}, err
	}
	return wo, nil
}

func appendNote(notes, tag, reason string) string {
	line := tag
	if reason != "" {
		line += " " + reason
	}
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}

// Cancel aborts a work order that has not completed. Holds placed at
// scheduling time are handed back by the stock subscriber.
func (e Engine) Cancel(ctx context.Context, id, reason, actorID string) (domain.WorkOrder, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()

	wo, err := e.Repo.GetWorkOrderTx(ctx, tx, id)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	if err := ensureWorkOrderTransition(wo.Status, "cancel"); err != nil {
		return domain.WorkOrder{}, &InvalidTransitionError{Entity: "workorder", ID: wo.Code, From: wo.Status, Op: "cancel"}
	}
	wo.Status = domain.WorkOrderCancelled
	wo.UpdatedAt = e.ts()
	wo.Notes = appendNote(wo.Notes, "[CANCELLED]", reason)
	if err := e.Repo.UpdateWorkOrderTx(ctx, tx, wo); err != nil {
		return domain.WorkOrder{}, err
	}
	payload := events.EventPayload{"code": wo.Code}
	if reason != "" {
		payload["reason"] = reason
	}
	if err := e.Events.Append(ctx, tx, events.TypeWorkOrderCancelled, "workorder", wo.ID, actorID, payload); err != nil {
		return domain.WorkOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkOrder{}, err
	}
	n := events.Notification{
		Type:       events.TypeWorkOrderCancelled,
		EntityKind: "workorder",
		EntityID:   wo.ID,
		ActorID:    actorID,
		Payload:    events.EventPayload{"code": wo.Code},
	}
	if wo.Metadata != nil && len(wo.Metadata.Holds) > 0 {
		n.Payload["holds"] = wo.Metadata.Holds
	}
	e.publish(n)
	return wo, nil
}

// Complete finishes an in-progress work order. The actual quantity
// resolves from the argument, then the last recorded step, then the
// planned quantity. Completing an already completed order is a logged
// no-op.
func (e Engine) Complete(ctx context.Context, id string, actual *decimal.Decimal, actorID string) (domain.WorkOrder, error) {
	if actual != nil && actual.Sign() <= 0 {
		return domain.WorkOrder{}, validationf("actual quantity must be positive, got %s", actual)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer tx.Rollback()

	wo, err := e.Repo.GetWorkOrderTx(ctx, tx, id)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	if wo.Status == domain.WorkOrderCompleted {
		e.Log.Info("work order already completed", zap.String("code", wo.Code))
		return wo, nil
	}
	if err := ensureWorkOrderTransition(wo.Status, "complete"); err != nil {
		return domain.WorkOrder{}, &InvalidTransitionError{Entity: "workorder", ID: wo.Code, From: wo.Status, Op: "complete"}
	}
	qty := e.resolveActual(wo, actual)
	e.completeLocked(&wo, qty, actorID)
	if err := e.Repo.UpdateWorkOrderTx(ctx, tx, wo); err != nil {
		return domain.WorkOrder{}, err
	}
	if err := e.appendCompleted(ctx, tx, wo, actorID); err != nil {
		return domain.WorkOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkOrder{}, err
	}
	e.publishCompleted(wo, actorID)
	return wo, nil
}

func (e Engine) resolveActual(wo domain.WorkOrder, actual *decimal.Decimal) decimal.Decimal {
	if actual != nil {
		return *actual
	}
	if wo.Metadata != nil && len(wo.Metadata.StepLog) > 0 {
		return wo.Metadata.StepLog[len(wo.Metadata.StepLog)-1].Quantity
	}
	return wo.PlannedQuantity
}

func (e Engine) completeLocked(wo *domain.WorkOrder, actual decimal.Decimal, actorID string) {
	ts := e.ts()
	wo.Status = domain.WorkOrderCompleted
	wo.ActualQuantity = &actual
	wo.CompletedAt = &ts
	wo.UpdatedAt = ts
	if wo.Metadata == nil {
		wo.Metadata = &domain.WorkOrderMetadata{}
	}
	wo.Metadata.CompletedBy = actorID
}

func (e Engine) appendCompleted(ctx context.Context, tx *sql.Tx, wo domain.WorkOrder, actorID string) error {
	return e.Events.Append(ctx, tx, events.TypeProductionCompleted, "workorder", wo.ID, actorID, events.EventPayload{
		"code":            wo.Code,
		"actual_quantity": wo.ActualQuantity.String(),
	})
}

func (e Engine) publishCompleted(wo domain.WorkOrder, actorID string) {
	payload := events.EventPayload{
		"code":            wo.Code,
		"actual_quantity": wo.ActualQuantity.String(),
		"location":        wo.Destination,
	}
	if rec, err := e.Repo.GetRecipe(context.Background(), wo.RecipeID); err == nil {
		payload["output_item"] = domain.ItemRef{Kind: rec.OutputKind, ID: rec.OutputID}
	}
	if wo.Metadata != nil && len(wo.Metadata.Holds) > 0 {
		payload["holds"] = wo.Metadata.Holds
	}
	e.publish(events.Notification{
		Type:       events.TypeProductionCompleted,
		EntityKind: "workorder",
		EntityID:   wo.ID,
		ActorID:    actorID,
		Payload:    payload,
	})
}
