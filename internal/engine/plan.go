package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"craftline/internal/domain"
	"craftline/internal/events"
	"craftline/internal/repo"
)

type PlanItemOptions struct {
	Date        string
	RecipeID    string
	Quantity    decimal.Decimal
	Destination string
	Priority    int
	ActorID     string
}

// RegisterPlanItem adds or updates a recipe line on the plan for a
// date, creating the plan in draft if it does not exist yet. Plans
// that already left draft no longer accept changes.
func (e Engine) RegisterPlanItem(ctx context.Context, opts PlanItemOptions) (domain.Plan, error) {
	if _, err := parsePlanDate(opts.Date); err != nil {
		return domain.Plan{}, err
	}
	// Zero is a valid planned quantity: the line stays on the plan as a
	// placeholder and the scheduler skips it.
	if opts.Quantity.Sign() < 0 {
		return domain.Plan{}, validationf("quantity must not be negative, got %s", opts.Quantity)
	}
	if opts.Priority == 0 {
		opts.Priority = 50
	}
	rec, err := e.Repo.GetRecipe(ctx, opts.RecipeID)
	if err != nil {
		return domain.Plan{}, err
	}
	if !rec.Active {
		return domain.Plan{}, validationf("recipe %s is inactive", rec.Code)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Plan{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPlanByDateTx(ctx, tx, opts.Date)
	created := false
	if errors.Is(err, repo.ErrNotFound) {
		p = domain.Plan{
			ID:        uuid.NewString(),
			Date:      opts.Date,
			Status:    domain.PlanDraft,
			CreatedAt: e.ts(),
		}
		if err := e.Repo.InsertPlanTx(ctx, tx, p); err != nil {
			return domain.Plan{}, err
		}
		created = true
	} else if err != nil {
		return domain.Plan{}, err
	}
	if p.Status != domain.PlanDraft {
		return domain.Plan{}, &InvalidTransitionError{Entity: "plan", ID: p.Date, From: p.Status, Op: "register item"}
	}
	if err := e.Repo.UpsertPlanItemTx(ctx, tx, domain.PlanItem{
		ID:          uuid.NewString(),
		PlanID:      p.ID,
		RecipeID:    opts.RecipeID,
		Quantity:    opts.Quantity,
		Destination: opts.Destination,
		Priority:    opts.Priority,
	}); err != nil {
		return domain.Plan{}, err
	}
	if created {
		if err := e.Events.Append(ctx, tx, events.TypePlanCreated, "plan", p.ID, opts.ActorID, events.EventPayload{
			"date": p.Date,
		}); err != nil {
			return domain.Plan{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Plan{}, err
	}
	return e.Repo.GetPlan(ctx, p.ID)
}

// ApprovePlan moves a draft plan with at least one item to approved.
func (e Engine) ApprovePlan(ctx context.Context, date, actorID string) (domain.Plan, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Plan{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPlanByDateTx(ctx, tx, date)
	if err != nil {
		return domain.Plan{}, err
	}
	if p.Status != domain.PlanDraft {
		return domain.Plan{}, &InvalidTransitionError{Entity: "plan", ID: p.Date, From: p.Status, Op: "approve"}
	}
	if len(p.Items) == 0 {
		return domain.Plan{}, validationf("plan %s has no items", p.Date)
	}
	ts := e.ts()
	if err := e.Repo.TransitionPlanTx(ctx, tx, p.ID, domain.PlanDraft, domain.PlanApproved, "approved_at", ts); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Plan{}, &InvalidTransitionError{Entity: "plan", ID: p.Date, From: p.Status, Op: "approve"}
		}
		return domain.Plan{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypePlanApproved, "plan", p.ID, actorID, events.EventPayload{
		"date":  p.Date,
		"items": len(p.Items),
	}); err != nil {
		return domain.Plan{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Plan{}, err
	}
	return e.Repo.GetPlan(ctx, p.ID)
}

// CompletePlan closes a scheduled plan once every work order under it
// reached a terminal status.
func (e Engine) CompletePlan(ctx context.Context, date, actorID string) (domain.Plan, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Plan{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPlanByDateTx(ctx, tx, date)
	if err != nil {
		return domain.Plan{}, err
	}
	if p.Status != domain.PlanScheduled {
		return domain.Plan{}, &InvalidTransitionError{Entity: "plan", ID: p.Date, From: p.Status, Op: "complete"}
	}
	var open int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM work_orders
WHERE plan_item_id IN (SELECT id FROM plan_items WHERE plan_id=?)
AND status NOT IN (?,?)`, p.ID, domain.WorkOrderCompleted, domain.WorkOrderCancelled).Scan(&open)
	if err != nil {
		return domain.Plan{}, err
	}
	if open > 0 {
		return domain.Plan{}, validationf("plan %s still has %d open work orders", p.Date, open)
	}
	ts := e.ts()
	if err := e.Repo.TransitionPlanTx(ctx, tx, p.ID, domain.PlanScheduled, domain.PlanCompleted, "completed_at", ts); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Plan{}, &InvalidTransitionError{Entity: "plan", ID: p.Date, From: p.Status, Op: "complete"}
		}
		return domain.Plan{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypePlanCompleted, "plan", p.ID, actorID, events.EventPayload{
		"date": p.Date,
	}); err != nil {
		return domain.Plan{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Plan{}, err
	}
	return e.Repo.GetPlan(ctx, p.ID)
}

// SuggestedQuantity proposes a planning quantity for a recipe on a
// date: the historical average of completed output, plus committed
// demand for the output item, padded by the safety stock percentage.
func (e Engine) SuggestedQuantity(ctx context.Context, recipeID, date string) (decimal.Decimal, error) {
	day, err := parsePlanDate(date)
	if err != nil {
		return decimal.Zero, err
	}
	rec, err := e.Repo.GetRecipe(ctx, recipeID)
	if err != nil {
		return decimal.Zero, err
	}
	cfg := e.Config.Suggestions
	since := day.AddDate(0, 0, -cfg.HistoricalDays)
	var weekday *time.Weekday
	if cfg.SameWeekdayOnly {
		wd := day.Weekday()
		weekday = &wd
	}
	avg, hasHistory, err := e.Repo.AverageActualQuantity(ctx, recipeID, since, weekday)
	if err != nil {
		return decimal.Zero, err
	}
	base := decimal.Zero
	if hasHistory {
		base = avg
	}
	if e.Demand != nil {
		committed, err := e.Demand.Committed(ctx, domain.ItemRef{Kind: rec.OutputKind, ID: rec.OutputID}, date)
		if err != nil {
			return decimal.Zero, err
		}
		base = base.Add(committed)
	}
	safety := decimal.NewFromInt(int64(cfg.SafetyStockPercent)).Div(decimal.NewFromInt(100))
	return base.Mul(decimal.NewFromInt(1).Add(safety)), nil
}

func parsePlanDate(date string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Time{}, validationf("invalid plan date %q, want YYYY-MM-DD", date)
	}
	return t, nil
}
