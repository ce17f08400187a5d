package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"craftline/internal/bom"
	"craftline/internal/domain"
	"craftline/internal/events"
	"craftline/internal/repo"
	"craftline/internal/sequence"
)

type ScheduleOptions struct {
	// Reserve overrides scheduling.reserve_inputs when set.
	Reserve *bool
	ActorID string
}

func (e Engine) expander() *bom.Expander {
	return &bom.Expander{Lookup: e.Repo, MaxDepth: e.Config.BOM.MaxDepth, Log: e.Log}
}

// expandedItem pairs a plan item with its recipe and flattened
// requirements.
type expandedItem struct {
	item   domain.PlanItem
	recipe domain.Recipe
	reqs   []domain.Requirement
}

func (e Engine) expandPlanItems(ctx context.Context, items []domain.PlanItem) ([]expandedItem, error) {
	exp := e.expander()
	var res []expandedItem
	for _, it := range items {
		if it.Quantity.Sign() <= 0 {
			continue
		}
		rec, err := e.Repo.GetRecipe(ctx, it.RecipeID)
		if err != nil {
			return nil, fmt.Errorf("plan item %s: %w", it.ID, err)
		}
		if !rec.Active {
			return nil, validationf("recipe %s is inactive", rec.Code)
		}
		reqs, err := exp.Expand(ctx, &rec, it.Quantity)
		if err != nil {
			return nil, fmt.Errorf("expand recipe %s: %w", rec.Code, err)
		}
		res = append(res, expandedItem{item: it, recipe: rec, reqs: reqs})
	}
	return res, nil
}

// Schedule turns an approved plan into one work order per plan item.
// Everything happens in a single transaction: work orders, the code
// sequence, the plan transition and the audit events all commit or
// roll back together. With reservation on, shortages across the whole
// plan are collected first and any one of them aborts the run with
// nothing created and the plan still approved.
func (e Engine) Schedule(ctx context.Context, date string, opts ScheduleOptions) (domain.ScheduleResult, error) {
	day, err := parsePlanDate(date)
	if err != nil {
		return domain.ScheduleResult{}, err
	}
	reserve := e.Config.Scheduling.ReserveInputs
	if opts.Reserve != nil {
		reserve = *opts.Reserve
	}
	if reserve && e.Stock == nil {
		e.Log.Warn("reservation requested but no stock backend configured, scheduling without holds",
			zap.String("date", date))
		reserve = false
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ScheduleResult{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPlanByDateTx(ctx, tx, date)
	if err != nil {
		return domain.ScheduleResult{}, err
	}
	if p.Status != domain.PlanApproved {
		return domain.ScheduleResult{}, &InvalidTransitionError{Entity: "plan", ID: p.Date, From: p.Status, Op: "schedule"}
	}
	// Claim the plan up front so a concurrent scheduler loses here
	// instead of double-creating work orders.
	ts := e.ts()
	if err := e.Repo.TransitionPlanTx(ctx, tx, p.ID, domain.PlanApproved, domain.PlanScheduled, "scheduled_at", ts); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.ScheduleResult{}, &InvalidTransitionError{Entity: "plan", ID: p.Date, From: p.Status, Op: "schedule"}
		}
		return domain.ScheduleResult{}, err
	}

	expanded, err := e.expandPlanItems(ctx, p.Items)
	if err != nil {
		return domain.ScheduleResult{}, err
	}
	allReqs := mergeRequirements(expanded)
	if reserve {
		shortages, err := e.findShortages(ctx, allReqs)
		if err != nil {
			return domain.ScheduleResult{}, err
		}
		if len(shortages) > 0 {
			// Returning without commit rolls the claim back.
			return domain.ScheduleResult{
				PlanID:    p.ID,
				Shortages: shortages,
				Message:   fmt.Sprintf("%d materials short, nothing scheduled", len(shortages)),
			}, nil
		}
	}

	yearPrefix := sequence.YearPrefix(e.Config.Codes.Prefix, e.now())
	startOfDay := time.Date(day.Year(), day.Month(), day.Day(), e.Config.Scheduling.StartHour, 0, 0, 0, time.UTC)

	// Holds live in the stock backend, outside our transaction, so on
	// any later failure they are handed back explicitly.
	var placed []domain.Hold
	releasePlaced := func() {
		for _, h := range placed {
			if err := e.Stock.Release(context.WithoutCancel(ctx), h.Ref); err != nil {
				e.Log.Error("failed to release hold during abort", zap.String("ref", h.Ref), zap.Error(err))
			}
		}
	}

	var created []domain.WorkOrder
	for _, ip := range expanded {
		seq, err := sequence.Next(ctx, tx, yearPrefix)
		if err != nil {
			releasePlaced()
			return domain.ScheduleResult{}, err
		}
		code := sequence.FormatCode(yearPrefix, seq, e.Config.Codes.PadWidth)
		start := startOfDay.AddDate(0, 0, -ip.recipe.LeadTimeDays).Format(time.RFC3339)
		md := &domain.WorkOrderMetadata{ScheduledBy: opts.ActorID}
		if reserve {
			md.ReservationMode = "all_or_nothing"
			for _, req := range ip.reqs {
				ref := fmt.Sprintf("%s/%s/%s", code, req.Item.Kind, req.Item.ID)
				if err := e.Stock.Reserve(ctx, req.Item, req.Quantity, req.Location, ref); err != nil {
					releasePlaced()
					return domain.ScheduleResult{}, fmt.Errorf("reserve for %s: %w", code, err)
				}
				h := domain.Hold{Item: req.Item, Quantity: req.Quantity, Location: req.Location, Ref: ref}
				placed = append(placed, h)
				md.Holds = append(md.Holds, h)
			}
		}
		planItemID := ip.item.ID
		wo := domain.WorkOrder{
			ID:              uuid.NewString(),
			Code:            code,
			PlanItemID:      &planItemID,
			RecipeID:        ip.recipe.ID,
			PlannedQuantity: ip.item.Quantity,
			Status:          domain.WorkOrderPending,
			Destination:     ip.item.Destination,
			Location:        ip.recipe.WorkCenter,
			ScheduledStart:  &start,
			CreatedBy:       opts.ActorID,
			Metadata:        md,
			CreatedAt:       ts,
			UpdatedAt:       ts,
		}
		if err := e.Repo.InsertWorkOrderTx(ctx, tx, wo); err != nil {
			releasePlaced()
			return domain.ScheduleResult{}, err
		}
		if err := e.Events.Append(ctx, tx, events.TypeWorkOrderCreated, "workorder", wo.ID, opts.ActorID, events.EventPayload{
			"code":             wo.Code,
			"recipe":           ip.recipe.Code,
			"planned_quantity": wo.PlannedQuantity.String(),
		}); err != nil {
			releasePlaced()
			return domain.ScheduleResult{}, err
		}
		created = append(created, wo)
	}

	if err := e.Events.Append(ctx, tx, events.TypeMaterialsNeeded, "plan", p.ID, opts.ActorID, events.EventPayload{
		"date":         p.Date,
		"requirements": requirementPayload(allReqs),
	}); err != nil {
		releasePlaced()
		return domain.ScheduleResult{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypePlanScheduled, "plan", p.ID, opts.ActorID, events.EventPayload{
		"date":        p.Date,
		"work_orders": len(created),
	}); err != nil {
		releasePlaced()
		return domain.ScheduleResult{}, err
	}
	if err := tx.Commit(); err != nil {
		releasePlaced()
		return domain.ScheduleResult{}, err
	}

	e.publish(events.Notification{
		Type:       events.TypeMaterialsNeeded,
		EntityKind: "plan",
		EntityID:   p.ID,
		ActorID:    opts.ActorID,
		Payload:    events.EventPayload{"date": p.Date, "requirements": allReqs},
	})
	return domain.ScheduleResult{
		Success:    true,
		PlanID:     p.ID,
		WorkOrders: created,
		Message:    fmt.Sprintf("%d work orders scheduled", len(created)),
	}, nil
}

func (e Engine) findShortages(ctx context.Context, reqs []domain.Requirement) ([]domain.Shortage, error) {
	var shortages []domain.Shortage
	for _, req := range reqs {
		avail, err := e.Stock.Available(ctx, req.Item, req.Location)
		if err != nil {
			return nil, fmt.Errorf("availability %s/%s: %w", req.Item.Kind, req.Item.ID, err)
		}
		if avail.LessThan(req.Quantity) {
			shortages = append(shortages, domain.Shortage{
				Item:      req.Item,
				Required:  req.Quantity,
				Available: avail,
				Location:  req.Location,
			})
		}
	}
	return shortages, nil
}

// IngredientsForDate aggregates the terminal requirements of every
// item on a plan, whatever state the plan is in.
func (e Engine) IngredientsForDate(ctx context.Context, date string) ([]domain.Requirement, error) {
	if _, err := parsePlanDate(date); err != nil {
		return nil, err
	}
	p, err := e.Repo.GetPlanByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	expanded, err := e.expandPlanItems(ctx, p.Items)
	if err != nil {
		return nil, err
	}
	return mergeRequirements(expanded), nil
}

func mergeRequirements(expanded []expandedItem) []domain.Requirement {
	merged := map[string]*domain.Requirement{}
	for _, ip := range expanded {
		for _, req := range ip.reqs {
			k := req.Item.Kind + "/" + req.Item.ID + "@" + req.Location
			if ex, ok := merged[k]; ok {
				ex.Quantity = ex.Quantity.Add(req.Quantity)
			} else {
				c := req
				merged[k] = &c
			}
		}
	}
	res := make([]domain.Requirement, 0, len(merged))
	for _, req := range merged {
		res = append(res, *req)
	}
	sort.Slice(res, func(i, j int) bool {
		a, b := res[i], res[j]
		if a.Item.Kind != b.Item.Kind {
			return a.Item.Kind < b.Item.Kind
		}
		if a.Item.ID != b.Item.ID {
			return a.Item.ID < b.Item.ID
		}
		return a.Location < b.Location
	})
	return res
}

func requirementPayload(reqs []domain.Requirement) []map[string]string {
	res := make([]map[string]string, 0, len(reqs))
	for _, req := range reqs {
		res = append(res, map[string]string{
			"kind":     req.Item.Kind,
			"id":       req.Item.ID,
			"quantity": req.Quantity.String(),
			"unit":     req.Unit,
			"location": req.Location,
		})
	}
	return res
}
