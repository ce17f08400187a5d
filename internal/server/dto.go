package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shopspring/decimal"

	"craftline/internal/domain"
	"craftline/internal/engine"
)

// Quantities cross the wire as decimal strings so callers never lose
// precision to float rounding.

type ItemRefBody struct {
	Kind string `json:"kind" enum:"material,product" example:"material"`
	ID   string `json:"id" example:"flour"`
}

type RecipeLineRequest struct {
	Item     ItemRefBody `json:"item"`
	Quantity string      `json:"quantity" example:"2.5"`
	Unit     string      `json:"unit,omitempty" example:"kg"`
	Location string      `json:"location,omitempty"`
}

type CreateRecipeRequest struct {
	Code           string              `json:"code" example:"CROISSANT"`
	Name           string              `json:"name" example:"Butter croissant"`
	Output         ItemRefBody         `json:"output"`
	OutputQuantity string              `json:"output_quantity" example:"50"`
	Steps          []string            `json:"steps,omitempty"`
	LeadTimeDays   int                 `json:"lead_time_days,omitempty"`
	WorkCenter     string              `json:"work_center,omitempty"`
	Lines          []RecipeLineRequest `json:"lines"`
}

type UpdateRecipeRequest struct {
	Name           string               `json:"name,omitempty"`
	OutputQuantity *string              `json:"output_quantity,omitempty"`
	Steps          []string             `json:"steps,omitempty"`
	LeadTimeDays   *int                 `json:"lead_time_days,omitempty"`
	WorkCenter     *string              `json:"work_center,omitempty"`
	Lines          *[]RecipeLineRequest `json:"lines,omitempty"`
	Active         *bool                `json:"active,omitempty"`
}

type RecipeItemResponse struct {
	ID       string      `json:"id"`
	Item     ItemRefBody `json:"item"`
	Quantity string      `json:"quantity"`
	Unit     string      `json:"unit,omitempty"`
	Location string      `json:"location,omitempty"`
	Active   bool        `json:"active"`
}

type RecipeResponse struct {
	ID             string               `json:"id"`
	Code           string               `json:"code"`
	Name           string               `json:"name"`
	Output         ItemRefBody          `json:"output"`
	OutputQuantity string               `json:"output_quantity"`
	Steps          []string             `json:"steps,omitempty"`
	LeadTimeDays   int                  `json:"lead_time_days"`
	WorkCenter     string               `json:"work_center,omitempty"`
	Active         bool                 `json:"active"`
	Items          []RecipeItemResponse `json:"items,omitempty"`
	CreatedAt      string               `json:"created_at"`
	UpdatedAt      string               `json:"updated_at"`
}

type RegisterPlanItemRequest struct {
	RecipeID    string `json:"recipe_id"`
	Quantity    string `json:"quantity" example:"120"`
	Destination string `json:"destination,omitempty"`
	Priority    int    `json:"priority,omitempty"`
}

type PlanItemResponse struct {
	ID          string `json:"id"`
	RecipeID    string `json:"recipe_id"`
	Quantity    string `json:"quantity"`
	Destination string `json:"destination,omitempty"`
	Priority    int    `json:"priority"`
}

type PlanResponse struct {
	ID          string             `json:"id"`
	Date        string             `json:"date"`
	Status      string             `json:"status"`
	Notes       string             `json:"notes,omitempty"`
	Items       []PlanItemResponse `json:"items,omitempty"`
	CreatedAt   string             `json:"created_at"`
	ApprovedAt  *string            `json:"approved_at,omitempty"`
	ScheduledAt *string            `json:"scheduled_at,omitempty"`
	CompletedAt *string            `json:"completed_at,omitempty"`
}

type ScheduleRequest struct {
	Reserve *bool `json:"reserve,omitempty"`
}

type StepEntryResponse struct {
	Step     string `json:"step"`
	Quantity string `json:"quantity"`
	TS       string `json:"ts"`
	ActorID  string `json:"actor_id,omitempty"`
}

type HoldResponse struct {
	Item     ItemRefBody `json:"item"`
	Quantity string      `json:"quantity"`
	Location string      `json:"location,omitempty"`
	Ref      string      `json:"ref"`
}

type WorkOrderResponse struct {
	ID              string              `json:"id"`
	Code            string              `json:"code"`
	PlanItemID      *string             `json:"plan_item_id,omitempty"`
	RecipeID        string              `json:"recipe_id"`
	PlannedQuantity string              `json:"planned_quantity"`
	ProcessQuantity *string             `json:"process_quantity,omitempty"`
	OutputQuantity  *string             `json:"output_quantity,omitempty"`
	ActualQuantity  *string             `json:"actual_quantity,omitempty"`
	Status          string              `json:"status"`
	Destination     string              `json:"destination,omitempty"`
	Location        string              `json:"location,omitempty"`
	ScheduledStart  *string             `json:"scheduled_start,omitempty"`
	StartedAt       *string             `json:"started_at,omitempty"`
	CompletedAt     *string             `json:"completed_at,omitempty"`
	CreatedBy       string              `json:"created_by,omitempty"`
	Notes           string              `json:"notes,omitempty"`
	StepLog         []StepEntryResponse `json:"step_log,omitempty"`
	Holds           []HoldResponse      `json:"holds,omitempty"`
	CreatedAt       string              `json:"created_at"`
	UpdatedAt       string              `json:"updated_at"`
}

type CreateWorkOrderRequest struct {
	RecipeID       string `json:"recipe_id"`
	Quantity       string `json:"quantity" example:"100"`
	Destination    string `json:"destination,omitempty"`
	Location       string `json:"location,omitempty"`
	ScheduledStart string `json:"scheduled_start,omitempty"`
}

type RecordStepRequest struct {
	Step     string `json:"step,omitempty"`
	Quantity string `json:"quantity" example:"72"`
}

type ReasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

type CompleteWorkOrderRequest struct {
	Quantity *string `json:"quantity,omitempty" example:"98"`
}

type RequirementResponse struct {
	Item     ItemRefBody `json:"item"`
	Quantity string      `json:"quantity"`
	Unit     string      `json:"unit,omitempty"`
	Location string      `json:"location,omitempty"`
}

type ShortageResponse struct {
	Item      ItemRefBody `json:"item"`
	Required  string      `json:"required"`
	Available string      `json:"available"`
	Location  string      `json:"location,omitempty"`
}

type ScheduleResultResponse struct {
	Success    bool                `json:"success"`
	PlanID     string              `json:"plan_id,omitempty"`
	WorkOrders []WorkOrderResponse `json:"work_orders,omitempty"`
	Shortages  []ShortageResponse  `json:"shortages,omitempty"`
	Message    string              `json:"message,omitempty"`
}

type SuggestionResponse struct {
	RecipeID string `json:"recipe_id"`
	Date     string `json:"date"`
	Quantity string `json:"quantity"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

func itemRefBody(item domain.ItemRef) ItemRefBody {
	return ItemRefBody{Kind: item.Kind, ID: item.ID}
}

func itemRef(body ItemRefBody) domain.ItemRef {
	return domain.ItemRef{Kind: body.Kind, ID: body.ID}
}

func decimalPtrString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func recipeResponse(rec domain.Recipe) RecipeResponse {
	resp := RecipeResponse{
		ID:             rec.ID,
		Code:           rec.Code,
		Name:           rec.Name,
		Output:         ItemRefBody{Kind: rec.OutputKind, ID: rec.OutputID},
		OutputQuantity: rec.OutputQuantity.String(),
		Steps:          rec.Steps,
		LeadTimeDays:   rec.LeadTimeDays,
		WorkCenter:     rec.WorkCenter,
		Active:         rec.Active,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
	for _, it := range rec.Items {
		resp.Items = append(resp.Items, RecipeItemResponse{
			ID:       it.ID,
			Item:     itemRefBody(it.Item),
			Quantity: it.Quantity.String(),
			Unit:     it.Unit,
			Location: it.Location,
			Active:   it.Active,
		})
	}
	return resp
}

func mapRecipes(items []domain.Recipe) []RecipeResponse {
	out := make([]RecipeResponse, 0, len(items))
	for _, rec := range items {
		out = append(out, recipeResponse(rec))
	}
	return out
}

func planResponse(p domain.Plan) PlanResponse {
	resp := PlanResponse{
		ID:          p.ID,
		Date:        p.Date,
		Status:      p.Status,
		Notes:       p.Notes,
		CreatedAt:   p.CreatedAt,
		ApprovedAt:  p.ApprovedAt,
		ScheduledAt: p.ScheduledAt,
		CompletedAt: p.CompletedAt,
	}
	for _, it := range p.Items {
		resp.Items = append(resp.Items, PlanItemResponse{
			ID:          it.ID,
			RecipeID:    it.RecipeID,
			Quantity:    it.Quantity.String(),
			Destination: it.Destination,
			Priority:    it.Priority,
		})
	}
	return resp
}

func mapPlans(items []domain.Plan) []PlanResponse {
	out := make([]PlanResponse, 0, len(items))
	for _, p := range items {
		out = append(out, planResponse(p))
	}
	return out
}

func workOrderResponse(wo domain.WorkOrder) WorkOrderResponse {
	resp := WorkOrderResponse{
		ID:              wo.ID,
		Code:            wo.Code,
		PlanItemID:      wo.PlanItemID,
		RecipeID:        wo.RecipeID,
		PlannedQuantity: wo.PlannedQuantity.String(),
		ProcessQuantity: decimalPtrString(wo.ProcessQuantity),
		OutputQuantity:  decimalPtrString(wo.OutputQuantity),
		ActualQuantity:  decimalPtrString(wo.ActualQuantity),
		Status:          wo.Status,
		Destination:     wo.Destination,
		Location:        wo.Location,
		ScheduledStart:  wo.ScheduledStart,
		StartedAt:       wo.StartedAt,
		CompletedAt:     wo.CompletedAt,
		CreatedBy:       wo.CreatedBy,
		Notes:           wo.Notes,
		CreatedAt:       wo.CreatedAt,
		UpdatedAt:       wo.UpdatedAt,
	}
	if wo.Metadata != nil {
		for _, entry := range wo.Metadata.StepLog {
			resp.StepLog = append(resp.StepLog, StepEntryResponse{
				Step:     entry.Step,
				Quantity: entry.Quantity.String(),
				TS:       entry.TS,
				ActorID:  entry.ActorID,
			})
		}
		for _, h := range wo.Metadata.Holds {
			resp.Holds = append(resp.Holds, HoldResponse{
				Item:     itemRefBody(h.Item),
				Quantity: h.Quantity.String(),
				Location: h.Location,
				Ref:      h.Ref,
			})
		}
	}
	return resp
}

func mapWorkOrders(items []domain.WorkOrder) []WorkOrderResponse {
	out := make([]WorkOrderResponse, 0, len(items))
	for _, wo := range items {
		out = append(out, workOrderResponse(wo))
	}
	return out
}

func requirementResponses(reqs []domain.Requirement) []RequirementResponse {
	out := make([]RequirementResponse, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, RequirementResponse{
			Item:     itemRefBody(req.Item),
			Quantity: req.Quantity.String(),
			Unit:     req.Unit,
			Location: req.Location,
		})
	}
	return out
}

func shortageResponses(shortages []domain.Shortage) []ShortageResponse {
	out := make([]ShortageResponse, 0, len(shortages))
	for _, s := range shortages {
		out = append(out, ShortageResponse{
			Item:      itemRefBody(s.Item),
			Required:  s.Required.String(),
			Available: s.Available.String(),
			Location:  s.Location,
		})
	}
	return out
}

func scheduleResultResponse(res domain.ScheduleResult) ScheduleResultResponse {
	return ScheduleResultResponse{
		Success:    res.Success,
		PlanID:     res.PlanID,
		WorkOrders: mapWorkOrders(res.WorkOrders),
		Shortages:  shortageResponses(res.Shortages),
		Message:    res.Message,
	}
}

func eventResponse(evt domain.Event) EventResponse {
	payload := json.RawMessage([]byte("{}"))
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage([]byte(evt.Payload))
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, evt := range items {
		out = append(out, eventResponse(evt))
	}
	return out
}

// parseQuantity converts a wire quantity into a decimal.
func parseQuantity(field, value string) (decimal.Decimal, huma.StatusError) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, newAPIError(http.StatusBadRequest, "bad_request", field+" must be a decimal number", map[string]any{"field": field, "value": value})
	}
	return d, nil
}

func parseLines(lines []RecipeLineRequest) ([]engine.RecipeLine, huma.StatusError) {
	out := make([]engine.RecipeLine, 0, len(lines))
	for _, line := range lines {
		qty, apiErr := parseQuantity("lines.quantity", line.Quantity)
		if apiErr != nil {
			return nil, apiErr
		}
		out = append(out, engine.RecipeLine{
			Item:     itemRef(line.Item),
			Quantity: qty,
			Unit:     line.Unit,
			Location: line.Location,
		})
	}
	return out, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func bodyBytes(ctx context.Context) []byte {
	if b, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return b
	}
	return nil
}
