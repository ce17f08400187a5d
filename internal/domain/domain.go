package domain

import "github.com/shopspring/decimal"

// ItemRef identifies a material or a product anywhere a recipe line,
// a requirement or a stock movement needs to point at one.
type ItemRef struct {
	Kind string `json:"kind" enum:"material,product"`
	ID   string `json:"id"`
}

type Recipe struct {
	ID             string          `json:"id"`
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	OutputKind     string          `json:"output_kind" enum:"material,product"`
	OutputID       string          `json:"output_id"`
	OutputQuantity decimal.Decimal `json:"output_quantity"`
	Steps          []string        `json:"steps,omitempty"`
	LeadTimeDays   int             `json:"lead_time_days"`
	WorkCenter     string          `json:"work_center,omitempty"`
	Active         bool            `json:"active"`
	Items          []RecipeItem    `json:"items,omitempty"`
	CreatedAt      string          `json:"created_at" format:"date-time"`
	UpdatedAt      string          `json:"updated_at" format:"date-time"`
}

type RecipeItem struct {
	ID       string          `json:"id"`
	RecipeID string          `json:"recipe_id"`
	Item     ItemRef         `json:"item"`
	Quantity decimal.Decimal `json:"quantity"`
	Unit     string          `json:"unit,omitempty"`
	Location string          `json:"location,omitempty"`
	Active   bool            `json:"active"`
}

type Plan struct {
	ID          string     `json:"id"`
	Date        string     `json:"date" format:"date"`
	Status      string     `json:"status" enum:"draft,approved,scheduled,completed"`
	Notes       string     `json:"notes,omitempty"`
	Items       []PlanItem `json:"items,omitempty"`
	CreatedAt   string     `json:"created_at" format:"date-time"`
	ApprovedAt  *string    `json:"approved_at,omitempty" format:"date-time"`
	ScheduledAt *string    `json:"scheduled_at,omitempty" format:"date-time"`
	CompletedAt *string    `json:"completed_at,omitempty" format:"date-time"`
}

type PlanItem struct {
	ID          string          `json:"id"`
	PlanID      string          `json:"plan_id"`
	RecipeID    string          `json:"recipe_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Destination string          `json:"destination,omitempty"`
	Priority    int             `json:"priority"`
}

type WorkOrder struct {
	ID              string             `json:"id"`
	Code            string             `json:"code"`
	PlanItemID      *string            `json:"plan_item_id,omitempty"`
	RecipeID        string             `json:"recipe_id"`
	PlannedQuantity decimal.Decimal    `json:"planned_quantity"`
	ProcessQuantity *decimal.Decimal   `json:"process_quantity,omitempty"`
	OutputQuantity  *decimal.Decimal   `json:"output_quantity,omitempty"`
	ActualQuantity  *decimal.Decimal   `json:"actual_quantity,omitempty"`
	Status          string             `json:"status" enum:"pending,in_progress,paused,completed,cancelled"`
	Destination     string             `json:"destination,omitempty"`
	Location        string             `json:"location,omitempty"`
	ScheduledStart  *string            `json:"scheduled_start,omitempty" format:"date-time"`
	StartedAt       *string            `json:"started_at,omitempty" format:"date-time"`
	CompletedAt     *string            `json:"completed_at,omitempty" format:"date-time"`
	CreatedBy       string             `json:"created_by,omitempty"`
	Notes           string             `json:"notes,omitempty"`
	Metadata        *WorkOrderMetadata `json:"metadata,omitempty"`
	CreatedAt       string             `json:"created_at" format:"date-time"`
	UpdatedAt       string             `json:"updated_at" format:"date-time"`
}

// WorkOrderMetadata is the free-form execution record carried on the
// work order row as JSON. Step entries accumulate in recording order.
type WorkOrderMetadata struct {
	StepLog         []StepEntry `json:"step_log,omitempty"`
	Holds           []Hold      `json:"holds,omitempty"`
	ReservationMode string      `json:"reservation_mode,omitempty"`
	ScheduledBy     string      `json:"scheduled_by,omitempty"`
	CompletedBy     string      `json:"completed_by,omitempty"`
}

type StepEntry struct {
	Step     string          `json:"step"`
	Quantity decimal.Decimal `json:"quantity"`
	TS       string          `json:"ts" format:"date-time"`
	ActorID  string          `json:"actor_id,omitempty"`
}

// Hold records a material reservation placed by the scheduler so a
// later cancellation can give it back.
type Hold struct {
	Item     ItemRef         `json:"item"`
	Quantity decimal.Decimal `json:"quantity"`
	Location string          `json:"location,omitempty"`
	Ref      string          `json:"ref"`
}

// Requirement is one flattened line of a recipe explosion: a terminal
// item and the quantity of it a requested output consumes.
type Requirement struct {
	Item     ItemRef         `json:"item"`
	Quantity decimal.Decimal `json:"quantity"`
	Unit     string          `json:"unit,omitempty"`
	Location string          `json:"location,omitempty"`
}

type Shortage struct {
	Item      ItemRef         `json:"item"`
	Required  decimal.Decimal `json:"required"`
	Available decimal.Decimal `json:"available"`
	Location  string          `json:"location,omitempty"`
}

type ScheduleResult struct {
	Success    bool        `json:"success"`
	PlanID     string      `json:"plan_id"`
	WorkOrders []WorkOrder `json:"work_orders,omitempty"`
	Shortages  []Shortage  `json:"shortages,omitempty"`
	Message    string      `json:"message,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
