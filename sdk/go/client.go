package craftlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Craftline HTTP API client. Quantities travel as
// decimal strings exactly as the API returns them.
type Client struct {
	BaseURL     string
	BearerToken string
	ActorID     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// ItemRef identifies a material or a product.
type ItemRef struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// RecipeLine is one consumed item on a recipe creation request.
type RecipeLine struct {
	Item     ItemRef `json:"item"`
	Quantity string  `json:"quantity"`
	Unit     string  `json:"unit,omitempty"`
	Location string  `json:"location,omitempty"`
}

// RecipeItem is one stored consumed item on a recipe.
type RecipeItem struct {
	ID       string  `json:"id"`
	Item     ItemRef `json:"item"`
	Quantity string  `json:"quantity"`
	Unit     string  `json:"unit,omitempty"`
	Location string  `json:"location,omitempty"`
	Active   bool    `json:"active"`
}

// Recipe represents the API recipe model.
type Recipe struct {
	ID             string       `json:"id"`
	Code           string       `json:"code"`
	Name           string       `json:"name"`
	Output         ItemRef      `json:"output"`
	OutputQuantity string       `json:"output_quantity"`
	Steps          []string     `json:"steps,omitempty"`
	LeadTimeDays   int          `json:"lead_time_days"`
	WorkCenter     string       `json:"work_center,omitempty"`
	Active         bool         `json:"active"`
	Items          []RecipeItem `json:"items,omitempty"`
	CreatedAt      string       `json:"created_at"`
	UpdatedAt      string       `json:"updated_at"`
}

// PlanItem is one registered recipe quantity on a plan.
type PlanItem struct {
	ID          string `json:"id"`
	RecipeID    string `json:"recipe_id"`
	Quantity    string `json:"quantity"`
	Destination string `json:"destination,omitempty"`
	Priority    int    `json:"priority"`
}

// Plan represents a daily production plan.
type Plan struct {
	ID          string     `json:"id"`
	Date        string     `json:"date"`
	Status      string     `json:"status"`
	Items       []PlanItem `json:"items,omitempty"`
	CreatedAt   string     `json:"created_at"`
	ApprovedAt  *string    `json:"approved_at,omitempty"`
	ScheduledAt *string    `json:"scheduled_at,omitempty"`
	CompletedAt *string    `json:"completed_at,omitempty"`
}

// StepEntry is one recorded production step.
type StepEntry struct {
	Step     string `json:"step"`
	Quantity string `json:"quantity"`
	TS       string `json:"ts"`
	ActorID  string `json:"actor_id,omitempty"`
}

// WorkOrder represents the API work order model.
type WorkOrder struct {
	ID              string      `json:"id"`
	Code            string      `json:"code"`
	PlanItemID      *string     `json:"plan_item_id,omitempty"`
	RecipeID        string      `json:"recipe_id"`
	PlannedQuantity string      `json:"planned_quantity"`
	ProcessQuantity *string     `json:"process_quantity,omitempty"`
	OutputQuantity  *string     `json:"output_quantity,omitempty"`
	ActualQuantity  *string     `json:"actual_quantity,omitempty"`
	Status          string      `json:"status"`
	Destination     string      `json:"destination,omitempty"`
	Location        string      `json:"location,omitempty"`
	ScheduledStart  *string     `json:"scheduled_start,omitempty"`
	StartedAt       *string     `json:"started_at,omitempty"`
	CompletedAt     *string     `json:"completed_at,omitempty"`
	StepLog         []StepEntry `json:"step_log,omitempty"`
	Holds           []Hold      `json:"holds,omitempty"`
	CreatedAt       string      `json:"created_at"`
	UpdatedAt       string      `json:"updated_at"`
}

// Hold is a material reservation placed by the scheduler.
type Hold struct {
	Item     ItemRef `json:"item"`
	Quantity string  `json:"quantity"`
	Location string  `json:"location,omitempty"`
	Ref      string  `json:"ref"`
}

// Requirement is one flattened material requirement.
type Requirement struct {
	Item     ItemRef `json:"item"`
	Quantity string  `json:"quantity"`
	Unit     string  `json:"unit,omitempty"`
	Location string  `json:"location,omitempty"`
}

// Shortage reports insufficient stock for one requirement.
type Shortage struct {
	Item      ItemRef `json:"item"`
	Required  string  `json:"required"`
	Available string  `json:"available"`
	Location  string  `json:"location,omitempty"`
}

// ScheduleResult is the outcome of scheduling a plan.
type ScheduleResult struct {
	Success    bool        `json:"success"`
	PlanID     string      `json:"plan_id"`
	WorkOrders []WorkOrder `json:"work_orders,omitempty"`
	Shortages  []Shortage  `json:"shortages,omitempty"`
	Message    string      `json:"message,omitempty"`
}

// Suggestion is a history-derived quantity proposal.
type Suggestion struct {
	RecipeID string `json:"recipe_id"`
	Date     string `json:"date"`
	Quantity string `json:"quantity"`
}

// Event represents a log entry.
type Event struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// APIError wraps non-2xx responses. Code and Message are filled from
// the error envelope when the body parses as one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateRecipeRequest mirrors the recipe creation body.
type CreateRecipeRequest struct {
	Code           string       `json:"code"`
	Name           string       `json:"name"`
	Output         ItemRef      `json:"output"`
	OutputQuantity string       `json:"output_quantity"`
	Steps          []string     `json:"steps,omitempty"`
	LeadTimeDays   int          `json:"lead_time_days,omitempty"`
	WorkCenter     string       `json:"work_center,omitempty"`
	Lines          []RecipeLine `json:"lines"`
}

// CreateRecipe creates a recipe.
func (c *Client) CreateRecipe(ctx context.Context, req CreateRecipeRequest) (Recipe, error) {
	var resp Recipe
	err := c.do(ctx, http.MethodPost, "v0/recipes", req, &resp)
	return resp, err
}

// GetRecipe fetches a recipe by id or code.
func (c *Client) GetRecipe(ctx context.Context, ref string) (Recipe, error) {
	var resp Recipe
	err := c.do(ctx, http.MethodGet, "v0/recipes/"+url.PathEscape(ref), nil, &resp)
	return resp, err
}

// ListRecipes lists recipes, optionally only active ones.
func (c *Client) ListRecipes(ctx context.Context, activeOnly bool) ([]Recipe, error) {
	endpoint := "v0/recipes"
	if activeOnly {
		endpoint += "?active=true"
	}
	var resp []Recipe
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RegisterPlanItem adds a recipe quantity to the plan for a date,
// creating the draft plan when needed.
func (c *Client) RegisterPlanItem(ctx context.Context, date, recipeID, quantity, destination string, priority int) (Plan, error) {
	body := map[string]any{
		"recipe_id": recipeID,
		"quantity":  quantity,
	}
	if destination != "" {
		body["destination"] = destination
	}
	if priority != 0 {
		body["priority"] = priority
	}
	var resp Plan
	err := c.do(ctx, http.MethodPost, c.planPath(date, "items"), body, &resp)
	return resp, err
}

// GetPlan fetches the plan for a date.
func (c *Client) GetPlan(ctx context.Context, date string) (Plan, error) {
	var resp Plan
	err := c.do(ctx, http.MethodGet, c.planPath(date, ""), nil, &resp)
	return resp, err
}

// ApprovePlan freezes a draft plan for scheduling.
func (c *Client) ApprovePlan(ctx context.Context, date string) (Plan, error) {
	var resp Plan
	err := c.do(ctx, http.MethodPost, c.planPath(date, "approve"), nil, &resp)
	return resp, err
}

// SchedulePlan turns an approved plan into work orders. Pass reserve
// to override the workspace's reservation setting.
func (c *Client) SchedulePlan(ctx context.Context, date string, reserve *bool) (ScheduleResult, error) {
	var body any
	if reserve != nil {
		body = map[string]any{"reserve": *reserve}
	}
	var resp ScheduleResult
	err := c.do(ctx, http.MethodPost, c.planPath(date, "schedule"), body, &resp)
	return resp, err
}

// CompletePlan completes a scheduled plan.
func (c *Client) CompletePlan(ctx context.Context, date string) (Plan, error) {
	var resp Plan
	err := c.do(ctx, http.MethodPost, c.planPath(date, "complete"), nil, &resp)
	return resp, err
}

// Ingredients returns the flattened material requirements for a date.
func (c *Client) Ingredients(ctx context.Context, date string) ([]Requirement, error) {
	var resp []Requirement
	err := c.do(ctx, http.MethodGet, c.planPath(date, "ingredients"), nil, &resp)
	return resp, err
}

// SuggestedQuantity proposes a quantity for a recipe on a date.
func (c *Client) SuggestedQuantity(ctx context.Context, date, recipeID string) (Suggestion, error) {
	var resp Suggestion
	endpoint := c.planPath(date, "suggestions/"+url.PathEscape(recipeID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateWorkOrderRequest mirrors the standalone work order body.
type CreateWorkOrderRequest struct {
	RecipeID       string `json:"recipe_id"`
	Quantity       string `json:"quantity"`
	Destination    string `json:"destination,omitempty"`
	Location       string `json:"location,omitempty"`
	ScheduledStart string `json:"scheduled_start,omitempty"`
}

// CreateWorkOrder creates a work order outside of plan scheduling.
func (c *Client) CreateWorkOrder(ctx context.Context, req CreateWorkOrderRequest) (WorkOrder, error) {
	var resp WorkOrder
	err := c.do(ctx, http.MethodPost, "v0/work-orders", req, &resp)
	return resp, err
}

// GetWorkOrder fetches a work order by id or code.
func (c *Client) GetWorkOrder(ctx context.Context, ref string) (WorkOrder, error) {
	var resp WorkOrder
	err := c.do(ctx, http.MethodGet, c.woPath(ref, ""), nil, &resp)
	return resp, err
}

// ListWorkOrders lists work orders filtered by status.
func (c *Client) ListWorkOrders(ctx context.Context, status string, limit int) ([]WorkOrder, error) {
	endpoint := "v0/work-orders"
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []WorkOrder
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// StartWorkOrder moves a pending work order into progress.
func (c *Client) StartWorkOrder(ctx context.Context, ref string) (WorkOrder, error) {
	var resp WorkOrder
	err := c.do(ctx, http.MethodPost, c.woPath(ref, "start"), nil, &resp)
	return resp, err
}

// RecordStep records a counted quantity for a step. An empty step name
// records the next step in recipe order.
func (c *Client) RecordStep(ctx context.Context, ref, step, quantity string) (WorkOrder, error) {
	body := map[string]any{"quantity": quantity}
	if step != "" {
		body["step"] = step
	}
	var resp WorkOrder
	err := c.do(ctx, http.MethodPost, c.woPath(ref, "steps"), body, &resp)
	return resp, err
}

// PauseWorkOrder pauses a running work order.
func (c *Client) PauseWorkOrder(ctx context.Context, ref, reason string) (WorkOrder, error) {
	var resp WorkOrder
	err := c.do(ctx, http.MethodPost, c.woPath(ref, "pause"), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// ResumeWorkOrder resumes a paused work order.
func (c *Client) ResumeWorkOrder(ctx context.Context, ref string) (WorkOrder, error) {
	var resp WorkOrder
	err := c.do(ctx, http.MethodPost, c.woPath(ref, "resume"), nil, &resp)
	return resp, err
}

// CancelWorkOrder cancels a work order and releases its holds.
func (c *Client) CancelWorkOrder(ctx context.Context, ref, reason string) (WorkOrder, error) {
	var resp WorkOrder
	err := c.do(ctx, http.MethodPost, c.woPath(ref, "cancel"), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// CompleteWorkOrder completes a work order. Pass an empty quantity to
// let the server fall back to the last step count, then the plan.
func (c *Client) CompleteWorkOrder(ctx context.Context, ref, quantity string) (WorkOrder, error) {
	var body any
	if quantity != "" {
		body = map[string]any{"quantity": quantity}
	}
	var resp WorkOrder
	err := c.do(ctx, http.MethodPost, c.woPath(ref, "complete"), body, &resp)
	return resp, err
}

// Events returns recent events, newest first. after > 0 switches to
// forward reads starting past that event id.
func (c *Client) Events(ctx context.Context, limit int, after int64) ([]Event, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}
	if after > 0 {
		params.Set("after", fmt.Sprint(after))
	}
	endpoint := "v0/events"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) planPath(date, suffix string) string {
	p := "v0/plans/" + url.PathEscape(date)
	if suffix != "" {
		p += "/" + strings.TrimLeft(suffix, "/")
	}
	return p
}

func (c *Client) woPath(ref, suffix string) string {
	p := "v0/work-orders/" + url.PathEscape(ref)
	if suffix != "" {
		p += "/" + strings.TrimLeft(suffix, "/")
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
