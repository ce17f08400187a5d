package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"craftline/internal/bom"
	"craftline/internal/domain"
	"craftline/internal/engine"
	"craftline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"conflict"`
	Message string         `json:"message" example:"plan 2026-02-12: cannot approve from status scheduled"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Craftline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Route Huma's own errors through the same envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema-level request validation reads as 400 bad_request.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(raw))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, raw)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Craftline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerRecipes(group, cfg.Engine)
	registerPlans(group, cfg.Engine)
	registerWorkOrders(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var ite *engine.InvalidTransitionError
	if errors.As(err, &ite) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), map[string]any{
			"entity": ite.Entity,
			"id":     ite.ID,
			"status": ite.From,
			"op":     ite.Op,
		})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, bom.ErrNoActiveLines) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "already exists") || strings.Contains(lowered, "unique constraint"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
	}
	oas.Security = security
	openPaths := map[string]bool{}
	for _, p := range []string{path.Join(basePath, "health"), path.Join(basePath, "auth/dev/login")} {
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		openPaths[p] = true
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if openPaths[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Craftline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerDevAuth(api huma.API, auth AuthConfig, e engine.Engine) {
	if !auth.EnableDevLogin || strings.TrimSpace(auth.JWTSecret) == "" {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "Issue a development token",
	}, func(ctx context.Context, input *struct {
		Body struct {
			ActorID string `json:"actor_id"`
		} `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.ActorID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := issueDevToken(auth.JWTSecret, input.Body.ActorID, e.Now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"token": token}}, nil
	})
}

func registerRecipes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-recipe",
		Method:        http.MethodPost,
		Path:          "/recipes",
		Summary:       "Create recipe",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateRecipeRequest `json:"body"`
	}) (*struct {
		Body RecipeResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		outputQty, apiErr := parseQuantity("output_quantity", input.Body.OutputQuantity)
		if apiErr != nil {
			return nil, apiErr
		}
		lines, apiErr := parseLines(input.Body.Lines)
		if apiErr != nil {
			return nil, apiErr
		}
		rec, err := e.CreateRecipe(ctx, engine.RecipeCreateOptions{
			Code:           input.Body.Code,
			Name:           input.Body.Name,
			Output:         itemRef(input.Body.Output),
			OutputQuantity: outputQty,
			Steps:          input.Body.Steps,
			LeadTimeDays:   input.Body.LeadTimeDays,
			WorkCenter:     input.Body.WorkCenter,
			Lines:          lines,
			ActorID:        actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RecipeResponse `json:"body"`
		}{Body: recipeResponse(rec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-recipes",
		Method:      http.MethodGet,
		Path:        "/recipes",
		Summary:     "List recipes",
	}, func(ctx context.Context, input *struct {
		Active bool `query:"active"`
	}) (*struct {
		Body []RecipeResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListRecipes(ctx, input.Active)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RecipeResponse `json:"body"`
		}{Body: mapRecipes(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-recipe",
		Method:      http.MethodGet,
		Path:        "/recipes/{id}",
		Summary:     "Get recipe by id or code",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body RecipeResponse `json:"body"`
	}, error) {
		rec, err := getRecipeByRef(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RecipeResponse `json:"body"`
		}{Body: recipeResponse(rec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-recipe",
		Method:      http.MethodPatch,
		Path:        "/recipes/{id}",
		Summary:     "Update recipe",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body UpdateRecipeRequest `json:"body"`
	}) (*struct {
		Body RecipeResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := getRecipeByRef(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		opts := engine.RecipeUpdateOptions{
			ID:           rec.ID,
			Name:         input.Body.Name,
			Steps:        input.Body.Steps,
			LeadTimeDays: input.Body.LeadTimeDays,
			WorkCenter:   input.Body.WorkCenter,
			Active:       input.Body.Active,
			ActorID:      actorID,
		}
		if input.Body.OutputQuantity != nil {
			qty, apiErr := parseQuantity("output_quantity", *input.Body.OutputQuantity)
			if apiErr != nil {
				return nil, apiErr
			}
			opts.OutputQuantity = &qty
		}
		if input.Body.Lines != nil {
			lines, apiErr := parseLines(*input.Body.Lines)
			if apiErr != nil {
				return nil, apiErr
			}
			opts.Lines = lines
		}
		updated, err := e.UpdateRecipe(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RecipeResponse `json:"body"`
		}{Body: recipeResponse(updated)}, nil
	})
}

func registerPlans(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-plans",
		Method:      http.MethodGet,
		Path:        "/plans",
		Summary:     "List plans",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []PlanResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListPlans(ctx, input.Status, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []PlanResponse `json:"body"`
		}{Body: mapPlans(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-plan",
		Method:      http.MethodGet,
		Path:        "/plans/{date}",
		Summary:     "Get plan for date",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Date string `path:"date"`
	}) (*struct {
		Body PlanResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetPlanByDate(ctx, input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanResponse `json:"body"`
		}{Body: planResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "register-plan-item",
		Method:        http.MethodPost,
		Path:          "/plans/{date}/items",
		Summary:       "Register a recipe on the plan",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Date string                  `path:"date"`
		Body RegisterPlanItemRequest `json:"body"`
	}) (*struct {
		Body PlanResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.RecipeID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "recipe_id is required", nil)
		}
		qty, apiErr := parseQuantity("quantity", input.Body.Quantity)
		if apiErr != nil {
			return nil, apiErr
		}
		p, err := e.RegisterPlanItem(ctx, engine.PlanItemOptions{
			Date:        input.Date,
			RecipeID:    input.Body.RecipeID,
			Quantity:    qty,
			Destination: input.Body.Destination,
			Priority:    input.Body.Priority,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanResponse `json:"body"`
		}{Body: planResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-plan",
		Method:      http.MethodPost,
		Path:        "/plans/{date}/approve",
		Summary:     "Approve plan",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Date string `path:"date"`
	}) (*struct {
		Body PlanResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.ApprovePlan(ctx, input.Date, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanResponse `json:"body"`
		}{Body: planResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "schedule-plan",
		Method:      http.MethodPost,
		Path:        "/plans/{date}/schedule",
		Summary:     "Schedule plan into work orders",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Date string          `path:"date"`
		Body ScheduleRequest `json:"body,omitempty"`
	}) (*struct {
		Body ScheduleResultResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Schedule(ctx, input.Date, engine.ScheduleOptions{
			Reserve: input.Body.Reserve,
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScheduleResultResponse `json:"body"`
		}{Body: scheduleResultResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-plan",
		Method:      http.MethodPost,
		Path:        "/plans/{date}/complete",
		Summary:     "Complete plan",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Date string `path:"date"`
	}) (*struct {
		Body PlanResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CompletePlan(ctx, input.Date, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanResponse `json:"body"`
		}{Body: planResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "plan-ingredients",
		Method:      http.MethodGet,
		Path:        "/plans/{date}/ingredients",
		Summary:     "Flattened material requirements for a plan",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Date string `path:"date"`
	}) (*struct {
		Body []RequirementResponse `json:"body"`
	}, error) {
		reqs, err := e.IngredientsForDate(ctx, input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RequirementResponse `json:"body"`
		}{Body: requirementResponses(reqs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "suggest-plan-quantity",
		Method:      http.MethodGet,
		Path:        "/plans/{date}/suggestions/{recipe_id}",
		Summary:     "Suggested quantity from production history",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Date     string `path:"date"`
		RecipeID string `path:"recipe_id"`
	}) (*struct {
		Body SuggestionResponse `json:"body"`
	}, error) {
		qty, err := e.SuggestedQuantity(ctx, input.RecipeID, input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SuggestionResponse `json:"body"`
		}{Body: SuggestionResponse{
			RecipeID: input.RecipeID,
			Date:     input.Date,
			Quantity: qty.String(),
		}}, nil
	})
}

func registerWorkOrders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-work-order",
		Method:        http.MethodPost,
		Path:          "/work-orders",
		Summary:       "Create standalone work order",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateWorkOrderRequest `json:"body"`
	}) (*struct {
		Body WorkOrderResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.RecipeID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "recipe_id is required", nil)
		}
		qty, apiErr := parseQuantity("quantity", input.Body.Quantity)
		if apiErr != nil {
			return nil, apiErr
		}
		wo, err := e.CreateWorkOrder(ctx, engine.WorkOrderCreateOptions{
			RecipeID:       input.Body.RecipeID,
			Quantity:       qty,
			Destination:    input.Body.Destination,
			Location:       input.Body.Location,
			ScheduledStart: input.Body.ScheduledStart,
			ActorID:        actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkOrderResponse `json:"body"`
		}{Body: workOrderResponse(wo)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-work-orders",
		Method:      http.MethodGet,
		Path:        "/work-orders",
		Summary:     "List work orders",
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status"`
		RecipeID string `query:"recipe_id"`
		PlanID   string `query:"plan_id"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body []WorkOrderResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListWorkOrders(ctx, repo.WorkOrderFilters{
			Status:   input.Status,
			RecipeID: input.RecipeID,
			PlanID:   input.PlanID,
			Limit:    normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []WorkOrderResponse `json:"body"`
		}{Body: mapWorkOrders(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-work-order",
		Method:      http.MethodGet,
		Path:        "/work-orders/{id}",
		Summary:     "Get work order by id or code",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body WorkOrderResponse `json:"body"`
	}, error) {
		wo, err := getWorkOrderByRef(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkOrderResponse `json:"body"`
		}{Body: workOrderResponse(wo)}, nil
	})

	registerWorkOrderAction(api, e, "start-work-order", "start", "Start work order",
		func(ctx context.Context, e engine.Engine, id, actorID string, _ ReasonRequest) (domain.WorkOrder, error) {
			return e.Start(ctx, id, actorID)
		})
	registerWorkOrderAction(api, e, "pause-work-order", "pause", "Pause work order",
		func(ctx context.Context, e engine.Engine, id, actorID string, body ReasonRequest) (domain.WorkOrder, error) {
			return e.Pause(ctx, id, body.Reason, actorID)
		})
	registerWorkOrderAction(api, e, "resume-work-order", "resume", "Resume work order",
		func(ctx context.Context, e engine.Engine, id, actorID string, _ ReasonRequest) (domain.WorkOrder, error) {
			return e.Resume(ctx, id, actorID)
		})
	registerWorkOrderAction(api, e, "cancel-work-order", "cancel", "Cancel work order",
		func(ctx context.Context, e engine.Engine, id, actorID string, body ReasonRequest) (domain.WorkOrder, error) {
			return e.Cancel(ctx, id, body.Reason, actorID)
		})

	huma.Register(api, huma.Operation{
		OperationID: "record-work-order-step",
		Method:      http.MethodPost,
		Path:        "/work-orders/{id}/steps",
		Summary:     "Record a production step",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body RecordStepRequest `json:"body"`
	}) (*struct {
		Body WorkOrderResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		qty, apiErr := parseQuantity("quantity", input.Body.Quantity)
		if apiErr != nil {
			return nil, apiErr
		}
		wo, err := getWorkOrderByRef(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		updated, err := e.RecordStep(ctx, wo.ID, engine.StepOptions{
			Step:     input.Body.Step,
			Quantity: qty,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkOrderResponse `json:"body"`
		}{Body: workOrderResponse(updated)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-work-order",
		Method:      http.MethodPost,
		Path:        "/work-orders/{id}/complete",
		Summary:     "Complete work order",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                   `path:"id"`
		Body CompleteWorkOrderRequest `json:"body,omitempty"`
	}) (*struct {
		Body WorkOrderResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var actual *decimal.Decimal
		if input.Body.Quantity != nil {
			qty, apiErr := parseQuantity("quantity", *input.Body.Quantity)
			if apiErr != nil {
				return nil, apiErr
			}
			actual = &qty
		}
		wo, err := getWorkOrderByRef(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		updated, err := e.Complete(ctx, wo.ID, actual, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkOrderResponse `json:"body"`
		}{Body: workOrderResponse(updated)}, nil
	})
}

func registerWorkOrderAction(api huma.API, e engine.Engine, opID, action, summary string, fn func(context.Context, engine.Engine, string, string, ReasonRequest) (domain.WorkOrder, error)) {
	huma.Register(api, huma.Operation{
		OperationID: opID,
		Method:      http.MethodPost,
		Path:        "/work-orders/{id}/" + action,
		Summary:     summary,
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body ReasonRequest `json:"body,omitempty"`
	}) (*struct {
		Body WorkOrderResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		wo, err := getWorkOrderByRef(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		updated, err := fn(ctx, e, wo.ID, actorID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkOrderResponse `json:"body"`
		}{Body: workOrderResponse(updated)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events",
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		After      int64  `query:"after" doc:"Only events with IDs above this cursor, oldest first"`
		Before     int64  `query:"before" doc:"Only events with IDs below this cursor, newest first"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var (
			items []domain.Event
			err   error
		)
		if input.After > 0 {
			items, err = e.Repo.EventsAfter(ctx, limit, input.After)
		} else {
			items, err = e.Repo.LatestEventsFrom(ctx, limit, input.Before, input.Type, input.EntityKind, input.EntityID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

// getRecipeByRef resolves a path ref that may be a recipe id or code.
func getRecipeByRef(ctx context.Context, e engine.Engine, ref string) (domain.Recipe, error) {
	rec, err := e.Repo.GetRecipe(ctx, ref)
	if errors.Is(err, repo.ErrNotFound) {
		return e.Repo.GetRecipeByCode(ctx, ref)
	}
	return rec, err
}

func getWorkOrderByRef(ctx context.Context, e engine.Engine, ref string) (domain.WorkOrder, error) {
	wo, err := e.Repo.GetWorkOrder(ctx, ref)
	if errors.Is(err, repo.ErrNotFound) {
		return e.Repo.GetWorkOrderByCode(ctx, ref)
	}
	return wo, err
}
