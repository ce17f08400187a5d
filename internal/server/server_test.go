package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"craftline/internal/config"
	"craftline/internal/db"
	"craftline/internal/engine"
	"craftline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default(), nil)
	e.Now = func() time.Time {
		return time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func createRecipe(t *testing.T, srv *testServer, body map[string]any) RecipeResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/recipes", body)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create recipe status %d: %s", res.StatusCode, string(data))
	}
	var rec RecipeResponse
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("unmarshal recipe: %v", err)
	}
	return rec
}

func croissantBody() map[string]any {
	return map[string]any{
		"code":            "CROISSANT",
		"name":            "Butter croissant",
		"output":          map[string]string{"kind": "product", "id": "croissant"},
		"output_quantity": "50",
		"steps":           []string{"Laminating", "Mixing", "Baking"},
		"lead_time_days":  1,
		"work_center":     "bakery-1",
		"lines": []map[string]any{
			{"item": map[string]string{"kind": "material", "id": "butter"}, "quantity": "2.5", "unit": "kg"},
			{"item": map[string]string{"kind": "material", "id": "flour"}, "quantity": "10", "unit": "kg"},
		},
	}
}

func TestRecipeLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	rec := createRecipe(t, srv, croissantBody())
	if rec.Code != "CROISSANT" || !rec.Active {
		t.Fatalf("unexpected recipe: %+v", rec)
	}
	if len(rec.Items) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(rec.Items))
	}

	// Lookup works by code as well as by id.
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/recipes/CROISSANT", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get by code status %d: %s", res.StatusCode, string(data))
	}
	var byCode RecipeResponse
	_ = json.Unmarshal(data, &byCode)
	if byCode.ID != rec.ID {
		t.Fatalf("code lookup returned %s, want %s", byCode.ID, rec.ID)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/recipes/"+rec.ID, map[string]any{
		"active": false,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("deactivate status %d: %s", res.StatusCode, string(data))
	}
	var updated RecipeResponse
	_ = json.Unmarshal(data, &updated)
	if updated.Active {
		t.Fatalf("recipe still active after deactivation")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/recipes?active=true", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var active []RecipeResponse
	_ = json.Unmarshal(data, &active)
	if len(active) != 0 {
		t.Fatalf("expected no active recipes, got %d", len(active))
	}
}

func TestPlanScheduleFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	rec := createRecipe(t, srv, croissantBody())

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/plans/2026-02-12/items", map[string]any{
		"recipe_id": rec.ID,
		"quantity":  "100",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register item status %d: %s", res.StatusCode, string(data))
	}
	var plan PlanResponse
	_ = json.Unmarshal(data, &plan)
	if plan.Status != "draft" || len(plan.Items) != 1 {
		t.Fatalf("unexpected plan: %+v", plan)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/plans/2026-02-12/approve", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}

	// A second approve must be rejected as a state conflict.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/plans/2026-02-12/approve", nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on double approve, got %d: %s", res.StatusCode, string(data))
	}
	var envelope errorEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "conflict" {
		t.Fatalf("expected conflict code, got %q", envelope.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/plans/2026-02-12/schedule", map[string]any{})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("schedule status %d: %s", res.StatusCode, string(data))
	}
	var result ScheduleResultResponse
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !result.Success || len(result.WorkOrders) != 1 {
		t.Fatalf("unexpected schedule result: %s", string(data))
	}
	if result.WorkOrders[0].Code != "WO-2026-00001" {
		t.Fatalf("unexpected work order code %s", result.WorkOrders[0].Code)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/plans/2026-02-12/ingredients", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ingredients status %d: %s", res.StatusCode, string(data))
	}
	var reqs []RequirementResponse
	_ = json.Unmarshal(data, &reqs)
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requirements, got %s", string(data))
	}
}

func TestWorkOrderStepsOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	rec := createRecipe(t, srv, croissantBody())

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-orders", map[string]any{
		"recipe_id": rec.ID,
		"quantity":  "80",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create work order status %d: %s", res.StatusCode, string(data))
	}
	var wo WorkOrderResponse
	_ = json.Unmarshal(data, &wo)

	// Recording with no step name walks the recipe step list; the
	// last step completes the order.
	for _, qty := range []string{"80", "78", "76"} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-orders/"+wo.Code+"/steps", map[string]any{
			"quantity": qty,
		})
		if res.StatusCode != http.StatusOK {
			t.Fatalf("record step status %d: %s", res.StatusCode, string(data))
		}
	}
	var done WorkOrderResponse
	_ = json.Unmarshal(data, &done)
	if done.Status != "completed" {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if done.ActualQuantity == nil || *done.ActualQuantity != "76" {
		t.Fatalf("unexpected actual quantity %+v", done.ActualQuantity)
	}
	if done.ProcessQuantity == nil || *done.ProcessQuantity != "78" {
		t.Fatalf("unexpected process quantity %+v", done.ProcessQuantity)
	}
	if len(done.StepLog) != 3 {
		t.Fatalf("expected 3 step entries, got %d", len(done.StepLog))
	}
}

func TestEventsAfterPagesForward(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	rec := createRecipe(t, srv, croissantBody())
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/plans/2026-02-12/items", map[string]any{
		"recipe_id": rec.ID,
		"quantity":  "100",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register item status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/plans/2026-02-12/approve", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}

	// Default listing is newest first.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list events status %d: %s", res.StatusCode, string(data))
	}
	var latest []EventResponse
	_ = json.Unmarshal(data, &latest)
	if len(latest) < 3 {
		t.Fatalf("expected at least 3 events, got %d", len(latest))
	}
	if latest[0].ID < latest[1].ID {
		t.Fatalf("default listing not newest first: %d before %d", latest[0].ID, latest[1].ID)
	}

	// after=<first id> resumes past the cursor, oldest first.
	first := latest[len(latest)-1].ID
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?after="+fmt.Sprint(first), nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events after status %d: %s", res.StatusCode, string(data))
	}
	var tail []EventResponse
	_ = json.Unmarshal(data, &tail)
	if len(tail) != len(latest)-1 {
		t.Fatalf("expected %d events after cursor, got %d", len(latest)-1, len(tail))
	}
	for i, evt := range tail {
		if evt.ID <= first {
			t.Fatalf("event %d at position %d not after cursor %d", evt.ID, i, first)
		}
		if i > 0 && evt.ID <= tail[i-1].ID {
			t.Fatalf("forward page not ascending at position %d", i)
		}
	}
}

func TestErrorEnvelopes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/recipes/nope", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	var envelope errorEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("expected not_found, got %q", envelope.Error.Code)
	}

	body := croissantBody()
	body["lines"] = []map[string]any{}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/recipes", body)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "validation_failed" {
		t.Fatalf("expected validation_failed, got %q", envelope.Error.Code)
	}
}
