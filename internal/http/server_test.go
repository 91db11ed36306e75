package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"savings/internal/core"
	"savings/internal/exchange"
	"savings/internal/services"
	"savings/internal/stats"
	"savings/internal/storage"
	"savings/internal/store"
)

type stubRefresher struct{ calls int }

func (s *stubRefresher) ForceRefresh(context.Context) exchange.Snapshot {
	s.calls++
	return exchange.Snapshot{Rates: core.DefaultRates(), Source: exchange.SourceLive}
}

var testToday = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*Server, *services.GoalService) {
	t.Helper()
	st := store.New(storage.NewMemorySlot())
	st.Initialize(context.Background())
	goals := services.NewGoalService(st, nil, nil)

	srv := NewServer(":0", Config{Goals: goals, Rates: &stubRefresher{}})
	srv.now = func() time.Time { return testToday }
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, goals
}

func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rr.Body.String(), err)
	}
	return v
}

func createGoal(t *testing.T, srv *Server, body string) stats.GoalView {
	t.Helper()
	rr := do(t, srv, http.MethodPost, "/api/goals", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body.String())
	}
	return decode[stats.GoalView](t, rr)
}

func TestIndexAndHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	createGoal(t, srv, `{"name":"Emergency fund","targetAmount":1000,"currency":"USD"}`)

	rr := do(t, srv, http.MethodGet, "/", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("index status=%d body=%s", rr.Code, rr.Body.String())
	}
	for _, want := range []string{"Savings Planner", "Emergency fund", "$1.0K", "₹83.0K", "Indian Rupee (₹)", "US Dollar ($)", "/static/app.js"} {
		if !strings.Contains(rr.Body.String(), want) {
			t.Errorf("index body missing %q", want)
		}
	}
	if csp := rr.Header().Get("Content-Security-Policy"); csp == "" {
		t.Error("index should carry a CSP header")
	}

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/static/app.js"} {
		rr := do(t, srv, http.MethodGet, path, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}
}

func TestReadyBeforeLoad(t *testing.T) {
	st := store.New(storage.NewMemorySlot())
	srv := NewServer(":0", Config{Goals: services.NewGoalService(st, nil, nil)})
	defer srv.Shutdown(context.Background())

	if rr := do(t, srv, http.MethodGet, "/readyz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before Initialize status=%d", rr.Code)
	}
}

// unreadableSlot fails every read so the store comes up read-only.
type unreadableSlot struct{ storage.Slot }

func (unreadableSlot) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("disk offline")
}

func TestReadyReportsReadOnlyStore(t *testing.T) {
	st := store.New(unreadableSlot{storage.NewMemorySlot()})
	st.Initialize(context.Background())
	srv := NewServer(":0", Config{Goals: services.NewGoalService(st, nil, nil)})
	defer srv.Shutdown(context.Background())

	rr := do(t, srv, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz status=%d", rr.Code)
	}
	body := decode[struct {
		Checks map[string]any `json:"checks"`
	}](t, rr)
	if body.Checks["goals"] != "read_only" {
		t.Fatalf("goals check = %v, want read_only", body.Checks["goals"])
	}
}

func TestCreateGoalValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantField string
	}{
		{"malformed json", `{"name":`, http.StatusBadRequest, ""},
		{"short name", `{"name":"ab","targetAmount":100,"currency":"INR"}`, http.StatusUnprocessableEntity, "name"},
		{"long name", `{"name":"` + strings.Repeat("x", 51) + `","targetAmount":100,"currency":"INR"}`, http.StatusUnprocessableEntity, "name"},
		{"zero target", `{"name":"Car","targetAmount":0,"currency":"INR"}`, http.StatusUnprocessableEntity, "targetAmount"},
		{"negative target", `{"name":"Car","targetAmount":-5,"currency":"INR"}`, http.StatusUnprocessableEntity, "targetAmount"},
		{"target too large", `{"name":"Car","targetAmount":100000001,"currency":"INR"}`, http.StatusUnprocessableEntity, "targetAmount"},
		{"bad currency", `{"name":"Car","targetAmount":100,"currency":"EUR"}`, http.StatusUnprocessableEntity, "currency"},
		{"missing currency", `{"name":"Car","targetAmount":100}`, http.StatusUnprocessableEntity, "currency"},
		{"target at limit", `{"name":"Car","targetAmount":100000000,"currency":"inr"}`, http.StatusCreated, ""},
		{"string amount with grouping", `{"name":"Bike","targetAmount":"1,500.50","currency":"USD"}`, http.StatusCreated, ""},
		{"comma in fraction", `{"name":"Bike","targetAmount":"1500.5,0","currency":"USD"}`, http.StatusUnprocessableEntity, "targetAmount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/api/goals", tt.body)
			if rr.Code != tt.wantCode {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tt.wantCode, rr.Body.String())
			}
			if tt.wantField != "" {
				apiErr := decode[APIError](t, rr)
				if _, ok := apiErr.Fields[tt.wantField]; !ok {
					t.Errorf("fields=%v, want entry for %q", apiErr.Fields, tt.wantField)
				}
			}
		})
	}
}

func TestCreateGoalFromForm(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/goals", strings.NewReader("name=++Holiday++&targetAmount=2500&currency=USD"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	view := decode[stats.GoalView](t, rr)
	if view.Name != "Holiday" || view.Currency != core.USD || view.TargetAmount.String() != "2500" {
		t.Fatalf("unexpected goal %+v", view.Goal)
	}
	if loc := rr.Header().Get("Location"); loc != "/api/goals/"+view.ID {
		t.Errorf("Location=%q", loc)
	}
}

func TestFormAmountsAcceptDigitGrouping(t *testing.T) {
	srv, _ := newTestServer(t)

	post := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rr, req)
		return rr
	}

	rr := post("/api/goals", "name=Wedding&targetAmount=10,000&currency=INR")
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	view := decode[stats.GoalView](t, rr)
	if !view.TargetAmount.Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("targetAmount = %s, want 10000", view.TargetAmount)
	}

	rr = post("/api/goals/"+view.ID+"/contributions", "amount=1%2C500&date=2024-03-01")
	if rr.Code != http.StatusCreated {
		t.Fatalf("contribution status=%d body=%s", rr.Code, rr.Body.String())
	}
	res := decode[contributionResponse](t, rr)
	if !res.Contribution.Amount.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("contribution amount = %s, want 1500", res.Contribution.Amount)
	}
}

func TestContributionFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	g := createGoal(t, srv, `{"name":"Laptop","targetAmount":1000,"currency":"INR"}`)
	path := "/api/goals/" + g.ID + "/contributions"

	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantField string
	}{
		{"below minimum", `{"amount":0.5,"date":"2024-03-01"}`, http.StatusUnprocessableEntity, "amount"},
		{"above maximum", `{"amount":10000001,"date":"2024-03-01"}`, http.StatusUnprocessableEntity, "amount"},
		{"future date", `{"amount":10,"date":"2024-03-16"}`, http.StatusUnprocessableEntity, "date"},
		{"bad date", `{"amount":10,"date":"01/03/2024"}`, http.StatusUnprocessableEntity, "date"},
		{"missing date", `{"amount":10}`, http.StatusUnprocessableEntity, "date"},
		{"long note", `{"amount":10,"date":"2024-03-01","note":"` + strings.Repeat("n", 101) + `"}`, http.StatusUnprocessableEntity, "note"},
		{"today is allowed", `{"amount":400,"date":"2024-03-15","note":"  salary  "}`, http.StatusCreated, ""},
		{"overshoot is allowed", `{"amount":700,"date":"2024-03-10"}`, http.StatusCreated, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, path, tt.body)
			if rr.Code != tt.wantCode {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tt.wantCode, rr.Body.String())
			}
			if tt.wantField != "" {
				if _, ok := decode[APIError](t, rr).Fields[tt.wantField]; !ok {
					t.Errorf("missing field error for %q: %s", tt.wantField, rr.Body.String())
				}
			}
		})
	}

	rr := do(t, srv, http.MethodGet, "/api/goals/"+g.ID, "")
	view := decode[stats.GoalView](t, rr)
	if view.CurrentAmount.String() != "1100" || view.ContributionCount != 2 {
		t.Fatalf("current=%s count=%d", view.CurrentAmount, view.ContributionCount)
	}
	if !view.IsCompleted || !view.ExceedsTarget || view.Progress != 100 {
		t.Errorf("derived flags wrong: %+v", view)
	}
	if view.Contributions[0].Note != "salary" {
		t.Errorf("note should be trimmed, got %q", view.Contributions[0].Note)
	}

	if rr := do(t, srv, http.MethodPost, "/api/goals/missing/contributions", `{"amount":10,"date":"2024-03-01"}`); rr.Code != http.StatusNotFound {
		t.Errorf("unknown goal status=%d", rr.Code)
	}
}

func TestUpdateGoal(t *testing.T) {
	srv, _ := newTestServer(t)
	g := createGoal(t, srv, `{"name":"Trip","targetAmount":500,"currency":"USD"}`)
	path := "/api/goals/" + g.ID

	if rr := do(t, srv, http.MethodPatch, path, `{}`); rr.Code != http.StatusBadRequest {
		t.Errorf("empty patch status=%d", rr.Code)
	}
	if rr := do(t, srv, http.MethodPatch, path, `{"targetAmount":0}`); rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("zero target status=%d", rr.Code)
	}
	if rr := do(t, srv, http.MethodPatch, "/api/goals/nope", `{"name":"Other"}`); rr.Code != http.StatusNotFound {
		t.Errorf("unknown goal status=%d", rr.Code)
	}

	rr := do(t, srv, http.MethodPatch, path, `{"name":"Japan trip","currency":"INR"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("patch status=%d body=%s", rr.Code, rr.Body.String())
	}
	view := decode[stats.GoalView](t, rr)
	if view.Name != "Japan trip" || view.Currency != core.INR || view.TargetAmount.String() != "500" {
		t.Fatalf("patch applied wrongly: %+v", view.Goal)
	}
}

func TestTwoStepDelete(t *testing.T) {
	srv, goals := newTestServer(t)
	g := createGoal(t, srv, `{"name":"House","targetAmount":50000,"currency":"INR"}`)
	path := "/api/goals/" + g.ID

	rr := do(t, srv, http.MethodDelete, path, "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("unconfirmed delete status=%d", rr.Code)
	}
	body := decode[struct {
		Code    string                      `json:"code"`
		Details services.DeleteConfirmation `json:"details"`
	}](t, rr)
	if body.Code != CodeConfirmRequired || body.Details.Name != "House" || body.Details.Warning != services.DeleteWarning {
		t.Fatalf("confirmation payload = %+v", body)
	}
	if len(goals.Goals()) != 1 {
		t.Fatal("unconfirmed delete must not remove the goal")
	}

	if rr := do(t, srv, http.MethodDelete, path+"?confirm=true", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("confirmed delete status=%d", rr.Code)
	}
	if len(goals.Goals()) != 0 {
		t.Fatal("confirmed delete should remove the goal")
	}

	if rr := do(t, srv, http.MethodDelete, path, ""); rr.Code != http.StatusNotFound {
		t.Errorf("unconfirmed delete of unknown goal status=%d", rr.Code)
	}
	if rr := do(t, srv, http.MethodDelete, path+"?confirm=true", ""); rr.Code != http.StatusNoContent {
		t.Errorf("confirmed delete of unknown goal status=%d", rr.Code)
	}
}

func TestDashboardAndRates(t *testing.T) {
	srv, _ := newTestServer(t)
	createGoal(t, srv, `{"name":"Phone","targetAmount":100,"currency":"USD"}`)

	rr := do(t, srv, http.MethodGet, "/api/dashboard", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("dashboard status=%d", rr.Code)
	}
	dash := decode[services.Dashboard](t, rr)
	if dash.Stats.GoalCount != 1 || dash.Stats.TotalTargetINR.String() != "8300" {
		t.Errorf("stats = %+v", dash.Stats)
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Error("API responses should not be cached")
	}

	rr = do(t, srv, http.MethodGet, "/api/rates", "")
	if snap := decode[exchange.Snapshot](t, rr); snap.Source != exchange.SourceDefault {
		t.Errorf("rates source = %q", snap.Source)
	}

	rr = do(t, srv, http.MethodPost, "/api/rates/refresh", "")
	if snap := decode[exchange.Snapshot](t, rr); snap.Source != exchange.SourceLive {
		t.Errorf("refresh source = %q", snap.Source)
	}
}

func TestRefreshWithoutProvider(t *testing.T) {
	st := store.New(storage.NewMemorySlot())
	st.Initialize(context.Background())
	srv := NewServer(":0", Config{Goals: services.NewGoalService(st, nil, nil)})
	defer srv.Shutdown(context.Background())

	if rr := do(t, srv, http.MethodPost, "/api/rates/refresh", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := do(t, srv, http.MethodPut, "/api/goals", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", rr.Code)
	}
}
