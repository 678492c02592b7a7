package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/socialpilot-ai/socialpilot/internal/agent/config"
	"github.com/socialpilot-ai/socialpilot/internal/agent/core"
	"github.com/socialpilot-ai/socialpilot/internal/agent/telemetry"
	"github.com/socialpilot-ai/socialpilot/internal/gateway"
	"github.com/socialpilot-ai/socialpilot/internal/memory"
	"github.com/socialpilot-ai/socialpilot/internal/orchestrator"
	"github.com/socialpilot-ai/socialpilot/internal/platform"
)

// keyedLLM answers prompts by substring match.
type keyedLLM struct {
	script map[string]string
}

func (k *keyedLLM) Generate(ctx context.Context, prompt, hint string, params gateway.Params) (string, error) {
	for key, resp := range k.script {
		if strings.Contains(prompt, key) {
			return resp, nil
		}
	}
	return "[]", nil
}

func newTestServer(t *testing.T, llm core.LLMClient) *Server {
	t.Helper()

	account := config.AccountConfig{AccountID: "acct-1", Username: "tester", IsActive: true}
	execCfg := config.ExecutorsConfig{
		TaskTimeout:         time.Second,
		MaxRetries:          3,
		MaxTasksPerCycle:    3,
		ConfidenceThreshold: 0.7,
	}
	store, err := memory.NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("store setup failed: %v", err)
	}
	sim := platform.NewDryRunClient(nil)
	tele := telemetry.New(config.TelemetryConfig{})
	planner := core.NewPlanner(llm, execCfg, nil)
	agent := core.NewAgent(account, execCfg, planner, core.NewExecutors(llm, sim, account), store, sim, tele)

	orch := orchestrator.New(
		config.SchedulerConfig{CycleInterval: time.Minute, MaxConcurrentAccounts: 2},
		[]config.AccountConfig{account},
		map[string]*core.Agent{"acct-1": agent},
		store, llm, tele, nil,
	)
	return New(orch, store, nil)
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, &keyedLLM{})
	rec := doRequest(t, s, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestStatusListsAccounts(t *testing.T) {
	s := newTestServer(t, &keyedLLM{})
	rec := doRequest(t, s, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var status orchestrator.SystemStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("status response is not JSON: %v", err)
	}
	if len(status.Accounts) != 1 || status.Accounts[0].AccountID != "acct-1" {
		t.Fatalf("unexpected accounts: %+v", status.Accounts)
	}
}

func TestAddGoal(t *testing.T) {
	llm := &keyedLLM{script: map[string]string{
		"Interpret": `{"parsed_goal": "grow", "target_metrics": {"followers": 500}, "deadline_days": 30, "priority": "high"}`,
	}}
	s := newTestServer(t, llm)

	rec := doRequest(t, s, http.MethodPost, "/api/accounts/acct-1/goals",
		`{"description": "Gain 500 followers in 30 days"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add goal = %d: %s", rec.Code, rec.Body.String())
	}

	var goal core.AgentGoal
	if err := json.Unmarshal(rec.Body.Bytes(), &goal); err != nil {
		t.Fatalf("goal response is not JSON: %v", err)
	}
	if goal.TargetMetrics["followers"] != 500 || goal.Deadline == nil {
		t.Fatalf("unexpected goal: %+v", goal)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/accounts/acct-1/goals", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list goals = %d", rec.Code)
	}
	var goals []core.AgentGoal
	if err := json.Unmarshal(rec.Body.Bytes(), &goals); err != nil {
		t.Fatalf("goals list is not JSON: %v", err)
	}
	if len(goals) != 1 {
		t.Fatalf("got %d goals, want 1", len(goals))
	}
}

func TestAddGoalParseFailure(t *testing.T) {
	llm := &keyedLLM{script: map[string]string{
		"Interpret": "sorry, I cannot help with that",
	}}
	s := newTestServer(t, llm)

	rec := doRequest(t, s, http.MethodPost, "/api/accounts/acct-1/goals",
		`{"description": "be vaguely better"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unparseable goal = %d, want 422: %s", rec.Code, rec.Body.String())
	}
}

func TestAddGoalValidation(t *testing.T) {
	s := newTestServer(t, &keyedLLM{})

	rec := doRequest(t, s, http.MethodPost, "/api/accounts/acct-1/goals", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty description = %d, want 400", rec.Code)
	}
	rec = doRequest(t, s, http.MethodPost, "/api/accounts/missing/goals", `{"description": "x"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown account = %d, want 404", rec.Code)
	}
}

func TestRunCycleEndpoint(t *testing.T) {
	llm := &keyedLLM{script: map[string]string{
		"Assess": `{"goal_progress": {}, "opportunities": [], "content_needs": [], "performance_trends": {}, "recommendations": []}`,
	}}
	s := newTestServer(t, llm)

	rec := doRequest(t, s, http.MethodPost, "/api/cycles", `{"account_id": "acct-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("run cycle = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodPost, "/api/cycles", `{"account_id": "missing"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown account cycle = %d, want 404", rec.Code)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/cycles", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing account_id = %d, want 400", rec.Code)
	}
}

func TestInsightNotFoundBeforeOptimization(t *testing.T) {
	s := newTestServer(t, &keyedLLM{})
	rec := doRequest(t, s, http.MethodGet, "/api/insight", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("insight before optimization = %d, want 404", rec.Code)
	}
}
