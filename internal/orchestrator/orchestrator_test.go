package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/socialpilot-ai/socialpilot/internal/agent/config"
	"github.com/socialpilot-ai/socialpilot/internal/agent/core"
	"github.com/socialpilot-ai/socialpilot/internal/agent/telemetry"
	"github.com/socialpilot-ai/socialpilot/internal/gateway"
	"github.com/socialpilot-ai/socialpilot/internal/platform"
)

// gateLLM blocks every call until released, so tests can hold a cycle open.
type gateLLM struct {
	release chan struct{}
}

func (g *gateLLM) Generate(ctx context.Context, prompt, hint string, params gateway.Params) (string, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return "", errors.New("model offline")
}

// mapStore is a minimal in-memory Store.
type mapStore struct {
	mu       sync.Mutex
	contexts map[string]*core.AgentContext
	insight  *core.OptimizationInsight
}

func newMapStore() *mapStore {
	return &mapStore{contexts: map[string]*core.AgentContext{}}
}

func (s *mapStore) SaveContext(ctx context.Context, actx *core.AgentContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[actx.AccountID] = actx
	return nil
}

func (s *mapStore) LoadContext(ctx context.Context, accountID string) (*core.AgentContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contexts[accountID], nil
}

func (s *mapStore) AppendGoalHistory(ctx context.Context, accountID string, goal *core.AgentGoal) error {
	return nil
}

func (s *mapStore) GoalHistory(ctx context.Context, accountID string) ([]*core.AgentGoal, error) {
	return nil, nil
}

func (s *mapStore) AppendPerformanceMetrics(ctx context.Context, accountID string, metrics map[string]float64) error {
	return nil
}

func (s *mapStore) PerformanceHistory(ctx context.Context, accountID string) ([]core.MetricsSample, error) {
	return nil, nil
}

func (s *mapStore) SaveInsight(ctx context.Context, insight *core.OptimizationInsight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insight = insight
	return nil
}

func (s *mapStore) LoadInsight(ctx context.Context) (*core.OptimizationInsight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insight, nil
}

func newTestOrchestrator(llm core.LLMClient) (*Orchestrator, *mapStore) {
	account := config.AccountConfig{AccountID: "acct-1", Username: "tester", IsActive: true}
	execCfg := config.ExecutorsConfig{
		TaskTimeout:         time.Second,
		MaxRetries:          3,
		MaxTasksPerCycle:    3,
		ConfidenceThreshold: 0.7,
	}
	store := newMapStore()
	sim := platform.NewDryRunClient(nil)
	tele := telemetry.New(config.TelemetryConfig{})
	planner := core.NewPlanner(llm, execCfg, nil)
	executors := core.NewExecutors(llm, sim, account)
	agent := core.NewAgent(account, execCfg, planner, executors, store, sim, tele)

	o := New(
		config.SchedulerConfig{CycleInterval: 10 * time.Millisecond, MaxConcurrentAccounts: 2},
		[]config.AccountConfig{account},
		map[string]*core.Agent{"acct-1": agent},
		store, llm, tele, nil,
	)
	return o, store
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestRunCycleRejectsConcurrentRequest(t *testing.T) {
	llm := &gateLLM{release: make(chan struct{})}
	o, _ := newTestOrchestrator(llm)

	done := make(chan error, 1)
	go func() { done <- o.RunCycle(context.Background(), "acct-1") }()

	waitFor(t, func() bool { return o.InFlight("acct-1") }, "first cycle never started")

	err := o.RunCycle(context.Background(), "acct-1")
	if !errors.Is(err, ErrCycleInFlight) {
		t.Fatalf("expected ErrCycleInFlight, got %v", err)
	}

	close(llm.release)
	if err := <-done; err != nil {
		t.Fatalf("first cycle failed: %v", err)
	}

	if err := o.RunCycle(context.Background(), "acct-1"); err != nil {
		t.Fatalf("cycle after completion should run: %v", err)
	}
}

func TestRunCycleUnknownAccount(t *testing.T) {
	llm := &gateLLM{release: make(chan struct{})}
	close(llm.release)
	o, _ := newTestOrchestrator(llm)

	err := o.RunCycle(context.Background(), "nobody")
	if !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("expected ErrUnknownAccount, got %v", err)
	}
}

func TestRunContinuousStopsOnCancel(t *testing.T) {
	llm := &gateLLM{release: make(chan struct{})}
	close(llm.release)
	o, _ := newTestOrchestrator(llm)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.RunContinuous(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("continuous loop did not stop after cancel")
	}
}

func TestRunContinuousCancelDuringBlockedCycle(t *testing.T) {
	llm := &gateLLM{release: make(chan struct{})}
	o, _ := newTestOrchestrator(llm)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.RunContinuous(ctx) }()

	waitFor(t, func() bool { return o.InFlight("acct-1") }, "cycle never started")
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked cycle did not unwind after cancel")
	}
}

func TestIsDue(t *testing.T) {
	now := time.Now()
	recent := now.Add(-time.Minute)
	old := now.Add(-25 * time.Hour)

	if !isDue("", nil) || !isDue("", &recent) {
		t.Fatal("empty spec must always be due")
	}
	if !isDue("@daily", nil) {
		t.Fatal("never-run @daily must be due")
	}
	if isDue("@daily", &recent) {
		t.Fatal("@daily run a minute ago must not be due")
	}
	if !isDue("@daily", &old) {
		t.Fatal("@daily run 25h ago must be due")
	}
	if isDue("@hourly", &recent) {
		t.Fatal("@hourly run a minute ago must not be due")
	}
	if !isDue("*/5 * * * *", &old) {
		t.Fatal("5-minute cron with old last run must be due")
	}
	if !isDue("not a cron", &recent) {
		t.Fatal("invalid spec should fall back to always due")
	}
}

// echoLLM answers every prompt immediately and records it, with a scripted
// reply for the cross-account pass.
type echoLLM struct {
	mu      sync.Mutex
	prompts []string
}

func (e *echoLLM) Generate(ctx context.Context, prompt, hint string, params gateway.Params) (string, error) {
	e.mu.Lock()
	e.prompts = append(e.prompts, prompt)
	e.mu.Unlock()
	if strings.Contains(prompt, "cross-account lessons") {
		return `{"best_strategies": {}, "failure_patterns": {}, "opportunities": ["video"], "resource_allocation": {}}`, nil
	}
	return "[]", nil
}

func (e *echoLLM) find(substr string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.prompts {
		if strings.Contains(p, substr) {
			return p
		}
	}
	return ""
}

func TestOptimizeIncludesExecutorTallies(t *testing.T) {
	llm := &echoLLM{}
	o, store := newTestOrchestrator(llm)

	if err := o.RunCycle(context.Background(), "acct-1"); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if err := o.Optimize(context.Background()); err != nil {
		t.Fatalf("optimization pass failed: %v", err)
	}

	sent := llm.find("cross-account lessons")
	if sent == "" {
		t.Fatal("optimization prompt never reached the model")
	}
	if !strings.Contains(sent, "executor_performance") {
		t.Fatal("account summaries must carry the specialists' rolling tallies")
	}
	if !strings.Contains(sent, string(core.RoleContentCreator)) {
		t.Fatal("expected per-role tallies in the account summary")
	}
	insight, err := store.LoadInsight(context.Background())
	if err != nil || insight == nil {
		t.Fatalf("insight not persisted: %v", err)
	}
}

func TestRunAllPicksUpReloadedAccounts(t *testing.T) {
	llm := &echoLLM{}
	o, store := newTestOrchestrator(llm)

	first := config.AccountConfig{AccountID: "acct-1", Username: "tester", IsActive: true}
	second := config.AccountConfig{AccountID: "acct-2", Username: "later", IsActive: true}
	execCfg := config.ExecutorsConfig{
		TaskTimeout:         time.Second,
		MaxRetries:          3,
		MaxTasksPerCycle:    3,
		ConfidenceThreshold: 0.7,
	}
	o.OnReload(func() ([]config.AccountConfig, map[string]*core.Agent, error) {
		sim := platform.NewDryRunClient(nil)
		planner := core.NewPlanner(llm, execCfg, nil)
		executors := core.NewExecutors(llm, sim, second)
		agent := core.NewAgent(second, execCfg, planner, executors, store, sim, nil)
		existing, _ := o.Agent("acct-1")
		return []config.AccountConfig{first, second},
			map[string]*core.Agent{"acct-1": existing, "acct-2": agent}, nil
	})

	if err := o.RunAll(context.Background()); err != nil {
		t.Fatalf("pass failed: %v", err)
	}
	if actx, err := store.LoadContext(context.Background(), "acct-2"); err != nil || actx == nil {
		t.Fatalf("account added through reload never ran a cycle (ctx=%v err=%v)", actx, err)
	}
	if _, ok := o.Agent("acct-2"); !ok {
		t.Fatal("agent for the reloaded account is not registered")
	}
}
