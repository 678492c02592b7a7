package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/socialpilot-ai/socialpilot/internal/agent/config"
	"github.com/socialpilot-ai/socialpilot/internal/agent/core"
	"github.com/socialpilot-ai/socialpilot/internal/agent/telemetry"
	"github.com/socialpilot-ai/socialpilot/internal/gateway"
)

// ErrCycleInFlight means the account already has a cycle running. The
// request is rejected rather than queued.
var ErrCycleInFlight = fmt.Errorf("cycle already in flight for account")

// ErrUnknownAccount means no configured account matches the identifier.
var ErrUnknownAccount = fmt.Errorf("unknown account")

// Orchestrator drives management cycles across all configured accounts. At
// most one cycle runs per account, and a semaphore caps how many accounts
// run at once.
type Orchestrator struct {
	cfg       config.SchedulerConfig
	store     core.Store
	llm       core.LLMClient
	telemetry *telemetry.Telemetry
	logger    *log.Logger

	sem chan struct{}

	// reload, when set, re-resolves accounts and agents from live config
	// at the top of every pass.
	reload func() ([]config.AccountConfig, map[string]*core.Agent, error)

	mu       sync.Mutex
	accounts []config.AccountConfig
	agents   map[string]*core.Agent
	inflight map[string]bool
	lastRun  map[string]time.Time
}

// New builds the orchestrator over per-account agents. Agents must be keyed
// by account ID and cover every entry in accounts.
func New(cfg config.SchedulerConfig, accounts []config.AccountConfig, agents map[string]*core.Agent, store core.Store, llm core.LLMClient, tele *telemetry.Telemetry, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCHESTRATOR] ", log.LstdFlags)
	}
	maxConcurrent := cfg.MaxConcurrentAccounts
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Orchestrator{
		cfg:       cfg,
		accounts:  accounts,
		agents:    agents,
		store:     store,
		llm:       llm,
		telemetry: tele,
		logger:    logger,
		sem:       make(chan struct{}, maxConcurrent),
		inflight:  map[string]bool{},
		lastRun:   map[string]time.Time{},
	}
}

// beginCycle claims the account's cycle slot.
func (o *Orchestrator) beginCycle(accountID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight[accountID] {
		return false
	}
	o.inflight[accountID] = true
	return true
}

func (o *Orchestrator) endCycle(accountID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inflight[accountID] = false
	o.lastRun[accountID] = time.Now()
}

// InFlight reports whether the account has a cycle running.
func (o *Orchestrator) InFlight(accountID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inflight[accountID]
}

// OnReload installs a hook that RunAll calls before each pass so account
// additions, removals and parameter changes land without a restart.
func (o *Orchestrator) OnReload(fn func() ([]config.AccountConfig, map[string]*core.Agent, error)) {
	o.reload = fn
}

func (o *Orchestrator) refreshAccounts() {
	if o.reload == nil {
		return
	}
	accounts, agents, err := o.reload()
	if err != nil {
		o.logger.Printf("config refresh failed, keeping previous accounts: %v", err)
		return
	}
	o.mu.Lock()
	o.accounts = accounts
	o.agents = agents
	o.mu.Unlock()
}

func (o *Orchestrator) agentFor(accountID string) (*core.Agent, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a, ok := o.agents[accountID]
	return a, ok
}

func (o *Orchestrator) accountList() []config.AccountConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]config.AccountConfig(nil), o.accounts...)
}

// RunCycle runs one cycle for a single account. A second request for the
// same account while one is running returns ErrCycleInFlight.
func (o *Orchestrator) RunCycle(ctx context.Context, accountID string) error {
	agent, ok := o.agentFor(accountID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}
	if !o.beginCycle(accountID) {
		return fmt.Errorf("%w: %s", ErrCycleInFlight, accountID)
	}
	defer o.endCycle(accountID)

	o.telemetry.CycleStarted()
	defer o.telemetry.CycleFinished()

	o.logger.Printf("cycle start for %s", accountID)
	err := agent.ExecuteCycle(ctx)
	if err != nil {
		o.logger.Printf("cycle for %s failed: %v", accountID, err)
		return err
	}
	o.logger.Printf("cycle done for %s", accountID)
	return nil
}

// RunAll runs one cycle for every due account, bounded by the concurrency
// cap, then runs the cross-account optimization pass.
func (o *Orchestrator) RunAll(ctx context.Context) error {
	o.refreshAccounts()

	var wg sync.WaitGroup
	for _, account := range o.accountList() {
		if err := ctx.Err(); err != nil {
			break
		}
		if !account.IsActive {
			continue
		}
		o.mu.Lock()
		last, seen := o.lastRun[account.AccountID]
		o.mu.Unlock()
		var lastPtr *time.Time
		if seen {
			lastPtr = &last
		}
		if !isDue(account.ScheduleCron, lastPtr) {
			continue
		}

		select {
		case o.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}

		wg.Add(1)
		go func(accountID string) {
			defer wg.Done()
			defer func() { <-o.sem }()
			if err := o.RunCycle(ctx, accountID); err != nil {
				o.logger.Printf("skipping optimization input from %s: %v", accountID, err)
			}
		}(account.AccountID)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := o.Optimize(ctx); err != nil {
		o.logger.Printf("optimization pass failed: %v", err)
	}
	return nil
}

// RunContinuous loops full passes until the context is cancelled, sleeping
// the configured interval between the end of one pass and the start of the
// next.
func (o *Orchestrator) RunContinuous(ctx context.Context) error {
	interval := o.cfg.CycleInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	o.logger.Printf("continuous mode, %v between passes", interval)

	for {
		if err := ctx.Err(); err != nil {
			o.logger.Printf("continuous mode stopping: %v", err)
			return err
		}
		if err := o.RunAll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Printf("pass failed: %v", err)
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			o.logger.Printf("continuous mode stopping: %v", ctx.Err())
			return ctx.Err()
		}
	}
}

type optimizationResponse struct {
	BestStrategies     map[string][]string `json:"best_strategies"`
	FailurePatterns    map[string][]string `json:"failure_patterns"`
	Opportunities      []string            `json:"opportunities"`
	ResourceAllocation map[string]string   `json:"resource_allocation"`
}

// Optimize runs the cross-account learning pass. Each account contributes a
// compact summary; the model's insight is persisted for the next cycles.
func (o *Orchestrator) Optimize(ctx context.Context) error {
	summaries := map[string]map[string]interface{}{}
	scores := map[string]float64{}
	o.mu.Lock()
	agents := make(map[string]*core.Agent, len(o.agents))
	for id, agent := range o.agents {
		agents[id] = agent
	}
	o.mu.Unlock()
	for id, agent := range agents {
		actx, err := agent.Context(ctx)
		if err != nil {
			o.logger.Printf("optimization skipping %s: %v", id, err)
			continue
		}
		completed, failed := 0, 0
		for _, t := range actx.Tasks {
			switch t.Status {
			case core.TaskCompleted:
				completed++
			case core.TaskFailed:
				failed++
			}
		}
		summaries[id] = map[string]interface{}{
			"active_goals":         len(actx.ActiveGoals()),
			"tasks_completed":      completed,
			"tasks_failed":         failed,
			"performance_score":    actx.PerformanceScore,
			"executor_performance": agent.ExecutorPerformance(),
		}
		scores[id] = actx.PerformanceScore
	}
	if len(summaries) == 0 {
		return nil
	}

	payload, err := json.Marshal(summaries)
	if err != nil {
		return fmt.Errorf("marshal account summaries: %w", err)
	}

	prompt := fmt.Sprintf(`Review these social media account summaries and extract cross-account lessons.

Summaries: %s

Respond with JSON only:
{"best_strategies": {"account_id": []}, "failure_patterns": {"account_id": []}, "opportunities": [], "resource_allocation": {"account_id": "more|same|less"}}`, payload)

	raw, err := o.llm.Generate(ctx, prompt, "", gateway.Params{})
	if err != nil {
		return fmt.Errorf("optimization model pass: %w", err)
	}

	var resp optimizationResponse
	if err := json.Unmarshal([]byte(gateway.Sanitize(raw)), &resp); err != nil {
		return fmt.Errorf("optimization response is not valid JSON: %w", err)
	}

	insight := &core.OptimizationInsight{
		GeneratedAt:        time.Now().UTC(),
		BestStrategies:     resp.BestStrategies,
		FailurePatterns:    resp.FailurePatterns,
		Opportunities:      resp.Opportunities,
		ResourceAllocation: resp.ResourceAllocation,
		AccountScores:      scores,
	}
	if err := o.store.SaveInsight(ctx, insight); err != nil {
		return fmt.Errorf("persist optimization insight: %w", err)
	}
	o.logger.Printf("optimization insight saved for %d accounts", len(summaries))
	return nil
}

// AccountStatus is one account's entry in the system status report.
type AccountStatus struct {
	AccountID        string     `json:"account_id"`
	Username         string     `json:"username"`
	Active           bool       `json:"active"`
	InFlight         bool       `json:"in_flight"`
	LastRun          *time.Time `json:"last_run,omitempty"`
	ActiveGoals      int        `json:"active_goals"`
	PendingTasks     int        `json:"pending_tasks"`
	PerformanceScore float64    `json:"performance_score"`
}

// SystemStatus is the aggregate state of the whole orchestrator.
type SystemStatus struct {
	Accounts  []AccountStatus    `json:"accounts"`
	Telemetry telemetry.Snapshot `json:"telemetry"`
}

// GetSystemStatus reports the live state of every configured account.
func (o *Orchestrator) GetSystemStatus(ctx context.Context) SystemStatus {
	status := SystemStatus{Telemetry: o.telemetry.Snapshot()}
	for _, account := range o.accountList() {
		entry := AccountStatus{
			AccountID: account.AccountID,
			Username:  account.Username,
			Active:    account.IsActive,
		}
		o.mu.Lock()
		entry.InFlight = o.inflight[account.AccountID]
		if last, ok := o.lastRun[account.AccountID]; ok {
			entry.LastRun = &last
		}
		o.mu.Unlock()

		if agent, ok := o.agentFor(account.AccountID); ok {
			if actx, err := agent.Context(ctx); err == nil && actx != nil {
				entry.ActiveGoals = len(actx.ActiveGoals())
				entry.PendingTasks = len(actx.PendingTasks())
				entry.PerformanceScore = actx.PerformanceScore
			}
		}
		status.Accounts = append(status.Accounts, entry)
	}
	return status
}

// Agent exposes the per-account agent, for the API layer.
func (o *Orchestrator) Agent(accountID string) (*core.Agent, bool) {
	return o.agentFor(accountID)
}

// isDue reports whether an account's schedule has come around since its
// last run. Supports "@daily", "@hourly" and 5-field cron expressions; an
// empty or invalid spec means every pass.
func isDue(cronSpec string, last *time.Time) bool {
	if cronSpec == "" {
		return true
	}
	now := time.Now()
	switch cronSpec {
	case "@daily":
		return last == nil || now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		return last == nil || now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			return true
		}
		if last == nil {
			return true
		}
		return !expr.Next(*last).After(now)
	}
}
