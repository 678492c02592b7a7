package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/socialpilot-ai/socialpilot/internal/agent/config"
	"github.com/socialpilot-ai/socialpilot/internal/agent/telemetry"
)

// Agent runs the full management cycle for one account: read state, assess
// the situation, decide, execute, learn, persist.
type Agent struct {
	account   config.AccountConfig
	cfg       config.ExecutorsConfig
	planner   *Planner
	executors map[AgentRole]Executor
	store     Store
	platform  PlatformClient
	telemetry *telemetry.Telemetry
	logger    *log.Logger
	now       func() time.Time

	// mu serializes every load-modify-save of the account context, so a
	// goal registered while a cycle is running is never overwritten by
	// the cycle's final save.
	mu sync.Mutex
}

// NewAgent wires an account's planner, specialist team and storage together.
func NewAgent(account config.AccountConfig, cfg config.ExecutorsConfig, planner *Planner, executors map[AgentRole]Executor, store Store, platform PlatformClient, tele *telemetry.Telemetry) *Agent {
	return &Agent{
		account:   account,
		cfg:       cfg,
		planner:   planner,
		executors: executors,
		store:     store,
		platform:  platform,
		telemetry: tele,
		logger:    log.New(log.Writer(), fmt.Sprintf("[AGENT %s] ", account.AccountID), log.LstdFlags),
		now:       time.Now,
	}
}

// AccountID returns the managed account's identifier.
func (a *Agent) AccountID() string { return a.account.AccountID }

// AddGoal interprets a free-form objective and attaches it to the account.
// Interpretation failures surface as *GoalParseError and leave state
// untouched.
func (a *Agent) AddGoal(ctx context.Context, description string) (*AgentGoal, error) {
	goal, err := a.planner.InterpretGoal(ctx, a.account.AccountID, description)
	if err != nil {
		return nil, err
	}

	// Interpretation ran outside the lock; only the state update waits
	// for an in-flight cycle to finish.
	a.mu.Lock()
	defer a.mu.Unlock()

	actx, err := a.loadContext(ctx)
	if err != nil {
		return nil, err
	}
	actx.Goals = append(actx.Goals, goal)
	actx.LastUpdated = a.now()
	if err := a.store.SaveContext(ctx, actx); err != nil {
		return nil, &PersistenceError{Op: "save_context", AccountID: a.account.AccountID, Err: err}
	}
	return goal, nil
}

// Context returns the account's persisted state.
func (a *Agent) Context(ctx context.Context) (*AgentContext, error) {
	return a.loadContext(ctx)
}

// ExecutorPerformance collects every specialist's rolling tally, keyed by
// role. The tallies are advisory; authoritative progress lives in the goal
// and task records.
func (a *Agent) ExecutorPerformance() map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{}, len(a.executors))
	for role, executor := range a.executors {
		out[string(role)] = executor.AnalyzePerformance()
	}
	return out
}

// ExecuteCycle runs one complete management cycle. A persistence failure
// aborts the cycle; executor failures are absorbed into task records.
func (a *Agent) ExecuteCycle(ctx context.Context) error {
	start := a.now()
	err := a.executeCycle(ctx)
	a.telemetry.RecordCycle(a.account.AccountID, time.Since(start), err)
	return err
}

func (a *Agent) executeCycle(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	actx, err := a.loadContext(ctx)
	if err != nil {
		return err
	}
	now := a.now()

	a.expireGoals(ctx, actx, now)

	history, err := a.store.PerformanceHistory(ctx, a.account.AccountID)
	if err != nil {
		return &PersistenceError{Op: "load_metrics", AccountID: a.account.AccountID, Err: err}
	}
	trends := AnalyzeTrends(history)

	situation, err := a.planner.AnalyzeSituation(ctx, actx, trends)
	if err != nil {
		return err
	}
	actx.Situation = situation

	if err := a.replenishTasks(ctx, actx); err != nil {
		a.logger.Printf("planning skipped this cycle: %v", err)
	}

	decisions, err := a.planner.Decide(ctx, actx, situation)
	if err != nil {
		a.logger.Printf("decision pass unavailable, running pending backlog only: %v", err)
	} else {
		a.enqueueDecisions(actx, decisions, now)
	}

	a.dispatch(ctx, actx)

	if err := a.observeProgress(ctx, actx, now); err != nil {
		return err
	}

	actx.LastActivity = now
	actx.LastUpdated = a.now()
	if err := a.store.SaveContext(ctx, actx); err != nil {
		return &PersistenceError{Op: "save_context", AccountID: a.account.AccountID, Err: err}
	}
	return nil
}

func (a *Agent) loadContext(ctx context.Context) (*AgentContext, error) {
	actx, err := a.store.LoadContext(ctx, a.account.AccountID)
	if err != nil {
		return nil, &PersistenceError{Op: "load_context", AccountID: a.account.AccountID, Err: err}
	}
	if actx == nil {
		actx = NewAgentContext(a.account.AccountID)
	}
	return actx, nil
}

// expireGoals retires goals past their deadline and cancels their pending
// tasks. Expired and completed goals move into the goal history archive.
func (a *Agent) expireGoals(ctx context.Context, actx *AgentContext, now time.Time) {
	for _, g := range actx.Goals {
		if !g.IsActive || !g.Expired(now) {
			continue
		}
		g.Deactivate()
		ts := now
		g.ArchivedAt = &ts
		a.logger.Printf("goal %s expired at %.0f%% progress", g.ID, g.Progress*100)

		for _, t := range actx.Tasks {
			if t.GoalID == g.ID && t.Status == TaskPending {
				if err := t.Transition(TaskCancelled, now); err == nil {
					a.telemetry.RecordTask(string(t.Role), string(TaskCancelled))
				}
			}
		}
		if err := a.store.AppendGoalHistory(ctx, a.account.AccountID, g); err != nil {
			a.logger.Printf("archiving expired goal %s: %v", g.ID, err)
		}
	}
}

// replenishTasks plans fresh tasks for active goals that have none pending.
func (a *Agent) replenishTasks(ctx context.Context, actx *AgentContext) error {
	pendingByGoal := map[string]int{}
	for _, t := range actx.PendingTasks() {
		pendingByGoal[t.GoalID]++
	}

	for _, g := range actx.ActiveGoals() {
		if pendingByGoal[g.ID] > 0 {
			continue
		}
		tasks, err := a.planner.PlanTasks(ctx, g, actx)
		if err != nil {
			var invalidRole *InvalidRoleError
			if errors.As(err, &invalidRole) {
				a.logger.Printf("rejecting plan for goal %s: %v", g.ID, invalidRole)
				continue
			}
			return err
		}
		actx.Tasks = append(actx.Tasks, tasks...)
	}
	return nil
}

// enqueueDecisions converts ranked decisions into pending task records,
// skipping actions already waiting in the backlog.
func (a *Agent) enqueueDecisions(actx *AgentContext, decisions []Decision, now time.Time) {
	pendingTypes := map[string]bool{}
	for _, t := range actx.PendingTasks() {
		pendingTypes[t.Type] = true
	}

	for _, d := range decisions {
		if !ValidRole(d.Role) {
			a.logger.Printf("dropping decision %q: unknown role %q", d.ActionType, d.Role)
			continue
		}
		if pendingTypes[d.ActionType] {
			continue
		}
		actx.Tasks = append(actx.Tasks, &AgentTask{
			ID:          uuid.New().String(),
			GoalID:      d.GoalID,
			Type:        d.ActionType,
			Role:        d.Role,
			Description: d.Reasoning,
			Parameters:  d.Parameters,
			Priority:    d.Urgency,
			Status:      TaskPending,
			CreatedAt:   now,
			Attempt:     1,
		})
		pendingTypes[d.ActionType] = true
	}
	actx.RecentDecisions = append(actx.RecentDecisions, decisions...)
	if len(actx.RecentDecisions) > 50 {
		actx.RecentDecisions = actx.RecentDecisions[len(actx.RecentDecisions)-50:]
	}
}

// dispatch runs due pending tasks through their executors in parallel, up to
// the per-cycle budget, highest priority first.
func (a *Agent) dispatch(ctx context.Context, actx *AgentContext) {
	now := a.now()
	due := make([]*AgentTask, 0)
	for _, t := range actx.PendingTasks() {
		if t.ScheduledFor != nil && t.ScheduledFor.After(now) {
			continue
		}
		due = append(due, t)
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].Priority.Rank() > due[j].Priority.Rank()
	})
	if a.cfg.MaxTasksPerCycle > 0 && len(due) > a.cfg.MaxTasksPerCycle {
		due = due[:a.cfg.MaxTasksPerCycle]
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var outcomes []TaskResult
	var retries []*AgentTask

	for _, task := range due {
		executor, ok := a.executors[task.Role]
		if !ok || !executor.CanHandle(task.Type) {
			a.rejectUnsupported(task, now)
			continue
		}

		if err := task.Transition(TaskInProgress, now); err != nil {
			a.logger.Printf("skipping task %s: %v", task.ID, err)
			continue
		}

		wg.Add(1)
		go func(task *AgentTask, executor Executor) {
			defer wg.Done()

			taskCtx := ctx
			cancel := func() {}
			if a.cfg.TaskTimeout > 0 {
				taskCtx, cancel = context.WithTimeout(ctx, a.cfg.TaskTimeout)
			}
			result, execErr := executor.Execute(taskCtx, task, actx)
			cancel()

			mu.Lock()
			defer mu.Unlock()

			finished := a.now()
			if execErr != nil {
				task.ErrorMessage = result.Error
				if task.ErrorMessage == "" {
					task.ErrorMessage = execErr.Error()
				}
				_ = task.Transition(TaskFailed, finished)
				a.telemetry.RecordTask(string(task.Role), string(TaskFailed))
				a.logger.Printf("task %s (%s/%s) failed: %v", task.ID, task.Role, task.Type, execErr)

				if retry := a.retryTask(actx, task, finished); retry != nil {
					retries = append(retries, retry)
				}
			} else {
				task.Result = result.Output
				_ = task.Transition(TaskCompleted, finished)
				a.telemetry.RecordTask(string(task.Role), string(TaskCompleted))
			}
			outcomes = append(outcomes, result)
		}(task, executor)
	}
	wg.Wait()

	actx.Tasks = append(actx.Tasks, retries...)
	actx.RecentOutcomes = append(actx.RecentOutcomes, outcomes...)
	if len(actx.RecentOutcomes) > 50 {
		actx.RecentOutcomes = actx.RecentOutcomes[len(actx.RecentOutcomes)-50:]
	}
}

// rejectUnsupported fails a task no executor claims, without retrying it.
func (a *Agent) rejectUnsupported(task *AgentTask, now time.Time) {
	_ = task.Transition(TaskInProgress, now)
	task.ErrorMessage = fmt.Sprintf("%s: no executor for %s/%s", ReasonUnsupportedTask, task.Role, task.Type)
	_ = task.Transition(TaskFailed, now)
	a.telemetry.RecordTask(string(task.Role), string(TaskFailed))
	a.logger.Printf("task %s rejected: %s", task.ID, task.ErrorMessage)
}

// retryTask creates a fresh pending record for a failed task while the
// attempt budget lasts. The failed record itself is never reopened.
func (a *Agent) retryTask(actx *AgentContext, failed *AgentTask, now time.Time) *AgentTask {
	if a.cfg.MaxRetries <= 0 {
		return nil
	}
	if actx.AttemptCount(failed) >= a.cfg.MaxRetries {
		a.logger.Printf("task %s exhausted its %d attempts", failed.ID, a.cfg.MaxRetries)
		return nil
	}
	return &AgentTask{
		ID:          uuid.New().String(),
		GoalID:      failed.GoalID,
		Type:        failed.Type,
		Role:        failed.Role,
		Description: failed.Description,
		Parameters:  failed.Parameters,
		Priority:    failed.Priority,
		Status:      TaskPending,
		CreatedAt:   now,
		Attempt:     failed.Attempt + 1,
		RetryOf:     failed.ID,
	}
}

// observeProgress reads current platform metrics, advances goal progress and
// records the sample for trend analysis.
func (a *Agent) observeProgress(ctx context.Context, actx *AgentContext, now time.Time) error {
	metrics, err := a.platform.FetchMetrics(ctx, a.account.AccountID)
	if err != nil {
		a.logger.Printf("metrics unavailable this cycle: %v", err)
		return nil
	}

	for _, g := range actx.ActiveGoals() {
		p := GoalAchievement(g.TargetMetrics, metrics)
		if g.RecordProgress(p, now) {
			ts := now
			g.ArchivedAt = &ts
			a.logger.Printf("goal %s completed", g.ID)
			if err := a.store.AppendGoalHistory(ctx, a.account.AccountID, g); err != nil {
				return &PersistenceError{Op: "append_goal_history", AccountID: a.account.AccountID, Err: err}
			}
			for _, t := range actx.Tasks {
				if t.GoalID == g.ID && t.Status == TaskPending {
					if err := t.Transition(TaskCancelled, now); err == nil {
						a.telemetry.RecordTask(string(t.Role), string(TaskCancelled))
					}
				}
			}
		}
	}

	actx.PerformanceScore = a.performanceScore(actx)

	if err := a.store.AppendPerformanceMetrics(ctx, a.account.AccountID, metrics); err != nil {
		return &PersistenceError{Op: "append_metrics", AccountID: a.account.AccountID, Err: err}
	}
	return nil
}

// performanceScore blends goal progress with recent task success.
func (a *Agent) performanceScore(actx *AgentContext) float64 {
	var progress float64
	active := actx.ActiveGoals()
	for _, g := range active {
		progress += g.Progress
	}
	if len(active) > 0 {
		progress /= float64(len(active))
	}

	var success float64
	if n := len(actx.RecentOutcomes); n > 0 {
		ok := 0
		for _, o := range actx.RecentOutcomes {
			if o.Success {
				ok++
			}
		}
		success = float64(ok) / float64(n)
	}
	return 0.6*progress + 0.4*success
}

// GoalAchievement measures how far current metrics satisfy targets. Each
// metric contributes min(current/target, 1) and metrics are weighted
// equally in sorted name order, so the result is deterministic.
func GoalAchievement(targets map[string]float64, current map[string]float64) float64 {
	if len(targets) == 0 {
		return 0
	}
	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)

	var sum float64
	for _, name := range names {
		target := targets[name]
		if target <= 0 {
			sum += 1
			continue
		}
		ratio := current[name] / target
		if ratio > 1 {
			ratio = 1
		}
		if ratio < 0 {
			ratio = 0
		}
		sum += ratio
	}
	return sum / float64(len(names))
}
