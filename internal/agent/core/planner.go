package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/socialpilot-ai/socialpilot/internal/agent/config"
	"github.com/socialpilot-ai/socialpilot/internal/gateway"
)

// LLMClient is the slice of the model gateway the planner needs.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, providerHint string, params gateway.Params) (string, error)
}

// Planner turns free-form goals into structured goals, plans role-scoped
// tasks toward them, and decides what to do each cycle.
type Planner struct {
	llm    LLMClient
	cfg    config.ExecutorsConfig
	logger *log.Logger
	now    func() time.Time
}

// NewPlanner creates a planner over the given model client.
func NewPlanner(llm LLMClient, cfg config.ExecutorsConfig, logger *log.Logger) *Planner {
	if logger == nil {
		logger = log.New(log.Writer(), "[PLANNER] ", log.LstdFlags)
	}
	return &Planner{llm: llm, cfg: cfg, logger: logger, now: time.Now}
}

type parsedGoal struct {
	ParsedGoal      string                 `json:"parsed_goal"`
	TargetMetrics   map[string]interface{} `json:"target_metrics"`
	DeadlineDays    int                    `json:"deadline_days"`
	Priority        string                 `json:"priority"`
	StrategyHints   []string               `json:"strategy_hints"`
	SuccessCriteria []string               `json:"success_criteria"`
}

// InterpretGoal asks the model to turn a natural language objective into a
// structured goal. A response that cannot be parsed, or that carries
// non-numeric targets, produces a *GoalParseError and no goal is created.
func (p *Planner) InterpretGoal(ctx context.Context, accountID, description string) (*AgentGoal, error) {
	prompt := fmt.Sprintf(`You manage a social media account. Interpret the following objective and respond with JSON only, no prose.

Objective: %s

Respond with exactly these keys:
{
  "parsed_goal": "one sentence restatement",
  "target_metrics": {"metric_name": numeric_target},
  "deadline_days": days_until_deadline_or_0,
  "priority": "critical|high|medium|low",
  "strategy_hints": ["hint"],
  "success_criteria": ["criterion"]
}

target_metrics values must be numbers. Use 0 for deadline_days when the objective names no timeframe.`, description)

	raw, err := p.llm.Generate(ctx, prompt, "", gateway.Params{Timeout: p.cfg.TaskTimeout})
	if err != nil {
		return nil, &GoalParseError{Description: description, Reason: "model unavailable", Err: err}
	}

	var pg parsedGoal
	if err := json.Unmarshal([]byte(gateway.Sanitize(raw)), &pg); err != nil {
		return nil, &GoalParseError{Description: description, Reason: "response is not valid JSON", Err: err}
	}
	if len(pg.TargetMetrics) == 0 {
		return nil, &GoalParseError{Description: description, Reason: "no target metrics identified"}
	}

	metrics := make(map[string]float64, len(pg.TargetMetrics))
	for name, v := range pg.TargetMetrics {
		f, ok := asNumber(v)
		if !ok {
			return nil, &GoalParseError{
				Description: description,
				Reason:      fmt.Sprintf("target metric %q is not numeric", name),
			}
		}
		metrics[name] = f
	}

	now := p.now()
	goal := &AgentGoal{
		ID:              uuid.New().String(),
		AccountID:       accountID,
		Description:     description,
		TargetMetrics:   metrics,
		StrategyHints:   pg.StrategyHints,
		SuccessCriteria: pg.SuccessCriteria,
		Priority:        normalizePriority(pg.Priority),
		IsActive:        true,
		CreatedAt:       now,
	}
	if pg.DeadlineDays > 0 {
		d := now.Add(time.Duration(pg.DeadlineDays) * 24 * time.Hour)
		goal.Deadline = &d
	}
	p.logger.Printf("interpreted goal for %s: %q -> metrics=%v deadline_days=%d", accountID, description, metrics, pg.DeadlineDays)
	return goal, nil
}

type plannedTask struct {
	Role          string                 `json:"role"`
	Type          string                 `json:"type"`
	Description   string                 `json:"description"`
	Priority      string                 `json:"priority"`
	Parameters    map[string]interface{} `json:"parameters"`
	ScheduledTime string                 `json:"scheduled_time"`
}

// PlanTasks breaks an active goal into role-scoped tasks. A plan that names
// a role without an executor is rejected whole with *InvalidRoleError.
func (p *Planner) PlanTasks(ctx context.Context, goal *AgentGoal, actx *AgentContext) ([]*AgentTask, error) {
	prompt := fmt.Sprintf(`Plan concrete tasks that move this social media goal forward.

Goal: %s
Target metrics: %s
Progress so far: %.0f%%
Strategy hints: %s

Available roles and their task types:
- strategist: plan_strategy, refine_goals, coordinate_team
- content_creator: create_tweet, create_thread, write_reply, generate_content
- content_curator: curate_content, find_trending, analyze_content, discover_opportunities
- engagement_manager: reply_to_mention, like_tweets, retweet_content, follow_accounts, engage_community
- performance_analyst: analyze_performance, track_metrics, generate_report, optimize_strategy

Respond with a JSON array only:
[{"role": "...", "type": "...", "description": "...", "priority": "critical|high|medium|low", "parameters": {}, "scheduled_time": ""}]`,
		goal.Description, formatMetrics(goal.TargetMetrics), goal.Progress*100, strings.Join(goal.StrategyHints, "; "))

	raw, err := p.llm.Generate(ctx, prompt, "", gateway.Params{Timeout: p.cfg.TaskTimeout})
	if err != nil {
		return nil, fmt.Errorf("planning tasks for goal %s: %w", goal.ID, err)
	}

	var planned []plannedTask
	if err := json.Unmarshal([]byte(gateway.Sanitize(raw)), &planned); err != nil {
		return nil, fmt.Errorf("planning tasks for goal %s: response is not a JSON array: %w", goal.ID, err)
	}

	now := p.now()
	tasks := make([]*AgentTask, 0, len(planned))
	for _, pt := range planned {
		role := AgentRole(pt.Role)
		if !ValidRole(role) {
			return nil, &InvalidRoleError{Role: role, Task: pt.Description}
		}
		task := &AgentTask{
			ID:          uuid.New().String(),
			GoalID:      goal.ID,
			Type:        pt.Type,
			Role:        role,
			Description: pt.Description,
			Parameters:  pt.Parameters,
			Priority:    normalizePriority(pt.Priority),
			Status:      TaskPending,
			CreatedAt:   now,
			Attempt:     1,
		}
		if ts, err := time.Parse(time.RFC3339, pt.ScheduledTime); err == nil {
			task.ScheduledFor = &ts
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

type situationResponse struct {
	GoalProgress      map[string]interface{} `json:"goal_progress"`
	Opportunities     []string               `json:"opportunities"`
	ContentNeeds      []string               `json:"content_needs"`
	PerformanceTrends map[string]string      `json:"performance_trends"`
	Recommendations   []string               `json:"recommendations"`
}

// AnalyzeSituation combines stored context and performance trends into a
// fresh situation report. Model failure degrades to a minimal report built
// from local state rather than failing the cycle.
func (p *Planner) AnalyzeSituation(ctx context.Context, actx *AgentContext, trends map[string]map[string]interface{}) (*SituationReport, error) {
	report := &SituationReport{
		AccountID:         actx.AccountID,
		GoalProgress:      map[string]float64{},
		PerformanceTrends: map[string]string{},
		GeneratedAt:       p.now(),
	}
	for _, g := range actx.ActiveGoals() {
		report.GoalProgress[g.ID] = g.Progress
	}
	for metric, t := range trends {
		if dir, ok := t["trend"].(string); ok {
			report.PerformanceTrends[metric] = dir
		}
	}

	prompt := fmt.Sprintf(`Assess this social media account's situation.

Account: %s
Active goals: %s
Pending tasks: %d
Performance trends: %s
Recent outcomes: %s

Respond with JSON only:
{"goal_progress": {}, "opportunities": [], "content_needs": [], "performance_trends": {}, "recommendations": []}`,
		actx.AccountID, describeGoals(actx.ActiveGoals()), len(actx.PendingTasks()),
		formatTrends(report.PerformanceTrends), describeOutcomes(actx.RecentOutcomes))

	raw, err := p.llm.Generate(ctx, prompt, "", gateway.Params{Timeout: p.cfg.TaskTimeout})
	if err != nil {
		p.logger.Printf("situation analysis for %s degraded to local state: %v", actx.AccountID, err)
		return report, nil
	}

	var sr situationResponse
	if err := json.Unmarshal([]byte(gateway.Sanitize(raw)), &sr); err != nil {
		p.logger.Printf("situation analysis for %s returned malformed JSON, using local state: %v", actx.AccountID, err)
		return report, nil
	}

	report.Opportunities = sr.Opportunities
	report.ContentNeeds = sr.ContentNeeds
	report.Recommendations = sr.Recommendations
	for k, v := range sr.PerformanceTrends {
		report.PerformanceTrends[k] = v
	}
	return report, nil
}

// Decide ranks candidate actions for the cycle. Low-confidence decisions are
// dropped, the rest are ordered by urgency, then earliest goal deadline,
// then lightest role backlog, and capped at the per-cycle task budget.
func (p *Planner) Decide(ctx context.Context, actx *AgentContext, situation *SituationReport) ([]Decision, error) {
	prompt := fmt.Sprintf(`Decide the next actions for this social media account.

Account: %s
Situation: %s
Active goals: %s

Respond with a JSON array only:
[{"action_type": "...", "role": "strategist|content_creator|content_curator|engagement_manager|performance_analyst", "goal_id": "", "confidence": 0.0, "reasoning": "...", "parameters": {}, "urgency": "critical|high|medium|low"}]

confidence is your 0..1 certainty the action helps. Propose at most 5.`,
		actx.AccountID, describeSituation(situation), describeGoals(actx.ActiveGoals()))

	raw, err := p.llm.Generate(ctx, prompt, "", gateway.Params{Timeout: p.cfg.TaskTimeout})
	if err != nil {
		return nil, fmt.Errorf("deciding actions for %s: %w", actx.AccountID, err)
	}

	var decisions []Decision
	if err := json.Unmarshal([]byte(gateway.Sanitize(raw)), &decisions); err != nil {
		return nil, fmt.Errorf("deciding actions for %s: response is not a JSON array: %w", actx.AccountID, err)
	}

	kept := decisions[:0]
	for _, d := range decisions {
		if d.Confidence >= p.cfg.ConfidenceThreshold {
			kept = append(kept, d)
		}
	}
	p.rankDecisions(kept, actx)

	limit := p.cfg.MaxTasksPerCycle
	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept, nil
}

// rankDecisions sorts urgent work first. Ties break toward the decision
// whose goal deadline is nearest, then toward the role with fewer open
// tasks, so no specialist silently starves.
func (p *Planner) rankDecisions(decisions []Decision, actx *AgentContext) {
	deadline := func(d Decision) time.Time {
		if d.GoalID != "" {
			for _, g := range actx.Goals {
				if g.ID == d.GoalID && g.Deadline != nil {
					return *g.Deadline
				}
			}
		}
		return time.Time{}
	}

	sort.SliceStable(decisions, func(i, j int) bool {
		a, b := decisions[i], decisions[j]
		if a.Urgency.Rank() != b.Urgency.Rank() {
			return a.Urgency.Rank() > b.Urgency.Rank()
		}
		da, db := deadline(a), deadline(b)
		if !da.Equal(db) {
			if da.IsZero() {
				return false
			}
			if db.IsZero() {
				return true
			}
			return da.Before(db)
		}
		return actx.RoleBacklog(a.Role) < actx.RoleBacklog(b.Role)
	})
}

func normalizePriority(s string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityCritical:
		return PriorityCritical
	case PriorityHigh:
		return PriorityHigh
	case PriorityLow:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func formatMetrics(m map[string]float64) string {
	if len(m) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, m[k])
	}
	return strings.Join(parts, ", ")
}

func formatTrends(m map[string]string) string {
	if len(m) == 0 {
		return "no history"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ":" + m[k]
	}
	return strings.Join(parts, ", ")
}

func describeGoals(goals []*AgentGoal) string {
	if len(goals) == 0 {
		return "none"
	}
	parts := make([]string, len(goals))
	for i, g := range goals {
		deadline := "no deadline"
		if g.Deadline != nil {
			deadline = "due " + g.Deadline.Format(time.RFC3339)
		}
		parts[i] = fmt.Sprintf("[%s] %s (%.0f%%, %s)", g.ID, g.Description, g.Progress*100, deadline)
	}
	return strings.Join(parts, "; ")
}

func describeOutcomes(outcomes []TaskResult) string {
	if len(outcomes) == 0 {
		return "none"
	}
	const max = 5
	if len(outcomes) > max {
		outcomes = outcomes[len(outcomes)-max:]
	}
	parts := make([]string, len(outcomes))
	for i, o := range outcomes {
		status := "ok"
		if !o.Success {
			status = "failed: " + o.Error
		}
		parts[i] = fmt.Sprintf("%s %s", o.TaskID, status)
	}
	return strings.Join(parts, "; ")
}

func describeSituation(s *SituationReport) string {
	if s == nil {
		return "unknown"
	}
	return fmt.Sprintf("opportunities=%v content_needs=%v trends=%s recommendations=%v",
		s.Opportunities, s.ContentNeeds, formatTrends(s.PerformanceTrends), s.Recommendations)
}
