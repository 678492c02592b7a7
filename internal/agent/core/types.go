package core

import (
	"context"
	"time"
)

// AgentRole identifies a specialist executor inside an account team.
type AgentRole string

const (
	RoleStrategist         AgentRole = "strategist"
	RoleContentCreator     AgentRole = "content_creator"
	RoleContentCurator     AgentRole = "content_curator"
	RoleEngagementManager  AgentRole = "engagement_manager"
	RolePerformanceAnalyst AgentRole = "performance_analyst"
)

// KnownRoles lists every role the planner may assign tasks to.
var KnownRoles = []AgentRole{
	RoleStrategist,
	RoleContentCreator,
	RoleContentCurator,
	RoleEngagementManager,
	RolePerformanceAnalyst,
}

// ValidRole reports whether role names a known specialist.
func ValidRole(role AgentRole) bool {
	for _, r := range KnownRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Priority orders goals and tasks. Comparison uses Rank, not string order.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank maps a priority to a sortable weight, higher is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// TaskStatus is the lifecycle state of a single task record.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// taskTransitions encodes the allowed task status graph. A task record is
// never reopened; a retry is a fresh record pointing back via RetryOf.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskInProgress, TaskCancelled},
	TaskInProgress: {TaskCompleted, TaskFailed, TaskCancelled},
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range taskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AgentGoal is a long-lived objective for one managed account.
type AgentGoal struct {
	ID              string             `json:"id"`
	AccountID       string             `json:"account_id"`
	Description     string             `json:"description"`
	TargetMetrics   map[string]float64 `json:"target_metrics"`
	StrategyHints   []string           `json:"strategy_hints,omitempty"`
	SuccessCriteria []string           `json:"success_criteria,omitempty"`
	Priority        Priority           `json:"priority"`
	Deadline        *time.Time         `json:"deadline,omitempty"`
	IsActive        bool               `json:"is_active"`
	Progress        float64            `json:"progress"`
	CreatedAt       time.Time          `json:"created_at"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
	ArchivedAt      *time.Time         `json:"archived_at,omitempty"`
}

// Expired reports whether the goal's deadline has passed at the given time.
func (g *AgentGoal) Expired(now time.Time) bool {
	return g.Deadline != nil && now.After(*g.Deadline)
}

// RecordProgress updates progress toward the goal. Progress never decreases
// and freezes once the goal is deactivated. Returns true when the update
// drove the goal to completion.
func (g *AgentGoal) RecordProgress(p float64, now time.Time) bool {
	if !g.IsActive {
		return false
	}
	if p > 1 {
		p = 1
	}
	if p > g.Progress {
		g.Progress = p
	}
	if g.Progress >= 1 {
		g.IsActive = false
		t := now
		g.CompletedAt = &t
		return true
	}
	return false
}

// Deactivate retires the goal without marking it complete.
func (g *AgentGoal) Deactivate() {
	g.IsActive = false
}

// AgentTask is one unit of work scheduled for a specialist executor.
type AgentTask struct {
	ID           string                 `json:"id"`
	GoalID       string                 `json:"goal_id,omitempty"`
	Type         string                 `json:"type"`
	Role         AgentRole              `json:"role"`
	Description  string                 `json:"description"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	Priority     Priority               `json:"priority"`
	Status       TaskStatus             `json:"status"`
	ScheduledFor *time.Time             `json:"scheduled_for,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	Result       map[string]interface{} `json:"result,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Attempt      int                    `json:"attempt"`
	RetryOf      string                 `json:"retry_of,omitempty"`
}

// Transition moves the task to a new status, enforcing the lifecycle graph.
func (t *AgentTask) Transition(to TaskStatus, now time.Time) error {
	if !CanTransition(t.Status, to) {
		return &TaskStateError{TaskID: t.ID, From: t.Status, To: to}
	}
	t.Status = to
	if to.Terminal() {
		ts := now
		t.CompletedAt = &ts
	}
	return nil
}

// TaskResult is the outcome an executor reports for one task.
type TaskResult struct {
	TaskID      string                 `json:"task_id"`
	Success     bool                   `json:"success"`
	Output      map[string]interface{} `json:"output,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Duration    time.Duration          `json:"duration"`
	CompletedAt time.Time              `json:"completed_at"`
}

// SituationReport is the planner's read of an account's current position.
type SituationReport struct {
	AccountID         string             `json:"account_id"`
	GoalProgress      map[string]float64 `json:"goal_progress"`
	Opportunities     []string           `json:"opportunities"`
	ContentNeeds      []string           `json:"content_needs"`
	PerformanceTrends map[string]string  `json:"performance_trends"`
	Recommendations   []string           `json:"recommendations"`
	GeneratedAt       time.Time          `json:"generated_at"`
}

// Decision is one ranked action the planner selected for the coming cycle.
type Decision struct {
	ActionType string                 `json:"action_type"`
	Role       AgentRole              `json:"role"`
	GoalID     string                 `json:"goal_id,omitempty"`
	Confidence float64                `json:"confidence"`
	Reasoning  string                 `json:"reasoning"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Urgency    Priority               `json:"urgency"`
}

// OptimizationInsight is the output of the cross-account optimization pass.
type OptimizationInsight struct {
	GeneratedAt        time.Time              `json:"generated_at"`
	BestStrategies     map[string][]string    `json:"best_strategies"`
	FailurePatterns    map[string][]string    `json:"failure_patterns"`
	Opportunities      []string               `json:"opportunities"`
	ResourceAllocation map[string]string      `json:"resource_allocation"`
	AccountScores      map[string]float64     `json:"account_scores,omitempty"`
	Raw                map[string]interface{} `json:"raw,omitempty"`
}

// AgentContext is everything the planner knows about one account between
// cycles. It is the unit of persistence.
type AgentContext struct {
	AccountID        string                 `json:"account_id"`
	Goals            []*AgentGoal           `json:"goals"`
	Tasks            []*AgentTask           `json:"tasks"`
	Situation        *SituationReport       `json:"situation,omitempty"`
	RecentDecisions  []Decision             `json:"recent_decisions,omitempty"`
	RecentOutcomes   []TaskResult           `json:"recent_outcomes,omitempty"`
	PerformanceScore float64                `json:"performance_score"`
	Extra            map[string]interface{} `json:"extra,omitempty"`
	LastActivity     time.Time              `json:"last_activity"`
	LastUpdated      time.Time              `json:"last_updated"`
}

// NewAgentContext returns the empty default context for an account.
func NewAgentContext(accountID string) *AgentContext {
	return &AgentContext{AccountID: accountID}
}

// ActiveGoals returns the goals still being pursued.
func (c *AgentContext) ActiveGoals() []*AgentGoal {
	var active []*AgentGoal
	for _, g := range c.Goals {
		if g.IsActive {
			active = append(active, g)
		}
	}
	return active
}

// PendingTasks returns tasks waiting to be dispatched.
func (c *AgentContext) PendingTasks() []*AgentTask {
	var pending []*AgentTask
	for _, t := range c.Tasks {
		if t.Status == TaskPending {
			pending = append(pending, t)
		}
	}
	return pending
}

// TaskByID looks a task up in the context arena.
func (c *AgentContext) TaskByID(id string) *AgentTask {
	for _, t := range c.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// RoleBacklog counts non-terminal tasks assigned to a role.
func (c *AgentContext) RoleBacklog(role AgentRole) int {
	n := 0
	for _, t := range c.Tasks {
		if t.Role == role && !t.Status.Terminal() {
			n++
		}
	}
	return n
}

// AttemptCount returns how many task records exist in the retry chain that
// ends at the given task, the original included.
func (c *AgentContext) AttemptCount(t *AgentTask) int {
	count := 1
	cur := t
	for cur.RetryOf != "" {
		parent := c.TaskByID(cur.RetryOf)
		if parent == nil {
			break
		}
		count++
		cur = parent
	}
	return count
}

// Executor is a specialist that handles a family of task types for one role.
type Executor interface {
	Role() AgentRole
	CanHandle(taskType string) bool
	Execute(ctx context.Context, task *AgentTask, actx *AgentContext) (TaskResult, error)
	AnalyzePerformance() map[string]interface{}
}

// PlatformClient is the outbound surface to the social platform. The default
// implementation only simulates actions.
type PlatformClient interface {
	PostContent(ctx context.Context, accountID, content string) (string, error)
	Reply(ctx context.Context, accountID, inReplyTo, content string) (string, error)
	Like(ctx context.Context, accountID, postID string) error
	Repost(ctx context.Context, accountID, postID string) error
	Follow(ctx context.Context, accountID, targetHandle string) error
	FetchMetrics(ctx context.Context, accountID string) (map[string]float64, error)
	FetchTrending(ctx context.Context, keywords []string) ([]string, error)
}
