package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/socialpilot-ai/socialpilot/internal/agent/config"
	"github.com/socialpilot-ai/socialpilot/internal/gateway"
)

// executionRecord is one entry in an executor's rolling work history.
type executionRecord struct {
	TaskID     string
	TaskType   string
	Success    bool
	Duration   time.Duration
	FinishedAt time.Time
}

const maxExecutionHistory = 100

// baseExecutor carries the machinery shared by every specialist: the model
// client, the platform surface, and an advisory rolling tally of recent
// executions. The tally informs performance analysis only; it never blocks
// dispatch.
type baseExecutor struct {
	role      AgentRole
	taskTypes map[string]bool
	llm       LLMClient
	platform  PlatformClient
	account   config.AccountConfig
	logger    *log.Logger

	mu      sync.Mutex
	history []executionRecord
}

func newBaseExecutor(role AgentRole, taskTypes []string, llm LLMClient, platform PlatformClient, account config.AccountConfig) baseExecutor {
	types := make(map[string]bool, len(taskTypes))
	for _, t := range taskTypes {
		types[t] = true
	}
	return baseExecutor{
		role:      role,
		taskTypes: types,
		llm:       llm,
		platform:  platform,
		account:   account,
		logger:    log.New(log.Writer(), fmt.Sprintf("[%s] ", strings.ToUpper(string(role))), log.LstdFlags),
	}
}

func (b *baseExecutor) Role() AgentRole { return b.role }

func (b *baseExecutor) CanHandle(taskType string) bool { return b.taskTypes[taskType] }

func (b *baseExecutor) record(task *AgentTask, success bool, duration time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, executionRecord{
		TaskID:     task.ID,
		TaskType:   task.Type,
		Success:    success,
		Duration:   duration,
		FinishedAt: time.Now(),
	})
	if len(b.history) > maxExecutionHistory {
		b.history = b.history[len(b.history)-maxExecutionHistory:]
	}
}

// AnalyzePerformance summarizes the rolling tally.
func (b *baseExecutor) AnalyzePerformance() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := len(b.history)
	if total == 0 {
		return map[string]interface{}{
			"role":            string(b.role),
			"tasks_completed": 0,
			"success_rate":    0.0,
			"avg_duration_ms": 0.0,
		}
	}
	succeeded := 0
	var totalDur time.Duration
	for _, r := range b.history {
		if r.Success {
			succeeded++
		}
		totalDur += r.Duration
	}
	return map[string]interface{}{
		"role":            string(b.role),
		"tasks_completed": total,
		"success_rate":    float64(succeeded) / float64(total),
		"avg_duration_ms": float64(totalDur.Milliseconds()) / float64(total),
	}
}

// generate runs a model call in the account's voice.
func (b *baseExecutor) generate(ctx context.Context, instruction string) (string, error) {
	prompt := instruction
	if b.account.PersonalityPrompt != "" {
		prompt = "Account voice: " + b.account.PersonalityPrompt + "\n\n" + instruction
	}
	return b.llm.Generate(ctx, prompt, "", gateway.Params{})
}

func (b *baseExecutor) run(ctx context.Context, task *AgentTask, fn func(context.Context) (map[string]interface{}, error)) (TaskResult, error) {
	start := time.Now()
	output, err := fn(ctx)
	duration := time.Since(start)
	b.record(task, err == nil, duration)

	if err != nil {
		return TaskResult{
			TaskID:      task.ID,
			Success:     false,
			Error:       err.Error(),
			Duration:    duration,
			CompletedAt: time.Now(),
		}, &TaskExecutionError{TaskID: task.ID, Role: b.role, Reason: err.Error(), Err: err}
	}
	return TaskResult{
		TaskID:      task.ID,
		Success:     true,
		Output:      output,
		Duration:    duration,
		CompletedAt: time.Now(),
	}, nil
}

// Strategist refines strategy and coordinates the rest of the team.
type Strategist struct {
	baseExecutor
}

// NewStrategist builds the strategy specialist.
func NewStrategist(llm LLMClient, platform PlatformClient, account config.AccountConfig) *Strategist {
	return &Strategist{newBaseExecutor(
		RoleStrategist,
		[]string{"plan_strategy", "refine_goals", "coordinate_team"},
		llm, platform, account,
	)}
}

func (e *Strategist) Execute(ctx context.Context, task *AgentTask, actx *AgentContext) (TaskResult, error) {
	return e.run(ctx, task, func(ctx context.Context) (map[string]interface{}, error) {
		switch task.Type {
		case "plan_strategy", "refine_goals", "coordinate_team":
			plan, err := e.generate(ctx, fmt.Sprintf(
				"%s\nActive goals: %s\nRespond with a short actionable plan.",
				task.Description, describeGoals(actx.ActiveGoals())))
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"plan": plan}, nil
		default:
			return nil, fmt.Errorf("%s: %s", ReasonUnsupportedTask, task.Type)
		}
	})
}

// ContentCreator drafts original posts, threads and replies.
type ContentCreator struct {
	baseExecutor
}

// NewContentCreator builds the content creation specialist.
func NewContentCreator(llm LLMClient, platform PlatformClient, account config.AccountConfig) *ContentCreator {
	return &ContentCreator{newBaseExecutor(
		RoleContentCreator,
		[]string{"create_tweet", "create_thread", "write_reply", "generate_content"},
		llm, platform, account,
	)}
}

func (e *ContentCreator) Execute(ctx context.Context, task *AgentTask, actx *AgentContext) (TaskResult, error) {
	return e.run(ctx, task, func(ctx context.Context) (map[string]interface{}, error) {
		switch task.Type {
		case "create_tweet", "generate_content":
			content, err := e.generate(ctx, "Write one short social media post. "+task.Description)
			if err != nil {
				return nil, err
			}
			postID, err := e.platform.PostContent(ctx, actx.AccountID, content)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"content": content, "post_id": postID}, nil

		case "create_thread":
			content, err := e.generate(ctx, "Write a 3-5 post thread, one post per line. "+task.Description)
			if err != nil {
				return nil, err
			}
			var ids []string
			for _, line := range strings.Split(content, "\n") {
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				id, err := e.platform.PostContent(ctx, actx.AccountID, line)
				if err != nil {
					return nil, err
				}
				ids = append(ids, id)
			}
			return map[string]interface{}{"content": content, "post_ids": ids}, nil

		case "write_reply":
			inReplyTo, _ := task.Parameters["in_reply_to"].(string)
			content, err := e.generate(ctx, "Write one short reply. "+task.Description)
			if err != nil {
				return nil, err
			}
			id, err := e.platform.Reply(ctx, actx.AccountID, inReplyTo, content)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"content": content, "post_id": id}, nil

		default:
			return nil, fmt.Errorf("%s: %s", ReasonUnsupportedTask, task.Type)
		}
	})
}

// ContentCurator finds and evaluates third-party content worth amplifying.
type ContentCurator struct {
	baseExecutor
}

// NewContentCurator builds the curation specialist.
func NewContentCurator(llm LLMClient, platform PlatformClient, account config.AccountConfig) *ContentCurator {
	return &ContentCurator{newBaseExecutor(
		RoleContentCurator,
		[]string{"curate_content", "find_trending", "analyze_content", "discover_opportunities"},
		llm, platform, account,
	)}
}

func (e *ContentCurator) Execute(ctx context.Context, task *AgentTask, actx *AgentContext) (TaskResult, error) {
	return e.run(ctx, task, func(ctx context.Context) (map[string]interface{}, error) {
		switch task.Type {
		case "find_trending":
			topics, err := e.platform.FetchTrending(ctx, e.account.TargetKeywords)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"trending": topics}, nil

		case "curate_content", "analyze_content", "discover_opportunities":
			topics, err := e.platform.FetchTrending(ctx, e.account.TargetKeywords)
			if err != nil {
				return nil, err
			}
			analysis, err := e.generate(ctx, fmt.Sprintf(
				"%s\nCandidate topics: %s\nList the most relevant picks and why, briefly.",
				task.Description, strings.Join(topics, ", ")))
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"topics": topics, "analysis": analysis}, nil

		default:
			return nil, fmt.Errorf("%s: %s", ReasonUnsupportedTask, task.Type)
		}
	})
}

// EngagementManager handles interactions with other accounts.
type EngagementManager struct {
	baseExecutor
}

// NewEngagementManager builds the engagement specialist.
func NewEngagementManager(llm LLMClient, platform PlatformClient, account config.AccountConfig) *EngagementManager {
	return &EngagementManager{newBaseExecutor(
		RoleEngagementManager,
		[]string{"reply_to_mention", "like_tweets", "retweet_content", "follow_accounts", "engage_community"},
		llm, platform, account,
	)}
}

func (e *EngagementManager) Execute(ctx context.Context, task *AgentTask, actx *AgentContext) (TaskResult, error) {
	return e.run(ctx, task, func(ctx context.Context) (map[string]interface{}, error) {
		switch task.Type {
		case "reply_to_mention":
			mentionID, _ := task.Parameters["mention_id"].(string)
			content, err := e.generate(ctx, "Write one friendly reply to a mention. "+task.Description)
			if err != nil {
				return nil, err
			}
			id, err := e.platform.Reply(ctx, actx.AccountID, mentionID, content)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"content": content, "post_id": id}, nil

		case "like_tweets":
			postID, _ := task.Parameters["post_id"].(string)
			if err := e.platform.Like(ctx, actx.AccountID, postID); err != nil {
				return nil, err
			}
			return map[string]interface{}{"liked": postID}, nil

		case "retweet_content":
			postID, _ := task.Parameters["post_id"].(string)
			if err := e.platform.Repost(ctx, actx.AccountID, postID); err != nil {
				return nil, err
			}
			return map[string]interface{}{"reposted": postID}, nil

		case "follow_accounts":
			handle, _ := task.Parameters["handle"].(string)
			if err := e.platform.Follow(ctx, actx.AccountID, handle); err != nil {
				return nil, err
			}
			return map[string]interface{}{"followed": handle}, nil

		case "engage_community":
			plan, err := e.generate(ctx, "Suggest 3 concrete community engagement actions. "+task.Description)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"plan": plan}, nil

		default:
			return nil, fmt.Errorf("%s: %s", ReasonUnsupportedTask, task.Type)
		}
	})
}

// PerformanceAnalyst reads platform metrics and reports on progress.
type PerformanceAnalyst struct {
	baseExecutor
}

// NewPerformanceAnalyst builds the analytics specialist.
func NewPerformanceAnalyst(llm LLMClient, platform PlatformClient, account config.AccountConfig) *PerformanceAnalyst {
	return &PerformanceAnalyst{newBaseExecutor(
		RolePerformanceAnalyst,
		[]string{"analyze_performance", "track_metrics", "generate_report", "optimize_strategy"},
		llm, platform, account,
	)}
}

func (e *PerformanceAnalyst) Execute(ctx context.Context, task *AgentTask, actx *AgentContext) (TaskResult, error) {
	return e.run(ctx, task, func(ctx context.Context) (map[string]interface{}, error) {
		metrics, err := e.platform.FetchMetrics(ctx, actx.AccountID)
		if err != nil {
			return nil, err
		}

		switch task.Type {
		case "track_metrics":
			out := make(map[string]interface{}, len(metrics)+1)
			for k, v := range metrics {
				out[k] = v
			}
			out["tracked_at"] = time.Now().Format(time.RFC3339)
			return out, nil

		case "analyze_performance", "generate_report", "optimize_strategy":
			analysis, err := e.generate(ctx, fmt.Sprintf(
				"%s\nCurrent metrics: %s\nSummarize performance and suggest adjustments, briefly.",
				task.Description, formatMetrics(metrics)))
			if err != nil {
				return nil, err
			}
			out := map[string]interface{}{"analysis": analysis}
			for k, v := range metrics {
				out[k] = v
			}
			return out, nil

		default:
			return nil, fmt.Errorf("%s: %s", ReasonUnsupportedTask, task.Type)
		}
	})
}

// NewExecutors builds the full specialist team for one account.
func NewExecutors(llm LLMClient, platform PlatformClient, account config.AccountConfig) map[AgentRole]Executor {
	return map[AgentRole]Executor{
		RoleStrategist:         NewStrategist(llm, platform, account),
		RoleContentCreator:     NewContentCreator(llm, platform, account),
		RoleContentCurator:     NewContentCurator(llm, platform, account),
		RoleEngagementManager:  NewEngagementManager(llm, platform, account),
		RolePerformanceAnalyst: NewPerformanceAnalyst(llm, platform, account),
	}
}
