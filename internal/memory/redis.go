package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/socialpilot-ai/socialpilot/internal/agent/config"
	"github.com/socialpilot-ai/socialpilot/internal/agent/core"
)

const (
	contextKeyPrefix = "socialpilot:context:"
	goalsKeyPrefix   = "socialpilot:goals:"
	metricsKeyPrefix = "socialpilot:metrics:"
	insightKey       = "socialpilot:insight:__global__"

	goalHistoryLimit = 50
	metricsLimit     = 100
)

// RedisStore persists account state in Redis. Context writes are single SET
// commands, so each account's snapshot is replaced atomically.
type RedisStore struct {
	client *redis.Client
	logger *log.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg config.RedisConfig, logger *log.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[MEMORY] ", log.LstdFlags)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisStore{client: client, logger: logger}, nil
}

// SaveContext replaces the account's stored snapshot.
func (s *RedisStore) SaveContext(ctx context.Context, actx *core.AgentContext) error {
	data, err := json.Marshal(actx)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}
	if err := s.client.Set(ctx, contextKeyPrefix+actx.AccountID, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save context: %w", err)
	}
	return nil
}

// LoadContext returns the stored snapshot, or nil when the account has none.
func (s *RedisStore) LoadContext(ctx context.Context, accountID string) (*core.AgentContext, error) {
	data, err := s.client.Get(ctx, contextKeyPrefix+accountID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load context: %w", err)
	}
	var actx core.AgentContext
	if err := json.Unmarshal(data, &actx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context: %w", err)
	}
	return &actx, nil
}

// AppendGoalHistory archives a retired goal, keeping the newest entries.
func (s *RedisStore) AppendGoalHistory(ctx context.Context, accountID string, goal *core.AgentGoal) error {
	data, err := json.Marshal(goal)
	if err != nil {
		return fmt.Errorf("failed to marshal goal: %w", err)
	}
	key := goalsKeyPrefix + accountID
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, goalHistoryLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append goal history: %w", err)
	}
	return nil
}

// GoalHistory returns archived goals, newest first.
func (s *RedisStore) GoalHistory(ctx context.Context, accountID string) ([]*core.AgentGoal, error) {
	items, err := s.client.LRange(ctx, goalsKeyPrefix+accountID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load goal history: %w", err)
	}
	goals := make([]*core.AgentGoal, 0, len(items))
	for _, item := range items {
		var g core.AgentGoal
		if err := json.Unmarshal([]byte(item), &g); err != nil {
			s.logger.Printf("skipping corrupt goal history entry for %s: %v", accountID, err)
			continue
		}
		goals = append(goals, &g)
	}
	return goals, nil
}

// AppendPerformanceMetrics records a timestamped sample, keeping the newest.
func (s *RedisStore) AppendPerformanceMetrics(ctx context.Context, accountID string, metrics map[string]float64) error {
	sample := core.MetricsSample{Timestamp: time.Now().UTC(), Metrics: metrics}
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	key := metricsKeyPrefix + accountID
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, metricsLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append metrics: %w", err)
	}
	return nil
}

// PerformanceHistory returns stored samples oldest first.
func (s *RedisStore) PerformanceHistory(ctx context.Context, accountID string) ([]core.MetricsSample, error) {
	items, err := s.client.LRange(ctx, metricsKeyPrefix+accountID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load metrics: %w", err)
	}
	samples := make([]core.MetricsSample, 0, len(items))
	// Entries are pushed newest first; walk backwards to restore time order.
	for i := len(items) - 1; i >= 0; i-- {
		var sample core.MetricsSample
		if err := json.Unmarshal([]byte(items[i]), &sample); err != nil {
			s.logger.Printf("skipping corrupt metrics entry for %s: %v", accountID, err)
			continue
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

// SaveInsight stores the latest cross-account optimization result.
func (s *RedisStore) SaveInsight(ctx context.Context, insight *core.OptimizationInsight) error {
	data, err := json.Marshal(insight)
	if err != nil {
		return fmt.Errorf("failed to marshal insight: %w", err)
	}
	if err := s.client.Set(ctx, insightKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save insight: %w", err)
	}
	return nil
}

// LoadInsight returns the latest optimization result, or nil when absent.
func (s *RedisStore) LoadInsight(ctx context.Context) (*core.OptimizationInsight, error) {
	data, err := s.client.Get(ctx, insightKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load insight: %w", err)
	}
	var insight core.OptimizationInsight
	if err := json.Unmarshal(data, &insight); err != nil {
		return nil, fmt.Errorf("failed to unmarshal insight: %w", err)
	}
	return &insight, nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error { return s.client.Close() }
