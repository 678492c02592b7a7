package core

import (
	"context"
	"time"
)

// MetricsSample is one timestamped performance reading for an account.
type MetricsSample struct {
	Timestamp time.Time          `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
}

// Store persists account state between cycles. Implementations must write
// each account's context atomically. LoadContext returns (nil, nil) for an
// account that was never saved; callers substitute a fresh context.
type Store interface {
	SaveContext(ctx context.Context, actx *AgentContext) error
	LoadContext(ctx context.Context, accountID string) (*AgentContext, error)
	AppendGoalHistory(ctx context.Context, accountID string, goal *AgentGoal) error
	GoalHistory(ctx context.Context, accountID string) ([]*AgentGoal, error)
	AppendPerformanceMetrics(ctx context.Context, accountID string, metrics map[string]float64) error
	PerformanceHistory(ctx context.Context, accountID string) ([]MetricsSample, error)
	SaveInsight(ctx context.Context, insight *OptimizationInsight) error
	LoadInsight(ctx context.Context) (*OptimizationInsight, error)
}

// AnalyzeTrends summarizes per-metric movement across samples. Each metric
// maps to its trend direction plus latest, average, min and max values.
func AnalyzeTrends(samples []MetricsSample) map[string]map[string]interface{} {
	byMetric := map[string][]float64{}
	for _, s := range samples {
		for name, v := range s.Metrics {
			byMetric[name] = append(byMetric[name], v)
		}
	}

	out := make(map[string]map[string]interface{}, len(byMetric))
	for name, values := range byMetric {
		latest := values[len(values)-1]
		min, max, sum := values[0], values[0], 0.0
		for _, v := range values {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
			sum += v
		}

		trend := "stable"
		if len(values) >= 2 {
			first := values[0]
			switch {
			case latest > first:
				trend = "increasing"
			case latest < first:
				trend = "decreasing"
			}
		}
		out[name] = map[string]interface{}{
			"trend":   trend,
			"latest":  latest,
			"average": sum / float64(len(values)),
			"min":     min,
			"max":     max,
		}
	}
	return out
}
