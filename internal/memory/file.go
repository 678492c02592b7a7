package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/socialpilot-ai/socialpilot/internal/agent/core"
)

// FileStore persists account state as JSON files under a data directory.
// Writes go to a temp file first and are renamed into place, so readers
// never observe a partial snapshot.
type FileStore struct {
	dir    string
	logger *log.Logger
	mu     sync.Mutex
}

// NewFileStore creates the data directory layout if needed.
func NewFileStore(dir string, logger *log.Logger) (*FileStore, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[MEMORY] ", log.LstdFlags)
	}
	for _, sub := range []string{"contexts", "goals", "metrics"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (s *FileStore) contextPath(accountID string) string {
	return filepath.Join(s.dir, "contexts", accountID+".json")
}

func (s *FileStore) goalsPath(accountID string) string {
	return filepath.Join(s.dir, "goals", accountID+".json")
}

func (s *FileStore) metricsPath(accountID string) string {
	return filepath.Join(s.dir, "metrics", accountID+".json")
}

func (s *FileStore) insightPath() string {
	return filepath.Join(s.dir, "insight.json")
}

// writeAtomic writes data next to path and renames it into place.
func (s *FileStore) writeAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

func (s *FileStore) readJSON(path string, v interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return true, nil
}

// SaveContext replaces the account's stored snapshot.
func (s *FileStore) SaveContext(ctx context.Context, actx *core.AgentContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAtomic(s.contextPath(actx.AccountID), actx)
}

// LoadContext returns the stored snapshot, or nil when the account has none.
func (s *FileStore) LoadContext(ctx context.Context, accountID string) (*core.AgentContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var actx core.AgentContext
	found, err := s.readJSON(s.contextPath(accountID), &actx)
	if err != nil || !found {
		return nil, err
	}
	return &actx, nil
}

// AppendGoalHistory archives a retired goal, keeping the newest entries.
func (s *FileStore) AppendGoalHistory(ctx context.Context, accountID string, goal *core.AgentGoal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var goals []*core.AgentGoal
	if _, err := s.readJSON(s.goalsPath(accountID), &goals); err != nil {
		return err
	}
	goals = append(goals, goal)
	if len(goals) > goalHistoryLimit {
		goals = goals[len(goals)-goalHistoryLimit:]
	}
	return s.writeAtomic(s.goalsPath(accountID), goals)
}

// GoalHistory returns archived goals, newest first.
func (s *FileStore) GoalHistory(ctx context.Context, accountID string) ([]*core.AgentGoal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var goals []*core.AgentGoal
	if _, err := s.readJSON(s.goalsPath(accountID), &goals); err != nil {
		return nil, err
	}
	// Stored oldest first; reverse to match the newest-first read contract.
	out := make([]*core.AgentGoal, len(goals))
	for i, g := range goals {
		out[len(goals)-1-i] = g
	}
	return out, nil
}

// AppendPerformanceMetrics records a timestamped sample, keeping the newest.
func (s *FileStore) AppendPerformanceMetrics(ctx context.Context, accountID string, metrics map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var samples []core.MetricsSample
	if _, err := s.readJSON(s.metricsPath(accountID), &samples); err != nil {
		return err
	}
	samples = append(samples, core.MetricsSample{Timestamp: time.Now().UTC(), Metrics: metrics})
	if len(samples) > metricsLimit {
		samples = samples[len(samples)-metricsLimit:]
	}
	return s.writeAtomic(s.metricsPath(accountID), samples)
}

// PerformanceHistory returns stored samples oldest first.
func (s *FileStore) PerformanceHistory(ctx context.Context, accountID string) ([]core.MetricsSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var samples []core.MetricsSample
	if _, err := s.readJSON(s.metricsPath(accountID), &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

// SaveInsight stores the latest cross-account optimization result.
func (s *FileStore) SaveInsight(ctx context.Context, insight *core.OptimizationInsight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAtomic(s.insightPath(), insight)
}

// LoadInsight returns the latest optimization result, or nil when absent.
func (s *FileStore) LoadInsight(ctx context.Context) (*core.OptimizationInsight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var insight core.OptimizationInsight
	found, err := s.readJSON(s.insightPath(), &insight)
	if err != nil || !found {
		return nil, err
	}
	return &insight, nil
}
