package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/socialpilot-ai/socialpilot/internal/agent/config"
)

var (
	registerOnce sync.Once

	cyclesTotal       *prometheus.CounterVec
	cycleDuration     prometheus.Histogram
	tasksTotal        *prometheus.CounterVec
	gatewayAttempts   *prometheus.CounterVec
	gatewayExhausted  prometheus.Counter
	accountsInFlight  prometheus.Gauge
	llmTokensEstimate prometheus.Counter
)

func registerMetrics() {
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socialpilot_cycles_total",
		Help: "Account management cycles by outcome",
	}, []string{"outcome"})
	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "socialpilot_cycle_duration_seconds",
		Help:    "Wall clock duration of account cycles",
		Buckets: prometheus.DefBuckets,
	})
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socialpilot_tasks_total",
		Help: "Executed tasks by role and final status",
	}, []string{"role", "status"})
	gatewayAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socialpilot_gateway_attempts_total",
		Help: "Model gateway provider attempts by provider and outcome",
	}, []string{"provider", "outcome"})
	gatewayExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socialpilot_gateway_exhausted_total",
		Help: "Requests for which every configured provider failed",
	})
	accountsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "socialpilot_accounts_in_flight",
		Help: "Accounts with a cycle currently running",
	})
	llmTokensEstimate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socialpilot_llm_tokens_estimated_total",
		Help: "Rough token count billed across all providers",
	})
}

// Telemetry aggregates runtime counters and cost estimates. Prometheus series
// are registered on the default registry; a process-local snapshot backs the
// status API.
type Telemetry struct {
	config config.TelemetryConfig
	logger *log.Logger

	mu              sync.RWMutex
	cycles          int64
	cycleFailures   int64
	tasksCompleted  int64
	tasksFailed     int64
	gatewayFailures map[string]int64
	estimatedCost   float64
	startedAt       time.Time
}

// Snapshot is a point-in-time copy of the aggregate counters.
type Snapshot struct {
	Uptime          time.Duration    `json:"uptime"`
	Cycles          int64            `json:"cycles"`
	CycleFailures   int64            `json:"cycle_failures"`
	TasksCompleted  int64            `json:"tasks_completed"`
	TasksFailed     int64            `json:"tasks_failed"`
	GatewayFailures map[string]int64 `json:"gateway_failures"`
	EstimatedCost   float64          `json:"estimated_cost_usd"`
}

// New creates a telemetry instance and registers the Prometheus series.
func New(cfg config.TelemetryConfig) *Telemetry {
	registerOnce.Do(registerMetrics)
	return &Telemetry{
		config:          cfg,
		logger:          log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		gatewayFailures: make(map[string]int64),
		startedAt:       time.Now(),
	}
}

// RecordCycle records one finished account cycle.
func (t *Telemetry) RecordCycle(accountID string, duration time.Duration, err error) {
	if t == nil || !t.config.Enabled {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	cyclesTotal.WithLabelValues(outcome).Inc()
	cycleDuration.Observe(duration.Seconds())

	t.mu.Lock()
	defer t.mu.Unlock()
	t.cycles++
	if err != nil {
		t.cycleFailures++
		t.logger.Printf("cycle for %s failed after %v: %v", accountID, duration, err)
	}
}

// RecordTask records a task reaching a terminal status.
func (t *Telemetry) RecordTask(role, status string) {
	if t == nil || !t.config.Enabled {
		return
	}
	tasksTotal.WithLabelValues(role, status).Inc()

	t.mu.Lock()
	defer t.mu.Unlock()
	switch status {
	case "completed":
		t.tasksCompleted++
	case "failed":
		t.tasksFailed++
	}
}

// RecordGatewayAttempt records one provider attempt inside a fallback chain.
func (t *Telemetry) RecordGatewayAttempt(provider string, success bool) {
	if t == nil || !t.config.Enabled {
		return
	}
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	gatewayAttempts.WithLabelValues(provider, outcome).Inc()

	if !success {
		t.mu.Lock()
		t.gatewayFailures[provider]++
		t.mu.Unlock()
	}
}

// RecordGatewayExhausted records a request that ran out of providers.
func (t *Telemetry) RecordGatewayExhausted() {
	if t == nil || !t.config.Enabled {
		return
	}
	gatewayExhausted.Inc()
}

// RecordCost adds an estimated spend for one model call.
func (t *Telemetry) RecordCost(tokens int64, costUSD float64) {
	if t == nil || !t.config.Enabled || !t.config.CostTracking {
		return
	}
	llmTokensEstimate.Add(float64(tokens))

	t.mu.Lock()
	t.estimatedCost += costUSD
	t.mu.Unlock()
}

// CycleStarted increments the in-flight gauge.
func (t *Telemetry) CycleStarted() {
	if t == nil || !t.config.Enabled {
		return
	}
	accountsInFlight.Inc()
}

// CycleFinished decrements the in-flight gauge.
func (t *Telemetry) CycleFinished() {
	if t == nil || !t.config.Enabled {
		return
	}
	accountsInFlight.Dec()
}

// Snapshot returns a copy of the aggregate counters for the status API.
func (t *Telemetry) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	failures := make(map[string]int64, len(t.gatewayFailures))
	for k, v := range t.gatewayFailures {
		failures[k] = v
	}
	return Snapshot{
		Uptime:          time.Since(t.startedAt),
		Cycles:          t.cycles,
		CycleFailures:   t.cycleFailures,
		TasksCompleted:  t.tasksCompleted,
		TasksFailed:     t.tasksFailed,
		GatewayFailures: failures,
		EstimatedCost:   t.estimatedCost,
	}
}
