package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Routing decisions by type and fast-path method
//   - LLM request performance, token consumption, and cost per provider
//   - Tool execution patterns and latencies
//   - Safety pipeline activity (operations, backups, rollbacks)
//   - Error rates categorized by type and component
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4", "success", 1.27, 100, 500)
type Metrics struct {
	// RoutingDecisions counts routing outcomes.
	// Labels: type (command|task_plan|conversation|clarification|file_operation), method
	RoutingDecisions *prometheus.CounterVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// LLMCost accumulates estimated spend in USD.
	// Labels: provider, model
	LLMCost *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|denied|timeout)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// FileOperations counts safety-pipeline executions.
	// Labels: operation (create|edit|delete|move|copy|refactor|test), outcome
	FileOperations *prometheus.CounterVec

	// BackupsCreated counts backups written, including intent backups.
	// Labels: kind (content|intent)
	BackupsCreated *prometheus.CounterVec

	// RollbacksExecuted counts rollback runs.
	// Labels: outcome (success|failure)
	RollbacksExecuted *prometheus.CounterVec

	// ProviderFailovers counts router re-routes after retryable failures.
	// Labels: from_provider, to_provider
	ProviderFailovers *prometheus.CounterVec

	// ResultsCacheSize is the current orchestrator results cache size.
	ResultsCacheSize prometheus.Gauge

	// ErrorCounter tracks errors by type and component.
	// Labels: component (provider|router|tool|safety|conversation), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
func NewMetrics() *Metrics {
	return &Metrics{
		RoutingDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_routing_decisions_total",
				Help: "Total routing decisions by type and match method",
			},
			[]string{"type", "method"},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forge_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_llm_requests_total",
				Help: "Total LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_llm_tokens_total",
				Help: "Total tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		LLMCost: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_llm_cost_usd_total",
				Help: "Estimated LLM spend in USD by provider and model",
			},
			[]string{"provider", "model"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_tool_executions_total",
				Help: "Total tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forge_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		FileOperations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_file_operations_total",
				Help: "Total safety-pipeline file operations by kind and outcome",
			},
			[]string{"operation", "outcome"},
		),

		BackupsCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_backups_total",
				Help: "Total backups written, by kind",
			},
			[]string{"kind"},
		),

		RollbacksExecuted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_rollbacks_total",
				Help: "Total rollback executions by outcome",
			},
			[]string{"outcome"},
		),

		ProviderFailovers: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_provider_failovers_total",
				Help: "Total router failovers between providers",
			},
			[]string{"from_provider", "to_provider"},
		),

		ResultsCacheSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "forge_results_cache_size",
				Help: "Current number of entries in the tool-results cache",
			},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_errors_total",
				Help: "Total errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// RecordRoutingDecision increments the routing counter.
func (m *Metrics) RecordRoutingDecision(decisionType, method string) {
	m.RoutingDecisions.WithLabelValues(decisionType, method).Inc()
}

// RecordLLMRequest records counters and latency for one LLM request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordLLMCost accumulates the estimated request cost.
func (m *Metrics) RecordLLMCost(provider, model string, usd float64) {
	if usd > 0 {
		m.LLMCost.WithLabelValues(provider, model).Add(usd)
	}
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordFileOperation records one safety-pipeline outcome.
func (m *Metrics) RecordFileOperation(operation, outcome string) {
	m.FileOperations.WithLabelValues(operation, outcome).Inc()
}

// RecordBackup counts one backup write.
func (m *Metrics) RecordBackup(kind string) {
	m.BackupsCreated.WithLabelValues(kind).Inc()
}

// RecordRollback counts one rollback run.
func (m *Metrics) RecordRollback(outcome string) {
	m.RollbacksExecuted.WithLabelValues(outcome).Inc()
}

// RecordFailover counts one router failover.
func (m *Metrics) RecordFailover(from, to string) {
	m.ProviderFailovers.WithLabelValues(from, to).Inc()
}

// SetResultsCacheSize updates the results cache gauge.
func (m *Metrics) SetResultsCacheSize(n int) {
	m.ResultsCacheSize.Set(float64(n))
}

// RecordError increments the error counter for a component and type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
