package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments the daemon exports at
// /metrics. Everything the orchestrator touches is labeled so a single
// dashboard can answer the usual questions: which platform is busy,
// which model is slow, which tool keeps failing.
type Metrics struct {
	// ChatCounter counts chat turns by platform and status.
	ChatCounter *prometheus.CounterVec

	// ChatDuration measures whole-turn latency in seconds, model
	// calls and tool executions included.
	ChatDuration *prometheus.HistogramVec

	// ModelRequestCounter counts model calls by provider, model, and status.
	ModelRequestCounter *prometheus.CounterVec

	// ModelRequestDuration measures model call latency in seconds.
	ModelRequestDuration *prometheus.HistogramVec

	// ModelTokens tracks token consumption by provider, model, and
	// type (prompt|completion).
	ModelTokens *prometheus.CounterVec

	// ToolExecutionCounter counts tool dispatches by tool and status.
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	ToolExecutionDuration *prometheus.HistogramVec

	// ApprovalCounter counts resolved approvals by outcome
	// (approved|denied|expired).
	ApprovalCounter *prometheus.CounterVec

	// TaskRunCounter counts scheduled task runs by status.
	TaskRunCounter *prometheus.CounterVec

	// NotificationCounter counts task notifications by platform and
	// status (delivered|queued).
	NotificationCounter *prometheus.CounterVec

	// HTTPRequestCounter counts API requests.
	HTTPRequestCounter *prometheus.CounterVec

	// HTTPRequestDuration measures API request latency in seconds.
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers every instrument with the default Prometheus
// registry. Call once at startup; the standard promhttp handler then
// serves them.
func NewMetrics() *Metrics {
	return NewMetricsOn(prometheus.DefaultRegisterer)
}

// NewMetricsOn registers the instruments with reg. Tests pass a fresh
// registry so repeated construction does not collide.
func NewMetricsOn(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChatCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steward_chats_total",
				Help: "Total chat turns by platform and status",
			},
			[]string{"platform", "status"},
		),

		ChatDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "steward_chat_duration_seconds",
				Help:    "Whole chat turn latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"platform"},
		),

		ModelRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steward_model_requests_total",
				Help: "Total model calls by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		ModelRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "steward_model_request_duration_seconds",
				Help:    "Model call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		ModelTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steward_model_tokens_total",
				Help: "Total tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steward_tool_executions_total",
				Help: "Total tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "steward_tool_execution_duration_seconds",
				Help:    "Tool execution time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		ApprovalCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steward_approvals_total",
				Help: "Resolved approval requests by outcome",
			},
			[]string{"outcome"},
		),

		TaskRunCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steward_task_runs_total",
				Help: "Scheduled task runs by status",
			},
			[]string{"status"},
		),

		NotificationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steward_notifications_total",
				Help: "Task notifications by platform and delivery status",
			},
			[]string{"platform", "status"},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steward_http_requests_total",
				Help: "Total HTTP API requests",
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "steward_http_request_duration_seconds",
				Help:    "HTTP API request latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// RecordChat records one completed chat turn.
func (m *Metrics) RecordChat(platform, status string, durationSeconds float64) {
	m.ChatCounter.WithLabelValues(platform, status).Inc()
	m.ChatDuration.WithLabelValues(platform).Observe(durationSeconds)
}

// RecordModelCall records one model request with its token usage.
func (m *Metrics) RecordModelCall(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.ModelRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ModelRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.ModelTokens.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.ModelTokens.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records one tool dispatch.
func (m *Metrics) RecordToolExecution(tool, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordApproval records a resolved approval outcome.
func (m *Metrics) RecordApproval(outcome string) {
	m.ApprovalCounter.WithLabelValues(outcome).Inc()
}

// RecordTaskRun records one scheduled task execution.
func (m *Metrics) RecordTaskRun(status string) {
	m.TaskRunCounter.WithLabelValues(status).Inc()
}

// RecordNotification records a task notification delivery attempt.
func (m *Metrics) RecordNotification(platform, status string) {
	m.NotificationCounter.WithLabelValues(platform, status).Inc()
}

// RecordHTTPRequest records one handled API request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}
