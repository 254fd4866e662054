// Package observability implements the tracing/metrics layer SPEC_FULL.md
// §2 names: OpenTelemetry spans per execution and Prometheus counters and
// histograms for iteration counts, tool-call latency, token usage, and
// provider health. It hangs off the Orchestrator Facade's event stream
// rather than threading a metrics handle through every lower layer,
// grounded on the teacher's event/callback-driven instrumentation hooks
// (pkg/agent/instrumentation.go) rather than its constructor-injected
// Metrics struct, since the bus already carries every fact a recorder
// needs (tool name, token counts, duration-relevant timestamps) tagged by
// execution.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus series the Orchestrator Facade updates
// as it drains each execution's event stream.
type Metrics struct {
	registry *prometheus.Registry

	agentIterations *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec
	agentRunsTotal  *prometheus.CounterVec
	agentRunErrors  *prometheus.CounterVec

	toolCallDuration *prometheus.HistogramVec
	toolCallErrors   *prometheus.CounterVec

	llmTokensInput  *prometheus.CounterVec
	llmTokensOutput *prometheus.CounterVec
	llmCostTotal    *prometheus.CounterVec

	providerHealth *prometheus.GaugeVec
}

// NewMetrics builds a fresh registry with every series pre-registered.
// Unlike the teacher's config-gated constructor, metrics collection here
// is always on: the registry costs nothing until scraped, and the
// Orchestrator Facade has no config surface of its own to gate it with.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.agentIterations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_agent_iterations_total",
		Help: "ReAct loop iterations executed, by agent id.",
	}, []string{"agent_id"})

	m.agentRunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleet_agent_run_duration_seconds",
		Help:    "Wall-clock duration of a single agent/team/workflow execution.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	m.agentRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_executions_total",
		Help: "Executions completed, by kind and terminal status.",
	}, []string{"kind", "status"})

	m.agentRunErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_execution_errors_total",
		Help: "Executions that ended in the error status, by kind.",
	}, []string{"kind"})

	m.toolCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleet_tool_call_duration_seconds",
		Help:    "Tool-call latency as observed by the event bus's tool_result event.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})

	m.toolCallErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_tool_call_errors_total",
		Help: "Tool calls whose result carried a non-empty error kind.",
	}, []string{"tool", "kind"})

	m.llmTokensInput = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_llm_tokens_input_total",
		Help: "Input tokens consumed, by model.",
	}, []string{"model"})

	m.llmTokensOutput = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_llm_tokens_output_total",
		Help: "Output tokens produced, by model.",
	}, []string{"model"})

	m.llmCostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_llm_cost_usd_total",
		Help: "Cumulative modeled cost in USD, by model, per the gateway's price table.",
	}, []string{"model"})

	m.providerHealth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_provider_health",
		Help: "1 if the tool provider's last probe succeeded, 0 otherwise.",
	}, []string{"provider"})

	m.registry.MustRegister(
		m.agentIterations, m.agentRunDuration, m.agentRunsTotal, m.agentRunErrors,
		m.toolCallDuration, m.toolCallErrors,
		m.llmTokensInput, m.llmTokensOutput, m.llmCostTotal,
		m.providerHealth,
	)
	return m
}

func (m *Metrics) RecordIteration(agentID string) {
	m.agentIterations.WithLabelValues(agentID).Inc()
}

func (m *Metrics) RecordRun(kind, status string, duration time.Duration) {
	m.agentRunDuration.WithLabelValues(kind).Observe(duration.Seconds())
	m.agentRunsTotal.WithLabelValues(kind, status).Inc()
	if status == "error" {
		m.agentRunErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) RecordToolCall(tool string, duration time.Duration, errKind string) {
	m.toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if errKind != "" {
		m.toolCallErrors.WithLabelValues(tool, errKind).Inc()
	}
}

func (m *Metrics) RecordTokens(model string, input, output int, cost float64) {
	if input > 0 {
		m.llmTokensInput.WithLabelValues(model).Add(float64(input))
	}
	if output > 0 {
		m.llmTokensOutput.WithLabelValues(model).Add(float64(output))
	}
	if cost > 0 {
		m.llmCostTotal.WithLabelValues(model).Add(cost)
	}
}

func (m *Metrics) SetProviderHealth(provider string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.providerHealth.WithLabelValues(provider).Set(v)
}

// Handler exposes the registry in Prometheus text exposition format for
// an external transport to mount; this package never listens on a port
// itself.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry, for tests that
// want to assert on gathered samples directly.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
