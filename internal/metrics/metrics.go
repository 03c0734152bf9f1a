package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Agent run status label values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Webhook result label values
const (
	WebhookAccepted     = "accepted"
	WebhookHandshake    = "handshake"
	WebhookForbidden    = "forbidden"
	WebhookDecryptError = "decrypt_error"
	WebhookIgnored      = "ignored"
)

type Metrics struct {
	AgentRuns     *prometheus.CounterVec
	AgentDuration prometheus.Histogram
	ModelDuration prometheus.Histogram
	ContextTokens prometheus.Histogram
	ToolCalls     *prometheus.CounterVec
	WebhookEvents *prometheus.CounterVec
	registry      prometheus.Gatherer
}

// New builds the collectors and registers them with reg. Pass
// prometheus.NewRegistry() in tests to keep registrations isolated.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		AgentRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_agent_runs_total",
				Help: "Total number of agent runs",
			},
			[]string{"decision", "status"},
		),
		AgentDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "assistant_agent_duration_seconds",
			Help:    "End-to-end agent run duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		ModelDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "assistant_model_duration_seconds",
			Help:    "Cumulative model call time per run in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}),
		ContextTokens: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "assistant_context_tokens",
			Help:    "Token count of the context sent on the first model round",
			Buckets: prometheus.ExponentialBuckets(64, 2, 10),
		}),
		ToolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_tool_calls_total",
				Help: "Total number of tool dispatches",
			},
			[]string{"tool"},
		),
		WebhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_webhook_events_total",
				Help: "Webhook requests by outcome",
			},
			[]string{"result"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.AgentRuns,
		m.AgentDuration,
		m.ModelDuration,
		m.ContextTokens,
		m.ToolCalls,
		m.WebhookEvents,
	)
	return m
}

// ObserveRun records one finished agent run.
func (m *Metrics) ObserveRun(decision, status string, total, model time.Duration, tokens int32) {
	if m == nil {
		return
	}
	m.AgentRuns.WithLabelValues(decision, status).Inc()
	m.AgentDuration.Observe(total.Seconds())
	m.ModelDuration.Observe(model.Seconds())
	if tokens > 0 {
		m.ContextTokens.Observe(float64(tokens))
	}
}

func (m *Metrics) ToolCall(tool string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool).Inc()
}

func (m *Metrics) Webhook(result string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(result).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
