package agent

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lynnbot/assistant-server-go/internal/metrics"
)

const (
	DecisionDirect      = "direct reply"
	DecisionNone        = "none"
	DecisionUnknownTool = "tool:unknown"
)

// RunMetrics describes one agent run. It is logged and exported once, never
// stored.
type RunMetrics struct {
	RunID      string
	SessionID  string
	Query      string
	TokenCount int32
	Decision   string
	ModelTime  time.Duration
	started    time.Time

	// label overrides Decision as the metric label for tool names the
	// registry does not know.
	label string
}

func newRunMetrics(sessionID, query string, now time.Time) *RunMetrics {
	return &RunMetrics{
		RunID:     uuid.NewString(),
		SessionID: sessionID,
		Query:     query,
		Decision:  DecisionNone,
		started:   now,
	}
}

func (m *RunMetrics) emit(sink *metrics.Metrics, status string, now time.Time) {
	total := now.Sub(m.started)
	log.Info().
		Str("runId", m.RunID).
		Str("userId", m.SessionID).
		Str("query", m.Query).
		Int32("tokens", m.TokenCount).
		Dur("totalTime", total).
		Dur("aiTime", m.ModelTime).
		Str("decision", m.Decision).
		Str("status", status).
		Msg("agent run metrics")
	sink.ObserveRun(m.metricLabel(), status, total, m.ModelTime, m.TokenCount)
}

func (m *RunMetrics) metricLabel() string {
	if m.label != "" {
		return m.label
	}
	return m.Decision
}
