package agent

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records loop activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Decisions         *prometheus.CounterVec
	SkippedEvents     *prometheus.CounterVec
	MalformedToolArgs *prometheus.CounterVec
	Runs              *prometheus.CounterVec
	PrefetchDuration  prometheus.Histogram
}

// NewMetrics creates the loop metrics and registers them with reg. A nil
// registerer creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "streamloop_decisions_total",
			Help: "Message decisions yielded, by role",
		}, []string{"role"}),
		SkippedEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "streamloop_skipped_events_total",
			Help: "Provider events dropped because their role is not representable, by role (unknown roles as \"other\")",
		}, []string{"role"}),
		MalformedToolArgs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "streamloop_malformed_tool_arguments_total",
			Help: "Assistant tool calls whose arguments could not be parsed, by tool",
		}, []string{"tool"}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "streamloop_runs_total",
			Help: "Loop invocations, by outcome",
		}, []string{"outcome"}),
		PrefetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamloop_prefetch_duration_seconds",
			Help:    "Time spent resolving resource references before a turn",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

const (
	outcomeDone      = "done"
	outcomeError     = "error"
	outcomeCancelled = "cancelled"
)

func (m *Metrics) decision(role string) {
	if m == nil || m.Decisions == nil {
		return
	}
	m.Decisions.WithLabelValues(role).Inc()
}

// knownSkippedRoles are external roles that get their own label value;
// anything else is counted as "other" since roles are provider-controlled.
var knownSkippedRoles = map[string]bool{
	"developer": true,
	"activity":  true,
	"function":  true,
}

const otherRole = "other"

func skippedRoleLabel(role string) string {
	if knownSkippedRoles[role] {
		return role
	}
	return otherRole
}

func (m *Metrics) skipped(role string) {
	if m == nil || m.SkippedEvents == nil {
		return
	}
	m.SkippedEvents.WithLabelValues(skippedRoleLabel(role)).Inc()
}

func (m *Metrics) malformed(tool string) {
	if m == nil || m.MalformedToolArgs == nil {
		return
	}
	m.MalformedToolArgs.WithLabelValues(tool).Inc()
}

func (m *Metrics) run(outcome string) {
	if m == nil || m.Runs == nil {
		return
	}
	m.Runs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) prefetch(d time.Duration) {
	if m == nil || m.PrefetchDuration == nil {
		return
	}
	m.PrefetchDuration.Observe(d.Seconds())
}
