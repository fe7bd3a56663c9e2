// Package metrics defines Prometheus collectors for run-loop turns, tool
// dispatches, and policy decisions via github.com/prometheus/client_golang.
// Instrumentation is observational only: nothing here gates a decision made
// elsewhere.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder exposes counters and histograms for run-loop turns, tool
// dispatches, and Policy Gate decisions. app.Bootstrap builds one and
// exposes it as Application.Metrics; neither the Run-Loop Driver nor the
// Policy Gate calls its Observe methods. It wraps a *prometheus.Registry
// rather than the global default registry, so tests can construct
// independent instances.
type Recorder struct {
	TurnDuration       prometheus.Histogram
	ToolDispatchTotal  *prometheus.CounterVec
	PolicyDecisionTotal *prometheus.CounterVec
	registry           *prometheus.Registry
}

// New builds a Recorder backed by a fresh registry and registers all of its
// collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()

	r := &Recorder{
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vtcode",
			Subsystem: "runloop",
			Name:      "turn_duration_seconds",
			Help:      "Wall-clock duration of one driver turn, from user message to termination.",
			Buckets:   prometheus.DefBuckets,
		}),
		ToolDispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vtcode",
			Subsystem: "registry",
			Name:      "tool_dispatch_total",
			Help:      "Tool dispatch attempts, labeled by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		PolicyDecisionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vtcode",
			Subsystem: "policy",
			Name:      "gate_decision_total",
			Help:      "Policy Gate decisions, labeled by effect (allow/deny).",
		}, []string{"effect"}),
		registry: reg,
	}

	reg.MustRegister(r.TurnDuration, r.ToolDispatchTotal, r.PolicyDecisionTotal)
	return r
}

// Registry returns the underlying Prometheus registry, for wiring into an
// HTTP /metrics handler.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveToolDispatch records one tool dispatch outcome ("success", "denied",
// "invalid_args", "error").
func (r *Recorder) ObserveToolDispatch(tool, outcome string) {
	r.ToolDispatchTotal.WithLabelValues(tool, outcome).Inc()
}

// ObservePolicyDecision records one Policy Gate decision ("allow" or "deny").
func (r *Recorder) ObservePolicyDecision(effect string) {
	r.PolicyDecisionTotal.WithLabelValues(effect).Inc()
}

// ObserveTurnDuration records one completed turn's wall-clock duration.
func (r *Recorder) ObserveTurnDuration(seconds float64) {
	r.TurnDuration.Observe(seconds)
}
