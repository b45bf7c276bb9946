// Package metrics holds the Prometheus collectors shared by the runner and
// the arbiter. All methods are safe on a nil *Metrics, which disables
// collection.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "taskrunner"

// Result label values.
const (
	ResultOK       = "ok"
	ResultConflict = "conflict"
	ResultError    = "error"
)

// Metrics is a private registry plus the collectors registered on it.
type Metrics struct {
	Registry *prometheus.Registry

	heartbeats  *prometheus.CounterVec
	unitsActive prometheus.Gauge
	stageRuns   *prometheus.CounterVec
	decisions   *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeats sent by the supervisor, by result.",
		}, []string{"result"}),
		unitsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "units_active",
			Help:      "Task execution units currently running.",
		}),
		stageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_runs_total",
			Help:      "Workflow stage executions, by stage and result.",
		}, []string{"stage", "result"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "arbiter_decisions_total",
			Help:      "Arbitration decisions, by outcome.",
		}, []string{"decision"}),
	}
	reg.MustRegister(
		m.heartbeats,
		m.unitsActive,
		m.stageRuns,
		m.decisions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Heartbeat counts one heartbeat attempt.
func (m *Metrics) Heartbeat(result string) {
	if m == nil {
		return
	}
	m.heartbeats.WithLabelValues(result).Inc()
}

// SetUnits records the number of live execution units.
func (m *Metrics) SetUnits(n int) {
	if m == nil {
		return
	}
	m.unitsActive.Set(float64(n))
}

// StageRun counts one workflow stage execution.
func (m *Metrics) StageRun(stage, result string) {
	if m == nil {
		return
	}
	m.stageRuns.WithLabelValues(stage, result).Inc()
}

// Decision counts one arbitration decision ("created", "refreshed",
// "takeover" or "rejected").
func (m *Metrics) Decision(decision string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision).Inc()
}
