package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the reconciliation counters of one process. Each instance
// owns its registry so tests and runs do not share state.
type Metrics struct {
	registry *prometheus.Registry

	Runs       *prometheus.CounterVec
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.Runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "security_rule_reconcile_runs_total",
		Help: "Reconciliation runs by desired state and outcome",
	}, []string{"state", "outcome"})

	m.Operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "security_rule_operations_total",
		Help: "Device operations issued (or simulated in check mode)",
	}, []string{"operation", "check_mode"})

	m.Duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "security_rule_reconcile_duration_seconds",
		Help:    "Wall time of a reconciliation run",
		Buckets: prometheus.DefBuckets,
	}, []string{"state"})

	m.registry.MustRegister(m.Runs, m.Operations, m.Duration)
	return m
}

// Run records one finished reconciliation. outcome is "changed",
// "unchanged" or "failed".
func (m *Metrics) Run(state, outcome string, elapsed time.Duration) {
	m.Runs.WithLabelValues(state, outcome).Inc()
	m.Duration.WithLabelValues(state).Observe(elapsed.Seconds())
}

func (m *Metrics) Operation(op string, checkMode bool) {
	m.Operations.WithLabelValues(op, strconv.FormatBool(checkMode)).Inc()
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile writes all metrics in the text exposition format, for the
// node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
