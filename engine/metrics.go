package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a set of Prometheus collectors for node and execution
// activity. The engine does not record into it on its own: no option of
// New takes a Metrics, and nothing in this module calls NewMetrics.
type Metrics struct {
	NodesExecuted   *prometheus.CounterVec
	NodeDurationMs  *prometheus.HistogramVec
	RetriesRequested *prometheus.CounterVec
	ExecutionsTotal *prometheus.CounterVec
}

// NewMetrics builds a fresh Metrics set. Call Register to attach it to
// a prometheus.Registerer.
func NewMetrics() *Metrics {
	return &Metrics{
		NodesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_engine_nodes_executed_total",
			Help: "Count of node executions by node type and terminal status.",
		}, []string{"node_type", "status"}),
		NodeDurationMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "workflow_engine_node_duration_ms",
			Help:    "Node execution duration in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 14),
		}, []string{"node_type"}),
		RetriesRequested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_engine_node_retries_total",
			Help: "Count of retry attempts requested by node type.",
		}, []string{"node_type"}),
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_engine_executions_total",
			Help: "Count of completed executions by terminal status.",
		}, []string{"status"}),
	}
}

// Register attaches every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.NodesExecuted, m.NodeDurationMs, m.RetriesRequested, m.ExecutionsTotal} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Observe records one node's terminal outcome.
func (m *Metrics) Observe(nodeType, status string, durationMs float64, retried bool) {
	m.NodesExecuted.WithLabelValues(nodeType, status).Inc()
	m.NodeDurationMs.WithLabelValues(nodeType).Observe(durationMs)
	if retried {
		m.RetriesRequested.WithLabelValues(nodeType).Inc()
	}
}

// ObserveExecution records one execution's terminal outcome.
func (m *Metrics) ObserveExecution(status string) {
	m.ExecutionsTotal.WithLabelValues(status).Inc()
}
