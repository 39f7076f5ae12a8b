package trident

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes workflow execution metrics through a Prometheus registry.
// All metrics are namespaced "trident":
//
//   - inflight_nodes (gauge): nodes currently executing.
//   - node_duration_ms (histogram): per-node execution latency, labeled by
//     node kind and status (success/error/skipped).
//   - nodes_total (counter): executed nodes, labeled by kind and status.
//   - runs_total (counter): completed runs, labeled by status.
//   - provider_tokens_total (counter): tokens consumed, labeled by model and
//     direction (input/output).
//   - run_cost_usd (histogram): total cost per run.
//
// Pass a custom registry for isolation or prometheus.DefaultRegisterer for
// the process-global one. A nil Metrics is a no-op, so callers never need to
// guard recording sites.
type Metrics struct {
	inflightNodes  prometheus.Gauge
	nodeDuration   *prometheus.HistogramVec
	nodesTotal     *prometheus.CounterVec
	runsTotal      *prometheus.CounterVec
	providerTokens *prometheus.CounterVec
	runCost        prometheus.Histogram
}

// NewMetrics creates and registers the execution metrics.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		inflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "trident",
			Name:      "inflight_nodes",
			Help:      "Number of nodes currently executing.",
		}),
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "trident",
			Name:      "node_duration_ms",
			Help:      "Node execution duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
		}, []string{"kind", "status"}),
		nodesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trident",
			Name:      "nodes_total",
			Help:      "Total nodes executed.",
		}, []string{"kind", "status"}),
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trident",
			Name:      "runs_total",
			Help:      "Total workflow runs.",
		}, []string{"status"}),
		providerTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trident",
			Name:      "provider_tokens_total",
			Help:      "Tokens consumed by provider calls.",
		}, []string{"model", "direction"}),
		runCost: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "trident",
			Name:      "run_cost_usd",
			Help:      "Total provider cost per run in USD.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),
	}
}

// NodeStarted marks a node as in flight.
func (m *Metrics) NodeStarted() {
	if m == nil {
		return
	}
	m.inflightNodes.Inc()
}

// NodeFinished records a node completion.
func (m *Metrics) NodeFinished(kind NodeKind, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inflightNodes.Dec()
	m.nodeDuration.WithLabelValues(string(kind), status).Observe(float64(elapsed.Milliseconds()))
	m.nodesTotal.WithLabelValues(string(kind), status).Inc()
}

// RunFinished records a run completion with its total cost.
func (m *Metrics) RunFinished(status string, costUSD float64) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runCost.Observe(costUSD)
}

// TokensUsed records provider token consumption.
func (m *Metrics) TokensUsed(model string, input, output int) {
	if m == nil {
		return
	}
	m.providerTokens.WithLabelValues(model, "input").Add(float64(input))
	m.providerTokens.WithLabelValues(model, "output").Add(float64(output))
}
