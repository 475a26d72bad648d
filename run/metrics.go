package run

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus collectors for run execution. All metrics
// are namespaced "orka_". Optional: a nil *Metrics disables collection.
//
// Expose via promhttp against the registry you pass in:
//
//	registry := prometheus.NewRegistry()
//	metrics := run.NewMetrics(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type Metrics struct {
	inflightAgents prometheus.Gauge
	queueDepth     prometheus.Gauge
	stepLatency    *prometheus.HistogramVec
	nodeFailures   *prometheus.CounterVec
	memoryWrites   prometheus.Counter
	runsTotal      *prometheus.CounterVec
}

// NewMetrics registers the collectors with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		inflightAgents: factory.NewGauge(prometheus.GaugeOpts{
			Name: "orka_inflight_agents",
			Help: "Agents currently executing.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "orka_queue_depth",
			Help: "Node ids pending in the scheduler queue.",
		}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orka_step_latency_ms",
			Help:    "Node execution duration in milliseconds.",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"node_id", "status"}),
		nodeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orka_node_failures_total",
			Help: "Failed node executions by error kind.",
		}, []string{"node_id", "kind"}),
		memoryWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "orka_memory_log_writes_total",
			Help: "Step log entries written to the memory store.",
		}),
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orka_runs_total",
			Help: "Completed runs by status.",
		}, []string{"status"}),
	}
}

func (m *Metrics) agentStarted() {
	if m != nil {
		m.inflightAgents.Inc()
	}
}

func (m *Metrics) agentFinished() {
	if m != nil {
		m.inflightAgents.Dec()
	}
}

func (m *Metrics) observeQueueDepth(depth int) {
	if m != nil {
		m.queueDepth.Set(float64(depth))
	}
}

func (m *Metrics) observeStep(nodeID, status string, d time.Duration) {
	if m != nil {
		m.stepLatency.WithLabelValues(nodeID, status).Observe(float64(d.Milliseconds()))
	}
}

func (m *Metrics) countFailure(nodeID, kind string) {
	if m != nil {
		m.nodeFailures.WithLabelValues(nodeID, kind).Inc()
	}
}

func (m *Metrics) countLogWrite() {
	if m != nil {
		m.memoryWrites.Inc()
	}
}

func (m *Metrics) countRun(status string) {
	if m != nil {
		m.runsTotal.WithLabelValues(status).Inc()
	}
}
