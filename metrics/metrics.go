package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "warmbox"

// Metrics holds the collectors shared by the pools and the dispatcher
type Metrics struct {
	poolAvailable     *prometheus.GaugeVec
	poolInUse         *prometheus.GaugeVec
	createErrors      *prometheus.CounterVec
	removeErrors      *prometheus.CounterVec
	quarantined       *prometheus.CounterVec
	acquireRejections *prometheus.CounterVec
	executions        *prometheus.CounterVec
	executionLatency  *prometheus.HistogramVec
}

// New registers the collectors with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		poolAvailable: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "available",
			Help:      "Current number of warm containers ready for use",
		}, []string{"runtime"}),

		poolInUse: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "in_use",
			Help:      "Current number of containers held by executions",
		}, []string{"runtime"}),

		createErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "container_creation_errors_total",
			Help:      "Total number of container creation errors",
		}, []string{"runtime"}),

		removeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "container_removal_errors_total",
			Help:      "Total number of container removal errors",
		}, []string{"runtime"}),

		quarantined: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "quarantined_total",
			Help:      "Total number of containers dropped from the pool after a failed reset",
		}, []string{"runtime"}),

		acquireRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "acquire_rejections_total",
			Help:      "Total number of rejected acquisitions",
		}, []string{"runtime", "reason"}),

		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "executions_total",
			Help:      "Total number of executions by outcome",
		}, []string{"runtime", "kind"}),

		executionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock duration of executions",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"runtime", "kind"}),
	}
}

// SetPoolState records the current pool occupancy
func (m *Metrics) SetPoolState(runtime string, available, inUse int) {
	if m == nil {
		return
	}
	m.poolAvailable.WithLabelValues(runtime).Set(float64(available))
	m.poolInUse.WithLabelValues(runtime).Set(float64(inUse))
}

func (m *Metrics) ContainerCreateFailed(runtime string) {
	if m == nil {
		return
	}
	m.createErrors.WithLabelValues(runtime).Inc()
}

func (m *Metrics) ContainerRemoveFailed(runtime string) {
	if m == nil {
		return
	}
	m.removeErrors.WithLabelValues(runtime).Inc()
}

func (m *Metrics) ContainerQuarantined(runtime string) {
	if m == nil {
		return
	}
	m.quarantined.WithLabelValues(runtime).Inc()
}

// AcquireRejected counts an acquisition that returned no container; reason is
// "exhausted" or "closed".
func (m *Metrics) AcquireRejected(runtime, reason string) {
	if m == nil {
		return
	}
	m.acquireRejections.WithLabelValues(runtime, reason).Inc()
}

// ObserveExecution records one finished execution
func (m *Metrics) ObserveExecution(runtime, kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(runtime, kind).Inc()
	m.executionLatency.WithLabelValues(runtime, kind).Observe(d.Seconds())
}
