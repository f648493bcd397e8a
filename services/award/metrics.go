package award

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	journal    *prometheus.CounterVec
}

var (
	metricsOnce     sync.Once
	metricsRegistry *Metrics
)

// DefaultMetrics returns the process-wide collectors, registered on the
// default prometheus registry on first use.
func DefaultMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsRegistry = &Metrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "encoin_operations_total",
				Help: "Award and spend calls by outcome kind.",
			}, []string{"operation", "outcome"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "encoin_operation_duration_seconds",
				Help:    "End-to-end latency of award and spend calls, chain confirmation included.",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			}, []string{"operation"}),
			journal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "encoin_journal_transitions_total",
				Help: "Transfer journal status changes by target status.",
			}, []string{"status"}),
		}
		prometheus.MustRegister(
			metricsRegistry.operations,
			metricsRegistry.duration,
			metricsRegistry.journal,
		)
	})
	return metricsRegistry
}

func (m *Metrics) observe(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (m *Metrics) transition(status JournalStatus) {
	if m == nil {
		return
	}
	m.journal.WithLabelValues(string(status)).Inc()
}
