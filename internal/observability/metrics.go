package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveGroupSessions prometheus.Gauge
	ResponseEvents      *prometheus.CounterVec
	MemoriesStored      prometheus.Counter
	MemoriesRemoved     prometheus.Counter
	DependencyErrors    *prometheus.CounterVec
	RoundLatency        prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveGroupSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_group_sessions",
			Help:      "Number of live group conversation sessions.",
		}),
		ResponseEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_events_total",
			Help:      "Character response events by kind.",
		}, []string{"kind"}),
		MemoriesStored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memories_stored_total",
			Help:      "Memories persisted to the vector index.",
		}),
		MemoriesRemoved: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memories_removed_total",
			Help:      "Memories removed by retention passes.",
		}),
		DependencyErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dependency_errors_total",
			Help:      "Dependency failures by fault kind and dependency.",
		}, []string{"kind", "dep"}),
		RoundLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_latency_ms",
			Help:      "End-to-end latency of a conversation round in milliseconds.",
			Buckets:   []float64{50, 100, 200, 500, 1000, 2000, 5000, 10000},
		}),
	}
}

func (m *Metrics) ObserveRoundLatency(d time.Duration) {
	m.RoundLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
