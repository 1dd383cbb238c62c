package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/3leaps/hpbatch/pkg/monitor"
)

// Metrics are the collectors behind the status server's /metrics endpoint.
type Metrics struct {
	Registry *prometheus.Registry

	jobs         *prometheus.GaugeVec
	malformed    prometheus.Gauge
	lastObserved prometheus.Gauge
	queries      *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// DefaultMetrics returns the process-wide Metrics, creating it on first use.
func DefaultMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics()
	})
	return metrics
}

// NewMetrics builds a Metrics with its own registry. Tests use this to
// avoid sharing state.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		jobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hpbatch",
			Name:      "jobs",
			Help:      "Jobs matching the monitored prefix, by state class, as of the last summary.",
		}, []string{"user", "class"}),
		malformed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hpbatch",
			Name:      "malformed_records",
			Help:      "Scheduler records skipped in the last summary because they could not be decoded.",
		}),
		lastObserved: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hpbatch",
			Name:      "last_summary_timestamp_seconds",
			Help:      "Unix time of the last successful summary.",
		}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hpbatch",
			Name:      "summary_queries_total",
			Help:      "Summary requests by result.",
		}, []string{"result"}),
	}
	m.Registry.MustRegister(
		m.jobs,
		m.malformed,
		m.lastObserved,
		m.queries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveSummary publishes s.
func (m *Metrics) ObserveSummary(s *monitor.Summary) {
	m.queries.WithLabelValues("ok").Inc()
	m.jobs.WithLabelValues(s.User, "total").Set(float64(s.Total))
	m.jobs.WithLabelValues(s.User, "active").Set(float64(s.Active))
	m.jobs.WithLabelValues(s.User, "completed").Set(float64(s.Completed))
	m.jobs.WithLabelValues(s.User, "failed_like").Set(float64(s.FailedLike))
	m.jobs.WithLabelValues(s.User, "unknown").Set(float64(s.Unknown))
	m.malformed.Set(float64(s.Malformed))
	m.lastObserved.Set(float64(s.ObservedAt.Unix()))
}

// ObserveQueryError counts a failed summary.
func (m *Metrics) ObserveQueryError() {
	m.queries.WithLabelValues("error").Inc()
}
