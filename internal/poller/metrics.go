package poller

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the poller's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	polls       *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	rowsWritten *prometheus.CounterVec
	rowFailures *prometheus.CounterVec
}

// NewMetrics creates the poll collectors and registers them, together with
// the Go runtime and process collectors, on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterlog_polls_total",
			Help: "Poll cycles by device and outcome.",
		}, []string{"device", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meterlog_poll_duration_seconds",
			Help:    "Duration of poll cycles from connect to commit.",
			Buckets: prometheus.DefBuckets,
		}, []string{"device"}),
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterlog_rows_written_total",
			Help: "Measurement rows committed to shards.",
		}, []string{"device"}),
		rowFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterlog_row_failures_total",
			Help: "Measurement rows whose insert failed.",
		}, []string{"device"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.polls,
		m.duration,
		m.rowsWritten,
		m.rowFailures,
	)
	return m
}

// Registry returns the registry so other components can add collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// observe records one finished cycle. A nil receiver records nothing.
func (m *Metrics) observe(res Result) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(res.Device, string(res.Outcome)).Inc()
	if res.Outcome != OutcomeBusy {
		m.duration.WithLabelValues(res.Device).Observe(res.Duration.Seconds())
	}
	m.rowsWritten.WithLabelValues(res.Device).Add(float64(len(res.Stored)))
	m.rowFailures.WithLabelValues(res.Device).Add(float64(len(res.Failed)))
}

// since returns the elapsed time clamped at zero.
func since(start time.Time, now time.Time) time.Duration {
	if d := now.Sub(start); d > 0 {
		return d
	}
	return 0
}
