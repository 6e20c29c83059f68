// Package metrics exposes Prometheus collectors for check-in outcomes,
// storage retry behaviour, and notification delivery.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors. All methods are safe on a nil receiver so
// callers can skip wiring metrics in tests.
type Metrics struct {
	registry *prometheus.Registry

	checkins        *prometheus.CounterVec
	checkinDuration prometheus.Histogram
	storageRetries  prometheus.Counter
	storageState    prometheus.Gauge
	notifications   *prometheus.CounterVec
}

// New creates and registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		checkins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leafcheck_checkins_total",
			Help: "Check-in attempts by outcome.",
		}, []string{"outcome"}),
		checkinDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "leafcheck_checkin_duration_seconds",
			Help:    "Wall time of one check-in execution.",
			Buckets: prometheus.DefBuckets,
		}),
		storageRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leafcheck_storage_retries_total",
			Help: "Storage reconnection attempts.",
		}),
		storageState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leafcheck_storage_state",
			Help: "Reconnection state: 0 connected, 1 reconnecting, 2 failed.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leafcheck_notifications_total",
			Help: "Notification sends by channel and status.",
		}, []string{"channel", "status"}),
	}
	reg.MustRegister(m.checkins, m.checkinDuration, m.storageRetries, m.storageState, m.notifications)
	return m
}

// Handler returns the /metrics HTTP handler for the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCheckin records one finished check-in execution.
func (m *Metrics) ObserveCheckin(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.checkins.WithLabelValues(outcome).Inc()
	m.checkinDuration.Observe(d.Seconds())
}

// StorageRetry counts one reconnection attempt.
func (m *Metrics) StorageRetry() {
	if m == nil {
		return
	}
	m.storageRetries.Inc()
}

// SetStorageState publishes the reconnection state machine's state.
func (m *Metrics) SetStorageState(state int) {
	if m == nil {
		return
	}
	m.storageState.Set(float64(state))
}

// ObserveNotification records one channel send result.
func (m *Metrics) ObserveNotification(channel string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.notifications.WithLabelValues(channel, status).Inc()
}
