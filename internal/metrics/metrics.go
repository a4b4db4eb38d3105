// Package metrics holds the Prometheus collectors exported by tripbot.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tripbot"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	transitions     *prometheus.CounterVec
	autoRefused     *prometheus.CounterVec
	schedulerTicks  prometheus.Counter
	schedulerErrors *prometheus.CounterVec
	tickDuration    prometheus.Histogram
	notifications   *prometheus.CounterVec
	dropped         prometheus.Counter
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "State transitions applied, by entity and target status.",
		}, []string{"entity", "status"}),
		autoRefused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_refused_total",
			Help:      "Pending requests refused automatically, by trigger.",
		}, []string{"trigger"}),
		schedulerTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Lifecycle scheduler ticks run.",
		}),
		schedulerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "plan_errors_total",
			Help:      "Plans that failed to transition, by phase.",
		}, []string{"phase"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of lifecycle scheduler ticks.",
			Buckets:   prometheus.DefBuckets,
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Notification delivery attempts, by event and outcome.",
		}, []string{"event", "status"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "dropped_total",
			Help:      "Notifications dropped because the queue was full.",
		}),
	}

	m.registry.MustRegister(
		m.transitions,
		m.autoRefused,
		m.schedulerTicks,
		m.schedulerErrors,
		m.tickDuration,
		m.notifications,
		m.dropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Transition(entity, status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(entity, status).Inc()
}

func (m *Metrics) AutoRefused(trigger string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.autoRefused.WithLabelValues(trigger).Add(float64(n))
}

func (m *Metrics) Tick(d time.Duration) {
	if m == nil {
		return
	}
	m.schedulerTicks.Inc()
	m.tickDuration.Observe(d.Seconds())
}

func (m *Metrics) PlanError(phase string) {
	if m == nil {
		return
	}
	m.schedulerErrors.WithLabelValues(phase).Inc()
}

func (m *Metrics) Notification(event, status string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(event, status).Inc()
}

func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
