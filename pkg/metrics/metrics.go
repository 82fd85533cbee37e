// Package metrics exposes the registry's Prometheus instrumentation:
// transitions, persistence latency, inbox backpressure, and live instance
// counts.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DefaultRegistry is the Prometheus registry used when a caller does
	// not supply its own.
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer wraps DefaultRegistry with the service label so
	// every metric emitted by this package is attributable.
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "fsmregistry"}, DefaultRegistry)
)

// Metrics holds every Prometheus collector the registry and its
// collaborators update.
type Metrics struct {
	TransitionsTotal    *prometheus.CounterVec
	TransitionDuration  *prometheus.HistogramVec
	TransitionErrors    *prometheus.CounterVec

	InboxDepth      *prometheus.GaugeVec
	InboxOverloaded *prometheus.CounterVec

	PersistenceDuration *prometheus.HistogramVec
	PersistenceErrors   *prometheus.CounterVec

	RecorderErrors *prometheus.CounterVec

	LiveInstances prometheus.Gauge
	TimeoutsFired *prometheus.CounterVec

	customMu    sync.RWMutex
	customGauge map[string]*prometheus.GaugeVec
}

// New creates a Metrics collection registered against registerer. A nil
// registerer uses DefaultRegisterer.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}

	return &Metrics{
		TransitionsTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsmregistry_transitions_total",
				Help: "Total number of transitions applied, by machine type and event name.",
			},
			[]string{"machine_type", "event"},
		),
		TransitionDuration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fsmregistry_transition_duration_seconds",
				Help:    "Duration of a single transition cycle, from before-snapshot until the transition record is built; persistence is not included.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"machine_type"},
		),
		TransitionErrors: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsmregistry_transition_errors_total",
				Help: "Total number of transitions that failed, by error code.",
			},
			[]string{"machine_type", "code"},
		),
		InboxDepth: promauto.With(registerer).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fsmregistry_inbox_depth",
				Help: "Current number of queued events in a machine's inbox.",
			},
			[]string{"machine_type"},
		),
		InboxOverloaded: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsmregistry_inbox_overloaded_total",
				Help: "Total number of sends rejected because a machine's inbox was full.",
			},
			[]string{"machine_type"},
		),
		PersistenceDuration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fsmregistry_persistence_duration_seconds",
				Help:    "Duration of persistence operations.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation"},
		),
		PersistenceErrors: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsmregistry_persistence_errors_total",
				Help: "Total number of persistence operation failures.",
			},
			[]string{"operation"},
		),
		RecorderErrors: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsmregistry_recorder_errors_total",
				Help: "Total number of recorder failures, best-effort and non-fatal.",
			},
			[]string{"recorder"},
		),
		LiveInstances: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "fsmregistry_live_instances",
				Help: "Number of machine instances currently resident in memory.",
			},
		),
		TimeoutsFired: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsmregistry_timeouts_fired_total",
				Help: "Total number of armed timeouts that fired, by target state.",
			},
			[]string{"machine_type", "target_state"},
		),
		customGauge: make(map[string]*prometheus.GaugeVec),
	}
}

// RecordTransition records the outcome of one transition cycle.
func (m *Metrics) RecordTransition(machineType, event string, d time.Duration, errCode string) {
	m.TransitionsTotal.WithLabelValues(machineType, event).Inc()
	m.TransitionDuration.WithLabelValues(machineType).Observe(d.Seconds())
	if errCode != "" {
		m.TransitionErrors.WithLabelValues(machineType, errCode).Inc()
	}
}

// RecordPersistence records one persistence operation's latency and
// success/failure.
func (m *Metrics) RecordPersistence(operation string, d time.Duration, err error) {
	m.PersistenceDuration.WithLabelValues(operation).Observe(d.Seconds())
	if err != nil {
		m.PersistenceErrors.WithLabelValues(operation).Inc()
	}
}

// Gauge returns (creating on first use) a custom gauge vector for ad-hoc
// instrumentation that does not warrant a dedicated field above.
func (m *Metrics) Gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	m.customMu.RLock()
	if g, ok := m.customGauge[name]; ok {
		m.customMu.RUnlock()
		return g
	}
	m.customMu.RUnlock()

	m.customMu.Lock()
	defer m.customMu.Unlock()
	if g, ok := m.customGauge[name]; ok {
		return g
	}
	g := promauto.With(DefaultRegisterer).NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	m.customGauge[name] = g
	return g
}
