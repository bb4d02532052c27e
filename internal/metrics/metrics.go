// Package metrics exposes Prometheus collectors for the ingestion path, the
// spool and the drain sequence.
//
// All methods are safe on a nil *Metrics so components can treat metrics as
// optional.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "eventtracker"

// Spool file results.
const (
	FileCommitted   = "committed"
	FileSent        = "sent"
	FileQuarantined = "quarantined"
	FilePromoted    = "promoted"
)

// Metrics holds the tracker's collectors.
type Metrics struct {
	eventsAccepted prometheus.Counter
	eventsRejected *prometheus.CounterVec
	spoolFiles     *prometheus.CounterVec
	drainStages    *prometheus.CounterVec
	drainDuration  *prometheus.HistogramVec
	draining       prometheus.Gauge
}

// New creates the collectors and registers them with reg.
// Registration errors panic, mirroring promauto.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_accepted_total",
			Help:      "Events written to the spool.",
		}),
		eventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_rejected_total",
			Help:      "Events refused by the ingestion path, by reason.",
		}, []string{"reason"}),
		spoolFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "spool",
			Name:      "files_total",
			Help:      "Spool file transitions, by result.",
		}, []string{"result"}),
		drainStages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "drain",
			Name:      "stage_outcomes_total",
			Help:      "Drain stage outcomes, by stage and status.",
		}, []string{"stage", "status"}),
		drainDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "drain",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each drain stage.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30},
		}, []string{"stage"}),
		draining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "drain",
			Name:      "in_progress",
			Help:      "1 while the drain sequence is running.",
		}),
	}
	reg.MustRegister(m.eventsAccepted, m.eventsRejected, m.spoolFiles, m.drainStages, m.drainDuration, m.draining)
	return m
}

// EventAccepted counts one event written to the spool.
func (m *Metrics) EventAccepted() {
	if m == nil {
		return
	}
	m.eventsAccepted.Inc()
}

// EventRejected counts one refused event.
func (m *Metrics) EventRejected(reason string) {
	if m == nil {
		return
	}
	m.eventsRejected.WithLabelValues(reason).Inc()
}

// SpoolFile counts a spool file transition (see File* constants).
func (m *Metrics) SpoolFile(result string) {
	if m == nil {
		return
	}
	m.spoolFiles.WithLabelValues(result).Inc()
}

// DrainStage records the outcome and duration of one drain stage.
func (m *Metrics) DrainStage(stage, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.drainStages.WithLabelValues(stage, status).Inc()
	m.drainDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// SetDraining flips the in-progress gauge.
func (m *Metrics) SetDraining(on bool) {
	if m == nil {
		return
	}
	if on {
		m.draining.Set(1)
	} else {
		m.draining.Set(0)
	}
}
