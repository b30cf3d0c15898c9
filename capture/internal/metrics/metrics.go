// Package metrics exposes capture counters on a private Prometheus registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "carousel"

// Metrics groups the capture pipeline's collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	ActiveSessions prometheus.Gauge
	Sessions       *prometheus.CounterVec
	Stages         *prometheus.HistogramVec
	Chunks         prometheus.Counter
	ArchiveBytes   prometheus.Histogram
	Deliveries     *prometheus.CounterVec
}

// New creates the collectors and registers them.
func New() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Capture sessions between prepare and their terminal result",
		}),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished capture sessions by outcome",
		}, []string{"outcome"}),
		Stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
		Chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Images produced across all archives",
		}),
		ArchiveBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "archive_bytes",
			Help:      "Size of produced archives",
			Buckets:   prometheus.ExponentialBuckets(64<<10, 2, 10),
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Archive deliveries by status",
		}, []string{"status"}),
	}
	r.MustRegister(m.ActiveSessions, m.Sessions, m.Stages, m.Chunks, m.ArchiveBytes, m.Deliveries)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// SessionStarted bumps the active gauge.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionFinished records the outcome (done, failed, cancelled).
func (m *Metrics) SessionFinished(outcome string) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.Sessions.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long a stage took since start.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.Stages.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// ArchiveBuilt records one archive.
func (m *Metrics) ArchiveBuilt(chunks, bytes int) {
	if m == nil {
		return
	}
	m.Chunks.Add(float64(chunks))
	m.ArchiveBytes.Observe(float64(bytes))
}

// Delivered records a delivery attempt outcome.
func (m *Metrics) Delivered(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Deliveries.WithLabelValues(status).Inc()
}
