// Package metrics exposes prometheus counters for transcript reconciliation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "transcriptx"

// Recorder holds the service collectors. The zero value is not usable; a nil
// *Recorder discards every observation.
type Recorder struct {
	events         *prometheus.CounterVec
	drops          *prometheus.CounterVec
	orphans        prometheus.Counter
	cancellations  prometheus.Counter
	activeSessions prometheus.Gauge
	refreshDropped prometheus.Counter
	snapshotsSaved *prometheus.CounterVec
	decodeFailures prometheus.Counter
	ingestedChars  prometheus.Counter
}

// New registers the collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Recorder{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Stream events processed, by message type and outcome.",
		}, []string{"kind", "outcome"}),
		drops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "dropped_total",
			Help:      "Stream events dropped, by reason.",
		}, []string{"reason"}),
		orphans: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "orphan_tool_returns_total",
			Help:      "Tool returns that matched no known tool call.",
		}),
		cancellations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "cancellations_total",
			Help:      "User interrupts applied to sessions.",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of open sessions.",
		}),
		refreshDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "refresh_dropped_total",
			Help:      "Refresh notifications dropped on full subscriber channels.",
		}),
		snapshotsSaved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persist",
			Name:      "snapshots_total",
			Help:      "Snapshot save attempts, by status.",
		}, []string{"status"}),
		decodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wire",
			Name:      "decode_failures_total",
			Help:      "JSONL lines that failed to decode.",
		}),
		ingestedChars: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "chars_total",
			Help:      "Characters appended from text deltas and tool arguments.",
		}),
	}
}

// Event counts one processed stream event.
func (r *Recorder) Event(kind, outcome string) {
	if r == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	r.events.WithLabelValues(kind, outcome).Inc()
}

// Dropped counts one dropped stream event.
func (r *Recorder) Dropped(reason string) {
	if r == nil {
		return
	}
	r.drops.WithLabelValues(reason).Inc()
}

// Orphans counts tool returns with no matching call.
func (r *Recorder) Orphans(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.orphans.Add(float64(n))
}

// Cancelled counts one user interrupt.
func (r *Recorder) Cancelled() {
	if r == nil {
		return
	}
	r.cancellations.Inc()
}

// SessionOpened increments the active session gauge.
func (r *Recorder) SessionOpened() {
	if r == nil {
		return
	}
	r.activeSessions.Inc()
}

// SessionClosed decrements the active session gauge.
func (r *Recorder) SessionClosed() {
	if r == nil {
		return
	}
	r.activeSessions.Dec()
}

// RefreshDropped counts undelivered refresh notifications.
func (r *Recorder) RefreshDropped(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.refreshDropped.Add(float64(count))
}

// SnapshotSaved counts a snapshot save attempt.
func (r *Recorder) SnapshotSaved(err error) {
	if r == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.snapshotsSaved.WithLabelValues(status).Inc()
}

// DecodeFailed counts one undecodable JSONL line.
func (r *Recorder) DecodeFailed() {
	if r == nil {
		return
	}
	r.decodeFailures.Inc()
}

// Chars adds to the ingested character counter.
func (r *Recorder) Chars(n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.ingestedChars.Add(float64(n))
}
