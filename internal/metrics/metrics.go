// Package metrics tracks render and artifact counters for the preview core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livepdf"

// Render outcomes used as the "outcome" label.
const (
	OutcomeSurfaced  = "surfaced"
	OutcomeDiscarded = "discarded"
	OutcomeFailed    = "failed"
)

// Recorder holds the collectors of one preview core instance.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	requests         *prometheus.CounterVec
	coalesced        prometheus.Counter
	started          prometheus.Counter
	completed        *prometheus.CounterVec
	renderDuration   prometheus.Histogram
	inFlight         prometheus.Gauge
	artifactsTracked prometheus.Gauge
	artifactsKept    prometheus.Gauge
	deleted          prometheus.Counter
	deletedBytes     prometheus.Counter
	deleteErrors     prometheus.Counter
	scrollMappings   prometheus.Counter
}

// New creates a recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_requests_total",
			Help:      "Render requests accepted, by kind.",
		}, []string{"kind"}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_coalesced_total",
			Help:      "Debounce firings folded into a pending trailing render.",
		}),
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_started_total",
			Help:      "External renderer invocations.",
		}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_completed_total",
			Help:      "Finished renders, by outcome.",
		}, []string{"outcome"}),
		renderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Wall time of external renderer invocations.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "render_in_flight",
			Help:      "Renders currently executing across all documents.",
		}),
		artifactsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "artifacts_tracked",
			Help:      "Artifacts currently tracked on disk.",
		}),
		artifactsKept: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "artifacts_retained_after_sweep",
			Help:      "Inactive artifacts left after the last sweep.",
		}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_deleted_total",
			Help:      "Artifacts removed from disk.",
		}),
		deletedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_deleted_bytes_total",
			Help:      "Bytes reclaimed by artifact removal.",
		}),
		deleteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_delete_errors_total",
			Help:      "Artifact removals that failed and were skipped.",
		}),
		scrollMappings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scroll_targets_total",
			Help:      "Scroll targets computed.",
		}),
	}

	r.registry.MustRegister(
		r.requests, r.coalesced, r.started, r.completed, r.renderDuration,
		r.inFlight, r.artifactsTracked, r.artifactsKept, r.deleted,
		r.deletedBytes, r.deleteErrors, r.scrollMappings,
	)
	return r
}

// Registry returns the registry backing this recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the recorder's metrics in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordRequest counts an accepted render request.
func (r *Recorder) RecordRequest(kind string) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(kind).Inc()
}

// RecordCoalesced counts a debounce firing that became a pending-next render.
func (r *Recorder) RecordCoalesced() {
	if r == nil {
		return
	}
	r.coalesced.Inc()
}

// RenderStarted counts a renderer invocation and raises the in-flight gauge.
func (r *Recorder) RenderStarted() {
	if r == nil {
		return
	}
	r.started.Inc()
	r.inFlight.Inc()
}

// RenderFinished records the outcome and duration of a renderer invocation.
func (r *Recorder) RenderFinished(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.inFlight.Dec()
	r.completed.WithLabelValues(outcome).Inc()
	r.renderDuration.Observe(d.Seconds())
}

// SetArtifacts records the number of tracked artifacts and those kept inactive.
func (r *Recorder) SetArtifacts(tracked, inactive int) {
	if r == nil {
		return
	}
	r.artifactsTracked.Set(float64(tracked))
	r.artifactsKept.Set(float64(inactive))
}

// ArtifactDeleted records a successful artifact removal.
func (r *Recorder) ArtifactDeleted(size int64) {
	if r == nil {
		return
	}
	r.deleted.Inc()
	if size > 0 {
		r.deletedBytes.Add(float64(size))
	}
}

// ArtifactDeleteFailed records a skipped removal.
func (r *Recorder) ArtifactDeleteFailed() {
	if r == nil {
		return
	}
	r.deleteErrors.Inc()
}

// ScrollTarget counts a computed scroll target.
func (r *Recorder) ScrollTarget() {
	if r == nil {
		return
	}
	r.scrollMappings.Inc()
}
