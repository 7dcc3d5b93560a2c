// Package metrics exports method and mirror measurements.
//
// Recorder backs both core.MetricsRecorder (method calls) and mirror.Metrics
// (queue depth, apply latency, drops) with Prometheus collectors registered
// on the supplied registerer. Expvar is the counterpart for deployments
// without a scraper.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"plcserver/internal/core"
	"plcserver/internal/mirror"
)

const namespace = "plcserver"

// Recorder holds the Prometheus collectors.
type Recorder struct {
	// MethodCalls counts calls by method and status name.
	MethodCalls *prometheus.CounterVec
	// MethodDuration measures handler latency by method.
	MethodDuration *prometheus.HistogramVec
	// MirrorQueueDepth is the number of queued mirror tasks.
	MirrorQueueDepth prometheus.Gauge
	// MirrorApplied counts applied tasks by result.
	MirrorApplied *prometheus.CounterVec
	// MirrorLatency measures enqueue-to-apply latency.
	MirrorLatency prometheus.Histogram
	// MirrorDropped counts tasks rejected by a full queue.
	MirrorDropped prometheus.Counter
}

// New registers the collectors on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		MethodCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "method",
			Name:      "calls_total",
			Help:      "Method calls by method and result status",
		}, []string{"method", "status"}),
		MethodDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "method",
			Name:      "duration_seconds",
			Help:      "Method handler duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~1.6s
		}, []string{"method"}),
		MirrorQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "queue_depth",
			Help:      "Mirror tasks waiting to be applied",
		}),
		MirrorApplied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "tasks_total",
			Help:      "Mirror tasks processed by result",
		}, []string{"result"}),
		MirrorLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "apply_latency_seconds",
			Help:      "Time from enqueue to apply of a mirror task",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 16),
		}),
		MirrorDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "dropped_total",
			Help:      "Mirror tasks dropped because the queue was full",
		}),
	}
}

// Observe implements core.MetricsRecorder.
func (r *Recorder) Observe(_ context.Context, operation, status string, duration time.Duration) {
	r.MethodCalls.WithLabelValues(operation, status).Inc()
	r.MethodDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// QueueDepth implements mirror.Metrics.
func (r *Recorder) QueueDepth(depth int) { r.MirrorQueueDepth.Set(float64(depth)) }

// Applied implements mirror.Metrics.
func (r *Recorder) Applied(result string, latency time.Duration) {
	r.MirrorApplied.WithLabelValues(result).Inc()
	r.MirrorLatency.Observe(latency.Seconds())
}

// Dropped implements mirror.Metrics.
func (r *Recorder) Dropped() { r.MirrorDropped.Inc() }

var (
	_ core.MetricsRecorder = (*Recorder)(nil)
	_ mirror.Metrics       = (*Recorder)(nil)
)
