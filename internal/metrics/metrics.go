// Package metrics exposes Prometheus instrumentation for the audio core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the audio core.
type Metrics struct {
	// Capture metrics
	CapturesStarted   *prometheus.CounterVec
	CapturesCompleted *prometheus.CounterVec
	CapturesCancelled *prometheus.CounterVec
	CapturesFailed    *prometheus.CounterVec
	CaptureDuration   prometheus.Histogram
	ActiveSessions    prometheus.Gauge
	EncodeFallbacks   prometheus.Counter

	// Playback metrics
	LoadsStarted        prometheus.Counter
	StaleEventsDropped  prometheus.Counter
	PlaybackErrors      prometheus.Counter
	PlaybackLoopRestart prometheus.Counter
}

// New creates and registers all metrics on the given registry. A nil
// registry uses the default one.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		CapturesStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebox_captures_started_total",
			Help: "Total number of capture sessions started",
		}, []string{"backend"}),
		CapturesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebox_captures_completed_total",
			Help: "Total number of capture sessions that delivered a clip",
		}, []string{"backend"}),
		CapturesCancelled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebox_captures_cancelled_total",
			Help: "Total number of capture sessions cancelled by the user",
		}, []string{"backend"}),
		CapturesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebox_captures_failed_total",
			Help: "Total number of capture sessions ending in error",
		}, []string{"backend"}),
		CaptureDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicebox_capture_duration_seconds",
			Help:    "Wall-clock duration of completed captures",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicebox_active_capture_sessions",
			Help: "Number of capture sessions currently holding a device",
		}),
		EncodeFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebox_encode_fallbacks_total",
			Help: "Total number of clips delivered with raw bytes after a failed canonicalization",
		}),
		LoadsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebox_playback_loads_total",
			Help: "Total number of playback source assignments",
		}),
		StaleEventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebox_playback_stale_events_total",
			Help: "Total number of surface events discarded for a superseded load generation",
		}),
		PlaybackErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebox_playback_errors_total",
			Help: "Total number of playback errors",
		}),
		PlaybackLoopRestart: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicebox_playback_loop_restarts_total",
			Help: "Total number of loop-mode restarts at end of media",
		}),
	}
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
