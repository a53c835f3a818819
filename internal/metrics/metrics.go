// Package metrics exposes Prometheus collectors for inference and history.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	inferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cutout",
			Name:      "inference_duration_seconds",
			Help:      "Wall time of one model invocation.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"model"},
	)

	sessionLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cutout",
			Name:      "session_loads_total",
			Help:      "Model session load attempts by provider and outcome.",
		},
		[]string{"model", "provider", "outcome"},
	)

	historyDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cutout",
		Name:      "history_depth",
		Help:      "Snapshots currently held by the undo stack.",
	})

	thresholdDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cutout",
		Name:      "threshold_dropped_total",
		Help:      "Background-removal threshold updates dropped while another was in flight.",
	})
)

func init() {
	registry.MustRegister(inferenceDuration, sessionLoads, historyDepth, thresholdDropped)
}

// ObserveInference records how long a model call took.
func ObserveInference(model string, start time.Time) {
	inferenceDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())
}

// SessionLoad counts one load attempt.
func SessionLoad(model, provider string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	sessionLoads.WithLabelValues(model, provider, outcome).Inc()
}

// SetHistoryDepth publishes the current undo stack length.
func SetHistoryDepth(n int) {
	historyDepth.Set(float64(n))
}

// ThresholdDropped counts a dropped threshold application.
func ThresholdDropped() {
	thresholdDropped.Inc()
}

// Handler serves the collectors in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry.
func Gatherer() prometheus.Gatherer {
	return registry
}
