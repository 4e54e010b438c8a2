// Package metrics holds the Prometheus collectors of the stream session and
// the HTTP health server that exposes them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	TargetPrimary  = "primary"
	TargetFallback = "fallback"
)

var (
	// connectAttempts counts engine opens by target address.
	connectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_session_connect_attempts_total",
		Help: "Total number of connect attempts by target (primary or fallback)",
	}, []string{"target"})

	fallbackSwitches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stream_session_fallback_switches_total",
		Help: "Total number of switches from the primary to the fallback address",
	})

	exhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stream_session_exhausted_total",
		Help: "Total number of sessions that exhausted retries and fallback",
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_session_errors_total",
		Help: "Total number of errors by category",
	}, []string{"category"})

	// recordings counts finished recordings by outcome (stopped, ended, failed).
	recordings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_session_recordings_total",
		Help: "Total number of recordings by outcome",
	}, []string{"outcome"})

	surfaceBindings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stream_session_surface_bindings_total",
		Help: "Total number of display surface bindings",
	})

	// state mirrors the reconnect state ordinal of the most recently updated session.
	state = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stream_session_state",
		Help: "Current session state (0=idle 1=connecting 2=playing 3=retrying 4=fallback_switch 5=exhausted)",
	})
)

// RecordConnectAttempt counts one engine open.
func RecordConnectAttempt(onFallback bool) {
	target := TargetPrimary
	if onFallback {
		target = TargetFallback
	}
	connectAttempts.WithLabelValues(target).Inc()
}

// RecordFallbackSwitch counts a primary to fallback switch.
func RecordFallbackSwitch() {
	fallbackSwitches.Inc()
}

// RecordExhausted counts a terminal exhaustion.
func RecordExhausted() {
	exhausted.Inc()
}

// RecordError counts an error by category.
func RecordError(category string) {
	errorsTotal.WithLabelValues(category).Inc()
}

// RecordRecording counts a finished recording.
func RecordRecording(outcome string) {
	recordings.WithLabelValues(outcome).Inc()
}

// RecordSurfaceBinding counts a surface attach.
func RecordSurfaceBinding() {
	surfaceBindings.Inc()
}

// SetState publishes the session state ordinal.
func SetState(ordinal int) {
	state.Set(float64(ordinal))
}
