// SPDX-License-Identifier: MIT

// Package metrics exposes dispatcher, session and analysis telemetry as
// Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "beatlight"

var (
	// commandsSentTotal counts commands delivered to the bridge per lane.
	commandsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_sent_total",
			Help:      "Total number of commands delivered to the bridge",
		},
		[]string{"lane"},
	)

	// commandErrorsTotal counts failed deliveries per lane and error kind.
	commandErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_errors_total",
			Help:      "Total number of failed command deliveries",
		},
		[]string{"lane", "kind"},
	)

	// dispatchDuration is the time spent in one transport send.
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of one transport send in seconds",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"lane"},
	)

	// queueDepth is the number of commands waiting per lane.
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Commands waiting to be dispatched",
		},
		[]string{"lane"},
	)

	// emergencyClearsTotal counts queue clears per lane and trigger.
	emergencyClearsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emergency_clears_total",
			Help:      "Total number of command queue clears",
		},
		[]string{"lane", "reason"}, // reason: overflow, rate_limited, manual
	)

	// sessionTransitionsTotal counts session state changes.
	sessionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Total number of session state transitions",
		},
		[]string{"from", "to"},
	)

	// streaming is 1 while frames go over the streaming session.
	streaming = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streaming",
			Help:      "1 while the streaming session is active, 0 otherwise",
		},
	)

	// beatsTotal counts detected beats.
	beatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "beats_total",
			Help:      "Total number of detected beats",
		},
	)

	// tickDuration is the time spent computing one color.
	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of one analysis tick in seconds",
			Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01},
		},
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		commandsSentTotal,
		commandErrorsTotal,
		dispatchDuration,
		queueDepth,
		emergencyClearsTotal,
		sessionTransitionsTotal,
		streaming,
		beatsTotal,
		tickDuration,
	}
)

// RecordSend records one successful delivery.
func RecordSend(lane string, durationSeconds float64) {
	commandsSentTotal.WithLabelValues(lane).Inc()
	dispatchDuration.WithLabelValues(lane).Observe(durationSeconds)
}

// RecordSendError records one failed delivery.
func RecordSendError(lane, kind string, durationSeconds float64) {
	commandErrorsTotal.WithLabelValues(lane, kind).Inc()
	dispatchDuration.WithLabelValues(lane).Observe(durationSeconds)
}

// SetQueueDepth records the current depth of a lane.
func SetQueueDepth(lane string, depth int) {
	queueDepth.WithLabelValues(lane).Set(float64(depth))
}

// RecordEmergencyClear records a queue clear.
func RecordEmergencyClear(lane, reason string) {
	emergencyClearsTotal.WithLabelValues(lane, reason).Inc()
}

// RecordTransition records a session state change.
func RecordTransition(from, to string, isStreaming bool) {
	sessionTransitionsTotal.WithLabelValues(from, to).Inc()
	if isStreaming {
		streaming.Set(1)
	} else {
		streaming.Set(0)
	}
}

// RecordBeat records a detected beat.
func RecordBeat() {
	beatsTotal.Inc()
}

// RecordTick records the duration of one analysis tick.
func RecordTick(durationSeconds float64) {
	tickDuration.Observe(durationSeconds)
}
