// Package metrics holds the Prometheus collectors for the face-matching pipeline.
// Collectors register with the default registry and are served by promhttp on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "facepay"

// Frame drop reasons.
const (
	DropDisabled  = "disabled"
	DropInFlight  = "in_flight"
	DropQueueFull = "queue_full"
	DropDecode    = "decode_error"
)

// Match outcomes.
const (
	OutcomeMatched = "matched"
	OutcomeNoMatch = "no_match"
	OutcomeError   = "error"
)

// ─── Stream ─────────────────────────────────────────────────────────────────

var ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "stream",
	Name:      "active_sessions",
	Help:      "Number of open streaming sessions.",
})

var FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "stream",
	Name:      "frames_received_total",
	Help:      "Total video frames received from clients.",
})

var FramesAccepted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "stream",
	Name:      "frames_accepted_total",
	Help:      "Total frames forwarded to the inference scheduler.",
})

var FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "stream",
	Name:      "frames_dropped_total",
	Help:      "Total frames dropped before inference, by reason.",
}, []string{"reason"})

var OutboundDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "stream",
	Name:      "outbound_dropped_total",
	Help:      "Total outbound messages dropped because a client was not reading.",
})

// ─── Inference ──────────────────────────────────────────────────────────────

var InferenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "inference",
	Name:      "duration_seconds",
	Help:      "Detection plus embedding time per frame.",
	Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
})

var InferenceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "inference",
	Name:      "errors_total",
	Help:      "Total failed inferences, by stage.",
}, []string{"stage"})

var InferenceQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "inference",
	Name:      "queue_depth",
	Help:      "Current number of frames waiting for a worker.",
})

var InferenceBusyWorkers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "inference",
	Name:      "busy_workers",
	Help:      "Current number of workers running an inference.",
})

// ─── Matching ───────────────────────────────────────────────────────────────

var Matches = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "matcher",
	Name:      "lookups_total",
	Help:      "Total matcher lookups, by outcome.",
}, []string{"outcome"})

var EnrolledIdentities = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "matcher",
	Name:      "enrolled_identities",
	Help:      "Number of identities currently held in the embedding cache.",
})

var NotifyFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "notify",
	Name:      "failures_total",
	Help:      "Total match notifications that failed to reach the payment boundary.",
})
