package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ClaimTransitions counts lifecycle operations by operation and outcome
	// (the error code, or "ok").
	ClaimTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waster_claim_transitions_total",
		Help: "Total number of claim lifecycle operations by result",
	}, []string{"op", "result"})

	// ClaimConflicts counts operations that lost a race or violated a store
	// constraint.
	ClaimConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waster_claim_conflicts_total",
		Help: "Total number of claim operations rejected by concurrency checks",
	}, []string{"op", "reason"})

	// ClaimOperationLatency records lifecycle operation latency.
	ClaimOperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "waster_claim_operation_seconds",
		Help:    "Claim lifecycle operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// EventsPublished counts claim events handed to a sink.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waster_events_published_total",
		Help: "Total number of claim events delivered to a sink",
	}, []string{"sink"})

	// EventsDropped counts claim events that never reached a sink.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waster_events_dropped_total",
		Help: "Total number of claim events dropped",
	}, []string{"sink", "reason"})

	// StatsDrift counts dashboard counters found out of sync with the
	// entity store by the audit job.
	StatsDrift = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waster_stats_drift_total",
		Help: "Total number of dashboard counters found drifted during audits",
	}, []string{"counter"})

	// CacheErrors counts Redis cache failures by operation.
	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waster_cache_errors_total",
		Help: "Total number of Redis cache errors by operation",
	}, []string{"operation"})
)

// TrackClaimOperation returns a function recording the latency and result
// of a lifecycle operation; call it with the operation's error.
func TrackClaimOperation(op string) func(code string) {
	start := time.Now()
	return func(code string) {
		ClaimOperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if code == "" {
			code = "ok"
		}
		ClaimTransitions.WithLabelValues(op, code).Inc()
	}
}
