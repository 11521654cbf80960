// Package metrics declares the Prometheus collectors shared by the realtime
// hub and the job pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Realtime metrics
	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "claimhub_live_connections",
			Help: "Currently registered realtime connections",
		},
	)

	RoomBroadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimhub_room_broadcasts_total",
			Help: "Broadcasts issued per room namespace",
		},
		[]string{"namespace"}, // "user" or "conversation"
	)

	FailedDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "claimhub_failed_deliveries_total",
			Help: "Per-member sends that failed during a broadcast",
		},
	)

	DroppedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimhub_dropped_events_total",
			Help: "Inbound events dropped by the router",
		},
		[]string{"event", "reason"},
	)

	// Job metrics
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimhub_jobs_enqueued_total",
			Help: "Jobs accepted by the queue",
		},
		[]string{"type"},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimhub_jobs_processed_total",
			Help: "Job executions by outcome",
		},
		[]string{"type", "outcome"}, // completed, retry, failed, unknown_type, claim_lost
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "claimhub_job_duration_seconds",
			Help:    "Handler execution time",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"type"},
	)
)
