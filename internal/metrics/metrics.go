package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphsync_events_received_total",
		Help: "Total webhook deliveries received, labelled by provider.",
	}, []string{"provider"})

	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphsync_events_rejected_total",
		Help: "Total deliveries rejected at the boundary, labelled by provider and reason.",
	}, []string{"provider", "reason"})

	EventsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphsync_events_enqueued_total",
		Help: "Total events accepted onto a processing lane, labelled by provider.",
	}, []string{"provider"})

	EventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphsync_events_applied_total",
		Help: "Total events applied to the graph, labelled by provider and outcome.",
	}, []string{"provider", "outcome"})

	EventsDuplicate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphsync_events_duplicate_total",
		Help: "Total events acknowledged as idempotent no-ops, labelled by provider.",
	}, []string{"provider"})

	ApplyRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphsync_apply_retries_total",
		Help: "Total transient-failure retries, labelled by provider.",
	}, []string{"provider"})

	ApplyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "graphsync_apply_duration_ms",
		Help:    "Graph apply latency per event in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "graphsync_queue_utilization_ratio",
		Help: "Current utilization of the fullest processing lane (0–1).",
	})
)
