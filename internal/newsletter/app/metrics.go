package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsStartedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsletter",
			Name:      "runs_started_total",
			Help:      "Total number of delivery runs started.",
		},
		[]string{"trigger"}, // scheduled, manual, api
	)

	runsFinalizedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsletter",
			Name:      "runs_finalized_total",
			Help:      "Total number of delivery runs reaching a terminal state.",
		},
		[]string{"status"}, // success, failed
	)

	runDurationHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "newsletter",
			Name:      "run_duration_seconds",
			Help:      "Duration of delivery runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	leaseConflictCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "newsletter",
			Name:      "lease_conflicts_total",
			Help:      "Total number of run attempts rejected because a run was already in progress.",
		},
	)

	recipientSendCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsletter",
			Name:      "recipient_sends_total",
			Help:      "Total number of per-recipient send outcomes.",
		},
		[]string{"result"}, // delivered, failed
	)

	recipientRetryCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "newsletter",
			Name:      "recipient_send_retries_total",
			Help:      "Total number of per-recipient send retries.",
		},
	)

	staleRunsSweptCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "newsletter",
			Name:      "stale_runs_swept_total",
			Help:      "Total number of orphaned running runs finalized as failed by the recovery sweep.",
		},
	)
)
