// Package metrics exposes the Prometheus instrumentation for the email
// pipeline. Collectors self-register via promauto; the /metrics endpoint is
// mounted by the api package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EmailsQueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportbrief_emails_queued_total",
			Help: "Email jobs inserted into the queue, by kind",
		},
		[]string{"kind"},
	)

	EmailsOptedOut = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportbrief_emails_opted_out_total",
			Help: "Enqueue attempts skipped because the user opted out, by kind",
		},
		[]string{"kind"},
	)

	EmailsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reportbrief_emails_sent_total",
			Help: "Queued emails delivered successfully",
		},
	)

	EmailsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reportbrief_emails_failed_total",
			Help: "Queued emails that failed render or delivery",
		},
	)

	QueueProcessDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reportbrief_queue_process_duration_seconds",
			Help:    "Wall time of one queue processor batch",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60},
		},
	)
)
