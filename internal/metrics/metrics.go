// Package metrics holds the Prometheus instruments for the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telvault_sync_runs_total",
		Help: "Completed sync runs by outcome.",
	}, []string{"outcome"})

	MessagesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telvault_messages_ingested_total",
		Help: "Messages committed to the archive.",
	})

	AttachmentsDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telvault_attachments_downloaded_total",
		Help: "Attachment files fetched from the source.",
	})

	ChatsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telvault_chats_skipped_total",
		Help: "Conversations skipped during a run, by reason.",
	}, []string{"reason"})

	RateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telvault_rate_limit_waits_total",
		Help: "Rate-limit pauses honored during sync.",
	})

	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "telvault_sync_duration_seconds",
		Help:    "Wall time of full sync runs.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})

	DBPoolOpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "telvault_db_pool_open_connections",
		Help: "Open connections in the database pool.",
	})
)
