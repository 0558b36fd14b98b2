// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Reviews = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cocred",
		Name:      "reviews_total",
		Help:      "Review actions by record kind and target status.",
	}, []string{"kind", "status"})

	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cocred",
		Name:      "uploads_total",
		Help:      "File uploads by outcome.",
	}, []string{"outcome"})

	ExportedFiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cocred",
		Name:      "export_files_total",
		Help:      "Files considered by bulk export by folder and outcome (included, failed, capped).",
	}, []string{"folder", "outcome"})

	ExportDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cocred",
		Name:      "export_duration_seconds",
		Help:      "Time to build a bulk export archive.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	LogoutBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cocred",
		Name:      "logout_broadcasts_total",
		Help:      "Sign-out broadcasts published to other clients.",
	})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cocred",
		Name:      "notifications_total",
		Help:      "Notifications created by the worker by outcome.",
	}, []string{"outcome"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cocred",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the per-client rate limiter.",
	})
)
