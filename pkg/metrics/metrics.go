// Package metrics provides Prometheus metrics for the Fern service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubmissionsTotal tracks form submissions by outcome
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "submissions",
			Name:      "total",
			Help:      "Total number of form submissions by status",
		},
		[]string{"form_id", "status"},
	)

	// SubmissionDuration tracks end-to-end submission processing time
	SubmissionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "submissions",
			Name:      "duration_seconds",
			Help:      "Duration of submission processing in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"form_id"},
	)

	// TokenRefreshesTotal tracks credential refresh operations
	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "credentials",
			Name:      "token_refreshes_total",
			Help:      "Total number of token refresh operations by status",
		},
		[]string{"status"},
	)

	// SubscriptionRenewalsTotal tracks webhook subscription renewals
	SubscriptionRenewalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "subscriptions",
			Name:      "renewals_total",
			Help:      "Total number of subscription renewal attempts by status",
		},
		[]string{"status"},
	)

	// SubscriptionsRetired tracks subscriptions retired after repeated failures
	SubscriptionsRetired = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "subscriptions",
			Name:      "retired_total",
			Help:      "Total number of subscriptions retired after repeated renewal failures",
		},
	)

	// SweepRuns tracks renewal sweep runs
	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "subscriptions",
			Name:      "sweep_runs_total",
			Help:      "Total number of renewal sweep runs by status",
		},
		[]string{"status"},
	)

	// NotificationsTotal tracks inbound webhook notifications
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "notifications",
			Name:      "total",
			Help:      "Total number of inbound webhook notifications by outcome",
		},
		[]string{"outcome"},
	)

	// NotificationRecordsTotal tracks per-record change processing
	NotificationRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "notifications",
			Name:      "records_total",
			Help:      "Total number of record changes processed by kind",
		},
		[]string{"kind", "status"},
	)

	// HTTPRequestsTotal tracks outbound HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound HTTP requests",
		},
		[]string{"method", "status_code"},
	)

	// HTTPRequestDuration tracks outbound HTTP request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound HTTP requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)

	// DatabaseQueryDuration tracks database query duration
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)
)

// RecordSubmission records a submission outcome metric
func RecordSubmission(formID, status string, durationSeconds float64) {
	SubmissionsTotal.WithLabelValues(formID, status).Inc()
	SubmissionDuration.WithLabelValues(formID).Observe(durationSeconds)
}

// RecordTokenRefresh records a credential refresh attempt
func RecordTokenRefresh(status string) {
	TokenRefreshesTotal.WithLabelValues(status).Inc()
}

// RecordRenewal records a subscription renewal attempt
func RecordRenewal(status string) {
	SubscriptionRenewalsTotal.WithLabelValues(status).Inc()
}

// RecordNotification records an inbound notification outcome
func RecordNotification(outcome string) {
	NotificationsTotal.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest records an outbound HTTP request metric
func RecordHTTPRequest(method, statusCode string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}
