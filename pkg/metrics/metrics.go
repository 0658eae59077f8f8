package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Common metrics for all services
var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	// Gateway metrics
	GatewayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_gateway_requests_total",
			Help: "Total number of payment gateway calls",
		},
		[]string{"operation", "outcome"},
	)

	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_gateway_request_duration_seconds",
			Help:    "Payment gateway call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)

	// Billing metrics
	SubscriptionOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_subscription_operations_total",
			Help: "Total number of subscription lifecycle operations",
		},
		[]string{"operation", "status"},
	)

	ChargesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_charges_total",
			Help: "Total number of one-off charges",
		},
		[]string{"status"},
	)

	ChargedAmountTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_charged_amount_minor_total",
			Help: "Sum of successfully charged amounts in minor units",
		},
		[]string{"currency"},
	)

	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhook_events_total",
			Help: "Total number of gateway webhook events received",
		},
		[]string{"type", "status"},
	)

	// Reconciler metrics
	ReconcilerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_reconciler_runs_total",
			Help: "Total number of reconciler sweeps",
		},
		[]string{"status"},
	)

	ReconcilerSubjectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_reconciler_subjects_total",
			Help: "Subjects touched by the reconciler",
		},
		[]string{"action"},
	)
)

func RecordHTTPRequest(service, method, path, status string) {
	HTTPRequestsTotal.WithLabelValues(service, method, path, status).Inc()
}

func RecordHTTPDuration(service, method, path string, duration float64) {
	HTTPRequestDuration.WithLabelValues(service, method, path).Observe(duration)
}

func RecordGatewayRequest(operation, outcome string, duration float64) {
	GatewayRequestsTotal.WithLabelValues(operation, outcome).Inc()
	GatewayRequestDuration.WithLabelValues(operation).Observe(duration)
}

func RecordSubscriptionOperation(operation, status string) {
	SubscriptionOperationsTotal.WithLabelValues(operation, status).Inc()
}

func RecordCharge(status, currency string, amount int64) {
	ChargesTotal.WithLabelValues(status).Inc()
	if status == "paid" {
		ChargedAmountTotal.WithLabelValues(currency).Add(float64(amount))
	}
}

func RecordWebhookEvent(eventType, status string) {
	WebhookEventsTotal.WithLabelValues(eventType, status).Inc()
}

func RecordReconcilerRun(status string) {
	ReconcilerRunsTotal.WithLabelValues(status).Inc()
}

func RecordReconciledSubjects(action string, n int) {
	ReconcilerSubjectsTotal.WithLabelValues(action).Add(float64(n))
}
