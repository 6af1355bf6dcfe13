package metrics

import (
	"regexp"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var uuidRegex = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
		[]string{"method"},
	)

	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path", "status"},
	)

	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jovie_billing_webhook_events_total",
			Help: "Inbound billing webhook events by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	BillingWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jovie_billing_writes_total",
			Help: "Billing state write attempts by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	PaymentFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jovie_billing_payment_failures_total",
			Help: "invoice.payment_failed events observed",
		},
	)

	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jovie_billing_provider_calls_total",
			Help: "Stripe API calls by operation and status",
		},
		[]string{"operation", "status"},
	)

	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jovie_billing_provider_call_duration_seconds",
			Help:    "Stripe API call duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	ReconcileChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jovie_billing_reconcile_checks_total",
			Help: "Per-user reconciliation checks by outcome",
		},
		[]string{"outcome"},
	)

	ReconcileFixesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jovie_billing_reconcile_fixes_total",
			Help: "Status-mismatch fixes by direction and status",
		},
		[]string{"direction", "status"},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jovie_billing_sweep_duration_seconds",
			Help:    "Reconciliation sweep duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	SweepLastRun = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jovie_billing_sweep_last_run_timestamp_seconds",
			Help: "Unix timestamp of the last completed reconciliation sweep",
		},
	)

	CacheInvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jovie_billing_cache_invalidations_total",
			Help: "Entitlement cache invalidations by target and status",
		},
		[]string{"target", "status"},
	)

	CriticalErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jovie_billing_critical_errors_total",
			Help: "Errors requiring investigation, by component",
		},
		[]string{"component"},
	)

	ArchiveExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jovie_billing_archive_exports_total",
			Help: "Audit archive exports by status",
		},
		[]string{"status"},
	)

	JobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"type"},
	)

	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Total number of jobs processed",
		},
		[]string{"type", "status"},
	)

	JobsProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobs_processing_duration_seconds",
			Help:    "Duration of job processing in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"type", "stage"},
	)

	WorkerPoolActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_pool_active_jobs",
			Help: "Number of jobs currently being processed by workers",
		},
	)

	WorkerPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_pool_size",
			Help: "Size of the worker pool",
		},
	)

	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application information",
		},
		[]string{"version", "environment", "service"},
	)

	AppUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_up",
			Help: "Application is up and running",
		},
	)
)

func NormalizePath(path string) string {
	return uuidRegex.ReplaceAllString(path, ":id")
}

func RecordWebhookEvent(eventType, outcome string) {
	WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

func RecordBillingWrite(source, outcome string) {
	BillingWritesTotal.WithLabelValues(source, outcome).Inc()
}

func RecordPaymentFailure() {
	PaymentFailuresTotal.Inc()
}

func ObserveProviderCall(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ProviderCallsTotal.WithLabelValues(operation, status).Inc()
	ProviderCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func RecordReconcileCheck(outcome string) {
	ReconcileChecksTotal.WithLabelValues(outcome).Inc()
}

func RecordReconcileFix(direction, status string) {
	ReconcileFixesTotal.WithLabelValues(direction, status).Inc()
}

func ObserveSweep(duration time.Duration) {
	SweepDuration.Observe(duration.Seconds())
	SweepLastRun.SetToCurrentTime()
}

func RecordCacheInvalidation(target, status string) {
	CacheInvalidationsTotal.WithLabelValues(target, status).Inc()
}

func RecordCriticalError(component string) {
	CriticalErrorsTotal.WithLabelValues(component).Inc()
}

func RecordArchiveExport(status string) {
	ArchiveExportsTotal.WithLabelValues(status).Inc()
}

func RecordJobEnqueued(jobType string) {
	JobsEnqueuedTotal.WithLabelValues(jobType).Inc()
}

func SetAppInfo(version, environment, service string) {
	AppInfo.WithLabelValues(version, environment, service).Set(1)
	AppUp.Set(1)
}

func SetWorkerPoolSize(size int) {
	WorkerPoolSize.Set(float64(size))
}
