package observability

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grading_jobs_submitted_total",
		Help: "The total number of submitted jobs",
	}, []string{"kind", "priority"})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grading_jobs_processed_total",
		Help: "The total number of processed jobs",
	}, []string{"kind", "status"}) // status: completed, failed, retried

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grading_job_duration_seconds",
		Help:    "Duration of job processing.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"kind"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grading_cache_lookups_total",
		Help: "Result cache lookups by outcome",
	}, []string{"outcome"}) // outcome: hit_memory, hit_persisted, miss

	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grading_provider_calls_total",
		Help: "Model endpoint invocations by tier and outcome",
	}, []string{"tier", "outcome"})

	ProviderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grading_provider_duration_seconds",
		Help:    "Latency of model endpoint invocations.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
	}, []string{"tier"})

	Escalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grading_escalations_total",
		Help: "Re-executions at the accurate tier after a fast-tier attempt",
	}, []string{"reason"}) // reason: quality_gate, provider_error

	RateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grading_rate_limit_waits_total",
		Help: "Admission checks that had to back off on a saturated window",
	})
)

// NewLogger creates a new structured logger.
func NewLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// StartMetricsServer runs an HTTP server to expose Prometheus metrics.
func StartMetricsServer(addr string) {
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, nil); err != nil {
			slog.Error("metrics server failed", "error", err)
		}
	}()
}
