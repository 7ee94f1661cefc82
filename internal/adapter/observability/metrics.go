// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for distributed tracing and Prometheus for
// metrics, wired through the HTTP middleware chain and the core components.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// AdapterRequestsTotal counts vendor adapter calls by model and operation.
	AdapterRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adapter_requests_total",
			Help: "Total number of vendor adapter requests by model and operation",
		},
		[]string{"model", "operation", "outcome"},
	)
	// AdapterRequestDuration records durations of vendor adapter calls.
	AdapterRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adapter_request_duration_seconds",
			Help:    "Vendor adapter request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"model", "operation"},
	)

	// CircuitBreakerStatus tracks circuit breaker state per model (0=closed,1=open,2=half-open).
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_status",
			Help: "Circuit breaker status by model (0=closed, 1=open, 2=half-open)",
		},
		[]string{"model"},
	)

	// JobsEnqueuedTotal counts async jobs enqueued.
	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "jobs_enqueued_total", Help: "Total number of async jobs enqueued"},
		[]string{"type"},
	)
	// JobsProcessing is a gauge of currently-processing async jobs.
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "jobs_processing", Help: "Number of async jobs currently processing"},
		[]string{"type"},
	)
	// JobsCompletedTotal counts async jobs completed.
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "jobs_completed_total", Help: "Total number of async jobs completed"},
		[]string{"type"},
	)
	// JobsFailedTotal counts async jobs failed.
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "jobs_failed_total", Help: "Total number of async jobs failed"},
		[]string{"type"},
	)

	// TokensTotal tracks token usage by model and direction (req/res).
	TokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tokens_total", Help: "Total tokens metered"},
		[]string{"model", "direction"},
	)

	// ToolCallsTotal counts tool invocations by governance outcome.
	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tool_calls_total", Help: "Total tool calls by policy outcome"},
		[]string{"tool", "policy"},
	)

	// QuotaRejectionsTotal counts requests rejected by the quota gate.
	QuotaRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "quota_rejections_total", Help: "Total requests rejected by the quota gate"},
		[]string{"kind"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(AdapterRequestsTotal)
	prometheus.MustRegister(AdapterRequestDuration)
	prometheus.MustRegister(CircuitBreakerStatus)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsProcessing)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(TokensTotal)
	prometheus.MustRegister(ToolCallsTotal)
	prometheus.MustRegister(QuotaRejectionsTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// EnqueueJob increments the enqueued jobs counter for the given type.
func EnqueueJob(jobType string) { JobsEnqueuedTotal.WithLabelValues(jobType).Inc() }

// StartProcessingJob increments the processing gauge for the given type.
func StartProcessingJob(jobType string) { JobsProcessing.WithLabelValues(jobType).Inc() }

// CompleteJob marks a job complete by decrementing processing gauge and incrementing completed counter.
func CompleteJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsCompletedTotal.WithLabelValues(jobType).Inc()
}

// FailJob marks a job failed by decrementing processing gauge and incrementing failed counter.
func FailJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsFailedTotal.WithLabelValues(jobType).Inc()
}

// RecordAdapterCall records the outcome and duration of a vendor adapter call.
func RecordAdapterCall(model, operation, outcome string, dur time.Duration) {
	AdapterRequestsTotal.WithLabelValues(model, operation, outcome).Inc()
	AdapterRequestDuration.WithLabelValues(model, operation).Observe(dur.Seconds())
}

// RecordCircuitBreakerStatus records circuit breaker state for a model.
func RecordCircuitBreakerStatus(model string, status int) {
	CircuitBreakerStatus.WithLabelValues(model).Set(float64(status))
}

// RecordTokens records metered token counts for a model.
func RecordTokens(model, direction string, tokens int) {
	TokensTotal.WithLabelValues(model, direction).Add(float64(tokens))
}

// RecordToolCall records a tool invocation and its governance outcome.
func RecordToolCall(tool, policy string) { ToolCallsTotal.WithLabelValues(tool, policy).Inc() }

// RecordQuotaRejection records a quota-gate rejection by kind ("rpm" or "token").
func RecordQuotaRejection(kind string) { QuotaRejectionsTotal.WithLabelValues(kind).Inc() }
