package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feeward_distributor_build_info",
			Help: "Build information of the feeward distributor",
		},
		[]string{"version", "commit", "date"},
	)

	CycleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feeward_distributor_cycle_total",
			Help: "Total number of distribution cycles",
		},
		[]string{"status"}, // "success", "stage_error", "panic"
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feeward_distributor_cycle_duration_seconds",
			Help:    "Duration of distribution cycles",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~410s
		},
	)

	StageTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feeward_distributor_stage_total",
			Help: "Total number of cycle stage executions",
		},
		[]string{"stage", "status"}, // status: "success", "skipped", "error"
	)

	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feeward_distributor_dispatch_total",
			Help: "Total number of transaction dispatches by outcome",
		},
		[]string{"outcome"}, // "confirmed", "failed_onchain", "expired", "exhausted", "error"
	)

	DispatchAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feeward_distributor_dispatch_attempts",
			Help:    "Submission attempts per dispatched transaction",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 51},
		},
	)

	DispatchSendErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feeward_distributor_dispatch_send_errors_total",
			Help: "Total number of raw transaction send errors",
		},
	)

	WithdrawnTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feeward_distributor_withdrawn_base_units_total",
			Help: "Total withheld fees withdrawn, in token base units",
		},
	)

	SwapOutputTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feeward_distributor_swap_output_base_units_total",
			Help: "Total realized swap output, in output asset base units",
		},
		[]string{"asset"},
	)

	PayoutTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feeward_distributor_payout_total",
			Help: "Total number of reward payout decisions",
		},
		[]string{"status"}, // "paid", "failed", "below_minimum", "invalid_account"
	)

	HTTPClientRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feeward_distributor_http_client_requests_total",
			Help: "Total number of requests to external HTTP services",
		},
		[]string{"service", "operation", "status"},
	)

	HTTPClientRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feeward_distributor_http_client_request_duration_seconds",
			Help:    "Duration of requests to external HTTP services",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~41s
		},
		[]string{"service", "operation"},
	)

	StateAmount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feeward_distributor_state_amount",
			Help: "Current distribution state buckets, in base units",
		},
		[]string{"bucket"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feeward_distributor_http_requests_total",
			Help: "Total number of HTTP requests served by the ops server",
		},
		[]string{"method", "path", "status"},
	)
)

// RecordHTTPClientRequest records one call to an external HTTP service.
func RecordHTTPClientRequest(service, operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	HTTPClientRequestsTotal.WithLabelValues(service, operation, status).Inc()
	HTTPClientRequestDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			path = rctx.RoutePattern()
		}
		if path == "" {
			path = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
	})
}
