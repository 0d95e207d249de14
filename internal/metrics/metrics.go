package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "herald_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	itemsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_queue_items_enqueued_total",
			Help: "Total queue items enqueued by notification type",
		},
		[]string{"type"},
	)

	itemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_queue_items_processed_total",
			Help: "Total queue items finalized by outcome",
		},
		[]string{"outcome"},
	)

	itemsDeferred = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "herald_queue_items_deferred_total",
			Help: "Queue items pushed back to pending for quiet hours",
		},
	)

	deliveriesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_deliveries_created_total",
			Help: "Delivery log entries created by channel",
		},
		[]string{"channel"},
	)

	quotaSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_quota_skips_total",
			Help: "Channel sends skipped because the hourly quota was exhausted",
		},
		[]string{"channel"},
	)

	handOffs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_transport_handoffs_total",
			Help: "Transport hand-off attempts by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	dispatchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "herald_dispatch_latency_seconds",
			Help:    "Time from enqueue to item completion",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60},
		},
	)

	itemsReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "herald_queue_items_reclaimed_total",
			Help: "Stale processing items forced back to pending",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_rate_limit_rejections_total",
			Help: "Intake requests rejected by the gateway rate limiter",
		},
		[]string{"producer"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordItemEnqueued records a queue item intake event
func RecordItemEnqueued(notifType string) {
	itemsEnqueued.WithLabelValues(notifType).Inc()
}

// RecordItemProcessed records a finalized queue item by outcome
func RecordItemProcessed(outcome string) {
	itemsProcessed.WithLabelValues(outcome).Inc()
}

// RecordItemDeferred records a quiet-hour deferral
func RecordItemDeferred() {
	itemsDeferred.Inc()
}

// RecordDeliveryCreated records a delivery log entry by channel
func RecordDeliveryCreated(channel string) {
	deliveriesCreated.WithLabelValues(channel).Inc()
}

// RecordQuotaSkip records a channel skipped on quota exhaustion
func RecordQuotaSkip(channel string) {
	quotaSkips.WithLabelValues(channel).Inc()
}

// RecordHandOff records a transport hand-off attempt
func RecordHandOff(channel, outcome string) {
	handOffs.WithLabelValues(channel, outcome).Inc()
}

// RecordDispatchLatency records end-to-end time from enqueue to completion
func RecordDispatchLatency(latency time.Duration) {
	dispatchLatency.Observe(latency.Seconds())
}

// RecordItemsReclaimed records stale items returned to the backlog
func RecordItemsReclaimed(count int) {
	itemsReclaimed.Add(float64(count))
}

// RecordRateLimitRejection records an intake rate limit rejection
func RecordRateLimitRejection(producer string) {
	rateLimitRejections.WithLabelValues(producer).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
