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
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Care engine metrics
	timelineEventsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeline_events_appended_total",
			Help: "Total number of timeline events appended to patient history",
		},
		[]string{"type"},
	)

	protocolDerivations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "protocol_derivations_total",
			Help: "Total number of active-step derivations by resolved stage",
		},
		[]string{"stage"},
	)

	tasksDerived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "care_tasks_derived_total",
			Help: "Total number of coordinator tasks produced by queue scans",
		},
		[]string{"priority"},
	)

	reducerApplies = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reducer_applies_total",
			Help: "Total number of patient record updates applied in memory",
		},
	)

	reducerApplyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reducer_apply_duration_seconds",
			Help:    "In-memory merge duration of a reducer apply",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)

	persistAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "section_persist_attempts_total",
			Help: "Total number of per-section persistence calls",
		},
		[]string{"section"},
	)

	persistFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "section_persist_failures_total",
			Help: "Total number of failed per-section persistence calls",
		},
		[]string{"section"},
	)

	statusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patient_status_transitions_total",
			Help: "Total number of top-level patient status transitions",
		},
		[]string{"from_status", "to_status"},
	)

	cyclesStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "treatment_cycles_started_total",
			Help: "Total number of new maintenance cycles started",
		},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes URL paths for metrics to avoid cardinality explosion
func normalizePath(path string) string {
	if len(path) > 100 {
		return "/api/..."
	}
	return path
}

// --- Care engine metric helpers ---

// RecordTimelineEvent records a timeline event append
func RecordTimelineEvent(eventType string) {
	timelineEventsAppended.WithLabelValues(eventType).Inc()
}

// RecordProtocolDerivation records an active-step derivation
func RecordProtocolDerivation(stage string) {
	protocolDerivations.WithLabelValues(stage).Inc()
}

// RecordTaskDerived records a coordinator task produced by a queue scan
func RecordTaskDerived(priority string) {
	tasksDerived.WithLabelValues(priority).Inc()
}

// RecordReducerApply records an in-memory reducer apply and its duration
func RecordReducerApply(duration time.Duration) {
	reducerApplies.Inc()
	reducerApplyDuration.Observe(duration.Seconds())
}

// RecordPersistAttempt records a per-section persistence call
func RecordPersistAttempt(section string) {
	persistAttempts.WithLabelValues(section).Inc()
}

// RecordPersistFailure records a failed per-section persistence call
func RecordPersistFailure(section string) {
	persistFailures.WithLabelValues(section).Inc()
}

// RecordStatusTransition records a top-level patient status change
func RecordStatusTransition(from, to string) {
	statusTransitions.WithLabelValues(from, to).Inc()
}

// RecordCycleStarted records the start of a new maintenance cycle
func RecordCycleStarted() {
	cyclesStarted.Inc()
}

// RecordDBQuery records a database query duration
func RecordDBQuery(operation string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
