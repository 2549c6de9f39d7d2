package metrics

import (
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapshelf_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swapshelf_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swapshelf_http_requests_in_flight",
			Help: "Current number of HTTP requests being served",
		},
	)

	// File metrics
	FilesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swapshelf_files_uploaded_total",
			Help: "Total number of files uploaded",
		},
	)

	FilesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swapshelf_files_deleted_total",
			Help: "Total number of files deleted",
		},
	)

	UploadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swapshelf_upload_bytes_total",
			Help: "Total number of bytes accepted by uploads",
		},
	)

	CleanupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapshelf_cleanup_failures_total",
			Help: "Background cleanup steps that failed after a file was removed",
		},
		[]string{"kind"},
	)

	// Trade metrics
	TradeTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapshelf_trade_transitions_total",
			Help: "Trade requests entering each status",
		},
		[]string{"status"},
	)

	// Authentication metrics
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapshelf_login_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"status"},
	)

	RegisterAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapshelf_register_attempts_total",
			Help: "Total number of registration attempts",
		},
		[]string{"status"},
	)

	PasswordResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapshelf_password_resets_total",
			Help: "Password reset tokens issued and redeemed",
		},
		[]string{"step", "status"},
	)

	SessionsInvalidated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapshelf_sessions_invalidated_total",
			Help: "Sessions removed from the session store",
		},
		[]string{"reason"},
	)

	// Database metrics
	DatabaseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swapshelf_database_connections_active",
			Help: "Current number of active database connections",
		},
	)

	DatabaseConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swapshelf_database_connections_idle",
			Help: "Current number of idle database connections",
		},
	)
)

// RecordHTTPRequest records metrics for an HTTP request
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusStr := httpStatusToString(status)
	HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

func httpStatusToString(code int) string {
	if code >= 200 && code < 300 {
		return "2xx"
	} else if code >= 300 && code < 400 {
		return "3xx"
	} else if code >= 400 && code < 500 {
		return "4xx"
	} else if code >= 500 {
		return "5xx"
	}
	return "unknown"
}

// RecordFileUpload increments the upload counters
func RecordFileUpload(size int64) {
	FilesUploaded.Inc()
	UploadBytes.Add(float64(size))
}

// RecordFileDelete increments file delete counter
func RecordFileDelete() {
	FilesDeleted.Inc()
}

// RecordCleanupFailure counts a failed background cleanup step ("trades" or "blob").
func RecordCleanupFailure(kind string) {
	CleanupFailures.WithLabelValues(kind).Inc()
}

// RecordTradeTransition counts a trade request entering status.
func RecordTradeTransition(status string) {
	TradeTransitions.WithLabelValues(status).Inc()
}

// RecordLogin increments login attempt counter
func RecordLogin(success bool) {
	LoginAttempts.WithLabelValues(outcome(success)).Inc()
}

// RecordRegistration increments registration attempt counter
func RecordRegistration(success bool) {
	RegisterAttempts.WithLabelValues(outcome(success)).Inc()
}

// RecordPasswordReset counts a reset step ("request" or "redeem").
func RecordPasswordReset(step string, success bool) {
	PasswordResets.WithLabelValues(step, outcome(success)).Inc()
}

// RecordSessionsInvalidated adds n removed sessions under reason.
func RecordSessionsInvalidated(reason string, n int) {
	if n > 0 {
		SessionsInvalidated.WithLabelValues(reason).Add(float64(n))
	}
}

// RecordDBStats copies connection pool stats into the gauges.
func RecordDBStats(stats sql.DBStats) {
	DatabaseConnectionsActive.Set(float64(stats.InUse))
	DatabaseConnectionsIdle.Set(float64(stats.Idle))
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
