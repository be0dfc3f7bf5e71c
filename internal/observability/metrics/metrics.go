package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const (
	metricPrefix = "yeti_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	upstreamRequests *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	upstreamLogins   *prometheus.CounterVec

	streamSubscriptions *prometheus.GaugeVec
	streamFrames        *prometheus.CounterVec

	alertBreaches      prometheus.Counter
	alertNotifications *prometheus.CounterVec
)

// Init registers gateway metrics and, when db is non-nil, connection pool stats.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		upstreamRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "upstream_requests_total",
				Help: "Total upstream platform REST requests by operation and result",
			},
			[]string{"operation", "result"},
		)
		upstreamLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "upstream_request_latency_seconds",
				Help:    "Upstream platform REST latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		)
		upstreamLogins = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "upstream_logins_total",
				Help: "Total upstream re-authentications by result",
			},
			[]string{"result"},
		)

		streamSubscriptions = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "stream_subscriptions",
				Help: "Streaming subscriptions by state",
			},
			[]string{"state"},
		)
		streamFrames = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "stream_frames_total",
				Help: "Inbound stream frames by result",
			},
			[]string{"result"},
		)

		alertBreaches = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_breaches_total",
				Help: "Total threshold breaches detected on streamed samples",
			},
		)
		alertNotifications = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_notifications_total",
				Help: "Total per-recipient alert notifications by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			upstreamRequests,
			upstreamLatency,
			upstreamLogins,
			streamSubscriptions,
			streamFrames,
			alertBreaches,
			alertNotifications,
		)

		if db != nil {
			if err := prometheus.Register(collectors.NewDBStatsCollector(db, "yeti")); err != nil && logger != nil {
				logger.Warn("db stats collector not registered", zap.Error(err))
			}
		}
	})
}

// ObserveUpstream records an upstream request.
func ObserveUpstream(operation string, err error, duration time.Duration) {
	if operation == "" {
		operation = "unknown"
	}
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	if upstreamRequests != nil {
		upstreamRequests.WithLabelValues(operation, result).Inc()
	}
	if upstreamLatency != nil {
		upstreamLatency.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

// IncLogin increments the re-authentication counter.
func IncLogin(err error) {
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	if upstreamLogins != nil {
		upstreamLogins.WithLabelValues(result).Inc()
	}
}

// AddSubscriptions moves the gauge for a subscription state.
func AddSubscriptions(state string, delta float64) {
	if state == "" {
		state = "unknown"
	}
	if streamSubscriptions != nil {
		streamSubscriptions.WithLabelValues(state).Add(delta)
	}
}

// IncFrame counts an inbound stream frame.
func IncFrame(result string) {
	if result == "" {
		result = resultSuccess
	}
	if streamFrames != nil {
		streamFrames.WithLabelValues(result).Inc()
	}
}

// IncAlertBreach counts a detected threshold breach.
func IncAlertBreach() {
	if alertBreaches != nil {
		alertBreaches.Inc()
	}
}

// IncAlertNotification counts a per-recipient notification attempt.
func IncAlertNotification(err error) {
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	if alertNotifications != nil {
		alertNotifications.WithLabelValues(result).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	FrameMalformed = "malformed"
	FrameIgnored   = "ignored"
)
