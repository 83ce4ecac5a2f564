package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/steadydb/failover/pkg/failover"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Failover metrics
	FailoversDetected *prometheus.CounterVec
	ReconnectAttempts *prometheus.CounterVec
	ReconnectOutcomes *prometheus.CounterVec
	StillReadOnly     prometheus.Counter
	ReconnectDuration prometheus.Histogram

	// Query metrics
	QueriesTotal  *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec

	// Connection metrics
	ConnectionUp *prometheus.GaugeVec

	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "steadydb",
		Subsystem: "",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		// Failover metrics
		FailoversDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "failovers_detected_total",
				Help:      "Total number of failover conditions detected on statement errors",
			},
			[]string{"class", "driver"},
		),
		ReconnectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "reconnect_attempts_total",
				Help:      "Total number of reconnection attempts",
			},
			[]string{"driver"},
		),
		ReconnectOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "reconnect_outcomes_total",
				Help:      "Total number of finished reconnection protocols by outcome",
			},
			[]string{"outcome"},
		),
		StillReadOnly: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "still_read_only_total",
				Help:      "Total number of replacement connections that still reported read-only",
			},
		),
		ReconnectDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "reconnect_duration_seconds",
				Help:      "Wall time from failover detection to protocol completion",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
			},
		),

		// Query metrics
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "queries_total",
				Help:      "Total number of statements issued through the resilient client",
			},
			[]string{"op", "status"},
		),
		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "query_duration_seconds",
				Help:      "Statement duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"op"},
		),

		// Connection metrics
		ConnectionUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "connection_up",
				Help:      "Whether the managed connection is believed healthy (1) or failed over (0)",
			},
			[]string{"driver"},
		),

		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
			[]string{"method", "path"},
		),
	}

	// Register all metrics
	prometheus.MustRegister(
		m.FailoversDetected,
		m.ReconnectAttempts,
		m.ReconnectOutcomes,
		m.StillReadOnly,
		m.ReconnectDuration,
		m.QueriesTotal,
		m.QueryDuration,
		m.ConnectionUp,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
	)

	return m
}

// RecordFailover records a detected failover condition
func (m *Metrics) RecordFailover(class, driver string) {
	if m.FailoversDetected == nil {
		return
	}

	m.FailoversDetected.WithLabelValues(class, driver).Inc()
}

// RecordReconnectAttempt records a single reconnection attempt
func (m *Metrics) RecordReconnectAttempt(driver string) {
	if m.ReconnectAttempts == nil {
		return
	}

	m.ReconnectAttempts.WithLabelValues(driver).Inc()
}

// RecordReconnectOutcome records a finished reconnection protocol
func (m *Metrics) RecordReconnectOutcome(outcome string, duration time.Duration) {
	if m.ReconnectOutcomes == nil {
		return
	}

	m.ReconnectOutcomes.WithLabelValues(outcome).Inc()
	m.ReconnectDuration.Observe(duration.Seconds())
}

// RecordStillReadOnly records a replacement connection that still reported read-only
func (m *Metrics) RecordStillReadOnly() {
	if m.StillReadOnly == nil {
		return
	}

	m.StillReadOnly.Inc()
}

// RecordQuery records statement metrics
func (m *Metrics) RecordQuery(op, status string, duration time.Duration) {
	if m.QueriesTotal == nil {
		return
	}

	m.QueriesTotal.WithLabelValues(op, status).Inc()
	m.QueryDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// SetConnectionUp updates the connection health gauge
func (m *Metrics) SetConnectionUp(driver string, up bool) {
	if m.ConnectionUp == nil {
		return
	}

	value := 0.0
	if up {
		value = 1.0
	}
	m.ConnectionUp.WithLabelValues(driver).Set(value)
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m.HTTPRequestsTotal == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// ClientHooks returns failover lifecycle hooks that feed these metrics.
// The reconnect duration is measured from detection to protocol completion,
// so the returned value should be handed to a single client.
func (m *Metrics) ClientHooks(driver string) failover.Hooks {
	var mu sync.Mutex
	var detectedAt time.Time

	return failover.Hooks{
		OnFailoverDetected: func(class failover.Class, err error) {
			mu.Lock()
			detectedAt = time.Now()
			mu.Unlock()
			m.RecordFailover(class.String(), driver)
			m.SetConnectionUp(driver, false)
		},
		OnReconnectAttempt: func(attempt int, delay time.Duration, cause error) {
			m.RecordReconnectAttempt(driver)
		},
		OnStillReadOnly: func(attempt int, value string) {
			m.RecordStillReadOnly()
		},
		OnReconnectSuccess: func(attempt int, connectionID string) {
			mu.Lock()
			elapsed := time.Since(detectedAt)
			mu.Unlock()
			m.RecordReconnectOutcome("success", elapsed)
			m.SetConnectionUp(driver, true)
		},
		OnReconnectFailure: func(attempts int, cause error) {
			mu.Lock()
			elapsed := time.Since(detectedAt)
			mu.Unlock()
			m.RecordReconnectOutcome("failure", elapsed)
		},
	}
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.HTTPRequestsInFlight != nil {
			m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Inc()
			defer m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Dec()
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), duration)
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
