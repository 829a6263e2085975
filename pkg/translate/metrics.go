package translate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

var (
	// Engine request metrics
	engineRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telephone_engine_requests_total",
			Help: "Total number of calls made to the translation engine",
		},
		[]string{"engine", "op", "status"},
	)

	engineRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telephone_engine_request_duration_seconds",
			Help:    "Duration of translation engine calls in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 20.0},
		},
		[]string{"engine", "op", "status"},
	)

	engineRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telephone_engine_request_size_bytes",
			Help:    "Size of text sent to the translation engine in bytes",
			Buckets: []float64{16, 64, 256, 1000, 2500, 5000, 10000, 20000},
		},
		[]string{"engine", "op"},
	)

	engineResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telephone_engine_response_size_bytes",
			Help:    "Size of text returned by the translation engine in bytes",
			Buckets: []float64{16, 64, 256, 1000, 2500, 5000, 10000, 20000},
		},
		[]string{"engine"},
	)

	// Rate limiter metrics
	engineRateLimitWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telephone_engine_rate_limit_wait_seconds",
			Help:    "Time spent waiting for the shared engine rate limiter",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"engine"},
	)

	// Circuit breaker state: 0 closed, 1 half-open, 2 open.
	engineBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "telephone_engine_breaker_state",
			Help: "Circuit breaker state for the engine (0 closed, 1 half-open, 2 open)",
		},
		[]string{"engine"},
	)
)

// Call outcomes used as the status label.
const (
	statusSuccess  = "success"
	statusError    = "error"
	statusTimeout  = "timeout"
	statusRejected = "rejected"
	// statusUnsupported marks requests the engine refused for their input.
	statusUnsupported = "unsupported"
)

// MetricsCollector records engine metrics under a fixed engine label.
type MetricsCollector struct {
	engine string
}

// NewMetricsCollector creates a new metrics collector for an engine.
func NewMetricsCollector(engine string) *MetricsCollector {
	return &MetricsCollector{engine: engine}
}

// RecordRequest records metrics for one engine call.
func (mc *MetricsCollector) RecordRequest(op, status string, duration time.Duration, requestSize, responseSize int) {
	engineRequestsTotal.WithLabelValues(mc.engine, op, status).Inc()
	engineRequestDuration.WithLabelValues(mc.engine, op, status).Observe(duration.Seconds())
	engineRequestSize.WithLabelValues(mc.engine, op).Observe(float64(requestSize))
	if status == statusSuccess && responseSize > 0 {
		engineResponseSize.WithLabelValues(mc.engine).Observe(float64(responseSize))
	}
}

// RecordRateLimitWait records time spent waiting for a limiter token.
func (mc *MetricsCollector) RecordRateLimitWait(duration time.Duration) {
	engineRateLimitWait.WithLabelValues(mc.engine).Observe(duration.Seconds())
}

// SetBreakerState publishes the breaker's current state.
func (mc *MetricsCollector) SetBreakerState(state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	engineBreakerState.WithLabelValues(mc.engine).Set(v)
}
