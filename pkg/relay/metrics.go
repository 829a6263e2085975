package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session outcomes.
const (
	outcomeCompleted = "completed"
	outcomeCancelled = "cancelled"
	outcomeAborted   = "aborted"
	outcomeUncertain = "uncertain"
)

// Hop results.
const (
	hopSuccess               = "success"
	hopFailed                = "failed"
	hopBackTranslationFailed = "back_translation_failed"
)

var (
	sessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telephone_relay_sessions_total",
			Help: "Total number of relay runs by outcome",
		},
		[]string{"outcome"},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telephone_relay_active_sessions",
			Help: "Number of relay runs currently in progress",
		},
	)

	sessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telephone_relay_session_duration_seconds",
			Help:    "Duration of relay runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)

	hopsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telephone_relay_hops_total",
			Help: "Total number of attempted hops by result",
		},
		[]string{"result"},
	)

	hopAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telephone_relay_hop_attempts",
			Help:    "Number of translation attempts spent per hop",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	detectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telephone_relay_detections_total",
			Help: "Total number of language detections by verdict",
		},
		[]string{"confident"},
	)
)
