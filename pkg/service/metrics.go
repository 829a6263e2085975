package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telephone_connected_clients",
			Help: "Number of clients connected over WebSocket",
		},
	)

	clientsReplacedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telephone_clients_replaced_total",
			Help: "Total number of connections replaced by a reconnect with the same client id",
		},
	)

	eventsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telephone_client_events_sent_total",
			Help: "Total number of events pushed to connected clients",
		},
		[]string{"result"},
	)

	streamingSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telephone_streaming_sessions",
			Help: "Number of relay sessions running for connected clients",
		},
	)

	asyncSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telephone_async_sessions_total",
			Help: "Total number of asynchronous relays by final status",
		},
		[]string{"status"},
	)

	asyncSessionsStored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telephone_async_sessions_stored",
			Help: "Number of asynchronous relays held in memory",
		},
	)
)
