// Package metrics provides Prometheus instrumentation for the messenger
// server. It exposes gauges for connection and room counts, counters for
// message throughput, and a histogram for broadcast latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roomchat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// RoomsActive tracks the current number of rooms with at least one connection.
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roomchat_rooms_active",
		Help: "Current number of rooms with at least one active connection",
	})

	// MessagesTotal counts messages processed, labeled by direction:
	// "received", "broadcast", or "rejected".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"direction"})

	// BroadcastLatency records the time spent fanning a message out to a room.
	BroadcastLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "roomchat_broadcast_latency_seconds",
		Help:    "Room broadcast fan-out latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// UploadsTotal counts attachment uploads, labeled by outcome:
	// "accepted", "rejected", or "duplicate".
	UploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_uploads_total",
		Help: "Total number of attachment uploads",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		RoomsActive,
		MessagesTotal,
		BroadcastLatency,
		UploadsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
