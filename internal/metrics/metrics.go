// Package metrics provides Prometheus instrumentation for the room chat
// client. It exposes a gauge for connection state, counters for room actions
// and message throughput, and a histogram for request latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connected is 1 while the transport connection is up and 0 otherwise.
	Connected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roomchat_connected",
		Help: "Whether the client is connected to the room service",
	})

	// ConnectionDrops counts connections lost without a deliberate close.
	ConnectionDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomchat_connection_drops_total",
		Help: "Total number of connections lost",
	})

	// MessagesTotal counts chat messages, labeled by direction: "sent" or
	// "received".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"direction"})

	// RoomActions counts room actions labeled by action ("join", "create",
	// "rejoin", "leave", "send") and result ("ok", "error", "busy").
	RoomActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_room_actions_total",
		Help: "Total number of room actions by outcome",
	}, []string{"action", "result"})

	// RequestLatency records transport request round-trip time in seconds.
	RequestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roomchat_request_latency_seconds",
		Help:    "Transport request latency in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"action"})
)

func init() {
	prometheus.MustRegister(
		Connected,
		ConnectionDrops,
		MessagesTotal,
		RoomActions,
		RequestLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
