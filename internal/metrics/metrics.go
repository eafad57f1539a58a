// Package metrics provides Prometheus instrumentation for ChatNest. The chat
// server and the AI relay both expose these on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatnest_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// ActiveFeeds tracks the number of live message feeds.
	ActiveFeeds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatnest_active_feeds",
		Help: "Current number of live message feeds",
	})

	// MessagesTotal counts chat messages by outcome.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatnest_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"outcome"}) // sent | failed | rejected | rate_limited | delivered

	// MessageLatency records the time to persist a sent message.
	MessageLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatnest_message_latency_seconds",
		Help:    "Time to persist a chat message",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// RelayInvocations counts AI relay runs by outcome.
	RelayInvocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatnest_relay_invocations_total",
		Help: "Total number of AI relay invocations",
	}, []string{"outcome"})

	// RelayLatency records end-to-end relay run time.
	RelayLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatnest_relay_latency_seconds",
		Help:    "AI relay invocation latency",
		Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
	})

	// AuthAttempts counts identity operations by action and outcome.
	AuthAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatnest_auth_attempts_total",
		Help: "Total number of sign-up, sign-in and sign-out attempts",
	}, []string{"action", "outcome"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ActiveFeeds,
		MessagesTotal,
		MessageLatency,
		RelayInvocations,
		RelayLatency,
		AuthAttempts,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
