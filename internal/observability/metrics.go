package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchesTotal counts fetch attempts per source and outcome.
	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homehub_fetches_total",
		Help: "Upstream fetch attempts by source and status.",
	}, []string{"source", "status"})

	// EventsPublishedTotal counts events fanned out through the hub.
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homehub_events_published_total",
		Help: "Events published to the realtime hub by type.",
	}, []string{"type"})

	// ConnectedClients tracks currently registered websocket clients.
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "homehub_connected_clients",
		Help: "Number of currently connected realtime clients.",
	})

	// RelayCommandsTotal counts relay toggle commands by outcome.
	RelayCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homehub_relay_commands_total",
		Help: "Relay toggle commands by status.",
	}, []string{"status"})
)
