// Package metrics exposes Prometheus collectors for the relay, peer registry and chat.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RelayConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "liveshop_relay_connections",
		Help: "Websocket clients currently joined to a relay channel",
	})

	RelayMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liveshop_relay_messages_total",
		Help: "Messages published to relay channels, by event",
	}, []string{"event"})

	PeerConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "liveshop_peer_connections",
		Help: "Peer connection entries currently held by registries",
	})

	SignalingDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liveshop_signaling_dropped_total",
		Help: "Inbound signaling messages dropped, by reason",
	}, []string{"reason"})

	ChatPersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liveshop_chat_persist_failures_total",
		Help: "Chat messages broadcast without a durable record",
	})
)
