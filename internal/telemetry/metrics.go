package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	ChunksSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "manhunt",
		Name:      "chunks_sent_total",
		Help:      "Framed chunks written to peer channels.",
	})

	ChunksReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "manhunt",
		Name:      "chunks_received_total",
		Help:      "Framed chunks read from peer channels.",
	})

	ChunksDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "manhunt",
		Name:      "chunks_dropped_total",
		Help:      "Malformed chunks discarded by the framer.",
	})

	EnvelopesMerged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "manhunt",
		Name:      "envelopes_merged_total",
		Help:      "Event envelopes accepted into the merged log.",
	}, []string{"outcome"}) // accepted | duplicate

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "manhunt",
		Name:      "peers_connected",
		Help:      "Peer links currently open.",
	})

	PeersDeparted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "manhunt",
		Name:      "peers_departed_total",
		Help:      "Peers demoted to departed (close or broadcast timeout).",
	})

	BroadcastTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "manhunt",
		Name:      "broadcast_timeouts_total",
		Help:      "Per-peer broadcast deliveries that exceeded the time bound.",
	})
)

func init() {
	Registry.MustRegister(
		ChunksSent, ChunksReceived, ChunksDropped,
		EnvelopesMerged,
		PeersConnected, PeersDeparted, BroadcastTimeouts,
	)
}

// Handler exposes the session metrics for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
