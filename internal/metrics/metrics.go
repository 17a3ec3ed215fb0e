// Package metrics holds the relay's Prometheus instruments. They live on a
// package registry so the asset server can expose them without touching
// the default global registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "discordrelay"

// Registry is the registry every instrument below is registered on.
var Registry = prometheus.NewRegistry()

var (
	EventsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_received_total",
		Help:      "Upstream events observed, by source and kind.",
	}, []string{"source", "kind"})

	EventsRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_relayed_total",
		Help:      "Wire messages written to the live sink, by message type.",
	}, []string{"type"})

	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Events not delivered, by reason.",
	}, []string{"reason"})

	SendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "send_failures_total",
		Help:      "Writes to the live sink that failed.",
	})

	HandshakeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handshake_failures_total",
		Help:      "Incoming connections whose upgrade handshake failed.",
	})

	ConnectionsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connections_accepted_total",
		Help:      "Downstream connections that completed the handshake.",
	})

	SinksDisplaced = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sinks_displaced_total",
		Help:      "Live sinks superseded by a newer connection.",
	})

	LiveSink = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_sink",
		Help:      "1 while a downstream sink occupies the slot.",
	})

	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "send_latency_seconds",
		Help:      "Time spent writing one wire message to the live sink.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)

// Drop reasons.
const (
	DropNoSink      = "no_sink"
	DropOffTarget   = "off_target"
	DropEncode      = "encode"
	DropSendFailure = "send_failure"
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		EventsReceived,
		EventsRelayed,
		EventsDropped,
		SendFailures,
		HandshakeFailures,
		ConnectionsAccepted,
		SinksDisplaced,
		LiveSink,
		SendLatency,
	)
}

// Handler renders the registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
