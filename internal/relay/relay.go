// Package relay turns upstream chat events for the bridge target into wire
// messages and pushes them to whichever downstream sink is live.
package relay

import (
	"context"
	"log/slog"
	"time"

	"discordrelay/internal/bus"
	"discordrelay/internal/domain"
	"discordrelay/internal/metrics"
	"discordrelay/internal/wire"
)

// Sender is the slot-side contract the relay writes through.
type Sender interface {
	TrySend(payload []byte) (occupied bool, err error)
}

// Config configures a Relay.
type Config struct {
	Target string // bridge channel id
	Sender Sender
	Logger *slog.Logger
}

// Relay is a best-effort, at-most-once forwarder. Nothing is queued: an
// event that arrives while no sink is installed is dropped.
type Relay struct {
	target string
	sender Sender
	logger *slog.Logger
}

// New creates a Relay.
func New(cfg Config) *Relay {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Relay{
		target: cfg.Target,
		sender: cfg.Sender,
		logger: cfg.Logger,
	}
}

// Target returns the bridge channel id.
func (r *Relay) Target() string { return r.target }

// Subscribe registers the relay for message and reaction events and returns
// the handler ids.
func (r *Relay) Subscribe(d *bus.Dispatcher) []string {
	return []string{
		d.On(domain.EventMessageCreated, r.Handle),
		d.On(domain.EventReactionAdded, r.Handle),
		d.On(domain.EventReactionRemoved, r.Handle),
	}
}

// Handle relays one event. It never returns an error: every failure is
// logged, counted and dropped.
func (r *Relay) Handle(_ context.Context, ev domain.Event) {
	metrics.EventsReceived.WithLabelValues(ev.Source, string(ev.Kind)).Inc()

	if ev.ChannelID != r.target {
		metrics.EventsDropped.WithLabelValues(metrics.DropOffTarget).Inc()
		return
	}

	msg, err := wire.FromEvent(ev)
	if err != nil {
		metrics.EventsDropped.WithLabelValues(metrics.DropEncode).Inc()
		r.logger.Error("cannot map event", "kind", ev.Kind, "message_id", ev.MessageID, "err", err)
		return
	}
	payload, err := wire.Encode(msg)
	if err != nil {
		metrics.EventsDropped.WithLabelValues(metrics.DropEncode).Inc()
		r.logger.Error("cannot encode wire message", "kind", ev.Kind, "message_id", ev.MessageID, "err", err)
		return
	}

	start := time.Now()
	occupied, err := r.sender.TrySend(payload)
	switch {
	case !occupied:
		metrics.EventsDropped.WithLabelValues(metrics.DropNoSink).Inc()
		r.logger.Debug("no live sink, event dropped", "kind", ev.Kind, "message_id", ev.MessageID)
	case err != nil:
		metrics.SendFailures.Inc()
		metrics.EventsDropped.WithLabelValues(metrics.DropSendFailure).Inc()
		r.logger.Warn("failed to send websocket message", "kind", ev.Kind, "message_id", ev.MessageID, "err", err)
	default:
		metrics.SendLatency.Observe(time.Since(start).Seconds())
		metrics.EventsRelayed.WithLabelValues(string(msg.MessageType)).Inc()
		r.logger.Debug("event relayed", "kind", ev.Kind, "message_id", ev.MessageID, "bytes", len(payload))
	}
}
