package domain

import (
	"context"
	"time"
)

// EventKind identifies what happened upstream.
type EventKind string

const (
	EventMessageCreated  EventKind = "message.created"
	EventReactionAdded   EventKind = "reaction.added"
	EventReactionRemoved EventKind = "reaction.removed"
)

// IsReaction reports whether the kind carries a reaction snapshot.
func (k EventKind) IsReaction() bool {
	return k == EventReactionAdded || k == EventReactionRemoved
}

// Event is a semantic event observed on the upstream chat platform.
type Event struct {
	Kind      EventKind
	Source    string // "discord" | "slack"
	ChannelID string
	MessageID string
	Author    string    // message events only
	Content   string    // message events only
	Timestamp time.Time // creation time of the affected message
	Reactions []ReactionCount
}

// ReactionCount is one entry of a message's current reaction tally.
type ReactionCount struct {
	Emoji string
	Count int
}

// Publisher receives events from an EventSource.
type Publisher interface {
	Emit(ctx context.Context, ev Event)
}

// EventSource is an upstream chat integration (Discord, Slack).
// Start blocks until ctx is cancelled or the client fails fatally.
type EventSource interface {
	Name() string
	Start(ctx context.Context, pub Publisher) error
}
