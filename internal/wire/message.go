// Package wire defines the JSON documents sent to the downstream client.
// Field names and order are part of the client contract.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"discordrelay/internal/domain"
)

// MessageType is the wire discriminator.
type MessageType string

const (
	TypeMessage  MessageType = "message"
	TypeReaction MessageType = "reaction"
)

// Message is one relayed event. Reactions is nil (encoded as null) for plain
// messages and non-nil (possibly empty) for reaction snapshots.
type Message struct {
	MessageType MessageType    `json:"message_type"`
	Author      string         `json:"author"`
	Content     string         `json:"content"`
	Timestamp   int64          `json:"timestamp"`
	MessageID   string         `json:"message_id"`
	Reactions   []ReactionInfo `json:"reactions"`
}

// ReactionInfo is one entry of a reaction snapshot.
type ReactionInfo struct {
	Emoji     string `json:"emoji"`
	Count     int    `json:"count"`
	MessageID string `json:"message_id"`
}

// NewChatMessage maps a message-created event.
func NewChatMessage(ev domain.Event) Message {
	return Message{
		MessageType: TypeMessage,
		Author:      ev.Author,
		Content:     ev.Content,
		Timestamp:   ev.Timestamp.Unix(),
		MessageID:   ev.MessageID,
	}
}

// NewReactionSnapshot maps a reaction event to the message's full current tally.
// Author and content are always empty; snapshot order is preserved.
func NewReactionSnapshot(ev domain.Event) Message {
	reactions := make([]ReactionInfo, 0, len(ev.Reactions))
	for _, r := range ev.Reactions {
		count := r.Count
		if count < 0 {
			count = 0
		}
		reactions = append(reactions, ReactionInfo{
			Emoji:     r.Emoji,
			Count:     count,
			MessageID: ev.MessageID,
		})
	}
	return Message{
		MessageType: TypeReaction,
		Timestamp:   ev.Timestamp.Unix(),
		MessageID:   ev.MessageID,
		Reactions:   reactions,
	}
}

// FromEvent picks the mapping for ev.Kind.
func FromEvent(ev domain.Event) (Message, error) {
	switch {
	case ev.Kind == domain.EventMessageCreated:
		return NewChatMessage(ev), nil
	case ev.Kind.IsReaction():
		return NewReactionSnapshot(ev), nil
	default:
		return Message{}, fmt.Errorf("wire: unsupported event kind %q", ev.Kind)
	}
}

// Encode serializes m as a single UTF-8 JSON document. HTML characters are
// left unescaped so custom emoji descriptors like <:name:id> stay readable.
func Encode(m Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("wire: encode %s %s: %w", m.MessageType, m.MessageID, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Decode parses a document produced by Encode. Used by clients and tests.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("wire: decode: %w", err)
	}
	return m, nil
}
