// Package source connects upstream chat platforms and publishes their
// message and reaction events as domain.Event values.
package source

import (
	"context"
	"fmt"
	"log/slog"

	"discordrelay/internal/domain"

	"github.com/bwmarrin/discordgo"
)

// DiscordConfig configures the Discord event source.
type DiscordConfig struct {
	Token     string
	ChannelID string // bridge target; events from other channels are not fetched
	Logger    *slog.Logger
}

// Discord observes a Discord gateway session. It registers no commands.
type Discord struct {
	token     string
	channelID string
	logger    *slog.Logger
	session   *discordgo.Session
	pub       domain.Publisher

	// fetch returns the full current state of a message, reactions included.
	fetch func(channelID, messageID string) (*discordgo.Message, error)
}

// NewDiscord creates a new Discord event source.
func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{
		token:     cfg.Token,
		channelID: cfg.ChannelID,
		logger:    cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

// Start connects to the gateway and publishes events until ctx is done.
func (d *Discord) Start(ctx context.Context, pub domain.Publisher) error {
	d.pub = pub

	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsAllWithoutPrivileged |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMessageReactions
	d.session = session
	d.fetch = func(channelID, messageID string) (*discordgo.Message, error) {
		return session.ChannelMessage(channelID, messageID)
	}

	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		d.onMessage(ctx, m.Message)
	})
	session.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
		d.onReaction(ctx, domain.EventReactionAdded, r.MessageReaction)
	})
	session.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionRemove) {
		d.onReaction(ctx, domain.EventReactionRemoved, r.MessageReaction)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord bot connected", "user", session.State.User.Username, "channel_id", d.channelID)

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

func (d *Discord) onMessage(ctx context.Context, m *discordgo.Message) {
	if m == nil || m.ChannelID != d.channelID {
		return
	}
	d.pub.Emit(ctx, discordMessageEvent(m))
}

// onReaction re-fetches the message so the published snapshot is the full
// post-event tally rather than a delta.
func (d *Discord) onReaction(ctx context.Context, kind domain.EventKind, r *discordgo.MessageReaction) {
	if r == nil || r.ChannelID != d.channelID {
		return
	}
	msg, err := d.fetch(r.ChannelID, r.MessageID)
	if err != nil {
		d.logger.Warn("discord message fetch failed", "message_id", r.MessageID, "err", err)
		return
	}
	if msg.ChannelID == "" {
		msg.ChannelID = r.ChannelID
	}
	d.pub.Emit(ctx, discordReactionEvent(kind, msg))
}

func discordMessageEvent(m *discordgo.Message) domain.Event {
	ev := domain.Event{
		Kind:      domain.EventMessageCreated,
		Source:    "discord",
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		ev.Author = m.Author.Username
	}
	return ev
}

func discordReactionEvent(kind domain.EventKind, m *discordgo.Message) domain.Event {
	reactions := make([]domain.ReactionCount, 0, len(m.Reactions))
	for _, r := range m.Reactions {
		if r == nil || r.Emoji == nil {
			continue
		}
		reactions = append(reactions, domain.ReactionCount{
			Emoji: r.Emoji.MessageFormat(),
			Count: r.Count,
		})
	}
	return domain.Event{
		Kind:      kind,
		Source:    "discord",
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		Timestamp: m.Timestamp,
		Reactions: reactions,
	}
}
