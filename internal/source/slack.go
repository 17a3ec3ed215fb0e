package source

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"discordrelay/internal/domain"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// slackAPI is the subset of *slack.Client the source calls.
type slackAPI interface {
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
}

// SlackConfig configures the Slack event source.
type SlackConfig struct {
	BotToken  string
	AppToken  string // required for Socket Mode
	ChannelID string
	Logger    *slog.Logger
}

// Slack observes a Slack workspace over Socket Mode.
type Slack struct {
	botToken  string
	appToken  string
	channelID string
	logger    *slog.Logger
	api       slackAPI
	pub       domain.Publisher

	namesMu sync.Mutex
	names   map[string]string // user id -> display name
}

// NewSlack creates a new Slack event source.
func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Slack{
		botToken:  cfg.BotToken,
		appToken:  cfg.AppToken,
		channelID: cfg.ChannelID,
		logger:    cfg.Logger,
		names:     make(map[string]string),
	}
}

func (s *Slack) Name() string { return "slack" }

// Start connects via Socket Mode and publishes events until ctx is done.
func (s *Slack) Start(ctx context.Context, pub domain.Publisher) error {
	s.pub = pub

	api := slack.New(
		s.botToken,
		slack.OptionAppLevelToken(s.appToken),
	)
	s.api = api

	authResp, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.logger.Info("slack bot connected", "user", authResp.User, "channel_id", s.channelID)

	socketClient := socketmode.New(api)

	go func() {
		for evt := range socketClient.Events {
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				s.handleEventsAPI(ctx, eventsAPIEvent)

			case socketmode.EventTypeConnectionError:
				s.logger.Warn("slack socket mode connection error")

			default:
				// Unacknowledged requests make Socket Mode redeliver and eventually disconnect.
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case err := <-errCh:
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

func (s *Slack) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		// Edits, deletes and joins arrive as subtypes.
		if ev.SubType != "" || ev.Channel != s.channelID {
			return
		}
		s.pub.Emit(ctx, domain.Event{
			Kind:      domain.EventMessageCreated,
			Source:    "slack",
			ChannelID: ev.Channel,
			MessageID: ev.TimeStamp,
			Author:    s.displayName(ctx, ev.User),
			Content:   ev.Text,
			Timestamp: parseSlackTS(ev.TimeStamp),
		})

	case *slackevents.ReactionAddedEvent:
		s.onReaction(ctx, domain.EventReactionAdded, ev.Item.Channel, ev.Item.Timestamp)

	case *slackevents.ReactionRemovedEvent:
		s.onReaction(ctx, domain.EventReactionRemoved, ev.Item.Channel, ev.Item.Timestamp)
	}
}

// onReaction loads the message's current reaction tally.
func (s *Slack) onReaction(ctx context.Context, kind domain.EventKind, channelID, ts string) {
	if channelID != s.channelID || ts == "" {
		return
	}
	resp, err := s.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Latest:    ts,
		Oldest:    ts,
		Inclusive: true,
		Limit:     1,
	})
	if err != nil {
		s.logger.Warn("slack message fetch failed", "ts", ts, "err", err)
		return
	}
	if len(resp.Messages) == 0 {
		s.logger.Warn("slack message not found", "ts", ts)
		return
	}

	msg := resp.Messages[0]
	reactions := make([]domain.ReactionCount, 0, len(msg.Reactions))
	for _, r := range msg.Reactions {
		reactions = append(reactions, domain.ReactionCount{Emoji: ":" + r.Name + ":", Count: r.Count})
	}
	s.pub.Emit(ctx, domain.Event{
		Kind:      kind,
		Source:    "slack",
		ChannelID: channelID,
		MessageID: ts,
		Timestamp: parseSlackTS(ts),
		Reactions: reactions,
	})
}

// displayName resolves a user id, caching hits. On lookup failure the raw id is used.
func (s *Slack) displayName(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	s.namesMu.Lock()
	name, ok := s.names[userID]
	s.namesMu.Unlock()
	if ok {
		return name
	}

	user, err := s.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		s.logger.Debug("slack user lookup failed", "user", userID, "err", err)
		return userID
	}
	name = user.Name
	if user.Profile.DisplayName != "" {
		name = user.Profile.DisplayName
	}

	s.namesMu.Lock()
	s.names[userID] = name
	s.namesMu.Unlock()
	return name
}

// parseSlackTS converts "1700000000.000100" to a time with second precision.
// Unparseable input maps to the Unix epoch.
func parseSlackTS(ts string) time.Time {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Unix(0, 0)
	}
	return time.Unix(int64(f), 0)
}
