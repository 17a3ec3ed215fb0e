package source

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"discordrelay/internal/domain"

	"github.com/bwmarrin/discordgo"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type capturePublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (c *capturePublisher) Emit(_ context.Context, ev domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *capturePublisher) all() []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Event(nil), c.events...)
}

// --- Discord ---

const discordChannel = "555000000000000001"

func newTestDiscord(pub domain.Publisher, fetch func(string, string) (*discordgo.Message, error)) *Discord {
	d := NewDiscord(DiscordConfig{Token: "t", ChannelID: discordChannel, Logger: testLogger()})
	d.pub = pub
	d.fetch = fetch
	return d
}

func TestDiscord_MessageEvent(t *testing.T) {
	pub := &capturePublisher{}
	d := newTestDiscord(pub, nil)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	d.onMessage(context.Background(), &discordgo.Message{
		ID:        "900000000000000001",
		ChannelID: discordChannel,
		Content:   "hello bridge",
		Timestamp: ts,
		Author:    &discordgo.User{Username: "alice"},
	})

	events := pub.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.Event{
		Kind:      domain.EventMessageCreated,
		Source:    "discord",
		ChannelID: discordChannel,
		MessageID: "900000000000000001",
		Author:    "alice",
		Content:   "hello bridge",
		Timestamp: ts,
	}, events[0])
}

func TestDiscord_MessageOtherChannelIgnored(t *testing.T) {
	pub := &capturePublisher{}
	d := newTestDiscord(pub, nil)

	d.onMessage(context.Background(), &discordgo.Message{ID: "1", ChannelID: "other", Author: &discordgo.User{Username: "x"}})
	assert.Empty(t, pub.all())
}

func TestDiscord_ReactionFetchesFullSnapshot(t *testing.T) {
	pub := &capturePublisher{}
	var fetched []string
	d := newTestDiscord(pub, func(channelID, messageID string) (*discordgo.Message, error) {
		fetched = append(fetched, channelID+"/"+messageID)
		return &discordgo.Message{
			ID:        messageID,
			ChannelID: channelID,
			Timestamp: time.Unix(1700000000, 0),
			Reactions: []*discordgo.MessageReactions{
				{Count: 3, Emoji: &discordgo.Emoji{Name: "😀"}},
				{Count: 1, Emoji: &discordgo.Emoji{Name: "👍"}},
				{Count: 2, Emoji: &discordgo.Emoji{ID: "123", Name: "party"}},
				{Count: 1, Emoji: &discordgo.Emoji{ID: "456", Name: "dance", Animated: true}},
			},
		}, nil
	})

	d.onReaction(context.Background(), domain.EventReactionAdded, &discordgo.MessageReaction{
		ChannelID: discordChannel,
		MessageID: "77",
		Emoji:     discordgo.Emoji{Name: "😀"},
	})

	assert.Equal(t, []string{discordChannel + "/77"}, fetched)
	events := pub.all()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, domain.EventReactionAdded, ev.Kind)
	assert.Equal(t, "77", ev.MessageID)
	assert.Empty(t, ev.Author)
	assert.Empty(t, ev.Content)
	assert.Equal(t, []domain.ReactionCount{
		{Emoji: "😀", Count: 3},
		{Emoji: "👍", Count: 1},
		{Emoji: "<:party:123>", Count: 2},
		{Emoji: "<a:dance:456>", Count: 1},
	}, ev.Reactions)
}

func TestDiscord_ReactionRemovedToZero(t *testing.T) {
	pub := &capturePublisher{}
	d := newTestDiscord(pub, func(channelID, messageID string) (*discordgo.Message, error) {
		return &discordgo.Message{ID: messageID}, nil
	})

	d.onReaction(context.Background(), domain.EventReactionRemoved, &discordgo.MessageReaction{ChannelID: discordChannel, MessageID: "8"})

	events := pub.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventReactionRemoved, events[0].Kind)
	assert.Equal(t, discordChannel, events[0].ChannelID)
	assert.NotNil(t, events[0].Reactions)
	assert.Empty(t, events[0].Reactions)
}

func TestDiscord_ReactionFetchFailureSkips(t *testing.T) {
	pub := &capturePublisher{}
	d := newTestDiscord(pub, func(string, string) (*discordgo.Message, error) {
		return nil, errors.New("404")
	})

	d.onReaction(context.Background(), domain.EventReactionAdded, &discordgo.MessageReaction{ChannelID: discordChannel, MessageID: "9"})
	assert.Empty(t, pub.all())
}

func TestDiscord_ReactionOtherChannelNotFetched(t *testing.T) {
	pub := &capturePublisher{}
	d := newTestDiscord(pub, func(string, string) (*discordgo.Message, error) {
		t.Fatal("fetch must not be called for other channels")
		return nil, nil
	})

	d.onReaction(context.Background(), domain.EventReactionAdded, &discordgo.MessageReaction{ChannelID: "other", MessageID: "9"})
	assert.Empty(t, pub.all())
}

// --- Slack ---

const slackChannel = "C0123ABCD"

type fakeSlackAPI struct {
	users    map[string]*slack.User
	history  []slack.Message
	err      error
	lookups  int
	requests []*slack.GetConversationHistoryParameters
}

func (f *fakeSlackAPI) GetUserInfoContext(_ context.Context, user string) (*slack.User, error) {
	f.lookups++
	u, ok := f.users[user]
	if !ok {
		return nil, errors.New("user_not_found")
	}
	return u, nil
}

func (f *fakeSlackAPI) GetConversationHistoryContext(_ context.Context, p *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
	f.requests = append(f.requests, p)
	if f.err != nil {
		return nil, f.err
	}
	return &slack.GetConversationHistoryResponse{Messages: f.history}, nil
}

func newTestSlack(pub domain.Publisher, api slackAPI) *Slack {
	s := NewSlack(SlackConfig{BotToken: "xoxb", AppToken: "xapp", ChannelID: slackChannel, Logger: testLogger()})
	s.pub = pub
	s.api = api
	return s
}

func callback(data any) slackevents.EventsAPIEvent {
	return slackevents.EventsAPIEvent{
		Type:       slackevents.CallbackEvent,
		InnerEvent: slackevents.EventsAPIInnerEvent{Data: data},
	}
}

func TestSlack_MessageEvent(t *testing.T) {
	pub := &capturePublisher{}
	api := &fakeSlackAPI{users: map[string]*slack.User{
		"U1": {Name: "bob", Profile: slack.UserProfile{DisplayName: "Bobby"}},
	}}
	s := newTestSlack(pub, api)

	msg := &slackevents.MessageEvent{Channel: slackChannel, User: "U1", Text: "hey", TimeStamp: "1700000000.000100"}
	s.handleEventsAPI(context.Background(), callback(msg))
	s.handleEventsAPI(context.Background(), callback(msg))

	events := pub.all()
	require.Len(t, events, 2)
	assert.Equal(t, domain.Event{
		Kind:      domain.EventMessageCreated,
		Source:    "slack",
		ChannelID: slackChannel,
		MessageID: "1700000000.000100",
		Author:    "Bobby",
		Content:   "hey",
		Timestamp: time.Unix(1700000000, 0),
	}, events[0])
	assert.Equal(t, 1, api.lookups, "display names are cached")
}

func TestSlack_MessageFiltered(t *testing.T) {
	pub := &capturePublisher{}
	s := newTestSlack(pub, &fakeSlackAPI{})

	s.handleEventsAPI(context.Background(), callback(&slackevents.MessageEvent{Channel: "C999", User: "U1", TimeStamp: "1.0"}))
	s.handleEventsAPI(context.Background(), callback(&slackevents.MessageEvent{Channel: slackChannel, SubType: "message_changed", TimeStamp: "1.0"}))
	s.handleEventsAPI(context.Background(), slackevents.EventsAPIEvent{Type: slackevents.URLVerification})

	assert.Empty(t, pub.all())
}

func TestSlack_UnknownUserFallsBackToID(t *testing.T) {
	pub := &capturePublisher{}
	s := newTestSlack(pub, &fakeSlackAPI{})

	s.handleEventsAPI(context.Background(), callback(&slackevents.MessageEvent{Channel: slackChannel, User: "U404", TimeStamp: "2.5"}))

	events := pub.all()
	require.Len(t, events, 1)
	assert.Equal(t, "U404", events[0].Author)
}

func TestSlack_ReactionSnapshot(t *testing.T) {
	pub := &capturePublisher{}
	api := &fakeSlackAPI{history: []slack.Message{{Msg: slack.Msg{
		Timestamp: "1700000000.000100",
		Reactions: []slack.ItemReaction{{Name: "smile", Count: 3}, {Name: "+1", Count: 1}},
	}}}}
	s := newTestSlack(pub, api)

	s.handleEventsAPI(context.Background(), callback(&slackevents.ReactionRemovedEvent{
		Reaction: "smile",
		Item:     slackevents.Item{Channel: slackChannel, Timestamp: "1700000000.000100"},
	}))

	require.Len(t, api.requests, 1)
	assert.Equal(t, "1700000000.000100", api.requests[0].Latest)
	assert.True(t, api.requests[0].Inclusive)

	events := pub.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventReactionRemoved, events[0].Kind)
	assert.Equal(t, []domain.ReactionCount{{Emoji: ":smile:", Count: 3}, {Emoji: ":+1:", Count: 1}}, events[0].Reactions)
}

func TestSlack_ReactionFetchFailureSkips(t *testing.T) {
	pub := &capturePublisher{}
	s := newTestSlack(pub, &fakeSlackAPI{err: errors.New("ratelimited")})

	s.handleEventsAPI(context.Background(), callback(&slackevents.ReactionAddedEvent{
		Item: slackevents.Item{Channel: slackChannel, Timestamp: "1.0"},
	}))
	assert.Empty(t, pub.all())
}

func TestParseSlackTS(t *testing.T) {
	assert.Equal(t, int64(1700000000), parseSlackTS("1700000000.999999").Unix())
	assert.Equal(t, int64(0), parseSlackTS("garbage").Unix())
}
