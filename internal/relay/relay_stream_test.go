package relay

import (
	"context"
	"testing"
	"time"

	"discordrelay/internal/domain"
	"discordrelay/internal/stream"
	"discordrelay/internal/wire"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelay_EndToEndOverWebsocket(t *testing.T) {
	slot := stream.NewSlot()
	acc := stream.NewAcceptor(stream.AcceptorConfig{Port: 0, Slot: slot, Logger: testLogger()})
	require.NoError(t, acc.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go acc.Serve(ctx)

	url := "ws://" + acc.Addr().String() + "/"
	r := New(Config{Target: target, Sender: slot, Logger: testLogger()})

	connect := func(prev string) (*websocket.Conn, string) {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		var id string
		require.Eventually(t, func() bool {
			var state stream.State
			state, id = slot.Snapshot()
			return state == stream.Occupied && id != prev
		}, 2*time.Second, 5*time.Millisecond)
		return conn, id
	}

	a, idA := connect("")
	r.Handle(ctx, domain.Event{
		Kind:      domain.EventMessageCreated,
		ChannelID: target,
		MessageID: "1",
		Author:    "alice",
		Content:   "first",
		Timestamp: time.Unix(1700000000, 0),
	})

	a.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := a.ReadMessage()
	require.NoError(t, err)
	got, err := wire.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Content)
	assert.Nil(t, got.Reactions)

	b, _ := connect(idA)
	r.Handle(ctx, domain.Event{
		Kind:      domain.EventReactionAdded,
		ChannelID: target,
		MessageID: "1",
		Timestamp: time.Unix(1700000000, 0),
		Reactions: []domain.ReactionCount{{Emoji: "🎉", Count: 2}},
	})

	b.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err = b.ReadMessage()
	require.NoError(t, err)
	got, err = wire.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, wire.TypeReaction, got.MessageType)
	assert.Equal(t, []wire.ReactionInfo{{Emoji: "🎉", Count: 2, MessageID: "1"}}, got.Reactions)

	a.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, _, err = a.ReadMessage()
	assert.Error(t, err, "superseded client must not receive further events")
}
