package bus

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	b := New()
	var got []string
	b.Subscribe("a", func(e Event) { got = append(got, "a:"+e.Name) })
	b.Subscribe("b", func(e Event) { got = append(got, "b:"+e.Name) })

	b.Broadcast(Event{Name: "message.new"})

	assert.ElementsMatch(t, []string{"a:message.new", "b:message.new"}, got)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	calls := 0
	b.Subscribe("a", func(Event) { calls++ })
	b.Unsubscribe("a")
	b.Broadcast(Event{Name: "message.new"})
	assert.Zero(t, calls)
	assert.Zero(t, b.Subscribers())
}

func TestBroadcastSurvivesPanickingHandler(t *testing.T) {
	b := New()
	delivered := false
	b.Subscribe("bad", func(Event) { panic("boom") })
	b.Subscribe("good", func(Event) { delivered = true })

	require.NotPanics(t, func() { b.Broadcast(Event{Name: "x"}) })
	assert.True(t, delivered)
}

func TestRemoteID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"telegram:555", "555"},
		{"whatsapp:8490:extra", "8490:extra"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RemoteID(tt.in), tt.in)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := Message{Channel: ChannelMessenger, PlatformUserID: "42"}
	m.Normalize(now)

	assert.Equal(t, "messenger:42", m.ConversationID)
	assert.Equal(t, SenderUser, m.Sender)
	assert.Equal(t, TypeUnknown, m.Type)
	assert.Equal(t, now, m.Timestamp)
	assert.NotNil(t, m.Metadata)
	assert.True(t, strings.HasPrefix(m.MessageID, "messenger-local-"), m.MessageID)

	other := Message{Channel: ChannelMessenger, PlatformUserID: "42"}
	other.Normalize(now)
	assert.NotEqual(t, m.MessageID, other.MessageID, "id-less messages never share a key")

	kept := Message{Channel: ChannelTelegram, MessageID: "10"}
	kept.Normalize(now)
	assert.Equal(t, "10", kept.MessageID)
}

func TestParseChannel(t *testing.T) {
	c, ok := ParseChannel(" Telegram ")
	assert.True(t, ok)
	assert.Equal(t, ChannelTelegram, c)

	_, ok = ParseChannel("sms")
	assert.False(t, ok)
}
