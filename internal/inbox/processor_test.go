package inbox

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/unibox/internal/bus"
	"github.com/nextlevelbuilder/unibox/internal/store"
	"github.com/nextlevelbuilder/unibox/internal/store/sqlite"
	"github.com/nextlevelbuilder/unibox/pkg/protocol"
)

func newTestProcessor(t *testing.T) (*Processor, *store.Stores, *[]bus.Event) {
	t.Helper()
	d, err := sqlite.Open(filepath.Join(t.TempDir(), "inbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	stores := d.Stores()
	b := bus.New()
	var events []bus.Event
	b.Subscribe("test", func(e bus.Event) { events = append(events, e) })
	return NewProcessor(stores.Conversations, stores.Messages, b), stores, &events
}

func TestProcessIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p, stores, events := newTestProcessor(t)

	msg := bus.Message{
		Channel:        bus.ChannelWhatsApp,
		PlatformUserID: "84901234567",
		MessageID:      "wamid.ABC",
		Type:           bus.TypeText,
		Text:           "xin chao",
		Timestamp:      time.Unix(1700000000, 0),
	}

	first, err := p.Process(ctx, msg)
	require.NoError(t, err)
	second, err := p.Process(ctx, msg)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	require.Len(t, *events, 1, "duplicates must not be published")
	assert.Equal(t, protocol.EventMessageNew, (*events)[0].Name)

	rows, err := stores.Messages.ListMessages(ctx, "whatsapp:84901234567", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	conv, err := stores.Conversations.GetConversation(ctx, "whatsapp:84901234567")
	require.NoError(t, err)
	assert.Equal(t, "xin chao", conv.LastMessage)
	assert.Equal(t, store.ReplyModeAI, conv.ReplyMode)
}

func TestProcessDefaultsTimestamp(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	fixed := time.UnixMilli(1_700_000_123_000).UTC()
	p.now = func() time.Time { return fixed }

	row, err := p.Process(context.Background(), bus.Message{
		Channel: bus.ChannelInstagram, PlatformUserID: "ig1", MessageID: "m1", Type: bus.TypeUnknown,
	})
	require.NoError(t, err)
	assert.Equal(t, fixed, row.Timestamp)
	assert.Equal(t, "instagram:ig1", row.ConversationID)
}

func TestProcessOutOfOrderKeepsNewestTimestamp(t *testing.T) {
	ctx := context.Background()
	p, stores, _ := newTestProcessor(t)
	newer := time.UnixMilli(1_700_000_100_000).UTC()

	_, err := p.Process(ctx, bus.Message{Channel: bus.ChannelMessenger, PlatformUserID: "1", MessageID: "b", Type: bus.TypeText, Text: "second", Timestamp: newer})
	require.NoError(t, err)
	_, err = p.Process(ctx, bus.Message{Channel: bus.ChannelMessenger, PlatformUserID: "1", MessageID: "a", Type: bus.TypeText, Text: "first", Timestamp: newer.Add(-time.Minute)})
	require.NoError(t, err)

	conv, err := stores.Conversations.GetConversation(ctx, "messenger:1")
	require.NoError(t, err)
	assert.Equal(t, newer, conv.LastTS)
	assert.Equal(t, "second", conv.LastMessage)
}
