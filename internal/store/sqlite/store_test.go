package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/unibox/internal/bus"
	"github.com/nextlevelbuilder/unibox/internal/store"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func textMessage(id, text string, ts time.Time) bus.Message {
	return bus.Message{
		Channel:        bus.ChannelMessenger,
		PlatformUserID: "u1",
		ConversationID: "messenger:u1",
		MessageID:      id,
		Sender:         bus.SenderUser,
		Type:           bus.TypeText,
		Text:           text,
		Timestamp:      ts,
		Metadata:       map[string]any{"raw": map[string]any{"mid": id}},
	}
}

func TestUpsertKeepsLastTSMonotonic(t *testing.T) {
	ctx := context.Background()
	convs := openTestDB(t).Stores().Conversations

	t1 := time.UnixMilli(1_700_000_010_000).UTC()
	t0 := t1.Add(-10 * time.Second)

	c, err := convs.UpsertConversation(ctx, store.UpsertFor(textMessage("m2", "newer", t1)))
	require.NoError(t, err)
	assert.Equal(t, t1, c.LastTS)
	assert.Equal(t, store.ReplyModeAI, c.ReplyMode)

	c, err = convs.UpsertConversation(ctx, store.UpsertFor(textMessage("m1", "older", t0)))
	require.NoError(t, err)
	assert.Equal(t, t1, c.LastTS, "last_ts must not move backward")
	assert.Equal(t, "newer", c.LastMessage, "last_message follows the newest message")

	t2 := t1.Add(time.Second)
	c, err = convs.UpsertConversation(ctx, store.UpsertFor(textMessage("m3", "newest", t2)))
	require.NoError(t, err)
	assert.Equal(t, t2, c.LastTS)
	assert.Equal(t, "newest", c.LastMessage)
}

func TestCreateMessageRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	stores := openTestDB(t).Stores()
	msg := textMessage("mid.1", "hello", time.Now())

	_, err := stores.Conversations.UpsertConversation(ctx, store.UpsertFor(msg))
	require.NoError(t, err)

	first := store.MessageFor(msg)
	require.NoError(t, stores.Messages.CreateMessage(ctx, first))
	assert.NotZero(t, first.ID)

	err = stores.Messages.CreateMessage(ctx, store.MessageFor(msg))
	assert.ErrorIs(t, err, store.ErrDuplicateMessage)
	var dup *store.DuplicateMessageError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "mid.1", dup.MessageID)

	got, err := stores.Messages.GetMessage(ctx, "messenger", "mid.1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, map[string]any{"mid": "mid.1"}, got.Metadata["raw"])
}

func TestSameMessageIDOnDifferentChannels(t *testing.T) {
	ctx := context.Background()
	stores := openTestDB(t).Stores()

	a := textMessage("10", "a", time.Now())
	b := a
	b.Channel = bus.ChannelTelegram
	b.ConversationID = "telegram:555"

	for _, m := range []bus.Message{a, b} {
		_, err := stores.Conversations.UpsertConversation(ctx, store.UpsertFor(m))
		require.NoError(t, err)
		require.NoError(t, stores.Messages.CreateMessage(ctx, store.MessageFor(m)))
	}
}

func TestConcurrentDuplicateInsertsPersistOnce(t *testing.T) {
	ctx := context.Background()
	stores := openTestDB(t).Stores()
	msg := textMessage("race", "hi", time.Now())
	_, err := stores.Conversations.UpsertConversation(ctx, store.UpsertFor(msg))
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = stores.Messages.CreateMessage(ctx, store.MessageFor(msg))
		}()
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, store.ErrDuplicateMessage)
	}
	assert.Equal(t, 1, created)

	all, err := stores.Messages.ListMessages(ctx, "messenger:u1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRecentMessagesOldestFirst(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	clock := time.UnixMilli(1_700_000_000_000)
	d.SetNowFunc(func() time.Time { clock = clock.Add(time.Millisecond); return clock })
	stores := d.Stores()

	for i := range 15 {
		m := textMessage(string(rune('a'+i)), string(rune('a'+i)), clock)
		_, err := stores.Conversations.UpsertConversation(ctx, store.UpsertFor(m))
		require.NoError(t, err)
		require.NoError(t, stores.Messages.CreateMessage(ctx, store.MessageFor(m)))
	}

	recent, err := stores.Messages.RecentMessages(ctx, "messenger:u1", 12)
	require.NoError(t, err)
	require.Len(t, recent, 12)
	assert.Equal(t, "d", recent[0].Text)
	assert.Equal(t, "o", recent[11].Text)

	all, err := stores.Messages.ListMessages(ctx, "messenger:u1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 15)
	assert.Equal(t, "a", all[0].Text)
}

func TestLatestBySender(t *testing.T) {
	ctx := context.Background()
	stores := openTestDB(t).Stores()

	_, err := stores.Messages.LatestBySender(ctx, "messenger:u1", bus.SenderAgent)
	assert.ErrorIs(t, err, store.ErrNotFound)

	m := textMessage("agent-1", "reply", time.Now())
	m.Sender = bus.SenderAgent
	_, err = stores.Conversations.UpsertConversation(ctx, store.UpsertFor(m))
	require.NoError(t, err)
	require.NoError(t, stores.Messages.CreateMessage(ctx, store.MessageFor(m)))

	got, err := stores.Messages.LatestBySender(ctx, "messenger:u1", bus.SenderAgent)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", got.MessageID)
}

func TestListConversationsFilterAndReplyMode(t *testing.T) {
	ctx := context.Background()
	stores := openTestDB(t).Stores()
	base := time.UnixMilli(1_700_000_000_000)

	for i, ch := range []bus.Channel{bus.ChannelWhatsApp, bus.ChannelTelegram, bus.ChannelMessenger} {
		m := bus.Message{Channel: ch, PlatformUserID: "p", MessageID: "x", Type: bus.TypeImage,
			Attachments: []bus.Attachment{{Type: bus.AttachmentImage, URL: "u"}}, Timestamp: base.Add(time.Duration(i) * time.Second)}
		m.Normalize(base)
		_, err := stores.Conversations.UpsertConversation(ctx, store.UpsertFor(m))
		require.NoError(t, err)
	}

	all, err := stores.Conversations.ListConversations(ctx, store.ConversationListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "messenger:p", all[0].ConversationID, "newest first")
	assert.Equal(t, "[image attachment]", all[0].LastMessage)

	filtered, err := stores.Conversations.ListConversations(ctx, store.ConversationListOpts{
		Channels: []string{"whatsapp", "telegram"},
	})
	require.NoError(t, err)
	assert.Len(t, filtered, 2)

	c, err := stores.Conversations.SetReplyMode(ctx, "telegram:p", store.ReplyModeManual)
	require.NoError(t, err)
	assert.Equal(t, store.ReplyModeManual, c.ReplyMode)

	_, err = stores.Conversations.SetReplyMode(ctx, "telegram:missing", store.ReplyModeManual)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
