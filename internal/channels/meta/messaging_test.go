package meta

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/unibox/internal/bus"
	"github.com/nextlevelbuilder/unibox/internal/channels"
	"github.com/nextlevelbuilder/unibox/internal/delivery"
)

const messagingBody = `{
  "object": "page",
  "entry": [{
    "messaging": [
      {"sender": {"id": "psid1"}, "timestamp": 1700000000123, "message": {"mid": "m_1", "text": "hey"}},
      {"sender": {"id": "psid1"}, "timestamp": 1700000000200, "message": {"mid": "m_2", "attachments": [
        {"type": "video", "payload": {"url": "https://cdn/v.mp4"}},
        {"type": "file", "payload": {"url": "https://cdn/f.pdf"}}
      ]}},
      {"sender": {"id": "psid1"}, "timestamp": 1700000000300, "postback": {"title": "Get started", "payload": "START"}},
      {"sender": {"id": "psid1"}, "timestamp": 1700000000400, "read": {"watermark": 1}}
    ]
  }]
}`

func noSleep() *delivery.Executor {
	e := delivery.Default()
	e.Sleep = func(context.Context, time.Duration) error { return nil }
	return e
}

func TestParseMessagingWithPostbacks(t *testing.T) {
	msgs := ParseMessaging(bus.ChannelMessenger, []byte(messagingBody), ParseOptions{Postbacks: true, LocalPrefix: "ms"})
	require.Len(t, msgs, 3)

	assert.Equal(t, "messenger:psid1", msgs[0].ConversationID)
	assert.Equal(t, "m_1", msgs[0].MessageID)
	assert.Equal(t, bus.TypeText, msgs[0].Type)
	assert.Equal(t, time.UnixMilli(1700000000123).UTC(), msgs[0].Timestamp)
	assert.NotNil(t, msgs[0].Metadata[bus.MetaRaw])

	assert.Equal(t, bus.TypeVideo, msgs[1].Type)
	assert.Equal(t, []bus.Attachment{{Type: bus.AttachmentVideo, URL: "https://cdn/v.mp4"}}, msgs[1].Attachments)

	assert.Equal(t, bus.TypeTemplate, msgs[2].Type)
	assert.Equal(t, "Get started", msgs[2].Text)
	assert.Equal(t, "postback-psid1-1700000000300", msgs[2].MessageID)
}

func TestParseMessagingWithoutPostbacks(t *testing.T) {
	msgs := ParseMessaging(bus.ChannelInstagram, []byte(messagingBody), ParseOptions{LocalPrefix: "ig"})
	require.Len(t, msgs, 2)
	assert.Equal(t, "instagram:psid1", msgs[0].ConversationID)
}

func TestParseMessagingMissingMid(t *testing.T) {
	body := `{"entry":[{"messaging":[{"sender":{"id":"u"},"message":{"text":"x"}}]}]}`
	msgs := ParseMessaging(bus.ChannelInstagram, []byte(body), ParseOptions{LocalPrefix: "ig"})
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0].MessageID, "ig-local-"))
	assert.True(t, msgs[0].Timestamp.IsZero())
}

func TestSendMessagingTagAndToken(t *testing.T) {
	var body map[string]any
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("access_token")
		assert.Equal(t, "/v19.0/me/messages", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"recipient_id":"ig9","message_id":"mid.out"}`))
	}))
	defer srv.Close()

	msg, err := SendMessaging(context.Background(), NewGraphClient(srv.URL, "v19.0", nil), noSleep(),
		SendOptions{Channel: bus.ChannelInstagram, AccessToken: "page-tok", LocalPrefix: "ig", Tag: "HUMAN_AGENT"},
		channels.SendRequest{RecipientID: "ig9", Text: "thanks"})
	require.NoError(t, err)

	assert.Equal(t, "page-tok", query)
	assert.Equal(t, "RESPONSE", body["messaging_type"])
	assert.Equal(t, "HUMAN_AGENT", body["tag"])
	assert.Equal(t, map[string]any{"id": "ig9"}, body["recipient"])
	assert.Equal(t, map[string]any{"text": "thanks"}, body["message"])
	assert.Equal(t, "mid.out", msg.MessageID)
	assert.Equal(t, "instagram:ig9", msg.ConversationID)
}

func TestSendMessagingRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	msg, err := SendMessaging(context.Background(), NewGraphClient(srv.URL, "", nil), noSleep(),
		SendOptions{Channel: bus.ChannelMessenger, AccessToken: "tok", LocalPrefix: "ms"},
		channels.SendRequest{RecipientID: "psid1", Text: "hi"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
	assert.True(t, strings.HasPrefix(msg.MessageID, "ms-local-"))
}

func TestSendMessagingWithoutToken(t *testing.T) {
	_, err := SendMessaging(context.Background(), NewGraphClient("", "", nil), noSleep(),
		SendOptions{Channel: bus.ChannelMessenger}, channels.SendRequest{RecipientID: "psid1", Text: "hi"})
	var cfgErr *channels.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}
