package whatsapp

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
	"github.com/nextlevelbuilder/unibox/internal/channels/meta"
	"github.com/nextlevelbuilder/unibox/internal/delivery"
)

const inbound = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "changes": [{
      "value": {
        "metadata": {"display_phone_number": "15550001111"},
        "contacts": [{"wa_id": "849000"}],
        "messages": [
          {"id": "wamid.1", "from": "849000", "type": "text", "timestamp": "1700000000", "text": {"body": "hello"}},
          {"id": "wamid.2", "from": "849000", "type": "image", "timestamp": "1700000005", "image": {"link": "https://cdn/x.jpg"}},
          {"id": "wamid.3", "from": "849000", "type": "sticker", "timestamp": "1700000006"}
        ],
        "statuses": [
          {"id": "wamid.out", "recipient_id": "849000", "status": "delivered", "timestamp": "1700000010"}
        ]
      }
    }]
  }]
}`

func noSleep() *delivery.Executor {
	e := delivery.Default()
	e.Sleep = func(context.Context, time.Duration) error { return nil }
	return e
}

func TestParseIncoming(t *testing.T) {
	a := New(nil, nil, Config{})
	msgs := a.ParseIncoming([]byte(inbound))
	require.Len(t, msgs, 4)

	text := msgs[0]
	assert.Equal(t, bus.ChannelWhatsApp, text.Channel)
	assert.Equal(t, "whatsapp:849000", text.ConversationID)
	assert.Equal(t, "wamid.1", text.MessageID)
	assert.Equal(t, bus.SenderUser, text.Sender)
	assert.Equal(t, bus.TypeText, text.Type)
	assert.Equal(t, "hello", text.Text)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), text.Timestamp)

	img := msgs[1]
	assert.Equal(t, bus.TypeImage, img.Type)
	assert.Equal(t, []bus.Attachment{{Type: bus.AttachmentImage, URL: "https://cdn/x.jpg"}}, img.Attachments)

	assert.Equal(t, bus.TypeUnknown, msgs[2].Type)

	st := msgs[3]
	assert.Equal(t, bus.SenderSystem, st.Sender)
	assert.Equal(t, "delivered", st.Text)
	assert.Equal(t, "wamid.out", st.MessageID)
}

func TestParseIncomingIgnoresGarbage(t *testing.T) {
	a := New(nil, nil, Config{})
	assert.Empty(t, a.ParseIncoming([]byte(`not json`)))
	assert.Empty(t, a.ParseIncoming([]byte(`{"object":"page"}`)))
}

func TestParseIncomingWithoutIDsGetsDistinctLocalIDs(t *testing.T) {
	body := `{"entry":[{"changes":[{"value":{
	  "messages":[
	    {"from":"849000","type":"text","timestamp":"1700000000","text":{"body":"first"}},
	    {"from":"849000","type":"text","timestamp":"1700000001","text":{"body":"second"}}
	  ],
	  "statuses":[{"recipient_id":"849000","status":"read","timestamp":"1700000002"}]
	}}]}]}`

	msgs := New(nil, nil, Config{}).ParseIncoming([]byte(body))
	require.Len(t, msgs, 3)

	seen := map[string]bool{}
	for _, m := range msgs {
		assert.True(t, strings.HasPrefix(m.MessageID, "wa-local-"), m.MessageID)
		assert.False(t, seen[m.MessageID], "duplicate id %s", m.MessageID)
		seen[m.MessageID] = true
	}
}

func TestParseIncomingRestrictsTypes(t *testing.T) {
	body := `{"entry":[{"changes":[{"value":{"messages":[
	  {"id":"wamid.a","from":"1","type":"ai_assist","timestamp":"1700000000","text":{"body":"x"}},
	  {"id":"wamid.b","from":"1","type":"template","timestamp":"1700000000","template":{"name":"welcome"}},
	  {"id":"wamid.c","from":"1","type":"VIDEO","timestamp":"1700000000","video":{"link":"https://cdn/v.mp4"}}
	]}}]}]}`

	msgs := New(nil, nil, Config{}).ParseIncoming([]byte(body))
	require.Len(t, msgs, 3)
	assert.Equal(t, bus.TypeUnknown, msgs[0].Type)
	assert.Equal(t, bus.TypeTemplate, msgs[1].Type)
	assert.Equal(t, "welcome", msgs[1].Text)
	assert.Equal(t, bus.TypeVideo, msgs[2].Type)
}

func TestSendPostsCloudAPIPayload(t *testing.T) {
	var got map[string]any
	var auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.sent"}]}`))
	}))
	defer srv.Close()

	a := New(meta.NewGraphClient(srv.URL, "v19.0", nil), noSleep(), Config{PhoneNumberID: "123", Token: "tok"})
	msg, err := a.Send(context.Background(), channels.SendRequest{RecipientID: "849000", Text: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "/v19.0/123/messages", path)
	assert.Equal(t, "Bearer tok", auth)
	assert.Equal(t, "whatsapp", got["messaging_product"])
	assert.Equal(t, "849000", got["to"])
	assert.Equal(t, map[string]any{"preview_url": false, "body": "hi"}, got["text"])

	assert.Equal(t, "wamid.sent", msg.MessageID)
	assert.Equal(t, "whatsapp:849000", msg.ConversationID)
	assert.Equal(t, bus.SenderAgent, msg.Sender)
}

func TestSendFallbackID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	a := New(meta.NewGraphClient(srv.URL, "", nil), noSleep(), Config{PhoneNumberID: "123", Token: "tok"})
	msg, err := a.Send(context.Background(), channels.SendRequest{RecipientID: "849000", Text: "hi"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(msg.MessageID, "wa-local-"))
}

func TestSendClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad recipient"}}`))
	}))
	defer srv.Close()

	a := New(meta.NewGraphClient(srv.URL, "", nil), noSleep(), Config{PhoneNumberID: "123", Token: "tok"})
	_, err := a.Send(context.Background(), channels.SendRequest{RecipientID: "x", Text: "hi"})

	var sendErr *delivery.UpstreamSendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, http.StatusBadRequest, sendErr.Status())
	assert.EqualValues(t, 1, calls.Load())
}

func TestSendRequiresCredentials(t *testing.T) {
	a := New(meta.NewGraphClient("", "", nil), noSleep(), Config{Token: "tok"})
	_, err := a.Send(context.Background(), channels.SendRequest{RecipientID: "x", Text: "hi"})
	var cfgErr *channels.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, bus.ChannelWhatsApp, cfgErr.Channel)
}
