package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/unibox/internal/bus"
	"github.com/nextlevelbuilder/unibox/internal/config"
	"github.com/nextlevelbuilder/unibox/pkg/protocol"
)

type pingRoute struct{}

func (pingRoute) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("pong")) })
}

func startServer(t *testing.T, cfg config.GatewayConfig) (*Server, *bus.MessageBus, *httptest.Server) {
	t.Helper()
	events := bus.New()
	s := NewServer(cfg, events, pingRoute{})
	ts := httptest.NewServer(s.BuildMux())
	t.Cleanup(func() {
		s.closeClients()
		ts.Close()
	})
	return s, events, ts
}

func wsURL(ts *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
}

func TestHealthAndMountedRoutes(t *testing.T) {
	_, _, ts := startServer(t, config.GatewayConfig{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(ts.URL + "/ping")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestRealtimeFanOut(t *testing.T) {
	s, events, ts := startServer(t, config.GatewayConfig{})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, ""), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	events.Broadcast(bus.Event{Name: protocol.EventCacheInvalidate, Payload: "config"})
	events.Broadcast(bus.Event{Name: protocol.EventMessageNew, Payload: map[string]any{"message_id": "10"}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame struct {
		Type    string         `json:"type"`
		Event   string         `json:"event"`
		Seq     int64          `json:"seq"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, protocol.FrameTypeEvent, frame.Type)
	assert.Equal(t, protocol.EventMessageNew, frame.Event, "cache events are not forwarded")
	assert.Equal(t, int64(1), frame.Seq)
	assert.Equal(t, "10", frame.Payload["message_id"])

	conn.Close()
	require.Eventually(t, func() bool { return s.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, events.Subscribers())
}

func TestWebSocketOriginWhitelist(t *testing.T) {
	_, _, ts := startServer(t, config.GatewayConfig{AllowedOrigins: config.FlexibleStringSlice{"https://inbox.example"}})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, ""), http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, ""), http.Header{"Origin": {"https://inbox.example"}})
	require.NoError(t, err)
	conn.Close()
}

func TestWebSocketToken(t *testing.T) {
	_, _, ts := startServer(t, config.GatewayConfig{Token: "s3cret"})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, ""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(ts, "?token=s3cre"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "a token prefix is not accepted")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "?token=s3cret"), nil)
	require.NoError(t, err)
	conn.Close()

	conn, _, err = websocket.DefaultDialer.Dial(wsURL(ts, ""), http.Header{"Authorization": {"Bearer s3cret"}})
	require.NoError(t, err)
	conn.Close()
}

func TestSendEventDropsWhenQueueFull(t *testing.T) {
	c := &Client{id: "c1", send: make(chan *protocol.EventFrame, 1), done: make(chan struct{})}
	c.SendEvent(protocol.NewEvent("a", nil))
	c.SendEvent(protocol.NewEvent("b", nil))
	require.Len(t, c.send, 1)
	assert.Equal(t, "a", (<-c.send).Event)

	c.Close()
	c.SendEvent(protocol.NewEvent("c", nil))
	assert.Empty(t, c.send)
}
