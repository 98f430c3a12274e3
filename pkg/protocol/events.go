package protocol

// ProtocolVersion is bumped on incompatible changes to realtime frames.
const ProtocolVersion = 1

// Realtime event names pushed from server to client.
const (
	// EventMessageNew carries a newly persisted message (payload: store.MessageData).
	EventMessageNew = "message.new"

	// EventConversationUpdated fires when a conversation setting changes (payload: store.ConversationData).
	EventConversationUpdated = "conversation.updated"

	EventHealth   = "health"
	EventShutdown = "shutdown"

	// Internal events, not forwarded to websocket clients.
	EventCacheInvalidate = "cache.invalidate"
)

// Frame types.
const (
	FrameTypeEvent = "event"
)

// EventFrame is the JSON envelope written to websocket clients.
type EventFrame struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
	Seq     int64  `json:"seq,omitempty"`
}

// NewEvent builds an event frame.
func NewEvent(name string, payload any) *EventFrame {
	return &EventFrame{Type: FrameTypeEvent, Event: name, Payload: payload}
}
