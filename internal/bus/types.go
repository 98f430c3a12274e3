package bus

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Channel identifies the messaging platform a message travelled through.
type Channel string

const (
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelMessenger Channel = "messenger"
	ChannelInstagram Channel = "instagram"
	ChannelTelegram  Channel = "telegram"
)

// Channels lists every supported channel in a stable order.
var Channels = []Channel{ChannelWhatsApp, ChannelMessenger, ChannelInstagram, ChannelTelegram}

// ParseChannel returns the channel for name and whether it is supported.
func ParseChannel(name string) (Channel, bool) {
	c := Channel(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Channels {
		if c == known {
			return c, true
		}
	}
	return c, false
}

// Sender is the party that authored a message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAgent  Sender = "agent"
	SenderSystem Sender = "system"
)

// MessageType classifies message content.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeVideo    MessageType = "video"
	TypeTemplate MessageType = "template"
	TypeAIAssist MessageType = "ai_assist"
	TypeUnknown  MessageType = "unknown"
)

// ParseMessageType maps free-form platform type names onto the closed set.
func ParseMessageType(s string) MessageType {
	switch t := MessageType(strings.ToLower(s)); t {
	case TypeText, TypeImage, TypeVideo, TypeTemplate, TypeAIAssist:
		return t
	default:
		return TypeUnknown
	}
}

// AttachmentType is the media kind of an attachment.
type AttachmentType string

const (
	AttachmentImage   AttachmentType = "image"
	AttachmentVideo   AttachmentType = "video"
	AttachmentUnknown AttachmentType = "unknown"
)

// Attachment references media carried by a message.
type Attachment struct {
	Type AttachmentType `json:"type"`
	URL  string         `json:"url"`
}

// Metadata keys shared across packages.
const (
	MetaRaw    = "raw"
	MetaOrigin = "origin"
	MetaAI     = "ai"
	MetaCached = "cached"

	OriginAI = "ai"
)

// Message is the canonical, platform-independent message produced by channel
// adapters and consumed by the inbox pipeline.
type Message struct {
	Channel        Channel        `json:"channel"`
	PlatformUserID string         `json:"platform_user_id"`
	ConversationID string         `json:"conversation_id"`
	MessageID      string         `json:"message_id"`
	Sender         Sender         `json:"sender"`
	Type           MessageType    `json:"type"`
	Text           string         `json:"text,omitempty"`
	Attachments    []Attachment   `json:"attachments,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// ConversationKey builds the default "{channel}:{platform_user_id}" id.
func ConversationKey(ch Channel, platformUserID string) string {
	return string(ch) + ":" + platformUserID
}

// RemoteID returns the part of a conversation id after the first ':'.
// Ids without a separator are returned unchanged.
func RemoteID(conversationID string) string {
	if _, after, ok := strings.Cut(conversationID, ":"); ok {
		return after
	}
	return conversationID
}

// Normalize fills defaults the adapters may leave empty.
func (m *Message) Normalize(now time.Time) {
	if m.ConversationID == "" && m.PlatformUserID != "" {
		m.ConversationID = ConversationKey(m.Channel, m.PlatformUserID)
	}
	if m.MessageID == "" {
		m.MessageID = string(m.Channel) + "-local-" + uuid.NewString()
	}
	if m.Sender == "" {
		m.Sender = SenderUser
	}
	if m.Type == "" {
		m.Type = TypeUnknown
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
}

// Event represents a server-side event to broadcast to realtime subscribers.
type Event struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
// Used by the inbox pipeline and the websocket gateway to decouple from MessageBus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}
