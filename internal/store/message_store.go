package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/unibox/internal/bus"
)

const (
	DefaultConversationListLimit = 50
	DefaultMessageListLimit      = 200
)

// MessageData is one persisted message. Rows are immutable once created.
type MessageData struct {
	ID             uuid.UUID        `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Channel        string           `json:"channel"`
	MessageID      string           `json:"message_id"`
	Sender         bus.Sender       `json:"sender"`
	Type           bus.MessageType  `json:"type"`
	Text           string           `json:"text,omitempty"`
	Attachments    []bus.Attachment `json:"attachments"`
	Metadata       map[string]any   `json:"metadata"`
	Timestamp      time.Time        `json:"timestamp"`
	CreatedAt      time.Time        `json:"created_at"`
}

// MessageStore persists messages. CreateMessage relies on the storage-level
// UNIQUE(channel, message_id) index and returns a *DuplicateMessageError
// on conflict.
type MessageStore interface {
	// CreateMessage inserts m, assigning ID and CreatedAt.
	CreateMessage(ctx context.Context, m *MessageData) error
	GetMessage(ctx context.Context, channel, messageID string) (*MessageData, error)
	// ListMessages returns up to limit messages, oldest first.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]MessageData, error)
	// RecentMessages returns the newest limit messages, ordered oldest first.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]MessageData, error)
	// LatestBySender returns the newest message from sender, or ErrNotFound.
	LatestBySender(ctx context.Context, conversationID string, sender bus.Sender) (*MessageData, error)
}

// MessageFor converts a canonical message into a row ready for insertion.
func MessageFor(m bus.Message) *MessageData {
	attachments := m.Attachments
	if attachments == nil {
		attachments = []bus.Attachment{}
	}
	metadata := m.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &MessageData{
		ConversationID: m.ConversationID,
		Channel:        string(m.Channel),
		MessageID:      m.MessageID,
		Sender:         m.Sender,
		Type:           m.Type,
		Text:           m.Text,
		Attachments:    attachments,
		Metadata:       metadata,
		Timestamp:      m.Timestamp,
	}
}
