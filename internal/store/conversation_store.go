package store

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/unibox/internal/bus"
)

// ReplyMode selects who answers a conversation.
type ReplyMode string

const (
	ReplyModeAI     ReplyMode = "ai"
	ReplyModeManual ReplyMode = "manual"
)

// Valid reports whether m is a known reply mode.
func (m ReplyMode) Valid() bool {
	return m == ReplyModeAI || m == ReplyModeManual
}

// ConversationData is one durable conversation row.
type ConversationData struct {
	ConversationID string    `json:"conversation_id"`
	Channel        string    `json:"channel"`
	PlatformUserID string    `json:"platform_user_id"`
	LastMessage    string    `json:"last_message"`
	LastTS         time.Time `json:"last_ts"`
	ReplyMode      ReplyMode `json:"reply_mode"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ConversationUpsert carries the fields written on every message.
// LastTS only moves forward; LastMessage follows whichever message is newest.
type ConversationUpsert struct {
	ConversationID string
	Channel        string
	PlatformUserID string
	LastMessage    string
	LastTS         time.Time
}

// ConversationListOpts filters ListConversations.
type ConversationListOpts struct {
	Channels []string
	Limit    int
}

// ConversationStore owns the conversation lifecycle.
type ConversationStore interface {
	UpsertConversation(ctx context.Context, u ConversationUpsert) (*ConversationData, error)
	GetConversation(ctx context.Context, conversationID string) (*ConversationData, error)
	// ListConversations returns conversations newest last_ts first.
	ListConversations(ctx context.Context, opts ConversationListOpts) ([]ConversationData, error)
	SetReplyMode(ctx context.Context, conversationID string, mode ReplyMode) (*ConversationData, error)
}

// Preview renders the last_message summary for m: its text, else
// "[<type> attachment]" for the first attachment, else "[<type>]".
func Preview(m bus.Message) string {
	if m.Text != "" {
		return m.Text
	}
	if len(m.Attachments) > 0 {
		return "[" + string(m.Attachments[0].Type) + " attachment]"
	}
	return "[" + string(m.Type) + "]"
}

// UpsertFor builds the conversation write for message m.
func UpsertFor(m bus.Message) ConversationUpsert {
	return ConversationUpsert{
		ConversationID: m.ConversationID,
		Channel:        string(m.Channel),
		PlatformUserID: m.PlatformUserID,
		LastMessage:    Preview(m),
		LastTS:         m.Timestamp,
	}
}
