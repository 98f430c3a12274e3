// Package channels provides the adapter abstraction for multi-platform messaging.
// Each adapter turns a platform webhook payload into canonical bus.Message
// values and delivers outbound text through the platform's send API.
package channels

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/unibox/internal/bus"
)

// SendRequest is an outbound message addressed to one recipient.
type SendRequest struct {
	ConversationID string          `json:"conversation_id,omitempty"`
	RecipientID    string          `json:"recipient_id"`
	Type           bus.MessageType `json:"type,omitempty"`
	Text           string          `json:"text"`
}

// Adapter defines the interface that all channel implementations must satisfy.
type Adapter interface {
	// Name returns the channel identifier.
	Name() bus.Channel

	// ParseIncoming converts a raw webhook body into canonical messages.
	// It never fails: malformed or unknown payloads yield an empty slice or a
	// single system record of type unknown.
	ParseIncoming(raw []byte) []bus.Message

	// Send delivers text to the recipient. The returned message is authored by
	// the agent and carries the platform message id, or a local fallback id
	// when the platform returns none.
	Send(ctx context.Context, req SendRequest) (*bus.Message, error)
}

// ConfigurationError reports missing credentials for a send.
type ConfigurationError struct {
	Channel bus.Channel
	Missing string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s channel is not configured: missing %s", e.Channel, e.Missing)
}

// UnsupportedChannelError reports a channel name with no registered adapter.
type UnsupportedChannelError struct {
	Channel string
}

func (e *UnsupportedChannelError) Error() string {
	return fmt.Sprintf("unsupported channel %q", e.Channel)
}

// LocalMessageID builds a fallback id such as "wa-local-<uuid>".
func LocalMessageID(prefix string) string {
	return prefix + "-local-" + uuid.NewString()
}

// Outbound builds the agent-authored message returned by Send.
func Outbound(ch bus.Channel, req SendRequest, messageID string, raw any) *bus.Message {
	typ := req.Type
	if typ == "" {
		typ = bus.TypeText
	}
	convID := req.ConversationID
	if convID == "" {
		convID = bus.ConversationKey(ch, req.RecipientID)
	}
	return &bus.Message{
		Channel:        ch,
		PlatformUserID: req.RecipientID,
		ConversationID: convID,
		MessageID:      messageID,
		Sender:         bus.SenderAgent,
		Type:           typ,
		Text:           req.Text,
		Metadata:       map[string]any{bus.MetaRaw: raw},
		Timestamp:      time.Now(),
	}
}

// UnknownRecord is the system record emitted for payloads with no modelled
// message content.
func UnknownRecord(ch bus.Channel, conversationID, messageID, text string, raw any) bus.Message {
	if messageID == "" {
		messageID = LocalMessageID(string(ch))
	}
	return bus.Message{
		Channel:        ch,
		PlatformUserID: bus.RemoteID(conversationID),
		ConversationID: conversationID,
		MessageID:      messageID,
		Sender:         bus.SenderSystem,
		Type:           bus.TypeUnknown,
		Text:           text,
		Metadata:       map[string]any{bus.MetaRaw: raw},
		Timestamp:      time.Now(),
	}
}
