package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/unibox/internal/bus"
	"github.com/nextlevelbuilder/unibox/internal/channels"
	"github.com/nextlevelbuilder/unibox/internal/store"
	"github.com/nextlevelbuilder/unibox/pkg/protocol"
)

// Recorder persists outbound messages; *inbox.Processor implements it.
type Recorder interface {
	Process(ctx context.Context, msg bus.Message) (*store.MessageData, error)
}

// InboxHandler serves the agent-facing REST API.
type InboxHandler struct {
	conversations store.ConversationStore
	messages      store.MessageStore
	adapters      *channels.Registry
	recorder      Recorder
	events        bus.EventPublisher
	token         string
}

// NewInboxHandler creates the REST handler. events may be nil.
func NewInboxHandler(conversations store.ConversationStore, messages store.MessageStore, adapters *channels.Registry, recorder Recorder, events bus.EventPublisher, token string) *InboxHandler {
	return &InboxHandler{
		conversations: conversations,
		messages:      messages,
		adapters:      adapters,
		recorder:      recorder,
		events:        events,
		token:         token,
	}
}

// RegisterRoutes registers all inbox routes on the given mux.
func (h *InboxHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/conversations", requireToken(h.token, h.handleListConversations))
	mux.HandleFunc("GET /api/conversations/{id}/messages", requireToken(h.token, h.handleListMessages))
	mux.HandleFunc("PUT /api/conversations/{id}/reply-mode", requireToken(h.token, h.handleSetReplyMode))
	mux.HandleFunc("POST /api/send", requireToken(h.token, h.handleSend))
}

func (h *InboxHandler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	opts := store.ConversationListOpts{
		Limit: queryLimit(r, store.DefaultConversationListLimit, 500),
	}
	if v := r.URL.Query().Get("channel"); v != "" {
		for _, name := range strings.Split(v, ",") {
			ch, ok := bus.ParseChannel(name)
			if !ok {
				writeErr(w, &channels.UnsupportedChannelError{Channel: name})
				return
			}
			opts.Channels = append(opts.Channels, string(ch))
		}
	}

	convs, err := h.conversations.ListConversations(r.Context(), opts)
	if err != nil {
		writeErr(w, err)
		return
	}
	if convs == nil {
		convs = []store.ConversationData{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *InboxHandler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	msgs, err := h.messages.ListMessages(r.Context(), id, queryLimit(r, store.DefaultMessageListLimit, 1000))
	if err != nil {
		writeErr(w, err)
		return
	}
	if msgs == nil {
		msgs = []store.MessageData{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type replyModeRequest struct {
	ReplyMode string `json:"reply_mode" validate:"required,oneof=ai manual"`
}

func (h *InboxHandler) handleSetReplyMode(w http.ResponseWriter, r *http.Request) {
	var body replyModeRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	conv, err := h.conversations.SetReplyMode(r.Context(), r.PathValue("id"), store.ReplyMode(body.ReplyMode))
	if err != nil {
		writeErr(w, err)
		return
	}
	slog.Info("conversation.reply_mode", "conversation_id", conv.ConversationID, "reply_mode", conv.ReplyMode)
	if h.events != nil {
		h.events.Broadcast(bus.Event{Name: protocol.EventConversationUpdated, Payload: conv})
	}
	writeJSON(w, http.StatusOK, conv)
}

type sendRequest struct {
	Channel        string `json:"channel" validate:"required"`
	ConversationID string `json:"conversation_id"`
	RecipientID    string `json:"recipient_id" validate:"required"`
	Type           string `json:"type" validate:"omitempty,oneof=text"`
	Text           string `json:"text" validate:"required"`
}

func (h *InboxHandler) handleSend(w http.ResponseWriter, r *http.Request) {
	var body sendRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	adapter, err := h.adapters.Lookup(body.Channel)
	if err != nil {
		writeErr(w, err)
		return
	}

	slog.Info("outbound.attempt", "channel", adapter.Name(), "conversation_id", body.ConversationID, "recipient_id", body.RecipientID)
	sent, err := adapter.Send(r.Context(), channels.SendRequest{
		ConversationID: body.ConversationID,
		RecipientID:    body.RecipientID,
		Type:           bus.ParseMessageType(firstNonEmpty(body.Type, string(bus.TypeText))),
		Text:           body.Text,
	})
	if err != nil {
		slog.Warn("outbound.failed", "channel", adapter.Name(), "recipient_id", body.RecipientID, "error", err)
		writeErr(w, err)
		return
	}

	saved, err := h.recorder.Process(r.Context(), *sent)
	if err != nil {
		writeErr(w, err)
		return
	}
	slog.Info("outbound.success", "channel", adapter.Name(), "conversation_id", saved.ConversationID, "message_id", saved.MessageID)
	writeJSON(w, http.StatusOK, map[string]any{"status": "sent", "message": saved})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
