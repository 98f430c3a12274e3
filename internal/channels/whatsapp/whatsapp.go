// Package whatsapp implements the WhatsApp Cloud API adapter.
package whatsapp

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/unibox/internal/bus"
	"github.com/nextlevelbuilder/unibox/internal/channels"
	"github.com/nextlevelbuilder/unibox/internal/channels/meta"
	"github.com/nextlevelbuilder/unibox/internal/delivery"
)

const localPrefix = "wa"

// Config holds the Cloud API credentials.
type Config struct {
	PhoneNumberID string
	Token         string
}

// Adapter parses Cloud API webhooks and sends text through
// /{phone_number_id}/messages.
type Adapter struct {
	graph *meta.GraphClient
	exec  *delivery.Executor
	cfg   Config
}

func New(graph *meta.GraphClient, exec *delivery.Executor, cfg Config) *Adapter {
	return &Adapter{graph: graph, exec: exec, cfg: cfg}
}

func (a *Adapter) Name() bus.Channel { return bus.ChannelWhatsApp }

type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value changeValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type changeValue struct {
	Metadata struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
	} `json:"metadata"`
	Contacts []struct {
		WaID string `json:"wa_id"`
	} `json:"contacts"`
	Messages []json.RawMessage `json:"messages"`
	Statuses []json.RawMessage `json:"statuses"`
}

type inboundMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive *struct {
		Body struct {
			Text string `json:"text"`
		} `json:"body"`
	} `json:"interactive"`
	Template *struct {
		Name string `json:"name"`
	} `json:"template"`
	Image *media `json:"image"`
	Video *media `json:"video"`
}

type media struct {
	Link string `json:"link"`
}

type status struct {
	ID          string `json:"id"`
	RecipientID string `json:"recipient_id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
}

// ParseIncoming walks entry[].changes[].value and emits one message per
// inbound message and one system record per delivery status.
func (a *Adapter) ParseIncoming(raw []byte) []bus.Message {
	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		slog.Debug("whatsapp.parse_failed", "error", err)
		return nil
	}

	var out []bus.Message
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			out = append(out, parseChange(change.Value)...)
		}
	}
	return out
}

func parseChange(v changeValue) []bus.Message {
	waID := v.Metadata.DisplayPhoneNumber
	if len(v.Contacts) > 0 && v.Contacts[0].WaID != "" {
		waID = v.Contacts[0].WaID
	}

	var out []bus.Message
	for _, rawMsg := range v.Messages {
		var m inboundMessage
		if err := json.Unmarshal(rawMsg, &m); err != nil {
			continue
		}
		user := m.From
		sender := bus.SenderUser
		if user == "" {
			user = waID
			sender = bus.SenderSystem
		}
		id := m.ID
		if id == "" {
			id = channels.LocalMessageID(localPrefix)
		}
		out = append(out, bus.Message{
			Channel:        bus.ChannelWhatsApp,
			PlatformUserID: user,
			ConversationID: bus.ConversationKey(bus.ChannelWhatsApp, user),
			MessageID:      id,
			Sender:         sender,
			Type:           messageType(m.Type),
			Text:           m.text(),
			Attachments:    m.attachments(),
			Metadata:       map[string]any{bus.MetaRaw: rawObject(rawMsg)},
			Timestamp:      unixSeconds(m.Timestamp),
		})
	}

	for _, rawStatus := range v.Statuses {
		var s status
		if err := json.Unmarshal(rawStatus, &s); err != nil {
			continue
		}
		user := s.RecipientID
		if user == "" {
			user = waID
		}
		id := s.ID
		if id == "" {
			id = channels.LocalMessageID(localPrefix)
		}
		out = append(out, bus.Message{
			Channel:        bus.ChannelWhatsApp,
			PlatformUserID: user,
			ConversationID: bus.ConversationKey(bus.ChannelWhatsApp, user),
			MessageID:      id,
			Sender:         bus.SenderSystem,
			Type:           bus.TypeUnknown,
			Text:           s.Status,
			Metadata:       map[string]any{bus.MetaRaw: rawObject(rawStatus)},
			Timestamp:      unixSeconds(s.Timestamp),
		})
	}
	return out
}

// messageType accepts only the types the Cloud API delivers to us.
func messageType(s string) bus.MessageType {
	switch t := bus.ParseMessageType(s); t {
	case bus.TypeText, bus.TypeImage, bus.TypeVideo, bus.TypeTemplate:
		return t
	}
	return bus.TypeUnknown
}

func (m inboundMessage) text() string {
	switch {
	case m.Text != nil && m.Text.Body != "":
		return m.Text.Body
	case m.Interactive != nil && m.Interactive.Body.Text != "":
		return m.Interactive.Body.Text
	case m.Template != nil:
		return m.Template.Name
	}
	return ""
}

func (m inboundMessage) attachments() []bus.Attachment {
	var out []bus.Attachment
	if m.Image != nil && m.Image.Link != "" {
		out = append(out, bus.Attachment{Type: bus.AttachmentImage, URL: m.Image.Link})
	}
	if m.Video != nil && m.Video.Link != "" {
		out = append(out, bus.Attachment{Type: bus.AttachmentVideo, URL: m.Video.Link})
	}
	return out
}

func rawObject(b json.RawMessage) map[string]any {
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	return m
}

// unixSeconds parses the Cloud API's string timestamps; zero means "now" once
// the message is normalized.
func unixSeconds(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}

type sendBody struct {
	MessagingProduct string          `json:"messaging_product"`
	To               string          `json:"to"`
	Type             bus.MessageType `json:"type"`
	Text             sendText        `json:"text"`
}

type sendText struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (a *Adapter) Send(ctx context.Context, req channels.SendRequest) (*bus.Message, error) {
	if a.cfg.PhoneNumberID == "" {
		return nil, &channels.ConfigurationError{Channel: bus.ChannelWhatsApp, Missing: "phone number id"}
	}
	if a.cfg.Token == "" {
		return nil, &channels.ConfigurationError{Channel: bus.ChannelWhatsApp, Missing: "token"}
	}
	typ := req.Type
	if typ == "" {
		typ = bus.TypeText
	}
	body := sendBody{
		MessagingProduct: "whatsapp",
		To:               req.RecipientID,
		Type:             typ,
		Text:             sendText{Body: req.Text},
	}

	slog.Info("send.attempt", "channel", bus.ChannelWhatsApp, "recipient_id", req.RecipientID, "conversation_id", req.ConversationID)
	resp, err := delivery.Do(ctx, a.exec, delivery.Target{Channel: string(bus.ChannelWhatsApp), Recipient: req.RecipientID},
		func(ctx context.Context) (*sendResponse, error) {
			var out sendResponse
			err := a.graph.Post(ctx, meta.Request{
				Path:        a.cfg.PhoneNumberID + "/messages",
				BearerToken: a.cfg.Token,
				Body:        body,
			}, &out)
			if err != nil {
				return nil, err
			}
			return &out, nil
		})
	if err != nil {
		slog.Error("send.failed", "channel", bus.ChannelWhatsApp, "recipient_id", req.RecipientID, "error", err)
		return nil, err
	}

	id := ""
	if len(resp.Messages) > 0 {
		id = resp.Messages[0].ID
	}
	if id == "" {
		id = channels.LocalMessageID(localPrefix)
	}
	slog.Info("send.success", "channel", bus.ChannelWhatsApp, "recipient_id", req.RecipientID, "message_id", id)
	return channels.Outbound(bus.ChannelWhatsApp, req, id, map[string]any{"request": body, "response": resp}), nil
}
