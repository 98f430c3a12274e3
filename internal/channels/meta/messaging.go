package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/unibox/internal/bus"
	"github.com/nextlevelbuilder/unibox/internal/channels"
	"github.com/nextlevelbuilder/unibox/internal/delivery"
)

type messagingPayload struct {
	Entry []struct {
		Messaging []json.RawMessage `json:"messaging"`
	} `json:"entry"`
}

type messagingEvent struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Timestamp int64             `json:"timestamp"`
	Message   *messagingMessage `json:"message"`
	Postback  *struct {
		Mid     string `json:"mid"`
		Title   string `json:"title"`
		Payload string `json:"payload"`
	} `json:"postback"`
}

type messagingMessage struct {
	Mid         string `json:"mid"`
	ID          string `json:"id"`
	Text        string `json:"text"`
	Attachments []struct {
		Type    string `json:"type"`
		Payload struct {
			URL string `json:"url"`
		} `json:"payload"`
	} `json:"attachments"`
}

// ParseOptions tunes ParseMessaging per channel.
type ParseOptions struct {
	// Postbacks turns button postbacks into template messages (Messenger only).
	Postbacks bool
	// LocalPrefix prefixes fallback ids for messages without a mid.
	LocalPrefix string
}

// ParseMessaging converts an "entry[].messaging[]" webhook body into
// canonical messages. Timestamps are unix milliseconds.
func ParseMessaging(ch bus.Channel, raw []byte, opts ParseOptions) []bus.Message {
	var payload messagingPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		slog.Debug("meta.parse_failed", "channel", ch, "error", err)
		return nil
	}

	var out []bus.Message
	for _, entry := range payload.Entry {
		for _, rawEvent := range entry.Messaging {
			var ev messagingEvent
			if err := json.Unmarshal(rawEvent, &ev); err != nil {
				continue
			}
			var rawMap map[string]any
			_ = json.Unmarshal(rawEvent, &rawMap)

			switch {
			case ev.Message != nil:
				out = append(out, fromMessage(ch, ev, rawMap, opts))
			case ev.Postback != nil && opts.Postbacks:
				out = append(out, fromPostback(ch, ev, rawMap))
			}
		}
	}
	return out
}

func fromMessage(ch bus.Channel, ev messagingEvent, raw map[string]any, opts ParseOptions) bus.Message {
	var attachments []bus.Attachment
	for _, a := range ev.Message.Attachments {
		if a.Payload.URL == "" {
			continue
		}
		switch bus.AttachmentType(a.Type) {
		case bus.AttachmentImage, bus.AttachmentVideo:
			attachments = append(attachments, bus.Attachment{Type: bus.AttachmentType(a.Type), URL: a.Payload.URL})
		}
	}

	typ := bus.TypeUnknown
	switch {
	case ev.Message.Text != "":
		typ = bus.TypeText
	case len(attachments) > 0:
		typ = bus.MessageType(attachments[0].Type)
	}

	id := ev.Message.Mid
	if id == "" {
		id = ev.Message.ID
	}
	if id == "" {
		id = channels.LocalMessageID(opts.LocalPrefix)
	}

	return bus.Message{
		Channel:        ch,
		PlatformUserID: ev.Sender.ID,
		ConversationID: bus.ConversationKey(ch, ev.Sender.ID),
		MessageID:      id,
		Sender:         bus.SenderUser,
		Type:           typ,
		Text:           ev.Message.Text,
		Attachments:    attachments,
		Metadata:       map[string]any{bus.MetaRaw: raw},
		Timestamp:      millis(ev.Timestamp),
	}
}

func fromPostback(ch bus.Channel, ev messagingEvent, raw map[string]any) bus.Message {
	text := ev.Postback.Title
	if text == "" {
		text = ev.Postback.Payload
	}
	id := ev.Postback.Mid
	if id == "" {
		id = fmt.Sprintf("postback-%s-%d", ev.Sender.ID, ev.Timestamp)
	}
	return bus.Message{
		Channel:        ch,
		PlatformUserID: ev.Sender.ID,
		ConversationID: bus.ConversationKey(ch, ev.Sender.ID),
		MessageID:      id,
		Sender:         bus.SenderUser,
		Type:           bus.TypeTemplate,
		Text:           text,
		Metadata:       map[string]any{bus.MetaRaw: raw},
		Timestamp:      millis(ev.Timestamp),
	}
}

func millis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// SendOptions configures SendMessaging for one channel.
type SendOptions struct {
	Channel     bus.Channel
	AccessToken string
	LocalPrefix string
	// Tag, when set, is sent as the message tag (Instagram uses HUMAN_AGENT).
	Tag string
}

type sendMessagingBody struct {
	MessagingType string            `json:"messaging_type"`
	Recipient     map[string]string `json:"recipient"`
	Message       map[string]string `json:"message"`
	Tag           string            `json:"tag,omitempty"`
}

type sendMessagingResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

// SendMessaging posts a text reply through /me/messages under the delivery
// executor's retry policy.
func SendMessaging(ctx context.Context, graph *GraphClient, exec *delivery.Executor, opts SendOptions, req channels.SendRequest) (*bus.Message, error) {
	if opts.AccessToken == "" {
		return nil, &channels.ConfigurationError{Channel: opts.Channel, Missing: "page access token"}
	}
	if req.RecipientID == "" {
		return nil, &channels.ConfigurationError{Channel: opts.Channel, Missing: "recipient id"}
	}

	body := sendMessagingBody{
		MessagingType: "RESPONSE",
		Recipient:     map[string]string{"id": req.RecipientID},
		Message:       map[string]string{"text": req.Text},
		Tag:           opts.Tag,
	}

	slog.Info("send.attempt", "channel", opts.Channel, "recipient_id", req.RecipientID, "conversation_id", req.ConversationID)
	resp, err := delivery.Do(ctx, exec, delivery.Target{Channel: string(opts.Channel), Recipient: req.RecipientID},
		func(ctx context.Context) (*sendMessagingResponse, error) {
			var out sendMessagingResponse
			if err := graph.Post(ctx, Request{Path: "me/messages", AccessToken: opts.AccessToken, Body: body}, &out); err != nil {
				return nil, err
			}
			return &out, nil
		})
	if err != nil {
		slog.Error("send.failed", "channel", opts.Channel, "recipient_id", req.RecipientID, "error", err)
		return nil, err
	}

	id := resp.MessageID
	if id == "" {
		id = channels.LocalMessageID(opts.LocalPrefix)
	}
	slog.Info("send.success", "channel", opts.Channel, "recipient_id", req.RecipientID, "message_id", id)
	return channels.Outbound(opts.Channel, req, id, map[string]any{"request": body, "response": resp}), nil
}
