package telegram

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/unibox/internal/bus"
	"github.com/nextlevelbuilder/unibox/internal/channels"
)

// Webhook payloads are decoded into these lenient shapes instead of telego's
// types: ids arrive as numbers or strings depending on the relay, and
// callback queries are flattened onto their message.

type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type update struct {
	UpdateID      flexID         `json:"update_id"`
	Message       *message       `json:"message"`
	EditedMessage *message       `json:"edited_message"`
	CallbackQuery *callbackQuery `json:"callback_query"`
}

type callbackQuery struct {
	ID      flexID   `json:"id"`
	From    *user    `json:"from"`
	Message *message `json:"message"`
	Data    string   `json:"data"`
}

type message struct {
	MessageID  flexID      `json:"message_id"`
	Date       int64       `json:"date"`
	Chat       *chat       `json:"chat"`
	SenderChat *chat       `json:"sender_chat"`
	From       *user       `json:"from"`
	Text       string      `json:"text"`
	Caption    string      `json:"caption"`
	Photo      []photoSize `json:"photo"`
	Document   *file       `json:"document"`
	Video      *file       `json:"video"`

	// set from the enclosing callback query
	data string
}

type chat struct {
	ID        flexID `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type user struct {
	ID        flexID `json:"id"`
	IsBot     *bool  `json:"is_bot"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type photoSize struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size"`
}

type file struct {
	FileID   string `json:"file_id"`
	MimeType string `json:"mime_type"`
}

// unwrapUpdates accepts a single update, an array of updates, a getUpdates
// response ({"result": [...]}) or a relay envelope ({"body": {...}}).
func unwrapUpdates(raw []byte) []json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil
		}
		return list
	}

	var envelope struct {
		UpdateID json.RawMessage   `json:"update_id"`
		Result   []json.RawMessage `json:"result"`
		Body     json.RawMessage   `json:"body"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil
	}
	switch {
	case hasValue(envelope.UpdateID):
		return []json.RawMessage{raw}
	case envelope.Result != nil:
		return envelope.Result
	case len(envelope.Body) > 0:
		var inner struct {
			UpdateID json.RawMessage `json:"update_id"`
		}
		if json.Unmarshal(envelope.Body, &inner) == nil && hasValue(inner.UpdateID) {
			return []json.RawMessage{envelope.Body}
		}
	}
	return nil
}

func hasValue(v json.RawMessage) bool {
	s := string(bytes.TrimSpace(v))
	return s != "" && s != "null" && s != "0" && s != `""`
}

func parseUpdates(raw []byte) []bus.Message {
	var out []bus.Message
	for _, rawUpdate := range unwrapUpdates(raw) {
		var u update
		if err := json.Unmarshal(rawUpdate, &u); err != nil {
			slog.Debug("telegram.parse_failed", "error", err)
			continue
		}
		rawMap := rawObject(rawUpdate)

		switch {
		case u.Message != nil:
			out = append(out, canonical(u.Message, bus.SenderUser, rawObjectField(rawMap, "message")))
		case u.EditedMessage != nil:
			out = append(out, canonical(u.EditedMessage, bus.SenderUser, rawObjectField(rawMap, "edited_message")))
		case u.CallbackQuery != nil:
			cq := u.CallbackQuery
			m := message{}
			if cq.Message != nil {
				m = *cq.Message
			}
			m.data = cq.Data
			m.From = cq.From
			// The query id keeps the click distinct from the bot message it
			// was attached to.
			m.MessageID = "callback-" + cq.ID
			out = append(out, canonical(&m, bus.SenderUser, rawObjectField(rawMap, "callback_query")))
		default:
			id := ""
			if u.UpdateID != "" {
				id = "telegram-unknown-" + string(u.UpdateID)
			}
			out = append(out, channels.UnknownRecord(bus.ChannelTelegram, "telegram:unknown", id, "Unhandled telegram update", rawMap))
		}
	}
	return out
}

func canonical(m *message, sender bus.Sender, raw any) bus.Message {
	chatID := "unknown"
	switch {
	case m.Chat != nil && m.Chat.ID != "":
		chatID = string(m.Chat.ID)
	case m.SenderChat != nil && m.SenderChat.ID != "":
		chatID = string(m.SenderChat.ID)
	case m.From != nil && m.From.ID != "":
		chatID = string(m.From.ID)
	}

	from := m.From
	if from == nil {
		from = &user{}
	}
	c := m.Chat
	if c == nil {
		c = &chat{}
	}

	// participant: the chat itself for private chats, otherwise the human
	// author, otherwise the chat
	var pUsername, pFirst, pLast string
	switch {
	case c.Type == "private":
		pUsername, pFirst, pLast = c.Username, c.FirstName, c.LastName
	case from.IsBot != nil && !*from.IsBot:
		pUsername, pFirst, pLast = from.Username, from.FirstName, from.LastName
	default:
		pUsername, pFirst, pLast = c.Username, c.FirstName, c.LastName
	}

	displayName := pUsername
	if displayName == "" {
		displayName = strings.TrimSpace(strings.Join(nonEmpty(pFirst, pLast), " "))
	}
	if displayName == "" {
		displayName = from.Username
	}
	if displayName == "" {
		displayName = "telegram:" + chatID
	}

	var attachments []bus.Attachment
	if a, ok := largestPhoto(m.Photo); ok {
		attachments = append(attachments, a)
	}
	doc := m.Document
	if doc == nil {
		doc = m.Video
	}
	if doc != nil {
		t := bus.AttachmentUnknown
		if strings.HasPrefix(doc.MimeType, "video") {
			t = bus.AttachmentVideo
		}
		attachments = append(attachments, bus.Attachment{Type: t, URL: "telegram:file_id:" + doc.FileID})
	}

	text := firstNonEmpty(m.Text, m.Caption, m.data)

	typ := bus.TypeUnknown
	switch {
	case m.Text != "":
		typ = bus.TypeText
	case len(attachments) > 0:
		typ = bus.ParseMessageType(string(attachments[0].Type))
	case m.data != "":
		typ = bus.TypeTemplate
	}

	msgID := string(m.MessageID)
	if msgID == "" {
		msgID = channels.LocalMessageID("telegram")
	}

	var ts time.Time
	if m.Date > 0 {
		ts = time.Unix(m.Date, 0).UTC()
	}

	meta := map[string]any{
		bus.MetaRaw:           raw,
		"telegram_user_id":    chatID,
		"telegram_username":   nilIfEmpty(firstNonEmpty(pUsername, from.Username)),
		"telegram_chat_title": nilIfEmpty(c.Title),
	}

	return bus.Message{
		Channel:        bus.ChannelTelegram,
		PlatformUserID: displayName,
		ConversationID: "telegram:" + chatID,
		MessageID:      msgID,
		Sender:         sender,
		Type:           typ,
		Text:           text,
		Attachments:    attachments,
		Metadata:       meta,
		Timestamp:      ts,
	}
}

func largestPhoto(sizes []photoSize) (bus.Attachment, bool) {
	if len(sizes) == 0 {
		return bus.Attachment{}, false
	}
	sorted := append([]photoSize(nil), sizes...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].FileSize > sorted[j].FileSize })
	return bus.Attachment{Type: bus.AttachmentImage, URL: "telegram:file_id:" + sorted[0].FileID}, true
}

func nonEmpty(parts ...string) []string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func rawObject(b []byte) map[string]any {
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	return m
}

func rawObjectField(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	return m[key]
}

func formatChatID(id int64) string { return strconv.FormatInt(id, 10) }
