// Package telegram implements the Telegram Bot API adapter. Updates arrive
// through the webhook; replies are sent with telego.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	ta "github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/unibox/internal/bus"
	"github.com/nextlevelbuilder/unibox/internal/channels"
	"github.com/nextlevelbuilder/unibox/internal/delivery"
)

// Config holds the bot credentials.
type Config struct {
	Token string
	// APIServer overrides https://api.telegram.org (local Bot API servers, tests).
	APIServer  string
	HTTPClient *http.Client
}

// Adapter parses webhook updates and sends messages through the Bot API.
type Adapter struct {
	bot  *telego.Bot // nil when no token is configured
	exec *delivery.Executor
}

// New creates a Telegram adapter. An empty token is allowed: updates still
// parse but Send returns a ConfigurationError. A malformed token is an error.
func New(cfg Config, exec *delivery.Executor) (*Adapter, error) {
	a := &Adapter{exec: exec}
	if cfg.Token == "" {
		return a, nil
	}
	bot, err := NewBot(cfg)
	if err != nil {
		return nil, err
	}
	a.bot = bot
	return a, nil
}

// NewBot builds the telego client used for sends and webhook registration.
func NewBot(cfg Config) (*telego.Bot, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	opts := []telego.BotOption{telego.WithHTTPClient(httpClient)}
	if cfg.APIServer != "" {
		opts = append(opts, telego.WithAPIServer(strings.TrimRight(cfg.APIServer, "/")))
	}
	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return bot, nil
}

func (a *Adapter) Name() bus.Channel { return bus.ChannelTelegram }

// ParseIncoming maps message, edited_message and callback_query updates.
// Anything else yields a single system record under "telegram:unknown".
func (a *Adapter) ParseIncoming(raw []byte) []bus.Message {
	return parseUpdates(raw)
}

func (a *Adapter) Send(ctx context.Context, req channels.SendRequest) (*bus.Message, error) {
	if a.bot == nil {
		return nil, &channels.ConfigurationError{Channel: bus.ChannelTelegram, Missing: "bot token"}
	}
	target := req.RecipientID
	if target == "" && req.ConversationID != "" {
		target = bus.RemoteID(req.ConversationID)
	}
	if target == "" {
		return nil, &channels.ConfigurationError{Channel: bus.ChannelTelegram, Missing: "recipient id"}
	}
	req.RecipientID = target

	params := tu.Message(chatID(target), req.Text)

	slog.Info("send.attempt", "channel", bus.ChannelTelegram, "chat_id", target, "conversation_id", req.ConversationID)
	sent, err := delivery.Do(ctx, a.exec, delivery.Target{Channel: string(bus.ChannelTelegram), Recipient: target},
		func(ctx context.Context) (*telego.Message, error) {
			m, err := a.bot.SendMessage(ctx, params)
			return m, statusError(err)
		})
	if err != nil {
		slog.Error("send.failed", "channel", bus.ChannelTelegram, "chat_id", target, "error", err)
		return nil, err
	}

	id := ""
	if sent != nil && sent.MessageID != 0 {
		id = strconv.Itoa(sent.MessageID)
	}
	if id == "" {
		id = channels.LocalMessageID("telegram")
	}
	slog.Info("send.success", "channel", bus.ChannelTelegram, "chat_id", target, "message_id", id)

	out := channels.Outbound(bus.ChannelTelegram, req, id, sent)
	if sent != nil {
		if name := displayName(sent.Chat); name != "" {
			out.PlatformUserID = name
		}
		out.Metadata["telegram_user_id"] = formatChatID(sent.Chat.ID)
		if sent.Date > 0 {
			out.Timestamp = time.Unix(sent.Date, 0).UTC()
		}
	}
	return out, nil
}

// chatID accepts numeric ids and "@channel" usernames.
func chatID(s string) telego.ChatID {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return tu.ID(n)
	}
	return tu.Username(s)
}

// displayName mirrors the name inbound private-chat messages are stored under,
// so replies do not rename the conversation.
func displayName(c telego.Chat) string {
	if c.Type != telego.ChatTypePrivate {
		return ""
	}
	if c.Username != "" {
		return c.Username
	}
	return strings.TrimSpace(strings.Join(nonEmpty(c.FirstName, c.LastName), " "))
}

// statusError exposes the Bot API error code so the delivery executor can
// tell client errors from retryable ones.
func statusError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *ta.Error
	if errors.As(err, &apiErr) && apiErr.ErrorCode > 0 {
		herr := &delivery.HTTPError{Status: apiErr.ErrorCode, Body: apiErr.Description}
		if apiErr.Parameters != nil && apiErr.Parameters.RetryAfter > 0 {
			herr.RetryAfter = time.Duration(apiErr.Parameters.RetryAfter) * time.Second
		}
		return herr
	}
	return err
}
