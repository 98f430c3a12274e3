// Package autoreply decides whether a new inbound message gets an assistant
// reply and, if so, fetches, sends and records it.
package autoreply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/unibox/internal/assistant"
	"github.com/nextlevelbuilder/unibox/internal/bus"
	"github.com/nextlevelbuilder/unibox/internal/channels"
	"github.com/nextlevelbuilder/unibox/internal/config"
	"github.com/nextlevelbuilder/unibox/internal/metrics"
	"github.com/nextlevelbuilder/unibox/internal/store"
)

const (
	DefaultDebounce     = 1500 * time.Millisecond
	DefaultHistoryLimit = 12
)

// Outcome records what MaybeReply decided.
type Outcome string

const (
	OutcomeDisabled       Outcome = "disabled"
	OutcomeNotUser        Outcome = "not_user"
	OutcomeBlankText      Outcome = "blank_text"
	OutcomeNoConversation Outcome = "no_conversation"
	OutcomeManual         Outcome = "manual"
	OutcomeNoAdapter      Outcome = "no_adapter"
	OutcomeDebounced      Outcome = "debounced"
	OutcomeEmptyReply     Outcome = "empty_reply"
	OutcomeNoRecipient    Outcome = "no_recipient"
	OutcomeSent           Outcome = "sent"
	OutcomeFailed         Outcome = "failed"
)

// Replier produces assistant replies; *assistant.Cached implements it.
type Replier interface {
	Invoke(ctx context.Context, req assistant.Request) (assistant.Result, error)
}

// Recorder persists outbound messages; *inbox.Processor implements it.
type Recorder interface {
	Process(ctx context.Context, msg bus.Message) (*store.MessageData, error)
}

// Adapters resolves the adapter for a channel; *channels.Registry implements it.
type Adapters interface {
	Get(ch bus.Channel) (channels.Adapter, bool)
}

// Deps wires an Orchestrator.
type Deps struct {
	Conversations store.ConversationStore
	Messages      store.MessageStore
	Adapters      Adapters
	Assistant     Replier
	Recorder      Recorder
	// Settings returns the current auto-reply settings; called per message so
	// config reloads apply without a restart.
	Settings func() config.AutoReplyConfig
}

// Orchestrator runs the auto-reply pipeline.
type Orchestrator struct {
	deps Deps
	now  func() time.Time
	wg   sync.WaitGroup
}

func New(deps Deps) *Orchestrator {
	if deps.Settings == nil {
		deps.Settings = func() config.AutoReplyConfig { return config.AutoReplyConfig{Enabled: true} }
	}
	return &Orchestrator{deps: deps, now: time.Now}
}

// Dispatch runs MaybeReply in the background, detached from ctx's
// cancellation. Errors and panics are logged, never returned.
func (o *Orchestrator) Dispatch(ctx context.Context, msg bus.Message) {
	if o == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("autoreply.panic", "conversation_id", msg.ConversationID, "panic", r)
			}
		}()
		if _, err := o.MaybeReply(ctx, msg); err != nil {
			slog.Warn("autoreply.failed", "conversation_id", msg.ConversationID, "channel", msg.Channel, "error", err)
		}
	}()
}

// Wait blocks until in-flight dispatches finish.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// MaybeReply applies the reply preconditions to msg and, when they hold,
// sends the assistant's answer through the channel adapter and records it.
func (o *Orchestrator) MaybeReply(ctx context.Context, msg bus.Message) (outcome Outcome, err error) {
	defer func() {
		if err != nil {
			outcome = OutcomeFailed
		}
		metrics.AutoReplies.WithLabelValues(string(msg.Channel), string(outcome)).Inc()
		slog.Debug("autoreply.decision", "conversation_id", msg.ConversationID, "outcome", outcome)
	}()

	settings := o.deps.Settings()
	if !settings.Enabled {
		return OutcomeDisabled, nil
	}
	if msg.Sender != bus.SenderUser {
		return OutcomeNotUser, nil
	}
	if strings.TrimSpace(msg.Text) == "" {
		return OutcomeBlankText, nil
	}

	conv, err := o.deps.Conversations.GetConversation(ctx, msg.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		return OutcomeNoConversation, nil
	}
	if err != nil {
		return "", fmt.Errorf("load conversation: %w", err)
	}
	if conv.ReplyMode != "" && conv.ReplyMode != store.ReplyModeAI {
		return OutcomeManual, nil
	}

	adapter, ok := o.deps.Adapters.Get(msg.Channel)
	if !ok {
		return OutcomeNoAdapter, nil
	}

	debounce := DefaultDebounce
	if settings.DebounceMS > 0 {
		debounce = time.Duration(settings.DebounceMS) * time.Millisecond
	}
	last, err := o.deps.Messages.LatestBySender(ctx, msg.ConversationID, bus.SenderAgent)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return "", fmt.Errorf("load latest agent message: %w", err)
	case o.now().Sub(last.CreatedAt) < debounce:
		return OutcomeDebounced, nil
	}

	limit := settings.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := o.deps.Messages.RecentMessages(ctx, msg.ConversationID, limit)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}

	slog.Info("autoreply.start", "conversation_id", msg.ConversationID, "channel", msg.Channel)
	result, err := o.deps.Assistant.Invoke(ctx, assistant.Request{
		ConversationID: msg.ConversationID,
		Channel:        string(msg.Channel),
		Language:       language(msg),
		MessageText:    msg.Text,
		History:        history(rows),
		Metadata:       msg.Metadata,
	})
	if err != nil {
		return "", err
	}

	text := result.Data.ReplyText()
	if text == "" {
		slog.Info("autoreply.empty", "conversation_id", msg.ConversationID)
		return OutcomeEmptyReply, nil
	}

	recipient := recipientFor(msg.Channel, conv)
	if recipient == "" {
		slog.Info("autoreply.no_recipient", "conversation_id", msg.ConversationID, "channel", msg.Channel)
		return OutcomeNoRecipient, nil
	}

	sent, err := adapter.Send(ctx, channels.SendRequest{
		ConversationID: msg.ConversationID,
		RecipientID:    recipient,
		Type:           bus.TypeText,
		Text:           text,
	})
	if err != nil {
		return "", err
	}

	if sent.Metadata == nil {
		sent.Metadata = map[string]any{}
	}
	sent.Metadata[bus.MetaOrigin] = bus.OriginAI
	sent.Metadata[bus.MetaAI] = result.Data
	sent.Metadata[bus.MetaCached] = result.Cached

	if _, err := o.deps.Recorder.Process(ctx, *sent); err != nil {
		return "", fmt.Errorf("record reply: %w", err)
	}
	slog.Info("autoreply.sent", "conversation_id", msg.ConversationID, "channel", msg.Channel, "cached", result.Cached)
	return OutcomeSent, nil
}

func language(msg bus.Message) string {
	if s, ok := msg.Metadata["language"].(string); ok && s != "" {
		return s
	}
	return "auto"
}

func history(rows []store.MessageData) []assistant.HistoryEntry {
	out := make([]assistant.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		ts := r.Timestamp
		if ts.IsZero() {
			ts = r.CreatedAt
		}
		md := r.Metadata
		if md == nil {
			md = map[string]any{}
		}
		out = append(out, assistant.HistoryEntry{
			Sender:    string(r.Sender),
			Type:      string(r.Type),
			Text:      r.Text,
			Timestamp: ts,
			Metadata:  md,
		})
	}
	return out
}

// recipientFor derives the platform recipient from "{channel}:{id}". Telegram
// chats are only addressable by chat id; other channels fall back to the
// stored platform user id.
func recipientFor(ch bus.Channel, conv *store.ConversationData) string {
	if _, id, ok := strings.Cut(conv.ConversationID, ":"); ok && id != "" {
		return id
	}
	if ch == bus.ChannelTelegram {
		return ""
	}
	return conv.PlatformUserID
}
