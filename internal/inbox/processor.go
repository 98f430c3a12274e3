// Package inbox persists canonical messages idempotently and announces new
// ones to realtime subscribers.
package inbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/unibox/internal/bus"
	"github.com/nextlevelbuilder/unibox/internal/metrics"
	"github.com/nextlevelbuilder/unibox/internal/store"
	"github.com/nextlevelbuilder/unibox/internal/telemetry"
	"github.com/nextlevelbuilder/unibox/pkg/protocol"
)

// Processor is the single write path for conversations and messages.
type Processor struct {
	conversations store.ConversationStore
	messages      store.MessageStore
	events        bus.EventPublisher
	now           func() time.Time
	tracer        trace.Tracer
}

// NewProcessor creates a processor. events may be nil to disable fan-out.
func NewProcessor(conversations store.ConversationStore, messages store.MessageStore, events bus.EventPublisher) *Processor {
	return &Processor{
		conversations: conversations,
		messages:      messages,
		events:        events,
		now:           time.Now,
		tracer:        telemetry.Tracer("inbox"),
	}
}

// Process upserts the message's conversation, inserts the message and
// publishes message.new. A message already stored under the same
// (channel, message_id) is returned as-is and not published again.
func (p *Processor) Process(ctx context.Context, msg bus.Message) (*store.MessageData, error) {
	row, _, err := p.Ingest(ctx, msg)
	return row, err
}

// Ingest is Process that also reports whether the message was new.
func (p *Processor) Ingest(ctx context.Context, msg bus.Message) (row *store.MessageData, created bool, err error) {
	msg.Normalize(p.now())

	ctx, span := p.tracer.Start(ctx, "inbox.process", trace.WithAttributes(
		attribute.String("channel", string(msg.Channel)),
		attribute.String("conversation_id", msg.ConversationID),
		attribute.String("message_id", msg.MessageID),
	))
	defer span.End()

	if _, err := p.conversations.UpsertConversation(ctx, store.UpsertFor(msg)); err != nil {
		return nil, false, p.fail(span, msg, err)
	}

	row = store.MessageFor(msg)
	err = p.messages.CreateMessage(ctx, row)
	if errors.Is(err, store.ErrDuplicateMessage) {
		existing, getErr := p.messages.GetMessage(ctx, string(msg.Channel), msg.MessageID)
		if getErr != nil {
			return nil, false, p.fail(span, msg, getErr)
		}
		slog.Info("message.duplicate", "channel", msg.Channel, "message_id", msg.MessageID)
		metrics.MessagesTotal.WithLabelValues(string(msg.Channel), string(msg.Sender), "duplicate").Inc()
		span.SetAttributes(attribute.Bool("duplicate", true))
		return existing, false, nil
	}
	if err != nil {
		return nil, false, p.fail(span, msg, err)
	}

	metrics.MessagesTotal.WithLabelValues(string(msg.Channel), string(msg.Sender), "saved").Inc()
	slog.Debug("message.saved", "channel", msg.Channel, "conversation_id", msg.ConversationID,
		"message_id", msg.MessageID, "sender", msg.Sender)

	if p.events != nil {
		p.events.Broadcast(bus.Event{Name: protocol.EventMessageNew, Payload: row})
	}
	return row, true, nil
}

func (p *Processor) fail(span trace.Span, msg bus.Message, err error) error {
	metrics.MessagesTotal.WithLabelValues(string(msg.Channel), string(msg.Sender), "error").Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	slog.Error("message.persist_failed", "channel", msg.Channel, "message_id", msg.MessageID, "error", err)
	return store.Persistence("process message", err)
}
