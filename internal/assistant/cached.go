package assistant

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/unibox/internal/metrics"
	"github.com/nextlevelbuilder/unibox/internal/telemetry"
)

// DefaultCacheTTL is how long a usable reply is reused for an identical prompt.
const DefaultCacheTTL = 120 * time.Second

// Result is a response plus whether it came from the cache.
type Result struct {
	Data   Response
	Cached bool
}

// Cached fronts an Assistant with a Cache. Only responses with usable reply
// text are stored, so failures and empty answers are retried next time.
type Cached struct {
	next   Assistant
	cache  Cache
	ttl    func() time.Duration
	tracer trace.Tracer
}

// NewCached wraps next. ttl is consulted on every store so it can follow
// config reloads; nil means DefaultCacheTTL. A nil cache disables caching.
func NewCached(next Assistant, cache Cache, ttl func() time.Duration) *Cached {
	if ttl == nil {
		ttl = func() time.Duration { return DefaultCacheTTL }
	}
	return &Cached{next: next, cache: cache, ttl: ttl, tracer: telemetry.Tracer("assistant")}
}

func (c *Cached) Invoke(ctx context.Context, req Request) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "assistant.invoke", trace.WithAttributes(
		attribute.String("backend", c.next.Name()),
		attribute.String("conversation_id", req.ConversationID),
	))
	defer span.End()

	key := CacheKey(req)
	if c.cache != nil {
		resp, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			slog.Warn("assistant.cache_get_failed", "conversation_id", req.ConversationID, "error", err)
		}
		if ok {
			slog.Info("assistant.cache_hit", "conversation_id", req.ConversationID)
			metrics.AssistantCalls.WithLabelValues("cached").Inc()
			span.SetAttributes(attribute.Bool("cached", true))
			return Result{Data: resp, Cached: true}, nil
		}
	}

	start := time.Now()
	resp, err := c.next.Invoke(ctx, req)
	metrics.AssistantDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AssistantCalls.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("assistant.invoke_failed", "conversation_id", req.ConversationID, "error", err)
		return Result{}, err
	}
	metrics.AssistantCalls.WithLabelValues("ok").Inc()
	slog.Info("assistant.invoke_success",
		"conversation_id", req.ConversationID,
		"intent", resp.Intent(),
		"confidence", resp.Confidence())

	if c.cache != nil && resp.ReplyText() != "" {
		if err := c.cache.Set(ctx, key, resp, c.ttl()); err != nil {
			slog.Warn("assistant.cache_set_failed", "conversation_id", req.ConversationID, "error", err)
		}
	}
	return Result{Data: resp}, nil
}
