package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/unibox/internal/bus"
	"github.com/nextlevelbuilder/unibox/internal/channels"
	"github.com/nextlevelbuilder/unibox/internal/gatekeeper"
	"github.com/nextlevelbuilder/unibox/internal/metrics"
	"github.com/nextlevelbuilder/unibox/internal/store"
	"github.com/nextlevelbuilder/unibox/internal/telemetry"
)

// Ingester persists canonical messages; *inbox.Processor implements it.
type Ingester interface {
	Ingest(ctx context.Context, msg bus.Message) (*store.MessageData, bool, error)
}

// ReplyDispatcher starts a background auto-reply; *autoreply.Orchestrator
// implements it.
type ReplyDispatcher interface {
	Dispatch(ctx context.Context, msg bus.Message)
}

// WebhookConfig carries the webhook credentials.
type WebhookConfig struct {
	VerifyToken    string
	AppSecret      string
	TelegramSecret string
	MaxBodyBytes   int64
	// TrustProxy keys rate limiting on X-Forwarded-For instead of the
	// socket address. Enable only behind a reverse proxy that sets it.
	TrustProxy bool
}

// WebhookHandler serves the Meta verification handshake and inbound webhooks
// for every registered channel.
type WebhookHandler struct {
	adapters *channels.Registry
	inbox    Ingester
	replies  ReplyDispatcher
	limiter  *channels.WebhookRateLimiter
	cfg      WebhookConfig
	tracer   trace.Tracer
}

// NewWebhookHandler creates the webhook handler. replies and limiter may be nil.
func NewWebhookHandler(adapters *channels.Registry, inbox Ingester, replies ReplyDispatcher, limiter *channels.WebhookRateLimiter, cfg WebhookConfig) *WebhookHandler {
	return &WebhookHandler{
		adapters: adapters,
		inbox:    inbox,
		replies:  replies,
		limiter:  limiter,
		cfg:      cfg,
		tracer:   telemetry.Tracer("webhook"),
	}
}

// RegisterRoutes registers the webhook routes on the given mux.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /webhook", h.handleVerify)
	mux.HandleFunc("GET /webhook/{channel}", h.handleVerify)
	mux.HandleFunc("POST /webhook/{channel}", h.rateLimited(h.handleInbound))
}

// handleVerify answers Meta's subscription handshake.
func (h *WebhookHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	if name := r.PathValue("channel"); name != "" {
		if ch, _ := bus.ParseChannel(name); ch != bus.ChannelWhatsApp && ch != bus.ChannelMessenger && ch != bus.ChannelInstagram {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
	}
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && h.cfg.VerifyToken != "" && q.Get("hub.verify_token") == h.cfg.VerifyToken {
		slog.Info("webhook.verified", "path", r.URL.Path)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, q.Get("hub.challenge"))
		return
	}
	slog.Warn("webhook.verify_failed", "path", r.URL.Path, "mode", q.Get("hub.mode"))
	w.WriteHeader(http.StatusForbidden)
}

func (h *WebhookHandler) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow(clientIP(r, h.cfg.TrustProxy)) {
			metrics.WebhooksTotal.WithLabelValues(r.PathValue("channel"), "rate_limited").Inc()
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next(w, r)
	}
}

func (h *WebhookHandler) verifierFor(ch bus.Channel) gatekeeper.Verifier {
	if ch == bus.ChannelTelegram {
		return gatekeeper.SecretToken{Secret: h.cfg.TelegramSecret}
	}
	return gatekeeper.Signature{Secret: h.cfg.AppSecret}
}

func (h *WebhookHandler) handleInbound(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("channel")
	adapter, err := h.adapters.Lookup(name)
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues("unsupported", "rejected").Inc()
		writeErr(w, err)
		return
	}
	ch := adapter.Name()

	verified := func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		h.process(w, r, adapter, body)
	}
	rejected := &statusRecorder{ResponseWriter: w}
	gatekeeper.Middleware(h.verifierFor(ch), h.cfg.MaxBodyBytes, http.HandlerFunc(verified)).ServeHTTP(rejected, r)
	if rejected.status == http.StatusBadRequest || rejected.status == http.StatusUnauthorized {
		metrics.WebhooksTotal.WithLabelValues(string(ch), "unauthenticated").Inc()
	}
}

func (h *WebhookHandler) process(w http.ResponseWriter, r *http.Request, adapter channels.Adapter, body []byte) {
	ch := adapter.Name()
	ctx, span := h.tracer.Start(r.Context(), "webhook.inbound", trace.WithAttributes(attribute.String("channel", string(ch))))
	defer span.End()

	slog.Info("webhook.received", "channel", ch, "bytes", len(body))
	msgs := adapter.ParseIncoming(body)
	now := time.Now()
	for i := range msgs {
		msgs[i].Normalize(now)
	}
	span.SetAttributes(attribute.Int("messages", len(msgs)))

	created := make([]bool, len(msgs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range msgs {
		g.Go(func() error {
			_, isNew, err := h.inbox.Ingest(gctx, msgs[i])
			created[i] = isNew
			return err
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.WebhooksTotal.WithLabelValues(string(ch), "error").Inc()
		slog.Error("webhook.failed", "channel", ch, "error", err)
		writeErr(w, err)
		return
	}

	// Only first deliveries trigger replies; platform redeliveries do not.
	if h.replies != nil {
		for i, m := range msgs {
			if created[i] && m.Sender == bus.SenderUser {
				h.replies.Dispatch(ctx, m)
			}
		}
	}

	metrics.WebhooksTotal.WithLabelValues(string(ch), "ok").Inc()
	slog.Info("webhook.processed", "channel", ch, "count", len(msgs))
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "processed": len(msgs)})
}

// statusRecorder captures the status written by the gatekeeper.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}
