package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/unibox/internal/autoreply"
	"github.com/nextlevelbuilder/unibox/internal/bus"
	"github.com/nextlevelbuilder/unibox/internal/channels"
	"github.com/nextlevelbuilder/unibox/internal/config"
	"github.com/nextlevelbuilder/unibox/internal/gateway"
	httpapi "github.com/nextlevelbuilder/unibox/internal/http"
	"github.com/nextlevelbuilder/unibox/internal/inbox"
	"github.com/nextlevelbuilder/unibox/internal/logging"
	"github.com/nextlevelbuilder/unibox/internal/telemetry"
	"github.com/nextlevelbuilder/unibox/pkg/protocol"
)

func runGateway() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	if verbose {
		cfg.Logging.Level = "debug"
	}
	logger, sink, err := logging.Setup(cfg.Logging, os.Stdout)
	if err != nil {
		slog.Error("failed to setup logging", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)
	var logs httpapi.LogReader
	if sink != nil {
		defer sink.Close()
		logs = sink
	}

	for _, missing := range cfg.MissingCredentials() {
		slog.Warn("config.missing_credential", "setting", missing)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("failed to setup telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	stores, err := openStores(cfg)
	if err != nil {
		slog.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	// Create core components
	msgBus := bus.New()
	processor := inbox.NewProcessor(stores.Conversations, stores.Messages, msgBus)

	registry, err := buildRegistry(cfg, newExecutor(cfg))
	if err != nil {
		slog.Error("failed to build channels", "error", err)
		os.Exit(1)
	}

	replier, cache, err := buildAssistant(ctx, cfg)
	if err != nil {
		slog.Error("failed to build assistant", "error", err)
		os.Exit(1)
	}
	defer cache.Close()

	orchestrator := autoreply.New(autoreply.Deps{
		Conversations: stores.Conversations,
		Messages:      stores.Messages,
		Adapters:      registry,
		Assistant:     replier,
		Recorder:      processor,
		Settings:      cfg.AutoReplySettings,
	})

	webhooks := httpapi.NewWebhookHandler(registry, processor, orchestrator,
		channels.NewWebhookRateLimiter(cfg.Gateway.RateLimitPerMin),
		httpapi.WebhookConfig{
			VerifyToken:    cfg.Channels.VerifyToken,
			AppSecret:      cfg.Channels.AppSecret,
			TelegramSecret: cfg.Channels.Telegram.WebhookSecret,
			MaxBodyBytes:   cfg.Gateway.MaxBodyBytes,
			TrustProxy:     cfg.Gateway.TrustProxy,
		})
	api := httpapi.NewInboxHandler(stores.Conversations, stores.Messages, registry, processor, msgBus, cfg.Gateway.Token)
	admin := httpapi.NewAdminHandler(logs, cfg.Gateway.Token)

	server := gateway.NewServer(cfg.Gateway, msgBus, webhooks, api, admin)

	cfgPath := resolveConfigPath()
	go func() {
		err := config.Watch(ctx, cfgPath, cfg, func(*config.Config) {
			msgBus.Broadcast(bus.Event{Name: protocol.EventCacheInvalidate, Payload: "config"})
		})
		if err != nil {
			slog.Warn("config watcher stopped", "path", cfgPath, "error", err)
		}
	}()

	slog.Info("unibox starting",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"channels", registry.Names(),
		"autoreply", cfg.AutoReplySettings().Enabled,
	)

	if err := server.Start(ctx); err != nil {
		slog.Error("gateway error", "error", err)
		stop()
	}

	slog.Info("waiting for in-flight auto-replies")
	orchestrator.Wait()
	slog.Info("unibox stopped")
}
