package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nextlevelbuilder/unibox/internal/assistant"
	"github.com/nextlevelbuilder/unibox/internal/channels"
	"github.com/nextlevelbuilder/unibox/internal/channels/instagram"
	"github.com/nextlevelbuilder/unibox/internal/channels/messenger"
	"github.com/nextlevelbuilder/unibox/internal/channels/meta"
	"github.com/nextlevelbuilder/unibox/internal/channels/telegram"
	"github.com/nextlevelbuilder/unibox/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/unibox/internal/config"
	"github.com/nextlevelbuilder/unibox/internal/delivery"
	"github.com/nextlevelbuilder/unibox/internal/store"
	"github.com/nextlevelbuilder/unibox/internal/store/pg"
	"github.com/nextlevelbuilder/unibox/internal/store/sqlite"
)

// loadConfig loads .env, then the config file.
func loadConfig() (*config.Config, error) {
	config.LoadDotEnv()
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openStores opens Postgres in managed mode and SQLite otherwise.
func openStores(cfg *config.Config) (*store.Stores, error) {
	sc := store.StoreConfig{
		PostgresDSN: cfg.Database.PostgresDSN,
		SQLitePath:  cfg.Database.SQLitePath,
	}
	if cfg.IsManagedMode() {
		slog.Info("storage", "mode", "managed", "backend", "postgres")
		return pg.NewPGStores(sc)
	}
	if err := os.MkdirAll(filepath.Dir(sc.SQLitePath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	slog.Info("storage", "mode", "standalone", "backend", "sqlite", "path", sc.SQLitePath)
	return sqlite.NewStores(sc)
}

func newExecutor(cfg *config.Config) *delivery.Executor {
	return delivery.NewExecutor(cfg.Delivery.Attempts, time.Duration(cfg.Delivery.InitialDelayMS)*time.Millisecond)
}

// buildRegistry registers every channel adapter. Adapters with missing
// credentials are still registered: inbound parsing needs none, and Send
// reports a ConfigurationError.
func buildRegistry(cfg *config.Config, exec *delivery.Executor) (*channels.Registry, error) {
	ch := cfg.Channels
	graph := meta.NewGraphClient(ch.GraphBaseURL, ch.GraphVersion, nil)

	reg := channels.NewRegistry()
	reg.Register(whatsapp.New(graph, exec, whatsapp.Config{
		PhoneNumberID: ch.WhatsApp.PhoneNumberID,
		Token:         ch.WhatsApp.Token,
	}))
	reg.Register(messenger.New(graph, exec, ch.Facebook.PageAccessToken))
	reg.Register(instagram.New(graph, exec, ch.Facebook.PageAccessToken))

	tg, err := telegram.New(telegram.Config{Token: ch.Telegram.Token, APIServer: ch.Telegram.APIServer}, exec)
	if err != nil {
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}
	reg.Register(tg)
	return reg, nil
}

// buildAssistant returns the cached assistant and its cache. Redis is used
// when configured, otherwise an in-process LRU.
func buildAssistant(ctx context.Context, cfg *config.Config) (*assistant.Cached, assistant.Cache, error) {
	var backend assistant.Assistant
	switch cfg.Assistant.Provider {
	case "openai":
		backend = assistant.NewOpenAI(assistant.OpenAIConfig{
			APIKey:       cfg.Assistant.Token,
			BaseURL:      cfg.Assistant.Endpoint,
			Model:        cfg.Assistant.Model,
			SystemPrompt: cfg.Assistant.SystemPrompt,
			Timeout:      cfg.Assistant.Timeout(),
		})
	case "", "http":
		backend = assistant.NewHTTP(cfg.Assistant.Endpoint, cfg.Assistant.Token, cfg.Assistant.Timeout())
	default:
		return nil, nil, fmt.Errorf("unknown assistant provider %q", cfg.Assistant.Provider)
	}

	var cache assistant.Cache
	if cfg.Cache.UsesRedis() {
		rc, err := assistant.NewRedisCache(ctx, assistant.RedisOptions{
			URL:      cfg.Cache.RedisURL,
			Host:     cfg.Cache.Host,
			Port:     cfg.Cache.Port,
			Password: cfg.Cache.Password,
			TLS:      cfg.Cache.TLS,
			DB:       cfg.Cache.DB,
			Prefix:   cfg.Cache.KeyPrefix,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		cache = rc
		slog.Info("assistant cache", "backend", "redis")
	} else {
		mc, err := assistant.NewMemoryCache(cfg.Cache.MemorySize)
		if err != nil {
			return nil, nil, err
		}
		cache = mc
		slog.Info("assistant cache", "backend", "memory", "size", cfg.Cache.MemorySize)
	}

	ttl := func() time.Duration {
		if s := cfg.AutoReplySettings().CacheTTLSec; s > 0 {
			return time.Duration(s) * time.Second
		}
		return assistant.DefaultCacheTTL
	}
	slog.Info("assistant", "provider", backend.Name())
	return assistant.NewCached(backend, cache, ttl), cache, nil
}
