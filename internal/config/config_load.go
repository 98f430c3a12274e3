package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every structured environment override.
const EnvPrefix = "UNIBOX_"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            4000,
			RateLimitPerMin: 120,
			MaxBodyBytes:    1 << 20,
		},
		Database: DatabaseConfig{
			Mode:       "standalone",
			SQLitePath: "~/.unibox/unibox.db",
		},
		Channels: ChannelsConfig{
			VerifyToken:  "dev-verify-token",
			GraphVersion: "v19.0",
			GraphBaseURL: "https://graph.facebook.com",
		},
		Assistant: AssistantConfig{
			Provider:  "http",
			Model:     "gpt-4o-mini",
			TimeoutMS: 15000,
		},
		Cache: CacheConfig{
			Port:       6379,
			KeyPrefix:  "unibox:ai:",
			MemorySize: 1024,
		},
		AutoReply: AutoReplyConfig{
			Enabled:      true,
			DebounceMS:   1500,
			CacheTTLSec:  120,
			HistoryLimit: 12,
		},
		Delivery: DeliveryConfig{
			Attempts:       3,
			InitialDelayMS: 500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "~/.unibox/logs/events.jsonl",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "unibox",
		},
	}
}

// Load reads config from a JSON5 or YAML file, then overlays .env and
// environment variables. A missing file yields defaults plus env.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decodeFile(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.Database.SQLitePath = ExpandHome(cfg.Database.SQLitePath)
	cfg.Logging.File = ExpandHome(cfg.Logging.File)
	return cfg, nil
}

func decodeFile(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json5.Unmarshal(data, cfg)
	}
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env") into
// the process environment without overriding variables already set.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("config.dotenv_failed", "file", f, "error", err)
		}
	}
}

// applyEnvOverrides overlays env vars onto the config. The bare names used by
// earlier deployments (DATABASE_URL, WHATSAPP_TOKEN, ...) apply first; the
// UNIBOX_-prefixed structured names take precedence over them.
func (c *Config) applyEnvOverrides() error {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	envStr("DATABASE_URL", &c.Database.PostgresDSN)
	envStr("WEBHOOK_VERIFY_TOKEN", &c.Channels.VerifyToken)
	envStr("FB_APP_SECRET", &c.Channels.AppSecret)
	envStr("GRAPH_API_VERSION", &c.Channels.GraphVersion)
	envStr("WHATSAPP_PHONE_NUMBER_ID", &c.Channels.WhatsApp.PhoneNumberID)
	envStr("WHATSAPP_TOKEN", &c.Channels.WhatsApp.Token)
	envStr("FB_PAGE_ACCESS_TOKEN", &c.Channels.Facebook.PageAccessToken)
	envStr("TELEGRAM_BOT_TOKEN", &c.Channels.Telegram.Token)
	envStr("TELEGRAM_WEBHOOK_SECRET", &c.Channels.Telegram.WebhookSecret)
	envStr("AI_ASSIST_ENDPOINT", &c.Assistant.Endpoint)
	envStr("AI_ASSIST_TOKEN", &c.Assistant.Token)
	envInt("AI_ASSIST_TIMEOUT_MS", &c.Assistant.TimeoutMS)
	envStr("DCS_REDIS_HOST", &c.Cache.Host)
	envInt("DCS_REDIS_PORT", &c.Cache.Port)
	envStr("DCS_REDIS_PASSWORD", &c.Cache.Password)
	if v := os.Getenv("DCS_REDIS_TLS"); v != "" {
		c.Cache.TLS = v == "true" || v == "1"
	}
	envInt("PORT", &c.Gateway.Port)
	if v := os.Getenv("FRONTEND_ORIGIN"); v != "" {
		c.Gateway.AllowedOrigins = strings.Split(v, ",")
	}

	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	// A DSN alone selects managed mode unless a mode was set explicitly.
	if c.Database.PostgresDSN != "" && os.Getenv(EnvPrefix+"DATABASE_MODE") == "" {
		c.Database.Mode = "managed"
	}
	return nil
}

// MissingCredentials lists production settings that are not configured.
// Nothing here prevents start-up; callers log the result.
func (c *Config) MissingCredentials() []string {
	var missing []string
	check := func(name, v string) {
		if v == "" {
			missing = append(missing, name)
		}
	}
	check("channels.app_secret", c.Channels.AppSecret)
	check("channels.whatsapp.phone_number_id", c.Channels.WhatsApp.PhoneNumberID)
	check("channels.whatsapp.token", c.Channels.WhatsApp.Token)
	check("channels.facebook.page_access_token", c.Channels.Facebook.PageAccessToken)
	check("channels.telegram.token", c.Channels.Telegram.Token)
	check("channels.telegram.webhook_secret", c.Channels.Telegram.WebhookSecret)
	if c.Assistant.Provider != "openai" {
		check("assistant.endpoint", c.Assistant.Endpoint)
	}
	if c.Channels.VerifyToken == "dev-verify-token" {
		missing = append(missing, "channels.verify_token (using development default)")
	}
	return missing
}

const secretMask = "***"

// MaskedCopy returns a deep copy of the config with all secret fields masked.
// Used when printing the effective configuration.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Deep copy via JSON round-trip; json:"-" fields are copied by hand.
	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}
	cp.Database.PostgresDSN = c.Database.PostgresDSN
	cp.Cache.RedisURL = c.Cache.RedisURL
	cp.Cache.Password = c.Cache.Password

	maskNonEmpty(&cp.Gateway.Token)
	maskNonEmpty(&cp.Database.PostgresDSN)
	maskNonEmpty(&cp.Channels.AppSecret)
	maskNonEmpty(&cp.Channels.WhatsApp.Token)
	maskNonEmpty(&cp.Channels.Facebook.PageAccessToken)
	maskNonEmpty(&cp.Channels.Telegram.Token)
	maskNonEmpty(&cp.Channels.Telegram.WebhookSecret)
	maskNonEmpty(&cp.Assistant.Token)
	maskNonEmpty(&cp.Cache.RedisURL)
	maskNonEmpty(&cp.Cache.Password)

	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
