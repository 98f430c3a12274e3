package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Gateway.Port)
	assert.Equal(t, "v19.0", cfg.Channels.GraphVersion)
	assert.Equal(t, 1500, cfg.AutoReply.DebounceMS)
	assert.Equal(t, 12, cfg.AutoReply.HistoryLimit)
	assert.Equal(t, 120, cfg.AutoReply.CacheTTLSec)
	assert.Equal(t, 15*time.Second, cfg.Assistant.Timeout())
	assert.False(t, cfg.IsManagedMode())
}

func TestLoadJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// comments are allowed
		gateway: { port: 8088, allowed_origins: ["http://localhost:3000"] },
		autoreply: { enabled: false, debounce_ms: 2000 },
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8088, cfg.Gateway.Port)
	assert.Equal(t, FlexibleStringSlice{"http://localhost:3000"}, cfg.Gateway.AllowedOrigins)
	assert.False(t, cfg.AutoReply.Enabled)
	assert.Equal(t, 2000, cfg.AutoReply.DebounceMS)
	assert.Equal(t, 12, cfg.AutoReply.HistoryLimit, "unset fields keep defaults")
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("channels:\n  graph_version: v20.0\n  telegram:\n    api_server: http://localhost:8081\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "v20.0", cfg.Channels.GraphVersion)
	assert.Equal(t, "http://localhost:8081", cfg.Channels.Telegram.APIServer)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WHATSAPP_TOKEN", "legacy-token")
	t.Setenv("TELEGRAM_BOT_TOKEN", "legacy-bot")
	t.Setenv("UNIBOX_CHANNELS_TELEGRAM_TOKEN", "prefixed-bot")
	t.Setenv("DATABASE_URL", "postgres://localhost/unibox")
	t.Setenv("UNIBOX_AUTOREPLY_DEBOUNCE_MS", "900")
	t.Setenv("FRONTEND_ORIGIN", "https://inbox.example.com")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)

	assert.Equal(t, "legacy-token", cfg.Channels.WhatsApp.Token)
	assert.Equal(t, "prefixed-bot", cfg.Channels.Telegram.Token, "prefixed names win")
	assert.True(t, cfg.IsManagedMode())
	assert.Equal(t, 900, cfg.AutoReply.DebounceMS)
	assert.Equal(t, FlexibleStringSlice{"https://inbox.example.com"}, cfg.Gateway.AllowedOrigins)
}

func TestMaskedCopyHidesSecrets(t *testing.T) {
	cfg := Default()
	cfg.Channels.AppSecret = "s"
	cfg.Channels.Telegram.Token = "t"
	cfg.Database.PostgresDSN = "postgres://secret"

	masked := cfg.MaskedCopy()
	assert.Equal(t, secretMask, masked.Channels.AppSecret)
	assert.Equal(t, secretMask, masked.Channels.Telegram.Token)
	assert.Equal(t, secretMask, masked.Database.PostgresDSN)
	assert.Empty(t, masked.Channels.WhatsApp.Token)
	assert.Equal(t, "s", cfg.Channels.AppSecret, "original untouched")
}

func TestMissingCredentials(t *testing.T) {
	missing := Default().MissingCredentials()
	assert.Contains(t, missing, "channels.app_secret")
	assert.Contains(t, missing, "channels.telegram.token")
}

func TestWatchReloadsAutoReply(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{autoreply: {enabled: true, debounce_ms: 1500}}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloaded := make(chan struct{}, 1)
	go Watch(ctx, path, cfg, func(*Config) {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	})

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{autoreply: {enabled: false, debounce_ms: 3000}}`), 0o600))

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
	got := cfg.AutoReplySettings()
	assert.False(t, got.Enabled)
	assert.Equal(t, 3000, got.DebounceMS)
}
