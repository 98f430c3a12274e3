package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/unibox/internal/config"
)

func TestSetupTeesConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "events.jsonl")

	logger, sink, err := Setup(config.LoggingConfig{Format: "json", File: path}, &console)
	require.NoError(t, err)
	require.NotNil(t, sink)
	defer sink.Close()

	logger.Debug("hidden")
	logger.Info("webhook.received", "channel", "telegram", "count", 2)
	logger.With("component", "delivery").Warn("send.failed", "error", errors.New("boom"))

	assert.Contains(t, console.String(), `"msg":"webhook.received"`)
	assert.NotContains(t, console.String(), "hidden")

	entries, err := sink.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "webhook.received", entries[0]["event"])
	assert.Equal(t, "info", entries[0]["level"])
	assert.Equal(t, map[string]any{"channel": "telegram", "count": float64(2)}, entries[0]["fields"])
	assert.Equal(t, "warn", entries[1]["level"])
	assert.Equal(t, map[string]any{"component": "delivery", "error": "boom"}, entries[1]["fields"])
}

func TestRecentKeepsNewest(t *testing.T) {
	sink, err := OpenFileSink(filepath.Join(t.TempDir(), "e.jsonl"), slog.LevelInfo)
	require.NoError(t, err)
	defer sink.Close()

	logger := slog.New(sink)
	for _, ev := range []string{"a", "b", "c", "d"} {
		logger.Info(ev)
	}

	entries, err := sink.Recent(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[0]["event"])
	assert.Equal(t, "d", entries[1]["event"])

	none, err := sink.Recent(0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGroupsPrefixKeys(t *testing.T) {
	sink, err := OpenFileSink(filepath.Join(t.TempDir(), "e.jsonl"), slog.LevelInfo)
	require.NoError(t, err)
	defer sink.Close()

	slog.New(sink).WithGroup("req").Info("http.request", "path", "/api/send")
	entries, err := sink.Recent(1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, map[string]any{"req.path": "/api/send"}, entries[0]["fields"])
}

func TestSetupFormats(t *testing.T) {
	for _, format := range []string{"", "text", "json", "pretty"} {
		var buf bytes.Buffer
		logger, sink, err := Setup(config.LoggingConfig{Format: format, Level: "debug"}, &buf)
		require.NoError(t, err, format)
		assert.Nil(t, sink)
		logger.Debug("probe.event")
		assert.Contains(t, buf.String(), "probe.event", format)
	}

	_, _, err := Setup(config.LoggingConfig{Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
	_, _, err = Setup(config.LoggingConfig{Level: "loud"}, &bytes.Buffer{})
	assert.Error(t, err)
}
