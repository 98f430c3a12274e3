// Package logging builds the process logger: a console handler teed with the
// append-only JSONL event sink served by /admin/logs.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	charmLog "github.com/charmbracelet/log"

	"github.com/nextlevelbuilder/unibox/internal/config"
)

// Setup returns the logger for cfg writing console output to w, plus the file
// sink when cfg.File is set (nil otherwise). The caller closes the sink.
func Setup(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, *FileSink, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var console slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "text":
		console = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	case "json":
		console = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case "pretty":
		console = charmLog.NewWithOptions(w, charmLog.Options{
			Level:           charmLevel(level),
			ReportTimestamp: true,
			Formatter:       charmLog.TextFormatter,
		})
	default:
		return nil, nil, fmt.Errorf("unsupported log format %q", cfg.Format)
	}

	if cfg.File == "" {
		return slog.New(console), nil, nil
	}
	sink, err := OpenFileSink(cfg.File, level)
	if err != nil {
		return nil, nil, err
	}
	return slog.New(Tee(console, sink)), sink, nil
}

// ParseLevel maps debug/info/warn/error to a slog level; empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unsupported log level %q", s)
}

func charmLevel(level slog.Level) charmLog.Level {
	switch {
	case level <= slog.LevelDebug:
		return charmLog.DebugLevel
	case level <= slog.LevelInfo:
		return charmLog.InfoLevel
	case level <= slog.LevelWarn:
		return charmLog.WarnLevel
	default:
		return charmLog.ErrorLevel
	}
}

type teeHandler []slog.Handler

// Tee fans every record out to each handler that accepts its level.
func Tee(handlers ...slog.Handler) slog.Handler { return teeHandler(handlers) }

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}
