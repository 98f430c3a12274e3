package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Entry is one JSONL line written by FileSink.
type Entry struct {
	Level     string         `json:"level"`
	Timestamp string         `json:"timestamp"`
	Event     string         `json:"event"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// FileSink is an append-only JSONL slog handler. Derived handlers share the
// file and its lock.
type FileSink struct {
	level  slog.Level
	attrs  []slog.Attr
	groups []string
	file   *fileState
}

type fileState struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenFileSink opens (creating if needed) the JSONL file at path.
func OpenFileSink(path string, level slog.Level) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &FileSink{level: level, file: &fileState{path: path, f: f}}, nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()
	return s.file.f.Close()
}

func (s *FileSink) Enabled(_ context.Context, level slog.Level) bool { return level >= s.level }

func (s *FileSink) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	entry := Entry{
		Level:     strings.ToLower(r.Level.String()),
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
		Event:     r.Message,
	}
	fields := make(map[string]any)
	for _, a := range s.attrs {
		s.apply(fields, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		s.apply(fields, a)
		return true
	})
	if len(fields) > 0 {
		entry.Fields = fields
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	s.file.mu.Lock()
	defer s.file.mu.Unlock()
	_, err = s.file.f.Write(append(line, '\n'))
	return err
}

func (s *FileSink) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *s
	next.attrs = append(append([]slog.Attr{}, s.attrs...), attrs...)
	return &next
}

func (s *FileSink) WithGroup(name string) slog.Handler {
	next := *s
	next.groups = append(append([]string{}, s.groups...), name)
	return &next
}

func (s *FileSink) apply(fields map[string]any, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if len(s.groups) > 0 {
		key = strings.Join(append(append([]string{}, s.groups...), a.Key), ".")
	}
	fields[key] = attrValue(a.Value)
}

func attrValue(v slog.Value) any {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindGroup:
		group := v.Group()
		out := make(map[string]any, len(group))
		for _, item := range group {
			out[item.Key] = attrValue(item.Value.Resolve())
		}
		return out
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return v.Any()
	default:
		return v.String()
	}
}

// Recent returns the last n entries, oldest first. Lines that do not parse
// are skipped.
func (s *FileSink) Recent(n int) ([]map[string]any, error) {
	if n <= 0 {
		return nil, nil
	}
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	f, err := os.Open(s.file.path)
	if err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}
	defer f.Close()

	ring := make([]map[string]any, 0, n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var m map[string]any
		if json.Unmarshal(sc.Bytes(), &m) != nil {
			continue
		}
		if len(ring) == n {
			ring = append(ring[1:], m)
		} else {
			ring = append(ring, m)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan log file: %w", err)
	}
	return ring, nil
}
