// Package assistant talks to the external reply assistant and caches its
// answers.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Assistant is the interface every backend implements.
type Assistant interface {
	// Invoke asks for a reply to the latest user message. Backends return
	// *Error for network, auth and malformed-response failures.
	Invoke(ctx context.Context, req Request) (Response, error)

	// Name returns the backend identifier ("http", "openai").
	Name() string
}

// Request is the assistant contract's input.
type Request struct {
	ConversationID string         `json:"conversation_id"`
	Channel        string         `json:"channel"`
	Language       string         `json:"language"`
	MessageText    string         `json:"message_text"`
	History        []HistoryEntry `json:"history"`
	Metadata       map[string]any `json:"metadata"`
}

// HistoryEntry is one prior conversation message, oldest first.
type HistoryEntry struct {
	Sender    string         `json:"sender"`
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// Response is the assistant's decoded JSON answer. Only the reply text is
// interpreted; everything else (intent, confidence) is carried through.
type Response map[string]any

// ReplyText returns the first non-blank of reply_text, reply and text,
// trimmed. Empty means "no reply".
func (r Response) ReplyText() string {
	for _, key := range []string{"reply_text", "reply", "text"} {
		if s, ok := r[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// Intent returns the optional intent label.
func (r Response) Intent() string {
	s, _ := r["intent"].(string)
	return s
}

// Confidence returns the optional confidence score.
func (r Response) Confidence() float64 {
	f, _ := r["confidence"].(float64)
	return f
}

// Error kinds.
const (
	KindNetwork   = "network"
	KindAuth      = "auth"
	KindMalformed = "malformed"
	KindConfig    = "config"
)

// Error is an assistant call failure.
type Error struct {
	Kind   string
	Status int // HTTP status when the backend answered
	Err    error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("assistant %s error (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("assistant %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrNotConfigured is returned when no endpoint is set.
var ErrNotConfigured = errors.New("assistant endpoint is not configured")

func kindForStatus(status int) string {
	if status == 401 || status == 403 {
		return KindAuth
	}
	return KindNetwork
}
