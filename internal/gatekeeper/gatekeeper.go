// Package gatekeeper authenticates inbound platform webhooks before any
// parsing or persistence happens.
package gatekeeper

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const (
	SignatureHeader   = "X-Hub-Signature-256"
	TelegramHeader    = "X-Telegram-Bot-Api-Secret-Token"
	signaturePrefix   = "sha256="
	defaultMaxBodyLen = 1 << 20
)

// AuthenticationError rejects a webhook request. Status is 400 for missing
// credentials and 401 for mismatches.
type AuthenticationError struct {
	Status int
	Reason string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("webhook authentication failed (%d): %s", e.Status, e.Reason)
}

func badRequest(reason string) error {
	return &AuthenticationError{Status: http.StatusBadRequest, Reason: reason}
}

func unauthorized(reason string) error {
	return &AuthenticationError{Status: http.StatusUnauthorized, Reason: reason}
}

// Verifier checks one request's credentials against its exact raw body.
type Verifier interface {
	Verify(header http.Header, body []byte) error
}

// Signature verifies Meta's X-Hub-Signature-256 HMAC. An empty secret
// disables the check (development mode) and every skipped request is logged.
type Signature struct {
	Secret string
}

// Verify implements Verifier.
func (s Signature) Verify(header http.Header, body []byte) error {
	if s.Secret == "" {
		slog.Warn("gatekeeper.signature_skipped", "reason", "app secret not configured")
		return nil
	}
	sig := header.Get(SignatureHeader)
	if sig == "" {
		return badRequest("missing " + SignatureHeader)
	}
	if len(body) == 0 {
		return badRequest("empty body")
	}
	expected := Sign(s.Secret, body)
	if subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) != 1 {
		return unauthorized("signature mismatch")
	}
	return nil
}

// Sign returns the "sha256=<hex>" signature Meta sends for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// SecretToken verifies Telegram's shared webhook secret header. An empty
// configured secret disables the check.
type SecretToken struct {
	Secret string
}

// Verify implements Verifier.
func (s SecretToken) Verify(header http.Header, _ []byte) error {
	if s.Secret == "" {
		slog.Warn("gatekeeper.secret_skipped", "reason", "telegram webhook secret not configured")
		return nil
	}
	got := strings.TrimSpace(header.Get(TelegramHeader))
	if got == "" {
		return badRequest("missing " + TelegramHeader)
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.Secret)) != 1 {
		return unauthorized("secret token mismatch")
	}
	return nil
}

// Middleware reads the raw body (bounded by maxBody), verifies it, and hands
// an identical re-readable body to next. Rejected requests never reach next.
func Middleware(v Verifier, maxBody int64, next http.Handler) http.Handler {
	if maxBody <= 0 {
		maxBody = defaultMaxBodyLen
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if err := v.Verify(r.Header, body); err != nil {
			status := http.StatusUnauthorized
			var authErr *AuthenticationError
			if errors.As(err, &authErr) {
				status = authErr.Status
			}
			slog.Warn("gatekeeper.rejected", "path", r.URL.Path, "status", status, "error", err)
			http.Error(w, http.StatusText(status), status)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
		next.ServeHTTP(w, r)
	})
}
