// Package http holds the HTTP handlers served by the gateway: platform
// webhooks, the inbox REST API and admin endpoints.
package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nextlevelbuilder/unibox/internal/channels"
	"github.com/nextlevelbuilder/unibox/internal/delivery"
	"github.com/nextlevelbuilder/unibox/internal/gatekeeper"
	"github.com/nextlevelbuilder/unibox/internal/store"
)

const maxAPIBody = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr maps the error taxonomy onto status codes. 5xx bodies never carry
// the internal error text.
func writeErr(w http.ResponseWriter, err error) {
	var (
		cfgErr    *channels.ConfigurationError
		chErr     *channels.UnsupportedChannelError
		authErr   *gatekeeper.AuthenticationError
		sendErr   *delivery.UpstreamSendError
		persistEr *store.PersistenceError
	)
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &chErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &authErr):
		writeError(w, authErr.Status, authErr.Reason)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.As(err, &sendErr):
		slog.Error("http.upstream_failed", "channel", sendErr.Channel, "recipient", sendErr.Recipient, "error", err)
		writeError(w, http.StatusBadGateway, "upstream send failed")
	case errors.As(err, &persistEr):
		slog.Error("http.persistence_failed", "op", persistEr.Op, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		slog.Error("http.internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON reads a JSON body into dst and validates its struct tags.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAPIBody)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field())+" ("+fe.Tag()+")")
			}
			writeError(w, http.StatusBadRequest, "invalid fields: "+strings.Join(fields, ", "))
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

// TokenMatches compares a presented token with the configured one in
// constant time.
func TokenMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// requireToken guards next with the gateway bearer token. An empty token
// leaves the route open.
func requireToken(token string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token != "" && !TokenMatches(extractBearerToken(r), token) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// clientIP keys rate limiting. X-Forwarded-For (first hop) is only read when
// the proxy in front is trusted.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func queryLimit(r *http.Request, def, maxLimit int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxLimit {
			return n
		}
	}
	return def
}
