package http

import (
	"net/http"

	"github.com/nextlevelbuilder/unibox/internal/metrics"
)

// LogReader returns the most recent event-log entries, oldest first;
// *logging.FileSink implements it.
type LogReader interface {
	Recent(n int) ([]map[string]any, error)
}

// AdminHandler serves operational endpoints.
type AdminHandler struct {
	logs  LogReader
	token string
}

// NewAdminHandler creates the admin handler. logs may be nil when the event
// log is disabled.
func NewAdminHandler(logs LogReader, token string) *AdminHandler {
	return &AdminHandler{logs: logs, token: token}
}

// RegisterRoutes registers /admin/logs and /metrics.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/logs", requireToken(h.token, h.handleLogs))
	mux.Handle("GET /metrics", metrics.Handler())
}

func (h *AdminHandler) handleLogs(w http.ResponseWriter, r *http.Request) {
	if h.logs == nil {
		writeJSON(w, http.StatusOK, map[string]any{"entries": []map[string]any{}})
		return
	}
	entries, err := h.logs.Recent(queryLimit(r, 50, 1000))
	if err != nil {
		writeErr(w, err)
		return
	}
	if entries == nil {
		entries = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
