package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/practice-vendor-crawler/internal/progress"
)

const (
	defaultHostLimit = 100
	maxHostLimit     = 1000
)

// ProgressHandler exposes read-only run progress endpoints.
type ProgressHandler struct {
	progress ProgressSource
	hosts    HostSource
	logger   *zap.Logger
}

// NewProgressHandler wires the sources and logger.
func NewProgressHandler(progressSrc ProgressSource, hosts HostSource, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{progress: progressSrc, hosts: hosts, logger: logger}
}

// Ready handles GET /readyz. It answers 503 until a run is attached.
func (h *ProgressHandler) Ready(w http.ResponseWriter, _ *http.Request) {
	if h.progress == nil {
		writeError(w, http.StatusServiceUnavailable, "no run attached")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Progress handles GET /v1/progress.
func (h *ProgressHandler) Progress(w http.ResponseWriter, _ *http.Request) {
	if h.progress == nil {
		writeError(w, http.StatusServiceUnavailable, "progress unavailable")
		return
	}
	writeJSON(w, http.StatusOK, h.progress.Snapshot())
}

// ListHosts handles GET /v1/hosts?blocked=&limit=&offset=. Hosts are sorted by
// name; blocked=true keeps only hosts the guard gave up on.
func (h *ProgressHandler) ListHosts(w http.ResponseWriter, r *http.Request) {
	if h.hosts == nil {
		writeError(w, http.StatusServiceUnavailable, "host report unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultHostLimit, maxHostLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	blockedOnly, err := parseBool(r.URL.Query().Get("blocked"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid blocked filter")
		return
	}

	all := h.hosts.Hosts()
	filtered := make([]progress.HostStats, 0, len(all))
	for _, st := range all {
		if blockedOnly && !st.Blocked {
			continue
		}
		filtered = append(filtered, st)
	}
	total := len(filtered)
	start := min(offset, total)
	end := min(start+limit, total)
	writeJSON(w, http.StatusOK, map[string]any{
		"hosts": filtered[start:end],
		"total": total,
	})
}

// GetHost handles GET /v1/hosts/{host}.
func (h *ProgressHandler) GetHost(w http.ResponseWriter, r *http.Request) {
	if h.hosts == nil {
		writeError(w, http.StatusServiceUnavailable, "host report unavailable")
		return
	}
	name := strings.ToLower(chi.URLParam(r, "host"))
	for _, st := range h.hosts.Hosts() {
		if st.Host == name {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	h.logger.Debug("host not in report", zap.String("host", name))
	writeError(w, http.StatusNotFound, "host not found")
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, errors.New("invalid boolean")
	}
	return v, nil
}
