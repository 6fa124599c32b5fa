package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/vbonduro/timelock/internal/domain"
	"github.com/vbonduro/timelock/internal/service"
)

type itemResponse struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Title      string  `json:"title"`
	MimeType   string  `json:"mimeType,omitempty"`
	UnlockAt   int64   `json:"unlockAt"`
	CreatedAt  int64   `json:"createdAt"`
	Unlocked   bool    `json:"unlocked"`
	Content    *string `json:"content"`
	LayerCount int     `json:"layerCount"`
	Version    int64   `json:"version"`
}

func toItemResponse(v *service.ItemView) itemResponse {
	return itemResponse{
		ID:         v.ID,
		Type:       string(v.Type),
		Title:      v.Title,
		MimeType:   v.MimeType,
		UnlockAt:   v.UnlockAt.UnixMilli(),
		CreatedAt:  v.CreatedAt.UnixMilli(),
		Unlocked:   v.Unlocked,
		Content:    v.Content,
		LayerCount: v.LayerCount,
		Version:    v.Version,
	}
}

type settingsResponse struct {
	Values    map[string]string `json:"values"`
	Version   int64             `json:"version"`
	UpdatedAt int64             `json:"updatedAt"`
	UpdatedBy string            `json:"updatedBy,omitempty"`
}

func toSettingsResponse(s *domain.Settings) settingsResponse {
	resp := settingsResponse{Values: s.Values, Version: s.Version, UpdatedBy: s.UpdatedBy}
	if !s.UpdatedAt.IsZero() {
		resp.UpdatedAt = s.UpdatedAt.UnixMilli()
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, body any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *slog.Logger) {
	writeJSON(w, status, map[string]string{"error": msg}, logger)
}

func writeItem(w http.ResponseWriter, status int, v *service.ItemView, logger *slog.Logger) {
	w.Header().Set("ETag", formatETag(v.Version))
	writeJSON(w, status, toItemResponse(v), logger)
}

// writeServiceError maps service errors onto status codes. Anything
// unexpected is logged and reported without detail.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error(), s.logger)
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "item not found", s.logger)
	case errors.Is(err, service.ErrConflict):
		writeError(w, http.StatusConflict, "item was modified by another request", s.logger)
	case errors.Is(err, service.ErrLocked):
		writeError(w, http.StatusLocked, "item is still locked", s.logger)
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", s.logger)
	}
}

func formatETag(version int64) string {
	return `"` + strconv.FormatInt(version, 10) + `"`
}

// parseIfMatch returns the expected version carried by an If-Match header.
// A missing header or "*" means any version.
func parseIfMatch(h string) (int64, error) {
	h = strings.TrimSpace(h)
	if h == "" || h == "*" {
		return 0, nil
	}
	h = strings.TrimPrefix(h, "W/")
	unquoted, err := strconv.Unquote(h)
	if err != nil {
		unquoted = h
	}
	v, err := strconv.ParseInt(unquoted, 10, 64)
	if err != nil || v <= 0 {
		return 0, errors.New("malformed If-Match header")
	}
	return v, nil
}

func decodeJSON(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
