package web

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vbonduro/timelock/internal/service"
)

const maxTextBody = 1 << 20

type createTextRequest struct {
	Type            string `json:"type"`
	Title           string `json:"title"`
	Content         string `json:"content"`
	UnlockAt        int64  `json:"unlockAt"`
	UnlockInMinutes int64  `json:"unlockInMinutes"`
}

type extendRequest struct {
	Minutes int `json:"minutes"`
}

func unlockFields(unlockAtMs, unlockInMinutes int64) (time.Time, time.Duration) {
	var at time.Time
	if unlockAtMs > 0 {
		at = time.UnixMilli(unlockAtMs).UTC()
	}
	return at, time.Duration(unlockInMinutes) * time.Minute
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	views, err := s.vault.List(r.Context(), ownerFrom(r.Context()), query)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	items := make([]itemResponse, 0, len(views))
	for _, v := range views {
		items = append(items, toItemResponse(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items}, s.logger)
}

// handleCreateItem accepts a JSON text item or a multipart image upload.
func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		s.handleCreateImage(w, r)
		return
	}

	var req createTextRequest
	if err := decodeJSON(http.MaxBytesReader(w, r.Body, maxTextBody), &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", s.logger)
		return
	}
	if req.Type != "" && req.Type != "text" {
		writeError(w, http.StatusBadRequest, "image items must be uploaded as multipart/form-data", s.logger)
		return
	}

	at, in := unlockFields(req.UnlockAt, req.UnlockInMinutes)
	view, err := s.vault.CreateText(r.Context(), ownerFrom(r.Context()), deviceFrom(r.Context()), service.CreateTextInput{
		Title:    req.Title,
		Content:  req.Content,
		UnlockAt: at,
		UnlockIn: in,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeItem(w, http.StatusCreated, view, s.logger)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	view, err := s.vault.Get(r.Context(), ownerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if r.URL.Query().Get("format") == "html" {
		s.writeItemHTML(w, r, view)
		return
	}
	writeItem(w, http.StatusOK, view, s.logger)
}

func (s *Server) writeItemHTML(w http.ResponseWriter, r *http.Request, view *service.ItemView) {
	body, err := s.vault.RenderHTML(view)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("ETag", formatETag(view.Version))
	if _, err := io.WriteString(w, body); err != nil {
		s.logger.Error("failed to write html", "item_id", view.ID, "error", err)
	}
}

func (s *Server) handleExtendItem(w http.ResponseWriter, r *http.Request) {
	expected, err := parseIfMatch(r.Header.Get("If-Match"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), s.logger)
		return
	}

	var req extendRequest
	if err := decodeJSON(http.MaxBytesReader(w, r.Body, maxTextBody), &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", s.logger)
		return
	}

	view, err := s.vault.Extend(r.Context(), ownerFrom(r.Context()), deviceFrom(r.Context()), r.PathValue("id"), req.Minutes, expected)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeItem(w, http.StatusOK, view, s.logger)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := s.vault.Delete(r.Context(), ownerFrom(r.Context()), deviceFrom(r.Context()), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true}, s.logger)
}

func (s *Server) handleShareItem(w http.ResponseWriter, r *http.Request) {
	share, err := s.vault.Share(r.Context(), ownerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s/shared/%s", scheme, r.Host, share.Token)
	writeJSON(w, http.StatusCreated, map[string]string{"token": share.Token, "url": url}, s.logger)
}

func (s *Server) handleGetShared(w http.ResponseWriter, r *http.Request) {
	view, err := s.vault.GetShared(r.Context(), r.PathValue("token"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if r.URL.Query().Get("format") == "html" {
		s.writeItemHTML(w, r, view)
		return
	}
	writeItem(w, http.StatusOK, view, s.logger)
}

func parseInt64Field(r *http.Request, name string) (int64, error) {
	v := strings.TrimSpace(r.FormValue(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}
