package web

import (
	"net/http"
)

type settingsPatch struct {
	Values map[string]string `json:"values"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settings.Get(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(settings), s.logger)
}

// handlePutSettings merges the given values. An empty string deletes a key.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsPatch
	if err := decodeJSON(http.MaxBytesReader(w, r.Body, maxTextBody), &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", s.logger)
		return
	}

	settings, err := s.settings.Update(r.Context(), ownerFrom(r.Context()), deviceFrom(r.Context()), req.Values)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(settings), s.logger)
}
