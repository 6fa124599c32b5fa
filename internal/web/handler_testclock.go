package web

import (
	"net/http"
	"time"
)

type clockRequest struct {
	Now int64 `json:"now"`
}

// handleSetClock freezes the server clock at the given ms epoch. Only
// registered in test mode.
func (s *Server) handleSetClock(w http.ResponseWriter, r *http.Request) {
	var req clockRequest
	if err := decodeJSON(http.MaxBytesReader(w, r.Body, maxTextBody), &req); err != nil || req.Now <= 0 {
		writeError(w, http.StatusBadRequest, "now must be a positive ms epoch", s.logger)
		return
	}
	s.testClock.Set(time.UnixMilli(req.Now).UTC())
	s.logger.Warn("server clock overridden", "now", s.testClock.Now())
	writeJSON(w, http.StatusOK, map[string]int64{"now": s.testClock.Now().UnixMilli()}, s.logger)
}

func (s *Server) handleResetClock(w http.ResponseWriter, _ *http.Request) {
	s.testClock.Reset()
	s.logger.Warn("server clock reset to wall time")
	writeJSON(w, http.StatusOK, map[string]int64{"now": s.testClock.Now().UnixMilli()}, s.logger)
}
