package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleEvents streams the caller's change events as Server-Sent Events. Each
// event is written as "event: <type>" followed by a JSON data line.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerFrom(ctx)

	ch, cancel, err := s.hub.Subscribe(ctx, owner)
	if err != nil {
		s.logger.Error("event subscription failed", "owner_id", owner, "error", err)
		writeError(w, http.StatusServiceUnavailable, "event stream unavailable", s.logger)
		return
	}
	defer cancel()

	rc := http.NewResponseController(w)
	// The stream outlives the server's write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("cannot clear write deadline", "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		s.logger.Error("event stream cannot flush", "error", err)
		return
	}

	s.logger.Debug("event stream opened", "owner_id", owner, "device_id", deviceFrom(ctx))
	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("event stream closed", "owner_id", owner)
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("failed to encode event", "type", ev.Type, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
