package web

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type contextKey int

const (
	ownerKey contextKey = iota
	deviceKey
)

// DeviceHeader carries the calling device's id so change events can name
// their origin.
const DeviceHeader = "X-Device-ID"

func ownerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey).(string)
	return owner
}

func deviceFrom(ctx context.Context) string {
	device, _ := ctx.Value(deviceKey).(string)
	return device
}

// requireAuth accepts "Authorization: Bearer <token>". Browsers cannot set
// headers on an EventSource, so an access_token query parameter is also
// accepted, as is a device query parameter.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if h := r.Header.Get("Authorization"); h != "" {
			var ok bool
			token, ok = strings.CutPrefix(h, "Bearer ")
			if !ok {
				writeError(w, http.StatusUnauthorized, "unsupported authorization scheme", s.logger)
				return
			}
		} else {
			token = r.URL.Query().Get("access_token")
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "authorization required", s.logger)
			return
		}

		owner, err := s.tokens.Verify(token)
		if err != nil {
			s.logger.Debug("rejected token", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, "invalid token", s.logger)
			return
		}

		device := r.Header.Get(DeviceHeader)
		if device == "" {
			device = r.URL.Query().Get("device")
		}

		ctx := context.WithValue(r.Context(), ownerKey, owner)
		ctx = context.WithValue(ctx, deviceKey, device)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; img-src data:; style-src 'unsafe-inline'")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
