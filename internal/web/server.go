package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/vbonduro/timelock/internal/clock"
	"github.com/vbonduro/timelock/internal/events"
	"github.com/vbonduro/timelock/internal/service"
)

// TokenVerifier resolves a bearer token to its owner id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

type Server struct {
	vault     *service.VaultService
	settings  *service.SettingsService
	hub       events.Hub
	tokens    TokenVerifier
	testClock *clock.Mock
	heartbeat time.Duration
	mux       *http.ServeMux
	logger    *slog.Logger
}

type Option func(*Server)

// WithTestClock exposes the clock control endpoints under /test/clock.
func WithTestClock(m *clock.Mock) Option {
	return func(s *Server) { s.testClock = m }
}

// WithHeartbeat sets how often idle event streams receive a keep-alive comment.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) { s.heartbeat = d }
}

func NewServer(vault *service.VaultService, settings *service.SettingsService, hub events.Hub, tokens TokenVerifier, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		vault:     vault,
		settings:  settings,
		hub:       hub,
		tokens:    tokens,
		heartbeat: 15 * time.Second,
		mux:       http.NewServeMux(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /shared/{token}", s.handleGetShared)

	s.mux.Handle("GET /items", s.requireAuth(http.HandlerFunc(s.handleListItems)))
	s.mux.Handle("POST /items", s.requireAuth(http.HandlerFunc(s.handleCreateItem)))
	s.mux.Handle("GET /items/{id}", s.requireAuth(http.HandlerFunc(s.handleGetItem)))
	s.mux.Handle("POST /items/{id}/extend", s.requireAuth(http.HandlerFunc(s.handleExtendItem)))
	s.mux.Handle("DELETE /items/{id}", s.requireAuth(http.HandlerFunc(s.handleDeleteItem)))
	s.mux.Handle("POST /items/{id}/shares", s.requireAuth(http.HandlerFunc(s.handleShareItem)))
	s.mux.Handle("GET /settings", s.requireAuth(http.HandlerFunc(s.handleGetSettings)))
	s.mux.Handle("PUT /settings", s.requireAuth(http.HandlerFunc(s.handlePutSettings)))
	s.mux.Handle("GET /events", s.requireAuth(http.HandlerFunc(s.handleEvents)))

	if s.testClock != nil {
		s.mux.HandleFunc("PUT /test/clock", s.handleSetClock)
		s.mux.HandleFunc("DELETE /test/clock", s.handleResetClock)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestLogger(s.logger, securityHeaders(s.mux)).ServeHTTP(w, r)
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.logger.Info("starting server", "addr", addr)
	srv := &http.Server{
		Addr:        addr,
		Handler:     s,
		ReadTimeout: 60 * time.Second,
		// Event streams manage their own write deadlines.
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server is shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}
