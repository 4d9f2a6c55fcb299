package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

type Option func(*Server)

func WithMigrateDown(m func() error) Option {
	return func(s *Server) {
		s.migrateDown = m
	}
}

func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.shutdownTimeout = d
	}
}

type Server struct {
	router          *http.ServeMux
	handler         *Handler
	secret          string
	metrics         http.Handler
	migrateDown     func() error
	shutdownTimeout time.Duration
}

func NewServer(h *Handler, secret string, opts ...Option) *Server {
	s := &Server{
		router:          http.NewServeMux(),
		handler:         h,
		secret:          secret,
		shutdownTimeout: 10 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes(h)
	return s
}

func (s *Server) setupRoutes(h *Handler) {
	auth := AuthMiddleware(s.secret)

	s.router.Handle("GET /ws", auth(http.HandlerFunc(h.handleWS)))
	s.router.Handle("GET /messages/{username}", auth(http.HandlerFunc(h.handleHistory)))
	s.router.Handle("POST /push/subscriptions", auth(http.HandlerFunc(h.handleSavePushSubscription)))
	s.router.HandleFunc("GET /healthz", h.handleHealth)

	if s.metrics != nil {
		s.router.Handle("GET /metrics", s.metrics)
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled. Websocket handlers inherit ctx, so
// cancelling it also closes every live connection; Run waits for their
// disconnect handling before returning.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			errCh <- err
		}
	}()
	slog.Info("Server is running", "addr", addr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdown := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer shutdown()

	err := server.Shutdown(shutdownCtx)

	if err := s.handler.drain(shutdownCtx); err != nil {
		slog.Warn("Shutdown timed out with live connections")
	}

	if s.migrateDown != nil {
		if err := s.migrateDown(); err != nil {
			slog.Warn("Failed to migrate down", "error", err)
		} else {
			slog.Info("Migrations down")
		}
	}

	slog.Info("Server exited")
	return err
}
