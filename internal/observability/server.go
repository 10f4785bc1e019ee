package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// HealthFunc reports readiness details for /healthz.
type HealthFunc func() map[string]any

// Server exposes /metrics and /healthz while a run is in progress.
type Server struct {
	addr   string
	health HealthFunc
	logger zerolog.Logger
	srv    *http.Server
	ln     net.Listener
}

// NewServer creates a server bound to addr. health may be nil.
func NewServer(addr string, health HealthFunc, logger zerolog.Logger) *Server {
	s := &Server{
		addr:   addr,
		health: health,
		logger: logger.With().Str("component", "metrics_server").Logger(),
	}
	s.srv = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", MetricsHandler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok"}
		if s.health != nil {
			for k, v := range s.health() {
				body[k] = v
			}
		}
		writeJSON(w, http.StatusOK, body)
	})
	return r
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Metrics server listening")

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
