package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// StatusProvider reports live service figures.
type StatusProvider interface {
	PoolCount() int
	Uptime() time.Duration
}

// Health is the JSON body of the health endpoints.
type Health struct {
	Status string  `json:"status"`
	Bot    string  `json:"bot"`
	Pools  int     `json:"pools"`
	Uptime float64 `json:"uptime"`
}

// NewRouter builds the HTTP routes. metrics may be nil.
func NewRouter(name string, status StatusProvider, metrics http.Handler, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(Recover(logger))
	r.Use(Logger(logger))

	health := healthHandler(name, status)
	r.Get("/", health)
	r.Get("/health", health)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	})
	return r
}

func healthHandler(name string, status StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		body := Health{
			Status: "running",
			Bot:    name,
			Pools:  status.PoolCount(),
			Uptime: status.Uptime().Seconds(),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(body)
	}
}

// Server wraps http.Server with context-driven shutdown.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

// New constructs a server listening on addr.
func New(addr string, handler http.Handler, logger zerolog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger.With().Str("component", "http").Logger(),
	}
}

// Run binds the listener and serves until ctx is cancelled. A bind failure
// is returned immediately.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}
