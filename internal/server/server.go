package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/BioHazard786/Meetlink/internal/config"
	"github.com/BioHazard786/Meetlink/internal/relay"
	"github.com/rs/zerolog/log"
)

// Server runs the signaling hub behind an HTTP listener.
type Server struct {
	Hub  *relay.Hub
	http *http.Server
}

// New builds a server from configuration. Nothing listens until Serve.
func New(cfg *config.Server) *Server {
	hub := relay.NewHub(relay.WithMaxMembers(cfg.MaxMembers))

	router := NewRouter(hub, Options{
		AllowedOrigins: cfg.AllowedOrigins,
		Session: relay.SessionConfig{
			WriteWait:      cfg.WriteWait,
			PongWait:       cfg.PongWait,
			PingPeriod:     cfg.PingPeriod,
			MaxMessageSize: cfg.MaxMessageSize,
			SendBuffer:     cfg.SendBuffer,
		},
	})

	return &Server{
		Hub: hub,
		http: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// ListenAndServe runs until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.Hub.Run()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("Starting signaling server")
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.Hub.Stop()
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Shutdown does not track hijacked websocket connections, so the hub
	// is stopped after it to close them.
	err := s.http.Shutdown(shutdownCtx)
	if err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	s.Hub.Stop()
	log.Info().Msg("Server exited")
	return err
}
