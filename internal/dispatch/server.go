package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"hybrid-echo-go/internal/config"
)

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second
)

// Server serves HTTP/1.1 and cleartext HTTP/2 on a single listener. HTTP/2
// clients must use prior knowledge, as gRPC does.
type Server struct {
	http   *http.Server
	logger *slog.Logger
}

// NewServer wraps d in an h2c-capable http.Server. No read or write timeout
// is set because gRPC calls may stream for as long as their deadline allows.
func NewServer(cfg *config.Config, d *Dispatcher, logger *slog.Logger) (*Server, error) {
	logger = logger.With("component", "server")

	h2s := &http2.Server{IdleTimeout: idleTimeout}
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           h2c.NewHandler(d, h2s),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	// Lets Shutdown drain h2c connections as well.
	if err := http2.ConfigureServer(srv, h2s); err != nil {
		return nil, fmt.Errorf("dispatch: configure http2: %w", err)
	}

	return &Server{http: srv, logger: logger}, nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.http.Addr }

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("listening", "addr", ln.Addr().String())
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for active ones to finish
// or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
