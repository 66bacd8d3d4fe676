// Package server runs the feedcache HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/AtRiskMedia/feedcache-go/internal/application/container"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/feedcache-go/internal/presentation/http/routes"
	"github.com/AtRiskMedia/feedcache-go/pkg/config"
)

// Server owns the listener and the http.Server for the API router.
type Server struct {
	httpServer *http.Server
	logger     *logging.ChanneledLogger

	mu       sync.Mutex
	listener net.Listener
}

// New builds the router for c. addr is a host:port or a bare port.
func New(addr string, c *container.Container, settings routes.Settings) *Server {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = ":" + addr
	}

	router := routes.NewRouter(c, settings)
	c.Logger.Startup().Info("API routes registered",
		slog.Int("routes", len(router.Routes())),
		slog.Bool("adminEnabled", settings.AdminSecret != ""))

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  config.ServerReadTimeout,
			WriteTimeout: config.ServerWriteTimeout,
			IdleTimeout:  config.ServerIdleTimeout,
		},
		logger: c.Logger,
	}
}

// Listen binds the configured address. Start calls it when needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln
	s.logger.Startup().Info("Feedcache API listening", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr is the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Start serves until Stop. A clean shutdown returns nil.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("feedcache API stopped: %w", err)
	}
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	start := time.Now()
	s.logger.Shutdown().Info("Draining feedcache API", slog.String("addr", s.Addr()))
	err := s.httpServer.Shutdown(ctx)
	s.logger.Shutdown().Info("Feedcache API drained",
		slog.Duration("duration", time.Since(start)),
		slog.Bool("clean", err == nil))
	return err
}
