package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/matheus3301/wppcrm/internal/api"
	"github.com/matheus3301/wppcrm/internal/push"
	"go.uber.org/zap"
)

// Server manages the HTTP server lifecycle for a session daemon.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *zap.Logger
}

// NewServer binds the control API and push endpoint to the configured
// address, or to p.Listener when one is given.
func NewServer(p Params, logger *zap.Logger, handler *api.Handler, hub *push.Hub) (*Server, error) {
	listener := p.Listener
	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", p.Config.HTTP.Addr)
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", p.Config.HTTP.Addr, err)
		}
	}

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, hub)

	return &Server{
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: listener,
		logger:   logger,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start begins serving HTTP requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.listener.Addr().String()))
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop performs a graceful shutdown. WebSocket observers are hijacked
// connections and are closed by the hub instead.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("http server stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http server shutdown", zap.Error(err))
	}
}
