package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-node/internal/link"
	"github.com/nerrad567/gray-logic-node/internal/node"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 5 * time.Second

// Node is the part of the orchestrator the HTTP surfaces drive.
type Node interface {
	Snapshot() node.Snapshot
	ScanNetworks(ctx context.Context) ([]link.ScannedNetwork, error)
	ConnectLink(ctx context.Context, ssid, passphrase string) (link.Info, error)
	SaveBroker(ctx context.Context, host string, port int) error
	FactoryReset(ctx context.Context) error
}

// Deps holds the dependencies required by the HTTP server.
type Deps struct {
	Config config.HTTPConfig
	WS     config.WebSocketConfig
	Logger *logging.Logger
	Node   Node

	// PortalAddress is where unmatched portal requests are redirected,
	// normally the access point address.
	PortalAddress string

	// Hub is created by the caller so the telemetry publisher can
	// broadcast into it before the server starts.
	Hub *Hub

	// PagesDir overrides the embedded pages (dev mode).
	PagesDir string
}

// Server serves the provisioning portal while the node is in Setup and
// the dashboard while it is Running. The surface is picked per request
// from the node's current mode.
type Server struct {
	cfg      config.HTTPConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	node     Node
	portal   string
	pagesDir string

	hub         *Hub
	externalHub bool

	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a new HTTP server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Node == nil {
		return nil, fmt.Errorf("node is required")
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		logger:   deps.Logger.With("component", "api"),
		node:     deps.Node,
		portal:   deps.PortalAddress,
		pagesDir: deps.PagesDir,
	}
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	}
	return s, nil
}

// Start binds the listener and serves in a background goroutine. A bind
// failure is returned here rather than logged later.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("http server starting", "address", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Close gracefully shuts down the server.
//
// It waits up to gracefulShutdownTimeout for in-flight requests, then
// forcefully closes remaining connections. An injected hub is left to
// its owner.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("http server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}
