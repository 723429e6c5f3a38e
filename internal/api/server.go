// Package api provides the local HTTP and WebSocket surface for GridFlow
// Core: device listings, live snapshots, command dispatch, and a snapshot
// stream for wall panels and dashboards on the trusted LAN.
//
// The server follows the same lifecycle pattern as the other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gridflow-core/internal/coordinator"
	"github.com/nerrad567/gridflow-core/internal/device"
	"github.com/nerrad567/gridflow-core/internal/infrastructure/config"
	"github.com/nerrad567/gridflow-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum wait for in-flight requests
// during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker reports the health of one named subsystem.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Registry *device.Registry
	Fleet    *coordinator.Fleet
	Health   map[string]HealthChecker
	Version  string
}

// Server is the local HTTP API server.
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	registry *device.Registry
	fleet    *coordinator.Fleet
	health   map[string]HealthChecker
	version  string

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc
}

// New creates an API server with the given dependencies.
//
// Parameters:
//   - deps: Required dependencies (config, logger, registry, fleet)
//
// Returns:
//   - *Server: Configured server, not yet listening
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Fleet == nil {
		return nil, fmt.Errorf("coordinator fleet is required")
	}

	return &Server{
		cfg:      deps.Config,
		logger:   deps.Logger.With("component", "api"),
		registry: deps.Registry,
		fleet:    deps.Fleet,
		health:   deps.Health,
		version:  deps.Version,
	}, nil
}

// Start begins listening for HTTP connections. It wires the WebSocket
// hub to every coordinator's snapshot stream and launches the listener
// in a background goroutine; stop with Close.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.logger)
	go s.hub.Run(srvCtx)
	s.subscribeSnapshots()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("api server listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", "error", err)
		}
	}()

	return nil
}

// subscribeSnapshots forwards every published snapshot to the hub.
func (s *Server) subscribeSnapshots() {
	for _, sn := range s.fleet.SerialNumbers() {
		c, err := s.fleet.Get(sn)
		if err != nil {
			continue
		}
		c.Subscribe(func(snapshot coordinator.Snapshot) {
			s.hub.Broadcast(snapshot)
		})
	}
}

// Close gracefully shuts down the server, waiting briefly for in-flight
// requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("api server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down api server: %w", err)
	}
	return nil
}
