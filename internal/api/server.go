// Package api provides the HTTP REST API for Relay Bridge.
//
// It exposes authentication, topic management, message history and
// publish endpoints to HTTP clients, layered over the auth service, the
// topic repository, the broker bridge and the publish queue.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/relaybridge/relay-core/internal/auth"
	"github.com/relaybridge/relay-core/internal/bridge"
	"github.com/relaybridge/relay-core/internal/infrastructure/config"
	"github.com/relaybridge/relay-core/internal/infrastructure/database"
	"github.com/relaybridge/relay-core/internal/infrastructure/logging"
	"github.com/relaybridge/relay-core/internal/infrastructure/mqtt"
	"github.com/relaybridge/relay-core/internal/infrastructure/redis"
	"github.com/relaybridge/relay-core/internal/queue"
	"github.com/relaybridge/relay-core/internal/topic"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.API
	Logger  *logging.Logger
	Auth    *auth.Service
	Topics  topic.Repository
	Bridge  *bridge.Service
	Queue   *queue.Queue
	DB      *database.DB
	Redis   *redis.Client
	MQTT    *mqtt.Client
	Version string
}

// Server is the HTTP API server for Relay Bridge.
//
// It manages the HTTP listener, routes and middleware. The server is
// created with New() and started with Start().
type Server struct {
	cfg     config.API
	logger  *logging.Logger
	auth    *auth.Service
	topics  topic.Repository
	bridge  *bridge.Service
	queue   *queue.Queue
	db      *database.DB
	redis   *redis.Client
	mqtt    *mqtt.Client
	version string
	server  *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, services)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("auth service is required")
	}
	if deps.Topics == nil {
		return nil, fmt.Errorf("topic repository is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}
	if deps.Queue == nil {
		return nil, fmt.Errorf("publish queue is required")
	}

	return &Server{
		cfg:     deps.Config,
		logger:  deps.Logger.With("component", "api"),
		auth:    deps.Auth,
		topics:  deps.Topics,
		bridge:  deps.Bridge,
		queue:   deps.Queue,
		db:      deps.DB,
		redis:   deps.Redis,
		mqtt:    deps.MQTT,
		version: deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// The listener runs in a background goroutine; stop it with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(_ context.Context) error {
	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
