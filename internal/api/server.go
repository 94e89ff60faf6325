package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/sesami-core/internal/door"
	"github.com/nerrad567/sesami-core/internal/history"
	"github.com/nerrad567/sesami-core/internal/infrastructure/config"
	"github.com/nerrad567/sesami-core/internal/infrastructure/logging"
	"github.com/nerrad567/sesami-core/internal/protocol"
)

// Listener timeouts. The API serves small JSON snapshots to local
// clients, so fixed values cover every deployment.
const (
	readTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second

	// gracefulShutdownTimeout is the maximum time to wait for in-flight
	// requests to complete during shutdown.
	gracefulShutdownTimeout = 5 * time.Second
)

// DoorStatus provides the coordinator's live snapshot.
// Satisfied by *door.Coordinator.
type DoorStatus interface {
	Status() door.Status
}

// EventSource lists recent audit log entries.
// Satisfied by history.Repository implementations.
type EventSource interface {
	ListEvents(ctx context.Context, category string, limit int) ([]history.Event, error)
}

// Subscriber is the broker surface the live stream needs. The daemon
// main wraps the concrete client in the same adapter the coordinator
// uses, which keeps this package free of infrastructure imports.
type Subscriber interface {
	// Subscribe registers a handler for a topic.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config config.APIConfig

	// Device is the configured device identifier, the root of the
	// MQTT topics the stream relays.
	Device string

	Logger *logging.Logger

	// Door is the coordinator snapshot source. Optional; /door answers
	// 503 without it.
	Door DoorStatus

	// Events is the audit log. Optional; /events answers 503 without it.
	Events EventSource

	// MQTT feeds the live stream. Optional; the stream carries nothing
	// without it.
	MQTT Subscriber

	// QoS is the subscription QoS, from the mqtt config section.
	QoS byte

	Version string
}

// Server is the coordinator's HTTP status server.
//
// It manages the HTTP listener, routes, middleware, and the WebSocket
// hub. The server is created with New() and started with Start().
//
// Thread Safety: All exported methods are safe for concurrent use.
type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	door    DoorStatus
	events  EventSource
	mqtt    Subscriber
	topics  protocol.Topics
	qos     byte
	version string
	started time.Time

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc // stops the hub on Close()
}

// New creates the API server. It does not listen until Start() is called.
//
// Parameters:
//   - deps: Dependencies; Logger and a valid Device are required
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := protocol.ValidateDeviceID(deps.Device); err != nil {
		return nil, err
	}
	if deps.Config.Listen == "" {
		return nil, fmt.Errorf("listen address is required")
	}

	return &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		door:    deps.Door,
		events:  deps.Events,
		mqtt:    deps.MQTT,
		topics:  protocol.Topics{Device: deps.Device},
		qos:     deps.QoS,
		version: deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes to the device's MQTT topics
// for the live stream, and launches the listener in a background
// goroutine. Stop with Close().
//
// Parameters:
//   - ctx: Parent context for the hub lifetime
//
// Returns:
//   - error: If the stream subscriptions fail
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop the hub independently of
	// the parent.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.started = time.Now()

	s.hub = NewHub(s.cfg.WSSendBuffer, s.logger)
	go s.hub.Run(srvCtx)

	if err := s.subscribeBusUpdates(); err != nil {
		return fmt.Errorf("subscribing stream topics: %w", err)
	}

	s.server = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.buildRouter(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", "error", err)
		}
	}()

	s.logger.Info("api server listening",
		"address", s.cfg.Listen,
		"auth", s.cfg.AuthToken != "",
	)
	return nil
}

// Close gracefully shuts down the API server.
//
// In-flight requests get gracefulShutdownTimeout to complete, then
// remaining connections are closed.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Stop the hub; connected stream clients are disconnected.
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

// HealthCheck verifies the API server is running.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
