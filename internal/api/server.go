// Package api is the HTTP control surface: queue status and control,
// strategy configuration, market browsing, and a WebSocket status stream
// for the dashboard.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"polymarket-engine/internal/config"
)

// Server runs the control surface.
type Server struct {
	cfg      config.ControlConfig
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires the handlers and routes.
func NewServer(cfg config.ControlConfig, deps Deps, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(deps, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("GET /queues/status", handlers.HandleQueuesStatus)
	mux.HandleFunc("POST /queues/control", handlers.HandleQueuesControl)
	mux.HandleFunc("POST /queues/price", handlers.HandlePriceControl)
	mux.HandleFunc("GET /strategies/config", handlers.HandleGetStrategiesConfig)
	mux.HandleFunc("POST /strategies/config", handlers.HandleUpdateStrategiesConfig)
	mux.HandleFunc("GET /strategies/status", handlers.HandleStrategiesStatus)
	mux.HandleFunc("GET /markets", handlers.HandleMarkets)
	mux.HandleFunc("GET /requests", handlers.HandleRequests)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// SetContext hands the engine lifetime context to the handlers so control
// actions can restart stages under it.
func (s *Server) SetContext(ctx context.Context) {
	s.handlers.deps.Ctx = ctx
}

// Start runs the hub and serves until Stop. Blocks.
func (s *Server) Start() error {
	go s.hub.Run()
	s.logger.Info("control surface starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control server: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	s.logger.Info("stopping control surface")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Broadcast pushes a status event to every connected WebSocket client.
func (s *Server) Broadcast(eventType string, data any) {
	s.hub.BroadcastEvent(Event{Type: eventType, Timestamp: time.Now(), Data: data})
}

// BroadcastStatus pushes a full queues-status snapshot to the stream.
func (s *Server) BroadcastStatus() {
	s.Broadcast("status", s.handlers.queuesStatus())
}
