package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// buildRouter assembles the read-only route tree. Every route is a GET;
// the API observes the door, it never commands it.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.instrument)
	r.Use(s.recoverPanics)
	if s.cfg.AuthToken != "" {
		r.Use(s.requireToken)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/door", s.handleDoor)
		r.Get("/events", s.handleEvents)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports liveness plus what the daemon can currently see.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	clients := 0
	if s.hub != nil {
		clients = s.hub.ClientCount()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"mqtt_connected": s.mqtt != nil && s.mqtt.IsConnected(),
		"ws_clients":     clients,
	})
}
