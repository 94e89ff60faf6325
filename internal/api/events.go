package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/nerrad567/sesami-core/internal/history"
)

// Limit bounds match the repository's own clamps, so a request that
// passes validation here returns exactly what it asked for.
const (
	defaultEventsLimit = 50
	maxEventsLimit     = 200
)

// handleEvents returns recent audit log entries, newest first.
// Query parameters: category (optional filter), limit (default 50, max 200).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "event log unavailable")
		return
	}

	category := r.URL.Query().Get("category")
	if err := validateCategory(category); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	limit, err := parseEventsLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	events, err := s.events.ListEvents(r.Context(), category, limit)
	if err != nil {
		s.logger.Error("event query failed", "error", err)
		writeInternalError(w, "failed to load events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// parseEventsLimit parses the limit query parameter with bounds enforcement.
func parseEventsLimit(raw string) (int, error) {
	if raw == "" {
		return defaultEventsLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxEventsLimit {
		return 0, fmt.Errorf("limit exceeds maximum")
	}

	return limit, nil
}

// validateCategory rejects filters that no stored event can carry.
func validateCategory(category string) error {
	switch category {
	case "", history.CategoryLockState, history.CategoryDoorState,
		history.CategoryCommand, history.CategoryButton:
		return nil
	}
	return fmt.Errorf("unknown category %q", category)
}
