package api

import "net/http"

// handleDoor returns the coordinator's current snapshot: machine state,
// hold mode, actuator level, and the last lock report.
func (s *Server) handleDoor(w http.ResponseWriter, _ *http.Request) {
	if s.door == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "door status unavailable")
		return
	}

	writeJSON(w, http.StatusOK, s.door.Status())
}
