package api

import (
	"encoding/json"
	"net/http"
)

// handleHealthz handles GET /healthz (no auth). Minimal response for
// liveness and readiness probes.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthzResponse{Status: "ok"})
}

// handleHealth handles GET /health with service and session statistics.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.sessions.Stats()

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:         "healthy",
		Service:        s.config.Service,
		Version:        s.config.Version,
		ActiveSessions: stats.ActiveSessions,
		MaxSessions:    stats.MaxSessions,
		UptimeSeconds:  int64(stats.UptimeSeconds),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, ErrorResponse{Error: message})
}
