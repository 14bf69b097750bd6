package server

import (
	"net/http"
	"time"

	"github.com/devrev/voicelink/internal/node"
)

// LivenessResponse is the body of /health/live.
type LivenessResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessResponse is the body of /health/ready. Checks maps node ids to
// their phase.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Connected int               `json:"connected"`
	Checks    map[string]string `json:"checks,omitempty"`
}

func (s *Server) livenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{Status: "healthy", Timestamp: time.Now().UTC()})
}

// readinessHandler returns 200 while at least one node is connected.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	resp := ReadinessResponse{Checks: make(map[string]string)}
	for _, snap := range s.backend.Nodes() {
		resp.Checks[snap.ID] = snap.PhaseName
		if snap.Phase == node.PhaseConnected {
			resp.Connected++
		}
	}

	if s.backend.Ready() {
		resp.Status = "ready"
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Status = "not_ready"
	writeJSON(w, http.StatusServiceUnavailable, resp)
}
