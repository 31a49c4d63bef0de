package api

import (
	"net/http"
	"time"

	"github.com/0xmhha/xchain-watcher/pkg/multichain"
)

// Health status values.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                              `json:"status"`
	Timestamp string                              `json:"timestamp"`
	Uptime    string                              `json:"uptime"`
	Jobs      map[string]*multichain.HealthStatus `json:"jobs"`
}

// handleHealth answers 200 while no job has stopped on a fault and 503
// otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	response := HealthResponse{
		Status:    HealthOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Jobs:      s.jobs.HealthCheck(),
	}

	status := http.StatusOK
	if !s.jobs.Healthy() {
		response.Status = HealthDegraded
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}
