package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/marmos91/flock/pkg/controlplane/store"
	"github.com/marmos91/flock/pkg/engine"
)

// HealthCheckTimeout is the maximum time allowed for health check operations.
// This timeout applies to store health checks to prevent a slow database
// from blocking health probes indefinitely.
const HealthCheckTimeout = 5 * time.Second

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the server process running?
//   - Readiness probe: Is the database reachable and the engine up?
type HealthHandler struct {
	store     store.Store
	directory *engine.Directory
	startTime time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(cpStore store.Store, directory *engine.Directory) *HealthHandler {
	return &HealthHandler{
		store:     cpStore,
		directory: directory,
		startTime: time.Now(),
	}
}

// Liveness handles GET /health - simple liveness probe.
//
// Returns 200 OK if the server process is running. This endpoint is designed
// for Kubernetes liveness probes and should always succeed as long as the
// HTTP server is responsive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	writeJSON(w, http.StatusOK, healthyResponse(map[string]interface{}{
		"service":    "flock",
		"started_at": h.startTime.UTC().Format(time.RFC3339),
		"uptime":     uptime.Round(time.Second).String(),
		"uptime_sec": int64(uptime.Seconds()),
	}))
}

// Readiness handles GET /health/ready - readiness probe.
//
// Returns 200 OK if the store is reachable, 503 otherwise. The response
// includes the number of sessions currently running in the engine.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("store not initialized"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), HealthCheckTimeout)
	defer cancel()

	if err := h.store.Healthcheck(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("store unreachable: "+err.Error()))
		return
	}

	activeSessions := 0
	if h.directory != nil {
		activeSessions = h.directory.Len()
	}

	writeJSON(w, http.StatusOK, healthyResponse(map[string]interface{}{
		"active_sessions": activeSessions,
	}))
}
