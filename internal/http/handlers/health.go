package handlers

import (
	"context"
	"net/http"
	"time"
)

// Dependency states reported by /health.
const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
	statusDisabled  = "disabled"
)

const healthCheckTimeout = 3 * time.Second

// Pinger checks a dependency's connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status       string            `json:"status"`
	Timestamp    time.Time         `json:"timestamp"`
	Version      string            `json:"version"`
	Environment  string            `json:"environment"`
	Dependencies map[string]string `json:"dependencies"`
}

// HealthHandler reports whether the service can evaluate calls.
type HealthHandler struct {
	db          Pinger
	ready       func() bool
	version     string
	environment string
}

// NewHealthHandler returns a health handler. db may be nil when persistence
// is not configured; ready reports whether the template registry is loaded.
func NewHealthHandler(db Pinger, ready func() bool, version, environment string) *HealthHandler {
	return &HealthHandler{db: db, ready: ready, version: version, environment: environment}
}

// ServeHTTP answers 200 when every configured dependency is healthy and 503
// otherwise.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deps := map[string]string{"orchestrator": statusUnhealthy, "database": statusDisabled}
	healthy := true

	if h.ready != nil && h.ready() {
		deps["orchestrator"] = statusHealthy
	} else {
		healthy = false
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := h.db.Ping(ctx)
		cancel()
		if err != nil {
			deps["database"] = statusUnhealthy
			healthy = false
		} else {
			deps["database"] = statusHealthy
		}
	}

	resp := HealthResponse{
		Status:       statusHealthy,
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		Environment:  h.environment,
		Dependencies: deps,
	}
	status := http.StatusOK
	if !healthy {
		resp.Status = statusDegraded
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
