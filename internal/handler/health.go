package handler

import (
	"net/http"
)

// Checker reports whether a dependency is usable.
type Checker func() (ok bool, reason string)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	checks []Checker
}

// NewHealthHandler creates a new health handler. Ready fails on the first
// failing check.
func NewHealthHandler(checks ...Checker) *HealthHandler {
	return &HealthHandler{
		checks: checks,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	for _, check := range h.checks {
		if ok, reason := check(); !ok {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": reason,
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
