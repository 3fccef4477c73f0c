package handlers

import (
	"context"
	"net/http"
	"time"
)

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if h.Records != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		if err := h.Records.Ping(ctx); err == nil {
			dbStatus = "connected"
		}
		cancel()
	}

	status := "healthy"
	if dbStatus != "connected" {
		status = "unhealthy"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"database": dbStatus,
		"sessions": h.Sessions.Count(),
	})
}
