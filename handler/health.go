package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

// HealthHandler reports service and Redis health
type HealthHandler struct {
	redis *redis.Client
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(rdb *redis.Client) *HealthHandler {
	return &HealthHandler{redis: rdb}
}

// HealthCheck handles GET /health
// @Summary Health check
// @Produce json
// @Success 200 {object} map[string]string "Service healthy"
// @Failure 503 {object} ErrorResponse "Redis unreachable"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.redis.Ping(ctx).Err(); err != nil {
		SendJSONError(w, http.StatusServiceUnavailable, err, "Redis unavailable")
		return
	}

	SendJSONSuccess(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
