package handlers

import (
	"context"
	"net/http"
	"time"

	"bimhub-api/internal/database"
	"bimhub-api/pkg/memorydb"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	db    *database.DB
	redis *memorydb.RedisClient
}

func NewHealthHandler(db *database.DB, redis *memorydb.RedisClient) *HealthHandler {
	return &HealthHandler{db: db, redis: redis}
}

// Check handles GET /health with dependency pings.
func (h *HealthHandler) Check() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		deps := gin.H{}
		healthy := true

		if err := h.db.Ping(ctx); err != nil {
			deps["database"] = "unreachable"
			healthy = false
		} else {
			deps["database"] = "ok"
		}

		if h.redis != nil {
			if err := h.redis.Ping(ctx); err != nil {
				deps["redis"] = "unreachable"
			} else {
				deps["redis"] = "ok"
			}
		} else {
			deps["redis"] = "disabled"
		}

		status := http.StatusOK
		state := "ok"
		if !healthy {
			status = http.StatusServiceUnavailable
			state = "degraded"
		}
		c.JSON(status, gin.H{"status": state, "dependencies": deps})
	}
}
