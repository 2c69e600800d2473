package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	asyncEnabled bool
	started      time.Time
}

func NewHealthHandler(asyncEnabled bool) *HealthHandler {
	return &HealthHandler{asyncEnabled: asyncEnabled, started: time.Now()}
}

// Check 健康检查
func (h *HealthHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"async":  h.asyncEnabled,
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}
