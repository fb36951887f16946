package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	health "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Health"
)

type HealthReporter interface {
	GetHealthStatus(ctx context.Context) health.HealthStatus
}

// HealthController serves the liveness and readiness endpoints
type HealthController struct {
	checker HealthReporter
}

func NewHealthController(checker HealthReporter) *HealthController {
	return &HealthController{checker: checker}
}

// RegisterRoutes registers the health routes with Gin
func (c *HealthController) RegisterRoutes(router gin.IRouter) {
	router.GET("/health/live", c.HealthLive)
	router.GET("/health/ready", c.HealthReady)
}

func (c *HealthController) HealthLive(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (c *HealthController) HealthReady(ctx *gin.Context) {
	status := c.checker.GetHealthStatus(ctx.Request.Context())
	if !status.Ready() {
		ctx.JSON(http.StatusServiceUnavailable, status)
		return
	}
	ctx.JSON(http.StatusOK, status)
}
