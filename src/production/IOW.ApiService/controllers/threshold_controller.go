package controllers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/iotwatch.server/src/production/IOW.ApiService/middleware"
	logger "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Logger"
	iowmodels "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Models"
)

type ThresholdService interface {
	GetCurrent(ctx context.Context) (*iowmodels.Threshold, error)
	Replace(ctx context.Context, value float64, note *string) (iowmodels.Threshold, error)
	Delete(ctx context.Context, id string) error
	History(ctx context.Context, limit int) ([]iowmodels.Threshold, error)
}

// ThresholdController handles threshold management requests
type ThresholdController struct {
	thresholds     ThresholdService
	logger         *logger.Logger
	authMiddleware *middleware.AuthMiddleware
}

func NewThresholdController(thresholds ThresholdService, logger *logger.Logger, authMiddleware *middleware.AuthMiddleware) *ThresholdController {
	return &ThresholdController{
		thresholds:     thresholds,
		logger:         logger,
		authMiddleware: authMiddleware,
	}
}

type replaceThresholdRequest struct {
	Value *float64 `json:"value" binding:"required"`
	Note  *string  `json:"note"`
}

// RegisterRoutes registers the threshold routes with Gin
func (c *ThresholdController) RegisterRoutes(router gin.IRouter) {
	thresholds := router.Group("/thresholds")
	{
		thresholds.GET("", c.ListThresholds)
		thresholds.GET("/latest", c.GetLatestThreshold)
		thresholds.PUT("", c.authMiddleware.Authenticate(), c.ReplaceThreshold)
		thresholds.DELETE("/:id", c.authMiddleware.Authenticate(), c.DeleteThreshold)
	}
}

func (c *ThresholdController) ListThresholds(ctx *gin.Context) {
	limit := iowmodels.MaxHistoryLimit
	if raw := ctx.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondError(ctx, c.logger, badRequest("limit", "must be a positive integer"))
			return
		}
		limit = parsed
	}

	thresholds, err := c.thresholds.History(ctx.Request.Context(), limit)
	if err != nil {
		respondError(ctx, c.logger, err)
		return
	}

	ctx.JSON(http.StatusOK, thresholds)
}

// GetLatestThreshold answers null when no threshold is configured
func (c *ThresholdController) GetLatestThreshold(ctx *gin.Context) {
	current, err := c.thresholds.GetCurrent(ctx.Request.Context())
	if err != nil {
		respondError(ctx, c.logger, err)
		return
	}

	ctx.JSON(http.StatusOK, current)
}

func (c *ThresholdController) ReplaceThreshold(ctx *gin.Context) {
	var req replaceThresholdRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		respondError(ctx, c.logger, bindError(err))
		return
	}

	threshold, err := c.thresholds.Replace(ctx.Request.Context(), *req.Value, req.Note)
	if err != nil {
		respondError(ctx, c.logger, err)
		return
	}

	c.logger.Logger.Info().
		Str("subject", middleware.GetSubjectFromGinContext(ctx)).
		Str("threshold_id", threshold.ID).
		Float64("value", threshold.Value).
		Msg("Threshold replaced")

	ctx.JSON(http.StatusCreated, threshold)
}

func (c *ThresholdController) DeleteThreshold(ctx *gin.Context) {
	id := ctx.Param("id")

	if err := c.thresholds.Delete(ctx.Request.Context(), id); err != nil {
		respondError(ctx, c.logger, err)
		return
	}

	c.logger.Logger.Info().
		Str("subject", middleware.GetSubjectFromGinContext(ctx)).
		Str("threshold_id", id).
		Msg("Threshold deleted")

	ctx.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Threshold with ID %s deleted.", id)})
}
