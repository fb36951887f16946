package controllers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/iotwatch.server/src/production/IOW.ApiService/middleware"
	logger "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Logger"
	iowmodels "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Models"
	interfaces "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Repository/Interfaces"
)

type EventPager interface {
	Page(ctx context.Context, pageNumber int) ([]iowmodels.TriggeredEvent, error)
}

type ReadingEvaluator interface {
	Evaluate(ctx context.Context, reading iowmodels.Reading) (*iowmodels.TriggeredEvent, error)
}

// ReadingController serves the triggered event history, the realtime
// snapshot and the authenticated HTTP ingress for readings.
type ReadingController struct {
	events         EventPager
	snapshot       interfaces.LatestReadingCache
	evaluator      ReadingEvaluator
	logger         *logger.Logger
	authMiddleware *middleware.AuthMiddleware
	now            func() time.Time
}

func NewReadingController(events EventPager, snapshot interfaces.LatestReadingCache, evaluator ReadingEvaluator, logger *logger.Logger, authMiddleware *middleware.AuthMiddleware) *ReadingController {
	return &ReadingController{
		events:         events,
		snapshot:       snapshot,
		evaluator:      evaluator,
		logger:         logger,
		authMiddleware: authMiddleware,
		now:            time.Now,
	}
}

type submitReadingRequest struct {
	Temperature *float64 `json:"temperature" binding:"required"`
}

// RegisterRoutes registers the reading routes with Gin
func (c *ReadingController) RegisterRoutes(router gin.IRouter) {
	readings := router.Group("/readings")
	{
		readings.GET("", c.ListReadings)
		readings.GET("/latest", c.GetLatest)
		readings.POST("", c.authMiddleware.Authenticate(), c.SubmitReading)
	}
}

// ListReadings returns one page of triggered events, newest first
func (c *ReadingController) ListReadings(ctx *gin.Context) {
	page := 1
	if raw := ctx.Query("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		switch {
		case errors.Is(err, strconv.ErrRange) && !strings.HasPrefix(raw, "-"):
			// too large for an int, so certainly past the last page
			parsed = math.MaxInt
		case err != nil || parsed < 1:
			respondError(ctx, c.logger, badRequest("page", "must be a positive integer"))
			return
		}
		page = parsed
	}

	events, err := c.events.Page(ctx.Request.Context(), page)
	if err != nil {
		respondError(ctx, c.logger, err)
		return
	}

	ctx.JSON(http.StatusOK, events)
}

func (c *ReadingController) GetLatest(ctx *gin.Context) {
	snapshot, err := c.snapshot.Get(ctx.Request.Context())
	if err != nil {
		respondError(ctx, c.logger, err)
		return
	}

	ctx.JSON(http.StatusOK, snapshot)
}

// SubmitReading feeds a reading through the same evaluation as MQTT telemetry
func (c *ReadingController) SubmitReading(ctx *gin.Context) {
	var req submitReadingRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		respondError(ctx, c.logger, bindError(err))
		return
	}

	reading := iowmodels.Reading{Value: *req.Temperature, ObservedAt: c.now().UTC()}
	if err := c.snapshot.SetReading(ctx.Request.Context(), reading); err != nil {
		c.logger.Logger.Warn().Err(err).Msg("Failed to cache submitted reading")
	}

	event, err := c.evaluator.Evaluate(ctx.Request.Context(), reading)
	if err != nil {
		respondError(ctx, c.logger, err)
		return
	}

	c.logger.Logger.Debug().
		Str("subject", middleware.GetSubjectFromGinContext(ctx)).
		Float64("temperature", reading.Value).
		Bool("triggered", event != nil).
		Msg("Reading submitted over HTTP")

	if event == nil {
		ctx.Status(http.StatusNoContent)
		return
	}
	ctx.JSON(http.StatusCreated, event)
}
