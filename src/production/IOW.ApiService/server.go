package apiservice

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"gitlab.com/maplesense1/iotwatch.server/src/production/IOW.ApiService/controllers"
	"gitlab.com/maplesense1/iotwatch.server/src/production/IOW.ApiService/middleware"
	config "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Config"
	logger "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Logger"
	interfaces "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Repository/Interfaces"
)

// Dependencies are the services the HTTP layer is built on
type Dependencies struct {
	Thresholds controllers.ThresholdService
	Events     controllers.EventPager
	Snapshot   interfaces.LatestReadingCache
	Evaluator  controllers.ReadingEvaluator
	Health     controllers.HealthReporter
	Tokens     middleware.TokenValidator
}

// NewRouter builds the Gin engine with every route mounted
func NewRouter(cfg *config.Config, deps Dependencies, log *logger.Logger) *gin.Engine {
	apiLogger := log.WithComponent("api")

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(apiLogger))

	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
	}
	router.Use(cors.New(corsConfig))

	authMiddleware := middleware.NewAuthMiddleware(deps.Tokens, middleware.DefaultConfig())

	readingController := controllers.NewReadingController(deps.Events, deps.Snapshot, deps.Evaluator, apiLogger, authMiddleware)
	thresholdController := controllers.NewThresholdController(deps.Thresholds, apiLogger, authMiddleware)
	healthController := controllers.NewHealthController(deps.Health)

	api := router.Group("/api")
	readingController.RegisterRoutes(api)
	thresholdController.RegisterRoutes(api)
	healthController.RegisterRoutes(router)

	return router
}

// NewHealthRouter serves only the health endpoints, for a process without the API
func NewHealthRouter(checker controllers.HealthReporter, log *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(log.WithComponent("health")))
	controllers.NewHealthController(checker).RegisterRoutes(router)
	return router
}

// Server wraps http.Server with the configured timeouts
type Server struct {
	srv    *http.Server
	logger *logger.Logger
}

func NewServer(cfg *config.Config, handler http.Handler, log *logger.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         ":" + cfg.Server.Port,
			Handler:      handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
		logger: log.WithComponent("http"),
	}
}

// Run serves until ctx is done, then shuts down gracefully within shutdownTimeout
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Logger.Info().Str("addr", s.srv.Addr).Msg("HTTP server starting")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.ErrorWithError(err, "Server forced to shutdown")
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
