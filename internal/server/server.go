package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"revscore/internal/config"
	"revscore/internal/handler"
	"revscore/internal/metrics"
	"revscore/internal/middleware"
	"revscore/internal/query"
	"revscore/internal/registry"
	"revscore/internal/service"
	"revscore/internal/threshold"
)

type Server struct {
	router *gin.Engine
	http   *http.Server
	logger *zap.Logger
}

func NewServer(
	cfg *config.Config,
	scores *service.ScoreService,
	thresholds *threshold.Compiler,
	queries *query.Compiler,
	reg *registry.Registry,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Server {
	router := gin.Default()

	s := &Server{
		router: router,
		logger: logger,
	}

	scoreHandler := handler.NewScoreHandler(scores, logger)
	filterHandler := handler.NewFilterHandler(thresholds, queries, reg, logger)
	adminHandler := handler.NewAdminHandler(scores, logger)

	// Ping route for health check
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	{
		api.GET("/scores", scoreHandler.GetScores)
		api.GET("/thresholds/:model", filterHandler.GetThresholds)
		api.GET("/filters/:model", filterHandler.GetFilterPredicate)
		api.GET("/models", filterHandler.ListModels)
	}

	admin := router.Group("/api/v1/admin")
	admin.Use(middleware.AuthMiddleware([]byte(cfg.Auth.JWTSecret), logger))
	{
		admin.POST("/purge", adminHandler.Purge)
		admin.POST("/content-purged", adminHandler.ContentPurged)
	}

	s.http = &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}
	return s
}

func (s *Server) Run() error {
	s.logger.Info("Server starting", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
