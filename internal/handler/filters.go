package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"revscore/internal/models"
	"revscore/internal/query"
	"revscore/internal/registry"
	"revscore/internal/threshold"
)

type FilterHandler interface {
	GetThresholds(c *gin.Context)
	GetFilterPredicate(c *gin.Context)
	ListModels(c *gin.Context)
}

type filterHandler struct {
	thresholds *threshold.Compiler
	queries    *query.Compiler
	registry   *registry.Registry
	logger     *zap.Logger
}

func NewFilterHandler(thresholds *threshold.Compiler, queries *query.Compiler, reg *registry.Registry, logger *zap.Logger) FilterHandler {
	return &filterHandler{thresholds: thresholds, queries: queries, registry: reg, logger: logger}
}

// GetThresholds handles GET /api/v1/thresholds/:model
func (h *filterHandler) GetThresholds(c *gin.Context) {
	modelName := c.Param("model")

	bounds, err := h.thresholds.Thresholds(c.Request.Context(), modelName)
	if err != nil {
		h.respondError(c, modelName, err, "failed to compile thresholds")
		return
	}

	c.JSON(http.StatusOK, gin.H{"model": modelName, "levels": bounds})
}

// GetFilterPredicate handles GET /api/v1/filters/:model?levels=likelybad,verylikelybad
// A null filter in the response means the selection compiled to "no filter".
func (h *filterHandler) GetFilterPredicate(c *gin.Context) {
	modelName := c.Param("model")

	var selected []string
	if raw := c.Query("levels"); raw != "" {
		selected = strings.Split(raw, ",")
	}

	predicate, err := h.queries.FilterPredicate(c.Request.Context(), modelName, selected)
	if err != nil {
		h.respondError(c, modelName, err, "failed to compile filter predicate")
		return
	}

	if predicate == nil {
		c.JSON(http.StatusOK, gin.H{"model": modelName, "filter": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"model": modelName,
		"filter": gin.H{
			"sql":  predicate.SQL,
			"args": predicate.Args,
		},
	})
}

// ListModels handles GET /api/v1/models
func (h *filterHandler) ListModels(c *gin.Context) {
	known, err := h.registry.ListModels(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list models", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list models"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": known})
}

func (h *filterHandler) respondError(c *gin.Context, modelName string, err error, msg string) {
	if errors.Is(err, models.ErrModelNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown model " + modelName})
		return
	}
	var cfgErr *models.ConfigError
	if errors.As(err, &cfgErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": cfgErr.Error()})
		return
	}
	h.logger.Error(msg, zap.String("model", modelName), zap.Error(err))
	c.JSON(http.StatusBadGateway, gin.H{"error": msg})
}
