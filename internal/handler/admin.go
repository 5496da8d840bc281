package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"revscore/internal/service"
)

type AdminHandler interface {
	Purge(c *gin.Context)
	ContentPurged(c *gin.Context)
}

type adminHandler struct {
	scores *service.ScoreService
	logger *zap.Logger
}

func NewAdminHandler(scores *service.ScoreService, logger *zap.Logger) AdminHandler {
	return &adminHandler{scores: scores, logger: logger}
}

type purgeRequest struct {
	RevisionIDs []int64 `json:"revision_ids" binding:"required"`
}

// Purge handles POST /api/v1/admin/purge. Records of keep-forever models
// survive.
func (h *adminHandler) Purge(c *gin.Context) {
	var req purgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "revision_ids is required"})
		return
	}

	if err := h.scores.Purge(c.Request.Context(), req.RevisionIDs); err != nil {
		h.logger.Error("Purge failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "purge failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": len(req.RevisionIDs)})
}

// ContentPurged handles POST /api/v1/admin/content-purged: the cascading
// purge trigger fired when the underlying content is deleted. Nothing
// survives, keep-forever models included.
func (h *adminHandler) ContentPurged(c *gin.Context) {
	var req purgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "revision_ids is required"})
		return
	}

	if err := h.scores.OnContentPurged(c.Request.Context(), req.RevisionIDs); err != nil {
		h.logger.Error("Content purge cascade failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "purge failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": len(req.RevisionIDs)})
}
