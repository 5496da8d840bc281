package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"revscore/internal/service"
)

type ScoreHandler interface {
	GetScores(c *gin.Context)
}

type scoreHandler struct {
	scores *service.ScoreService
	logger *zap.Logger
}

func NewScoreHandler(scores *service.ScoreService, logger *zap.Logger) ScoreHandler {
	return &scoreHandler{scores: scores, logger: logger}
}

var errInvalidPair = errors.New("invalid child:parent pair")

// GetScores handles GET /api/v1/scores?revisions=1,2,3&models=damaging
// Optional parents=child:parent,... enables superseded-score cleanup.
// The response always carries a continuation flag; true means some requested
// revisions were deferred to background fetches.
func (h *scoreHandler) GetScores(c *gin.Context) {
	revisionIDs, err := parseIDList(c.Query("revisions"))
	if err != nil || len(revisionIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "revisions must be a comma-separated list of ids"})
		return
	}

	var modelNames []string
	if raw := c.Query("models"); raw != "" {
		modelNames = strings.Split(raw, ",")
	}

	parents, err := parseParents(c.Query("parents"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "parents must be a comma-separated list of child:parent pairs"})
		return
	}

	results, continuation, err := h.scores.GetScores(c.Request.Context(), revisionIDs, modelNames, parents)
	if err != nil {
		h.logger.Error("Failed to get scores", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get scores"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"scores":       results,
		"continuation": continuation,
	})
}

func parseIDList(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseParents(raw string) (map[int64]int64, error) {
	if raw == "" {
		return nil, nil
	}
	parents := make(map[int64]int64)
	for _, pair := range strings.Split(raw, ",") {
		child, parent, found := strings.Cut(pair, ":")
		if !found {
			return nil, errInvalidPair
		}
		childID, err := strconv.ParseInt(strings.TrimSpace(child), 10, 64)
		if err != nil {
			return nil, err
		}
		parentID, err := strconv.ParseInt(strings.TrimSpace(parent), 10, 64)
		if err != nil {
			return nil, err
		}
		parents[childID] = parentID
	}
	return parents, nil
}
