package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/raines/forensiq/internal/repository"
	"github.com/raines/forensiq/internal/service"
)

// ProgressHandler handles hunt progress endpoints.
type ProgressHandler struct {
	progressService *service.ProgressService
}

// NewProgressHandler creates a new progress handler.
// Parameters:
//   - progressService: progress aggregation service instance.
// Returns:
//   - *ProgressHandler: initialized handler.
func NewProgressHandler(progressService *service.ProgressService) *ProgressHandler {
	return &ProgressHandler{
		progressService: progressService,
	}
}

// Get handles GET /api/v1/hunts/:id/progress.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ProgressHandler) Get(c *gin.Context) {
	huntID := c.Param("id")

	progress, err := h.progressService.HuntProgress(c.Request.Context(), huntID)
	if err != nil {
		if errors.Is(err, repository.ErrHuntNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Hunt not found: " + huntID,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to compute progress: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, progress)
}
