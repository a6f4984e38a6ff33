package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/raines/forensiq/internal/domain"
	"github.com/raines/forensiq/internal/repository"
	"github.com/raines/forensiq/internal/service"
)

// ScanHandler handles keyword-scan endpoints.
type ScanHandler struct {
	scanService *service.ScanService
}

// NewScanHandler creates a new scan handler.
// Parameters:
//   - scanService: keyword scan service instance.
// Returns:
//   - *ScanHandler: initialized handler.
func NewScanHandler(scanService *service.ScanService) *ScanHandler {
	return &ScanHandler{
		scanService: scanService,
	}
}

// Scan handles POST /api/v1/hunts/:id/scan.
// Runs a synchronous keyword scan over the requested datasets and auxiliary
// sources, served from the per-dataset cache where possible.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ScanHandler) Scan(c *gin.Context) {
	huntID := c.Param("id")

	var req domain.ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	result, err := h.scanService.Scan(c.Request.Context(), huntID, req, nil)
	if err != nil {
		if errors.Is(err, repository.ErrHuntNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Hunt not found: " + huntID,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Scan failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}
