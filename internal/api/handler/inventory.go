package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/raines/forensiq/internal/domain"
	"github.com/raines/forensiq/internal/queue"
	"github.com/raines/forensiq/internal/repository"
	"github.com/raines/forensiq/internal/service"
)

// InventoryHandler handles host inventory endpoints.
type InventoryHandler struct {
	inventoryService *service.InventoryService
	jobQueue         *queue.Queue
}

// NewInventoryHandler creates a new inventory handler.
// Parameters:
//   - inventoryService: inventory service instance.
//   - jobQueue: job queue for background build submission.
// Returns:
//   - *InventoryHandler: initialized handler.
func NewInventoryHandler(inventoryService *service.InventoryService, jobQueue *queue.Queue) *InventoryHandler {
	return &InventoryHandler{
		inventoryService: inventoryService,
		jobQueue:         jobQueue,
	}
}

// Get handles GET /api/v1/hunts/:id/inventory.
// Returns the ready snapshot, 202 while a build is in flight, or 404 when
// no inventory exists yet.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *InventoryHandler) Get(c *gin.Context) {
	huntID := c.Param("id")

	if snapshot, ok := h.inventoryService.Snapshot(huntID); ok {
		c.JSON(http.StatusOK, snapshot)
		return
	}

	if h.inventoryService.Status(huntID) == domain.InventoryStatusBuilding {
		c.JSON(http.StatusAccepted, gin.H{
			"status": domain.InventoryStatusBuilding,
		})
		return
	}

	c.JSON(http.StatusNotFound, gin.H{
		"error":  "No host inventory built for hunt " + huntID,
		"status": domain.InventoryStatusNone,
	})
}

// Build handles POST /api/v1/hunts/:id/inventory.
// Submits a background host-profile job for the hunt. An unknown hunt is a
// 404 before anything is queued.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *InventoryHandler) Build(c *gin.Context) {
	huntID := c.Param("id")

	if err := h.inventoryService.EnsureHunt(c.Request.Context(), huntID); err != nil {
		if errors.Is(err, repository.ErrHuntNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Hunt not found: " + huntID,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to resolve hunt: " + err.Error(),
		})
		return
	}

	if h.inventoryService.Status(huntID) == domain.InventoryStatusBuilding {
		c.JSON(http.StatusAccepted, gin.H{
			"status": domain.InventoryStatusBuilding,
		})
		return
	}

	job, err := h.jobQueue.SubmitStage(c.Request.Context(), domain.JobTypeHostProfile, huntID, "")
	if err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":  "Job queue is full, build deferred",
				"status": "deferred",
				"job_id": job.ID,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to submit build: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status": domain.InventoryStatusBuilding,
		"job_id": job.ID,
	})
}
