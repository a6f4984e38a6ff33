package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/raines/forensiq/internal/queue"
	"github.com/raines/forensiq/internal/repository"
	"github.com/raines/forensiq/internal/service"
)

// PipelineHandler handles dataset processing endpoints.
type PipelineHandler struct {
	pipelineService *service.PipelineService
	taskRepo        *repository.TaskRepository
}

// NewPipelineHandler creates a new pipeline handler.
// Parameters:
//   - pipelineService: pipeline submission service instance.
//   - taskRepo: persistent task ledger for per-hunt task listings.
// Returns:
//   - *PipelineHandler: initialized handler.
func NewPipelineHandler(pipelineService *service.PipelineService, taskRepo *repository.TaskRepository) *PipelineHandler {
	return &PipelineHandler{
		pipelineService: pipelineService,
		taskRepo:        taskRepo,
	}
}

// Process handles POST /api/v1/datasets/:id/process.
// Submits the full stage pipeline for the dataset. Answers 429 when
// backpressure deferred any stage; deferred stages keep their ledger rows
// and can be resubmitted.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *PipelineHandler) Process(c *gin.Context) {
	datasetID := c.Param("id")

	submission, err := h.pipelineService.Submit(c.Request.Context(), datasetID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDatasetNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Dataset not found: " + datasetID,
			})
		case errors.Is(err, queue.ErrQueueFull):
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "Job queue is full, some stages deferred",
				"submission": submission,
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to submit pipeline: " + err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusAccepted, submission)
}

// ProcessHunt handles POST /api/v1/hunts/:id/process.
// Submits the pipeline for every dataset in the hunt.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *PipelineHandler) ProcessHunt(c *gin.Context) {
	huntID := c.Param("id")

	submissions, err := h.pipelineService.SubmitHunt(c.Request.Context(), huntID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrHuntNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Hunt not found: " + huntID,
			})
		case errors.Is(err, queue.ErrQueueFull):
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Job queue is full, submission stopped",
				"submissions": submissions,
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to submit pipelines: " + err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"submissions": submissions,
		"total":       len(submissions),
	})
}

// Tasks handles GET /api/v1/hunts/:id/tasks.
// Returns the persistent ledger rows for a hunt, newest first.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *PipelineHandler) Tasks(c *gin.Context) {
	huntID := c.Param("id")

	tasks, err := h.taskRepo.ListByHunt(c.Request.Context(), huntID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list tasks: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"total": len(tasks),
	})
}
