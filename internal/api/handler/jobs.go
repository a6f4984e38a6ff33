package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/raines/forensiq/internal/queue"
)

// JobsHandler handles job diagnostics endpoints.
type JobsHandler struct {
	jobQueue *queue.Queue
}

// NewJobsHandler creates a new jobs handler.
// Parameters:
//   - jobQueue: job queue instance.
// Returns:
//   - *JobsHandler: initialized handler.
func NewJobsHandler(jobQueue *queue.Queue) *JobsHandler {
	return &JobsHandler{
		jobQueue: jobQueue,
	}
}

// List handles GET /api/v1/jobs.
// Returns in-memory job snapshots, newest first. The optional limit query
// parameter caps the result (default 100, 0 returns all).
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobsHandler) List(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid limit: " + raw,
			})
			return
		}
		limit = parsed
	}

	jobs := h.jobQueue.ListJobs(limit)
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

// Get handles GET /api/v1/jobs/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobsHandler) Get(c *gin.Context) {
	jobID := c.Param("id")

	view, ok := h.jobQueue.Get(jobID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found: " + jobID,
		})
		return
	}

	c.JSON(http.StatusOK, view)
}

// Cancel handles POST /api/v1/jobs/:id/cancel.
// Sets the cooperative cancellation flag; the job stops at its next batch
// boundary.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobsHandler) Cancel(c *gin.Context) {
	jobID := c.Param("id")

	if err := h.jobQueue.Cancel(jobID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found: " + jobID,
		})
		return
	}

	view, _ := h.jobQueue.Get(jobID)
	c.JSON(http.StatusAccepted, gin.H{
		"job_id": jobID,
		"status": view.Status,
	})
}
