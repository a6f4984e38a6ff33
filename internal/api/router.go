package api

import (
	"github.com/gin-gonic/gin"
	"github.com/raines/forensiq/internal/api/handler"
	"github.com/raines/forensiq/internal/api/middleware"
	"github.com/raines/forensiq/internal/logger"
	"github.com/raines/forensiq/internal/queue"
	"github.com/raines/forensiq/internal/repository"
	"github.com/raines/forensiq/internal/service"
)

// Services bundles everything the router needs.
type Services struct {
	Scan      *service.ScanService
	Inventory *service.InventoryService
	Progress  *service.ProgressService
	Pipeline  *service.PipelineService
	Queue     *queue.Queue
	Tasks     *repository.TaskRepository
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	svcs Services,
	log *logger.Logger,
	mode string,
	cors middleware.CORSConfig,
) *gin.Engine {
	// Set Gin mode
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(cors))

	// Create handlers
	healthHandler := handler.NewHealthHandler()
	scanHandler := handler.NewScanHandler(svcs.Scan)
	inventoryHandler := handler.NewInventoryHandler(svcs.Inventory, svcs.Queue)
	progressHandler := handler.NewProgressHandler(svcs.Progress)
	jobsHandler := handler.NewJobsHandler(svcs.Queue)
	pipelineHandler := handler.NewPipelineHandler(svcs.Pipeline, svcs.Tasks)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Hunts
		v1.POST("/hunts/:id/scan", scanHandler.Scan)
		v1.GET("/hunts/:id/inventory", inventoryHandler.Get)
		v1.POST("/hunts/:id/inventory", inventoryHandler.Build)
		v1.GET("/hunts/:id/progress", progressHandler.Get)
		v1.GET("/hunts/:id/tasks", pipelineHandler.Tasks)
		v1.POST("/hunts/:id/process", pipelineHandler.ProcessHunt)

		// Datasets
		v1.POST("/datasets/:id/process", pipelineHandler.Process)

		// Jobs
		v1.GET("/jobs", jobsHandler.List)
		v1.GET("/jobs/:id", jobsHandler.Get)
		v1.POST("/jobs/:id/cancel", jobsHandler.Cancel)
	}

	return r
}
