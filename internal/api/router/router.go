package router

import (
	"net/http"

	"github.com/cuongbtq/textjob/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	serviceName := deps.ServiceName
	if serviceName == "" {
		serviceName = "textjob-api-service"
	}

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": serviceName,
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	uploadHandler := handler.NewUploadHandler(deps)

	jobs := r.Group("/jobs")
	{
		// POST /jobs - Submit a job
		jobs.POST("", jobHandler.SubmitJob)

		// GET /jobs - List jobs with status filter and pagination
		jobs.GET("", jobHandler.ListJobs)

		// GET /jobs/:id - Get job record
		jobs.GET("/:id", jobHandler.GetJob)
	}

	// POST /files - Submission under its original resource name
	r.POST("/files", jobHandler.SubmitJob)

	// POST /get-presigned-url - Authorize one upload
	r.POST("/get-presigned-url", uploadHandler.GetUploadURL)

	// PUT /objects/:bucket/*key - Upload with a capability URL
	r.PUT("/objects/:bucket/*key", uploadHandler.PutObject)

	return r
}
