package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin.Engine for the Broker Front-End. Read endpoints
// (getById/getAll/getHistory/getPhases) need neither auth nor idempotency;
// every write endpoint gets both.
func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLoggingMiddleware(deps.Logger, deps.Metrics))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST"},
		AllowHeaders:    []string{"Content-Type", "X-API-Key", "Idempotency-Key"},
	}))

	r.GET("/healthz", deps.handleHealthz)
	r.GET("/readyz", deps.handleReadyz)

	write := r.Group("/")
	write.Use(drainMiddleware(deps.Drain))
	write.Use(authMiddleware(deps.APIKey))
	write.Use(idempotencyMiddleware(deps.Idempotency, deps.IdempotencyTTL, deps.Metrics))

	write.POST("/tasks/create", deps.handleCreateTask)
	write.POST("/tasks/updateProgress", deps.handleUpdateTaskProgress)
	write.POST("/tasks/appendEvent", deps.handleAppendTaskEvent)
	write.POST("/tasks/complete", deps.handleCompleteTask)
	write.POST("/tasks/fail", deps.handleFailTask)
	write.POST("/tasks/cancel", deps.handleCancelTask)
	write.POST("/tasks/delete", deps.handleDeleteTask)
	write.POST("/tasks/deleteAll", deps.handleDeleteAllTasks)

	write.POST("/workflows/create", deps.handleCreateWorkflow)
	write.POST("/workflows/updatePhaseProgress", deps.handleUpdatePhaseProgress)
	write.POST("/workflows/completePhase", deps.handleCompletePhase)
	write.POST("/workflows/complete", deps.handleCompleteWorkflow)
	write.POST("/workflows/fail", deps.handleFailWorkflow)
	write.POST("/workflows/cancel", deps.handleCancelWorkflow)
	write.POST("/workflows/delete", deps.handleDeleteWorkflow)
	write.POST("/workflows/deleteAll", deps.handleDeleteAllWorkflows)

	r.POST("/tasks/getById", deps.handleGetTask)
	r.POST("/tasks/getAll", deps.handleListTasks)
	r.POST("/tasks/getHistory", deps.handleTaskHistory)

	r.POST("/workflows/getById", deps.handleGetWorkflow)
	r.POST("/workflows/getAll", deps.handleListWorkflows)
	r.POST("/workflows/getHistory", deps.handleWorkflowHistory)
	r.POST("/workflows/getPhases", deps.handleGetPhases)

	r.GET("/ws/:kind/:id", deps.handleSubscribe)

	return r
}
