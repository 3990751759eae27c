package router

import (
	"net/http"

	"capway/app/handler"
	"capway/app/middleware"

	"github.com/gin-gonic/gin"
)

// Router Router
type Router struct {
	invokeHandler *handler.InvokeHandler
	workerHandler *handler.WorkerHandler
	sloHandler    *handler.SLOHandler
	auditHandler  *handler.AuditHandler // nil when no audit store is configured
	metricsH      http.Handler
}

// NewRouter creates a new Router
func NewRouter(invokeHandler *handler.InvokeHandler, workerHandler *handler.WorkerHandler, sloHandler *handler.SLOHandler, auditHandler *handler.AuditHandler, metricsHandler http.Handler) *Router {
	return &Router{
		invokeHandler: invokeHandler,
		workerHandler: workerHandler,
		sloHandler:    sloHandler,
		auditHandler:  auditHandler,
		metricsH:      metricsHandler,
	}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Logger())

	v1 := engine.Group("/v1")
	{
		// Invocation interface; requires a verified caller identity.
		invoke := v1.Group("")
		invoke.Use(middleware.Identity())
		invoke.POST("/invoke", r.invokeHandler.Invoke)

		// Worker lifecycle interface
		workers := v1.Group("/workers")
		{
			workers.POST("/register", r.workerHandler.Register)
			workers.POST("/:worker_id/heartbeat", r.workerHandler.Heartbeat)
			workers.GET("", r.workerHandler.GetWorkerList)
			workers.GET("/:worker_id", r.workerHandler.GetWorkerByID)
		}

		// Operations interface
		v1.GET("/slo", r.sloHandler.Status)
		if r.auditHandler != nil {
			v1.GET("/audit/denials", r.auditHandler.RecentDenials)
		}
	}

	if r.metricsH != nil {
		engine.GET("/metrics", gin.WrapH(r.metricsH))
	}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
