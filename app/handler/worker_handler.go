package handler

import (
	"errors"
	"net/http"

	"capway/internal/cperr"
	"capway/internal/model"
	"capway/internal/registry"
	"capway/pkg/logger"

	"github.com/gin-gonic/gin"
)

// WorkerHandler handles worker registration and liveness
type WorkerHandler struct {
	registry *registry.Registry
}

// NewWorkerHandler creates a new worker handler
func NewWorkerHandler(reg *registry.Registry) *WorkerHandler {
	return &WorkerHandler{registry: reg}
}

// Register registers a worker and its advertised capabilities
// @Summary Register worker
// @Description Idempotent: re-registering replaces the capability set
// @Tags worker
// @Accept json
// @Produce json
// @Router /v1/workers/register [post]
func (h *WorkerHandler) Register(c *gin.Context) {
	var req model.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, desc := range req.Capabilities {
		if desc.Verb == "" || desc.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "every capability needs a verb and a name"})
			return
		}
	}

	h.registry.Register(req.WorkerID, req.Address, req.Capabilities)
	logger.InfoCtx(c.Request.Context(), "worker %s registered with %d capabilities", req.WorkerID, len(req.Capabilities))

	c.JSON(http.StatusOK, gin.H{"status": "registered"})
}

// Heartbeat refreshes a worker's liveness
// @Summary Worker heartbeat
// @Description Worker sends periodic heartbeat with its current load score
// @Tags worker
// @Accept json
// @Produce json
// @Param worker_id path string true "Worker ID"
// @Router /v1/workers/{worker_id}/heartbeat [post]
func (h *WorkerHandler) Heartbeat(c *gin.Context) {
	workerID := c.Param("worker_id")
	if workerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "worker_id required in URL path"})
		return
	}

	var req model.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.registry.Heartbeat(workerID, req.LoadScore); err != nil {
		if errors.Is(err, registry.ErrUnknownWorker) {
			// The worker must re-register; a heartbeat never resurrects.
			c.JSON(http.StatusNotFound, gin.H{
				"error": gin.H{
					"kind":    string(cperr.KindUnknownWorker),
					"message": "unknown worker " + workerID + ", re-register",
				},
			})
			return
		}
		logger.ErrorCtx(c.Request.Context(), "failed to handle heartbeat: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetWorkerList lists all registered workers
func (h *WorkerHandler) GetWorkerList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workers": h.registry.ListWorkers()})
}

// GetWorkerByID returns one worker
func (h *WorkerHandler) GetWorkerByID(c *gin.Context) {
	worker := h.registry.Get(c.Param("worker_id"))
	if worker == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "worker not found"})
		return
	}
	c.JSON(http.StatusOK, worker)
}
